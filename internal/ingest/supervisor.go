package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/wbh-rtls/rtls-core/internal/store"
)

const (
	scanQueueCap   = 10000
	statusQueueCap = 2000
	eventQueueCap  = 2000

	scanDrainMax   = 100
	statusDrainMax = 50
	eventDrainMax  = 50
)

// SupervisorConfig bundles the tunables the supervisor (C4) needs.
type SupervisorConfig struct {
	BrokerHost string
	BrokerPort int
	ClientID   string
	QoS        byte

	TopicScan   string
	TopicStatus string
	TopicEvents string

	BatchMaxSize int
	BatchMaxAge  time.Duration
	IDsRefresh   time.Duration
	TSPolicy     TSPolicy
}

// Supervisor owns the bus client, the three bounded queues and the batch
// writer that drains them (C4, spec §4.4).
type Supervisor struct {
	cfg     SupervisorConfig
	store   *store.Store
	decoder *Decoder
	known   *KnownIDs
	writer  *BatchWriter

	scanQ   chan ScanMessage
	statusQ chan StatusMessage
	eventQ  chan EventMessage

	client pahomqtt.Client
}

// NewSupervisor wires a Supervisor against a live store.
func NewSupervisor(cfg SupervisorConfig, s *store.Store) *Supervisor {
	known := NewKnownIDs(s, cfg.IDsRefresh)
	return &Supervisor{
		cfg:     cfg,
		store:   s,
		decoder: NewDecoder(cfg.TSPolicy),
		known:   known,
		writer:  NewBatchWriter(s, known, cfg.BatchMaxSize, cfg.BatchMaxAge),
		scanQ:   make(chan ScanMessage, scanQueueCap),
		statusQ: make(chan StatusMessage, statusQueueCap),
		eventQ:  make(chan EventMessage, eventQueueCap),
	}
}

const (
	statusTopic  = "rtls/ingestor/status"
	statusOnline = `{"status":"online","client_id":%q}`
	statusOffline = `{"status":"offline","client_id":%q}`
)

// Connect dials the bus, registers the last-will/retained status topic and
// subscribes at the configured QoS to all three topic families (spec §4.4).
func (sv *Supervisor) Connect() error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", sv.cfg.BrokerHost, sv.cfg.BrokerPort)).
		SetClientID(sv.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetWill(statusTopic, fmt.Sprintf(statusOffline, sv.cfg.ClientID), sv.cfg.QoS, true).
		SetOnConnectHandler(sv.onConnect).
		SetConnectionLostHandler(sv.onConnectionLost)

	sv.client = pahomqtt.NewClient(opts)
	tok := sv.client.Connect()
	tok.Wait()
	return tok.Error()
}

func (sv *Supervisor) onConnect(c pahomqtt.Client) {
	slog.Info("connected to mqtt broker", "host", sv.cfg.BrokerHost, "port", sv.cfg.BrokerPort)
	c.Publish(statusTopic, sv.cfg.QoS, true, fmt.Sprintf(statusOnline, sv.cfg.ClientID))

	subs := map[string]byte{
		sv.cfg.TopicScan:   sv.cfg.QoS,
		sv.cfg.TopicStatus: sv.cfg.QoS,
		sv.cfg.TopicEvents: sv.cfg.QoS,
	}
	if tok := c.SubscribeMultiple(subs, sv.onMessage); tok.Wait() && tok.Error() != nil {
		slog.Error("mqtt subscribe failed", "err", tok.Error())
	}
}

func (sv *Supervisor) onConnectionLost(_ pahomqtt.Client, err error) {
	slog.Warn("mqtt connection lost, auto-reconnect in progress", "err", err)
}

func (sv *Supervisor) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	topic := msg.Topic()
	payload := msg.Payload()

	switch ClassifyTopic(topic, sv.cfg.TopicEvents) {
	case TopicScan:
		m, err := sv.decoder.DecodeScan(payload)
		if err != nil {
			slog.Warn("dropping invalid scan payload", "topic", topic, "err", err)
			return
		}
		select {
		case sv.scanQ <- m:
		default:
			slog.Warn("scan queue full, dropping message", "topic", topic)
		}
	case TopicStatus:
		m, err := sv.decoder.DecodeStatus(payload)
		if err != nil {
			slog.Warn("dropping invalid status payload", "topic", topic, "err", err)
			return
		}
		select {
		case sv.statusQ <- m:
		default:
			slog.Warn("status queue full, dropping message", "topic", topic)
		}
	case TopicEvent:
		m, err := sv.decoder.DecodeEvent(payload)
		if err != nil {
			slog.Warn("dropping invalid event payload", "topic", topic, "err", err)
			return
		}
		select {
		case sv.eventQ <- m:
		default:
			slog.Warn("event queue full, dropping message", "topic", topic)
		}
	default:
		slog.Debug("ignored topic", "topic", topic)
	}
}

// Run loads the initial known-ID snapshot and drives the main batching
// loop until SIGINT/SIGTERM (spec §4.4): draw from the scan queue with a
// bounded wait equal to the remaining age budget, opportunistically drain
// the other two queues, then flush if a threshold fired.
func (sv *Supervisor) Run(ctx context.Context) error {
	if err := sv.known.Load(ctx); err != nil {
		return fmt.Errorf("initial known-id load: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lastFlush := time.Now()
	for {
		select {
		case <-sigCtx.Done():
			slog.Info("shutdown signal received, flushing remaining buffers")
			sv.writer.Flush(context.Background())
			sv.disconnect()
			return nil
		default:
		}

		remaining := sv.cfg.BatchMaxAge - time.Since(lastFlush)
		if remaining < 0 {
			remaining = 0
		}
		timer := time.NewTimer(remaining)

		select {
		case <-sigCtx.Done():
			timer.Stop()
			slog.Info("shutdown signal received, flushing remaining buffers")
			sv.writer.Flush(context.Background())
			sv.disconnect()
			return nil
		case m := <-sv.scanQ:
			timer.Stop()
			sv.writer.AddScan(m)
		case <-timer.C:
		}

		sv.drainN(scanDrainMax, statusDrainMax, eventDrainMax)

		if sv.writer.ShouldFlush() && !sv.writer.Empty() {
			sv.writer.Flush(ctx)
			lastFlush = time.Now()
		} else if time.Since(lastFlush) >= sv.cfg.BatchMaxAge {
			lastFlush = time.Now()
		}
	}
}

// drainN opportunistically drains up to the given bound from each
// secondary queue without blocking.
func (sv *Supervisor) drainN(scanMax, statusMax, eventMax int) {
scanDrain:
	for i := 0; i < scanMax; i++ {
		select {
		case m := <-sv.scanQ:
			sv.writer.AddScan(m)
		default:
			break scanDrain
		}
	}
statusDrain:
	for i := 0; i < statusMax; i++ {
		select {
		case m := <-sv.statusQ:
			sv.writer.AddStatus(m)
		default:
			break statusDrain
		}
	}
eventDrain:
	for i := 0; i < eventMax; i++ {
		select {
		case m := <-sv.eventQ:
			sv.writer.AddEvent(m)
		default:
			break eventDrain
		}
	}
}

func (sv *Supervisor) disconnect() {
	if sv.client != nil && sv.client.IsConnected() {
		sv.client.Disconnect(250)
	}
}
