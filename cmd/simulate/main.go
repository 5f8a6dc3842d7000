// Command simulate publishes synthetic anchor scan/status traffic to an
// MQTT broker, for exercising the ingestor and locator without real
// hardware. It plays the same role as the upstream GPS device simulator but
// emits RTLS scan and status payloads instead; it publishes no events.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// anchorLayout is a small fixed floor plan of anchor ids and (x, y)
// positions. The published RSSI does not depend on these coordinates (see
// publishScan).
var anchorLayout = []struct {
	ID   string
	X, Y float64
}{
	{"anchor-01", 0, 0},
	{"anchor-02", 10, 0},
	{"anchor-03", 0, 10},
	{"anchor-04", 10, 10},
}

type scanPayload struct {
	TS       int64   `json:"ts"`
	AnchorID string  `json:"anchor_id"`
	UID      string  `json:"uid"`
	RSSI     float64 `json:"rssi"`
	Battery  float64 `json:"battery"`
}

type statusPayload struct {
	TS        int64 `json:"ts"`
	AnchorID  string `json:"anchor_id"`
	UptimeS   int64 `json:"uptime_s"`
	WifiRSSI  int   `json:"wifi_rssi"`
	HeapFree  int64 `json:"heap_free"`
}

func main() {
	host := flag.String("host", "localhost", "MQTT broker host")
	port := flag.Int("port", 1883, "MQTT broker port")
	wearables := flag.Int("wearables", 3, "number of simulated wearables")
	interval := flag.Duration("interval", 2*time.Second, "scan publish interval per anchor")
	flag.Parse()

	broker := fmt.Sprintf("tcp://%s:%d", *host, *port)
	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("rtls-simulate").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := pahomqtt.NewClient(opts)
	if tok := client.Connect(); tok.Wait() && tok.Error() != nil {
		fmt.Fprintln(os.Stderr, "connect:", tok.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	uids := make([]string, *wearables)
	for i := range uids {
		uids[i] = fmt.Sprintf("wearable-%03d", i+1)
	}

	slog.Info("starting simulator", "anchors", len(anchorLayout), "wearables", len(uids), "interval", *interval)

	var wg sync.WaitGroup
	for _, a := range anchorLayout {
		wg.Add(1)
		go func(id string, x, y float64) {
			defer wg.Done()
			runAnchor(client, id, x, y, uids, *interval)
		}(a.ID, a.X, a.Y)
	}
	wg.Wait()
}

func runAnchor(client pahomqtt.Client, anchorID string, ax, ay float64, uids []string, interval time.Duration) {
	scanTopic := fmt.Sprintf("rtls/anchor/%s/scan", anchorID)
	statusTopic := fmt.Sprintf("rtls/anchor/%s/status", anchorID)

	scanTicker := time.NewTicker(interval)
	statusTicker := time.NewTicker(15 * time.Second)
	defer scanTicker.Stop()
	defer statusTicker.Stop()

	var uptime int64
	for {
		select {
		case <-scanTicker.C:
			for _, uid := range uids {
				publishScan(client, scanTopic, anchorID, uid, ax, ay)
			}
		case <-statusTicker.C:
			uptime += 15
			publishStatus(client, statusTopic, anchorID, uptime)
		}
	}
}

func publishScan(client pahomqtt.Client, topic, anchorID, uid string, ax, ay float64) {
	// A fixed RSSI-at-1m baseline jittered by distance-independent noise;
	// this simulator doesn't model wearable movement, only signal noise.
	rssi := -59.0 + (rand.Float64()*10 - 5)
	payload, err := json.Marshal(scanPayload{
		TS:       time.Now().UnixMilli(),
		AnchorID: anchorID,
		UID:      uid,
		RSSI:     rssi,
		Battery:  3.0 + rand.Float64()*0.7,
	})
	if err != nil {
		slog.Error("marshal scan failed", "err", err)
		return
	}
	tok := client.Publish(topic, 1, false, payload)
	tok.Wait()
	if tok.Error() != nil {
		slog.Warn("publish scan failed", "anchor", anchorID, "err", tok.Error())
	}
}

func publishStatus(client pahomqtt.Client, topic, anchorID string, uptimeS int64) {
	payload, err := json.Marshal(statusPayload{
		TS:       time.Now().UnixMilli(),
		AnchorID: anchorID,
		UptimeS:  uptimeS,
		WifiRSSI: -40 - rand.IntN(20),
		HeapFree: 120000 - rand.Int64N(20000),
	})
	if err != nil {
		slog.Error("marshal status failed", "err", err)
		return
	}
	tok := client.Publish(topic, 1, true, payload)
	tok.Wait()
	if tok.Error() != nil {
		slog.Warn("publish status failed", "anchor", anchorID, "err", tok.Error())
	}
}
