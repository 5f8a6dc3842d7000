package broadcast

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/wbh-rtls/rtls-core/internal/store"
)

const clientWaitTimeout = 5 * time.Second

// snapshotStore is the subset of *store.Store the hub needs for a new
// client's initial snapshot (spec §4.8 step 1).
type snapshotStore interface {
	ListAnchors(ctx context.Context) ([]store.AnchorFull, error)
	ListWearables(ctx context.Context) ([]store.WearableFull, error)
}

// Hub owns the four shared, bounded update queues and the set of connected
// push-channel clients (C8). Queues are drop-on-full (bus-side already
// saw the same policy in C4) and are genuinely shared across clients: each
// update is consumed by whichever client's select wakes first, so with N
// concurrent clients each one sees roughly 1/N of updates. This mirrors
// the original implementation's asyncio.wait(FIRST_COMPLETED) behavior and
// is a recorded, not a fixed, limitation (spec §9).
type Hub struct {
	store snapshotStore

	positions    chan Update
	stats        chan Update
	scans        chan Update
	anchorStatus chan Update

	clients atomic.Int64
}

// NewHub builds a Hub with the queue capacities from spec §4.7.
func NewHub(s *store.Store) *Hub {
	return &Hub{
		store:        s,
		positions:    make(chan Update, positionsQueueCap),
		stats:        make(chan Update, statsQueueCap),
		scans:        make(chan Update, scansQueueCap),
		anchorStatus: make(chan Update, anchorStatusQueueCap),
	}
}

func (h *Hub) PublishPosition(u Update) { publish(h.positions, u, "positions") }
func (h *Hub) PublishStats(u Update)    { publish(h.stats, u, "stats") }
func (h *Hub) PublishScan(u Update)     { publish(h.scans, u, "scans") }
func (h *Hub) PublishAnchorStatus(u Update) {
	publish(h.anchorStatus, u, "anchor_status")
}

func publish(q chan Update, u Update, name string) {
	select {
	case q <- u:
	default:
		slog.Warn("broadcast queue full, dropping update", "queue", name)
	}
}

// QueueDepths reports current occupancy of all four queues, for /health.
func (h *Hub) QueueDepths() map[string]int {
	return map[string]int{
		"positions":     len(h.positions),
		"stats":         len(h.stats),
		"scans":         len(h.scans),
		"anchor_status": len(h.anchorStatus),
	}
}

// ClientCount reports how many websocket clients are currently attached,
// for /health (original_source/api/main.py's ws_clients counter).
func (h *Hub) ClientCount() int64 {
	return h.clients.Load()
}

// Serve handles one accepted websocket connection end to end: snapshot,
// then the multiplex loop, until the client disconnects or a send fails
// (spec §4.8).
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) error {
	h.clients.Add(1)
	defer h.clients.Add(-1)

	if err := h.sendSnapshot(ctx, conn); err != nil {
		return err
	}
	for {
		if err := h.waitAndSendOnce(ctx, conn); err != nil {
			return err
		}
	}
}

func (h *Hub) sendSnapshot(ctx context.Context, conn *websocket.Conn) error {
	anchors, err := h.store.ListAnchors(ctx)
	if err != nil {
		return err
	}
	for _, a := range anchors {
		if err := wsjson.Write(ctx, conn, Update{
			"type":       "anchor",
			"id":         a.ID,
			"name":       a.Name,
			"x":          a.X,
			"y":          a.Y,
			"z":          a.Z,
			"created_at": a.CreatedAt.UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return err
		}
	}

	wearables, err := h.store.ListWearables(ctx)
	if err != nil {
		return err
	}
	for _, w := range wearables {
		if err := wsjson.Write(ctx, conn, Update{
			"type":       "wearable",
			"uid":        w.UID,
			"person_ref": w.PersonRef,
			"role":       w.Role,
			"created_at": w.CreatedAt.UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return err
		}
	}
	return nil
}

// waitAndSendOnce waits for the first of the four queues to produce a
// message, with a 5s timeout (no message means just loop again — liveness
// is the channel layer's concern, per spec §4.8 step 2).
func (h *Hub) waitAndSendOnce(ctx context.Context, conn *websocket.Conn) error {
	waitCtx, cancel := context.WithTimeout(ctx, clientWaitTimeout)
	defer cancel()

	var msg Update
	select {
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	case msg = <-h.positions:
	case msg = <-h.stats:
	case msg = <-h.scans:
	case msg = <-h.anchorStatus:
	}

	writeCtx, cancel2 := context.WithTimeout(ctx, clientWaitTimeout)
	defer cancel2()
	return wsjson.Write(writeCtx, conn, msg)
}
