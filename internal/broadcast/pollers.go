// Package broadcast implements the four change pollers (C7) and the
// push-channel hub that fans their output out to websocket clients (C8).
package broadcast

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wbh-rtls/rtls-core/internal/store"
)

// Update is one message destined for the push channel: a flat JSON object
// carrying a "type" discriminator plus that type's fields (spec §4.7/§6).
type Update map[string]any

const (
	positionsQueueCap    = 1000
	statsQueueCap        = 100
	scansQueueCap        = 100
	anchorStatusQueueCap = 100

	positionsPollPeriod    = 2 * time.Second
	statsPollPeriod        = 10 * time.Second
	scansPollPeriod        = 15 * time.Second
	anchorStatusPollPeriod = 15 * time.Second

	positionsFreshWindow = 10 * time.Second
)

// pollerStore is the subset of *store.Store the pollers need.
type pollerStore interface {
	LatestPositions(ctx context.Context, within time.Duration) ([]store.PositionRow, error)
	FetchStats(ctx context.Context) (store.Stats, error)
	LatestScanSummaries(ctx context.Context) ([]store.ScanSummary, error)
	LatestAnchorStatuses(ctx context.Context) ([]store.AnchorStatusRow, error)
}

// RunPollers starts the four independent poller loops and blocks until ctx
// is cancelled (spec §4.7). Each loop logs and continues on a query error
// rather than exiting, matching spec §7's "transient store error -> log,
// retry next tick" disposition. Every poller returns nil, so RunPollers
// returns nil once all four have stopped.
func RunPollers(ctx context.Context, s pollerStore, h *Hub) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { pollPositions(ctx, s, h); return nil })
	g.Go(func() error { pollStats(ctx, s, h); return nil })
	g.Go(func() error { pollScans(ctx, s, h); return nil })
	g.Go(func() error { pollAnchorStatus(ctx, s, h); return nil })

	return g.Wait()
}

func pollPositions(ctx context.Context, s pollerStore, h *Hub) {
	ticker := time.NewTicker(positionsPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rows, err := s.LatestPositions(ctx, positionsFreshWindow)
		if err != nil {
			slog.Error("positions poller query failed", "err", err)
			continue
		}
		for _, r := range rows {
			h.PublishPosition(Update{
				"type":              "position",
				"id":                r.ID,
				"ts":                r.TS.UTC().Format(time.RFC3339Nano),
				"uid":               r.UID,
				"x":                 r.X,
				"y":                 r.Y,
				"z":                 r.Z,
				"method":            r.Method,
				"q_score":           r.QScore,
				"zone":              r.Zone,
				"nearest_anchor_id": r.NearestAnchorID,
				"dist_m":            r.DistM,
				"num_anchors":       r.NumAnchors,
				"dists":             r.Dists(),
			})
		}
	}
}

func pollStats(ctx context.Context, s pollerStore, h *Hub) {
	ticker := time.NewTicker(statsPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st, err := s.FetchStats(ctx)
		if err != nil {
			slog.Error("stats poller query failed", "err", err)
			continue
		}
		h.PublishStats(Update{
			"type":            "stats",
			"active_devices":  st.ActiveDevices,
			"total_anchors":   st.TotalAnchors,
			"total_wearables": st.TotalWearables,
			"total_positions": st.TotalPositions24h,
			"emergency_count": st.EmergencyCount1h,
			"ts":              time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

func pollScans(ctx context.Context, s pollerStore, h *Hub) {
	ticker := time.NewTicker(scansPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rows, err := s.LatestScanSummaries(ctx)
		if err != nil {
			slog.Error("scans poller query failed", "err", err)
			continue
		}
		for _, r := range rows {
			var lastSeen any
			if r.LastSeen != nil {
				lastSeen = r.LastSeen.UTC().Format(time.RFC3339Nano)
			}
			h.PublishScan(Update{
				"type":           "scan",
				"uid":            r.UID,
				"last_rssi":      r.LastRSSI,
				"last_battery":   r.LastBattery,
				"last_temp_c":    r.LastTempC,
				"last_tx_power":  r.LastTxPower,
				"last_emergency": r.LastEmergency,
				"last_seen":      lastSeen,
				"ts":             time.Now().UTC().Format(time.RFC3339Nano),
			})
		}
	}
}

func pollAnchorStatus(ctx context.Context, s pollerStore, h *Hub) {
	ticker := time.NewTicker(anchorStatusPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rows, err := s.LatestAnchorStatuses(ctx)
		if err != nil {
			slog.Error("anchor status poller query failed", "err", err)
			continue
		}
		for _, r := range rows {
			h.PublishAnchorStatus(Update{
				"type":            "anchor_status",
				"anchor_id":       r.AnchorID,
				"ts":              r.TS.UTC().Format(time.RFC3339Nano),
				"ip":              r.IP,
				"fw":              r.FW,
				"uptime_s":        r.UptimeS,
				"wifi_rssi":       r.WifiRSSI,
				"heap_free":       r.HeapFree,
				"heap_min":        r.HeapMin,
				"chip_temp_c":     r.ChipTempC,
				"tx_power_dbm":    r.TxPowerDBM,
				"ble_scan_active": r.BLEScanActive,
				"update_ts":       time.Now().UTC().Format(time.RFC3339Nano),
			})
		}
	}
}
