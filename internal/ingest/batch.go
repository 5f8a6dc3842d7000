package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/wbh-rtls/rtls-core/internal/store"
)

// writer is the subset of *store.Store the batch writer needs.
type writer interface {
	InsertScans(ctx context.Context, rows []store.ScanRow) (int, error)
	InsertStatuses(ctx context.Context, rows []store.StatusRow) (int, error)
	InsertEvents(ctx context.Context, rows []store.EventRow) (int, error)
}

// BatchWriter accumulates decoded records per kind and flushes on size or
// age thresholds, FK-filtering against the known-ID cache before every
// insert (C3, spec §4.3).
type BatchWriter struct {
	store writer
	known *KnownIDs

	scanMaxSize   int
	statusMaxSize int
	eventMaxSize  int
	maxAge        time.Duration

	scans    []ScanMessage
	statuses []StatusMessage
	events   []EventMessage

	lastFlush time.Time
}

// NewBatchWriter builds a batch writer. batchMaxSize is the scan threshold;
// status/event thresholds are half of it, per spec §4.3.
func NewBatchWriter(s writer, known *KnownIDs, batchMaxSize int, maxAge time.Duration) *BatchWriter {
	return &BatchWriter{
		store:         s,
		known:         known,
		scanMaxSize:   batchMaxSize,
		statusMaxSize: batchMaxSize / 2,
		eventMaxSize:  batchMaxSize / 2,
		maxAge:        maxAge,
		lastFlush:     time.Now(),
	}
}

func (b *BatchWriter) AddScan(m ScanMessage)     { b.scans = append(b.scans, m) }
func (b *BatchWriter) AddStatus(m StatusMessage) { b.statuses = append(b.statuses, m) }
func (b *BatchWriter) AddEvent(m EventMessage)   { b.events = append(b.events, m) }

// ShouldFlush reports whether the age or size thresholds have fired.
func (b *BatchWriter) ShouldFlush() bool {
	return time.Since(b.lastFlush) >= b.maxAge ||
		len(b.scans) >= b.scanMaxSize ||
		len(b.statuses) >= b.statusMaxSize ||
		len(b.events) >= b.eventMaxSize
}

// Empty reports whether all three buffers are empty.
func (b *BatchWriter) Empty() bool {
	return len(b.scans) == 0 && len(b.statuses) == 0 && len(b.events) == 0
}

// Flush refreshes the known-ID cache, drops rows with unknown FKs, and
// bulk-inserts each kind's buffer independently (spec §4.3). Per-kind
// flushes execute in accept order but ordering across kinds is not
// preserved, matching spec §5.
func (b *BatchWriter) Flush(ctx context.Context) {
	b.known.EnsureFresh(ctx)

	if len(b.scans) > 0 {
		b.flushScans(ctx)
		b.scans = nil
	}
	if len(b.statuses) > 0 {
		b.flushStatuses(ctx)
		b.statuses = nil
	}
	if len(b.events) > 0 {
		b.flushEvents(ctx)
		b.events = nil
	}
	b.lastFlush = time.Now()
}

func (b *BatchWriter) flushScans(ctx context.Context) {
	rows := make([]store.ScanRow, 0, len(b.scans))
	skipped := 0
	for _, m := range b.scans {
		if !b.known.KnownAnchor(m.AnchorID) || !b.known.KnownWearable(m.UID) {
			skipped++
			continue
		}
		rows = append(rows, store.ScanRow{
			TS: m.TS, AnchorID: m.AnchorID, UID: m.UID, RSSI: m.RSSI,
			Battery: m.Battery, TempC: m.TempC, TxPowerDBM: m.TxPowerDBM,
			AdvSeq: m.AdvSeq, Emergency: m.Emergency,
		})
	}
	if len(rows) == 0 {
		if skipped > 0 {
			slog.Info("scan batch had only unknown-FK rows", "skipped", skipped)
		}
		return
	}
	inserted, err := b.store.InsertScans(ctx, rows)
	if err != nil {
		slog.Error("flush scans failed", "err", err, "attempted", len(rows))
		return
	}
	slog.Info("inserted scans", "count", inserted, "skipped_unknown_fk", skipped)
}

func (b *BatchWriter) flushStatuses(ctx context.Context) {
	rows := make([]store.StatusRow, 0, len(b.statuses))
	skipped := 0
	for _, m := range b.statuses {
		if !b.known.KnownAnchor(m.AnchorID) {
			skipped++
			continue
		}
		rows = append(rows, store.StatusRow{
			TS: m.TS, AnchorID: m.AnchorID, IP: m.IP, FW: m.FW, UptimeS: m.UptimeS,
			WifiRSSI: m.WifiRSSI, HeapFree: m.HeapFree, HeapMin: m.HeapMin,
			ChipTempC: m.ChipTempC, TxPowerDBM: m.TxPowerDBM, BLEScanActive: m.BLEScanActive,
		})
	}
	if len(rows) == 0 {
		return
	}
	inserted, err := b.store.InsertStatuses(ctx, rows)
	if err != nil {
		slog.Error("flush statuses failed", "err", err, "attempted", len(rows))
		return
	}
	slog.Info("inserted anchor_status rows", "count", inserted, "skipped_unknown_fk", skipped)
}

func (b *BatchWriter) flushEvents(ctx context.Context) {
	rows := make([]store.EventRow, 0, len(b.events))
	skipped := 0
	for _, m := range b.events {
		if !b.known.KnownWearable(m.UID) {
			skipped++
			continue
		}
		rows = append(rows, store.EventRow{
			TS: m.TS, UID: m.UID, Type: m.Type, Severity: m.Severity,
			Details: m.Details, AnchorID: m.AnchorID,
		})
	}
	if len(rows) == 0 {
		return
	}
	inserted, err := b.store.InsertEvents(ctx, rows)
	if err != nil {
		slog.Error("flush events failed", "err", err, "attempted", len(rows))
		return
	}
	slog.Info("inserted events", "count", inserted, "skipped_unknown_fk", skipped)
}
