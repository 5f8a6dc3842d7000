package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// ScanRow, StatusRow and EventRow are the persisted shapes the batch writer
// hands to the store, already FK-filtered (spec §4.3).
type ScanRow struct {
	TS         time.Time
	AnchorID   string
	UID        string
	RSSI       float64
	Battery    *float64
	TempC      *float64
	TxPowerDBM *int
	AdvSeq     *int64
	Emergency  *bool
}

type StatusRow struct {
	TS            time.Time
	AnchorID      string
	IP            *string
	FW            *string
	UptimeS       *int64
	WifiRSSI      *int
	HeapFree      *int64
	HeapMin       *int64
	ChipTempC     *float64
	TxPowerDBM    *int
	BLEScanActive *bool
}

type EventRow struct {
	TS       time.Time
	UID      string
	Type     string
	Severity *int
	Details  *string
	AnchorID *string
}

const pqForeignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqForeignKeyViolation
	}
	return false
}

// InsertScans bulk-inserts rows, falling back to row-by-row insertion (and
// counting successes) if the batch as a whole hits a foreign-key violation
// (spec §4.3.d) — this can legitimately happen even after FK pre-filtering
// if an anchor/wearable was deleted between the filter check and the
// insert.
func (s *Store) InsertScans(ctx context.Context, rows []ScanRow) (inserted int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}
	const bulkQuery = `
		INSERT INTO scans (ts, anchor_id, uid, rssi, battery, temp_c, tx_power_dbm, adv_seq, emergency)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, bulkQuery, r.TS, r.AnchorID, r.UID, r.RSSI, r.Battery, r.TempC, r.TxPowerDBM, r.AdvSeq, r.Emergency); err != nil {
			if isForeignKeyViolation(err) {
				tx.Rollback()
				return s.insertScansRowByRow(ctx, rows)
			}
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Store) insertScansRowByRow(ctx context.Context, rows []ScanRow) (int, error) {
	const q = `
		INSERT INTO scans (ts, anchor_id, uid, rssi, battery, temp_c, tx_power_dbm, adv_seq, emergency)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	inserted := 0
	for _, r := range rows {
		_, err := s.DB.ExecContext(ctx, q, r.TS, r.AnchorID, r.UID, r.RSSI, r.Battery, r.TempC, r.TxPowerDBM, r.AdvSeq, r.Emergency)
		if err != nil {
			if isForeignKeyViolation(err) {
				continue
			}
			return inserted, err
		}
		inserted++
	}
	slog.Info("scan batch FK violation, retried row-by-row", "inserted", inserted, "attempted", len(rows))
	return inserted, nil
}

// InsertStatuses bulk-inserts anchor_status rows with the same row-by-row
// FK-violation fallback as InsertScans.
func (s *Store) InsertStatuses(ctx context.Context, rows []StatusRow) (inserted int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}
	const bulkQuery = `
		INSERT INTO anchor_status (ts, anchor_id, ip, fw, uptime_s, wifi_rssi, heap_free, heap_min, chip_temp_c, tx_power_dbm, ble_scan_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, bulkQuery, r.TS, r.AnchorID, r.IP, r.FW, r.UptimeS, r.WifiRSSI, r.HeapFree, r.HeapMin, r.ChipTempC, r.TxPowerDBM, r.BLEScanActive); err != nil {
			if isForeignKeyViolation(err) {
				tx.Rollback()
				return s.insertStatusesRowByRow(ctx, rows)
			}
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Store) insertStatusesRowByRow(ctx context.Context, rows []StatusRow) (int, error) {
	const q = `
		INSERT INTO anchor_status (ts, anchor_id, ip, fw, uptime_s, wifi_rssi, heap_free, heap_min, chip_temp_c, tx_power_dbm, ble_scan_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	inserted := 0
	for _, r := range rows {
		_, err := s.DB.ExecContext(ctx, q, r.TS, r.AnchorID, r.IP, r.FW, r.UptimeS, r.WifiRSSI, r.HeapFree, r.HeapMin, r.ChipTempC, r.TxPowerDBM, r.BLEScanActive)
		if err != nil {
			if isForeignKeyViolation(err) {
				continue
			}
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// InsertEvents bulk-inserts event rows with the same fallback.
func (s *Store) InsertEvents(ctx context.Context, rows []EventRow) (inserted int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}
	const bulkQuery = `INSERT INTO events (ts, uid, type, severity, details, anchor_id) VALUES ($1,$2,$3,$4,$5,$6)`

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, bulkQuery, r.TS, r.UID, r.Type, r.Severity, r.Details, r.AnchorID); err != nil {
			if isForeignKeyViolation(err) {
				tx.Rollback()
				return s.insertEventsRowByRow(ctx, rows)
			}
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *Store) insertEventsRowByRow(ctx context.Context, rows []EventRow) (int, error) {
	const q = `INSERT INTO events (ts, uid, type, severity, details, anchor_id) VALUES ($1,$2,$3,$4,$5,$6)`
	inserted := 0
	for _, r := range rows {
		_, err := s.DB.ExecContext(ctx, q, r.TS, r.UID, r.Type, r.Severity, r.Details, r.AnchorID)
		if err != nil {
			if isForeignKeyViolation(err) {
				continue
			}
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}
