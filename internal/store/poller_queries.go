package store

import (
	"context"
	"encoding/json"
	"time"
)

// PositionRow is one row emitted by the positions poller (spec §4.7).
type PositionRow struct {
	ID              int64     `db:"id"`
	TS              time.Time `db:"ts"`
	UID             string    `db:"uid"`
	X               float64   `db:"x"`
	Y               float64   `db:"y"`
	Z               float64   `db:"z"`
	Method          string    `db:"method"`
	QScore          float64   `db:"q_score"`
	Zone            *string   `db:"zone"`
	NearestAnchorID string    `db:"nearest_anchor_id"`
	DistM           float64   `db:"dist_m"`
	NumAnchors      int       `db:"num_anchors"`
	DistsRaw        []byte    `db:"dists"`
}

// Dists decodes the jsonb dists column to a native map.
func (p PositionRow) Dists() map[string]float64 {
	if len(p.DistsRaw) == 0 {
		return map[string]float64{}
	}
	var m map[string]float64
	if err := json.Unmarshal(p.DistsRaw, &m); err != nil {
		return map[string]float64{}
	}
	return m
}

// LatestPositions returns the freshest position per uid updated within the
// last `within` duration (spec §4.7, positions poller).
func (s *Store) LatestPositions(ctx context.Context, within time.Duration) ([]PositionRow, error) {
	var rows []PositionRow
	const q = `
		SELECT DISTINCT ON (uid)
		       id, ts, uid, x, y, z, method, q_score, zone,
		       nearest_anchor_id, dist_m, num_anchors, dists
		  FROM positions
		 WHERE ts > $1
		 ORDER BY uid, ts DESC`
	cutoff := time.Now().Add(-within)
	if err := s.DB.SelectContext(ctx, &rows, q, cutoff); err != nil {
		return nil, err
	}
	return rows, nil
}

// Stats is the aggregate snapshot the stats poller emits (spec §4.7).
type Stats struct {
	ActiveDevices    int `db:"active_devices"`
	TotalAnchors     int `db:"total_anchors"`
	TotalWearables   int `db:"total_wearables"`
	TotalPositions24h int `db:"total_positions_24h"`
	EmergencyCount1h int `db:"emergency_count_1h"`
}

// FetchStats runs the five count queries behind the stats poller.
func (s *Store) FetchStats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.DB.GetContext(ctx, &st.ActiveDevices,
		"SELECT COUNT(DISTINCT uid) FROM positions WHERE ts > now() - interval '5 minutes'"); err != nil {
		return st, err
	}
	if err := s.DB.GetContext(ctx, &st.TotalAnchors, "SELECT COUNT(*) FROM anchors"); err != nil {
		return st, err
	}
	if err := s.DB.GetContext(ctx, &st.TotalWearables, "SELECT COUNT(*) FROM wearables"); err != nil {
		return st, err
	}
	if err := s.DB.GetContext(ctx, &st.TotalPositions24h,
		"SELECT COUNT(*) FROM positions WHERE ts > now() - interval '1 day'"); err != nil {
		return st, err
	}
	if err := s.DB.GetContext(ctx, &st.EmergencyCount1h,
		"SELECT COUNT(*) FROM events WHERE type = 'emergency' AND ts > now() - interval '1 hour'"); err != nil {
		return st, err
	}
	return st, nil
}

// ScanSummary is one uid's latest-known telemetry, emitted by the scans
// poller (spec §4.7).
type ScanSummary struct {
	UID           string     `db:"uid"`
	LastRSSI      *float64   `db:"last_rssi"`
	LastBattery   *float64   `db:"last_battery"`
	LastTempC     *float64   `db:"last_temp_c"`
	LastTxPower   *int       `db:"last_tx_power"`
	LastEmergency *bool      `db:"last_emergency"`
	LastSeen      *time.Time `db:"last_seen"`
}

// LatestScanSummaries returns, per uid, the latest non-null reading of each
// tracked field plus the overall last-seen timestamp.
func (s *Store) LatestScanSummaries(ctx context.Context) ([]ScanSummary, error) {
	var rows []ScanSummary
	const q = `
		SELECT
		    s.uid AS uid,
		    (SELECT rssi FROM scans s2 WHERE s2.uid = s.uid AND s2.rssi IS NOT NULL ORDER BY ts DESC LIMIT 1) AS last_rssi,
		    (SELECT battery FROM scans s3 WHERE s3.uid = s.uid AND s3.battery IS NOT NULL ORDER BY ts DESC LIMIT 1) AS last_battery,
		    (SELECT temp_c FROM scans s4 WHERE s4.uid = s.uid AND s4.temp_c IS NOT NULL ORDER BY ts DESC LIMIT 1) AS last_temp_c,
		    (SELECT tx_power_dbm FROM scans s5 WHERE s5.uid = s.uid AND s5.tx_power_dbm IS NOT NULL ORDER BY ts DESC LIMIT 1) AS last_tx_power,
		    (SELECT emergency FROM scans s6 WHERE s6.uid = s.uid AND s6.emergency IS NOT NULL ORDER BY ts DESC LIMIT 1) AS last_emergency,
		    MAX(s.ts) AS last_seen
		  FROM scans s
		 GROUP BY s.uid`
	if err := s.DB.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// AnchorStatusRow is one anchor's latest heartbeat, emitted by the
// anchor-status poller (spec §4.7).
type AnchorStatusRow struct {
	AnchorID      string    `db:"anchor_id"`
	TS            time.Time `db:"ts"`
	IP            *string   `db:"ip"`
	FW            *string   `db:"fw"`
	UptimeS       *int64    `db:"uptime_s"`
	WifiRSSI      *int      `db:"wifi_rssi"`
	HeapFree      *int64    `db:"heap_free"`
	HeapMin       *int64    `db:"heap_min"`
	ChipTempC     *float64  `db:"chip_temp_c"`
	TxPowerDBM    *int      `db:"tx_power_dbm"`
	BLEScanActive *bool     `db:"ble_scan_active"`
}

// LatestAnchorStatuses returns the newest status row per anchor.
func (s *Store) LatestAnchorStatuses(ctx context.Context) ([]AnchorStatusRow, error) {
	var rows []AnchorStatusRow
	const q = `
		SELECT DISTINCT ON (anchor_id)
		       anchor_id, ts, ip, fw, uptime_s, wifi_rssi, heap_free, heap_min,
		       chip_temp_c, tx_power_dbm, ble_scan_active
		  FROM anchor_status
		 ORDER BY anchor_id, ts DESC`
	if err := s.DB.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAnchors returns every anchor ordered by id, for the broadcaster's
// initial snapshot and the read-only HTTP surface.
func (s *Store) ListAnchors(ctx context.Context) ([]AnchorFull, error) {
	var rows []AnchorFull
	const q = `SELECT id, name, x, y, z, created_at FROM anchors ORDER BY id`
	if err := s.DB.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// AnchorFull is the anchor shape used by the snapshot and CRUD-read routes.
type AnchorFull struct {
	ID        string    `db:"id"`
	Name      *string   `db:"name"`
	X         float64   `db:"x"`
	Y         float64   `db:"y"`
	Z         float64   `db:"z"`
	CreatedAt time.Time `db:"created_at"`
}

// ListWearables returns every wearable ordered by uid.
func (s *Store) ListWearables(ctx context.Context) ([]WearableFull, error) {
	var rows []WearableFull
	const q = `SELECT uid, person_ref, role, created_at FROM wearables ORDER BY uid`
	if err := s.DB.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// WearableFull is the wearable shape used by the snapshot and CRUD-read
// routes.
type WearableFull struct {
	UID       string    `db:"uid"`
	PersonRef *string   `db:"person_ref"`
	Role      *string   `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}
