package store

import (
	"context"
	"time"
)

// AnchorPoint is the locator's view of an anchor: just enough to place a
// wearable near it.
type AnchorPoint struct {
	ID string  `db:"id"`
	X  float64 `db:"x"`
	Y  float64 `db:"y"`
	Z  float64 `db:"z"`
}

// ScanPoint is the locator's view of a scan row.
type ScanPoint struct {
	TS       time.Time `db:"ts"`
	AnchorID string    `db:"anchor_id"`
	UID      string    `db:"uid"`
	RSSI     float64   `db:"rssi"`
}

// FetchAnchors returns every registered anchor's planar position.
func (s *Store) FetchAnchors(ctx context.Context) (map[string]AnchorPoint, error) {
	var rows []AnchorPoint
	if err := s.DB.SelectContext(ctx, &rows, "SELECT id, x, y, z FROM anchors"); err != nil {
		return nil, err
	}
	out := make(map[string]AnchorPoint, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// FetchRecentScans returns every scan row newer than now-seconds, per
// spec §4.6 step 1.
func (s *Store) FetchRecentScans(ctx context.Context, seconds float64) ([]ScanPoint, error) {
	var rows []ScanPoint
	const q = `
		SELECT ts, anchor_id, uid, rssi
		  FROM scans
		 WHERE ts > now() - ($1 || ' seconds')::interval
		 ORDER BY ts DESC`
	if err := s.DB.SelectContext(ctx, &rows, q, seconds); err != nil {
		return nil, err
	}
	return rows, nil
}

// PositionInsert is one locator output row for InsertPosition (spec §4.6
// step i). The caller marshals the dists map to JSON and passes it in
// DistsJSON for the jsonb column.
type PositionInsert struct {
	UID             string
	X               float64
	Y               float64
	Z               float64
	Method          string
	QScore          float64
	Zone            *string
	NearestAnchorID string
	DistM           float64
	NumAnchors      int
	DistsJSON       []byte
}

func (s *Store) InsertPosition(ctx context.Context, p PositionInsert) (int64, error) {
	const q = `
		INSERT INTO positions
		  (ts, uid, x, y, z, method, q_score, zone, nearest_anchor_id, dist_m, num_anchors, dists)
		VALUES (now(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	var id int64
	err := s.DB.QueryRowContext(ctx, q,
		p.UID, p.X, p.Y, p.Z, p.Method, p.QScore, p.Zone,
		p.NearestAnchorID, p.DistM, p.NumAnchors, p.DistsJSON,
	).Scan(&id)
	return id, err
}
