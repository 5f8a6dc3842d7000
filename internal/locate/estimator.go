package locate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wbh-rtls/rtls-core/internal/store"
)

// Anchor is the estimator's minimal view of an anchor.
type Anchor struct {
	ID   string
	X, Y float64
}

// dataStore is the subset of *store.Store the estimator needs; satisfied
// by *store.Store in production and fakeable in tests.
type dataStore interface {
	FetchAnchors(ctx context.Context) (map[string]store.AnchorPoint, error)
	FetchRecentScans(ctx context.Context, seconds float64) ([]store.ScanPoint, error)
	InsertPosition(ctx context.Context, p store.PositionInsert) (int64, error)
}

// Config holds every tunable from spec §4.6.
type Config struct {
	WindowSeconds     time.Duration
	PollInterval      time.Duration
	WriteThrottle     time.Duration
	QueryWindowFactor float64
	TxPowerDBMAt1M    float64
	PathLossExponent  float64
	WeightDistClampM  float64
	TopK              int
	AnchorRefresh     time.Duration
}

// Estimator runs the periodic position estimation loop (C6). It owns the
// per-uid write-throttle map single-threaded (spec §5/§9): only RunLoop's
// goroutine ever touches lastWritten, so no lock is needed there, but
// mu still guards anchors since tests may read it concurrently with Tick.
type Estimator struct {
	store dataStore
	cfg   Config
	now   func() time.Time

	mu            sync.RWMutex
	anchors       map[string]Anchor
	anchorsLoadTS time.Time

	lastWritten map[string]time.Time
}

// NewEstimator builds an Estimator against a live store.
func NewEstimator(s *store.Store, cfg Config) *Estimator {
	return newEstimator(s, cfg)
}

func newEstimator(s dataStore, cfg Config) *Estimator {
	return &Estimator{
		store:       s,
		cfg:         cfg,
		now:         time.Now,
		anchors:     map[string]Anchor{},
		lastWritten: map[string]time.Time{},
	}
}

// RunLoop polls on cfg.PollInterval until ctx is cancelled. Errors within a
// tick are logged and followed by a 1-second cool-off (spec §4.6, §5, §7);
// they never stop the loop.
func (e *Estimator) RunLoop(ctx context.Context) error {
	if err := e.refreshAnchors(ctx); err != nil {
		return fmt.Errorf("initial anchor load: %w", err)
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if e.anchorsStale() {
			if err := e.refreshAnchors(ctx); err != nil {
				slog.Warn("anchor refresh failed, serving stale snapshot", "err", err)
			}
		}

		if err := e.Tick(ctx); err != nil {
			slog.Error("locator tick failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

func (e *Estimator) anchorsStale() bool {
	if e.cfg.AnchorRefresh <= 0 {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return time.Since(e.anchorsLoadTS) >= e.cfg.AnchorRefresh
}

func (e *Estimator) refreshAnchors(ctx context.Context) error {
	points, err := e.store.FetchAnchors(ctx)
	if err != nil {
		return err
	}
	anchors := make(map[string]Anchor, len(points))
	for id, p := range points {
		anchors[id] = Anchor{ID: id, X: p.X, Y: p.Y}
	}
	e.mu.Lock()
	e.anchors = anchors
	e.anchorsLoadTS = time.Now()
	e.mu.Unlock()
	return nil
}

// Tick performs one estimation pass over every uid heard within the query
// window (spec §4.6). It is exported so tests can drive it directly.
func (e *Estimator) Tick(ctx context.Context) error {
	querySeconds := e.cfg.WindowSeconds.Seconds() * e.cfg.QueryWindowFactor
	if querySeconds < e.cfg.WindowSeconds.Seconds() {
		querySeconds = e.cfg.WindowSeconds.Seconds()
	}

	rows, err := e.store.FetchRecentScans(ctx, querySeconds)
	if err != nil {
		return fmt.Errorf("fetch recent scans: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	byUID := make(map[string][]store.ScanPoint)
	for _, r := range rows {
		byUID[r.UID] = append(byUID[r.UID], r)
	}

	e.mu.RLock()
	anchors := e.anchors
	e.mu.RUnlock()

	inserted := 0
	for uid, scans := range byUID {
		if e.throttled(uid) {
			continue
		}
		est, ok := estimate(scans, anchors, e.cfg)
		if !ok {
			continue
		}
		if err := e.write(ctx, uid, est); err != nil {
			slog.Error("insert position failed", "uid", uid, "err", err)
			continue
		}
		e.markWritten(uid)
		inserted++
	}
	if inserted > 0 {
		slog.Info("inserted positions", "count", inserted)
	}
	return nil
}

func (e *Estimator) throttled(uid string) bool {
	now := e.now()
	last, ok := e.lastWritten[uid]
	return ok && now.Sub(last) < e.cfg.WriteThrottle
}

func (e *Estimator) markWritten(uid string) {
	e.lastWritten[uid] = e.now()
}

func (e *Estimator) write(ctx context.Context, uid string, est estimate_) error {
	distsJSON, err := json.Marshal(est.Dists)
	if err != nil {
		return err
	}
	_, err = e.store.InsertPosition(ctx, store.PositionInsert{
		UID:             uid,
		X:               est.X,
		Y:               est.Y,
		Z:               0,
		Method:          est.Method,
		QScore:          est.QScore,
		NearestAnchorID: est.NearestAnchorID,
		DistM:           est.DistM,
		NumAnchors:      est.NumAnchors,
		DistsJSON:       distsJSON,
	})
	return err
}

// estimate_ is the pure result of one uid's estimation pass (spec §4.6.g-h).
// Named with a trailing underscore to avoid colliding with the `estimate`
// function below in this small package.
type estimate_ struct {
	X, Y            float64
	Method          string
	QScore          float64
	NearestAnchorID string
	DistM           float64
	NumAnchors      int
	Dists           map[string]float64
}

type anchorAgg struct {
	bestRSSI float64
	latestTS time.Time
}

// estimate implements spec §4.6 steps b-h for one uid's scans. It is a
// pure function of its inputs (plus cfg) so it can be tested without a
// store.
func estimate(scans []store.ScanPoint, anchors map[string]Anchor, cfg Config) (estimate_, bool) {
	var uidLatest time.Time
	for _, s := range scans {
		if s.TS.After(uidLatest) {
			uidLatest = s.TS
		}
	}
	windowStart := uidLatest.Add(-cfg.WindowSeconds)

	// anchorOrder records each anchor's first-seen position in scans, so
	// the nearest-anchor tie-break below matches
	// original_source/locator/main.py's max() over an insertion-ordered
	// dict instead of Go's randomized map iteration order.
	perAnchor := make(map[string]*anchorAgg)
	anchorOrder := make([]string, 0, len(anchors))
	for _, s := range scans {
		if s.TS.Before(windowStart) {
			continue
		}
		if _, known := anchors[s.AnchorID]; !known {
			continue
		}
		agg, ok := perAnchor[s.AnchorID]
		if !ok {
			perAnchor[s.AnchorID] = &anchorAgg{bestRSSI: s.RSSI, latestTS: s.TS}
			anchorOrder = append(anchorOrder, s.AnchorID)
			continue
		}
		if s.RSSI > agg.bestRSSI {
			agg.bestRSSI = s.RSSI
		}
		if s.TS.After(agg.latestTS) {
			agg.latestTS = s.TS
		}
	}
	if len(perAnchor) == 0 {
		return estimate_{}, false
	}

	dists := make(map[string]float64, len(perAnchor))
	for aid, agg := range perAnchor {
		dists[aid] = RSSIToDistance(agg.bestRSSI, cfg.TxPowerDBMAt1M, cfg.PathLossExponent)
	}

	nearestID := ""
	bestRSSI := 0.0
	first := true
	for _, aid := range anchorOrder {
		agg := perAnchor[aid]
		if first || agg.bestRSSI > bestRSSI {
			nearestID = aid
			bestRSSI = agg.bestRSSI
			first = false
		}
	}
	numAnchors := len(perAnchor)
	nearestDist := dists[nearestID]

	var x, y float64
	var method string

	if numAnchors == 1 {
		a := anchors[nearestID]
		x, y = a.X, a.Y
		method = "single_anchor"
	} else {
		type ranked struct {
			id   string
			rssi float64
		}
		top := make([]ranked, 0, numAnchors)
		for _, aid := range anchorOrder {
			top = append(top, ranked{id: aid, rssi: perAnchor[aid].bestRSSI})
		}
		// Stable sort: anchors tied on rssi keep their first-seen relative
		// order, matching original_source/locator/main.py's stable sorted().
		sort.SliceStable(top, func(i, j int) bool { return top[i].rssi > top[j].rssi })
		if len(top) > cfg.TopK {
			top = top[:cfg.TopK]
		}

		var wSumX, wSumY, wTot float64
		for _, r := range top {
			a := anchors[r.id]
			d := dists[r.id]
			if d < cfg.WeightDistClampM {
				d = cfg.WeightDistClampM
			}
			w := 1.0 / (d * d)
			wSumX += w * a.X
			wSumY += w * a.Y
			wTot += w
		}
		if wTot > 0 {
			x, y = wSumX/wTot, wSumY/wTot
			method = "proximity"
		} else {
			a := anchors[nearestID]
			x, y = a.X, a.Y
			method = "fallback_nearest"
		}
	}

	rssiMin, rssiMax := 0.0, 0.0
	first = true
	for _, agg := range perAnchor {
		if first {
			rssiMin, rssiMax = agg.bestRSSI, agg.bestRSSI
			first = false
			continue
		}
		if agg.bestRSSI < rssiMin {
			rssiMin = agg.bestRSSI
		}
		if agg.bestRSSI > rssiMax {
			rssiMax = agg.bestRSSI
		}
	}
	spread := 0.0
	if numAnchors > 1 {
		spread = rssiMax - rssiMin
	}

	anchorFactor := 0.0
	if numAnchors > 1 {
		denom := cfg.TopK - 1
		if denom < 1 {
			denom = 1
		}
		anchorFactor = float64(numAnchors-1) / float64(denom)
		if anchorFactor > 1 {
			anchorFactor = 1
		}
	}
	spreadRatio := spread / 40.0
	if spreadRatio < 0 {
		spreadRatio = -spreadRatio
	}
	if spreadRatio > 1 {
		spreadRatio = 1
	}
	spreadFactor := 1.0 - spreadRatio
	qScore := 0.6*anchorFactor + 0.4*spreadFactor
	if qScore < 0 {
		qScore = 0
	}
	if qScore > 1 {
		qScore = 1
	}

	return estimate_{
		X: x, Y: y,
		Method:          method,
		QScore:          qScore,
		NearestAnchorID: nearestID,
		DistM:           nearestDist,
		NumAnchors:      numAnchors,
		Dists:           dists,
	}, true
}
