package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbh-rtls/rtls-core/internal/store"
)

type fakePollerStore struct {
	positions []store.PositionRow
	stats     store.Stats
	scans     []store.ScanSummary
	statuses  []store.AnchorStatusRow
}

func (f *fakePollerStore) LatestPositions(ctx context.Context, within time.Duration) ([]store.PositionRow, error) {
	return f.positions, nil
}

func (f *fakePollerStore) FetchStats(ctx context.Context) (store.Stats, error) {
	return f.stats, nil
}

func (f *fakePollerStore) LatestScanSummaries(ctx context.Context) ([]store.ScanSummary, error) {
	return f.scans, nil
}

func (f *fakePollerStore) LatestAnchorStatuses(ctx context.Context) ([]store.AnchorStatusRow, error) {
	return f.statuses, nil
}

func TestPollStats_EmitsOneMessagePerTick(t *testing.T) {
	hub := &Hub{stats: make(chan Update, 10)}
	fs := &fakePollerStore{stats: store.Stats{ActiveDevices: 3, TotalAnchors: 5}}

	ctx, cancel := context.WithCancel(context.Background())
	go pollStats(ctx, fs, hub)

	select {
	case u := <-hub.stats:
		assert.Equal(t, "stats", u["type"])
		assert.Equal(t, 3, u["active_devices"])
		assert.Equal(t, 5, u["total_anchors"])
	case <-time.After(statsPollPeriod + 2*time.Second):
		t.Fatal("no stats update emitted in time")
	}
	cancel()
}

func TestPollPositions_DecodesDistsFromJSONB(t *testing.T) {
	hub := &Hub{positions: make(chan Update, 10)}
	fs := &fakePollerStore{
		positions: []store.PositionRow{
			{ID: 1, UID: "u1", X: 1, Y: 2, Method: "proximity", DistsRaw: []byte(`{"A":1.2,"B":3.4}`)},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go pollPositions(ctx, fs, hub)

	require.Eventually(t, func() bool { return len(hub.positions) > 0 }, positionsPollPeriod+2*time.Second, 10*time.Millisecond)
	u := <-hub.positions
	assert.Equal(t, "position", u["type"])
	dists, ok := u["dists"].(map[string]float64)
	require.True(t, ok)
	assert.Equal(t, 1.2, dists["A"])
	cancel()
}
