package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbh-rtls/rtls-core/internal/store"
)

type fakeSnapshotStore struct {
	anchors   []store.AnchorFull
	wearables []store.WearableFull
}

func (f *fakeSnapshotStore) ListAnchors(ctx context.Context) ([]store.AnchorFull, error) {
	return f.anchors, nil
}

func (f *fakeSnapshotStore) ListWearables(ctx context.Context) ([]store.WearableFull, error) {
	return f.wearables, nil
}

func newTestHub(t *testing.T, snap *fakeSnapshotStore) *Hub {
	t.Helper()
	return &Hub{
		store:        snap,
		positions:    make(chan Update, positionsQueueCap),
		stats:        make(chan Update, statsQueueCap),
		scans:        make(chan Update, scansQueueCap),
		anchorStatus: make(chan Update, anchorStatusQueueCap),
	}
}

// TestHub_InitialSnapshotOrder matches spec scenario 6: with 2 anchors and 1
// wearable registered, a connecting client receives exactly 3 messages in
// anchor, anchor, wearable order before anything else.
func TestHub_InitialSnapshotOrder(t *testing.T) {
	snap := &fakeSnapshotStore{
		anchors: []store.AnchorFull{
			{ID: "A1", X: 0, Y: 0},
			{ID: "A2", X: 10, Y: 0},
		},
		wearables: []store.WearableFull{
			{UID: "U1"},
		},
	}
	hub := newTestHub(t, snap)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.CloseNow()
		_ = hub.sendSnapshot(r.Context(), conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, httpToWS(srv.URL), nil)
	require.NoError(t, err)
	defer client.CloseNow()

	var msgs []map[string]any
	for i := 0; i < 3; i++ {
		var m map[string]any
		require.NoError(t, wsjson.Read(ctx, client, &m))
		msgs = append(msgs, m)
	}

	assert.Equal(t, "anchor", msgs[0]["type"])
	assert.Equal(t, "A1", msgs[0]["id"])
	assert.Equal(t, "anchor", msgs[1]["type"])
	assert.Equal(t, "A2", msgs[1]["id"])
	assert.Equal(t, "wearable", msgs[2]["type"])
	assert.Equal(t, "U1", msgs[2]["uid"])
}

func TestHub_PublishIsNonBlockingWhenFull(t *testing.T) {
	hub := &Hub{positions: make(chan Update, 1)}
	hub.PublishPosition(Update{"type": "position"})
	// queue is now full; this must not block.
	done := make(chan struct{})
	go func() {
		hub.PublishPosition(Update{"type": "position"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishPosition blocked on a full queue")
	}
}

func TestHub_WaitAndSendOnce_DeliversQueuedUpdate(t *testing.T) {
	hub := newTestHub(t, &fakeSnapshotStore{})
	hub.PublishStats(Update{"type": "stats", "total_anchors": float64(2)})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.CloseNow()
		_ = hub.waitAndSendOnce(r.Context(), conn)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, httpToWS(srv.URL), nil)
	require.NoError(t, err)
	defer client.CloseNow()

	var m map[string]any
	require.NoError(t, wsjson.Read(ctx, client, &m))
	assert.Equal(t, "stats", m["type"])
}

func httpToWS(url string) string {
	return "ws" + url[len("http"):]
}

// TestHub_ClientCount_TracksServeLifetime matches the /health contract:
// ClientCount increments for the duration of one Serve call and drops back
// to zero once the client disconnects.
func TestHub_ClientCount_TracksServeLifetime(t *testing.T) {
	hub := newTestHub(t, &fakeSnapshotStore{
		anchors:   []store.AnchorFull{{ID: "A1"}},
		wearables: []store.WearableFull{{UID: "U1"}},
	})
	assert.Equal(t, int64(0), hub.ClientCount())

	servingCtx, cancelServing := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.CloseNow()
		_ = hub.Serve(servingCtx, conn)
		close(serveDone)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, httpToWS(srv.URL), nil)
	require.NoError(t, err)
	defer client.CloseNow()

	// Drain the two-message snapshot so Serve moves into the wait loop,
	// where it stays until servingCtx is canceled below.
	var m map[string]any
	require.NoError(t, wsjson.Read(ctx, client, &m))
	require.NoError(t, wsjson.Read(ctx, client, &m))

	assert.Equal(t, int64(1), hub.ClientCount())
	cancelServing()

	select {
	case <-serveDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
	assert.Equal(t, int64(0), hub.ClientCount())
}
