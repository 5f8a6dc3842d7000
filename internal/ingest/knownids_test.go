package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	fakeLoader
	loads   int
	failing bool
}

func (c *countingLoader) LoadKnownAnchorIDs(ctx context.Context) (map[string]struct{}, error) {
	c.loads++
	if c.failing {
		return nil, errors.New("store unavailable")
	}
	return c.fakeLoader.anchors, nil
}

func TestKnownIDs_EnsureFreshSkipsReloadWithinWindow(t *testing.T) {
	loader := &countingLoader{fakeLoader: fakeLoader{anchors: map[string]struct{}{"A": {}}, wearables: map[string]struct{}{}}}
	k := NewKnownIDs(loader, time.Hour)
	require.NoError(t, k.Load(context.Background()))
	assert.Equal(t, 1, loader.loads)

	k.EnsureFresh(context.Background())
	assert.Equal(t, 1, loader.loads, "refresh window not elapsed, should not reload")
}

func TestKnownIDs_EnsureFreshReloadsAfterWindow(t *testing.T) {
	loader := &countingLoader{fakeLoader: fakeLoader{anchors: map[string]struct{}{"A": {}}, wearables: map[string]struct{}{}}}
	k := NewKnownIDs(loader, time.Millisecond)
	require.NoError(t, k.Load(context.Background()))

	time.Sleep(5 * time.Millisecond)
	k.EnsureFresh(context.Background())
	assert.Equal(t, 2, loader.loads)
}

func TestKnownIDs_EnsureFreshKeepsStaleSnapshotOnFailure(t *testing.T) {
	loader := &countingLoader{fakeLoader: fakeLoader{anchors: map[string]struct{}{"A": {}}, wearables: map[string]struct{}{}}}
	k := NewKnownIDs(loader, time.Millisecond)
	require.NoError(t, k.Load(context.Background()))

	loader.failing = true
	time.Sleep(5 * time.Millisecond)
	k.EnsureFresh(context.Background())

	assert.True(t, k.KnownAnchor("A"), "stale snapshot should be preserved on reload failure")
}

func TestKnownIDs_KnownAnchorAndWearable(t *testing.T) {
	loader := &fakeLoader{anchors: map[string]struct{}{"A": {}}, wearables: map[string]struct{}{"U": {}}}
	k := NewKnownIDs(loader, time.Minute)
	require.NoError(t, k.Load(context.Background()))

	assert.True(t, k.KnownAnchor("A"))
	assert.False(t, k.KnownAnchor("B"))
	assert.True(t, k.KnownWearable("U"))
	assert.False(t, k.KnownWearable("X"))
}
