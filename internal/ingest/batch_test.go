package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbh-rtls/rtls-core/internal/store"
)

// fakeLoader feeds a KnownIDs cache without a real store.
type fakeLoader struct {
	anchors   map[string]struct{}
	wearables map[string]struct{}
}

func (f *fakeLoader) LoadKnownAnchorIDs(ctx context.Context) (map[string]struct{}, error) {
	return f.anchors, nil
}

func (f *fakeLoader) LoadKnownWearableUIDs(ctx context.Context) (map[string]struct{}, error) {
	return f.wearables, nil
}

// fakeWriter records everything passed through InsertX instead of touching
// Postgres, so flush behavior can be asserted directly.
type fakeWriter struct {
	scans    []store.ScanRow
	statuses []store.StatusRow
	events   []store.EventRow
}

func (f *fakeWriter) InsertScans(ctx context.Context, rows []store.ScanRow) (int, error) {
	f.scans = append(f.scans, rows...)
	return len(rows), nil
}

func (f *fakeWriter) InsertStatuses(ctx context.Context, rows []store.StatusRow) (int, error) {
	f.statuses = append(f.statuses, rows...)
	return len(rows), nil
}

func (f *fakeWriter) InsertEvents(ctx context.Context, rows []store.EventRow) (int, error) {
	f.events = append(f.events, rows...)
	return len(rows), nil
}

func TestBatchWriter_FiltersUnknownFK(t *testing.T) {
	loader := &fakeLoader{
		anchors:   map[string]struct{}{"A1": {}},
		wearables: map[string]struct{}{"U1": {}},
	}
	known := NewKnownIDs(loader, time.Minute)
	require.NoError(t, known.Load(context.Background()))

	fw := &fakeWriter{}
	bw := NewBatchWriter(fw, known, 200, time.Second)

	bw.AddScan(ScanMessage{AnchorID: "A1", UID: "U1", RSSI: -50})
	bw.AddScan(ScanMessage{AnchorID: "Z", UID: "U1", RSSI: -50}) // unknown anchor
	bw.AddScan(ScanMessage{AnchorID: "A1", UID: "ZZ", RSSI: -50}) // unknown wearable

	bw.Flush(context.Background())

	assert.Len(t, fw.scans, 1)
	assert.Equal(t, "A1", fw.scans[0].AnchorID)
	assert.Equal(t, "U1", fw.scans[0].UID)
}

func TestBatchWriter_ShouldFlushOnSizeThreshold(t *testing.T) {
	known := NewKnownIDs(&fakeLoader{anchors: map[string]struct{}{}, wearables: map[string]struct{}{}}, time.Minute)
	require.NoError(t, known.Load(context.Background()))

	bw := NewBatchWriter(&fakeWriter{}, known, 2, time.Hour)
	assert.False(t, bw.ShouldFlush())
	bw.AddScan(ScanMessage{AnchorID: "A", UID: "U"})
	assert.False(t, bw.ShouldFlush())
	bw.AddScan(ScanMessage{AnchorID: "A", UID: "U"})
	assert.True(t, bw.ShouldFlush())
}

func TestBatchWriter_EmptyAfterFlush(t *testing.T) {
	known := NewKnownIDs(&fakeLoader{
		anchors:   map[string]struct{}{"A": {}},
		wearables: map[string]struct{}{"U": {}},
	}, time.Minute)
	require.NoError(t, known.Load(context.Background()))

	bw := NewBatchWriter(&fakeWriter{}, known, 200, time.Second)
	bw.AddScan(ScanMessage{AnchorID: "A", UID: "U"})
	assert.False(t, bw.Empty())
	bw.Flush(context.Background())
	assert.True(t, bw.Empty())
}
