package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// idLoader loads the current sets of known anchor and wearable ids from the
// store. Implemented by *store.Store in production and faked in tests.
type idLoader interface {
	LoadKnownAnchorIDs(ctx context.Context) (map[string]struct{}, error)
	LoadKnownWearableUIDs(ctx context.Context) (map[string]struct{}, error)
}

// KnownIDs is the in-memory cache of known anchor and wearable identifiers
// (C1). Reloads are best-effort: a failed reload keeps serving the previous
// snapshot. Safe for concurrent reads; EnsureFresh should be serialized
// through a single caller (the ingestor main loop), per spec §5.
type KnownIDs struct {
	loader       idLoader
	refreshEvery time.Duration

	mu          sync.RWMutex
	anchors     map[string]struct{}
	wearables   map[string]struct{}
	lastLoaded  time.Time
}

// NewKnownIDs builds a cache that reloads at most once per refreshEvery.
func NewKnownIDs(loader idLoader, refreshEvery time.Duration) *KnownIDs {
	return &KnownIDs{
		loader:       loader,
		refreshEvery: refreshEvery,
		anchors:      map[string]struct{}{},
		wearables:    map[string]struct{}{},
	}
}

// Load performs the initial, unconditional load. Call once at startup.
func (k *KnownIDs) Load(ctx context.Context) error {
	anchors, err := k.loader.LoadKnownAnchorIDs(ctx)
	if err != nil {
		return err
	}
	wearables, err := k.loader.LoadKnownWearableUIDs(ctx)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.anchors = anchors
	k.wearables = wearables
	k.lastLoaded = time.Now()
	k.mu.Unlock()
	slog.Info("loaded known ids", "anchors", len(anchors), "wearables", len(wearables))
	return nil
}

// EnsureFresh reloads both sets if the cache is older than refreshEvery.
// Failures are logged and the previous snapshot is preserved.
func (k *KnownIDs) EnsureFresh(ctx context.Context) {
	k.mu.RLock()
	age := time.Since(k.lastLoaded)
	k.mu.RUnlock()
	if age < k.refreshEvery {
		return
	}
	if err := k.Load(ctx); err != nil {
		slog.Warn("known-id cache refresh failed, serving stale snapshot", "err", err, "age", age)
	}
}

// KnownAnchor reports whether id is a currently known anchor.
func (k *KnownIDs) KnownAnchor(id string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.anchors[id]
	return ok
}

// KnownWearable reports whether uid is a currently known wearable.
func (k *KnownIDs) KnownWearable(uid string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.wearables[uid]
	return ok
}
