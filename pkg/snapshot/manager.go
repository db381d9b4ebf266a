// Package snapshot implements SnapshotManager: a per-control cache of
// materialized snapshots keyed by revision number, where concurrent
// requests for the same not-yet-cached revision share one
// materialization instead of each redoing the work.
package snapshot

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// maxCached bounds how many revisions' snapshots are kept at once. A
// control only ever asks for recent revisions (the current one, or one
// just behind it mid-rebase), so a small bound is enough to avoid
// redundant materialization without letting the cache grow with the
// document's entire history.
const maxCached = 8

// Manager caches materialized snapshots of type C, one per revision.
type Manager[C any] struct {
	group singleflight.Group
	log   zerolog.Logger

	mu    sync.Mutex
	cache map[int64]C
	order []int64 // insertion order, oldest first, for eviction
}

// New creates a Manager that logs materialization activity under log.
func New[C any](log zerolog.Logger) *Manager[C] {
	return &Manager[C]{
		cache: make(map[int64]C),
		log:   log,
	}
}

// Get returns the snapshot at rev, calling resolve to materialize it if
// it isn't already cached. Concurrent Get calls for the same rev share a
// single resolve invocation.
func (m *Manager[C]) Get(ctx context.Context, rev int64, resolve func(ctx context.Context) (C, error)) (C, error) {
	m.mu.Lock()
	if v, ok := m.cache[rev]; ok {
		m.mu.Unlock()
		m.log.Debug().Int64("rev", rev).Bool("cacheHit", true).Msg("snapshot served from cache")
		return v, nil
	}
	m.mu.Unlock()

	key := keyFor(rev)
	v, err, shared := m.group.Do(key, func() (any, error) {
		return resolve(ctx)
	})
	if err != nil {
		var zero C
		return zero, err
	}

	result := v.(C)
	m.log.Debug().Int64("rev", rev).Bool("cacheHit", false).Bool("sharedWithConcurrentCaller", shared).
		Msg("snapshot materialized")

	m.mu.Lock()
	m.store(rev, result)
	m.mu.Unlock()

	return result, nil
}

// Nearest scans cached revisions at maxRev, maxRev-1, ... and returns
// the first hit, so a control can fold forward from the closest
// available base instead of rebuilding from scratch. ok is false if
// nothing at or below maxRev is cached.
func (m *Manager[C]) Nearest(maxRev int64) (rev int64, value C, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for r := maxRev; r >= 0; r-- {
		if v, hit := m.cache[r]; hit {
			return r, v, true
		}
	}
	var zero C
	return 0, zero, false
}

// Invalidate drops a cached revision, for use when a control discovers
// its cached snapshot was built from a since-superseded change (a lost
// race that got rebased differently than first assumed).
func (m *Manager[C]) Invalidate(rev int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, rev)
}

func (m *Manager[C]) store(rev int64, v C) {
	if _, exists := m.cache[rev]; !exists {
		m.order = append(m.order, rev)
	}
	m.cache[rev] = v

	for len(m.order) > maxCached {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.cache, oldest)
	}
}

func keyFor(rev int64) string {
	return strconv.FormatInt(rev, 10)
}
