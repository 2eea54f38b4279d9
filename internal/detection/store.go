// Package detection holds the shared snapshot of the most recent marker poses.
//
// The store is the hand-off point between the pose pipeline (single producer,
// publishing one complete snapshot per frame) and any number of control
// sessions reading poses on their own cadence. Readers always observe either
// the previous complete snapshot or the new complete one, never a mix.
package detection

import (
	"sync"
	"time"

	"github.com/planthopper/planthopper/internal/pose"
	"github.com/planthopper/planthopper/internal/timeutil"
)

// Snapshot maps marker id to the pose estimated for it in one frame.
type Snapshot map[int]pose.MarkerPose

// Store is a thread-safe, atomically swapped snapshot of the latest pose per
// marker id. The lock bounds only the pointer swap, not the computation that
// built the snapshot.
type Store struct {
	mu     sync.RWMutex
	snap   Snapshot
	maxAge time.Duration
	clock  timeutil.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAge makes poses older than maxAge invisible to Get. Zero (the
// default) disables expiry: a published pose stays visible until the next
// snapshot replaces it, however long ago it was captured.
func WithMaxAge(maxAge time.Duration) Option {
	return func(s *Store) { s.maxAge = maxAge }
}

// WithClock replaces the clock used for max-age checks.
func WithClock(clock timeutil.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		snap:  Snapshot{},
		clock: timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish replaces the visible snapshot. The caller hands over ownership of
// snap and must not mutate it afterwards.
func (s *Store) Publish(snap Snapshot) {
	if snap == nil {
		snap = Snapshot{}
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// Get returns the pose for a marker id from the currently-visible snapshot.
// It never blocks beyond the swap's critical section.
func (s *Store) Get(markerID int) (pose.MarkerPose, bool) {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	p, ok := snap[markerID]
	if !ok {
		return pose.MarkerPose{}, false
	}
	if s.maxAge > 0 && s.clock.Since(p.CapturedAt) > s.maxAge {
		return pose.MarkerPose{}, false
	}
	return p, true
}

// Current returns the currently-visible snapshot. The returned map is shared
// and must be treated as read-only.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Len returns the number of markers in the currently-visible snapshot.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snap)
}
