// Package seen tracks when each node identity was first observed.
//
// A Store keeps the whole key → first-seen map in memory and mirrors it to a
// Backend. Entries are append-only: once a key has a timestamp it never
// changes, even if the node disappears and comes back later.
package seen

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gyaneshwarpardhi/meshproxy/internal/metrics"
)

// Snapshot is what a Backend persists on flush.
type Snapshot struct {
	// FirstSeen is the full state.
	FirstSeen map[string]int64
	// Added lists the keys not yet persisted, in observation order.
	Added []string
}

// Backend is durable storage for the seen state.
type Backend interface {
	// Load returns the persisted state. A missing store is not an error and
	// returns an empty map.
	Load() (map[string]int64, error)
	Save(Snapshot) error
	// Describe names the storage location for logs.
	Describe() string
}

// Store is the in-memory seen state guarded by a single mutex.
type Store struct {
	mu        sync.Mutex
	backend   Backend
	log       *slog.Logger
	firstSeen map[string]int64
	pending   []string
}

// Rewriter is implemented by backends whose Save replaces the whole
// persisted state. Unreadable state in such a backend is discarded on Open,
// since the next flush overwrites it.
type Rewriter interface {
	RewritesAll() bool
}

// Open loads the state from b. For a Rewriter backend, unreadable or
// malformed state is logged and replaced by an empty state. Any other
// backend fails to open, because its old entries would outlive the empty
// in-memory state.
func Open(b Backend, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{backend: b, log: log}
	if err := s.Load(); err != nil {
		if rw, ok := b.(Rewriter); !ok || !rw.RewritesAll() {
			return nil, fmt.Errorf("load seen state from %s: %w", b.Describe(), err)
		}
		s.log.Warn("seen state unreadable, starting empty", "store", b.Describe(), "err", err)
		s.reset(nil)
	}
	return s, nil
}

// Load replaces the in-memory state with what the backend holds. On error
// the in-memory state is left unchanged.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.backend.Load()
	if err != nil {
		return err
	}
	s.resetLocked(state)
	return nil
}

func (s *Store) reset(state map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(state)
}

func (s *Store) resetLocked(state map[string]int64) {
	if state == nil {
		state = make(map[string]int64)
	}
	s.firstSeen = state
	s.pending = nil
	metrics.SeenIdentities.Set(float64(len(state)))
}

// Get returns the first-seen time of key in epoch milliseconds.
func (s *Store) Get(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.firstSeen[key]
	return ms, ok
}

// Len returns the number of tracked identities.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.firstSeen)
}

// Observe records key at nowMs unless it is already known and returns the
// stored first-seen time. wasNew is true only for the call that inserted it.
// Observe does not flush.
func (s *Store) Observe(key string, nowMs int64) (firstSeen int64, wasNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observe(key, nowMs)
}

// Flush persists pending entries. It is a no-op when nothing is pending.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// Batch runs fn with the store locked and flushes once afterwards when any
// identity was added. It returns the number of identities fn added.
func (s *Store) Batch(fn func(b *Batch)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &Batch{s: s}
	fn(b)
	if len(s.pending) == 0 {
		return b.added, nil
	}
	return b.added, s.flush()
}

// Batch observes keys while the store is locked. It must not escape the
// callback passed to Store.Batch.
type Batch struct {
	s     *Store
	added int
}

// Observe behaves like Store.Observe inside the batch's critical section.
func (b *Batch) Observe(key string, nowMs int64) (int64, bool) {
	ms, isNew := b.s.observe(key, nowMs)
	if isNew {
		b.added++
	}
	return ms, isNew
}

func (s *Store) observe(key string, nowMs int64) (int64, bool) {
	if ms, ok := s.firstSeen[key]; ok {
		return ms, false
	}
	s.firstSeen[key] = nowMs
	s.pending = append(s.pending, key)
	metrics.NewIdentities.Inc()
	metrics.SeenIdentities.Set(float64(len(s.firstSeen)))
	return nowMs, true
}

// flush must be called with mu held. Pending keys survive a failed save so
// the next batch retries them.
func (s *Store) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	snap := Snapshot{FirstSeen: s.firstSeen, Added: s.pending}
	if err := s.backend.Save(snap); err != nil {
		metrics.StateFlushes.WithLabelValues("error").Inc()
		return fmt.Errorf("flush seen state to %s: %w", s.backend.Describe(), err)
	}
	metrics.StateFlushes.WithLabelValues("ok").Inc()
	s.log.Debug("seen state flushed", "store", s.backend.Describe(), "added", len(s.pending), "total", len(s.firstSeen))
	s.pending = nil
	return nil
}
