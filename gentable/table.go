// Package gentable provides a double-buffered "forget after N minutes" map.
//
// A Table keeps two generations of entries. Writes always land in the
// current generation, lookups consult the current generation and then the
// previous one. Every rotation interval the generations swap roles and the
// generation that becomes current is erased. An entry that is not refreshed
// therefore stays visible for at least one and at most two rotation
// intervals, which bounds memory without per-entry timers.
//
// The rendezvous router uses a Table for its routing entries and the
// messenger uses one as its duplicate-suppression window.
package gentable

import (
	"sync"
	"time"
)

// Table is a two-generation map. All methods are safe for concurrent use;
// a lookup never observes a table that is half way through a rotation.
type Table[K comparable, V any] struct {
	mu           sync.RWMutex
	gens         [2]map[K]V
	current      int
	sizeHint     int
	interval     time.Duration
	lastRotation time.Time
}

// New creates a Table that rotates every interval, counting from start.
// sizeHint preallocates each generation. An interval <= 0 disables
// time-driven rotation; Rotate can still be called explicitly.
func New[K comparable, V any](interval time.Duration, start time.Time, sizeHint int) *Table[K, V] {
	if sizeHint < 0 {
		sizeHint = 0
	}
	t := &Table[K, V]{
		sizeHint:     sizeHint,
		interval:     interval,
		lastRotation: start,
	}
	t.gens[0] = make(map[K]V, sizeHint)
	t.gens[1] = make(map[K]V, sizeHint)
	return t
}

// Get looks k up in the current generation, then in the previous one.
func (t *Table[K, V]) Get(k K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getLocked(k)
}

func (t *Table[K, V]) getLocked(k K) (V, bool) {
	// The current generation wins; the previous one may be stale.
	if v, ok := t.gens[t.current][k]; ok {
		return v, true
	}
	v, ok := t.gens[t.current^1][k]
	return v, ok
}

// Contains reports whether k is present in either generation.
func (t *Table[K, V]) Contains(k K) bool {
	_, ok := t.Get(k)
	return ok
}

// Put inserts or refreshes k in the current generation.
func (t *Table[K, V]) Put(k K, v V) {
	t.mu.Lock()
	t.gens[t.current][k] = v
	t.mu.Unlock()
}

// Insert adds k to the current generation only if it is absent from both
// generations, and reports whether it did. The test and the insert happen
// under one lock.
func (t *Table[K, V]) Insert(k K, v V) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.getLocked(k); ok {
		return false
	}
	t.gens[t.current][k] = v
	return true
}

// Rotate swaps the generations and erases the one that becomes current.
func (t *Table[K, V]) Rotate() {
	t.mu.Lock()
	t.rotateLocked()
	t.mu.Unlock()
}

func (t *Table[K, V]) rotateLocked() {
	t.current ^= 1
	t.gens[t.current] = make(map[K]V, t.sizeHint)
}

// Advance performs every rotation that has come due by now and returns how
// many rotation intervals elapsed. After two rotations both generations are
// empty, so longer idle periods only move the schedule forward.
func (t *Table[K, V]) Advance(now time.Time) int {
	if t.interval <= 0 {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := now.Sub(t.lastRotation)
	if elapsed < t.interval {
		return 0
	}

	due := int64(elapsed / t.interval)
	for i := int64(0); i < due && i < 2; i++ {
		t.rotateLocked()
	}
	t.lastRotation = t.lastRotation.Add(time.Duration(due) * t.interval)
	return int(due)
}

// NextRotation returns the time at which Advance will next rotate.
func (t *Table[K, V]) NextRotation() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRotation.Add(t.interval)
}

// Interval returns the rotation interval.
func (t *Table[K, V]) Interval() time.Duration {
	return t.interval
}

// Len returns the number of entries in the current and previous
// generations. A key refreshed since the last rotation is counted twice.
func (t *Table[K, V]) Len() (current, previous int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.gens[t.current]), len(t.gens[t.current^1])
}
