// Package lock implements optional per-source serialization: at most one
// worker may hold a given source's lock at a time, guaranteeing that traps
// from the same source are processed one at a time and in file order.
package lock

import "sync"

// Locker grants and releases exclusive per-source processing rights. The
// zero value is not ready for use; construct with New.
//
// When Enabled is false, Acquire always succeeds and Release is a no-op —
// this lets the Dispatcher call through the same interface regardless of
// whether snmpconsole_lock is configured on.
type Locker struct {
	enabled bool

	mu   sync.Mutex
	held map[string]struct{}
}

// New constructs a Locker. enabled corresponds to the per-source locking
// configuration flag; when false every Acquire call succeeds immediately
// and no state is tracked.
func New(enabled bool) *Locker {
	return &Locker{
		enabled: enabled,
		held:    make(map[string]struct{}),
	}
}

// Acquire attempts to take exclusive ownership of source. It returns true
// ("granted") if ownership was acquired, false ("refused") if another worker
// already holds it. A refused acquire means the caller must defer the trap
// to the next tick's carry-over buffer rather than dispatch it.
func (l *Locker) Acquire(source string) bool {
	if !l.enabled {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.held[source]; held {
		return false
	}
	l.held[source] = struct{}{}
	return true
}

// Release relinquishes ownership of source. Safe to call even if source was
// never acquired (no-op in that case).
func (l *Locker) Release(source string) {
	if !l.enabled {
		return
	}
	l.mu.Lock()
	delete(l.held, source)
	l.mu.Unlock()
}

// Enabled reports whether lock mode is active.
func (l *Locker) Enabled() bool {
	return l.enabled
}

// Snapshot returns a point-in-time copy of the held-source set, consistent
// for the whole producer tick: acquire decisions made against one Snapshot
// are stable regardless of what the live Locker does concurrently. Acquire
// decisions against a Snapshot do not mutate the live Locker; the producer
// uses the returned Snapshot's Acquire to decide defer-vs-enqueue and then
// applies the real Acquire on the live Locker as it enqueues the task.
func (l *Locker) Snapshot() *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	held := make(map[string]struct{}, len(l.held))
	for k := range l.held {
		held[k] = struct{}{}
	}
	return &Snapshot{enabled: l.enabled, held: held}
}

// Snapshot is a consistent, tick-local view of which sources are held. It
// lets the producer decide defer-vs-enqueue without taking the live Locker's
// mutex once per line.
type Snapshot struct {
	enabled bool
	held    map[string]struct{}
}

// Acquire behaves like Locker.Acquire but against the frozen snapshot; a
// granted Acquire here reserves the source for the rest of this tick's
// producer pass so that two lines in the same tick from the same source are
// not both enqueued.
func (s *Snapshot) Acquire(source string) bool {
	if !s.enabled {
		return true
	}
	if _, held := s.held[source]; held {
		return false
	}
	s.held[source] = struct{}{}
	return true
}
