package cache

import (
	"sync"

	"tamtap/internal/model"
)

// Guard owns the authoritative in-memory snapshot and serializes every
// read-modify-write through a single mutex. This is the only
// concurrency control in the system: both the scan path and the
// background reconnect loop mutate the snapshot exclusively through a
// shared Guard. Remote-store calls must happen outside Update so they
// never run under the lock.
//
// The disk file is a best-effort mirror of the in-memory state. A
// failed write never rolls a mutation back; the full snapshot is
// rewritten on the next mutation anyway, so a transient disk error
// loses nothing as long as the process stays up.
type Guard struct {
	mu   sync.Mutex
	c    *Cache
	snap *model.Snapshot
}

// NewGuard loads the snapshot from disk once and wraps it in the
// shared lock. All later reads are served from memory.
func NewGuard(c *Cache) *Guard {
	return &Guard{c: c, snap: c.Load()}
}

// Update applies fn to the in-memory snapshot and rewrites the file,
// all under the lock. The save error is returned for the caller to
// log; the mutation itself sticks regardless.
func (g *Guard) Update(fn func(*model.Snapshot)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.snap)
	return g.c.Save(g.snap)
}

// View runs fn against the current snapshot under the lock without
// writing it back. fn must not mutate the snapshot or retain
// references to its maps or slices past the call.
func (g *Guard) View(fn func(*model.Snapshot)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.snap)
}
