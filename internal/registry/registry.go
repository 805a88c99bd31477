// Package registry implements the Terminal Registry (C4): the
// process-wide, snapshot-safe set of (client, pipe, lock) triples that is
// the sole rendezvous between the multiplexer and session workers.
package registry

/*
 * registry.go
 * Terminal Registry (C4)
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sysopnet/bbsmux/internal/client"
	"github.com/sysopnet/bbsmux/internal/pipe"
)

// Triple is one registered session: a client, its pipe, and a
// non-reentrant try-lock.  The multiplexer takes the lock around its own
// per-tick work on the triple; internal/dbqueue's detached workers post
// their replies through the pipe without taking it.
type Triple struct {
	ID     string
	Client *client.Client
	Pipe   *pipe.Pipe

	lock sync.Mutex

	// timeoutNotified suppresses duplicate ConnectionTimeout delivery
	// within a single idle episode (spec.md §9, Open Question #2); it
	// is cleared the next time fresh input arrives.
	timeoutNotified bool
}

// TryLock attempts to acquire t's non-reentrant lock.  It never blocks.
func (t *Triple) TryLock() bool { return t.lock.TryLock() }

// Unlock releases t's lock.  Callers must only call this after a
// successful TryLock.
func (t *Triple) Unlock() { t.lock.Unlock() }

// MarkTimeoutNotified records that a ConnectionTimeout has been posted for
// this triple's current idle episode.
func (t *Triple) MarkTimeoutNotified() { t.timeoutNotified = true }

// TimeoutNotified reports whether a ConnectionTimeout has already been
// posted for the current idle episode.
func (t *Triple) TimeoutNotified() bool { return t.timeoutNotified }

// ClearTimeoutNotified resets the suppression once fresh input arrives.
func (t *Triple) ClearTimeoutNotified() { t.timeoutNotified = false }

// Registry is the process-singleton set of registered triples.  It is
// owned by the multiplexer and passed by reference to helpers; it is never
// an ambient global.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Triple
}

// New returns an empty, ready-to-use Registry.
func New() *Registry {
	return &Registry{m: make(map[string]*Triple)}
}

// Register adds a new triple for c and p, returning it.  Insertion is the
// responsibility of the session-spawn path (spec.md §4.4).
func (r *Registry) Register(c *client.Client, p *pipe.Pipe) *Triple {
	t := &Triple{ID: uuid.NewString(), Client: c, Pipe: p}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[t.ID] = t
	return t
}

// Unregister removes a triple.  Safe to call while another goroutine holds
// a snapshot from Snapshot; it never mutates a slice returned earlier.
func (r *Registry) Unregister(t *Triple) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, t.ID)
}

// Snapshot returns a point-in-time copy of the registered triples, safe to
// range over even as other goroutines register or unregister concurrently
// (spec.md §4.4's "iteration must be safe against concurrent removal").
func (r *Registry) Snapshot() []*Triple {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Triple, 0, len(r.m))
	for _, t := range r.m {
		out = append(out, t)
	}
	return out
}

// Len reports how many triples are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
