// Package locks implements the Lock Registry (C5): named, cooperative,
// advisory locks shared across all sessions, with optional TTL-based
// staleness override.  It is grounded directly on the lock-handling branch
// of original_source/x84/engine.py's main loop, generalized out of the
// loop and into its own component per spec.md §4.5.
package locks

/*
 * locks.go
 * Named Lock Registry (C5)
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// Registry holds the process-wide named lock table.  Presence of a name in
// the table is equivalent to that lock being held; the registry is
// mutated only by the multiplexer in response to lock* messages (spec.md
// §5).
type Registry struct {
	mu  sync.Mutex
	log *slog.Logger
	m   map[string]time.Time /* name -> acquired_at */
}

// New returns a ready-to-use, empty Registry.  log may be nil, in which
// case a discarding logger is used.
func New(log *slog.Logger) *Registry {
	if nil == log {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{log: log, m: make(map[string]time.Time)}
}

// Acquire implements spec.md §4.5's acquire semantics.  staleSet is false
// when no TTL override was supplied with the request.
func (r *Registry) Acquire(name string, stale float64, staleSet bool) (granted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acquiredAt, held := r.m[name]
	now := time.Now()

	if !held {
		r.m[name] = now
		r.log.Debug("lock granted", "name", name)
		return true
	}
	if staleSet && now.Sub(acquiredAt).Seconds() > stale {
		r.m[name] = now
		r.log.Error(
			"lock stale, overriding",
			"name", name,
			"held_for", now.Sub(acquiredAt),
		)
		return true
	}
	r.log.Warn("lock acquire failed", "name", name)
	return false
}

// Release implements spec.md §4.5's release semantics.  There is no reply
// to a release; failures are only logged.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.m[name]; !held {
		r.log.Error("lock release of unheld lock", "name", name)
		return
	}
	delete(r.m, name)
	r.log.Debug("lock released", "name", name)
}

// Len reports how many locks are currently held, for tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
