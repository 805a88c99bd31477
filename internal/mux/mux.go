// Package mux implements the Event Loop (C7): the single-threaded
// multiplexer that reaps dead clients, drains and fills socket buffers,
// accepts new connections, enforces idle timeouts, and dispatches every
// message a session worker sends across its pipe.
//
// Grounded on the main loop read from original_source/x84/engine.py and
// original_source/engine.py (the two historical revisions spec.md was
// distilled from): reap, then egress, then a bounded wait, then accept,
// then ingress, then per-session servicing with aggressive pipe drain.
// The "single select loop" shape is translated into a ticker-driven
// goroutine, the cooperative-scheduling substitution spec.md's glossary
// sanctions ("task + channel" may stand in for raw readiness sets).
package mux

/*
 * mux.go
 * Event Loop (C7)
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sysopnet/bbsmux/internal/client"
	"github.com/sysopnet/bbsmux/internal/dbqueue"
	"github.com/sysopnet/bbsmux/internal/listener"
	"github.com/sysopnet/bbsmux/internal/locks"
	"github.com/sysopnet/bbsmux/internal/muxerr"
	"github.com/sysopnet/bbsmux/internal/pipe"
	"github.com/sysopnet/bbsmux/internal/registry"
	"github.com/sysopnet/bbsmux/internal/session"
	"github.com/sysopnet/bbsmux/lib/uu"
)

// tick is how often the loop runs one full pass: reap, egress, accept,
// ingress, session-servicing. Spec.md §4.7 step 3 calls this the
// mandatory 1-second wait timeout, since idle enforcement is wall-clock
// driven.
const tick = 1 * time.Second

// titler renders an event-tag kind for human-readable log text, the same
// idiom the teacher's iobroker.go uses for its direction field.
var titler = cases.Title(language.English)

// Mux is the connection multiplexer. One Mux drives exactly one
// listener, one Terminal Registry, one Lock Registry, and an optional DB
// Offload queue.
type Mux struct {
	log *slog.Logger

	ln  *listener.Listener
	reg *registry.Registry
	lck *locks.Registry
	db  *dbqueue.Queue

	timeout        float64 /* Seconds. */
	newWorker      session.Factory
	passwordDigest string

	runCtx context.Context
	runCan context.CancelCauseFunc
}

// Config collects Mux's dependencies and tunables.
type Config struct {
	Listener *listener.Listener
	Registry *registry.Registry
	Locks    *locks.Registry
	DB       *dbqueue.Queue /* May be nil: db* tags then log and drop. */
	Timeout  float64        /* Idle seconds before ConnectionTimeout. */

	// NewWorker constructs the session worker for each newly accepted
	// connection. Spec.md §4.3 treats the worker's identity as an
	// external collaborator's decision; Mux only knows the interface.
	NewWorker session.Factory

	// PasswordDigest is spec.md §6's system.password_digest config
	// value, plumbed through to each worker's [session.Options] opaquely
	// (see session.Options's doc comment).
	PasswordDigest string

	Log *slog.Logger
}

// New builds a Mux from cfg. It does not start accepting connections;
// call Run for that.
func New(cfg Config) *Mux {
	m := &Mux{
		log:            cfg.Log,
		ln:             cfg.Listener,
		reg:            cfg.Registry,
		lck:            cfg.Locks,
		db:             cfg.DB,
		timeout:        cfg.Timeout,
		newWorker:      cfg.NewWorker,
		passwordDigest: cfg.PasswordDigest,
	}
	m.ln.OnConnectFunc(m.spawn)
	return m
}

// spawn registers a newly-accepted client's triple and starts its session
// worker, per spec.md §4.4's "insertion is the responsibility of the
// session-spawn path".
func (m *Mux) spawn(c *client.Client) {
	p := pipe.New(64)
	t := m.reg.Register(c, p)

	ctx, cancel := context.WithCancel(m.runCtx)
	go func() {
		defer cancel()
		w := m.newWorker(session.Options{
			RemoteAddr:     c.RemoteAddr(),
			PasswordDigest: m.passwordDigest,
		})
		if err := w.Go(ctx, p.SessionSide()); nil != err {
			m.log.Error(
				"session worker exited with error",
				"session_id", t.ID,
				"remote", c.RemoteAddr(),
				"error", err,
			)
		}
	}()

	m.log.Debug(
		"session registered",
		"session_id", t.ID,
		"remote", c.RemoteAddr(),
	)
}

// Run drives the event loop until ctx is done. It implements spec.md
// §4.7's iteration and §4.8's shutdown.
func (m *Mux) Run(ctx context.Context) error {
	m.runCtx, m.runCan = context.WithCancelCause(ctx)
	defer m.runCan(nil)

	acceptDone := make(chan error, 1)
	go func() { acceptDone <- m.acceptLoop(m.runCtx) }()

	t := time.NewTicker(tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			<-acceptDone
			return nil
		case err := <-acceptDone:
			m.shutdown()
			return err
		case <-t.C:
			if err := m.pass(); nil != err {
				m.shutdown()
				<-acceptDone
				return err
			}
		}
	}
}

// acceptLoop repeatedly calls Listener.Accept, the dedicated-goroutine
// substitute for adding listener_fd to a raw readiness set (spec.md §4.7
// step 4).
func (m *Mux) acceptLoop(ctx context.Context) error {
	for {
		if nil != ctx.Err() {
			return nil
		}
		if err := m.ln.Accept(); nil != err {
			if nil != ctx.Err() {
				return nil
			}
			return fmt.Errorf("accept loop: %w", err)
		}
	}
}

// pass runs one full iteration: reap, egress, ingress, session servicing.
// It returns a non-nil error only for a fatal condition (spec.md §7's
// ProtocolViolation), which must stop the whole multiplexer, not just the
// offending session.
func (m *Mux) pass() error {
	m.reap()
	m.egress()
	m.ingress()
	return m.service()
}

// reap implements spec.md §4.7 step 1: notify the session of the
// disconnect, close the socket, and forget the client. The triple itself
// stays registered — spec.md §3's client lifecycle destroys it only once
// the multiplexer has finished draining its pipe, which happens later via
// the "exit" tag or pipe EOF in serviceOne/dispatch.
func (m *Mux) reap() {
	for _, c := range m.ln.Clients() {
		if c.Active() {
			continue
		}
		if t := m.findByClient(c); nil != t {
			t.Pipe.CoreSide().Send(pipe.Message{
				Kind:      pipe.KindException,
				Exception: &muxerr.Disconnect{},
			})
		}
		c.Close()
		m.ln.Forget(c)
		m.log.Debug("reaped client", "remote", c.RemoteAddr())
	}
}

// findByClient returns the triple registered for c, or nil. Linear in the
// registry's size; acceptable at the scale spec.md targets (hundreds of
// sessions, not millions).
func (m *Mux) findByClient(c *client.Client) *registry.Triple {
	for _, t := range m.reg.Snapshot() {
		if t.Client == c {
			return t
		}
	}
	return nil
}

// egress implements spec.md §4.7 step 2.
func (m *Mux) egress() {
	for _, t := range m.reg.Snapshot() {
		if !t.TryLock() {
			continue /* Lock already held; retry next tick. */
		}
		if t.Client.Active() && t.Client.SendReady() {
			if err := t.Client.SendPending(); nil != err {
				t.Client.Deactivate()
				m.log.Debug(
					"send failed, deactivating",
					"session_id", t.ID,
					"error", err,
				)
			}
		}
		t.Unlock()
	}
}

// ingress implements spec.md §4.7 step 5.
func (m *Mux) ingress() {
	for _, t := range m.reg.Snapshot() {
		if !t.Client.Active() {
			continue
		}
		if err := t.Client.Recv(); nil != err {
			t.Client.Deactivate()
			m.log.Debug(
				"recv failed, deactivating",
				"session_id", t.ID,
				"error", err,
			)
		}
	}
}

// service implements spec.md §4.7 step 6: idle-timeout notification,
// input delivery, and aggressive pipe drain with per-message dispatch. It
// returns a non-nil error only if a session's dispatch hit a fatal
// condition (ProtocolViolation), which must abort the whole loop.
func (m *Mux) service() error {
	for _, t := range m.reg.Snapshot() {
		if err := m.serviceOne(t); nil != err {
			return err
		}
	}
	return nil
}

func (m *Mux) serviceOne(t *registry.Triple) error {
	/* 6a: idle timeout. */
	if t.Client.Idle() > m.timeout && !t.TimeoutNotified() {
		if t.TryLock() {
			t.Pipe.CoreSide().Send(pipe.Message{
				Kind: pipe.KindException,
				Exception: &muxerr.ConnectionTimeout{
					IdleSeconds: t.Client.Idle(),
				},
			})
			t.MarkTimeoutNotified()
			t.Unlock()
		}
	} else if t.Client.Idle() <= m.timeout {
		t.ClearTimeoutNotified()
	}

	/* 6b: input delivery. */
	if t.Client.InputReady() {
		if t.TryLock() {
			if b := t.Client.TakeInput(); nil != b {
				t.Pipe.CoreSide().Send(pipe.Message{
					Kind: pipe.KindInput,
					Output: pipe.OutputPayload{
						Text:     string(b),
						Encoding: pipe.EncodingUnicode,
					},
				})
			}
			t.Unlock()
		}
	}

	/* 6c: aggressive drain. */
	side := t.Pipe.CoreSide()
	for {
		msg, ok, closed := side.TryRecv()
		if closed {
			m.log.Debug("pipe closed during drain", "session_id", t.ID)
			m.reg.Unregister(t)
			t.Pipe.Close()
			t.Client.Deactivate()
			return nil
		}
		if !ok {
			return nil /* Drained for this tick. */
		}
		cont, err := m.dispatch(t, msg)
		if nil != err {
			return err /* Fatal: propagate out of the whole loop. */
		}
		if !cont {
			return nil /* exit tag: triple already torn down. */
		}
	}
}

// dispatch implements spec.md §4.7's per-message dispatch table. It
// returns cont == false if t was terminated (the "exit" tag) and the
// caller should stop draining it. A non-nil err is fatal to the whole
// multiplexer (spec.md §7's ProtocolViolation); the caller must propagate
// it out of Run without tearing t down specially, since the entire process
// is about to stop anyway.
func (m *Mux) dispatch(t *registry.Triple, msg pipe.Message) (cont bool, err error) {
	switch msg.Kind {
	case pipe.KindExit:
		m.reg.Unregister(t)
		t.Pipe.Close()
		t.Client.Deactivate()
		m.log.Debug("session exited", "session_id", t.ID)
		return false, nil

	case pipe.KindLogger:
		m.log.Info(
			"session log",
			"session_id", t.ID,
			"payload", uu.RenderOpaque(msg.Logger),
		)

	case pipe.KindOutput:
		t.Client.QueueUnicode(msg.Output.Text, msg.Output.Encoding)

	case pipe.KindGlobal:
		for _, other := range m.reg.Snapshot() {
			if other.ID == t.ID {
				continue
			}
			other.Pipe.CoreSide().Send(pipe.Message{
				Kind:   pipe.KindGlobal,
				RawTag: msg.RawTag,
				Global: msg.Global,
			})
		}

	case pipe.KindDB:
		if nil == m.db {
			m.log.Error(
				"db request with no db offload configured",
				"session_id", t.ID,
				"tag", msg.RawTag,
			)
			return true, nil
		}
		m.db.Submit(t.Pipe.CoreSide(), msg)

	case pipe.KindLock:
		m.dispatchLock(t, msg)

	default:
		return false, m.fatalProtocolViolation(t, msg)
	}
	return true, nil
}

// dispatchLock implements spec.md §4.5's lock semantics from inside the
// drain loop, replying on the same pipe under the same tag.
func (m *Mux) dispatchLock(t *registry.Triple, msg pipe.Message) {
	var granted bool
	switch msg.Lock.Method {
	case pipe.LockAcquire:
		granted = m.lck.Acquire(msg.Name, msg.Lock.Stale, msg.Lock.StaleSet)
	case pipe.LockRelease:
		m.lck.Release(msg.Name)
		return /* No reply to a release (spec.md §4.5). */
	default:
		m.log.Error(
			"unrecognized lock method",
			"session_id", t.ID,
			"method", msg.Lock.Method,
		)
		return
	}
	t.Pipe.CoreSide().Send(pipe.Message{
		Kind:      pipe.KindLock,
		Name:      msg.Name,
		RawTag:    msg.RawTag,
		LockReply: pipe.LockReply{Granted: granted},
	})
}

// fatalProtocolViolation implements spec.md §4.7's "otherwise" row: a
// session sent an event tag the core doesn't recognize. Per spec.md §7 this
// is fatal to the whole multiplexer, not just the offending session — "no
// global error escalates out of the multiplexer except shutdown signals and
// ProtocolViolation" — so it only logs the diagnostic and returns the error
// for Run to propagate; it does not itself tear down t, since the caller is
// about to shut the entire process down.
func (m *Mux) fatalProtocolViolation(t *registry.Triple, msg pipe.Message) error {
	err := &muxerr.ProtocolViolation{Tag: msg.RawTag}
	m.log.Error(
		"protocol violation, asserting",
		"session_id", t.ID,
		"kind", titler.String(string(msg.Kind)),
		"tag", msg.RawTag,
		"error", err,
	)
	return err
}

// SessionInfo summarizes one registered triple for the sysop console.
type SessionInfo struct {
	ID     string
	Remote string
	Idle   float64
}

// Sessions returns a snapshot of every currently-registered session, for
// the sysop console's status commands.
func (m *Mux) Sessions() []SessionInfo {
	snap := m.reg.Snapshot()
	out := make([]SessionInfo, 0, len(snap))
	for _, t := range snap {
		out = append(out, SessionInfo{
			ID:     t.ID,
			Remote: t.Client.RemoteAddr(),
			Idle:   t.Client.Idle(),
		})
	}
	return out
}

// HeldLocks reports how many named locks are currently held, for the
// sysop console's status commands.
func (m *Mux) HeldLocks() int { return m.lck.Len() }

// Broadcast posts text as a global message to every registered session,
// as though it had originated from a session worker's "global" tag. It is
// the sysop console's equivalent of a session-originated broadcast.
func (m *Mux) Broadcast(text string) {
	for _, t := range m.reg.Snapshot() {
		t.Pipe.CoreSide().Send(pipe.Message{
			Kind:   pipe.KindGlobal,
			RawTag: string(pipe.KindGlobal),
			Global: text,
		})
	}
}

// Kick deactivates the client for the session with the given ID, which the
// multiplexer will reap on its next tick. It reports whether a matching
// session was found.
func (m *Mux) Kick(sessionID string) bool {
	for _, t := range m.reg.Snapshot() {
		if t.ID == sessionID {
			t.Client.Deactivate()
			return true
		}
	}
	return false
}

// shutdown implements spec.md §4.8: close every known client's socket and
// let session workers observe pipe closure on their own.
func (m *Mux) shutdown() {
	m.runCan(context.Canceled)
	for _, c := range m.ln.Clients() {
		c.Close()
	}
	for _, t := range m.reg.Snapshot() {
		t.Pipe.Close()
	}
	m.ln.Close()
}
