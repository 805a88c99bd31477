// Package listener implements the Listener (C2): owns the listening
// socket, accepts new connections, and enforces the maximum-connection
// cap.
package listener

/*
 * listener.go
 * Listener (C2)
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/sysopnet/bbsmux/internal/client"
)

// OnConnect is called once per accepted connection, after the Client has
// been constructed and added to the listener's table.  It is the
// external collaborator responsible for spawning the session worker and
// registering its triple in the Terminal Registry (spec.md §4.2).
type OnConnect func(c *client.Client)

// Listener owns the listening socket and the set of currently-connected
// clients, keyed by an opaque handle.  Only the multiplexer mutates this
// table.
type Listener struct {
	ln  net.Listener
	log *slog.Logger

	maxConns  int
	onConnect OnConnect

	mu      sync.Mutex
	clients map[*client.Client]struct{}
}

// New starts listening on addr (e.g. "0.0.0.0:2323") and returns a
// Listener ready to Accept.
func New(
	addr string,
	maxConns int,
	onConnect OnConnect,
	log *slog.Logger,
) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if nil != err {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return &Listener{
		ln:        ln,
		log:       log,
		maxConns:  maxConns,
		onConnect: onConnect,
		clients:   make(map[*client.Client]struct{}),
	}, nil
}

// OnConnectFunc sets (or replaces) the callback invoked once per accepted
// connection. It exists so a caller whose OnConnect needs a reference to
// something constructed after the Listener (e.g. the multiplexer itself)
// can wire it up post-construction.
func (l *Listener) OnConnectFunc(f OnConnect) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConnect = f
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept accepts one pending connection, per spec.md §4.2: if accepting it
// would exceed maxConns, it is closed immediately and an error-level log
// is emitted; otherwise a Client is constructed, added to the table, and
// OnConnect is invoked.
//
// Accept is only ever called from the multiplexer's single goroutine, in
// response to its listening descriptor being ready (spec.md §4.7 step 4).
func (l *Listener) Accept() error {
	conn, err := l.ln.Accept()
	if nil != err {
		return fmt.Errorf("accept: %w", err)
	}

	l.mu.Lock()
	n := len(l.clients)
	l.mu.Unlock()

	if n >= l.maxConns {
		conn.Close()
		l.log.Error(
			"refused new connection; maximum reached",
			"remote", conn.RemoteAddr(),
			"max_connections", l.maxConns,
		)
		return nil
	}

	c := client.New(conn)
	l.mu.Lock()
	l.clients[c] = struct{}{}
	l.mu.Unlock()

	if nil != l.onConnect {
		l.onConnect(c)
	}
	return nil
}

// Forget removes c from the listener's table.  Called by the multiplexer
// once it has reaped c (closed its socket after draining its pipe).
func (l *Listener) Forget(c *client.Client) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, c)
}

// Clients returns a snapshot of all currently-tracked clients.
func (l *Listener) Clients() []*client.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*client.Client, 0, len(l.clients))
	for c := range l.clients {
		out = append(out, c)
	}
	return out
}

// Count reports how many clients the listener currently tracks.
func (l *Listener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Close closes the listening socket.  Does not touch connected clients;
// the multiplexer is responsible for closing those on shutdown (spec.md
// §4.8).
func (l *Listener) Close() error { return l.ln.Close() }

// FD-style readiness: Listener exposes no file descriptor directly since
// the multiplexer drives Accept via a dedicated goroutine feeding a
// channel (see internal/mux), the idiomatic Go equivalent of adding
// listener_fd to a raw readiness set.
