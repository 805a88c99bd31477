// Package client implements the Client Socket (C1): one accepted TCP
// connection's inbound/outbound byte buffers, idle clock, and active flag.
package client

/*
 * client.go
 * Client Socket (C1)
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sysopnet/bbsmux/internal/muxerr"
	"github.com/sysopnet/bbsmux/internal/pipe"
)

// pollDeadline is how far into the future Client.Recv sets its read
// deadline.  It is small enough that a single multiplexer tick never
// blocks on it for long, which is what lets one goroutine own many
// sockets' reads without a reader goroutine per connection.
const pollDeadline = 5 * time.Millisecond

// readChunk is the size of one non-blocking read attempt.
const readChunk = 4096

// Client wraps one accepted connection.  A Client is never touched by
// anything other than the multiplexer and its paired session worker (via
// the Pipe, never the Client directly).
type Client struct {
	conn   net.Conn
	remote string

	active atomic.Bool /* Monotonic: once false, never true again. */

	mu        sync.Mutex
	in        bytes.Buffer
	out       bytes.Buffer
	lastInput time.Time
	width     int
	height    int
}

// New wraps conn as a Client, freshly accepted and active.
func New(conn net.Conn) *Client {
	c := &Client{
		conn:      conn,
		remote:    conn.RemoteAddr().String(),
		lastInput: time.Now(),
	}
	c.active.Store(true)
	return c
}

// RemoteAddr returns the client's remote address, for logging.
func (c *Client) RemoteAddr() string { return c.remote }

// SetWindowSize records the negotiated terminal width/height, as reported
// by the external NAWS callback.
func (c *Client) SetWindowSize(w, h int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = w, h
}

// WindowSize returns the last negotiated terminal width/height.
func (c *Client) WindowSize() (w, h int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Recv drains the socket's receive queue into the inbound buffer.  It
// never blocks for long: reads use a short deadline so a single caller can
// service many clients without dedicating a goroutine to each.  When the
// peer has gone away or the read fails, it returns an error wrapping both
// muxerr.ErrConnectionClosed and the net package's own error, which
// callers should treat as fatal for this client.
func (c *Client) Recv() error {
	if !c.active.Load() {
		return nil
	}
	buf := make([]byte, readChunk)
	if err := c.conn.SetReadDeadline(
		time.Now().Add(pollDeadline),
	); nil != err {
		return fmt.Errorf("setting read deadline: %w", err)
	}
	for {
		n, err := c.conn.Read(buf)
		if 0 < n {
			c.mu.Lock()
			c.in.Write(buf[:n])
			c.lastInput = time.Now()
			c.mu.Unlock()
		}
		if nil != err {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil /* Nothing more right now. */
			}
			return fmt.Errorf(
				"recv: %w: %w",
				muxerr.ErrConnectionClosed,
				err,
			)
		}
		if n < len(buf) {
			return nil /* Short read; drained for now. */
		}
	}
}

// SendPending flushes as much of the outbound buffer as the socket accepts
// without blocking long.
func (c *Client) SendPending() error {
	if !c.active.Load() {
		return nil
	}
	c.mu.Lock()
	if 0 == c.out.Len() {
		c.mu.Unlock()
		return nil
	}
	b := c.out.Bytes()
	c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(
		time.Now().Add(pollDeadline),
	); nil != err {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	n, err := c.conn.Write(b)

	c.mu.Lock()
	c.out.Next(n)
	c.mu.Unlock()

	if nil != err {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// QueueUnicode appends rendered bytes to the outbound buffer.  Per
// spec.md §4.1, raw 8-bit bytes are passed through unchanged; the core
// must never re-decode them.
func (c *Client) QueueUnicode(text string, encoding pipe.Encoding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch encoding {
	case pipe.EncodingRaw8Bit:
		/* text already holds the raw bytes, one rune per byte; ship
		them through unmolested. */
		c.out.WriteString(text)
	default:
		c.out.WriteString(text)
	}
}

// TakeInput removes and returns all accumulated input bytes.
func (c *Client) TakeInput() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if 0 == c.in.Len() {
		return nil
	}
	b := bytes.Clone(c.in.Bytes())
	c.in.Reset()
	return b
}

// InputReady reports whether there is unread input waiting.
func (c *Client) InputReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return 0 < c.in.Len()
}

// SendReady reports whether there is unsent output waiting.
func (c *Client) SendReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return 0 < c.out.Len()
}

// Idle returns the number of seconds since the last observed input byte.
func (c *Client) Idle() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastInput).Seconds()
}

// Active reports whether the client is still considered connected.
func (c *Client) Active() bool { return c.active.Load() }

// Deactivate sets active to false.  Idempotent.
func (c *Client) Deactivate() { c.active.Store(false) }

// Close closes the underlying socket.  Call once, after the multiplexer
// has finished draining the client's paired pipe.
func (c *Client) Close() error { return c.conn.Close() }
