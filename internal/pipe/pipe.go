// Package pipe implements the bidirectional, ordered message channel
// between the multiplexer and a session worker, and the tagged-variant
// [Message] representation the dispatcher decodes event tags into at the
// boundary (see spec.md's Dynamic message tags design note).
package pipe

/*
 * pipe.go
 * Bidirectional ordered message channel, core <-> session worker
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Kind identifies which variant a [Message] holds.
type Kind string

// Recognized event-tag kinds (spec.md §3, the closed set at the core
// boundary).  Db and Lock are prefix-matched (db*, lock*); the remainder of
// the tag is carried in Message.Name.
const (
	KindInput     Kind = "input"
	KindOutput    Kind = "output"
	KindGlobal    Kind = "global"
	KindExit      Kind = "exit"
	KindLogger    Kind = "logger"
	KindException Kind = "exception"
	KindDB        Kind = "db"
	KindLock      Kind = "lock"
)

// dbPrefix and lockPrefix are the tag prefixes which layer the db* and
// lock* sub-protocols, per spec.md §3.
const (
	dbPrefix   = "db"
	lockPrefix = "lock"
)

// Encoding names the two modes [OutputPayload] may render text in.
type Encoding string

const (
	// EncodingUnicode is UTF-8 (or the negotiated terminal encoding).
	EncodingUnicode Encoding = "unicode"
	// EncodingRaw8Bit is legacy codepage bytes, shipped through
	// unchanged; the core must never re-decode them.
	EncodingRaw8Bit Encoding = "raw8bit"
)

// OutputPayload is the payload of an output message.
type OutputPayload struct {
	Text     string
	Encoding Encoding
}

// LockMethod names a lock operation.
type LockMethod string

const (
	LockAcquire LockMethod = "acquire"
	LockRelease LockMethod = "release"
)

// LockPayload is the payload of a lock* request.  Stale is the TTL in
// seconds past which a held lock may be overridden; StaleSet is false when
// no TTL was supplied (an acquire request with no staleness override).
type LockPayload struct {
	Method   LockMethod
	Stale    float64
	StaleSet bool
}

// LockReply is the payload of a lock* reply, posted on the requesting
// session's pipe under the same tag.
type LockReply struct {
	Granted bool
}

// Message is a single (event_tag, payload) pair flowing across a [Pipe],
// decoded into a tagged variant at the boundary.
type Message struct {
	Kind Kind

	// Name is the remainder of the tag for Kind == KindDB or KindLock,
	// e.g. "room" for tag "lockroom", ":room" for tag "lock:room", or
	// "user:get" for tag "dbuser:get".
	Name string

	// RawTag is the literal wire tag this message was decoded from (or
	// will be encoded to); used for exit/output/global/logger/exception
	// as-is, and to build db/lock replies under the matching tag.
	RawTag string

	Output    OutputPayload
	Global    any
	Logger    any
	Exception error
	Lock      LockPayload
	LockReply LockReply
	DB        any
}

// Tag returns the wire event tag for m.
func (m Message) Tag() string {
	switch m.Kind {
	case KindDB, KindLock:
		return m.RawTag
	default:
		return string(m.Kind)
	}
}

// DecodeTag decodes a wire tag into the Kind and Name it represents.  It
// implements the prefix-matching rules of spec.md §3: db* for any tag
// beginning with "db" and lock* for any tag beginning with "lock".
func DecodeTag(tag string) (kind Kind, name string, ok bool) {
	switch tag {
	case string(KindInput):
		return KindInput, "", true
	case string(KindOutput):
		return KindOutput, "", true
	case string(KindGlobal):
		return KindGlobal, "", true
	case string(KindExit):
		return KindExit, "", true
	case string(KindLogger):
		return KindLogger, "", true
	case string(KindException):
		return KindException, "", true
	}
	if strings.HasPrefix(tag, dbPrefix) {
		return KindDB, strings.TrimPrefix(tag, dbPrefix), true
	}
	if strings.HasPrefix(tag, lockPrefix) {
		return KindLock, strings.TrimPrefix(tag, lockPrefix), true
	}
	return "", "", false
}

// ErrClosed is returned by Recv/Send once the pipe has been closed from
// either end.
var ErrClosed = errors.New("pipe closed")

// Pipe is a bidirectional ordered message channel between the multiplexer
// and one session worker.  Messages are delivered exactly-once, in-order,
// until either end closes.
type Pipe struct {
	toSession   chan Message
	fromSession chan Message
	closeOnce   closeOnce
}

// closeOnce lets both ends close the pipe idempotently without a data
// race, mirroring sync.OnceFunc.
type closeOnce struct {
	once sync.Once
	done chan struct{}
}

// New returns a new, unconnected Pipe with the given per-direction buffer
// depth.  Buffering lets a session burst output without blocking on the
// multiplexer's drain cadence (see the "drain aggressively" behavior in
// spec.md's glossary).
func New(bufLen int) *Pipe {
	return &Pipe{
		toSession:   make(chan Message, bufLen),
		fromSession: make(chan Message, bufLen),
		closeOnce:   closeOnce{done: make(chan struct{})},
	}
}

// Side is one end of a Pipe: the multiplexer's side, or the session
// worker's side.  Both share the same underlying channels but swap which
// is read from and which is written to.
type Side struct {
	p    *Pipe
	send chan Message
	recv chan Message
}

// CoreSide returns the multiplexer's end of p.
func (p *Pipe) CoreSide() Side {
	return Side{p: p, send: p.toSession, recv: p.fromSession}
}

// SessionSide returns the session worker's end of p.
func (p *Pipe) SessionSide() Side {
	return Side{p: p, send: p.fromSession, recv: p.toSession}
}

// Send enqueues m on s.  It never blocks past the channel's buffer; a full
// buffer blocks the caller, same as any Go channel send.
func (s Side) Send(m Message) error {
	select {
	case <-s.p.closeOnce.done:
		return ErrClosed
	default:
	}
	select {
	case s.send <- m:
		return nil
	case <-s.p.closeOnce.done:
		return ErrClosed
	}
}

// Recv blocks until a message is available, ctx is done, or the pipe is
// closed.
func (s Side) Recv(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-s.recv:
		if !ok {
			return Message{}, ErrClosed
		}
		return m, nil
	case <-s.p.closeOnce.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// TryRecv implements the "drain aggressively" behavior: it receives a
// message if one is immediately available (a zero-timeout readiness
// check), and reports ok == false if the pipe is empty right now. It
// reports closed == true once p has been closed and no buffered message
// remains; buffered messages are drained first.
func (s Side) TryRecv() (m Message, ok bool, closed bool) {
	select {
	case msg, open := <-s.recv:
		if !open {
			return Message{}, false, true
		}
		return msg, true, false
	default:
	}
	select {
	case <-s.p.closeOnce.done:
		return Message{}, false, true
	default:
		return Message{}, false, false
	}
}

// Close closes p.  Safe to call from either side, any number of times; the
// close is only ever performed once.
func (p *Pipe) Close() {
	p.closeOnce.once.Do(func() { close(p.closeOnce.done) })
}
