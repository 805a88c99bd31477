// Package muxerr holds the error kinds shared by the multiplexer's
// components.
package muxerr

/*
 * muxerr.go
 * Error kinds for the connection multiplexer
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import "errors"

// ErrConnectionClosed indicates a client's peer closed the connection or
// the socket raised a fatal I/O error.  Recovery is local: the client is
// marked inactive and reaped on the next tick.
var ErrConnectionClosed = errors.New("connection closed")

// ErrPipeBroken indicates a pipe receive returned end-of-stream or an I/O
// error.  Recovery is local: the triple is unregistered, the pipe closed,
// and the client deactivated.
var ErrPipeBroken = errors.New("pipe broken")

// ErrRefused indicates a new connection was refused because the listener
// is already at MAX_CONNECTIONS.
var ErrRefused = errors.New("refused: maximum connections reached")

// ProtocolViolation is returned when a session worker sends a message with
// an event tag the core doesn't recognize.  It is fatal: the multiplexer
// asserts and exits, since silently dropping it would mask bugs in session
// code.
type ProtocolViolation struct {
	Tag string
}

func (e *ProtocolViolation) Error() string {
	return "protocol violation: unrecognized event tag " + e.Tag
}

// ConnectionTimeout is the payload of the exception message sent to a
// session when its client has been idle past the configured timeout.  It
// is not fatal to the server; the session is expected to wind itself down.
type ConnectionTimeout struct {
	IdleSeconds float64
}

func (e *ConnectionTimeout) Error() string {
	return "connection timed out after idling"
}

// Disconnect is the payload of the exception message sent to a session
// whose client has gone away (reaped by the multiplexer).
type Disconnect struct{}

func (e *Disconnect) Error() string { return "client disconnected" }

// ConfigError wraps a configuration problem found at startup.  It is fatal:
// the process exits before the event loop starts.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if "" == e.Key {
		return "config: " + e.Err.Error()
	}
	return "config: " + e.Key + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }
