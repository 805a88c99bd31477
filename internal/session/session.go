// Package session defines the Session Worker (C3) interface: the isolated
// execution context, one per client, that exchanges typed messages with
// the multiplexer over a [pipe.Pipe].  Per spec.md §4.3 this is an
// interface-only boundary; the core does not care whether a Worker is a
// goroutine, a subprocess, or something else, provided it only ever
// touches its pipe side after registration.
//
// [CmdWorker] drives a lib/simpleshell.Shell (concretely a CmdShell), the
// same "subprocess behind a small interface" building block the teacher
// used for the remote end of its reverse shell, re-pointed here at a
// pipe.Side instead of an HTTP round trip.
package session

/*
 * session.go
 * Session Worker (C3)
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/sysopnet/bbsmux/internal/pipe"
	"github.com/sysopnet/bbsmux/lib/simpleshell"
)

// Options carries setup information the multiplexer has at spawn time
// that a session worker may need but the core itself never interprets —
// e.g. the opaque password-digest scheme named in spec.md §6's
// system.password_digest key, destined for an external user-account
// subsystem this core doesn't implement.
type Options struct {
	// RemoteAddr is the newly-connected client's remote address, for a
	// worker that wants it in its own logging.
	RemoteAddr string

	// PasswordDigest is passed through opaquely from configuration; the
	// core never reads or validates it.
	PasswordDigest string
}

// Factory constructs a Worker for a newly-accepted connection, given the
// spawn-time Options.
type Factory func(opts Options) Worker

// Worker is a session worker: given its pipe side, it runs until the
// session ends, consuming input messages and producing output, global,
// lock, db, exit, logger, or exception messages (spec.md §4.3 point 3).
// Go must return once side.Recv reports pipe.ErrClosed or ctx is done.
type Worker interface {
	Go(ctx context.Context, side pipe.Side) error
}

// WorkerFunc adapts a plain function to a Worker.
type WorkerFunc func(ctx context.Context, side pipe.Side) error

// Go calls f.
func (f WorkerFunc) Go(ctx context.Context, side pipe.Side) error { return f(ctx, side) }

// EchoWorker is a Worker which echoes every input message back as output,
// unchanged.  Useful for exercising the multiplexer end to end, the same
// role EchoShell played for Curlrevshell.
type EchoWorker struct{}

// Go implements Worker.
func (EchoWorker) Go(ctx context.Context, side pipe.Side) error {
	for {
		m, err := side.Recv(ctx)
		if nil != err {
			if pipe.ErrClosed == err {
				return nil
			}
			return err
		}
		if pipe.KindInput != m.Kind {
			continue
		}
		out := pipe.Message{
			Kind: pipe.KindOutput,
			Output: pipe.OutputPayload{
				Text:     m.Output.Text,
				Encoding: m.Output.Encoding,
			},
		}
		if err := side.Send(out); nil != err {
			return err
		}
	}
}

// CmdWorker runs an external command, wiring input messages to its stdin
// and its combined stdout/stderr back out as output messages,
// line-buffered.  It drives a [simpleshell.Shell] (concretely a
// [simpleshell.CmdShell]) rather than talking to *exec.Cmd directly, so
// the process-wrangling lives in one place whether the shell is reached
// over a pipe (here) or, as in the teacher, over HTTP.
type CmdWorker struct {
	shell simpleshell.Shell
	str   fmt.Stringer /* Optional, for logging; *CmdShell satisfies it. */
}

// NewCmdWorker wraps cmd as a CmdWorker.
func NewCmdWorker(cmd *exec.Cmd) (*CmdWorker, error) {
	cs, err := simpleshell.NewCmdShell(cmd)
	if nil != err {
		return nil, fmt.Errorf("preparing subprocess: %w", err)
	}
	return &CmdWorker{shell: cs, str: cs}, nil
}

// NewCmdWorkerFromShell wraps an arbitrary [simpleshell.Shell] as a
// CmdWorker, e.g. a [simpleshell.EchoShell] in tests.
func NewCmdWorkerFromShell(s simpleshell.Shell) *CmdWorker {
	return &CmdWorker{shell: s}
}

// Go starts the underlying shell, proxying input messages to its stdin
// and its output back as output messages, until the process exits, the
// pipe closes, or ctx is done.
func (c *CmdWorker) Go(ctx context.Context, side pipe.Side) error {
	inR, inW := io.Pipe()
	c.shell.SetInput(inR)

	relayDone := make(chan error, 1)
	go func() { relayDone <- relayInput(ctx, side, inW) }()

	outDone := make(chan error, 1)
	go func() { outDone <- relayOutput(side, c.shell.Output()) }()

	runErr := c.shell.Go(ctx)
	inW.Close()

	if err := <-relayDone; nil != err && nil == runErr {
		runErr = err
	}
	if err := <-outDone; nil != err && nil == runErr {
		runErr = err
	}
	if nil != runErr {
		if nil != c.str {
			return fmt.Errorf("running %s: %w", c.str, runErr)
		}
		return runErr
	}
	return nil
}

// relayOutput copies r, line by line, onto side as output messages.
func relayOutput(side pipe.Side, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		err := side.Send(pipe.Message{
			Kind: pipe.KindOutput,
			Output: pipe.OutputPayload{
				Text:     sc.Text() + "\n",
				Encoding: pipe.EncodingUnicode,
			},
		})
		if nil != err {
			return err
		}
	}
	return sc.Err()
}

// relayInput forwards input messages from side onto w until ctx is done or
// the pipe closes.
func relayInput(ctx context.Context, side pipe.Side, w io.WriteCloser) error {
	defer w.Close()
	for {
		m, err := side.Recv(ctx)
		if nil != err {
			if pipe.ErrClosed == err || context.Canceled == err {
				return nil
			}
			return err
		}
		if pipe.KindInput != m.Kind {
			continue
		}
		if _, err := io.Copy(w, strings.NewReader(m.Output.Text)); nil != err {
			return err
		}
	}
}
