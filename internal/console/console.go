// Package console implements the sysop's local terminal: a colored,
// timestamped log view with a command line for issuing operator commands
// (broadcast a line, kick a session, dump lock/registry state) while the
// multiplexer runs.
//
// Adapted directly from lib/opshell: the same term.Terminal-over-/dev/tty
// wrapper, the same Line/color/ChanWriter shape, re-pointed from "shell
// command to insert into a reverse shell" at "command for the BBS host".
package console

/*
 * console.go
 * Sysop's local console
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/sysopnet/bbsmux/lib/ctxerrgroup"
)

const (
	// ttyPath is the path to the sysop's own controlling TTY.
	ttyPath = "/dev/tty"
	// timeFormat matches log/slog's default text-handler time rendering
	// closely enough for a human at a terminal.
	timeFormat = "15:04:05.000 "
)

// ErrOutputClosed is returned by Console.Do when it stops because the log
// line channel it was given was closed.
var ErrOutputClosed = errors.New("log channel closed")

// Color names a terminal color for a [Line].
type Color int

// Colors available to Line.Color.
const (
	ColorNone Color = iota
	ColorBlack
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
	ColorReset
)

// Line is one line to print to the console: a log record or status
// message, optionally colored.
type Line struct {
	Color       Color
	Text        string
	Prompt      string
	NoTimestamp bool
	Plain       bool /* No newline, color, or timestamp added. */
}

// Console is the sysop's interactive local terminal: a wrapper around
// golang.org/x/term.Terminal hooked to the controlling TTY.
type Console struct {
	t            *term.Terminal
	cmds         chan<- string
	lines        <-chan Line
	ttyF         *os.File
	noTimestamps bool
	wL           sync.Mutex /* Write lock. */
}

// New puts the controlling TTY in raw mode and returns a Console which
// reads operator command lines into cmds and prints Lines read from
// lines. prompt is the command prompt; call the returned cleanup func to
// restore the TTY and release resources. cmds is closed before Do
// returns.
func New(
	cmds chan<- string,
	lines <-chan Line,
	prompt string,
	noTimestamps bool,
) (*Console, func(), error) {
	c := Console{
		t:            term.NewTerminal(stdioRW{}, prompt),
		cmds:         cmds,
		lines:        lines,
		noTimestamps: noTimestamps,
	}
	var err error
	if c.ttyF, err = os.Open(ttyPath); nil != err {
		return nil, nil, fmt.Errorf("opening controlling tty: %w", err)
	}

	var oldState *term.State
	cleanup := sync.OnceFunc(func() {
		if nil != oldState {
			term.Restore(int(c.ttyF.Fd()), oldState)
		}
		c.ttyF.Close()
	})

	if err := c.resize(); nil != err {
		cleanup()
		return nil, nil, fmt.Errorf("setting initial size: %w", err)
	}

	if oldState, err = term.MakeRaw(int(c.ttyF.Fd())); nil != err {
		cleanup()
		return nil, nil, fmt.Errorf(
			"putting terminal in raw mode: %w",
			err,
		)
	}

	return &c, cleanup, nil
}

// Do proxies between the channels Console was built with and the
// controlling TTY, resizing on SIGWINCH, until ctx is done, the command
// reader hits an error (e.g. the TTY closes), or the line channel closes.
func (c *Console) Do(ctx context.Context) error {
	eg, ectx := ctxerrgroup.WithContext(ctx)

	eg.GoContext(ectx, c.handleWINCH)

	var (
		ech   = make(chan error, 1)
		cmds  = c.cmds
		cmdsL sync.Mutex
	)
	go func() {
		for {
			l, err := c.t.ReadLine()
			if nil != err {
				ech <- err
				return
			}
			cmdsL.Lock()
			if nil == cmds {
				cmdsL.Unlock()
				return
			}
			c.cmds <- l
			cmdsL.Unlock()
		}
	}()

	eg.GoContext(ectx, func(ctx context.Context) error {
		defer func() {
			cmdsL.Lock()
			defer cmdsL.Unlock()
			close(cmds)
			cmds = nil
		}()
		for {
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case err := <-ech:
				return fmt.Errorf("reading command line: %w", err)
			}
		}
	})

	eg.GoContext(ectx, c.handleLines)

	return eg.Wait()
}

// resize resizes c's terminal to the size of its controlling TTY.
func (c *Console) resize() error {
	w, h, err := term.GetSize(int(c.ttyF.Fd()))
	if nil != err {
		return fmt.Errorf("getting tty size: %w", err)
	}
	if err := c.t.SetSize(w, h); nil != err {
		return fmt.Errorf("setting terminal size: %w", err)
	}
	return nil
}

// handleWINCH resizes c's terminal on every SIGWINCH.
func (c *Console) handleWINCH(ctx context.Context) error {
	winchch := make(chan os.Signal, 1)
	signal.Notify(winchch, syscall.SIGWINCH)
	defer signal.Stop(winchch)

	for {
		select {
		case <-winchch:
			if err := c.resize(); nil != err {
				return err
			}
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// handleLines reads Lines off c.lines and writes them to the terminal.
func (c *Console) handleLines(ctx context.Context) error {
	var (
		ln Line
		ok bool
	)
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case ln, ok = <-c.lines:
			if !ok {
				return ErrOutputClosed
			}
		}
		if p := ln.Prompt; "" != p {
			c.t.SetPrompt(p)
		}
		var err error
		if ln.Plain {
			_, err = io.WriteString(c.t, ln.Text)
		} else {
			_, err = c.Logf(ln.Color, ln.NoTimestamp, "%s", ln.Text)
		}
		if nil != err {
			return fmt.Errorf("writing to console: %w", err)
		}
	}
}

// Logf prints one colored, timestamped line to the console. Safe for
// concurrent use.
func (c *Console) Logf(color Color, noTS bool, format string, v ...any) (int, error) {
	c.wL.Lock()
	defer c.wL.Unlock()
	return logf(c.t, c.t.Escape, color, noTS || c.noTimestamps, format, v...)
}

func logf(
	w io.Writer,
	escape *term.EscapeCodes,
	color Color,
	noTS bool,
	format string,
	v ...any,
) (int, error) {
	m := fmt.Sprintf(format, v...)
	if 0 != len(m) && !strings.HasSuffix(m, "\n") {
		m += "\n"
	}
	if 0 == len(m) {
		return 0, nil
	}

	b := new(bytes.Buffer)
	if ColorNone != color {
		b.Write(colorEC(escape, color))
	}
	if !noTS {
		b.WriteString(time.Now().Format(timeFormat))
	}
	b.WriteString(m)
	if ColorNone != color {
		b.Write(colorEC(escape, ColorReset))
	}

	n, err := b.WriteTo(w)
	return int(n), err
}

// colorEC returns the escape code for color from ec, always non-nil.
func colorEC(ec *term.EscapeCodes, color Color) []byte {
	var b []byte
	switch color {
	case ColorBlack:
		b = ec.Black
	case ColorRed:
		b = ec.Red
	case ColorGreen:
		b = ec.Green
	case ColorYellow:
		b = ec.Yellow
	case ColorBlue:
		b = ec.Blue
	case ColorMagenta:
		b = ec.Magenta
	case ColorCyan:
		b = ec.Cyan
	case ColorWhite:
		b = ec.White
	case ColorReset:
		b = ec.Reset
	}
	if nil == b {
		return make([]byte, 0)
	}
	return bytes.Clone(b)
}

// WrapInColor returns s wrapped in color's escape codes, reset at the end.
// If color is ColorNone, s is returned unchanged.
func (c *Console) WrapInColor(s string, color Color) string {
	if ColorNone == color {
		return s
	}
	return fmt.Sprintf(
		"%s%s%s",
		colorEC(c.t.Escape, color),
		s,
		colorEC(c.t.Escape, ColorReset),
	)
}

// ChanWriter turns a chan string into an io.Writer, one message per Write.
type ChanWriter chan<- string

// Write satisfies io.Writer; it blocks until it can send and always
// returns len(b), nil.
func (cw ChanWriter) Write(b []byte) (int, error) {
	cw <- string(b)
	return len(b), nil
}

// stdioRW combines stdin and stdout into an io.ReadWriter.
type stdioRW struct{}

func (stdioRW) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioRW) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
