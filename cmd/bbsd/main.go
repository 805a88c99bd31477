// Program bbsd is a multi-user terminal-oriented server: it accepts
// Telnet connections, hosts one isolated session per client, and
// mediates the shared locks, storage, and broadcasts between them.
package main

/*
 * main.go
 * BBS connection multiplexer and session-dispatch engine
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/sysopnet/bbsmux/internal/config"
	"github.com/sysopnet/bbsmux/internal/console"
	"github.com/sysopnet/bbsmux/internal/dbqueue"
	"github.com/sysopnet/bbsmux/internal/listener"
	"github.com/sysopnet/bbsmux/internal/locks"
	"github.com/sysopnet/bbsmux/internal/mux"
	"github.com/sysopnet/bbsmux/internal/registry"
	"github.com/sysopnet/bbsmux/internal/session"
	"github.com/sysopnet/bbsmux/lib/ctxerrgroup"
)

// MaxConnections bounds simultaneous clients (spec.md §4.2); spec.md §6
// doesn't enumerate a config key for it, so it's compiled in, the same way
// Prompt is in the teacher.
var MaxConnections = 512

// DBFile is the sqlite file C6's DB Offload opens, relative to the
// current directory. Not among spec.md §6's enumerated config keys,
// since the storage schema itself is out of the core's scope.
var DBFile = "bbsmux.sqlite3"

func main() { os.Exit(rmain()) }

func rmain() int {
	var (
		configFile = flag.String(
			"config",
			"",
			"Alternate main configuration `file`",
		)
		loggerFile = flag.String(
			"logger",
			"",
			"Alternate logging configuration `file`",
		)
	)
	flag.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			`Usage: %s [options]

Telnet BBS connection multiplexer

Options:
`,
			filepath.Base(os.Args[0]),
		)
		flag.PrintDefaults()
	}
	flag.Parse()
	if 0 != flag.NArg() {
		fmt.Fprintf(
			os.Stderr,
			"Unexpected argument(s): %s\n",
			flag.Args(),
		)
		return 1
	}

	mainPath := config.Resolve(*configFile, "default.ini")
	mcfg, err := config.LoadMain(mainPath)
	if nil != err {
		fmt.Fprintf(os.Stderr, "Loading configuration: %s\n", err)
		return 1
	}
	logPath := config.Resolve(*loggerFile, "logging.ini")
	lcfg, err := config.LoadLogging(logPath)
	if nil != err {
		fmt.Fprintf(os.Stderr, "Loading logging configuration: %s\n", err)
		return 1
	}

	/* Channels for comms between the console and the rest of the
	program, same shape as curlrevshell's ich/och. */
	var (
		cmds  = make(chan string, 64)
		lines = make(chan console.Line, 1024)
	)
	logLevel := &slog.HandlerOptions{Level: parseLevel(lcfg.Level)}

	/* logSink is stderr unless logging.path names a file. */
	var logSink io.Writer = os.Stderr
	if "" != lcfg.Path {
		f, err := os.OpenFile(
			lcfg.Path,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			0o644,
		)
		if nil != err {
			fmt.Fprintf(os.Stderr, "Opening log file: %s\n", err)
			return 1
		}
		defer f.Close()
		logSink = f
	}

	var log *slog.Logger
	con, cleanup, err := console.New(cmds, lines, "bbsd> ", false)
	if nil != err {
		/* No controlling TTY (e.g. under a service manager); fall
		back to plain logSink logging and no operator command line. */
		log = slog.New(slog.NewTextHandler(logSink, logLevel))
		con = nil
	} else {
		defer cleanup()
		if os.Stderr == logSink {
			/* No explicit log file: route logging through the
			console's own display instead of fighting it for
			the raw TTY. */
			logW := console.ChanWriter(linesToLogChan(lines))
			log = slog.New(slog.NewTextHandler(logW, logLevel))
		} else {
			log = slog.New(slog.NewTextHandler(logSink, logLevel))
		}
	}

	db, err := dbqueue.Open(DBFile, log)
	if nil != err {
		log.Error("opening database", "error", err)
		return 1
	}
	defer db.Close()

	reg := registry.New()
	lck := locks.New(log)

	addr := fmt.Sprintf("%s:%d", mcfg.TelnetAddr, mcfg.TelnetPort)
	ln, err := listener.New(addr, MaxConnections, nil, log)
	if nil != err {
		log.Error("starting listener", "error", err)
		return 1
	}

	m := mux.New(mux.Config{
		Listener:       ln,
		Registry:       reg,
		Locks:          lck,
		DB:             db,
		Timeout:        mcfg.SystemTimeout,
		NewWorker:      func(session.Options) session.Worker { return session.EchoWorker{} },
		PasswordDigest: mcfg.PasswordDigest,
		Log:            log,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	eg, ectx := ctxerrgroup.WithContext(ctx)
	eg.GoContext(ectx, m.Run)
	if nil != con {
		eg.GoContext(ectx, con.Do)
		eg.GoContext(ectx, func(ctx context.Context) error {
			return runConsoleCommands(ctx, cmds, lines, m)
		})
	}

	log.Info("listening", "address", ln.Addr().String())

	if err := eg.Wait(); nil != err && nil == ctx.Err() {
		log.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// parseLevel maps a config-file log level name to a [slog.Level],
// defaulting to Info for anything unrecognized.
func parseLevel(name string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); nil != err {
		return slog.LevelInfo
	}
	return l
}

// linesToLogChan adapts a chan<- console.Line into a chan<- string sink so
// it can be wrapped by [console.ChanWriter]: every Write becomes one
// plain, uncolored Line.
func linesToLogChan(lines chan<- console.Line) chan<- string {
	ch := make(chan string, 1024)
	go func() {
		for s := range ch {
			lines <- console.Line{Text: s, Plain: true}
		}
	}()
	return ch
}

// runConsoleCommands interprets operator command lines read from cmds
// until ctx is done or cmds closes, per internal/console's doc comment:
// broadcast a line, kick a session, or dump lock/registry state.
func runConsoleCommands(
	ctx context.Context,
	cmds <-chan string,
	lines chan<- console.Line,
	m *mux.Mux,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			handleConsoleCommand(cmd, lines, m)
		}
	}
}

func handleConsoleCommand(cmd string, lines chan<- console.Line, m *mux.Mux) {
	var name, rest string
	if i := indexSpace(cmd); 0 <= i {
		name, rest = cmd[:i], cmd[i+1:]
	} else {
		name = cmd
	}
	switch name {
	case "sessions":
		for _, s := range m.Sessions() {
			lines <- console.Line{Text: fmt.Sprintf(
				"%s  %s  idle %.0fs", s.ID, s.Remote, s.Idle,
			)}
		}
	case "locks":
		lines <- console.Line{Text: fmt.Sprintf(
			"%d lock(s) held", m.HeldLocks(),
		)}
	case "broadcast":
		m.Broadcast(rest)
		lines <- console.Line{Text: "broadcast sent"}
	case "kick":
		if m.Kick(rest) {
			lines <- console.Line{Text: "kicked " + rest}
		} else {
			lines <- console.Line{
				Color: console.ColorRed,
				Text:  "no such session: " + rest,
			}
		}
	case "":
		/* Blank line; ignore. */
	default:
		lines <- console.Line{
			Color: console.ColorRed,
			Text:  "unknown command: " + name,
		}
	}
}

// indexSpace returns the index of the first space in s, or -1.
func indexSpace(s string) int {
	for i, r := range s {
		if ' ' == r {
			return i
		}
	}
	return -1
}
