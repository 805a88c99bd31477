// Package config loads the main and logging configuration files (spec.md
// §6): `.ini` files resolved from `--config`/`--logger` flags, falling
// back to `/etc/<app>/<file>` then `~/.<app>/<file>`, where the caller
// names the file (cmd/bbsd uses default.ini for the main file and
// logging.ini for logging).
//
// Grounded on gopkg.in/ini.v1, as vendored by nabbar-golib, and on the
// default-path-resolution behavior read from
// original_source/x84/engine.py's own `bbs.ini` lookup.
package config

/*
 * config.go
 * Main/logging configuration (spec.md §6)
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/sysopnet/bbsmux/internal/muxerr"
)

// appName names the directories default config files are resolved under:
// /etc/<appName>/default.ini and ~/.<appName>/default.ini.
const appName = "bbsmux"

// Main holds the four configuration keys the core consumes (spec.md §6).
type Main struct {
	TelnetAddr     string
	TelnetPort     int
	SystemTimeout  float64
	PasswordDigest string
}

// Logging holds the logging configuration file's contents.  Its schema is
// intentionally small: a level and an optional output path, matching what
// the core itself needs; anything else belongs to the external terminal
// subsystem.
type Logging struct {
	Level string
	Path  string /* Empty means stderr. */
}

// DefaultPaths returns the ordered fallback locations for a config file
// named file (e.g. "default.ini") per spec.md §6: /etc/<app>/file, then
// ~/.<app>/file.
func DefaultPaths(file string) []string {
	paths := []string{filepath.Join("/etc", appName, file)}
	if home, err := os.UserHomeDir(); nil == err {
		paths = append(paths, filepath.Join(home, "."+appName, file))
	}
	return paths
}

// Resolve returns explicit if non-empty, otherwise the first of
// DefaultPaths(defaultFile) which exists.  It returns an empty string if
// none is found and explicit was empty, which callers treat as "use
// built-in defaults".
func Resolve(explicit, defaultFile string) string {
	if "" != explicit {
		return explicit
	}
	for _, p := range DefaultPaths(defaultFile) {
		if _, err := os.Stat(p); nil == err {
			return p
		}
	}
	return ""
}

// LoadMain loads the main configuration from path.  An empty path yields
// built-in defaults (telnet.addr 0.0.0.0, telnet.port 2323, the rest
// blank/zero), matching a
// from-scratch install with no config file yet.
func LoadMain(path string) (Main, error) {
	m := Main{TelnetAddr: "0.0.0.0", TelnetPort: 2323}
	if "" == path {
		return m, nil
	}
	f, err := ini.Load(path)
	if nil != err {
		return Main{}, &muxerr.ConfigError{
			Key: path,
			Err: fmt.Errorf("loading ini file: %w", err),
		}
	}

	telnet := f.Section("telnet")
	if k := telnet.Key("addr"); "" != k.String() {
		m.TelnetAddr = k.String()
	}
	if k := telnet.Key("port"); "" != k.String() {
		port, err := k.Int()
		if nil != err {
			return Main{}, &muxerr.ConfigError{
				Key: "telnet.port",
				Err: err,
			}
		}
		m.TelnetPort = port
	}

	system := f.Section("system")
	if k := system.Key("timeout"); "" != k.String() {
		timeout, err := k.Float64()
		if nil != err {
			return Main{}, &muxerr.ConfigError{
				Key: "system.timeout",
				Err: err,
			}
		}
		m.SystemTimeout = timeout
	}
	m.PasswordDigest = system.Key("password_digest").String()

	return m, nil
}

// LoadLogging loads the logging configuration from path.  An empty path
// yields info-level logging to stderr.
func LoadLogging(path string) (Logging, error) {
	l := Logging{Level: "info"}
	if "" == path {
		return l, nil
	}
	f, err := ini.Load(path)
	if nil != err {
		return Logging{}, &muxerr.ConfigError{
			Key: path,
			Err: fmt.Errorf("loading ini file: %w", err),
		}
	}
	log := f.Section("log")
	if k := log.Key("level"); "" != k.String() {
		l.Level = k.String()
	}
	l.Path = log.Key("path").String()
	return l, nil
}
