package config

/*
 * config_test.go
 * Tests for main/logging configuration loading
 * By J. Stuart McMurray
 * Created 20250101
 * Last Modified 20250101
 */

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMain_Defaults(t *testing.T) {
	m, err := LoadMain("")
	if nil != err {
		t.Fatalf("LoadMain(\"\"): %s", err)
	}
	if "0.0.0.0" != m.TelnetAddr || 2323 != m.TelnetPort {
		t.Fatalf("LoadMain(\"\") = %+v, want default addr/port", m)
	}
}

func TestLoadMain_File(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "main.ini")
	contents := `
[telnet]
addr = 10.0.0.1
port = 23

[system]
timeout = 300
password_digest = bcrypt
`
	if err := os.WriteFile(p, []byte(contents), 0o644); nil != err {
		t.Fatalf("WriteFile: %s", err)
	}

	m, err := LoadMain(p)
	if nil != err {
		t.Fatalf("LoadMain: %s", err)
	}
	want := Main{
		TelnetAddr:     "10.0.0.1",
		TelnetPort:     23,
		SystemTimeout:  300,
		PasswordDigest: "bcrypt",
	}
	if want != m {
		t.Fatalf("LoadMain() = %+v, want %+v", m, want)
	}
}

func TestLoadMain_BadPort(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "main.ini")
	if err := os.WriteFile(
		p,
		[]byte("[telnet]\nport = not-a-number\n"),
		0o644,
	); nil != err {
		t.Fatalf("WriteFile: %s", err)
	}
	if _, err := LoadMain(p); nil == err {
		t.Fatalf("LoadMain with bad port succeeded, want error")
	}
}

func TestLoadLogging_Defaults(t *testing.T) {
	l, err := LoadLogging("")
	if nil != err {
		t.Fatalf("LoadLogging(\"\"): %s", err)
	}
	if "info" != l.Level || "" != l.Path {
		t.Fatalf("LoadLogging(\"\") = %+v, want info/empty path", l)
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("explicit.ini", "default.ini"); "explicit.ini" != got {
		t.Fatalf("Resolve with explicit path = %q, want %q", got, "explicit.ini")
	}
	/* With no explicit path and no files present, Resolve falls back to
	"use built-in defaults" (empty string), since /etc and ~/.bbsmux
	almost certainly don't have a test-only file. */
	if got := Resolve("", "nonexistent-bbsmux-test-file.ini"); "" != got {
		t.Fatalf("Resolve(\"\", nonexistent) = %q, want empty", got)
	}
}
