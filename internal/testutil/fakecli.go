package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// FakeCLI describes a shell script standing in for an agent CLI.
type FakeCLI struct {
	// Stdout is printed verbatim (typically JSONL fixture lines).
	Stdout string
	// Stderr is printed to standard error.
	Stderr string
	// ExitCode is the exit status of the script.
	ExitCode int
	// Sleep, when set, is a shell duration slept after Stdout (e.g. "5").
	Sleep string
}

// Script writes f as an executable /bin/sh script into t.TempDir and returns
// its path. Every invocation appends its arguments, one per line followed
// by a "--end--" marker, to the file returned by ArgsFile.
func (f FakeCLI) Script(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	stdout := filepath.Join(dir, "stdout.jsonl")
	stderr := filepath.Join(dir, "stderr.txt")
	if err := os.WriteFile(stdout, []byte(f.Stdout), 0o600); err != nil {
		t.Fatalf("write stdout fixture: %v", err)
	}
	if err := os.WriteFile(stderr, []byte(f.Stderr), 0o600); err != nil {
		t.Fatalf("write stderr fixture: %v", err)
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("for a in \"$@\"; do printf '%s\\n' \"$a\" >> '" + ArgsFile(dir) + "'; done\n")
	b.WriteString("echo '--end--' >> '" + ArgsFile(dir) + "'\n")
	b.WriteString("cat '" + stdout + "'\n")
	b.WriteString("cat '" + stderr + "' >&2\n")
	if f.Sleep != "" {
		b.WriteString("sleep " + f.Sleep + "\n")
	}
	b.WriteString("exit " + strconv.Itoa(f.ExitCode) + "\n")

	path := filepath.Join(dir, "fake-cli")
	if err := os.WriteFile(path, []byte(b.String()), 0o700); err != nil { //nolint:gosec // test script must be executable.
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

// ArgsFile returns the argument log of the script in dir.
func ArgsFile(dir string) string { return filepath.Join(dir, "args.log") }

// Invocations reads the argument log of the script at path, one slice per
// invocation.
func Invocations(t *testing.T, path string) [][]string {
	t.Helper()

	data, err := os.ReadFile(ArgsFile(filepath.Dir(path)))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read args log: %v", err)
	}

	var (
		out [][]string
		cur []string
	)
	for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		if line == "--end--" {
			out = append(out, cur)
			cur = nil
			continue
		}
		cur = append(cur, line)
	}
	return out
}

// JSONL joins lines with newlines and adds a trailing newline.
func JSONL(lines ...string) string { return strings.Join(lines, "\n") + "\n" }
