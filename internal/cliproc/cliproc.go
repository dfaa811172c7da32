// Package cliproc runs agent CLIs that print one JSON record per stdout line.
//
// Lines are handed to the caller synchronously, so a slow consumer applies
// backpressure to the child through the pipe. Cancellation sends SIGTERM to
// the child's process group and escalates to SIGKILL after a grace period.
package cliproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/headlesscoder/logging"
)

const (
	// DefaultGracePeriod is the time between SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second
	// DefaultScannerBuffer is the maximum length of one stdout line.
	DefaultScannerBuffer = 10 * 1024 * 1024
	// DefaultStderrTail is how many trailing stderr bytes are kept.
	DefaultStderrTail = 8 * 1024
)

// Spec describes one child process.
type Spec struct {
	Binary string
	Args   []string
	Dir    string
	// Env is merged over the parent environment.
	Env map[string]string
	// Stdin feeds the child's standard input when set.
	Stdin io.Reader

	GracePeriod   time.Duration
	ScannerBuffer int
	StderrTail    int

	Logger logging.Logger
}

// ExitError reports a child that exited with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Run starts spec and calls handle for every non-empty stdout line until the
// child closes stdout. When handle returns false or ctx is done the child is
// terminated; Run still waits for it to exit before returning.
//
// The line slice is only valid during the call; handle must copy it to keep
// it.
//
// Run returns nil when the child exited cleanly or handle asked to stop, the
// context error when ctx ended the run, and an *ExitError for a non-zero exit.
func Run(ctx context.Context, spec Spec, handle func(line []byte) bool) error {
	spec = withDefaults(spec)

	cmd := exec.Command(spec.Binary, spec.Args...) //nolint:gosec // binary and args come from adapter configuration.
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.Stdin = spec.Stdin
	setProcessGroup(cmd)

	stderr := newTailBuffer(spec.StderrTail)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("cliproc: stdout pipe: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cliproc: start %s: %w", spec.Binary, err)
	}

	spec.Logger.Debug("Process started", "binary", spec.Binary, "args", redactArgs(spec.Args), "pid", cmd.Process.Pid, "dir", spec.Dir)

	exited := make(chan struct{})
	abandon := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-ctx.Done():
			terminate(cmd, spec.GracePeriod, exited, spec.Logger)
		case <-abandon:
			terminate(cmd, spec.GracePeriod, exited, spec.Logger)
		case <-exited:
		}
		return nil
	})

	stopped, scanErr := scanLines(stdout, spec.ScannerBuffer, handle)
	if stopped || scanErr != nil {
		close(abandon)
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	close(exited)
	_ = g.Wait()

	exitErr := waitErr
	if ctx.Err() != nil || stopped {
		exitErr = nil
	}
	logging.LogProcess(spec.Logger, spec.Binary, cmd.Process.Pid, time.Since(start), cmd.ProcessState.ExitCode(), exitErr)

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case stopped:
		return nil
	case scanErr != nil:
		return fmt.Errorf("cliproc: scan stdout: %w", scanErr)
	}

	return wrapExitError(waitErr, stderr.String())
}

func withDefaults(spec Spec) Spec {
	if spec.GracePeriod <= 0 {
		spec.GracePeriod = DefaultGracePeriod
	}
	if spec.ScannerBuffer <= 0 {
		spec.ScannerBuffer = DefaultScannerBuffer
	}
	if spec.StderrTail <= 0 {
		spec.StderrTail = DefaultStderrTail
	}
	spec.Logger = logging.OrNop(spec.Logger)
	return spec
}

// scanLines feeds lines to handle. It reports whether handle asked to stop.
func scanLines(r io.Reader, maxLine int, handle func([]byte) bool) (bool, error) {
	initCap := 64 * 1024
	if maxLine < initCap {
		initCap = maxLine
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initCap), maxLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if !handle(line) {
			return true, nil
		}
	}

	return false, scanner.Err()
}

// terminate asks the process group to exit and kills it after grace.
func terminate(cmd *exec.Cmd, grace time.Duration, exited <-chan struct{}, logger logging.Logger) {
	if cmd.Process == nil {
		return
	}

	if err := signalGroup(cmd.Process, sigterm); err != nil {
		logger.Debug("SIGTERM failed", "pid", cmd.Process.Pid, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-exited:
	case <-timer.C:
		logger.Warn("Process ignored SIGTERM, killing", "pid", cmd.Process.Pid, "grace", grace)
		_ = signalGroup(cmd.Process, os.Kill)
	}
}

func wrapExitError(err error, stderr string) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	code := ee.ExitCode()
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code, Stderr: strings.TrimSpace(stderr), Err: err}
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[name]; !overridden {
			out = append(out, kv)
		}
	}
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// redactArgs shortens the trailing prompt argument for logging.
func redactArgs(args []string) []string {
	out := append([]string(nil), args...)
	if n := len(out); n > 0 {
		if r := []rune(out[n-1]); len(r) > 80 {
			out[n-1] = string(r[:77]) + "..."
		}
	}
	return out
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
