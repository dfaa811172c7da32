// headless-coder runs one prompt against a coding agent backend and prints
// the result. The prompt is taken from the positional arguments or, when
// none are given, from stdin.
//
// Configuration comes from an optional YAML profile (--config), then
// HEADLESS_CODER_* environment variables, then flags. SIGINT aborts the
// in-flight run; a second SIGINT exits immediately.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	headlesscoder "github.com/hupe1980/headlesscoder"
	"github.com/hupe1980/headlesscoder/config"
	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/logging"
	"github.com/hupe1980/headlesscoder/metrics"
	"github.com/hupe1980/headlesscoder/session"
)

func main() {
	ctrl := core.NewAbortController()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		ctrl.Abort("interrupted by user")
		<-sigCh
		os.Exit(130)
	}()

	err := run(context.Background(), os.Args[1:], ctrl.Signal(), os.Stdin, os.Stdout, os.Stderr)
	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps run errors onto process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, core.ErrInterrupted):
		return 130
	case errors.Is(err, errUsage):
		return 2
	default:
		return 1
	}
}

var errUsage = errors.New("usage")

type flags struct {
	configPath  string
	coder       string
	model       string
	cwd         string
	resume      string
	stream      bool
	schema      string
	timeout     time.Duration
	logLevel    string
	logFormat   string
	metricsAddr string
	sessionDir  string
	jsonOutput  bool
	list        bool
	yolo        bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, *pflag.FlagSet, error) {
	var f flags

	flagSet := pflag.NewFlagSet("headless-coder", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&f.configPath, "config", "c", "", "path to a YAML coder profile")
	flagSet.StringVar(&f.coder, "coder", "", "adapter to use (codex, claude, gemini, anthropic, openai, echo)")
	flagSet.StringVarP(&f.model, "model", "m", "", "backend model")
	flagSet.StringVar(&f.cwd, "cwd", "", "working directory of the agent")
	flagSet.StringVar(&f.resume, "resume", "", "resume the thread with this id")
	flagSet.BoolVar(&f.stream, "stream", false, "print events as they arrive")
	flagSet.StringVar(&f.schema, "schema", "", "JSON Schema file requesting structured output")
	flagSet.DurationVar(&f.timeout, "timeout", 0, "abort the run after this duration")
	flagSet.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flagSet.StringVar(&f.logFormat, "log-format", "", "log format (console, text, json)")
	flagSet.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flagSet.StringVar(&f.sessionDir, "session-dir", "", "persist SDK adapter transcripts in this directory")
	flagSet.BoolVar(&f.jsonOutput, "json", false, "print JSON instead of text")
	flagSet.BoolVar(&f.list, "list", false, "list the registered adapters and exit")
	flagSet.BoolVar(&f.yolo, "yolo", false, "auto-approve every agent action")
	flagSet.Usage = func() { printHelp(flagSet, stderr) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return &f, flagSet, nil
}

// apply overlays explicitly set flags on cfg.
func (f *flags) apply(cfg *config.Config, fs *pflag.FlagSet) {
	if fs.Changed("coder") {
		cfg.Coder = core.CoderType(f.coder)
	}
	if fs.Changed("model") {
		cfg.Start.Model = f.model
	}
	if fs.Changed("cwd") {
		cfg.Start.WorkingDirectory = f.cwd
	}
	if fs.Changed("stream") {
		cfg.Run.Stream = f.stream
	}
	if fs.Changed("schema") {
		cfg.Run.OutputSchema = nil
		cfg.Run.SchemaFile = f.schema
	}
	if fs.Changed("timeout") {
		cfg.Run.Timeout = f.timeout
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if fs.Changed("session-dir") {
		cfg.Session.Dir = f.sessionDir
	}
	if fs.Changed("yolo") {
		cfg.Start.Yolo = f.yolo
	}
}

func run(ctx context.Context, args []string, sig *core.Signal, stdin io.Reader, stdout, stderr io.Writer) error {
	f, fs, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	f.apply(cfg, fs)
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc := cfg.LoggerConfig()
	lc.Output = stderr
	logger := logging.NewLogger(lc).WithComponent("cli")

	sdkOpts := func(o *headlesscoder.Options) {
		o.Logger = logger
		o.APIKeys = cfg.APIKeys
	}

	if cfg.Session.Dir != "" {
		store, err := session.NewFileStore(cfg.Session.Dir)
		if err != nil {
			return err
		}
		prev := sdkOpts
		sdkOpts = func(o *headlesscoder.Options) {
			prev(o)
			o.SessionStore = store
		}
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		observer := metrics.New(reg)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		prev := sdkOpts
		sdkOpts = func(o *headlesscoder.Options) {
			prev(o)
			o.Observer = observer
		}
	}

	sdk := headlesscoder.New(sdkOpts)

	if f.list {
		for _, name := range sdk.Registry().Names() {
			fmt.Fprintln(stdout, name)
		}
		return nil
	}

	prompt, err := readPrompt(fs.Args(), stdin)
	if err != nil {
		return err
	}

	schema, err := cfg.Schema()
	if err != nil {
		return err
	}

	runOpts := []core.RunOption{core.WithSignal(sig)}
	if schema != nil {
		runOpts = append(runOpts, core.WithOutputSchema(schema))
	}

	if cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Run.Timeout)
		defer cancel()
	}

	coder, err := sdk.CreateCoder(cfg.Coder, cfg.Start)
	if err != nil {
		return err
	}

	var th core.ThreadHandle
	if f.resume != "" {
		th, err = coder.ResumeThread(ctx, f.resume)
	} else {
		th, err = coder.StartThread(ctx)
	}
	if err != nil {
		return err
	}
	defer func() { _ = th.Close(context.WithoutCancel(ctx)) }()

	logger.Debug("Running prompt", "coder", cfg.Coder, "resume", f.resume, "stream", cfg.Run.Stream)

	out := &printer{stdout: stdout, stderr: stderr, json: f.jsonOutput}
	if cfg.Run.Stream {
		events, err := th.RunStreamed(ctx, core.Text(prompt), runOpts...)
		if err != nil {
			return err
		}
		var runErr error
		for ev := range events {
			out.event(ev)
			switch {
			case ev.Type == core.EventError && !ev.Recoverable:
				runErr = ev.Err
				if runErr == nil {
					runErr = core.NewError(ev.Code, "%s", ev.Message)
				}
			case ev.Type == core.EventCancelled:
				runErr = core.NewError(core.CodeInterrupted, "%s", ev.Message)
			}
		}
		out.threadID(th.ID())
		return runErr
	}

	res, err := th.Run(ctx, core.Text(prompt), runOpts...)
	if res != nil {
		out.result(res)
	}
	return err
}

// readPrompt joins args or, when there are none, reads all of stdin.
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("%w: a prompt is required", errUsage)
	}
	return prompt, nil
}

type printer struct {
	stdout io.Writer
	stderr io.Writer
	json   bool
	// partial is true while a line of streamed deltas is open.
	partial bool
}

func (p *printer) event(ev core.Event) {
	if p.json {
		_ = json.NewEncoder(p.stdout).Encode(ev)
		return
	}

	switch ev.Type {
	case core.EventMessage:
		if ev.Delta {
			fmt.Fprint(p.stdout, ev.Text)
			p.partial = true
			return
		}
		if p.partial {
			fmt.Fprintln(p.stdout)
			p.partial = false
			return
		}
		fmt.Fprintln(p.stdout, ev.Text)
	case core.EventDone:
		if p.partial {
			fmt.Fprintln(p.stdout)
			p.partial = false
		}
		if ev.JSON != nil {
			data, _ := json.MarshalIndent(ev.JSON, "", "  ")
			fmt.Fprintln(p.stdout, string(data))
		}
	default:
		fmt.Fprintln(p.stderr, describe(ev))
	}
}

func (p *printer) threadID(id string) {
	if id != "" && !p.json {
		fmt.Fprintf(p.stderr, "thread: %s\n", id)
	}
}

func (p *printer) result(res *core.RunResult) {
	if p.json {
		res.Events = nil
		enc := json.NewEncoder(p.stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return
	}
	if res.JSON != nil {
		data, _ := json.MarshalIndent(res.JSON, "", "  ")
		fmt.Fprintln(p.stdout, string(data))
	} else {
		fmt.Fprintln(p.stdout, res.Text)
	}
	p.threadID(res.ThreadID)
}

// describe renders a non-message event as one human-readable line.
func describe(ev core.Event) string {
	switch ev.Type {
	case core.EventInit:
		return fmt.Sprintf("[init] thread=%s model=%s", ev.ThreadID, ev.Model)
	case core.EventToolUse:
		return fmt.Sprintf("[tool_use] %s %s", ev.ToolName, string(ev.Args))
	case core.EventToolResult:
		if ev.ExitCode != nil {
			return fmt.Sprintf("[tool_result] %s exit=%d", ev.ToolName, *ev.ExitCode)
		}
		return fmt.Sprintf("[tool_result] %s", ev.ToolName)
	case core.EventProgress:
		return fmt.Sprintf("[%s] %s", ev.Label, ev.Text)
	case core.EventFileChange:
		return fmt.Sprintf("[file_change] %s %s", ev.Op, ev.Path)
	case core.EventPermission:
		return fmt.Sprintf("[permission] %s %s", ev.Label, ev.ToolName)
	case core.EventUsage:
		if ev.Usage != nil {
			return fmt.Sprintf("[usage] input=%d cached=%d output=%d", ev.Usage.InputTokens, ev.Usage.CachedInputTokens, ev.Usage.OutputTokens)
		}
	case core.EventError:
		if ev.Recoverable {
			return fmt.Sprintf("[warning] %s: %s", ev.Code, ev.Message)
		}
		return fmt.Sprintf("[error] %s: %s", ev.Code, ev.Message)
	case core.EventCancelled:
		return fmt.Sprintf("[cancelled] %s", ev.Message)
	}
	return fmt.Sprintf("[%s]", ev.Type)
}

func printHelp(flagSet *pflag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `headless-coder runs a prompt against a coding agent backend.

Usage:
  headless-coder [flags] [prompt...]

Examples:
  # Ask codex about the current repository
  headless-coder --coder codex --cwd . "summarize the open TODOs"

  # Stream events from claude and continue the same thread later
  headless-coder --coder claude --stream "add a unit test for parse.go"
  headless-coder --coder claude --resume <thread-id> "now run it"

  # Request structured output validated against a schema
  headless-coder --coder gemini --schema review.schema.json --json "review main.go"

Flags:
`)
	flagSet.PrintDefaults()
}
