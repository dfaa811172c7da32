// Package claude adapts the Claude Code CLI (`claude -p --output-format
// stream-json`) to the headless coder contract.
//
// Each run spawns one `claude -p` process; follow-up runs pass --resume with
// the session id announced by the system/init record. System messages of
// the prompt are forwarded with --append-system-prompt. Structured output is
// requested through prompt instructions and validated by the thread.
package claude

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/clicoder"
	"github.com/hupe1980/headlesscoder/internal/cliproc"
	"github.com/hupe1980/headlesscoder/structured"
	"github.com/hupe1980/headlesscoder/thread"
)

// CoderName is the registry name of the Claude Code adapter.
const CoderName core.CoderType = "claude"

// DefaultBinary is the executable looked up on PATH.
const DefaultBinary = "claude"

// ExtraMaxTurns limits agentic turns (--max-turns) when set in
// StartOptions.Extra.
const ExtraMaxTurns = "maxTurns"

// Options configures the Claude factory.
type Options struct {
	// Name overrides the registry name.
	Name core.CoderType
	// Binary overrides DefaultBinary.
	Binary string
	// PartialMessages requests incremental text deltas
	// (--include-partial-messages). Enabled by default.
	PartialMessages bool
}

// New builds a Claude Code coder with default options.
func New(start core.StartOptions) (core.HeadlessCoder, error) {
	return clicoder.New(newBackend(defaultOptions()), start), nil
}

// Factory returns an AdapterFactory for Claude Code coders.
func Factory(optFns ...func(o *Options)) core.AdapterFactory {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	return core.NewFactory(o.Name, func(start core.StartOptions) (core.HeadlessCoder, error) {
		return clicoder.New(newBackend(o), start), nil
	})
}

func defaultOptions() Options {
	return Options{Name: CoderName, Binary: DefaultBinary, PartialMessages: true}
}

type backend struct {
	opts Options
}

func newBackend(o Options) *backend { return &backend{opts: o} }

func (b *backend) Name() core.CoderType { return b.opts.Name }

func (b *backend) DefaultBinary() string { return b.opts.Binary }

func (b *backend) NewParser() clicoder.Parser { return &parser{} }

// ValidateID rejects ids that are not UUIDs; Claude Code session ids
// always are.
func (b *backend) ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("claude session id %q: %w", id, err)
	}
	return nil
}

// ClassifyExit maps an unknown --resume id to CodeUnknownThread.
func (b *backend) ClassifyExit(err *cliproc.ExitError) error {
	if strings.Contains(strings.ToLower(err.Stderr), "no conversation found") {
		return &core.Error{Code: core.CodeUnknownThread, Message: "claude could not find the session", Err: err}
	}
	return nil
}

// Command builds:
//
//	claude -p --verbose --output-format stream-json [--include-partial-messages]
//	       [--resume id] [session flags] -- <prompt>
func (b *backend) Command(start core.StartOptions, req thread.Request, sessionID string) ([]string, func(), error) {
	args := []string{"-p", "--verbose", "--output-format", "stream-json"}
	if b.opts.PartialMessages {
		args = append(args, "--include-partial-messages")
	}
	if sessionID != "" {
		args = append(args, "--resume", sessionID)
	}

	if m := start.Model; m != "" && !strings.HasPrefix(m, "-") {
		args = append(args, "--model", m)
	}
	if pm := start.PermissionMode; pm != "" {
		args = append(args, "--permission-mode", pm)
	} else if start.Yolo {
		args = append(args, "--dangerously-skip-permissions")
	}
	if len(start.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(start.AllowedTools, ","))
	}
	for _, dir := range start.IncludeDirectories {
		if dir != "" && !strings.HasPrefix(dir, "-") {
			args = append(args, "--add-dir", dir)
		}
	}
	if mt := start.ExtraString(ExtraMaxTurns); mt != "" {
		args = append(args, "--max-turns", mt)
	}

	prompt := req.Prompt
	if req.OutputSchema != nil {
		prompt = structured.WithInstructions(prompt, req.OutputSchema)
	}
	if sys := prompt.System(); sys != "" {
		args = append(args, "--append-system-prompt", sys)
	}

	args = append(args, "--", prompt.Conversation().Flatten())
	return args, nil, nil
}
