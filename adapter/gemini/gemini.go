// Package gemini adapts the Gemini CLI (`gemini --output-format
// stream-json`) to the headless coder contract.
package gemini

import (
	"strings"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/clicoder"
	"github.com/hupe1980/headlesscoder/internal/cliproc"
	"github.com/hupe1980/headlesscoder/structured"
	"github.com/hupe1980/headlesscoder/thread"
)

// CoderName is the registry name of the Gemini adapter.
const CoderName core.CoderType = "gemini"

// DefaultBinary is the executable looked up on PATH.
const DefaultBinary = "gemini"

// Options configures the Gemini factory.
type Options struct {
	// Name overrides the registry name.
	Name core.CoderType
	// Binary overrides DefaultBinary.
	Binary string
}

// New builds a Gemini coder.
func New(start core.StartOptions) (core.HeadlessCoder, error) {
	return clicoder.New(&backend{name: CoderName, binary: DefaultBinary}, start), nil
}

// Factory returns an AdapterFactory for Gemini coders.
func Factory(optFns ...func(o *Options)) core.AdapterFactory {
	o := Options{Name: CoderName, Binary: DefaultBinary}
	for _, fn := range optFns {
		fn(&o)
	}

	return core.NewFactory(o.Name, func(start core.StartOptions) (core.HeadlessCoder, error) {
		return clicoder.New(&backend{name: o.Name, binary: o.Binary}, start), nil
	})
}

type backend struct {
	name   core.CoderType
	binary string
}

func (b *backend) Name() core.CoderType { return b.name }

func (b *backend) DefaultBinary() string { return b.binary }

func (b *backend) NewParser() clicoder.Parser { return &parser{} }

func (b *backend) ClassifyExit(err *cliproc.ExitError) error {
	msg := strings.ToLower(err.Stderr)
	if strings.Contains(msg, "invalid session identifier") || strings.Contains(msg, "session not found") {
		return &core.Error{Code: core.CodeUnknownThread, Message: "gemini could not find the session", Err: err}
	}
	return nil
}

// Command builds:
//
//	gemini --output-format stream-json [-m model] [--yolo] [--include-directories a,b]
//	       [--resume id] -p <prompt>
//
// Gemini has no separate system channel, so system messages are flattened
// into the prompt.
func (b *backend) Command(start core.StartOptions, req thread.Request, sessionID string) ([]string, func(), error) {
	args := []string{"--output-format", "stream-json"}

	if m := start.Model; m != "" && !strings.HasPrefix(m, "-") {
		args = append(args, "-m", m)
	}
	switch {
	case start.Yolo:
		args = append(args, "--yolo")
	case start.PermissionMode != "":
		args = append(args, "--approval-mode", start.PermissionMode)
	}
	if start.SandboxMode != "" && start.SandboxMode != core.SandboxFullAccess {
		args = append(args, "--sandbox")
	}
	if len(start.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(start.AllowedTools, ","))
	}
	var dirs []string
	for _, d := range start.IncludeDirectories {
		if d != "" && !strings.HasPrefix(d, "-") {
			dirs = append(dirs, d)
		}
	}
	if len(dirs) > 0 {
		args = append(args, "--include-directories", strings.Join(dirs, ","))
	}
	if sessionID != "" {
		args = append(args, "--resume", sessionID)
	}

	prompt := req.Prompt
	if req.OutputSchema != nil {
		prompt = structured.WithInstructions(prompt, req.OutputSchema)
	}
	// The inline form keeps a prompt starting with "-" from being read as a flag.
	args = append(args, "--prompt="+prompt.Flatten())

	return args, nil, nil
}
