// Package codex adapts the Codex CLI (`codex exec --json`) to the headless
// coder contract.
//
// Every run spawns one `codex exec` process. The thread id is the id Codex
// reports in its thread.started record; later runs on the same thread use
// `codex exec resume`. Structured output is requested natively with
// --output-schema, pointing at a temporary file that lives for one run.
package codex

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/clicoder"
	"github.com/hupe1980/headlesscoder/internal/cliproc"
	"github.com/hupe1980/headlesscoder/thread"
)

// CoderName is the registry name of the Codex adapter.
const CoderName core.CoderType = "codex"

// DefaultBinary is the executable looked up on PATH.
const DefaultBinary = "codex"

// Extra keys honored in StartOptions.Extra.
const (
	// ExtraProfile selects a codex config profile (-p).
	ExtraProfile = "profile"
	// ExtraReasoningEffort sets model_reasoning_effort (-c).
	ExtraReasoningEffort = "reasoningEffort"
)

// Options configures the Codex factory.
type Options struct {
	// Name overrides the registry name.
	Name core.CoderType
	// Binary overrides DefaultBinary for coders that do not set
	// StartOptions.ExecutablePath.
	Binary string
}

// New builds a Codex coder.
func New(start core.StartOptions) (core.HeadlessCoder, error) {
	return clicoder.New(&backend{name: CoderName, binary: DefaultBinary}, start), nil
}

// Factory returns an AdapterFactory for Codex coders.
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

// ValidateID rejects ids that are not UUIDs; codex session ids always are.
func (b *backend) ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("codex thread id %q: %w", id, err)
	}
	return nil
}

// ClassifyExit maps a missing rollout to CodeUnknownThread.
func (b *backend) ClassifyExit(err *cliproc.ExitError) error {
	msg := strings.ToLower(err.Stderr)
	if strings.Contains(msg, "no rollout found") || strings.Contains(msg, "session not found") || strings.Contains(msg, "thread not found") {
		return &core.Error{Code: core.CodeUnknownThread, Message: "codex could not find the thread", Err: err}
	}
	return nil
}

// Command builds:
//
//	codex exec --json [exec-only] [common] [policy] -- <prompt>
//	codex exec resume --json [common] [policy] -- <thread_id> <prompt>
func (b *backend) Command(start core.StartOptions, req thread.Request, sessionID string) ([]string, func(), error) {
	var args []string
	if sessionID == "" {
		args = []string{"exec", "--json"}
	} else {
		args = []string{"exec", "resume", "--json"}
	}

	args = appendCommonArgs(args, start)

	cleanup := func() {}
	if sessionID == "" {
		if p := start.ExtraString(ExtraProfile); p != "" && !strings.HasPrefix(p, "-") {
			args = append(args, "-p", p)
		}
		if start.SandboxMode != "" {
			args = append(args, "--sandbox", string(start.SandboxMode))
		}
	}
	if start.Yolo {
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	}

	if req.OutputSchema != nil {
		path, err := writeSchema(req.OutputSchema)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = os.Remove(path) }
		args = append(args, "--output-schema", path)
	}

	args = append(args, "--")
	if sessionID != "" {
		args = append(args, sessionID)
	}
	args = append(args, req.Prompt.Flatten())

	return args, cleanup, nil
}

func appendCommonArgs(args []string, start core.StartOptions) []string {
	if m := start.Model; m != "" && !strings.HasPrefix(m, "-") {
		args = append(args, "-m", m)
	}
	if start.SkipGitRepoCheck {
		args = append(args, "--skip-git-repo-check")
	}
	if effort := start.ExtraString(ExtraReasoningEffort); effort != "" {
		args = append(args, "-c", "model_reasoning_effort="+effort)
	}
	for _, dir := range start.IncludeDirectories {
		if dir != "" && !strings.HasPrefix(dir, "-") {
			args = append(args, "--add-dir", dir)
		}
	}
	return args
}

func writeSchema(schema map[string]any) (string, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("codex: marshal output schema: %w", err)
	}

	f, err := os.CreateTemp("", "codex-schema-*.json")
	if err != nil {
		return "", fmt.Errorf("codex: create schema file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("codex: write schema file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("codex: close schema file: %w", err)
	}
	return f.Name(), nil
}
