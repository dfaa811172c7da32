package core

import "github.com/hupe1980/headlesscoder/logging"

// SandboxMode constrains what a backend may touch on disk.
type SandboxMode string

const (
	SandboxReadOnly       SandboxMode = "read-only"
	SandboxWorkspaceWrite SandboxMode = "workspace-write"
	SandboxFullAccess     SandboxMode = "danger-full-access"
)

// StartOptions is the start-time configuration of a coder. The core never
// inspects it; each adapter documents which fields it honors.
type StartOptions struct {
	// WorkingDirectory is the directory the agent operates in.
	WorkingDirectory string `json:"workingDirectory,omitempty" yaml:"workingDirectory,omitempty"`
	// Model selects the backend model; empty uses the backend default.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// PermissionMode is forwarded to backends with a permission system
	// (e.g. "bypassPermissions", "acceptEdits").
	PermissionMode string `json:"permissionMode,omitempty" yaml:"permissionMode,omitempty"`
	// AllowedTools restricts the tools the agent may call.
	AllowedTools []string `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty"`
	// SandboxMode is forwarded to backends with a sandbox.
	SandboxMode SandboxMode `json:"sandboxMode,omitempty" yaml:"sandboxMode,omitempty"`
	// ExecutablePath overrides the CLI binary of process-backed adapters.
	ExecutablePath string `json:"executablePath,omitempty" yaml:"executablePath,omitempty"`
	// SkipGitRepoCheck lets codex run outside a git repository.
	SkipGitRepoCheck bool `json:"skipGitRepoCheck,omitempty" yaml:"skipGitRepoCheck,omitempty"`
	// IncludeDirectories adds extra directories to the agent workspace.
	IncludeDirectories []string `json:"includeDirectories,omitempty" yaml:"includeDirectories,omitempty"`
	// Yolo auto-approves every action on backends that support it.
	Yolo bool `json:"yolo,omitempty" yaml:"yolo,omitempty"`
	// Env is merged into the environment of spawned processes.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// Extra carries backend-specific settings not covered above.
	Extra map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`

	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger logging.Logger `json:"-" yaml:"-"`
	// Observer receives lifecycle notifications. Defaults to NopObserver.
	Observer Observer `json:"-" yaml:"-"`
}

// ExtraString returns Extra[key] when it is a string.
func (o StartOptions) ExtraString(key string) string {
	if v, ok := o.Extra[key].(string); ok {
		return v
	}
	return ""
}

// RunOptions configures one Run / RunStreamed call.
type RunOptions struct {
	// OutputSchema is a JSON Schema the final output must satisfy.
	OutputSchema map[string]any
	// Signal cancels the run cooperatively when aborted.
	Signal *Signal
}

// RunOption mutates RunOptions.
type RunOption func(o *RunOptions)

// ResolveRunOptions applies optFns to a zero RunOptions.
func ResolveRunOptions(optFns ...RunOption) RunOptions {
	var o RunOptions
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// WithOutputSchema requests structured output validated against schema.
func WithOutputSchema(schema map[string]any) RunOption {
	return func(o *RunOptions) { o.OutputSchema = schema }
}

// WithSignal attaches a cancellation signal to the run.
func WithSignal(s *Signal) RunOption {
	return func(o *RunOptions) { o.Signal = s }
}
