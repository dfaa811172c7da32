package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/headlesscoder/config"
	"github.com/hupe1980/headlesscoder/core"
)

type cliRun struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
	err    error
}

func runCLI(t *testing.T, stdin string, sig *core.Signal, args ...string) *cliRun {
	t.Helper()
	t.Setenv(config.EnvPrefix+"CODER", "")
	t.Setenv(config.EnvPrefix+"SESSION_DIR", "")

	if sig == nil {
		sig = core.NewAbortController().Signal()
	}
	r := &cliRun{}
	r.err = run(context.Background(), args, sig, strings.NewReader(stdin), &r.stdout, &r.stderr)
	return r
}

func TestRun_List(t *testing.T) {
	r := runCLI(t, "", nil, "--list")
	require.NoError(t, r.err)
	assert.Equal(t, "anthropic\nclaude\ncodex\necho\ngemini\nopenai\n", r.stdout.String())
}

func TestRun_EchoFromArgs(t *testing.T) {
	r := runCLI(t, "", nil, "--coder", "echo", "hello", "world")
	require.NoError(t, r.err)
	assert.Equal(t, "Echo: hello world\n", r.stdout.String())
	assert.Contains(t, r.stderr.String(), "thread: ")
}

func TestRun_PromptFromStdin(t *testing.T) {
	r := runCLI(t, "  from stdin\n", nil)
	require.NoError(t, r.err)
	assert.Equal(t, "Echo: from stdin\n", r.stdout.String())

	r = runCLI(t, "   ", nil)
	require.ErrorIs(t, r.err, errUsage)
	assert.Equal(t, 2, exitCode(r.err))
}

func TestRun_Stream(t *testing.T) {
	r := runCLI(t, "", nil, "--stream", "hi there")
	require.NoError(t, r.err)
	assert.Equal(t, "Echo: hi there\n", r.stdout.String())
	assert.Contains(t, r.stderr.String(), "[init] thread=")
	assert.Contains(t, r.stderr.String(), "[usage] input=")
}

func TestRun_StreamJSON(t *testing.T) {
	r := runCLI(t, "", nil, "--stream", "--json", "hi")
	require.NoError(t, r.err)

	var types []core.EventType
	for _, line := range strings.Split(strings.TrimSpace(r.stdout.String()), "\n") {
		var ev core.Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		types = append(types, ev.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, core.EventInit, types[0])
	assert.Equal(t, core.EventDone, types[len(types)-1])
}

func TestRun_ResumeFromSessionDir(t *testing.T) {
	dir := t.TempDir()

	first := runCLI(t, "", nil, "--session-dir", dir, "--json", "the answer is 42")
	require.NoError(t, first.err)

	var res core.RunResult
	require.NoError(t, json.Unmarshal(first.stdout.Bytes(), &res))
	require.NotEmpty(t, res.ThreadID)
	assert.Empty(t, res.Events)

	second := runCLI(t, "", nil, "--session-dir", dir, "--resume", res.ThreadID, "what was my previous message?")
	require.NoError(t, second.err)
	assert.Contains(t, second.stdout.String(), "Your previous message was: the answer is 42")
}

func TestRun_ResumeUnknownThread(t *testing.T) {
	r := runCLI(t, "", nil, "--resume", "missing", "hi")
	require.ErrorIs(t, r.err, core.ErrUnknownThread)
	assert.Equal(t, 1, exitCode(r.err))
}

func TestRun_Schema(t *testing.T) {
	schemaPath := filepath.Join(t.TempDir(), "review.schema.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{
		"type": "object",
		"properties": {"summary": {"type": "string"}},
		"required": ["summary"]
	}`), 0o600))

	r := runCLI(t, "", nil, "--schema", schemaPath, "--json", "review this")
	require.NoError(t, r.err)

	var res core.RunResult
	require.NoError(t, json.Unmarshal(r.stdout.Bytes(), &res))
	obj, ok := res.JSON.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, obj, "summary")
}

func TestRun_Aborted(t *testing.T) {
	ctrl := core.NewAbortController()
	ctrl.Abort("interrupted by user")

	r := runCLI(t, "", ctrl.Signal(), "hi")
	require.ErrorIs(t, r.err, core.ErrInterrupted)
	assert.Equal(t, 130, exitCode(r.err))
}

func TestRun_FlagErrors(t *testing.T) {
	r := runCLI(t, "", nil, "--no-such-flag")
	require.ErrorIs(t, r.err, errUsage)

	r = runCLI(t, "", nil, "--help")
	require.ErrorIs(t, r.err, pflag.ErrHelp)
	assert.Contains(t, r.stderr.String(), "headless-coder [flags] [prompt...]")

	r = runCLI(t, "", nil, "--log-format", "xml", "hi")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "logging.format")

	r = runCLI(t, "", nil, "--coder", "nope", "hi")
	require.ErrorIs(t, r.err, core.ErrUnknownAdapter)
}
