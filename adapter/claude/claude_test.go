//go:build !windows

package claude

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/testutil"
	"github.com/hupe1980/headlesscoder/thread"
)

const sessionID = "7f1c1f0e-2b4e-4f67-9a51-0c5d3e7b9a10"

var fixture = testutil.JSONL(
	`{"type":"system","subtype":"init","session_id":"`+sessionID+`","model":"claude-sonnet-4-5","tools":["Bash","Read"]}`,
	`{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me "}},"session_id":"`+sessionID+`"}`,
	`{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"check."}},"session_id":"`+sessionID+`"}`,
	`{"type":"assistant","message":{"content":[{"type":"text","text":"Let me check."},{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}]},"session_id":"`+sessionID+`"}`,
	`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"go.mod\n","is_error":false}]},"session_id":"`+sessionID+`"}`,
	`{"type":"assistant","message":{"content":[{"type":"text","text":"There is one file."}]},"session_id":"`+sessionID+`"}`,
	`{"type":"result","subtype":"success","is_error":false,"result":"There is one file.","session_id":"`+sessionID+`","usage":{"input_tokens":50,"cache_read_input_tokens":10,"output_tokens":7}}`,
)

func TestParser_Fixture(t *testing.T) {
	p := &parser{}
	var events []core.Event
	for _, line := range strings.Split(strings.TrimSpace(fixture), "\n") {
		evs, err := p.Parse([]byte(line))
		require.NoError(t, err)
		events = append(events, evs...)
	}

	assert.Equal(t, []core.EventType{
		core.EventInit,
		core.EventMessage,
		core.EventMessage,
		core.EventMessage,
		core.EventToolUse,
		core.EventToolResult,
		core.EventMessage,
		core.EventUsage,
	}, testutil.Types(events))

	assert.Equal(t, sessionID, events[0].ThreadID)
	assert.Equal(t, "claude-sonnet-4-5", events[0].Model)
	assert.True(t, events[1].Delta)
	assert.False(t, events[3].Delta)
	assert.Equal(t, "Bash", events[4].ToolName)
	assert.Equal(t, "Bash", events[5].ToolName)
	assert.Equal(t, "toolu_1", events[5].CallID)
	assert.Nil(t, events[5].ExitCode)
	assert.Equal(t, int64(10), events[7].Usage.CachedInputTokens)

	out, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, "There is one file.", out.Text)
}

func TestParser_ErrorResult(t *testing.T) {
	p := &parser{}
	evs, err := p.Parse([]byte(`{"type":"result","subtype":"error_max_turns","is_error":true,"session_id":"s"}`))
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.True(t, testutil.Last(evs).IsTerminal())

	_, err = p.Finish()
	require.ErrorIs(t, err, core.ErrBackend)
	assert.Contains(t, err.Error(), "error_max_turns")
}

func TestParser_PermissionDenialsAndTodos(t *testing.T) {
	p := &parser{}
	evs, err := p.Parse([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"TodoWrite","input":{"todos":[{"content":"write tests","status":"pending"}]}}]}}`))
	require.NoError(t, err)
	assert.Equal(t, []core.EventType{core.EventToolUse, core.EventPlanUpdate}, testutil.Types(evs))
	assert.JSONEq(t, `[{"content":"write tests","status":"pending"}]`, string(evs[1].Result))

	evs, err = p.Parse([]byte(`{"type":"result","subtype":"success","result":"ok","permission_denials":[{"tool_name":"Write","tool_use_id":"t2","tool_input":{"file_path":"/etc/x"}}]}`))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, core.EventPermission, evs[0].Type)
	assert.Equal(t, "Write", evs[0].ToolName)
	assert.Equal(t, "denied", evs[0].Label)
}

func TestParser_MissingResult(t *testing.T) {
	p := &parser{}
	_, err := p.Finish()
	require.ErrorIs(t, err, core.ErrBackend)
}

func TestCommand(t *testing.T) {
	b := newBackend(defaultOptions())
	start := core.StartOptions{
		Model:          "sonnet",
		PermissionMode: "acceptEdits",
		AllowedTools:   []string{"Read", "Bash(git:*)"},
	}
	prompt := core.Messages(
		core.PromptMessage{Role: core.RoleSystem, Content: "Be brief."},
		core.PromptMessage{Role: core.RoleUser, Content: "hello"},
	)

	args, cleanup, err := b.Command(start, thread.Request{Prompt: prompt}, sessionID)
	require.NoError(t, err)
	assert.Nil(t, cleanup)
	assert.Equal(t, []string{
		"-p", "--verbose", "--output-format", "stream-json", "--include-partial-messages",
		"--resume", sessionID,
		"--model", "sonnet",
		"--permission-mode", "acceptEdits",
		"--allowedTools", "Read,Bash(git:*)",
		"--append-system-prompt", "Be brief.",
		"--", "hello",
	}, args)
}

func TestCommand_StructuredOutputInstructions(t *testing.T) {
	b := newBackend(defaultOptions())
	schema := map[string]any{"type": "object", "properties": map[string]any{"summary": map[string]any{"type": "string"}}}

	args, _, err := b.Command(core.StartOptions{Yolo: true}, thread.Request{Prompt: core.Text("review"), OutputSchema: schema}, "")
	require.NoError(t, err)
	assert.Contains(t, args, "--dangerously-skip-permissions")
	assert.NotContains(t, args, "--resume")

	last := args[len(args)-1]
	assert.True(t, strings.HasPrefix(last, "review"))
	assert.Contains(t, last, `"summary"`)
}

func TestCoder_RunAndResume(t *testing.T) {
	path := testutil.FakeCLI{Stdout: fixture}.Script(t)
	c, err := New(core.StartOptions{ExecutablePath: path})
	require.NoError(t, err)
	ctx := context.Background()

	th, err := c.StartThread(ctx)
	require.NoError(t, err)
	defer th.Close(ctx)

	res, err := th.Run(ctx, core.Text("how many files?"))
	require.NoError(t, err)
	assert.Equal(t, "There is one file.", res.Text)
	assert.Equal(t, sessionID, th.ID())

	seq, err := th.RunStreamed(ctx, core.Text("again"))
	require.NoError(t, err)
	events := testutil.Collect(seq)
	assert.Equal(t, "Let me check.", testutil.Text(events))
	assert.Equal(t, core.EventDone, testutil.Last(events).Type)

	calls := testutil.Invocations(t, path)
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[0], "--resume")
	assert.Contains(t, calls[1], "--resume")
	assert.Contains(t, calls[1], sessionID)
}

func TestCoder_UnknownSession(t *testing.T) {
	path := testutil.FakeCLI{Stderr: "No conversation found with session ID: " + sessionID, ExitCode: 1}.Script(t)
	c, err := New(core.StartOptions{ExecutablePath: path})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.ResumeThread(ctx, "bogus")
	require.ErrorIs(t, err, core.ErrUnknownThread)

	th, err := c.ResumeThread(ctx, sessionID)
	require.NoError(t, err)
	defer th.Close(ctx)

	_, err = th.Run(ctx, core.Text("hi"))
	require.ErrorIs(t, err, core.ErrUnknownThread)
}

func TestCoder_StructuredOutput(t *testing.T) {
	stdout := testutil.JSONL(
		`{"type":"system","subtype":"init","session_id":"`+sessionID+`"}`,
		`{"type":"result","subtype":"success","result":"Here you go:\n`+"```json"+`\n{\"summary\":\"fine\",\"recommendations\":[\"a\",\"b\"]}\n`+"```"+`"}`,
	)
	path := testutil.FakeCLI{Stdout: stdout}.Script(t)
	c, err := New(core.StartOptions{ExecutablePath: path})
	require.NoError(t, err)
	ctx := context.Background()

	th, err := c.StartThread(ctx)
	require.NoError(t, err)
	defer th.Close(ctx)

	schema := map[string]any{
		"type":     "object",
		"required": []any{"summary", "recommendations"},
		"properties": map[string]any{
			"summary":         map[string]any{"type": "string"},
			"recommendations": map[string]any{"type": "array", "minItems": 2, "items": map[string]any{"type": "string"}},
		},
	}
	res, err := th.Run(ctx, core.Text("review"), core.WithOutputSchema(schema))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"summary": "fine", "recommendations": []any{"a", "b"}}, res.JSON)
	assert.Contains(t, res.Text, "Here you go")
}
