//go:build !windows

package clicoder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/cliproc"
	"github.com/hupe1980/headlesscoder/internal/testutil"
	"github.com/hupe1980/headlesscoder/thread"
)

// lineBackend treats every line as {"id":..., "text":...}.
type lineBackend struct {
	cleaned int
	ids     []string
}

func (b *lineBackend) Name() core.CoderType { return "lines" }

func (b *lineBackend) DefaultBinary() string { return "lines-cli-that-does-not-exist" }

func (b *lineBackend) Command(_ core.StartOptions, req thread.Request, sessionID string) ([]string, func(), error) {
	b.ids = append(b.ids, sessionID)
	return []string{req.Prompt.Flatten()}, func() { b.cleaned++ }, nil
}

func (b *lineBackend) NewParser() Parser { return &lineParser{} }

func (b *lineBackend) ValidateID(id string) error {
	if id == "bad" {
		return errors.New("bad id")
	}
	return nil
}

func (b *lineBackend) ClassifyExit(err *cliproc.ExitError) error {
	if err.Code == 4 {
		return core.NewError(core.CodeUnknownThread, "gone")
	}
	return nil
}

type lineParser struct{ last string }

func (p *lineParser) Parse(line []byte) ([]core.Event, error) {
	var rec struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}
	if rec.ID != "" {
		return []core.Event{core.NewInitEvent(rec.ID, "")}, nil
	}
	p.last = rec.Text
	return []core.Event{core.NewMessageEvent(rec.Text, false)}, nil
}

func (p *lineParser) Finish() (thread.Outcome, error) { return thread.Outcome{Text: p.last}, nil }

func TestCoder_SkipsBadLinesAndPublishesID(t *testing.T) {
	path := testutil.FakeCLI{Stdout: testutil.JSONL(`{"id":"s-1"}`, `garbage`, `{"text":"hello"}`)}.Script(t)
	b := &lineBackend{}
	c := New(b, core.StartOptions{ExecutablePath: path})
	ctx := context.Background()

	th, err := c.StartThread(ctx)
	require.NoError(t, err)
	defer th.Close(ctx)

	res, err := th.Run(ctx, core.Text("go"))
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, "s-1", th.ID())
	assert.JSONEq(t, `{"text":"hello"}`, string(res.Events[1].Original))
	assert.Equal(t, 1, b.cleaned)

	_, err = th.Run(ctx, core.Text("again"))
	require.NoError(t, err)
	assert.Equal(t, []string{"", "s-1"}, b.ids)
	assert.Equal(t, 2, b.cleaned)
}

func TestCoder_ExecutableNotFound(t *testing.T) {
	c := New(&lineBackend{}, core.StartOptions{})
	assert.Equal(t, "lines-cli-that-does-not-exist", c.Binary())
	ctx := context.Background()

	th, err := c.StartThread(ctx)
	require.NoError(t, err)
	defer th.Close(ctx)

	_, err = th.Run(ctx, core.Text("x"))
	require.ErrorIs(t, err, core.ErrBackend)
	assert.Empty(t, th.ID())
}

func TestCoder_ClassifyExit(t *testing.T) {
	path := testutil.FakeCLI{ExitCode: 4}.Script(t)
	c := New(&lineBackend{}, core.StartOptions{ExecutablePath: path})
	ctx := context.Background()

	th, err := c.ResumeThread(ctx, "s-9")
	require.NoError(t, err)
	defer th.Close(ctx)

	_, err = th.Run(ctx, core.Text("x"))
	require.ErrorIs(t, err, core.ErrUnknownThread)
}

func TestCoder_ResumeValidation(t *testing.T) {
	c := New(&lineBackend{}, core.StartOptions{})
	ctx := context.Background()

	_, err := c.ResumeThread(ctx, "")
	require.ErrorIs(t, err, core.ErrUnknownThread)

	_, err = c.ResumeThread(ctx, "bad")
	require.ErrorIs(t, err, core.ErrUnknownThread)
}

func TestCoder_ContextCancelTerminatesProcess(t *testing.T) {
	path := testutil.FakeCLI{Stdout: testutil.JSONL(`{"id":"s-2"}`), Sleep: "30"}.Script(t)
	c := New(&lineBackend{}, core.StartOptions{ExecutablePath: path}, func(o *Options) {
		o.GracePeriod = 200 * time.Millisecond
	})

	th, err := c.StartThread(context.Background())
	require.NoError(t, err)
	defer th.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = th.Run(ctx, core.Text("slow"))
	require.ErrorIs(t, err, core.ErrInterrupted)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, core.StateIdle, th.State())
}
