package echo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/testutil"
	"github.com/hupe1980/headlesscoder/registry"
	"github.com/hupe1980/headlesscoder/session"
)

func TestEcho_RunAssignsIDOnSuccess(t *testing.T) {
	ctx := context.Background()
	coder, err := New(core.StartOptions{})
	require.NoError(t, err)

	th, err := coder.StartThread(ctx)
	require.NoError(t, err)
	defer th.Close(ctx)

	assert.Equal(t, "", th.ID())

	res, err := th.Run(ctx, core.Text("hello there"))
	require.NoError(t, err)
	assert.Equal(t, "Echo: hello there", res.Text)
	assert.NotEmpty(t, th.ID())
	assert.Equal(t, th.ID(), res.ThreadID)

	id := th.ID()
	_, err = th.Run(ctx, core.Text("again"))
	require.NoError(t, err)
	assert.Equal(t, id, th.ID(), "id is stable across runs")
}

func TestEcho_StreamDeltasConcatenate(t *testing.T) {
	ctx := context.Background()
	coder, _ := New(core.StartOptions{})
	th, _ := coder.StartThread(ctx)
	defer th.Close(ctx)

	seq, err := th.RunStreamed(ctx, core.Text("one two  three"))
	require.NoError(t, err)
	events := testutil.Collect(seq)

	assert.Equal(t, core.EventInit, events[0].Type)
	assert.Equal(t, "Echo: one two  three", testutil.Text(events))
	last := testutil.Last(events)
	assert.Equal(t, core.EventDone, last.Type)
	assert.Equal(t, "Echo: one two  three", last.Text)
	assert.Equal(t, 1, testutil.TerminalCount(events))
	for _, ev := range events {
		assert.Equal(t, CoderName, ev.Provider)
		assert.Equal(t, th.ID(), ev.ThreadID)
	}
}

func TestEcho_CannedResponses(t *testing.T) {
	factory := Factory(func(o *Options) {
		o.Responses = map[string]string{"ping": "pong"}
	})
	coder, err := factory.New(core.StartOptions{})
	require.NoError(t, err)

	th, _ := coder.StartThread(context.Background())
	res, err := th.Run(context.Background(), core.Text("ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Text)
}

func TestEcho_ResumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	factory := Factory()

	first, _ := factory.New(core.StartOptions{})
	th, _ := first.StartThread(ctx)
	_, err := th.Run(ctx, core.Text("My favourite colour is teal."))
	require.NoError(t, err)
	id := th.ID()
	require.NoError(t, first.Close(ctx, th))

	second, _ := factory.New(core.StartOptions{})
	resumed, err := second.ResumeThread(ctx, id)
	require.NoError(t, err)
	defer resumed.Close(ctx)

	assert.Equal(t, id, resumed.ID())
	res, err := resumed.Run(ctx, core.Text("What was my previous message?"))
	require.NoError(t, err)
	assert.Contains(t, res.Text, "teal")
	assert.Equal(t, id, resumed.ID())
}

func TestEcho_ResumeUnknown(t *testing.T) {
	coder, _ := New(core.StartOptions{})
	_, err := coder.ResumeThread(context.Background(), session.NewID())
	assert.ErrorIs(t, err, core.ErrUnknownThread)
}

func TestEcho_StructuredOutput(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":         map[string]any{"type": "string"},
			"recommendations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 2},
		},
		"required": []any{"summary", "recommendations"},
	}

	coder, _ := New(core.StartOptions{})
	th, _ := coder.StartThread(context.Background())

	res, err := th.Run(context.Background(), core.Text("Review the README"), core.WithOutputSchema(schema))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Text, "```json"))

	m, ok := res.JSON.(map[string]any)
	require.True(t, ok)
	assert.IsType(t, "", m["summary"])
	assert.GreaterOrEqual(t, len(m["recommendations"].([]any)), 2)
}

func TestEcho_CancelBeforeStartHasNoSideEffects(t *testing.T) {
	store := session.NewInMemoryStore()
	coder, _ := Factory(func(o *Options) { o.Store = store }).New(core.StartOptions{})
	th, _ := coder.StartThread(context.Background())

	ctrl := core.NewAbortController()
	ctrl.Abort("never mind")

	_, err := th.Run(context.Background(), core.Text("hi"), core.WithSignal(ctrl.Signal()))
	assert.ErrorIs(t, err, core.ErrInterrupted)
	assert.Equal(t, "", th.ID())

	ids, _ := store.List(context.Background())
	assert.Empty(t, ids)
}

func TestEcho_InterruptMidStream(t *testing.T) {
	ctx := context.Background()
	store := session.NewInMemoryStore()
	coder, _ := Factory(func(o *Options) {
		o.Delay = 5 * time.Millisecond
		o.Store = store
	}).New(core.StartOptions{})
	th, _ := coder.StartThread(ctx)
	defer th.Close(ctx)

	ctrl := core.NewAbortController()
	seq, err := th.RunStreamed(ctx, core.Text(strings.Repeat("word ", 50)), core.WithSignal(ctrl.Signal()))
	require.NoError(t, err)

	var events []core.Event
	for ev := range seq {
		events = append(events, ev)
		if ev.IsDelta() && len(events) == 3 {
			ctrl.Abort("enough")
		}
	}

	last := testutil.Last(events)
	assert.Equal(t, core.EventCancelled, last.Type)
	assert.Equal(t, "enough", last.Message)
	assert.Equal(t, "", th.ID(), "an interrupted first run assigns no id")

	ids, _ := store.List(ctx)
	assert.Empty(t, ids)
}

func TestEcho_TwoRegisteredNamesAreIndependent(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	require.NoError(t, reg.Register(Factory(func(o *Options) { o.Name = "echoA" })))
	require.NoError(t, reg.Register(Factory(func(o *Options) { o.Name = "echoB" })))

	a, err := reg.CreateCoder("echoA", core.StartOptions{})
	require.NoError(t, err)
	b, err := reg.CreateCoder("echoB", core.StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.CoderType("echoA"), a.Type())
	assert.Equal(t, core.CoderType("echoB"), b.Type())

	ta, _ := a.StartThread(ctx)
	tb, _ := b.StartThread(ctx)

	_, err = ta.Run(ctx, core.Text("from A"))
	require.NoError(t, err)
	_, err = tb.Run(ctx, core.Text("from B"))
	require.NoError(t, err)
	assert.NotEqual(t, ta.ID(), tb.ID())

	_, err = b.ResumeThread(ctx, ta.ID())
	assert.ErrorIs(t, err, core.ErrUnknownThread, "stores are per factory")

	require.NoError(t, ta.Close(ctx))
	res, err := tb.Run(ctx, core.Text("still alive"))
	require.NoError(t, err)
	assert.Equal(t, "Echo: still alive", res.Text)

	_, ok := reg.Get("missing")
	assert.False(t, ok)
}

func TestEcho_DoubleClose(t *testing.T) {
	ctx := context.Background()
	coder, _ := New(core.StartOptions{})
	th, _ := coder.StartThread(ctx)

	require.NoError(t, th.Close(ctx))
	require.NoError(t, coder.Close(ctx, th))
	assert.Equal(t, core.StateClosed, th.State())
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"a ", "b  ", "c"}, splitWords("a b  c"))
	assert.Nil(t, splitWords(""))
	assert.Equal(t, []string{" ", "lead"}, splitWords(" lead"))
}
