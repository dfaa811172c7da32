package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbortController_FirstReasonWins(t *testing.T) {
	c := NewAbortController()
	s := c.Signal()
	assert.False(t, s.Aborted())
	assert.Equal(t, "", s.Reason())

	c.Abort("first")
	c.Abort("second")

	assert.True(t, s.Aborted())
	assert.Equal(t, "first", s.Reason())

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestAbortController_ConcurrentAbort(t *testing.T) {
	c := NewAbortController()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Abort("race")
		}()
	}
	wg.Wait()
	assert.True(t, c.Signal().Aborted())
	assert.Equal(t, "race", c.Signal().Reason())
}

func TestLinkSignal_PropagatesAbort(t *testing.T) {
	parent := NewAbortController()
	child := NewAbortController()

	_, err := LinkSignal(parent.Signal(), child)
	require.NoError(t, err)

	parent.Abort("parent stopped")
	assert.True(t, child.Signal().Aborted())
	assert.Equal(t, "parent stopped", child.Signal().Reason())
}

func TestLinkSignal_AlreadyAbortedParent(t *testing.T) {
	parent := NewAbortController()
	parent.Abort("early")
	child := NewAbortController()

	_, err := LinkSignal(parent.Signal(), child)
	require.NoError(t, err)
	assert.True(t, child.Signal().Aborted())
	assert.Equal(t, "early", child.Signal().Reason())
}

func TestLinkSignal_ChildAbortDoesNotReachParent(t *testing.T) {
	parent := NewAbortController()
	child := NewAbortController()
	_, err := LinkSignal(parent.Signal(), child)
	require.NoError(t, err)

	child.Abort("child only")
	assert.False(t, parent.Signal().Aborted())
}

func TestLinkSignal_Stop(t *testing.T) {
	parent := NewAbortController()
	child := NewAbortController()
	stop, err := LinkSignal(parent.Signal(), child)
	require.NoError(t, err)

	assert.True(t, stop())
	assert.False(t, stop())

	parent.Abort("late")
	assert.False(t, child.Signal().Aborted())
}

func TestLinkSignal_Cycle(t *testing.T) {
	a := NewAbortController()
	b := NewAbortController()
	c := NewAbortController()

	_, err := LinkSignal(a.Signal(), a)
	assert.ErrorIs(t, err, ErrSignalCycle)

	_, err = LinkSignal(a.Signal(), b)
	require.NoError(t, err)
	_, err = LinkSignal(b.Signal(), c)
	require.NoError(t, err)

	_, err = LinkSignal(c.Signal(), a)
	assert.ErrorIs(t, err, ErrSignalCycle)

	a.Abort("root")
	assert.True(t, c.Signal().Aborted())
}

func TestSignal_Context(t *testing.T) {
	c := NewAbortController()
	ctx, cancel := c.Signal().Context(context.Background())
	defer cancel()

	assert.NoError(t, ctx.Err())
	c.Abort("stop")

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by abort")
	}

	cause := context.Cause(ctx)
	assert.True(t, errors.Is(cause, ErrInterrupted))
	assert.Contains(t, cause.Error(), "stop")
}

func TestSignal_ContextCancelDetaches(t *testing.T) {
	c := NewAbortController()
	ctx, cancel := c.Signal().Context(context.Background())
	cancel()

	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
	c.Abort("after")
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
}
