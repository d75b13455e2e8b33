package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerRunsInPriorityOrderHighestFirst(t *testing.T) {
	r := NewRegistry(nil)
	var order []string

	r.Register(PreToolUse, func(ctx context.Context, e *Event) (Result, error) {
		order = append(order, "low")
		return Result{Continue: true}, nil
	}, WithPriority(PriorityLow), WithName("low"))
	r.Register(PreToolUse, func(ctx context.Context, e *Event) (Result, error) {
		order = append(order, "high")
		return Result{Continue: true}, nil
	}, WithPriority(PriorityHigh), WithName("high"))

	_, err := r.Trigger(context.Background(), &Event{Type: PreToolUse})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestVetoShortCircuits(t *testing.T) {
	r := NewRegistry(nil)
	var ran bool

	r.Register(PreRoute, func(ctx context.Context, e *Event) (Result, error) {
		return Result{Continue: false, Reason: "blocked"}, nil
	}, WithPriority(PriorityHigh))
	r.Register(PreRoute, func(ctx context.Context, e *Event) (Result, error) {
		ran = true
		return Result{Continue: true}, nil
	}, WithPriority(PriorityLow))

	res, err := r.Trigger(context.Background(), &Event{Type: PreRoute})
	require.NoError(t, err)
	assert.False(t, res.Continue)
	assert.False(t, ran, "lower-priority handler must not run after a veto")
}

func TestHandlerErrorDoesNotVeto(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(PostToolUse, func(ctx context.Context, e *Event) (Result, error) {
		return Result{}, errors.New("boom")
	})
	res, err := r.Trigger(context.Background(), &Event{Type: PostToolUse})
	require.NoError(t, err)
	assert.True(t, res.Continue)
}

func TestTimeoutAbandonsHandler(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(PreResponse, func(ctx context.Context, e *Event) (Result, error) {
		time.Sleep(50 * time.Millisecond)
		return Result{Continue: false}, nil
	}, WithTimeout(5*time.Millisecond))

	start := time.Now()
	res, err := r.Trigger(context.Background(), &Event{Type: PreResponse})
	require.NoError(t, err)
	assert.True(t, res.Continue, "abandoned handler must not veto")
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestUnregisterRemovesHandler(t *testing.T) {
	r := NewRegistry(nil)
	id := r.Register(SessionStart, func(ctx context.Context, e *Event) (Result, error) {
		return Result{Continue: true}, nil
	})
	assert.True(t, r.Unregister(id))
	assert.False(t, r.Unregister(id))
	assert.Empty(t, r.List(SessionStart))
}
