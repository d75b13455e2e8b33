package skills

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstRegisteredMatchWins(t *testing.T) {
	m := NewManager(nil)
	m.Register(&Skill{
		Name:    "first",
		Trigger: NewPrefixTrigger("/do"),
		Handler: func(ctx context.Context, input string) (Result, error) { return Result{Output: "first"}, nil },
	})
	m.Register(&Skill{
		Name:    "second",
		Trigger: NewPrefixTrigger("/do"),
		Handler: func(ctx context.Context, input string) (Result, error) { return Result{Output: "second"}, nil },
	})

	res, found, err := m.Run(context.Background(), "/do something")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", res.Output)
}

func TestPrefixTriggerStripsMatchedPrefix(t *testing.T) {
	m := NewManager(nil)
	var seen string
	m.Register(&Skill{
		Name:    "echo",
		Trigger: NewPrefixTrigger("/echo "),
		Handler: func(ctx context.Context, input string) (Result, error) {
			seen = input
			return Result{}, nil
		},
	})
	_, found, err := m.Run(context.Background(), "/echo hello world")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello world", seen)
}

func TestRegexTrigger(t *testing.T) {
	m := NewManager(nil)
	m.Register(&Skill{
		Name:    "regexed",
		Trigger: NewRegexTrigger(regexp.MustCompile(`^/num \d+$`)),
		Handler: func(ctx context.Context, input string) (Result, error) { return Result{Output: "matched"}, nil },
	})
	_, found, err := m.Run(context.Background(), "/num 42")
	require.NoError(t, err)
	require.True(t, found)

	_, found, err = m.Run(context.Background(), "/num abc")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNoMatchReturnsFoundFalse(t *testing.T) {
	m := NewManager(nil)
	_, found, err := m.Run(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunTimesOut(t *testing.T) {
	m := NewManager(nil)
	m.Register(&Skill{
		Name:    "slow",
		Trigger: NewPrefixTrigger("/slow"),
		Timeout: 5 * time.Millisecond,
		Handler: func(ctx context.Context, input string) (Result, error) {
			select {
			case <-time.After(50 * time.Millisecond):
				return Result{}, nil
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		},
	})
	_, found, err := m.Run(context.Background(), "/slow")
	require.True(t, found)
	assert.Error(t, err)
}
