package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccr-gateway/ccr/internal/canonical"
)

func callerTools() []canonical.Tool {
	return []canonical.Tool{
		{Name: "read_file", Description: "read"},
		{Name: "grep", Description: "search"},
		{Name: "write_file", Description: "write"},
		{Name: "bash", Description: "shell"},
	}
}

func TestHandleSpawnForwardsCallerToolsInFullWriteMode(t *testing.T) {
	sa := NewSubAgent(SubAgentConfig{Model: "gpt-4o-mini", ReadOnlyTools: []string{"read_file", "grep"}})

	var childSeen *canonical.Request
	rc := &RequestContext{
		MaxSubAgentDepth: 3,
		Tools:            callerTools(),
		Reenter: func(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
			childSeen = req
			return &canonical.Response{Content: []canonical.ContentPart{{Type: canonical.PartText, Text: "done"}}}, nil
		},
	}

	args, err := json.Marshal(spawnArgs{Task: "implement the feature", Mode: "code"})
	require.NoError(t, err)

	out, err := sa.handleSpawn(context.Background(), rc, args)
	require.NoError(t, err)
	assert.Contains(t, out, "done")

	require.NotNil(t, childSeen)
	require.Len(t, childSeen.Tools, len(callerTools()))
}

func TestHandleSpawnFiltersToReadOnlyToolsInReviewMode(t *testing.T) {
	sa := NewSubAgent(SubAgentConfig{Model: "gpt-4o-mini", ReadOnlyTools: []string{"read_file", "grep"}})

	var childSeen *canonical.Request
	rc := &RequestContext{
		MaxSubAgentDepth: 3,
		Tools:            callerTools(),
		Reenter: func(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
			childSeen = req
			return &canonical.Response{}, nil
		},
	}

	args, err := json.Marshal(spawnArgs{Task: "review this change", Mode: "review"})
	require.NoError(t, err)

	_, err = sa.handleSpawn(context.Background(), rc, args)
	require.NoError(t, err)

	require.NotNil(t, childSeen)
	names := make([]string, 0, len(childSeen.Tools))
	for _, tl := range childSeen.Tools {
		names = append(names, tl.Name)
	}
	assert.ElementsMatch(t, []string{"read_file", "grep"}, names)
}

func TestHandleSpawnRejectsBeyondMaxDepth(t *testing.T) {
	sa := NewSubAgent(SubAgentConfig{Model: "gpt-4o-mini"})
	rc := &RequestContext{SubAgentDepth: 2, MaxSubAgentDepth: 2}

	args, err := json.Marshal(spawnArgs{Task: "x", Mode: "review"})
	require.NoError(t, err)

	_, err = sa.handleSpawn(context.Background(), rc, args)
	assert.Error(t, err)
}
