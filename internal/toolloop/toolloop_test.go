package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccr-gateway/ccr/internal/agents"
	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/hooks"
)

func idx(i int) *int { return &i }

func echoTool(name string) agents.ToolSpec {
	return agents.ToolSpec{
		Def: canonical.Tool{Name: name},
		Handler: func(ctx context.Context, rc *agents.RequestContext, args json.RawMessage) (string, error) {
			return "echo:" + string(args), nil
		},
	}
}

func TestCapturedBlockNeverLeaksPartialFragments(t *testing.T) {
	tools := NewToolMap([]agents.ToolSpec{echoTool("ccr_remember")})
	baseReq := &canonical.Request{Messages: []canonical.Message{{Role: canonical.RoleUser, Content: canonical.NewTextContent("hi")}}}

	var reenterCalled bool
	reenter := func(ctx context.Context, req *canonical.Request, emit func(canonical.MessageEvent) error) error {
		reenterCalled = true
		assert.Len(t, req.Messages, 3)
		return emit(canonical.NewContentBlockDelta(0, canonical.Delta{Type: canonical.DeltaText, Text: "child"}))
	}

	loop := New(tools, &agents.RequestContext{}, baseReq, reenter)

	var delivered []canonical.MessageEvent
	emit := func(ev canonical.MessageEvent) error {
		delivered = append(delivered, ev)
		return nil
	}

	events := []canonical.MessageEvent{
		canonical.NewMessageStart(&canonical.ResponseMessage{ID: "m1"}),
		canonical.NewContentBlockStart(0, canonical.ContentBlockStart{Type: canonical.BlockToolUse, ID: "call1", Name: "ccr_remember"}),
		canonical.NewContentBlockDelta(0, canonical.Delta{Type: canonical.DeltaInputJSON, PartialJSON: `{"content":`}),
		canonical.NewContentBlockDelta(0, canonical.Delta{Type: canonical.DeltaInputJSON, PartialJSON: `"use tabs"}`}),
		canonical.NewContentBlockStop(0),
		canonical.NewMessageDelta(canonical.Delta{StopReason: "tool_use"}, nil),
	}

	var err error
	for _, ev := range events {
		err = loop.HandleEvent(context.Background(), ev, emit)
		if err != nil {
			break
		}
	}

	require.ErrorIs(t, err, ErrReentered)
	require.True(t, reenterCalled)

	// message_start passed through; the captured block's start/delta/stop
	// and the triggering message_delta never reach the client.
	require.Len(t, delivered, 2)
	assert.Equal(t, canonical.EventMessageStart, delivered[0].Type)
	assert.Equal(t, canonical.EventContentBlockDelta, delivered[1].Type)
	assert.Equal(t, "child", delivered[1].Delta.Text)
}

func TestPassthroughWhenNoToolCaptured(t *testing.T) {
	loop := New(ToolMap{}, &agents.RequestContext{}, &canonical.Request{}, nil)
	var delivered []canonical.MessageEvent
	emit := func(ev canonical.MessageEvent) error {
		delivered = append(delivered, ev)
		return nil
	}

	events := []canonical.MessageEvent{
		canonical.NewMessageStart(&canonical.ResponseMessage{ID: "m1"}),
		canonical.NewContentBlockStart(0, canonical.ContentBlockStart{Type: canonical.BlockText}),
		canonical.NewContentBlockDelta(0, canonical.Delta{Type: canonical.DeltaText, Text: "hello"}),
		canonical.NewContentBlockStop(0),
		canonical.NewMessageDelta(canonical.Delta{StopReason: "end_turn"}, nil),
		canonical.NewMessageStop(),
	}
	for _, ev := range events {
		require.NoError(t, loop.HandleEvent(context.Background(), ev, emit))
	}
	require.Len(t, delivered, len(events))
}

func TestDispatchDropsMalformedArguments(t *testing.T) {
	tools := NewToolMap([]agents.ToolSpec{echoTool("t")})
	loop := New(tools, &agents.RequestContext{}, &canonical.Request{}, nil)

	require.NoError(t, loop.HandleEvent(context.Background(), canonical.NewContentBlockStart(0, canonical.ContentBlockStart{Type: canonical.BlockToolUse, Name: "t"}), func(canonical.MessageEvent) error { return nil }))
	require.NoError(t, loop.HandleEvent(context.Background(), canonical.NewContentBlockDelta(0, canonical.Delta{Type: canonical.DeltaInputJSON, PartialJSON: "{not json"}), func(canonical.MessageEvent) error { return nil }))
	require.NoError(t, loop.HandleEvent(context.Background(), canonical.NewContentBlockStop(0), func(canonical.MessageEvent) error { return nil }))

	assert.Empty(t, loop.toolUse)
	assert.Empty(t, loop.results)
}

func TestHandlerErrorBecomesIsErrorToolResult(t *testing.T) {
	failing := agents.ToolSpec{
		Def: canonical.Tool{Name: "fail"},
		Handler: func(ctx context.Context, rc *agents.RequestContext, args json.RawMessage) (string, error) {
			return "", errors.New("boom")
		},
	}
	tools := NewToolMap([]agents.ToolSpec{failing})
	loop := New(tools, &agents.RequestContext{}, &canonical.Request{}, nil)
	noop := func(canonical.MessageEvent) error { return nil }

	require.NoError(t, loop.HandleEvent(context.Background(), canonical.NewContentBlockStart(0, canonical.ContentBlockStart{Type: canonical.BlockToolUse, ID: "c1", Name: "fail"}), noop))
	require.NoError(t, loop.HandleEvent(context.Background(), canonical.NewContentBlockStop(0), noop))

	require.Len(t, loop.results, 1)
	assert.True(t, loop.results[0].IsError)
}

func TestPreToolUseVetoSkipsHandlerAndMarksError(t *testing.T) {
	var handlerCalled bool
	tool := agents.ToolSpec{
		Def: canonical.Tool{Name: "danger"},
		Handler: func(ctx context.Context, rc *agents.RequestContext, args json.RawMessage) (string, error) {
			handlerCalled = true
			return "should not run", nil
		},
	}
	tools := NewToolMap([]agents.ToolSpec{tool})

	reg := hooks.NewRegistry(nil)
	reg.Register(hooks.PreToolUse, func(ctx context.Context, ev *hooks.Event) (hooks.Result, error) {
		return hooks.Result{Continue: false, Reason: "blocked by policy"}, nil
	})

	var postSeen bool
	reg.Register(hooks.PostToolUse, func(ctx context.Context, ev *hooks.Event) (hooks.Result, error) {
		postSeen = true
		assert.Equal(t, false, ev.Data["success"])
		return hooks.Result{Continue: true}, nil
	})

	loop := New(tools, &agents.RequestContext{}, &canonical.Request{}, nil, WithHooks(reg))
	noop := func(canonical.MessageEvent) error { return nil }

	require.NoError(t, loop.HandleEvent(context.Background(), canonical.NewContentBlockStart(0, canonical.ContentBlockStart{Type: canonical.BlockToolUse, ID: "c1", Name: "danger"}), noop))
	require.NoError(t, loop.HandleEvent(context.Background(), canonical.NewContentBlockStop(0), noop))

	assert.False(t, handlerCalled)
	assert.True(t, postSeen)
	require.Len(t, loop.results, 1)
	assert.True(t, loop.results[0].IsError)
}
