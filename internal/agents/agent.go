// Package agents implements §4.I: the request-scoped pipeline of
// canonical agents that activate on a request, mutate it, and
// contribute tools the tool-call loop later dispatches.
package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ccr-gateway/ccr/internal/canonical"
)

// ToolHandler executes one agent-owned tool call and returns the text
// pushed back as the tool_result content.
type ToolHandler func(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error)

// ToolSpec pairs a tool's canonical definition with its handler.
type ToolSpec struct {
	Def     canonical.Tool
	Handler ToolHandler
}

// RequestContext carries the per-request state agents and their tool
// handlers need beyond the canonical request itself: identifiers, the
// sub-agent recursion depth, and the callback used to re-enter the
// gateway for agents (image analysis, sub-agent spawning) that need to
// make a nested /v1/messages call.
type RequestContext struct {
	RequestID        string
	SessionID        string
	ProjectPath      string
	SubAgentDepth    int
	MaxSubAgentDepth int
	MemoryEnabled    bool

	// Tools is the caller's request-level tool list (before agent tools
	// are prepended by Pipeline.Run), kept here so a tool handler that
	// spawns a nested request (sub-agent) can filter and forward it
	// instead of starting the child with no tools at all.
	Tools []canonical.Tool

	// Reenter dispatches req as a fresh top-level gateway call and
	// returns its non-streaming response. Agents that need to recurse
	// (image analysis, sub-agent spawn) use this rather than calling
	// any HTTP transport directly, so they stay transport-agnostic.
	Reenter func(ctx context.Context, req *canonical.Request) (*canonical.Response, error)
}

// Agent is one pipeline participant. ShouldHandle is consulted once per
// request in registration order; an agent that activates may mutate the
// request in HandleRequest and contributes whatever tools Tools returns
// to the request's tool list.
type Agent interface {
	Name() string
	ShouldHandle(req *canonical.Request, rc *RequestContext) bool
	HandleRequest(req *canonical.Request, rc *RequestContext) error
	Tools() []ToolSpec
}

// Pipeline runs the registered agents over one request.
type Pipeline struct {
	agents []Agent
}

// NewPipeline builds a pipeline that evaluates agents in the given
// order; that order is also the tool-collision precedence order.
func NewPipeline(agents ...Agent) *Pipeline {
	return &Pipeline{agents: agents}
}

// Result is the outcome of running the pipeline once.
type Result struct {
	Active []Agent
	Tools  []ToolSpec
}

// Run iterates agents in registration order, activates each whose
// ShouldHandle returns true, lets it mutate the request, and then
// prepends the union of active agents' tools onto the request's tool
// list. On a tool-name collision between two active agents, the
// earlier-registered agent's tool wins; on a collision with a
// caller-supplied tool, the agent tool always wins (§4.I).
func (p *Pipeline) Run(req *canonical.Request, rc *RequestContext) (Result, error) {
	var active []Agent
	seen := make(map[string]bool)
	var tools []ToolSpec

	for _, a := range p.agents {
		if !a.ShouldHandle(req, rc) {
			continue
		}
		active = append(active, a)
		if err := a.HandleRequest(req, rc); err != nil {
			return Result{}, fmt.Errorf("agents: %s request handler: %w", a.Name(), err)
		}
		for _, ts := range a.Tools() {
			if seen[ts.Def.Name] {
				continue
			}
			seen[ts.Def.Name] = true
			tools = append(tools, ts)
		}
	}

	applyTools(req, tools)
	return Result{Active: active, Tools: tools}, nil
}

// applyTools prepends the agent tool definitions onto req.Tools,
// dropping any caller-supplied tool whose name collides with one of
// them.
func applyTools(req *canonical.Request, tools []ToolSpec) {
	if len(tools) == 0 {
		return
	}
	agentNames := make(map[string]bool, len(tools))
	merged := make([]canonical.Tool, 0, len(tools)+len(req.Tools))
	for _, ts := range tools {
		merged = append(merged, ts.Def)
		agentNames[ts.Def.Name] = true
	}
	for _, t := range req.Tools {
		if agentNames[t.Name] {
			continue
		}
		merged = append(merged, t)
	}
	req.Tools = merged
}

// lastUserMessage returns a pointer to the most recent user message in
// req.Messages, or nil if there isn't one.
func lastUserMessage(req *canonical.Request) *canonical.Message {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == canonical.RoleUser {
			return &req.Messages[i]
		}
	}
	return nil
}
