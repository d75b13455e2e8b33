// Package toolloop implements §4.J: the streaming transform that
// collects agent-owned tool calls out of a translated canonical event
// stream, dispatches their handlers, and re-enters the gateway with the
// augmented conversation when the upstream message finishes on pending
// tool results.
package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ccr-gateway/ccr/internal/agents"
	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/gwerrors"
	"github.com/ccr-gateway/ccr/internal/hooks"
	"github.com/ccr-gateway/ccr/internal/toolschema"
	"github.com/ccr-gateway/ccr/internal/tracing"
)

// ErrReentered is returned by HandleEvent's enclosing emit once the loop
// has re-entered the gateway and relayed the child stream; callers
// driving the upstream translator treat it as a clean stop, not a
// failure, since the outer stream has already been fully served.
var ErrReentered = errors.New("toolloop: stream terminated by re-entry")

// ReenterFunc re-invokes the gateway's own request pipeline with an
// augmented conversation, pushing the child's canonical events to emit
// as they're produced. The gateway server supplies this; toolloop never
// talks to HTTP transport directly.
type ReenterFunc func(ctx context.Context, req *canonical.Request, emit func(canonical.MessageEvent) error) error

// ToolMap is the union of active agents' tools, keyed by name, built by
// agents.Pipeline.Run.
type ToolMap map[string]agents.ToolSpec

// NewToolMap indexes a tool-spec slice by name.
func NewToolMap(specs []agents.ToolSpec) ToolMap {
	m := make(ToolMap, len(specs))
	for _, s := range specs {
		m[s.Def.Name] = s
	}
	return m
}

type capture struct {
	name string
	id   string
	args strings.Builder
}

// Loop drives one outer response stream: it withholds agent-owned tool
// call events from the client, accumulates their arguments, dispatches
// handlers on content_block_stop, and re-enters on message_delta once
// any tool result is pending. A Loop is single-use and not safe for
// concurrent HandleEvent calls.
type Loop struct {
	tools   ToolMap
	rc      *agents.RequestContext
	baseReq *canonical.Request
	reenter ReenterFunc
	log     *slog.Logger

	captured  map[int]*capture
	toolUse   []canonical.ContentPart
	results   []canonical.ContentPart
	reentered bool

	hooks  *hooks.Registry
	tracer *tracing.Tracer
}

// Option configures optional Loop behavior.
type Option func(*Loop)

// WithHooks wires a hook registry so PreToolUse/PostToolUse fire around
// every dispatched tool call (§4.K). A PreToolUse veto turns the call
// into an isError tool_result instead of reaching the handler.
func WithHooks(reg *hooks.Registry) Option {
	return func(l *Loop) { l.hooks = reg }
}

// WithTracer wires a tracer so each dispatched tool call gets its own
// span. A nil tracer (the default) leaves dispatch unspanned.
func WithTracer(t *tracing.Tracer) Option {
	return func(l *Loop) { l.tracer = t }
}

// New builds a Loop over the active tool map for one outer request.
// baseReq is the already-translated-agnostic canonical request whose
// Messages the re-entry conversation extends.
func New(tools ToolMap, rc *agents.RequestContext, baseReq *canonical.Request, reenter ReenterFunc, opts ...Option) *Loop {
	l := &Loop{
		tools:    tools,
		rc:       rc,
		baseReq:  baseReq,
		reenter:  reenter,
		log:      slog.Default().With("component", "toolloop"),
		captured: make(map[int]*capture),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func blockIndex(ev canonical.MessageEvent) int {
	if ev.Index == nil {
		return -1
	}
	return *ev.Index
}

// HandleEvent processes one upstream canonical event, forwarding it to
// clientEmit unless it belongs to a captured tool-call block. It returns
// ErrReentered once the loop has relayed a child stream and the outer
// stream should stop; any other non-nil error is a genuine failure.
func (l *Loop) HandleEvent(ctx context.Context, ev canonical.MessageEvent, clientEmit func(canonical.MessageEvent) error) error {
	if l.reentered {
		return ErrReentered
	}

	switch ev.Type {
	case canonical.EventContentBlockStart:
		if ev.ContentBlock != nil && ev.ContentBlock.Type == canonical.BlockToolUse {
			if _, ok := l.tools[ev.ContentBlock.Name]; ok {
				idx := blockIndex(ev)
				l.captured[idx] = &capture{name: ev.ContentBlock.Name, id: ev.ContentBlock.ID}
				return nil
			}
		}
		return clientEmit(ev)

	case canonical.EventContentBlockDelta:
		if cs, ok := l.captured[blockIndex(ev)]; ok {
			if ev.Delta != nil && ev.Delta.Type == canonical.DeltaInputJSON {
				cs.args.WriteString(ev.Delta.PartialJSON)
			}
			return nil
		}
		return clientEmit(ev)

	case canonical.EventContentBlockStop:
		idx := blockIndex(ev)
		if cs, ok := l.captured[idx]; ok {
			delete(l.captured, idx)
			l.dispatch(ctx, cs)
			return nil
		}
		return clientEmit(ev)

	case canonical.EventMessageDelta:
		if len(l.toolUse) == 0 {
			return clientEmit(ev)
		}
		return l.doReenter(ctx, clientEmit)

	case canonical.EventMessageStop:
		if l.reentered {
			return nil
		}
		return clientEmit(ev)

	default:
		return clientEmit(ev)
	}
}

// parseArgs decodes a streamed argument buffer with JSON5-style
// looseness (trailing commas included), per §4.J and the "Tool-call
// argument parsing strictness" open-question resolution in DESIGN.md.
// An empty buffer parses as {} (§8); a buffer that still fails to parse
// drops the tool call rather than dispatching with garbage input.
func parseArgs(buf string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(buf)
	if trimmed == "" {
		return json.RawMessage(`{}`), true
	}
	var v any
	if err := json5.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, false
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return out, true
}

// dispatch parses the accumulated argument buffer and queues the
// resulting tool_use/tool_result pair for the eventual re-entry. A
// malformed argument buffer drops the call and logs it (§8), queuing
// nothing.
func (l *Loop) dispatch(ctx context.Context, cs *capture) {
	if _, ok := l.tools[cs.name]; !ok {
		l.log.Warn("toolloop: dispatch for tool no longer in active map", "tool", cs.name)
		return
	}

	args, ok := parseArgs(cs.args.String())
	if !ok {
		l.log.Warn("toolloop: dropped tool call with malformed arguments", "tool", cs.name, "id", cs.id)
		return
	}

	result, isError := Dispatch(ctx, l.tools, l.rc, l.hooks, l.tracer, l.log, cs.id, cs.name, args)

	l.toolUse = append(l.toolUse, canonical.ContentPart{
		Type: canonical.PartToolUse, ID: cs.id, Name: cs.name, Input: args,
	})
	l.results = append(l.results, canonical.ContentPart{
		Type: canonical.PartToolResult, ToolUseID: cs.id, Content: result, IsError: isError,
	})
}

// Dispatch validates args against the tool's declared input_schema, runs
// the PreToolUse/PostToolUse hook chain around the call, and invokes the
// handler, rendering any failure (schema mismatch, hook veto, or
// handler error) as the §7 tool_result error shape. It is the shared
// dispatch primitive behind both the streaming Loop (one call per
// captured block) and the gateway's non-streaming tool round (one call
// per tool_use content part in a complete response); hooksReg, tracer,
// and log may all be nil.
func Dispatch(ctx context.Context, tools ToolMap, rc *agents.RequestContext, hooksReg *hooks.Registry, tracer *tracing.Tracer, log *slog.Logger, id, name string, args json.RawMessage) (result string, isError bool) {
	if log == nil {
		log = slog.Default().With("component", "toolloop")
	}
	if tracer != nil {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "tool.dispatch")
		span.SetAttributes(attribute.String("tool.name", name), attribute.String("tool.call_id", id))
		defer func() {
			span.SetAttributes(attribute.Bool("tool.is_error", isError))
			span.End()
		}()
	}
	spec, ok := tools[name]
	if !ok {
		err := gwerrors.NewInternalError(fmt.Sprintf("tool %q is not active for this request", name), nil)
		log.Warn("toolloop: dispatch for unknown tool", "tool", name)
		return err.RenderToolResult(), true
	}

	var handlerResult string
	var err error
	if schemaErr := toolschema.Validate(name, spec.Def.InputSchema, args); schemaErr != nil {
		err = schemaErr
	} else if vetoed, reason := preToolUse(ctx, hooksReg, log, name, args); vetoed {
		err = gwerrors.NewToolValidationFailedError(fmt.Sprintf("tool %q vetoed by hook: %s", name, reason))
	} else {
		handlerResult, err = spec.Handler(ctx, rc, args)
	}
	postToolUse(ctx, hooksReg, log, name, err)

	if err != nil {
		log.Warn("toolloop: tool handler failed", "tool", name, "id", id, "error", err)
		var gwErr *gwerrors.GatewayError
		if errors.As(err, &gwErr) {
			return gwErr.RenderToolResult(), true
		}
		return fmt.Sprintf("<error code=%q><message>%s</message></error>", gwerrors.CodeInternalError, err.Error()), true
	}
	return handlerResult, false
}

// preToolUse fires the PreToolUse hook chain before a tool handler runs.
// A veto (Result.Continue == false) short-circuits dispatch entirely; a
// nil registry is a no-op.
func preToolUse(ctx context.Context, reg *hooks.Registry, log *slog.Logger, toolName string, args json.RawMessage) (vetoed bool, reason string) {
	if reg == nil {
		return false, ""
	}
	res, err := reg.Trigger(ctx, &hooks.Event{
		Type: hooks.PreToolUse,
		Data: map[string]any{"tool": toolName, "arguments": args},
	})
	if err != nil {
		log.Warn("toolloop: PreToolUse hook error", "tool", toolName, "error", err)
		return false, ""
	}
	if !res.Continue {
		log.Info("toolloop: PreToolUse hook vetoed tool call", "tool", toolName, "reason", res.Reason)
		return true, res.Reason
	}
	return false, ""
}

// postToolUse fires the PostToolUse hook chain after a tool handler has
// run (or been vetoed/failed schema validation). PostToolUse never
// vetoes; its Result is observational only.
func postToolUse(ctx context.Context, reg *hooks.Registry, log *slog.Logger, toolName string, handlerErr error) {
	if reg == nil {
		return
	}
	success := handlerErr == nil
	data := map[string]any{"tool": toolName, "success": success}
	if handlerErr != nil {
		data["error"] = handlerErr.Error()
	}
	if _, err := reg.Trigger(ctx, &hooks.Event{Type: hooks.PostToolUse, Data: data}); err != nil {
		log.Warn("toolloop: PostToolUse hook error", "tool", toolName, "error", err)
	}
}

// doReenter appends the accumulated assistant/user turns to the base
// conversation and re-invokes the gateway, relaying the child's events
// to the client with its message_start/message_stop filtered out so the
// outer stream's own framing stays monotonic (at most one
// message_start, one message_stop, across the whole relayed exchange).
func (l *Loop) doReenter(ctx context.Context, clientEmit func(canonical.MessageEvent) error) error {
	if l.reenter == nil {
		return gwerrors.NewInternalError("toolloop: re-entry requested but no ReenterFunc configured", nil)
	}

	augmented := *l.baseReq
	augmented.Messages = append(append([]canonical.Message{}, l.baseReq.Messages...),
		canonical.Message{Role: canonical.RoleAssistant, Content: canonical.NewPartsContent(l.toolUse)},
		canonical.Message{Role: canonical.RoleUser, Content: canonical.NewPartsContent(l.results)},
	)

	filtered := func(ev canonical.MessageEvent) error {
		if ev.Type == canonical.EventMessageStart || ev.Type == canonical.EventMessageStop {
			return nil
		}
		return clientEmit(ev)
	}

	l.reentered = true
	if err := l.reenter(ctx, &augmented, filtered); err != nil {
		return err
	}
	return ErrReentered
}
