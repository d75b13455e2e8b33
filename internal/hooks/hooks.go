// Package hooks implements §4.K's event-driven interception layer:
// named handlers subscribed to a closed set of lifecycle events, run in
// priority order with veto and per-call timeout semantics. Grounded on
// the established internal/hooks registry (priority-sorted dispatch,
// panic-safe handler invocation) generalized from the established open
// channel/message event taxonomy to the gateway's fixed request-pipeline
// events.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType is one of the closed set of lifecycle events a handler may
// subscribe to (§4.K).
type EventType string

const (
	PreToolUse   EventType = "PreToolUse"
	PostToolUse  EventType = "PostToolUse"
	PreRoute     EventType = "PreRoute"
	PostRoute    EventType = "PostRoute"
	SessionStart EventType = "SessionStart"
	SessionEnd   EventType = "SessionEnd"
	PreResponse  EventType = "PreResponse"
	PostResponse EventType = "PostResponse"
	PreCompact   EventType = "PreCompact"
	Notification EventType = "Notification"
)

// Priority determines dispatch order: higher runs first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 50
	PriorityHigh   Priority = 100
)

// Event carries the payload a handler inspects and may react to. Data
// is the free-form, event-specific context (e.g. the tool name and
// arguments for PreToolUse, the resolved route for PostRoute).
type Event struct {
	Type EventType
	Data map[string]any
}

// Result is a handler's verdict. A handler lets the operation proceed by
// returning Continue true; a Result with Continue false (including the
// zero Result) vetoes the operation the event represents, and no
// further handler for that event runs.
type Result struct {
	Continue bool
	Reason   string
}

// Handler reacts to one event. Handlers should be fast; anything
// exceeding its registration's timeout is abandoned and logged rather
// than allowed to block the operation (§4.K).
type Handler func(ctx context.Context, event *Event) (Result, error)

// Registration is one subscribed handler.
type Registration struct {
	ID       string
	Event    EventType
	Handler  Handler
	Priority Priority
	Timeout  time.Duration
	Name     string
	Source   string
}

const defaultTimeout = 5 * time.Second

// Registry manages subscriptions and dispatches events to them.
type Registry struct {
	mu       sync.RWMutex
	handlers map[EventType][]*Registration
	byID     map[string]*Registration
	logger   *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[EventType][]*Registration),
		byID:     make(map[string]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// Option configures a Registration at registration time.
type Option func(*Registration)

// WithPriority sets the handler's dispatch priority.
func WithPriority(p Priority) Option { return func(r *Registration) { r.Priority = p } }

// WithTimeout overrides the default 5s per-call timeout.
func WithTimeout(d time.Duration) Option { return func(r *Registration) { r.Timeout = d } }

// WithName sets a debugging name.
func WithName(name string) Option { return func(r *Registration) { r.Name = name } }

// WithSource records where the handler came from (e.g. a plugin name).
func WithSource(source string) Option { return func(r *Registration) { r.Source = source } }

// Register subscribes handler to event and returns a registration id
// usable with Unregister.
func (r *Registry) Register(event EventType, handler Handler, opts ...Option) string {
	reg := &Registration{
		ID:       uuid.NewString(),
		Event:    event,
		Handler:  handler,
		Priority: PriorityNormal,
		Timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], reg)
	sort.SliceStable(r.handlers[event], func(i, j int) bool {
		return r.handlers[event][i].Priority > r.handlers[event][j].Priority
	})
	r.byID[reg.ID] = reg
	return reg.ID
}

// Unregister removes a handler by its registration id.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	list := r.handlers[reg.Event]
	for i, h := range list {
		if h.ID == id {
			r.handlers[reg.Event] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return true
}

// Trigger dispatches event to every subscribed handler in priority
// order. The first handler to return Continue:false short-circuits the
// rest and its Result is returned. A handler error is logged and
// treated as a non-veto (dispatch continues). A handler that exceeds
// its timeout is abandoned and logged — its goroutine keeps running to
// completion in the background, but its result is discarded.
func (r *Registry) Trigger(ctx context.Context, event *Event) (Result, error) {
	r.mu.RLock()
	handlers := append([]*Registration{}, r.handlers[event.Type]...)
	r.mu.RUnlock()

	for _, reg := range handlers {
		res, err := r.callWithTimeout(ctx, reg, event)
		if err != nil {
			r.logger.Warn("hook handler error", "event", event.Type, "handler", reg.Name, "error", err)
			continue
		}
		if !res.Continue {
			r.logger.Debug("hook vetoed operation", "event", event.Type, "handler", reg.Name, "reason", res.Reason)
			return res, nil
		}
	}
	return Result{Continue: true}, nil
}

func (r *Registry) callWithTimeout(ctx context.Context, reg *Registration, event *Event) (res Result, err error) {
	done := make(chan struct{})
	go func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("hook panic: %v", p)
			}
			close(done)
		}()
		res, err = reg.Handler(ctx, event)
	}()

	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	select {
	case <-done:
		return res, err
	case <-time.After(timeout):
		r.logger.Warn("hook handler timed out, abandoning", "event", event.Type, "handler", reg.Name, "timeout", timeout)
		return Result{Continue: true}, nil
	}
}

// RegisteredEvents lists event types with at least one handler.
func (r *Registry) RegisteredEvents() []EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventType, 0, len(r.handlers))
	for t, hs := range r.handlers {
		if len(hs) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// List returns the registrations for one event type, in dispatch order.
func (r *Registry) List(event EventType) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.handlers[event]
	out := make([]*Registration, len(src))
	copy(out, src)
	return out
}
