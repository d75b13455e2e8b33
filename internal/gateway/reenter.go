package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/gwerrors"
	"github.com/ccr-gateway/ccr/internal/sse"
)

// reenterNonStreaming implements agents.RequestContext.Reenter: a real
// HTTP POST back to this gateway's own /v1/messages endpoint over the
// loopback interface, per §9's design note that the tool-call loop
// "re-enters the same endpoint over the loopback interface... This is
// deliberate: it preserves a single point for auth, routing, agent
// injection, and extraction." The sub-agent depth is threaded through a
// header rather than an in-process call so the re-entry is
// indistinguishable, from the server's point of view, from any other
// inbound request.
func (s *Server) reenterNonStreaming(ctx context.Context, req *canonical.Request, depth int, subAgentID string) (*canonical.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := s.loopbackRequest(ctx, body, depth, subAgentID)
	if err != nil {
		return nil, err
	}

	resp, err := s.loopback.Do(httpReq)
	if err != nil {
		return nil, gwerrors.NewInternalError("loopback re-entry call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body gwerrors.APIBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, gwerrors.NewSubAgentExecutionFailedError(fmt.Sprintf("re-entered call failed with status %d: %s", resp.StatusCode, body.Error.Message), nil)
	}

	var out canonical.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gwerrors.NewInternalError("failed to decode re-entered response", err)
	}
	return &out, nil
}

// reenterStreaming implements toolloop.ReenterFunc: the streaming
// counterpart of reenterNonStreaming. It posts with stream:true and
// relays the child's SSE body through the canonical SSE parser so the
// caller's emit is invoked exactly as if it had generated the events
// itself.
func (s *Server) reenterStreaming(ctx context.Context, req *canonical.Request, depth int, subAgentID string, emit func(canonical.MessageEvent) error) error {
	streamReq := *req
	streamReq.Stream = true
	body, err := json.Marshal(&streamReq)
	if err != nil {
		return err
	}

	httpReq, err := s.loopbackRequest(ctx, body, depth, subAgentID)
	if err != nil {
		return err
	}

	resp, err := s.loopback.Do(httpReq)
	if err != nil {
		return gwerrors.NewInternalError("loopback re-entry stream call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body gwerrors.APIBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return gwerrors.NewSubAgentExecutionFailedError(fmt.Sprintf("re-entered stream failed with status %d: %s", resp.StatusCode, body.Error.Message), nil)
	}

	parser := sse.NewParser(resp.Body)
	for {
		ev, ok, err := parser.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if ev.Done || ev.Raw {
			return nil
		}
		msg, err := sse.ParseMessage(*ev)
		if err != nil {
			return err
		}
		if err := emit(*msg); err != nil {
			return err
		}
	}
}

func (s *Server) loopbackRequest(ctx context.Context, body []byte, depth int, subAgentID string) (*http.Request, error) {
	if depth > 0 && s.deps.Config.SubAgent.MaxDepth > 0 && depth > s.deps.Config.SubAgent.MaxDepth {
		return nil, gwerrors.NewSubAgentDepthExceededError(fmt.Sprintf("sub-agent re-entry depth %d exceeds configured maximum", depth))
	}
	if subAgentID == "" {
		subAgentID = uuid.NewString()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.selfOrigin+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(subagentDepthHeader, fmt.Sprintf("%d", depth))
	httpReq.Header.Set(subagentIDHeader, subAgentID)
	if s.deps.Config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.deps.Config.APIKey)
	}
	return httpReq, nil
}
