package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	oai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ccr-gateway/ccr/internal/agents"
	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/config"
	"github.com/ccr-gateway/ccr/internal/contextbuilder"
	"github.com/ccr-gateway/ccr/internal/dialect/openai"
	"github.com/ccr-gateway/ccr/internal/gwerrors"
	"github.com/ccr-gateway/ccr/internal/memory"
	"github.com/ccr-gateway/ccr/internal/memtag"
	"github.com/ccr-gateway/ccr/internal/retry"
	"github.com/ccr-gateway/ccr/internal/sse"
	"github.com/ccr-gateway/ccr/internal/toolloop"
)

// subagentDepthHeader and subagentIDHeader carry the recursion bookkeeping
// across the loopback re-entry call described in §9; a request arriving
// with neither is a fresh top-level call at depth 0.
const (
	subagentDepthHeader = "x-ccr-subagent-depth"
	subagentIDHeader    = "x-ccr-subagent-id"
	requestDeadline     = 120 * time.Second
)

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(gwerrors.APIBody{
		Error: gwerrors.APIBodyError{Type: gwerrors.Code(errType), Message: message},
	})
}

func writeGatewayError(w http.ResponseWriter, err *gwerrors.GatewayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(err.RenderAPIBody())
}

// handleMessages implements POST /v1/messages (§6): the single entry
// point for every top-level and re-entrant gateway call.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req canonical.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerrors.CodeValidationError), "malformed request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, string(gwerrors.CodeValidationError), err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestDeadline)
	defer cancel()

	rc := s.buildRequestContext(r)
	rc.Tools = req.Tools

	result, err := s.runPipeline(&req, rc)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	if req.Stream {
		s.serveStreaming(ctx, w, &req, rc, result)
		return
	}
	s.serveNonStreaming(ctx, w, &req, rc, result)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var gwErr *gwerrors.GatewayError
	if errors.As(err, &gwErr) {
		s.log.Warn("request failed", "code", gwErr.Code, "error", gwErr.Message)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordError(string(gwErr.Code))
		}
		writeGatewayError(w, gwErr)
		return
	}
	s.log.Error("request failed with unclassified error", "error", err)
	writeError(w, http.StatusInternalServerError, string(gwerrors.CodeInternalError), err.Error())
}

// buildRequestContext reads the sub-agent recursion headers off an
// inbound request (set by a prior loopback re-entry call) and wires the
// agent-facing Reenter callback to call back into this same process.
func (s *Server) buildRequestContext(r *http.Request) *agents.RequestContext {
	depth := 0
	if v := r.Header.Get(subagentDepthHeader); v != "" {
		fmt.Sscanf(v, "%d", &depth)
	}
	subAgentID := r.Header.Get(subagentIDHeader)

	maxDepth := s.deps.Config.SubAgent.MaxDepth
	if maxDepth == 0 {
		maxDepth = 3
	}

	rc := &agents.RequestContext{
		RequestID:        uuid.NewString(),
		SessionID:        subAgentID,
		SubAgentDepth:    depth,
		MaxSubAgentDepth: maxDepth,
		MemoryEnabled:    s.deps.Config.Memory.Enabled,
	}
	rc.Reenter = func(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
		return s.reenterNonStreaming(ctx, req, depth+1, subAgentID)
	}
	return rc
}

// runPipeline runs the agent pipeline and injects memory recall into the
// system prompt via the context builder. It neither resolves the route
// (resolveAndTranslate does) nor makes any provider call.
func (s *Server) runPipeline(req *canonical.Request, rc *agents.RequestContext) (agents.Result, error) {
	result, err := s.deps.Pipeline.Run(req, rc)
	if err != nil {
		return agents.Result{}, err
	}

	var hits []memory.RecallResult
	if s.deps.Memory != nil && rc.MemoryEnabled {
		if q := lastUserText(req); q != "" {
			selector := memory.SelectBoth
			hits, err = s.deps.Memory.Recall(context.Background(), q, selector, rc.ProjectPath, s.deps.Config.Memory.AutoInjectMaxResults)
			if err != nil {
				s.log.Warn("memory recall failed, continuing without hits", "error", err)
				hits = nil
			}
		}
	}

	built := contextbuilder.Build(contextbuilder.Config{
		MemoryEnabled:      rc.MemoryEnabled,
		MaxTokens:          s.deps.Config.Memory.AutoInjectMaxTokens,
		ReserveForResponse: req.MaxTokens,
	}, req.System, req.Messages, hits)
	req.System = canonical.NewSystemText(built.Prompt)

	return result, nil
}

func lastUserText(req *canonical.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == canonical.RoleUser {
			if req.Messages[i].Content.Text != "" {
				return req.Messages[i].Content.Text
			}
			for _, p := range req.Messages[i].Content.AsParts() {
				if p.Type == canonical.PartText {
					return p.Text
				}
			}
		}
	}
	return ""
}

// resolveAndTranslate resolves the route and builds the outbound OpenAI
// request for it.
func (s *Server) resolveAndTranslate(req *canonical.Request, rc *agents.RequestContext) (oai.ChatCompletionRequest, string, string, error) {
	decision, err := s.deps.Router.Resolve(req, rc.SessionID, rc.ProjectPath)
	if err != nil {
		return oai.ChatCompletionRequest{}, "", "", err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordRouteDecision(decision.Route)
	}

	translated := *req
	translated.Model = decision.Model
	outReq, err := openai.ToRequest(&translated)
	if err != nil {
		return oai.ChatCompletionRequest{}, "", "", err
	}
	return outReq, decision.Provider, decision.Model, nil
}

func (s *Server) providerFor(name string) (config.Provider, error) {
	for _, p := range s.deps.Config.Providers {
		if p.Name == name {
			return p, nil
		}
	}
	return config.Provider{}, gwerrors.NewRouterFailedSelectionError(fmt.Sprintf("no provider configured named %q", name))
}

// callProvider performs the outbound non-streaming completion call
// through the §5 retry policy.
func (s *Server) callProvider(ctx context.Context, provider, model string, outReq oai.ChatCompletionRequest) (oai.ChatCompletionResponse, error) {
	if s.deps.Tracer != nil {
		var span trace.Span
		ctx, span = s.deps.Tracer.Start(ctx, "llm.request")
		span.SetAttributes(attribute.String("llm.provider", provider), attribute.String("llm.model", model))
		defer span.End()
	}

	pCfg, err := s.providerFor(provider)
	if err != nil {
		return oai.ChatCompletionResponse{}, err
	}

	clientCfg := oai.DefaultConfig(pCfg.APIKey)
	if pCfg.BaseURL != "" {
		clientCfg.BaseURL = pCfg.BaseURL
	}
	client := oai.NewClientWithConfig(clientCfg)

	var resp oai.ChatCompletionResponse
	res := retry.Do(ctx, retry.DefaultConfig(), func(attempt int) error {
		if attempt > 1 && s.deps.Metrics != nil {
			s.deps.Metrics.RecordProviderRetry(provider, model)
		}
		start := time.Now()
		r, callErr := client.CreateChatCompletion(ctx, outReq)
		if s.deps.Metrics != nil {
			status := "ok"
			if callErr != nil {
				status = "error"
			}
			s.deps.Metrics.RecordProviderRequest(provider, model, status, time.Since(start).Seconds())
		}
		if callErr != nil {
			return classifyProviderError(callErr)
		}
		resp = r
		return nil
	})
	if res.Err != nil {
		return oai.ChatCompletionResponse{}, res.Err
	}
	return resp, nil
}

// classifyProviderError maps a transport/API error to the §5 retry
// policy: 429, 502, 503 and network errors retry, any other 4xx is
// permanent, and any other status is returned as retryable.
func classifyProviderError(err error) error {
	var apiErr *oai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return err
		case apiErr.HTTPStatusCode == http.StatusBadGateway, apiErr.HTTPStatusCode == http.StatusServiceUnavailable:
			return err
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			return retry.Permanent(gwerrors.NewAPIAuthFailedError(err.Error(), err))
		}
		return err
	}
	return err
}

// serveNonStreaming drives the full non-streaming tool dispatch round
// (§4.I/§4.J generalized to a complete response rather than a stream):
// call the provider, translate the response, dispatch any tool_use
// parts via the shared toolloop.Dispatch primitive, and re-call the
// provider with the augmented conversation until the model stops
// requesting tools or the local maxRounds bound is hit.
func (s *Server) serveNonStreaming(ctx context.Context, w http.ResponseWriter, req *canonical.Request, rc *agents.RequestContext, pipeline agents.Result) {
	tools := toolloop.NewToolMap(pipeline.Tools)
	working := *req

	// maxRounds bounds the number of tool-dispatch round-trips within
	// this single HTTP call; it is independent of rc.MaxSubAgentDepth,
	// which bounds recursive loopback re-entry instead (§9).
	const maxRounds = 8
	var resp *canonical.Response
	for round := 0; ; round++ {
		outReq, provider, model, err := s.resolveAndTranslate(&working, rc)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		oaiResp, err := s.callProvider(ctx, provider, model, outReq)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		resp, err = openai.FromResponse(oaiResp)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		resp.Model = working.Model

		var toolUses []canonical.ContentPart
		for _, part := range resp.Content {
			if part.Type == canonical.PartToolUse {
				toolUses = append(toolUses, part)
			}
		}
		if len(toolUses) == 0 {
			break
		}
		if round >= maxRounds {
			s.writeErr(w, gwerrors.NewSubAgentDepthExceededError("maximum tool-dispatch rounds reached with pending tool calls"))
			return
		}

		var results []canonical.ContentPart
		for _, tu := range toolUses {
			result, isError := toolloop.Dispatch(ctx, tools, rc, s.deps.Hooks, s.deps.Tracer, s.log, tu.ID, tu.Name, tu.Input)
			results = append(results, canonical.ContentPart{Type: canonical.PartToolResult, ToolUseID: tu.ID, Content: result, IsError: isError})
		}

		working.Messages = append(append([]canonical.Message{}, working.Messages...),
			canonical.Message{Role: canonical.RoleAssistant, Content: canonical.NewPartsContent(resp.Content)},
			canonical.Message{Role: canonical.RoleUser, Content: canonical.NewPartsContent(results)},
		)
	}

	stripped, tags := memtag.Extract(extractText(resp.Content))
	for _, tag := range tags {
		s.persistTag(ctx, tag, rc)
	}
	replaceText(resp.Content, stripped)

	s.deps.Router.RecordUsage(rc.SessionID, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func extractText(parts []canonical.ContentPart) string {
	for _, p := range parts {
		if p.Type == canonical.PartText {
			return p.Text
		}
	}
	return ""
}

func replaceText(parts []canonical.ContentPart, text string) {
	for i := range parts {
		if parts[i].Type == canonical.PartText {
			parts[i].Text = text
			return
		}
	}
}

func (s *Server) persistTag(ctx context.Context, tag memtag.Tag, rc *agents.RequestContext) {
	if s.deps.Memory == nil {
		return
	}
	scope := memory.ScopeGlobal
	if tag.Scope == string(memory.ScopeProject) {
		scope = memory.ScopeProject
	}
	rec := &memory.Record{
		Content:     tag.Content,
		Category:    memory.Category(tag.Category),
		Scope:       scope,
		ProjectPath: rc.ProjectPath,
		Importance:  0.5,
	}
	if _, err := s.deps.Memory.Remember(ctx, rec); err != nil {
		s.log.Warn("failed to persist remembered tag", "error", err)
	}
}

// serveStreaming drives the SSE response path: translate to an OpenAI
// stream, run it through the dialect translator and the tool-call loop,
// and relay canonical events to the client over the wire SSE codec.
func (s *Server) serveStreaming(ctx context.Context, w http.ResponseWriter, req *canonical.Request, rc *agents.RequestContext, pipeline agents.Result) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErr(w, gwerrors.NewInternalError("response writer does not support streaming", nil))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	tools := toolloop.NewToolMap(pipeline.Tools)
	stripper := memtag.NewStripper()

	emit := func(ev canonical.MessageEvent) error {
		if ev.Type == canonical.EventContentBlockDelta && ev.Delta != nil && ev.Delta.Type == canonical.DeltaText {
			visible, tags := stripper.Feed(ev.Delta.Text)
			for _, tag := range tags {
				s.persistTag(ctx, tag, rc)
			}
			if visible == "" {
				return nil
			}
			ev.Delta.Text = visible
		}
		if err := sse.WriteMessage(w, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	reenter := func(ctx context.Context, childReq *canonical.Request, childEmit func(canonical.MessageEvent) error) error {
		return s.reenterStreaming(ctx, childReq, rc.SubAgentDepth+1, rc.SessionID, childEmit)
	}

	loop := toolloop.New(tools, rc, req, reenter, toolloop.WithHooks(s.deps.Hooks), toolloop.WithTracer(s.deps.Tracer))

	err := s.runStream(ctx, req, rc, loop, emit)
	if err != nil && !errors.Is(err, toolloop.ErrReentered) {
		s.log.Error("streaming request failed", "error", err)
	}

	if visible, tags := stripper.Flush(); true {
		for _, tag := range tags {
			s.persistTag(ctx, tag, rc)
		}
		if visible != "" {
			_ = sse.WriteMessage(w, canonical.NewContentBlockDelta(0, canonical.Delta{Type: canonical.DeltaText, Text: visible}))
			flusher.Flush()
		}
	}

	_ = sse.WriteDone(w)
	flusher.Flush()
}

// runStream performs one upstream call, translates its raw SSE body
// through the dialect translator, and pipes each event through the tool
// loop. The OpenAI SDK client is used only for non-streaming calls,
// whose response shape it owns; the streaming body is read directly so
// internal/dialect/openai's own SSE translator (not the SDK's) governs
// parsing, matching how that package is grounded on internal/sse.
func (s *Server) runStream(ctx context.Context, req *canonical.Request, rc *agents.RequestContext, loop *toolloop.Loop, emit func(canonical.MessageEvent) error) error {
	outReq, provider, model, err := s.resolveAndTranslate(req, rc)
	if err != nil {
		return err
	}
	outReq.Stream = true

	if s.deps.Tracer != nil {
		var span trace.Span
		ctx, span = s.deps.Tracer.Start(ctx, "llm.request")
		span.SetAttributes(attribute.String("llm.provider", provider), attribute.String("llm.model", model), attribute.Bool("llm.stream", true))
		defer span.End()
	}

	pCfg, err := s.providerFor(provider)
	if err != nil {
		return err
	}

	body, err := json.Marshal(outReq)
	if err != nil {
		return err
	}
	baseURL := pCfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	url := baseURL + "/chat/completions"

	// The retry policy only covers connection establishment: building the
	// request, sending it, and checking the status code. Once a
	// successful response is in hand, TranslateStream runs exactly once,
	// outside the retry closure below, since by then SSE bytes may
	// already be reaching the client and a retry would duplicate them.
	var resp *http.Response
	res := retry.Do(ctx, retry.DefaultConfig(), func(attempt int) error {
		if attempt > 1 && s.deps.Metrics != nil {
			s.deps.Metrics.RecordProviderRetry(provider, model)
		}
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if reqErr != nil {
			return retry.Permanent(reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		if pCfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+pCfg.APIKey)
		}

		start := time.Now()
		r, doErr := s.outbound.Do(httpReq)
		status := "ok"
		if doErr != nil || (r != nil && r.StatusCode >= 400) {
			status = "error"
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordProviderRequest(provider, model, status, time.Since(start).Seconds())
		}
		if doErr != nil {
			return doErr
		}
		if r.StatusCode >= 400 {
			return classifyStreamStatus(provider, r)
		}
		resp = r
		return nil
	})
	if res.Err != nil {
		return res.Err
	}
	defer resp.Body.Close()

	return openai.TranslateStream(resp.Body, func(ev canonical.MessageEvent) error {
		return loop.HandleEvent(ctx, ev, emit)
	})
}

// classifyStreamStatus maps a raw outbound status code to the §5 retry
// policy, the streaming-path analogue of classifyProviderError: 429,
// 502, and 503 retry, any other 4xx is permanent. The response body is
// closed unread since it carries no usable payload on a non-2xx
// connection attempt.
func classifyStreamStatus(provider string, resp *http.Response) error {
	defer resp.Body.Close()
	err := gwerrors.NewAPITimeoutError(fmt.Sprintf("upstream provider %q returned status %d", provider, resp.StatusCode), nil)
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return err
	default:
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Permanent(err)
		}
		return err
	}
}
