package agents

import (
	"context"
	"encoding/json"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/gwerrors"
	"github.com/ccr-gateway/ccr/internal/memory"
)

// MemoryAgent activates whenever memory is enabled for the request. It
// exposes ccr_remember/ccr_recall/ccr_forget tools that call the memory
// store directly, with no gateway re-entry involved (§4.I).
type MemoryAgent struct {
	manager *memory.Manager
}

// NewMemoryAgent builds a MemoryAgent backed by the given manager.
func NewMemoryAgent(manager *memory.Manager) *MemoryAgent {
	return &MemoryAgent{manager: manager}
}

func (a *MemoryAgent) Name() string { return "memory" }

func (a *MemoryAgent) ShouldHandle(req *canonical.Request, rc *RequestContext) bool {
	return rc.MemoryEnabled
}

func (a *MemoryAgent) HandleRequest(req *canonical.Request, rc *RequestContext) error {
	return nil
}

func (a *MemoryAgent) Tools() []ToolSpec {
	return []ToolSpec{
		{
			Def: canonical.Tool{
				Name:        "ccr_remember",
				Description: "Store a durable memory record for later recall.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"},"category":{"type":"string","enum":["preference","pattern","decision","architecture","knowledge","error","workflow","context","code"]},"scope":{"type":"string","enum":["global","project"]},"importance":{"type":"number"}},"required":["content","category","scope"]}`),
			},
			Handler: a.handleRemember,
		},
		{
			Def: canonical.Tool{
				Name:        "ccr_recall",
				Description: "Recall stored memory records relevant to a query.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"},"scope":{"type":"string","enum":["global","project","both"]},"topK":{"type":"number"}},"required":["query"]}`),
			},
			Handler: a.handleRecall,
		},
		{
			Def: canonical.Tool{
				Name:        "ccr_forget",
				Description: "Delete a previously stored memory record by id.",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"},"scope":{"type":"string","enum":["global","project"]}},"required":["id","scope"]}`),
			},
			Handler: a.handleForget,
		},
	}
}

type rememberArgs struct {
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Scope      string  `json:"scope"`
	Importance float64 `json:"importance"`
}

func (a *MemoryAgent) handleRemember(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error) {
	var parsed rememberArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", gwerrors.NewToolValidationFailedError("ccr_remember: invalid arguments: " + err.Error())
	}
	importance := parsed.Importance
	if importance == 0 {
		importance = 0.5
	}
	rec := &memory.Record{
		Content:     parsed.Content,
		Category:    memory.Category(parsed.Category),
		Scope:       memory.Scope(parsed.Scope),
		ProjectPath: rc.ProjectPath,
		Importance:  importance,
	}
	saved, err := a.manager.Remember(ctx, rec)
	if err != nil {
		return "", gwerrors.NewMemorySaveFailedError("ccr_remember: "+err.Error(), err)
	}
	return "remembered: " + saved.ID, nil
}

type recallArgs struct {
	Query string `json:"query"`
	Scope string `json:"scope"`
	TopK  int    `json:"topK"`
}

func (a *MemoryAgent) handleRecall(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error) {
	var parsed recallArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", gwerrors.NewToolValidationFailedError("ccr_recall: invalid arguments: " + err.Error())
	}
	topK := parsed.TopK
	if topK <= 0 {
		topK = 5
	}
	selector := memory.SelectBoth
	switch parsed.Scope {
	case "global":
		selector = memory.SelectGlobal
	case "project":
		selector = memory.SelectProject
	}
	hits, err := a.manager.Recall(ctx, parsed.Query, selector, rc.ProjectPath, topK)
	if err != nil {
		return "", gwerrors.NewMemoryRecallFailedError("ccr_recall: "+err.Error(), err)
	}
	out, err := json.Marshal(hits)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type forgetArgs struct {
	ID    string `json:"id"`
	Scope string `json:"scope"`
}

func (a *MemoryAgent) handleForget(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error) {
	var parsed forgetArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", gwerrors.NewToolValidationFailedError("ccr_forget: invalid arguments: " + err.Error())
	}
	if err := a.manager.Forget(ctx, parsed.ID, memory.Scope(parsed.Scope), rc.ProjectPath); err != nil {
		return "", gwerrors.NewMemorySaveFailedError("ccr_forget: "+err.Error(), err)
	}
	return "forgot: " + parsed.ID, nil
}
