package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/gwerrors"
)

// ToolFilterMode selects which tools a spawned sub-agent is allowed to
// keep from the parent's tool list.
type ToolFilterMode string

const (
	// ToolFilterReadOnly keeps only tools the caller has marked safe for
	// a research/review sub-agent (see SubAgentConfig.ReadOnlyTools).
	ToolFilterReadOnly ToolFilterMode = "read_only"
	// ToolFilterFullWrite keeps the parent's entire tool list, for a
	// code-authoring sub-agent.
	ToolFilterFullWrite ToolFilterMode = "full_write"
)

const subAgentSystemInstruction = "You can delegate an isolated sub-task to a fresh conversation with the spawn_subagent tool. Use mode \"review\" for read-only research/review tasks and mode \"code\" when the sub-task must write code."

// SubAgentConfig names which caller tools survive into a read-only
// spawned conversation; everything else is available to a "code" mode
// spawn.
type SubAgentConfig struct {
	Model         string
	ReadOnlyTools []string
}

// SubAgent activates while the configured max recursion depth has not
// yet been reached. It injects instructions describing the
// spawn_subagent tool, which runs an isolated conversation at depth+1
// with a tool list filtered by requested mode (§4.I).
type SubAgent struct {
	cfg SubAgentConfig
}

// NewSubAgent builds a SubAgent with the given spawn configuration.
func NewSubAgent(cfg SubAgentConfig) *SubAgent {
	return &SubAgent{cfg: cfg}
}

func (a *SubAgent) Name() string { return "subagent" }

func (a *SubAgent) ShouldHandle(req *canonical.Request, rc *RequestContext) bool {
	return rc.SubAgentDepth < rc.MaxSubAgentDepth
}

func (a *SubAgent) HandleRequest(req *canonical.Request, rc *RequestContext) error {
	req.System.Blocks = append(req.System.Blocks, canonical.SystemBlock{Type: "text", Text: subAgentSystemInstruction})
	return nil
}

func (a *SubAgent) Tools() []ToolSpec {
	schema := json.RawMessage(`{"type":"object","properties":{"task":{"type":"string","description":"the task description for the spawned sub-agent"},"mode":{"type":"string","enum":["review","code"],"description":"review for read-only research, code for full write access"}},"required":["task","mode"]}`)
	return []ToolSpec{{
		Def: canonical.Tool{
			Name:        "spawn_subagent",
			Description: "Delegate an isolated sub-task to a fresh conversation at the next recursion depth.",
			InputSchema: schema,
		},
		Handler: a.handleSpawn,
	}}
}

type spawnArgs struct {
	Task string `json:"task"`
	Mode string `json:"mode"`
}

func (a *SubAgent) filterTools(mode string, caller []canonical.Tool) []canonical.Tool {
	if mode != string(ToolFilterReadOnly) && mode != "review" {
		return caller
	}
	allowed := make(map[string]bool, len(a.cfg.ReadOnlyTools))
	for _, n := range a.cfg.ReadOnlyTools {
		allowed[n] = true
	}
	out := make([]canonical.Tool, 0, len(caller))
	for _, t := range caller {
		if allowed[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

func (a *SubAgent) handleSpawn(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error) {
	if rc.SubAgentDepth >= rc.MaxSubAgentDepth {
		return "", gwerrors.NewSubAgentDepthExceededError(fmt.Sprintf("spawn_subagent: max depth %d reached", rc.MaxSubAgentDepth))
	}
	var parsed spawnArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", gwerrors.NewToolValidationFailedError("spawn_subagent: invalid arguments: " + err.Error())
	}
	if rc.Reenter == nil {
		return "", gwerrors.NewSubAgentExecutionFailedError("spawn_subagent: gateway re-entry not available", nil)
	}

	systemPrompt := fmt.Sprintf("You are a sub-agent spawned to complete one isolated task in %s mode: %s", parsed.Mode, parsed.Task)
	child := &canonical.Request{
		Model:    a.cfg.Model,
		System:   canonical.NewSystemText(systemPrompt),
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: canonical.NewTextContent(parsed.Task)}},
		Tools:    a.filterTools(parsed.Mode, rc.Tools),
	}

	resp, err := rc.Reenter(ctx, child)
	if err != nil {
		return "", gwerrors.NewSubAgentExecutionFailedError("spawn_subagent: child run failed", err)
	}

	text := ""
	for _, p := range resp.Content {
		if p.Type == canonical.PartText {
			text += p.Text
		}
	}
	return "<subagent_result>" + text + "</subagent_result>", nil
}
