package openai

import (
	"encoding/json"
	"fmt"

	oai "github.com/sashabaranov/go-openai"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/gwerrors"
)

// ToRequest translates a canonical request into an OpenAI-shaped one.
// Every tool is validated first; a single structural failure rejects
// the whole request with ToolValidationFailed, never a partial/sanitized
// translation.
func ToRequest(req *canonical.Request) (oai.ChatCompletionRequest, error) {
	for _, t := range req.Tools {
		if err := ValidateTool(t); err != nil {
			return oai.ChatCompletionRequest{}, err
		}
	}

	var messages []oai.ChatCompletionMessage
	if text := req.System.JoinedText(); text != "" {
		messages = append(messages, oai.ChatCompletionMessage{Role: oai.ChatMessageRoleSystem, Content: text})
	}
	for _, m := range req.Messages {
		converted, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionRequest{}, err
		}
		messages = append(messages, converted...)
	}

	out := oai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   req.Stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		out.TopP = float32(*req.TopP)
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}

	tools, err := convertTools(req.Tools)
	if err != nil {
		return oai.ChatCompletionRequest{}, err
	}
	out.Tools = tools

	if req.ToolChoice != nil {
		choice, err := convertToolChoice(*req.ToolChoice)
		if err != nil {
			return oai.ChatCompletionRequest{}, err
		}
		out.ToolChoice = choice
	}

	return out, nil
}

func convertTools(tools []canonical.Tool) ([]oai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]oai.Tool, 0, len(tools))
	for _, t := range tools {
		params, err := ConvertSchema(t.InputSchema)
		if err != nil {
			return nil, gwerrors.NewToolTransformationFailedError(
				fmt.Sprintf("tool %q: schema conversion failed", t.Name), err)
		}
		out = append(out, oai.Tool{
			Type: oai.ToolTypeFunction,
			Function: &oai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}
	return out, nil
}

func convertToolChoice(tc canonical.ToolChoice) (any, error) {
	switch tc.Type {
	case canonical.ToolChoiceAuto:
		return "auto", nil
	case canonical.ToolChoiceAny:
		return "required", nil
	case canonical.ToolChoiceTool:
		return oai.ToolChoice{
			Type:     oai.ToolTypeFunction,
			Function: oai.ToolFunction{Name: tc.Name},
		}, nil
	default:
		return nil, gwerrors.NewToolTransformationFailedError(
			fmt.Sprintf("unknown tool_choice type %q", tc.Type), nil)
	}
}

// convertMessage expands one canonical message into zero or more OpenAI
// messages: a tool_use part becomes part of an assistant message's
// ToolCalls, a tool_result part becomes its own role:"tool" message.
func convertMessage(m canonical.Message) ([]oai.ChatCompletionMessage, error) {
	parts := m.Content.AsParts()
	if len(parts) == 0 {
		return nil, nil
	}

	role := mapRole(m.Role)
	var out []oai.ChatCompletionMessage

	var textBuf string
	var toolCalls []oai.ToolCall
	flushAssistant := func() {
		if textBuf == "" && len(toolCalls) == 0 {
			return
		}
		out = append(out, oai.ChatCompletionMessage{Role: role, Content: textBuf, ToolCalls: toolCalls})
		textBuf = ""
		toolCalls = nil
	}

	for _, p := range parts {
		switch p.Type {
		case canonical.PartText:
			textBuf += p.Text
		case canonical.PartImage:
			textBuf += "[image omitted]"
		case canonical.PartToolUse:
			toolCalls = append(toolCalls, oai.ToolCall{
				ID:   p.ID,
				Type: oai.ToolTypeFunction,
				Function: oai.FunctionCall{
					Name:      p.Name,
					Arguments: string(p.Input),
				},
			})
		case canonical.PartToolResult:
			flushAssistant()
			out = append(out, oai.ChatCompletionMessage{
				Role:       oai.ChatMessageRoleTool,
				Content:    p.Content,
				ToolCallID: p.ToolUseID,
			})
		}
	}
	flushAssistant()
	return out, nil
}

func mapRole(r canonical.Role) string {
	switch r {
	case canonical.RoleAssistant:
		return oai.ChatMessageRoleAssistant
	case canonical.RoleSystem:
		return oai.ChatMessageRoleSystem
	default:
		return oai.ChatMessageRoleUser
	}
}
