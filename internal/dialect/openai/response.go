package openai

import (
	"encoding/json"
	"log/slog"

	oai "github.com/sashabaranov/go-openai"

	"github.com/ccr-gateway/ccr/internal/canonical"
)

var log = slog.Default().With("component", "dialect.openai")

// mapFinishReason translates an OpenAI finish_reason to a canonical
// stop_reason: tool_calls -> tool_use, stop -> end_turn, else verbatim.
func mapFinishReason(reason string) string {
	switch reason {
	case "tool_calls":
		return "tool_use"
	case "stop":
		return "end_turn"
	default:
		return reason
	}
}

// FromResponse translates a non-streaming OpenAI response into a
// canonical one, per §4.G. A tool_call whose arguments fail to parse is
// dropped and logged rather than failing the whole response; an empty
// arguments string parses as {}.
func FromResponse(resp oai.ChatCompletionResponse) (*canonical.Response, error) {
	if len(resp.Choices) == 0 {
		return &canonical.Response{
			ID: resp.ID, Type: "message", Role: canonical.RoleAssistant, Model: resp.Model,
		}, nil
	}
	choice := resp.Choices[0]

	var content []canonical.ContentPart
	if choice.Message.Content != "" {
		content = append(content, canonical.ContentPart{Type: canonical.PartText, Text: choice.Message.Content})
	}

	for _, tc := range choice.Message.ToolCalls {
		if tc.Type != oai.ToolTypeFunction {
			continue
		}
		args := tc.Function.Arguments
		var parsed json.RawMessage
		if args == "" {
			parsed = json.RawMessage("{}")
		} else if json.Valid([]byte(args)) {
			parsed = json.RawMessage(args)
		} else {
			log.Warn("dropping tool call with unparseable arguments", "tool", tc.Function.Name, "id", tc.ID)
			continue
		}
		content = append(content, canonical.ContentPart{
			Type:  canonical.PartToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: parsed,
		})
	}

	return &canonical.Response{
		ID:         resp.ID,
		Type:       "message",
		Role:       canonical.RoleAssistant,
		Model:      resp.Model,
		Content:    content,
		StopReason: mapFinishReason(string(choice.FinishReason)),
		Usage: canonical.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
