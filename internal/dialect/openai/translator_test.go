package openai

import (
	"strings"
	"testing"

	oai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccr-gateway/ccr/internal/canonical"
)

func TestValidateToolRejectsMissingType(t *testing.T) {
	tool := canonical.Tool{Name: "search", Description: "search the web", InputSchema: []byte(`{"properties":{}}`)}
	err := ValidateTool(tool)
	require.Error(t, err)
}

func TestConvertSchemaDropsUnknownKeys(t *testing.T) {
	raw := []byte(`{"type":"object","title":"ignored","properties":{"q":{"type":"string","format":"ignored"}},"required":["q"]}`)
	out, err := ConvertSchema(raw)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "title")
	assert.NotContains(t, string(out), "format")
	assert.Contains(t, string(out), `"type":"object"`)
}

func TestToRequestFailsFastOnInvalidTool(t *testing.T) {
	req := &canonical.Request{
		Model:    "gpt-4o",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: canonical.NewTextContent("hi")}},
		Tools:    []canonical.Tool{{Name: "bad", Description: "x", InputSchema: []byte(`{"type":"string"}`)}},
	}
	_, err := ToRequest(req)
	require.Error(t, err)
}

func TestToRequestPrependsSystemMessage(t *testing.T) {
	req := &canonical.Request{
		Model:    "gpt-4o",
		System:   canonical.NewSystemText("be terse"),
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: canonical.NewTextContent("hi")}},
	}
	out, err := ToRequest(req)
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, oai.ChatMessageRoleSystem, out.Messages[0].Role)
	assert.Equal(t, "be terse", out.Messages[0].Content)
}

func TestToRequestMapsToolChoice(t *testing.T) {
	req := &canonical.Request{
		Model:    "gpt-4o",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Content: canonical.NewTextContent("hi")}},
		ToolChoice: &canonical.ToolChoice{
			Type: canonical.ToolChoiceTool, Name: "search",
		},
	}
	out, err := ToRequest(req)
	require.NoError(t, err)
	choice, ok := out.ToolChoice.(oai.ToolChoice)
	require.True(t, ok)
	assert.Equal(t, "search", choice.Function.Name)
}

func TestFromResponseDropsUnparseableToolCallArguments(t *testing.T) {
	resp := oai.ChatCompletionResponse{
		ID: "resp-1",
		Choices: []oai.ChatCompletionChoice{{
			FinishReason: "tool_calls",
			Message: oai.ChatCompletionMessage{
				ToolCalls: []oai.ToolCall{
					{ID: "1", Type: oai.ToolTypeFunction, Function: oai.FunctionCall{Name: "ok", Arguments: `{"a":1}`}},
					{ID: "2", Type: oai.ToolTypeFunction, Function: oai.FunctionCall{Name: "bad", Arguments: `{not json`}},
					{ID: "3", Type: oai.ToolTypeFunction, Function: oai.FunctionCall{Name: "empty", Arguments: ""}},
				},
			},
		}},
	}
	out, err := FromResponse(resp)
	require.NoError(t, err)
	require.Len(t, out.Content, 2)
	assert.Equal(t, "ok", out.Content[0].Name)
	assert.Equal(t, "empty", out.Content[1].Name)
	assert.Equal(t, "{}", string(out.Content[1].Input))
	assert.Equal(t, "tool_use", out.StopReason)
}

func TestTranslateStreamEmitsBalancedBlocks(t *testing.T) {
	body := "data: {\"id\":\"x\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"id\":\"x\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	var events []canonical.MessageEvent
	err := TranslateStream(strings.NewReader(body), func(ev canonical.MessageEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	var starts, stops int
	for _, ev := range events {
		switch ev.Type {
		case canonical.EventContentBlockStart:
			starts++
		case canonical.EventContentBlockStop:
			stops++
		}
	}
	assert.Equal(t, starts, stops)
	assert.Equal(t, canonical.EventMessageStop, events[len(events)-1].Type)
}
