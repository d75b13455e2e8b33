package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	oai "github.com/sashabaranov/go-openai"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/sse"
)

// textBlockIndex is the canonical block index text deltas are emitted
// under. OpenAI never interleaves a text delta with tool_calls within
// the same stream, so this never collides with a preserved upstream
// tool-call index.
const textBlockIndex = 0

// TranslateStream reads an upstream OpenAI SSE stream from r and emits
// the equivalent canonical events to emit, one at a time, buffering the
// inbound byte stream on blank-line boundaries (via internal/sse) so no
// partial event is ever translated, per §4.G.
func TranslateStream(r io.Reader, emit func(canonical.MessageEvent) error) error {
	parser := sse.NewParser(r)
	started := make(map[int]bool)
	messageStartSent := false

	closeOpenBlocks := func() error {
		indices := make([]int, 0, len(started))
		for idx := range started {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			if err := emit(canonical.NewContentBlockStop(idx)); err != nil {
				return err
			}
			delete(started, idx)
		}
		return nil
	}

	for {
		ev, ok, err := parser.Next()
		if err != nil {
			return fmt.Errorf("openai: read upstream stream: %w", err)
		}
		if !ok {
			return nil
		}
		if ev.Done {
			if err := closeOpenBlocks(); err != nil {
				return err
			}
			return emit(canonical.NewMessageStop())
		}
		if ev.Raw {
			continue
		}

		var chunk oai.ChatCompletionStreamResponse
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			continue
		}

		if !messageStartSent {
			if err := emit(canonical.NewMessageStart(&canonical.ResponseMessage{
				ID: chunk.ID, Type: "message", Role: canonical.RoleAssistant, Model: chunk.Model,
			})); err != nil {
				return err
			}
			messageStartSent = true
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if !started[textBlockIndex] {
				if err := emit(canonical.NewContentBlockStart(textBlockIndex, canonical.ContentBlockStart{Type: canonical.BlockText})); err != nil {
					return err
				}
				started[textBlockIndex] = true
			}
			if err := emit(canonical.NewContentBlockDelta(textBlockIndex, canonical.Delta{Type: canonical.DeltaText, Text: delta.Content})); err != nil {
				return err
			}
		}

		for _, tc := range delta.ToolCalls {
			// Tool-call indices are preserved exactly as upstream emits
			// them (§4.G); OpenAI never mixes a text delta with
			// tool_calls in the same response, so this never collides
			// with textBlockIndex in practice.
			idx := textBlockIndex
			if tc.Index != nil {
				idx = *tc.Index
			}
			if !started[idx] {
				if err := emit(canonical.NewContentBlockStart(idx, canonical.ContentBlockStart{
					Type: canonical.BlockToolUse, ID: tc.ID, Name: tc.Function.Name,
				})); err != nil {
					return err
				}
				started[idx] = true
			}
			if tc.Function.Arguments != "" {
				if err := emit(canonical.NewContentBlockDelta(idx, canonical.Delta{
					Type: canonical.DeltaInputJSON, PartialJSON: tc.Function.Arguments,
				})); err != nil {
					return err
				}
			}
		}

		if choice.FinishReason != "" {
			if err := closeOpenBlocks(); err != nil {
				return err
			}
			if err := emit(canonical.NewMessageDelta(canonical.Delta{StopReason: mapFinishReason(string(choice.FinishReason))}, nil)); err != nil {
				return err
			}
		}
	}
}
