package canonical

import "encoding/json"

// EventType enumerates the canonical SSE event names (§6).
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventPing              EventType = "ping"
)

// BlockType enumerates content_block_start block variants.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
	BlockImage   BlockType = "image"
)

// DeltaType enumerates content_block_delta delta variants.
type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
)

// ContentBlockStart is the payload of a content_block_start event.
type ContentBlockStart struct {
	Type  BlockType       `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Delta is the payload of a content_block_delta or message_delta event.
type Delta struct {
	Type         DeltaType `json:"type,omitempty"`
	Text         string    `json:"text,omitempty"`
	PartialJSON  string    `json:"partial_json,omitempty"`
	StopReason   string    `json:"stop_reason,omitempty"`
	StopSequence string    `json:"stop_sequence,omitempty"`
}

// ResponseMessage is the payload of a message_start event.
type ResponseMessage struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Role       Role          `json:"role"`
	Model      string        `json:"model,omitempty"`
	Content    []ContentPart `json:"content,omitempty"`
	StopReason string        `json:"stop_reason,omitempty"`
	Usage      Usage         `json:"usage"`
}

// MessageEvent is the typed payload carried inside an SSE data line for
// the canonical dialect. Exactly the fields relevant to Type are set;
// Index is a pointer because 0 is a valid, meaningful block index.
type MessageEvent struct {
	Type         EventType          `json:"type"`
	Index        *int               `json:"index,omitempty"`
	Message      *ResponseMessage   `json:"message,omitempty"`
	ContentBlock *ContentBlockStart `json:"content_block,omitempty"`
	Delta        *Delta             `json:"delta,omitempty"`
	Usage        *Usage             `json:"usage,omitempty"`
}

// NewMessageStart builds a message_start event.
func NewMessageStart(msg *ResponseMessage) MessageEvent {
	return MessageEvent{Type: EventMessageStart, Message: msg}
}

// NewContentBlockStart builds a content_block_start event for the given index.
func NewContentBlockStart(index int, block ContentBlockStart) MessageEvent {
	return MessageEvent{Type: EventContentBlockStart, Index: &index, ContentBlock: &block}
}

// NewContentBlockDelta builds a content_block_delta event for the given index.
func NewContentBlockDelta(index int, delta Delta) MessageEvent {
	return MessageEvent{Type: EventContentBlockDelta, Index: &index, Delta: &delta}
}

// NewContentBlockStop builds a content_block_stop event for the given index.
func NewContentBlockStop(index int) MessageEvent {
	return MessageEvent{Type: EventContentBlockStop, Index: &index}
}

// NewMessageDelta builds a message_delta event.
func NewMessageDelta(delta Delta, usage *Usage) MessageEvent {
	return MessageEvent{Type: EventMessageDelta, Delta: &delta, Usage: usage}
}

// NewMessageStop builds a message_stop event.
func NewMessageStop() MessageEvent {
	return MessageEvent{Type: EventMessageStop}
}

// NewPing builds a ping (heartbeat) event.
func NewPing() MessageEvent {
	return MessageEvent{Type: EventPing}
}
