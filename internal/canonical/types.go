// Package canonical defines the vendor-neutral wire model the gateway
// exposes to clients: requests, messages, content parts, tools and the
// streaming event union. Nothing in this package knows about OpenAI or
// any other downstream dialect.
package canonical

import (
	"encoding/json"
	"fmt"
)

// Role identifies the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType identifies the variant of a ContentPart.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
)

// ImageSource describes where image bytes come from.
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentPart is a tagged union over the part variants the canonical
// dialect supports. Only the fields relevant to Type are populated;
// the rest round-trip as zero values.
type ContentPart struct {
	Type PartType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// MessageContent is either a plain string or a sequence of ContentPart
// values. It marshals back out in whichever shape it was given, so a
// plain-string message never grows a parts array it didn't have.
type MessageContent struct {
	Text    string
	Parts   []ContentPart
	isParts bool
}

// NewTextContent builds a string-shaped content value.
func NewTextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// NewPartsContent builds a parts-shaped content value.
func NewPartsContent(parts []ContentPart) MessageContent {
	return MessageContent{Parts: parts, isParts: true}
}

// IsParts reports whether the content is the typed-parts variant.
func (c MessageContent) IsParts() bool { return c.isParts }

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.isParts {
		if c.Parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		c.isParts = false
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("canonical: message content is neither string nor part array: %w", err)
	}
	c.Parts = parts
	c.isParts = true
	return nil
}

// AsParts normalizes content to a part slice regardless of wire shape.
func (c MessageContent) AsParts() []ContentPart {
	if c.isParts {
		return c.Parts
	}
	if c.Text == "" {
		return nil
	}
	return []ContentPart{{Type: PartText, Text: c.Text}}
}

// Message is one turn of a canonical conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

// SystemBlock is one text block of a (possibly multi-block) system prompt.
type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// System is either a plain string or a sequence of SystemBlock values,
// matching how the Anthropic-modeled wire format allows both shapes.
type System struct {
	Blocks  []SystemBlock
	isBlock bool
}

// NewSystemText wraps a single string as a one-block system prompt.
func NewSystemText(text string) System {
	if text == "" {
		return System{}
	}
	return System{Blocks: []SystemBlock{{Type: "text", Text: text}}}
}

func (s System) MarshalJSON() ([]byte, error) {
	if s.isBlock {
		return json.Marshal(s.Blocks)
	}
	if len(s.Blocks) == 1 {
		return json.Marshal(s.Blocks[0].Text)
	}
	if len(s.Blocks) == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(s.Blocks)
}

func (s *System) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = NewSystemText(str)
		return nil
	}
	var blocks []SystemBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("canonical: system is neither string nor block array: %w", err)
	}
	s.Blocks = blocks
	s.isBlock = true
	return nil
}

// JoinedText concatenates all block text with newlines, as the dialect
// translator does when flattening system blocks into a single message.
func (s System) JoinedText() string {
	out := ""
	for i, b := range s.Blocks {
		if i > 0 {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// Tool is a callable the model may invoke. Type is optional and, when
// present, identifies a server-side tool variant (e.g. a web-search
// tool family); the routing engine keys off its prefix (§4.H).
type Tool struct {
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoiceType selects how the model must use tools.
type ToolChoiceType string

const (
	ToolChoiceAuto ToolChoiceType = "auto"
	ToolChoiceAny  ToolChoiceType = "any"
	ToolChoiceTool ToolChoiceType = "tool"
)

// ToolChoice constrains tool use for a request.
type ToolChoice struct {
	Type ToolChoiceType `json:"type"`
	Name string         `json:"name,omitempty"` // set iff Type == ToolChoiceTool
}

// Metadata carries request-scoped hints that don't belong in the
// conversation itself.
type Metadata struct {
	SessionID string `json:"session_id,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

// Request is a canonical chat-completion request.
type Request struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        System          `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Metadata      Metadata        `json:"metadata,omitempty"`
	Thinking      json.RawMessage `json:"thinking,omitempty"`
}

// HasThinking reports whether the thinking field is present and truthy,
// i.e. not absent, null, or literal false.
func (r *Request) HasThinking() bool {
	if len(r.Thinking) == 0 {
		return false
	}
	switch string(r.Thinking) {
	case "null", "false":
		return false
	default:
		return true
	}
}

// Validate checks the invariants §3 places on a canonical request:
// tool names are unique, and every tool_result references a tool_use id
// that appeared earlier in the conversation.
func (r *Request) Validate() error {
	seenToolNames := make(map[string]bool, len(r.Tools))
	for _, t := range r.Tools {
		if seenToolNames[t.Name] {
			return fmt.Errorf("canonical: duplicate tool name %q", t.Name)
		}
		seenToolNames[t.Name] = true
	}

	seenToolUseIDs := make(map[string]bool)
	for _, m := range r.Messages {
		for _, p := range m.Content.AsParts() {
			switch p.Type {
			case PartToolUse:
				seenToolUseIDs[p.ID] = true
			case PartToolResult:
				if !seenToolUseIDs[p.ToolUseID] {
					return fmt.Errorf("canonical: tool_result references unknown tool_use id %q", p.ToolUseID)
				}
			}
		}
	}
	return nil
}

// Response is a non-streaming canonical response.
type Response struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Role       Role          `json:"role"`
	Model      string        `json:"model"`
	Content    []ContentPart `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      Usage         `json:"usage"`
}

// Usage is a token-count summary.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}
