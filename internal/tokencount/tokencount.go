// Package tokencount provides a deterministic, pure token estimate over
// canonical requests, modeled loosely on the density of OpenAI's
// cl100k_base encoding without pulling in a full BPE implementation.
package tokencount

import (
	"unicode"

	"github.com/ccr-gateway/ccr/internal/canonical"
)

// CountText estimates the token count of a single string. The estimate
// counts non-space runes and divides by four, rounding up, which tracks
// cl100k_base's typical ~4-characters-per-token density closely enough
// for budgeting purposes without encoding anything.
func CountText(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// CountJSON estimates the token count of a raw JSON value by treating
// its serialized form as text.
func CountJSON(raw []byte) int {
	return CountText(string(raw))
}

// CountPart visits the fields of a single content part relevant to the
// estimate: text, a tool_use's JSON input, or a tool_result's content.
func CountPart(p canonical.ContentPart) int {
	switch p.Type {
	case canonical.PartText:
		return CountText(p.Text)
	case canonical.PartToolUse:
		return CountText(p.Name) + CountJSON(p.Input)
	case canonical.PartToolResult:
		return CountText(p.Content)
	default:
		return 0
	}
}

// CountMessage visits every part of a message.
func CountMessage(m canonical.Message) int {
	total := 0
	for _, p := range m.Content.AsParts() {
		total += CountPart(p)
	}
	return total
}

// CountSystem visits every block of a system prompt.
func CountSystem(s canonical.System) int {
	total := 0
	for _, b := range s.Blocks {
		total += CountText(b.Text)
	}
	return total
}

// CountTool visits a tool's name, description, and serialized schema.
func CountTool(t canonical.Tool) int {
	return CountText(t.Name) + CountText(t.Description) + CountJSON(t.InputSchema)
}

// Count is the full estimate over a canonical request's messages, system
// blocks, and tools, per §4.C: it is pure, deterministic, non-negative,
// and additive across disjoint slices of messages/tools passed to it.
func Count(messages []canonical.Message, system canonical.System, tools []canonical.Tool) int {
	total := CountSystem(system)
	for _, m := range messages {
		total += CountMessage(m)
	}
	for _, t := range tools {
		total += CountTool(t)
	}
	return total
}

// CountRequest is a convenience wrapper over a whole canonical request.
func CountRequest(r *canonical.Request) int {
	return Count(r.Messages, r.System, r.Tools)
}
