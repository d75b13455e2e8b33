// Package openai implements the §4.G dialect translator between the
// canonical wire model and OpenAI's chat-completion shapes, built on
// github.com/sashabaranov/go-openai's request/response/stream types.
package openai

import (
	"encoding/json"
	"fmt"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/gwerrors"
)

// subsetKeys are the only JSON-Schema keys the translator carries
// through a tool's input schema; everything else is dropped rather than
// deep-validated, per §4.G and the Non-goal on draft-07 validation.
var subsetKeys = []string{"type", "description", "enum", "required", "properties", "items"}

// ConvertSchema applies the subset rule to a tool's input_schema,
// recursing through "properties" and "items".
func ConvertSchema(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("openai: decode input_schema: %w", err)
	}
	converted := convertSchemaValue(m)
	out, err := json.Marshal(converted)
	if err != nil {
		return nil, fmt.Errorf("openai: encode converted schema: %w", err)
	}
	return out, nil
}

func convertSchemaValue(m map[string]any) map[string]any {
	out := make(map[string]any, len(subsetKeys))
	for _, key := range subsetKeys {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch key {
		case "properties":
			if props, ok := v.(map[string]any); ok {
				converted := make(map[string]any, len(props))
				for name, propVal := range props {
					if propMap, ok := propVal.(map[string]any); ok {
						converted[name] = convertSchemaValue(propMap)
					} else {
						converted[name] = propVal
					}
				}
				out[key] = converted
			}
		case "items":
			if itemMap, ok := v.(map[string]any); ok {
				out[key] = convertSchemaValue(itemMap)
			} else {
				out[key] = v
			}
		default:
			out[key] = v
		}
	}
	return out
}

// ValidateTool checks the structural conformance required by §3 and
// §8: name and description are non-empty, and input_schema.type is the
// literal string "object". This is deliberately shallow — no recursive
// draft-07 validation — per the Non-goals.
func ValidateTool(t canonical.Tool) error {
	if t.Name == "" {
		return gwerrors.NewToolValidationFailedError("tool name must be non-empty")
	}
	if t.Description == "" {
		return gwerrors.NewToolValidationFailedError(fmt.Sprintf("tool %q: description must be non-empty", t.Name))
	}
	if len(t.InputSchema) == 0 {
		return gwerrors.NewToolValidationFailedError(fmt.Sprintf("tool %q: input_schema is required", t.Name))
	}
	var m map[string]any
	if err := json.Unmarshal(t.InputSchema, &m); err != nil {
		return gwerrors.NewToolValidationFailedError(fmt.Sprintf("tool %q: input_schema must be a JSON object", t.Name))
	}
	typ, _ := m["type"].(string)
	if typ != "object" {
		return gwerrors.NewToolValidationFailedError(fmt.Sprintf("tool %q: input_schema.type must be %q", t.Name, "object"))
	}
	return nil
}
