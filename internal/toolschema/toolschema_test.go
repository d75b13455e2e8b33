package toolschema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsConformingArgs(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"task":{"type":"string"}},"required":["task"]}`)
	err := Validate("spawn_subagent", schema, json.RawMessage(`{"task":"find X"}`))
	require.NoError(t, err)
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"task":{"type":"string"}},"required":["task"]}`)
	err := Validate("spawn_subagent", schema, json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestValidateWithoutSchemaAlwaysPasses(t *testing.T) {
	err := Validate("anything", nil, json.RawMessage(`{"x":1}`))
	assert.NoError(t, err)
}
