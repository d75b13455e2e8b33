// Package toolschema validates a dispatched tool call's parsed
// arguments against the tool's declared input_schema, compiling each
// schema once and caching it by its raw bytes. Grounded on the
// teacher's pkg/pluginsdk validation.go, which compiles and caches a
// plugin's config schema with the same library the same way.
package toolschema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ccr-gateway/ccr/internal/gwerrors"
)

var cache sync.Map

func compile(name string, schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := cache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", key)
	if err != nil {
		return nil, err
	}
	cache.Store(key, compiled)
	return compiled, nil
}

// Validate checks args against the tool's input_schema. A schema that
// fails to compile is treated as permissive: Validate returns nil and
// nothing is logged, since §4.G's translator only carries a narrow
// subset of draft-07 through in the first place.
func Validate(toolName string, inputSchema, args json.RawMessage) error {
	if len(inputSchema) == 0 {
		return nil
	}
	schema, err := compile(toolName, inputSchema)
	if err != nil {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return gwerrors.NewToolValidationFailedError(fmt.Sprintf("tool %q: arguments are not valid JSON", toolName))
	}
	if err := schema.Validate(decoded); err != nil {
		return gwerrors.NewToolValidationFailedError(fmt.Sprintf("tool %q: arguments do not match input_schema: %v", toolName, err))
	}
	return nil
}
