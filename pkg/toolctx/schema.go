package toolctx

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ParameterSchema generates a JSON-Schema parameter descriptor for a
// tool's argument type T, for agents that advertise their tool
// signatures to an LLM. Struct tags drive the shape:
//
//	type Args struct {
//	    Query string `json:"query" jsonschema:"required,description=Search query"`
//	    Limit int    `json:"limit,omitempty" jsonschema:"description=Max results,default=10"`
//	}
func ParameterSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal parameter schema: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal parameter schema: %w", err)
	}
	delete(raw, "$schema")
	delete(raw, "$id")

	if raw["type"] != "object" {
		return raw, nil
	}
	result := map[string]any{
		"type":       "object",
		"properties": raw["properties"],
	}
	if required, ok := raw["required"]; ok {
		result["required"] = required
	}
	if addProps, ok := raw["additionalProperties"]; ok {
		result["additionalProperties"] = addProps
	}
	return result, nil
}
