package toolctx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type lookupArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max results,default=10"`
}

func TestParameterSchemaDescribesRequiredAndOptionalFields(t *testing.T) {
	schema, err := ParameterSchema[lookupArgs]()
	require.NoError(t, err)
	require.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "query")
	require.Contains(t, props, "limit")

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	require.Contains(t, required, "query")
	require.NotContains(t, required, "limit")
}
