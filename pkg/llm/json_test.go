package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject_Direct(t *testing.T) {
	out, err := ExtractJSONObject(`{"action": "execute_capability", "reason": "r"}`)
	require.NoError(t, err)
	assert.Equal(t, "execute_capability", out["action"])
}

func TestExtractJSONObject_FencedBlock(t *testing.T) {
	response := "Here is the plan:\n```json\n{\"mode\": \"query\", \"page\": 1}\n```\nDone."
	out, err := ExtractJSONObject(response)
	require.NoError(t, err)
	assert.Equal(t, "query", out["mode"])
	assert.Equal(t, float64(1), out["page"])
}

func TestExtractJSONObject_ThinkTagThenBalanced(t *testing.T) {
	response := "<think>the user wants a lookup\nso filter by name</think>\n" +
		`The decision is {"keywords": ["a {b}"], "intent_summary": "escaped \" brace } inside"} trailing text`
	out, err := ExtractJSONObject(response)
	require.NoError(t, err)
	assert.Equal(t, []any{"a {b}"}, out["keywords"])
	assert.Equal(t, `escaped " brace } inside`, out["intent_summary"])
}

func TestExtractJSONObject_NestedObjects(t *testing.T) {
	response := `prefix {"filters": [{"field": "status", "op": "eq", "value": 1}], "metrics": []}`
	out, err := ExtractJSONObject(response)
	require.NoError(t, err)
	filters, ok := out["filters"].([]any)
	require.True(t, ok)
	require.Len(t, filters, 1)
}

func TestExtractJSONObject_NoObject(t *testing.T) {
	_, err := ExtractJSONObject("I cannot answer that in JSON form.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid JSON object")
}

func TestExtractJSONObject_UnbalancedObject(t *testing.T) {
	_, err := ExtractJSONObject(`{"mode": "query", "page": `)
	require.Error(t, err)
}
