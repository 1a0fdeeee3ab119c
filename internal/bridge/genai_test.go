// internal/bridge/genai_test.go
package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/xkilldash9x/labcore/internal/executor"
)

func TestGenaiTool_DeclaresEveryTool(t *testing.T) {
	f := newFixture(t)
	tool := f.bridge.GenaiTool()
	require.Len(t, tool.FunctionDeclarations, len(f.bridge.Names()))

	byName := make(map[string]*genai.FunctionDeclaration)
	for _, d := range tool.FunctionDeclarations {
		byName[d.Name] = d
	}
	results := byName["get_order_results"]
	require.NotNil(t, results)
	assert.Equal(t, genai.TypeObject, results.Parameters.Type)
	assert.Equal(t, []string{"order_numbers"}, results.Parameters.Required)
	assert.Equal(t, genai.TypeArray, results.Parameters.Properties["order_numbers"].Type)

	actions := byName["execute_actions"].Parameters.Properties["actions"]
	require.NotNil(t, actions.Items)
	assert.Equal(t, executor.ActionTypes(), actions.Items.Properties["action"].Enum)
}

func TestHandleFunctionCalls(t *testing.T) {
	f := newFixture(t)
	f.bridge.register(&Tool{Name: "echo_list", Parameters: object(nil, nil), run: func(context.Context, []byte) (interface{}, error) {
		return []string{"a", "b"}, nil
	}})

	parts := f.bridge.HandleFunctionCalls(context.Background(), []*genai.FunctionCall{
		{ID: "1", Name: "reset_conversation", Args: map[string]any{}},
		nil,
		{ID: "2", Name: "echo_list"},
		{ID: "3", Name: "delete_everything", Args: map[string]any{"all": true}},
		{ID: "4", Name: "get_order_results", Args: map[string]any{"order_numbers": []any{}}},
	})

	require.Len(t, parts, 4, "nil calls are skipped")
	var ids []string
	for _, p := range parts {
		require.NotNil(t, p.FunctionResponse)
		ids = append(ids, p.FunctionResponse.ID)
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids, "responses keep call order")

	reset := parts[0].FunctionResponse
	assert.Equal(t, "reset_conversation", reset.Name)
	assert.Equal(t, true, reset.Response["reset"])

	assert.Equal(t, map[string]any{"output": []interface{}{"a", "b"}}, parts[1].FunctionResponse.Response)

	unknown := parts[2].FunctionResponse.Response
	assert.Contains(t, unknown["error"], "delete_everything")
	assert.Equal(t, string(executor.CodeUnknownAction), unknown["code"])

	invalid := parts[3].FunctionResponse.Response
	assert.Equal(t, string(executor.CodeInvalidParameters), invalid["code"])
	assert.NotContains(t, invalid, "output")
}

func TestToMap(t *testing.T) {
	assert.Equal(t, map[string]any{"count": float64(2)}, toMap(map[string]int{"count": 2}))
	assert.Equal(t, map[string]any{"output": "done"}, toMap("done"))
	assert.Equal(t, map[string]any{"output": nil}, toMap(nil))
	assert.Equal(t, map[string]any{"error": "boom", "code": "script_error"},
		toMap(ErrorPayload{Error: "boom", Code: "script_error"}))
}
