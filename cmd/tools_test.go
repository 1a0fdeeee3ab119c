// File: cmd/tools_test.go
package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/xkilldash9x/labcore/internal/mocks"
)

func TestToolsCmd(t *testing.T) {
	cfg := writeTestConfig(t, "")

	t.Run("names", func(t *testing.T) {
		out, err := runCommand(t, "", "-c", cfg, "tools", "--format", "names")
		require.NoError(t, err)
		names := strings.Fields(out)
		assert.Contains(t, names, "get_order_results")
		assert.Contains(t, names, "fill_fields")
		assert.Contains(t, names, "search_orders_fuzzy")
	})

	t.Run("json catalog carries parameter schemas", func(t *testing.T) {
		out, err := runCommand(t, "", "-c", cfg, "tools")
		require.NoError(t, err)

		var tools []struct {
			Name       string                 `json:"name"`
			Parameters map[string]interface{} `json:"parameters"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &tools))
		require.NotEmpty(t, tools)
		for _, tool := range tools {
			assert.Equal(t, "object", tool.Parameters["type"], tool.Name)
		}
	})

	t.Run("genai declarations", func(t *testing.T) {
		out, err := runCommand(t, "", "-c", cfg, "tools", "--format", "genai")
		require.NoError(t, err)

		var tool genai.Tool
		require.NoError(t, json.Unmarshal([]byte(out), &tool))
		var names []string
		for _, d := range tool.FunctionDeclarations {
			names = append(names, d.Name)
			require.NotNil(t, d.Parameters, d.Name)
			assert.Equal(t, genai.TypeObject, d.Parameters.Type, d.Name)
		}
		assert.Contains(t, names, "list_orders")
		assert.Contains(t, names, "fill_fields")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := runCommand(t, "", "-c", cfg, "tools", "--format", "xml")
		assert.ErrorContains(t, err, `unknown format "xml"`)
	})
}

func TestCallCmd(t *testing.T) {
	cfg := writeTestConfig(t, "")

	t.Run("runs one tool and shuts the browser down", func(t *testing.T) {
		driver := mocks.NewFakeDriver(nil)
		useFakeDriver(t, driver)

		out, err := runCommand(t, "", "-c", cfg, "call", "reset_conversation")
		require.NoError(t, err)
		assert.JSONEq(t, `{"reset": true, "open_tabs": 0}`, out)
		assert.True(t, driver.IsShutdown())
		assert.Empty(t, driver.Pages(), "no tab is opened for a tool that does not need one")
	})

	t.Run("arguments from stdin", func(t *testing.T) {
		useFakeDriver(t, mocks.NewFakeDriver(nil))

		out, err := runCommand(t, `{"order_numbers": ["000123"]}`, "-c", cfg, "call", "close_tabs", "-")
		require.NoError(t, err)
		assert.Contains(t, out, `"closed"`)
	})

	t.Run("tool errors are printed, not raised", func(t *testing.T) {
		useFakeDriver(t, mocks.NewFakeDriver(nil))

		out, err := runCommand(t, "", "-c", cfg, "call", "get_fill_history", `{"order_number": "1"}`)
		require.NoError(t, err)
		assert.Contains(t, out, `"error"`)
	})

	t.Run("invalid JSON arguments", func(t *testing.T) {
		driver := mocks.NewFakeDriver(nil)
		useFakeDriver(t, driver)

		_, err := runCommand(t, "", "-c", cfg, "call", "list_orders", "{nope")
		assert.ErrorContains(t, err, "not valid JSON")
		assert.False(t, driver.IsShutdown(), "nothing is started for bad arguments")
	})

	t.Run("unknown tool", func(t *testing.T) {
		useFakeDriver(t, mocks.NewFakeDriver(nil))

		_, err := runCommand(t, "", "-c", cfg, "call", "drop_tables")
		assert.ErrorContains(t, err, `unknown tool "drop_tables"`)
	})

	t.Run("genai function calls", func(t *testing.T) {
		useFakeDriver(t, mocks.NewFakeDriver(nil))

		in := `[{"id": "a", "name": "reset_conversation", "args": {}}, null, {"id": "b", "name": "drop_tables"}]`
		out, err := runCommand(t, in, "-c", cfg, "call", "--genai", "-")
		require.NoError(t, err)

		var parts []*genai.Part
		require.NoError(t, json.Unmarshal([]byte(out), &parts))
		require.Len(t, parts, 2)
		assert.Equal(t, "a", parts[0].FunctionResponse.ID)
		assert.Equal(t, true, parts[0].FunctionResponse.Response["reset"])
		assert.Equal(t, "b", parts[1].FunctionResponse.ID)
		assert.Contains(t, parts[1].FunctionResponse.Response["error"], "drop_tables")
	})

	t.Run("a single genai function call", func(t *testing.T) {
		useFakeDriver(t, mocks.NewFakeDriver(nil))

		out, err := runCommand(t, "", "-c", cfg, "call", "--genai", `{"name": "reset_conversation"}`)
		require.NoError(t, err)
		assert.Contains(t, out, `"functionResponse"`)
	})

	t.Run("genai call without a name", func(t *testing.T) {
		driver := mocks.NewFakeDriver(nil)
		useFakeDriver(t, driver)

		_, err := runCommand(t, "", "-c", cfg, "call", "--genai", `{"args": {}}`)
		assert.ErrorContains(t, err, "has no name")
		assert.False(t, driver.IsShutdown())
	})
}
