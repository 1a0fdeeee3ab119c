// File: cmd/call.go
package cmd

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/labcore/internal/observability"
)

func newCallCmd() *cobra.Command {
	var functionCalls bool

	callCmd := &cobra.Command{
		Use:   "call TOOL [ARGS_JSON|-]",
		Short: "Run a single agent tool against the browser and print its result",
		Long: `Starts the browser, runs one tool with the given JSON arguments and shuts
down again. ARGS_JSON defaults to {} and may be - to read it from stdin.

With --genai the only argument is a Gemini FunctionCall object, or an array of
them, and the output is the matching FunctionResponse parts in call order.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if functionCalls {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			var raw []byte
			var calls []*genai.FunctionCall
			if functionCalls {
				if raw, err = readArg(cmd, args[0]); err != nil {
					return err
				}
				if calls, err = decodeFunctionCalls(raw); err != nil {
					return err
				}
			} else {
				raw = []byte("{}")
				if len(args) == 2 {
					if raw, err = readArg(cmd, args[1]); err != nil {
						return err
					}
				}
				if !json.Valid(raw) {
					return fmt.Errorf("arguments are not valid JSON: %s", raw)
				}
			}

			comps, err := initializeComponents(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer comps.Shutdown(logger)

			if !functionCalls && !comps.Bridge.Has(args[0]) {
				return fmt.Errorf("unknown tool %q", args[0])
			}
			if comps.Cache != nil {
				if err := comps.Cache.Load(cmd.Context()); err != nil {
					logger.Warn("Order cache not loaded.", zap.Error(err))
				}
			}

			if functionCalls {
				return printJSON(cmd, comps.Bridge.HandleFunctionCalls(cmd.Context(), calls))
			}
			_, err = cmd.OutOrStdout().Write(append(comps.Bridge.CallJSON(cmd.Context(), args[0], raw), '\n'))
			return err
		},
	}
	callCmd.Flags().BoolVar(&functionCalls, "genai", false, "read Gemini FunctionCall JSON and print FunctionResponse parts")
	return callCmd
}

// readArg returns arg itself, or stdin when arg is "-".
func readArg(cmd *cobra.Command, arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("failed to read arguments from stdin: %w", err)
	}
	return raw, nil
}

// decodeFunctionCalls accepts one FunctionCall object or an array of them.
func decodeFunctionCalls(raw []byte) ([]*genai.FunctionCall, error) {
	raw = bytes.TrimSpace(raw)
	var calls []*genai.FunctionCall
	if bytes.HasPrefix(raw, []byte("[")) {
		if err := json.Unmarshal(raw, &calls); err != nil {
			return nil, fmt.Errorf("function calls are not valid JSON: %w", err)
		}
	} else {
		var fc genai.FunctionCall
		if err := json.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("function call is not valid JSON: %w", err)
		}
		calls = []*genai.FunctionCall{&fc}
	}
	for i, fc := range calls {
		if fc != nil && fc.Name == "" {
			return nil, fmt.Errorf("function call %d has no name", i)
		}
	}
	return calls, nil
}
