// File: cmd/tools.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/labcore/internal/bridge"
	"github.com/xkilldash9x/labcore/internal/observability"
)

func newToolsCmd() *cobra.Command {
	var format string

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the agent tool catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The catalog does not depend on any collaborator.
			b := bridge.New(bridge.Deps{}, observability.GetLogger())
			switch format {
			case "json":
				return printJSON(cmd, b.Tools())
			case "genai":
				return printJSON(cmd, b.GenaiTool())
			case "names":
				for _, name := range b.Names() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			default:
				return fmt.Errorf("unknown format %q (want json, genai or names)", format)
			}
		},
	}
	toolsCmd.Flags().StringVar(&format, "format", "json", "output format: json, genai or names")
	return toolsCmd
}
