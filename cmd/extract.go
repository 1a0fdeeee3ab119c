// File: cmd/extract.go
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/labcore/internal/extract"
)

var extractKinds = []string{"orders", "results", "edit"}

func newExtractCmd() *cobra.Command {
	var withSnapshot bool

	extractCmd := &cobra.Command{
		Use:   "extract {orders|results|edit} FILE",
		Short: "Run the offline extractors on a saved page (FILE may be - for stdin)",
		Long: `Parses a saved HTML page with the same tiered extractors used against the live
browser and prints the records as JSON. Useful for checking how a page of the
lab system will be read before pointing the agent at it.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: extractKinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := openInput(cmd, args[1])
			if err != nil {
				return err
			}
			defer closeFn()

			doc, err := extract.Parse(r)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[1], err)
			}

			switch args[0] {
			case "orders":
				orders, tier := extract.ExtractOrders(doc)
				if orders == nil {
					orders = []extract.OrderSummary{}
				}
				return printJSON(cmd, map[string]interface{}{"tier": tier, "orders": orders})
			case "results":
				form := extract.ExtractResults(doc)
				if !withSnapshot {
					return printJSON(cmd, form)
				}
				return printJSON(cmd, map[string]interface{}{"form": form, "snapshot": extract.Snapshot(form.Exams)})
			case "edit":
				return printJSON(cmd, extract.ExtractEditForm(doc))
			default:
				return fmt.Errorf("unknown page kind %q (want one of %v)", args[0], extractKinds)
			}
		},
	}
	extractCmd.Flags().BoolVar(&withSnapshot, "snapshot", false, "also print the field snapshot used for change detection (results only)")
	return extractCmd
}

// openInput opens path, or the command's stdin for "-".
func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}
