// File: cmd/search.go
package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/labcore/internal/observability"
	"github.com/xkilldash9x/labcore/internal/resolver"
)

func newSearchCmd() *cobra.Command {
	var (
		file       string
		minScore   float64
		perPatient int
		limit      int
	)

	searchCmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Fuzzy-search the exported order cache by patient name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			rcfg := cfg.Resolver()
			if file != "" {
				rcfg.CacheFile = file
			}
			if rcfg.CacheFile == "" {
				return errors.New("no order cache configured; set resolver.cache_file or pass --file")
			}

			logger := observability.GetLogger()
			cache := resolver.NewCache(rcfg.CacheFile, 0, logger)
			if err := cache.Load(cmd.Context()); err != nil {
				return err
			}
			r := resolver.New(cache, resolver.OptionsFromConfig(rcfg), logger)

			matches, err := r.Search(cmd.Context(), strings.Join(args, " "), resolver.Options{
				MinScore:   minScore,
				PerPatient: perPatient,
				MaxResults: limit,
			})
			if err != nil {
				return err
			}
			if matches == nil {
				matches = []resolver.Match{}
			}
			return printJSON(cmd, matches)
		},
	}
	searchCmd.Flags().StringVarP(&file, "file", "f", "", "order export CSV (overrides resolver.cache_file)")
	searchCmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum name similarity, 0-100 (default from config)")
	searchCmd.Flags().IntVar(&perPatient, "per-patient", 0, "orders kept per matched patient, 1 or 2 (default from config)")
	searchCmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results (default from config)")
	return searchCmd
}
