// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/labcore/internal/config"
	"github.com/xkilldash9x/labcore/internal/mcp"
	"github.com/xkilldash9x/labcore/internal/observability"
)

// errBrowserLost ends serve after the browser died so a supervisor can restart it.
var errBrowserLost = errors.New("browser lost; restart required")

func newServeCmd() *cobra.Command {
	var listen string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the browser and expose the agent tools over HTTP and websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			serverCfg := cfg.Server()
			if listen != "" {
				serverCfg.ListenAddr = listen
			}
			return runServe(cmd.Context(), observability.GetLogger(), cfg, serverCfg)
		},
	}
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides server.listen_addr)")
	return serveCmd
}

// runServe runs the tool server and the cache watcher until ctx ends or the
// browser is lost.
func runServe(ctx context.Context, logger *zap.Logger, cfg config.Interface, serverCfg config.ServerConfig) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var once sync.Once
	onFatal := func(err error) {
		once.Do(func() {
			logger.Error("Browser process lost, shutting down.", zap.Error(err))
			cancel(fmt.Errorf("%w: %v", errBrowserLost, err))
		})
	}

	comps, err := initializeComponents(ctx, cfg, logger, onFatal)
	if err != nil {
		return err
	}
	defer comps.Shutdown(logger)

	g, gctx := errgroup.WithContext(ctx)
	if comps.Cache != nil {
		if err := comps.Cache.Load(gctx); err != nil {
			logger.Warn("Order cache not loaded; fuzzy search will retry on use.", zap.Error(err))
		}
		if cfg.Resolver().Watch {
			g.Go(func() error {
				if err := comps.Cache.Watch(gctx); err != nil {
					logger.Warn("Order cache watcher stopped.", zap.Error(err))
				}
				return nil
			})
		}
	}

	server := mcp.NewServer(serverCfg, comps.Bridge, logger)
	g.Go(func() error { return server.Run(gctx) })

	err = g.Wait()
	if cause := context.Cause(ctx); errors.Is(cause, errBrowserLost) {
		return cause
	}
	return err
}
