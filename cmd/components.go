// File: cmd/components.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/labcore/internal/bridge"
	"github.com/xkilldash9x/labcore/internal/browser"
	"github.com/xkilldash9x/labcore/internal/config"
	"github.com/xkilldash9x/labcore/internal/executor"
	"github.com/xkilldash9x/labcore/internal/resolver"
	"github.com/xkilldash9x/labcore/internal/store"
	"github.com/xkilldash9x/labcore/internal/tabs"
)

// components holds the services behind one automation session.
type components struct {
	Driver   browser.Driver
	Tabs     *tabs.Registry
	Executor *executor.Executor
	Cache    *resolver.Cache
	Resolver *resolver.Resolver
	Store    *store.Store
	Bridge   *bridge.Bridge
}

// driverFactory is swapped in tests.
var driverFactory = browser.NewDriver

// initializeComponents wires config into services. The browser itself starts
// lazily on the first tab. The audit store is optional: a database that cannot
// be reached is logged and skipped, since result entry must not depend on it.
func initializeComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger, onFatal func(error)) (*components, error) {
	c := &components{}
	timing := cfg.Timing()
	waitUntil, err := browser.ParseWaitCondition(timing.WaitUntil)
	if err != nil {
		return nil, fmt.Errorf("invalid timing configuration: %w", err)
	}

	driver, err := driverFactory(cfg.Browser(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser driver: %w", err)
	}
	c.Driver = driver

	if db := cfg.Database(); db.URL != "" && db.AuditEnabled {
		s, err := store.Connect(ctx, db.URL, logger)
		if err == nil {
			err = s.EnsureSchema(ctx)
			if err != nil {
				s.Close()
			}
		}
		if err != nil {
			logger.Warn("Fill audit trail disabled: database unavailable.", zap.Error(err))
		} else {
			c.Store = s
		}
	}

	var audit executor.AuditSink
	var history bridge.HistorySource
	if c.Store != nil {
		audit, history = c.Store, c.Store
	}
	c.Executor = executor.New(logger, executor.OptionsFromConfig(cfg), audit)
	c.Tabs = tabs.NewRegistry(logger)

	var searcher bridge.Searcher
	if path := cfg.Resolver().CacheFile; path != "" {
		c.Cache = resolver.NewCache(path, cfg.Resolver().ReloadInterval, logger)
		c.Resolver = resolver.New(c.Cache, resolver.OptionsFromConfig(cfg.Resolver()), logger)
		searcher = c.Resolver
	}

	c.Bridge = bridge.New(bridge.Deps{
		Driver: driver,
		Session: browser.SessionOptions{
			LandingURL:        cfg.Site().LandingURL(),
			NavigationTimeout: timing.NavigationTimeout,
			SettleTimeout:     timing.SettleTimeout,
			SettleInterval:    timing.SettleInterval,
			WaitUntil:         waitUntil,
			Limiter:           rate.NewLimiter(rate.Limit(timing.NavigationRate), timing.NavigationBurst),
		},
		Site:          cfg.Site(),
		Tabs:          c.Tabs,
		Executor:      c.Executor,
		Resolver:      searcher,
		History:       history,
		ScreenshotDir: cfg.Browser().ScreenshotDir,
		OnFatal:       onFatal,
	}, logger)
	return c, nil
}

// Shutdown closes tabs, the browser and the database, in that order.
func (c *components) Shutdown(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if c.Tabs != nil {
		if _, err := c.Tabs.CloseAll(ctx); err != nil && !errors.Is(err, browser.ErrBrowserGone) {
			logger.Warn("Error closing tabs during shutdown", zap.Error(err))
		}
	}
	if c.Driver != nil {
		if err := c.Driver.Shutdown(ctx); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}
	if c.Store != nil {
		c.Store.Close()
	}
}
