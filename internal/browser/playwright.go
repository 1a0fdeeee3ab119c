// internal/browser/playwright.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/labcore/internal/config"
)

const (
	playwrightInstallTimeout = 5 * time.Minute
	launchTimeoutMs          = 60000
)

// PlaywrightDriver runs a persistent-profile Chromium context through Playwright.
// Startup is deferred until the first tab is requested.
type PlaywrightDriver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	pw      *playwright.Playwright
	context playwright.BrowserContext
	gone    atomic.Bool

	// The persistent context starts with one blank tab; the first NewPage adopts it.
	mu         sync.Mutex
	spareTaken bool

	initOnce sync.Once
	initErr  error
}

// NewPlaywrightDriver creates the driver. Nothing is launched yet.
func NewPlaywrightDriver(cfg config.BrowserConfig, logger *zap.Logger) *PlaywrightDriver {
	d := &PlaywrightDriver{
		cfg:    cfg,
		logger: logger.Named("playwright_driver"),
	}
	d.logger.Info("Playwright driver created (launch deferred).", zap.String("profile_dir", cfg.ProfileDir))
	return d
}

func (d *PlaywrightDriver) initialize(ctx context.Context) error {
	d.initOnce.Do(func() {
		if _, err := os.Stat(d.cfg.ProfileDir); err != nil {
			d.initErr = fmt.Errorf("browser profile directory %q is not usable: %w", d.cfg.ProfileDir, err)
			return
		}

		if d.cfg.Install {
			if err := d.ensureInstallation(ctx); err != nil {
				d.initErr = err
				return
			}
		}

		pw, err := playwright.Run()
		if err != nil {
			d.initErr = fmt.Errorf("failed to start playwright driver: %w", err)
			return
		}

		bctx, err := pw.Chromium.LaunchPersistentContext(d.cfg.ProfileDir, d.launchOptions())
		if err != nil {
			_ = pw.Stop()
			d.initErr = fmt.Errorf("failed to launch persistent browser context: %w", err)
			return
		}
		bctx.OnClose(func(playwright.BrowserContext) {
			d.gone.Store(true)
			d.logger.Warn("Browser context closed.")
		})

		d.pw = pw
		d.context = bctx
		d.logger.Info("Browser launched with persistent profile.")
	})
	return d.initErr
}

func (d *PlaywrightDriver) ensureInstallation(ctx context.Context) error {
	d.logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to install playwright browsers: %w", err)
		}
		return nil
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func (d *PlaywrightDriver) launchOptions() playwright.BrowserTypeLaunchPersistentContextOptions {
	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(d.cfg.Headless),
		Args:     LaunchArgs(d.cfg),
		Timeout:  playwright.Float(launchTimeoutMs),
	}
	if d.cfg.ViewportWidth > 0 && d.cfg.ViewportHeight > 0 {
		opts.Viewport = &playwright.Size{Width: d.cfg.ViewportWidth, Height: d.cfg.ViewportHeight}
	}
	return opts
}

// LaunchArgs merges the stability flags every driver uses with user-provided ones.
func LaunchArgs(cfg config.BrowserConfig) []string {
	args := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--no-first-run",
	}
	return append(args, cfg.Args...)
}

// NewPage opens a tab in the persistent context.
func (d *PlaywrightDriver) NewPage(ctx context.Context) (Page, error) {
	if err := d.initialize(ctx); err != nil {
		return nil, err
	}
	if d.gone.Load() {
		return nil, ErrBrowserGone
	}

	d.mu.Lock()
	if !d.spareTaken {
		d.spareTaken = true
		for _, p := range d.context.Pages() {
			if !p.IsClosed() {
				d.mu.Unlock()
				return &playwrightPage{page: p}, nil
			}
		}
	}
	d.mu.Unlock()

	p, err := d.context.NewPage()
	if err != nil {
		if errors.Is(err, playwright.ErrTargetClosed) {
			d.gone.Store(true)
			return nil, fmt.Errorf("%w: %v", ErrBrowserGone, err)
		}
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return &playwrightPage{page: p}, nil
}

// Shutdown closes the context (and with it every tab) and stops the driver.
func (d *PlaywrightDriver) Shutdown(ctx context.Context) error {
	d.logger.Info("Shutting down playwright driver.")
	if d.pw == nil {
		d.logger.Info("Driver never launched, nothing to shut down.")
		return nil
	}

	var shutdownErr error
	if d.context != nil && !d.gone.Load() {
		if err := d.context.Close(); err != nil {
			d.logger.Error("Failed to close browser context.", zap.Error(err))
			shutdownErr = fmt.Errorf("failed to close browser context: %w", err)
		}
	}
	if err := d.pw.Stop(); err != nil {
		d.logger.Error("Failed to stop Playwright driver.", zap.Error(err))
		if shutdownErr == nil {
			shutdownErr = fmt.Errorf("failed to stop playwright driver: %w", err)
		}
	}
	return shutdownErr
}

// playwrightPage adapts playwright.Page to Page and maps playwright errors onto
// the package sentinels.
type playwrightPage struct {
	page playwright.Page
}

// playwrightWaitUntil maps a WaitCondition onto playwright's load states.
func playwrightWaitUntil(c WaitCondition) *playwright.WaitUntilState {
	switch c {
	case WaitLoad:
		return playwright.WaitUntilStateLoad
	case WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	default:
		return playwright.WaitUntilStateNetworkidle
	}
}

func (p *playwrightPage) Goto(ctx context.Context, url string, opts LoadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwrightWaitUntil(opts.WaitUntil),
		Timeout:   playwright.Float(float64(opts.Timeout.Milliseconds())),
	})
	return translatePlaywrightError(err)
}

func (p *playwrightPage) Reload(ctx context.Context, opts LoadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwrightWaitUntil(opts.WaitUntil),
		Timeout:   playwright.Float(float64(opts.Timeout.Milliseconds())),
	})
	return translatePlaywrightError(err)
}

func (p *playwrightPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := p.page.Evaluate(script, arg)
	if err != nil {
		if tErr := translatePlaywrightError(err); tErr != err {
			return nil, tErr
		}
		return nil, &ScriptError{Err: err}
	}
	return res, nil
}

func (p *playwrightPage) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := p.page.Content()
	return html, translatePlaywrightError(err)
}

func (p *playwrightPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Type:     playwright.ScreenshotTypePng,
	})
	return buf, translatePlaywrightError(err)
}

func (p *playwrightPage) PressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translatePlaywrightError(p.page.Keyboard().Press(key))
}

func (p *playwrightPage) BringToFront(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translatePlaywrightError(p.page.BringToFront())
}

func (p *playwrightPage) URL() string    { return p.page.URL() }
func (p *playwrightPage) IsClosed() bool { return p.page.IsClosed() }

func (p *playwrightPage) Close(ctx context.Context) error {
	if p.page.IsClosed() {
		return nil
	}
	return translatePlaywrightError(p.page.Close())
}

func translatePlaywrightError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %v", ErrTabClosed, err)
	default:
		return err
	}
}
