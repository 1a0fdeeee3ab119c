// internal/browser/chromedp.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/labcore/internal/config"
)

// ChromedpDriver drives Chrome over CDP directly. It is the alternative to
// the Playwright driver for hosts where the Playwright node runtime is unwanted.
type ChromedpDriver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
}

// NewChromedpDriver creates the driver. The browser starts on the first NewPage.
func NewChromedpDriver(cfg config.BrowserConfig, logger *zap.Logger) *ChromedpDriver {
	d := &ChromedpDriver{cfg: cfg, logger: logger.Named("chromedp_driver")}
	d.logger.Info("Chromedp driver created (launch deferred).", zap.String("profile_dir", cfg.ProfileDir))
	return d
}

// AllocatorOptions builds the exec allocator options for a browser config.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.UserDataDir(cfg.ProfileDir),
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	for _, arg := range LaunchArgs(cfg) {
		name, value := splitFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// splitFlag turns "--name=value" into ("name", "value") and "--name" into ("name", true).
func splitFlag(arg string) (string, interface{}) {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}

func (d *ChromedpDriver) start() error {
	if d.browserCtx != nil {
		if d.browserCtx.Err() != nil {
			return ErrBrowserGone
		}
		return nil
	}
	if _, err := os.Stat(d.cfg.ProfileDir); err != nil {
		return fmt.Errorf("browser profile directory %q is not usable: %w", d.cfg.ProfileDir, err)
	}

	d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(context.Background(), AllocatorOptions(d.cfg)...)
	d.browserCtx, d.browserStop = chromedp.NewContext(d.allocCtx)
	if err := chromedp.Run(d.browserCtx); err != nil {
		d.browserStop()
		d.allocCancel()
		d.browserCtx = nil
		return fmt.Errorf("failed to launch chrome: %w", err)
	}
	d.logger.Info("Chrome launched with persistent profile.")
	return nil
}

// NewPage opens a new tab with its own target context, so closing it always
// detaches that target. The tab created at launch stays as the browser anchor.
func (d *ChromedpDriver) NewPage(ctx context.Context) (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.start(); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(d.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		if d.browserCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrowserGone, err)
		}
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	p := &chromedpPage{ctx: tabCtx, cancel: cancel}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if _, ok := ev.(*inspector.EventDetached); ok {
			p.closed.Store(true)
		}
	})
	return p, nil
}

// Shutdown terminates the browser process.
func (d *ChromedpDriver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("Shutting down chromedp driver.")
	if d.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(d.browserCtx)
	d.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close chrome: %w", err)
	}
	return nil
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu  sync.RWMutex
	url string
}

func (p *chromedpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if p.IsClosed() {
		return ErrTabClosed
	}
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, timeout)
		defer tcancel()
	}

	err := chromedp.Run(runCtx, actions...)
	switch {
	case err == nil:
		return nil
	case p.ctx.Err() != nil:
		p.closed.Store(true)
		return fmt.Errorf("%w: %v", ErrTabClosed, err)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}

func (p *chromedpPage) Goto(ctx context.Context, url string, opts LoadOptions) error {
	var loc string
	err := p.load(ctx, opts, chromedp.Navigate(url), chromedp.Location(&loc))
	p.setURL(loc, url)
	return err
}

func (p *chromedpPage) Reload(ctx context.Context, opts LoadOptions) error {
	return p.load(ctx, opts, chromedp.Reload())
}

// load runs nav and then waits for opts.WaitUntil. The body must exist in
// every case; load additionally polls ReadyStateScript for "complete" and
// networkidle waits for the CDP networkIdle lifecycle event.
func (p *chromedpPage) load(ctx context.Context, opts LoadOptions, nav chromedp.Action, after ...chromedp.Action) error {
	actions := []chromedp.Action{}
	switch opts.WaitUntil {
	case WaitDOMContentLoaded:
		actions = append(actions, nav, chromedp.WaitReady("body", chromedp.ByQuery))
	case WaitLoad:
		var complete bool
		actions = append(actions, nav,
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Poll("("+ReadyStateScript+")() === 'complete'", &complete, chromedp.WithPollingInterval(100*time.Millisecond)),
		)
	default:
		listenCtx, stop := context.WithCancel(p.ctx)
		defer stop()
		idle := p.networkIdle(listenCtx)
		actions = append(actions,
			page.SetLifecycleEventsEnabled(true),
			nav,
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.ActionFunc(func(ctx context.Context) error {
				select {
				case <-idle:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
	}
	return p.run(ctx, opts.Timeout, append(actions, after...)...)
}

// networkIdle signals the first networkIdle lifecycle event that follows a
// new document's init event, so an idle from the previous page never counts.
func (p *chromedpPage) networkIdle(ctx context.Context) <-chan struct{} {
	idle := make(chan struct{}, 1)
	var started atomic.Bool
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok {
			return
		}
		switch e.Name {
		case "init":
			started.Store(true)
		case "networkIdle":
			if started.Load() {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		}
	})
	return idle
}

func (p *chromedpPage) setURL(loc, fallback string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loc != "" {
		p.url = loc
	} else {
		p.url = fallback
	}
}

func (p *chromedpPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	argJSON, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode script argument: %w", err)
	}
	expr := fmt.Sprintf("(%s)(%s)", script, argJSON)

	var raw []byte
	err = p.run(ctx, 0, chromedp.Evaluate(expr, &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		if errors.Is(err, ErrTabClosed) || errors.Is(err, ErrTimeout) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &ScriptError{Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ScriptError{Err: err}
	}
	return out, nil
}

func (p *chromedpPage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromedpPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	err := p.run(ctx, 0, action)
	return buf, err
}

// chromedpKeys maps Playwright-style key names onto chromedp key codes.
var chromedpKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"Home":       kb.Home,
	"End":        kb.End,
}

func (p *chromedpPage) PressKey(ctx context.Context, key string) error {
	code, ok := chromedpKeys[key]
	if !ok {
		code = key
	}
	return p.run(ctx, 0, chromedp.KeyEvent(code))
}

func (p *chromedpPage) BringToFront(ctx context.Context) error {
	return p.run(ctx, 0, page.BringToFront())
}

func (p *chromedpPage) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

func (p *chromedpPage) IsClosed() bool {
	return p.closed.Load() || p.ctx.Err() != nil
}

func (p *chromedpPage) Close(ctx context.Context) error {
	if p.IsClosed() {
		return nil
	}
	err := p.run(ctx, 0, page.Close())
	p.closed.Store(true)
	p.cancel()
	if errors.Is(err, ErrTabClosed) {
		return nil
	}
	return err
}
