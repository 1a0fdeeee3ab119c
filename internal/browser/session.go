// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const navigationRetryDelay = 500 * time.Millisecond

// SessionOptions configures a Page Session. Every wait is bounded by one of these.
type SessionOptions struct {
	// LandingURL is where a replacement tab goes when the tracked one died.
	// Empty leaves the replacement on about:blank.
	LandingURL        string
	NavigationTimeout time.Duration
	SettleTimeout     time.Duration
	SettleInterval    time.Duration
	// WaitUntil is the load signal navigations wait for. Empty means
	// WaitNetworkIdle.
	WaitUntil WaitCondition
	// Limiter paces navigations against the target site. It is usually shared
	// by every session of one process. Nil disables pacing.
	Limiter *rate.Limiter
}

// Element is one entry of the interactive-element index. Indices are only
// valid until the next indexing or page mutation.
type Element struct {
	Index    int    `json:"index"`
	Tag      string `json:"tag"`
	Type     string `json:"type,omitempty"`
	Text     string `json:"text"`
	Name     string `json:"name,omitempty"`
	ID       string `json:"id,omitempty"`
	Role     string `json:"role,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Session owns exactly one browser tab and survives that tab being closed
// underneath it.
type Session struct {
	id     string
	driver Driver
	opts   SessionOptions
	logger *zap.Logger

	mu       sync.Mutex
	page     Page
	elements []Element
	closed   bool
}

// NewSession opens a tab through driver and wraps it.
func NewSession(ctx context.Context, driver Driver, opts SessionOptions, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()
	s := &Session{
		id:     sessionID,
		driver: driver,
		opts:   opts,
		logger: logger.Named("session").With(zap.String("session_id", sessionID)),
	}

	page, err := driver.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open tab for session: %w", err)
	}
	s.page = page
	s.logger.Debug("Session opened.")
	return s, nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// IsAlive reports whether the tracked tab is still open. The answer can be
// stale by the time it is used; callers tolerate that.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.page != nil && !s.page.IsClosed()
}

// URL returns the current URL of the tracked tab, or "" when none is open.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil || s.page.IsClosed() {
		return ""
	}
	return s.page.URL()
}

// EnsureLive returns a usable tab. A tab closed by the user or crashed is
// replaced transparently and sent to the landing URL; only loss of the whole
// browser is reported.
func (s *Session) EnsureLive(ctx context.Context) (Page, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s was closed explicitly: %w", s.id, ErrTabClosed)
	}
	if s.page != nil && !s.page.IsClosed() {
		p := s.page
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	s.logger.Info("Tracked tab is gone, opening a replacement.")
	page, err := s.driver.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to replace closed tab: %w", err)
	}

	s.mu.Lock()
	s.page = page
	s.elements = nil
	s.mu.Unlock()

	if s.opts.LandingURL != "" {
		if err := s.gotoBestEffort(ctx, page, s.opts.LandingURL, s.waitUntil()); err != nil {
			s.logger.Warn("Replacement tab could not reach the landing page.", zap.Error(err))
		}
	}
	return page, nil
}

// current returns the tracked page without replacing it.
func (s *Session) current() (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.page == nil || s.page.IsClosed() {
		return nil, ErrTabClosed
	}
	return s.page, nil
}

// Navigate loads url and waits for the configured load signal. A timeout is
// not an error: the page is treated as loaded on a best-effort basis. Other
// navigation failures are retried once before being reported.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.NavigateUntil(ctx, url, "")
}

// NavigateUntil is Navigate with a per-call load signal. An empty wait falls
// back to the session default.
func (s *Session) NavigateUntil(ctx context.Context, url string, wait WaitCondition) error {
	page, err := s.EnsureLive(ctx)
	if err != nil {
		return err
	}
	s.InvalidateElements()
	if wait == "" {
		wait = s.waitUntil()
	}
	return s.gotoBestEffort(ctx, page, url, wait)
}

func (s *Session) waitUntil() WaitCondition {
	if s.opts.WaitUntil == "" {
		return WaitNetworkIdle
	}
	return s.opts.WaitUntil
}

func (s *Session) gotoBestEffort(ctx context.Context, page Page, url string, wait WaitCondition) error {
	if s.opts.Limiter != nil {
		if err := s.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	op := func() error {
		err := page.Goto(ctx, url, LoadOptions{WaitUntil: wait, Timeout: s.opts.NavigationTimeout})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrTimeout):
			s.logger.Warn("Navigation timed out, continuing with a partially loaded page.",
				zap.String("url", url), zap.String("wait_until", string(wait)),
				zap.Duration("timeout", s.opts.NavigationTimeout))
			return nil
		case errors.Is(err, ErrTabClosed), ctx.Err() != nil:
			return backoff.Permanent(err)
		default:
			return &NavigationError{URL: url, Err: err}
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(navigationRetryDelay), 1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return err
	}
	s.logger.Debug("Navigation settled.", zap.String("url", url))
	return nil
}

// Reload reloads the tracked tab with the same best-effort semantics as Navigate.
func (s *Session) Reload(ctx context.Context) error {
	page, err := s.current()
	if err != nil {
		return err
	}
	s.InvalidateElements()
	err = page.Reload(ctx, LoadOptions{WaitUntil: s.waitUntil(), Timeout: s.opts.NavigationTimeout})
	if errors.Is(err, ErrTimeout) {
		s.logger.Warn("Reload timed out, continuing with a partially loaded page.")
		return nil
	}
	return err
}

// RunScript evaluates a JS function expression in the tracked tab with one
// argument. When out is non-nil the result is decoded into it.
func (s *Session) RunScript(ctx context.Context, script string, arg any, out any) error {
	page, err := s.current()
	if err != nil {
		return err
	}
	res, err := page.Evaluate(ctx, script, arg)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeResult(res, out)
}

// decodeResult re-encodes a loosely typed script result into out.
func decodeResult(res any, out any) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode script result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode script result: %w", err)
	}
	return nil
}

// Screenshot captures the tracked tab as PNG.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	page, err := s.current()
	if err != nil {
		return nil, err
	}
	return page.Screenshot(ctx, fullPage)
}

// PressKey sends one key press to the focused element.
func (s *Session) PressKey(ctx context.Context, key string) error {
	page, err := s.current()
	if err != nil {
		return err
	}
	return page.PressKey(ctx, key)
}

// BringToFront focuses the tracked tab so a human watching sees it.
func (s *Session) BringToFront(ctx context.Context) error {
	page, err := s.current()
	if err != nil {
		return err
	}
	return page.BringToFront(ctx)
}

// LiveHTML syncs control state into attributes and returns the serialized DOM,
// ready for the offline extractors.
func (s *Session) LiveHTML(ctx context.Context) (string, error) {
	page, err := s.current()
	if err != nil {
		return "", err
	}
	if _, err := page.Evaluate(ctx, SyncFormStateScript, nil); err != nil {
		return "", err
	}
	return page.Content(ctx)
}

// WaitForStableCount polls the number of elements matching selector until two
// consecutive polls agree, bounded by SettleTimeout. Running out of time is
// not an error; a closed tab or canceled context is.
func (s *Session) WaitForStableCount(ctx context.Context, selector string) error {
	deadline := time.Now().Add(s.opts.SettleTimeout)
	last := -1
	for {
		var count int
		if err := s.RunScript(ctx, CountSelectorScript, selector, &count); err != nil {
			var scriptErr *ScriptError
			if !errors.As(err, &scriptErr) {
				return err
			}
			// Scripts fail while a navigation swaps the document; keep polling.
			count = -1
		}
		if count >= 0 && count == last {
			return nil
		}
		last = count

		if time.Now().Add(s.opts.SettleInterval).After(deadline) {
			s.logger.Debug("Settle wait ran out, continuing best effort.",
				zap.String("selector", selector), zap.Int("last_count", last))
			return nil
		}
		if err := Sleep(ctx, s.opts.SettleInterval); err != nil {
			return err
		}
	}
}

// IndexElements tags and lists the visible interactive elements, replacing
// the cached index.
func (s *Session) IndexElements(ctx context.Context) ([]Element, error) {
	var elements []Element
	if err := s.RunScript(ctx, IndexElementsScript, ElementIndexAttr, &elements); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.elements = elements
	s.mu.Unlock()
	return elements, nil
}

// Element returns the cached element at index i from the last IndexElements.
func (s *Session) Element(i int) (Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.elements) {
		return Element{}, false
	}
	return s.elements[i], true
}

// InvalidateElements drops the cached element index.
func (s *Session) InvalidateElements() {
	s.mu.Lock()
	s.elements = nil
	s.mu.Unlock()
}

// Close closes the tracked tab. The session cannot be revived afterwards.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	page := s.page
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	if page == nil {
		return nil
	}
	if err := page.Close(ctx); err != nil && !errors.Is(err, ErrTabClosed) {
		return fmt.Errorf("failed to close tab: %w", err)
	}
	return nil
}
