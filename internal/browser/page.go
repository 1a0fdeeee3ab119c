// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/labcore/internal/config"
)

var (
	// ErrTabClosed reports that the tab behind a Page is gone. Sessions absorb it
	// by opening a replacement; it is expected, not exceptional.
	ErrTabClosed = errors.New("browser tab closed")
	// ErrTimeout reports that a bounded wait ran out.
	ErrTimeout = errors.New("browser operation timed out")
	// ErrBrowserGone reports loss of the browser process itself. It is fatal and
	// must reach whoever owns the process lifecycle.
	ErrBrowserGone = errors.New("browser process is gone")
)

// WaitCondition is the signal a navigation treats as "loaded".
type WaitCondition string

const (
	WaitLoad             WaitCondition = config.WaitUntilLoad
	WaitDOMContentLoaded WaitCondition = config.WaitUntilDOMContentLoaded
	WaitNetworkIdle      WaitCondition = config.WaitUntilNetworkIdle
)

// ParseWaitCondition validates s. An empty string yields WaitNetworkIdle.
func ParseWaitCondition(s string) (WaitCondition, error) {
	switch c := WaitCondition(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return WaitNetworkIdle, nil
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle:
		return c, nil
	default:
		return "", fmt.Errorf("unknown wait condition %q (want load, domcontentloaded or networkidle)", s)
	}
}

// LoadOptions bound one navigation or reload.
type LoadOptions struct {
	WaitUntil WaitCondition
	Timeout   time.Duration
}

// Page is the minimal surface of one browser tab that the automation core needs.
// Selection logic lives inside scripts run through Evaluate, so there is no
// element lookup API here.
type Page interface {
	// Goto navigates and waits for opts.WaitUntil, bounded by opts.Timeout.
	Goto(ctx context.Context, url string, opts LoadOptions) error
	Reload(ctx context.Context, opts LoadOptions) error
	// Evaluate runs a JS function expression with a single JSON-compatible
	// argument and returns its JSON-decoded result.
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	PressKey(ctx context.Context, key string) error
	BringToFront(ctx context.Context) error
	URL() string
	IsClosed() bool
	Close(ctx context.Context) error
}

// Driver opens tabs in one browser context backed by a persistent profile.
type Driver interface {
	NewPage(ctx context.Context) (Page, error)
	Shutdown(ctx context.Context) error
}

// NavigationError is a navigation that failed for a reason other than timeout.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ScriptError wraps an exception thrown inside a page script.
type ScriptError struct {
	Err error
}

func (e *ScriptError) Error() string { return fmt.Sprintf("page script failed: %v", e.Err) }

func (e *ScriptError) Unwrap() error { return e.Err }
