// internal/tabs/registry.go
package tabs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/labcore/internal/browser"
)

// Opener opens a new Page Session for a key, already pointed at the page the
// key stands for.
type Opener func(ctx context.Context) (*browser.Session, error)

// Handle binds one order key to the tab showing it.
type Handle struct {
	Key      string
	Session  *browser.Session
	OpenedAt time.Time

	mu       sync.Mutex
	baseline map[string]string
	mutated  bool
}

// MarkMutated records that the tab carries unsaved fills. A mutated tab is
// never reloaded on reuse, so the highlighted edits stay visible.
func (h *Handle) MarkMutated() {
	h.mu.Lock()
	h.mutated = true
	h.mu.Unlock()
}

// Mutated reports whether any fill landed in this tab.
func (h *Handle) Mutated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mutated
}

// Registry maps order keys to open tabs. At most one handle exists per key,
// and every operation on a key runs under that key's lock.
type Registry struct {
	logger *zap.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	locks   map[string]*keyLock
}

// keyLock serializes work on one key. refs counts holders and waiters; the
// entry is dropped when it reaches zero, so idle keys hold no lock.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates an empty registry. One registry belongs to one running
// automation session.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger.Named("tabs"),
		handles: make(map[string]*Handle),
		locks:   make(map[string]*keyLock),
	}
}

// ResultsKey is the registry key of an order's results page.
func ResultsKey(orderNumber string) string { return "results:" + normalize(orderNumber) }

// EditKey is the registry key of an order's edit page.
func EditKey(internalID string) string { return "edit:" + normalize(internalID) }

func normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// lockKey takes the lock for key and returns its release.
func (r *Registry) lockKey(key string) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) lookup(key string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[key]
}

// GetOrOpen returns the live handle for key, or opens one with open. A reused
// tab is reloaded to pick up server-side changes unless it carries unsaved
// fills. A handle whose tab was closed underneath it is treated as never
// opened and replaced.
func (r *Registry) GetOrOpen(ctx context.Context, key string, open Opener) (*Handle, error) {
	defer r.lockKey(key)()
	return r.getOrOpenLocked(ctx, key, open, true)
}

// WithHandle runs fn against the handle for key while holding the key's lock,
// so nothing else drives that tab in the meantime. A reused tab is reloaded
// as in GetOrOpen.
func (r *Registry) WithHandle(ctx context.Context, key string, open Opener, fn func(*Handle) error) error {
	return r.withHandle(ctx, key, open, true, fn)
}

// WithCurrent is WithHandle without the reload, for work that depends on the
// page staying as it is, such as acting on a previous element index.
func (r *Registry) WithCurrent(ctx context.Context, key string, open Opener, fn func(*Handle) error) error {
	return r.withHandle(ctx, key, open, false, fn)
}

func (r *Registry) withHandle(ctx context.Context, key string, open Opener, reload bool, fn func(*Handle) error) error {
	defer r.lockKey(key)()
	h, err := r.getOrOpenLocked(ctx, key, open, reload)
	if err != nil {
		return err
	}
	return fn(h)
}

func (r *Registry) getOrOpenLocked(ctx context.Context, key string, open Opener, reload bool) (*Handle, error) {
	if h := r.lookup(key); h != nil {
		if h.Session.IsAlive() {
			if !reload {
				return h, nil
			}
			if h.Mutated() {
				r.logger.Debug("Reusing tab with unsaved fills, skipping reload.", zap.String("key", key))
				return h, nil
			}
			err := h.Session.Reload(ctx)
			switch {
			case err == nil:
				r.logger.Debug("Reusing tab.", zap.String("key", key))
				return h, nil
			case errors.Is(err, browser.ErrTabClosed):
				r.logger.Info("Tab closed during reload, reopening.", zap.String("key", key))
			case errors.Is(err, browser.ErrBrowserGone), ctx.Err() != nil:
				return nil, err
			default:
				r.logger.Warn("Reload of reused tab failed, using it as is.", zap.String("key", key), zap.Error(err))
				return h, nil
			}
		} else {
			r.logger.Info("Tab for key was closed externally, reopening.", zap.String("key", key))
		}
	}

	session, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open tab for %s: %w", key, err)
	}
	return r.put(ctx, key, session), nil
}

// Put registers session under key. A previous handle for the key is replaced,
// and its tab is closed when it is a different session.
func (r *Registry) Put(ctx context.Context, key string, session *browser.Session) *Handle {
	defer r.lockKey(key)()
	return r.put(ctx, key, session)
}

func (r *Registry) put(ctx context.Context, key string, session *browser.Session) *Handle {
	h := &Handle{Key: key, Session: session, OpenedAt: time.Now()}

	r.mu.Lock()
	old := r.handles[key]
	r.handles[key] = h
	r.mu.Unlock()

	if old != nil && old.Session != session {
		if err := old.Session.Close(ctx); err != nil {
			r.logger.Warn("Failed to close orphaned tab.", zap.String("key", key), zap.Error(err))
		}
	}
	r.logger.Debug("Tab registered.", zap.String("key", key), zap.String("session_id", session.ID()))
	return h
}

// Get returns the registered handle for key without checking liveness.
func (r *Registry) Get(key string) (*Handle, bool) {
	h := r.lookup(key)
	return h, h != nil
}

// Keys lists registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Len is the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CloseOne closes and forgets the tab for key. Unknown keys are not an error.
func (r *Registry) CloseOne(ctx context.Context, key string) (bool, error) {
	defer r.lockKey(key)()

	r.mu.Lock()
	h, ok := r.handles[key]
	delete(r.handles, key)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := h.Session.Close(ctx); err != nil {
		return true, fmt.Errorf("failed to close tab for %s: %w", key, err)
	}
	r.logger.Debug("Tab closed.", zap.String("key", key))
	return true, nil
}

// CloseAll closes every registered tab and returns how many were closed.
func (r *Registry) CloseAll(ctx context.Context) (int, error) {
	keys := r.Keys()
	var g errgroup.Group
	for _, key := range keys {
		g.Go(func() error {
			_, err := r.CloseOne(ctx, key)
			return err
		})
	}
	err := g.Wait()
	r.logger.Info("Closed all tabs.", zap.Int("count", len(keys)))
	return len(keys), err
}

// Reset forgets every baseline. Tabs stay open: the agent forgetting what it
// saw is not the same as the tabs going away.
func (r *Registry) Reset() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		h.baseline = nil
		h.mu.Unlock()
	}
	r.logger.Debug("Baselines reset.", zap.Int("tabs", len(handles)))
}
