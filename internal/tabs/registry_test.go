package tabs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/labcore/internal/browser"
	"github.com/xkilldash9x/labcore/internal/mocks"
	"github.com/xkilldash9x/labcore/internal/tabs"
)

// fixture wires a registry to a fake driver whose pages accept reloads.
type fixture struct {
	registry *tabs.Registry
	driver   *mocks.FakeDriver
	opened   atomic.Int32
	reload   error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{registry: tabs.NewRegistry(zaptest.NewLogger(t))}
	f.driver = mocks.NewFakeDriver(func(n int) *mocks.MockPage {
		p := mocks.NewMockPage(fmt.Sprintf("http://lab.test/resultados/%d", n))
		p.On("Reload", mock.Anything, mock.Anything).Return(f.reload).Maybe()
		return p
	})
	return f
}

func (f *fixture) opener(t *testing.T) tabs.Opener {
	return func(ctx context.Context) (*browser.Session, error) {
		f.opened.Add(1)
		return browser.NewSession(ctx, f.driver, browser.SessionOptions{NavigationTimeout: time.Second}, zaptest.NewLogger(t))
	}
}

func TestRegistry_TabReuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := tabs.ResultsKey("000123")

	h1, err := f.registry.GetOrOpen(ctx, key, f.opener(t))
	require.NoError(t, err)
	h2, err := f.registry.GetOrOpen(ctx, key, f.opener(t))
	require.NoError(t, err)

	assert.Same(t, h1.Session, h2.Session, "second call must reuse the tab")
	assert.EqualValues(t, 1, f.opened.Load())
	f.driver.Pages()[0].AssertCalled(t, "Reload", mock.Anything,
		browser.LoadOptions{WaitUntil: browser.WaitNetworkIdle, Timeout: time.Second})

	f.driver.Pages()[0].MarkClosed()
	h3, err := f.registry.GetOrOpen(ctx, key, f.opener(t))
	require.NoError(t, err, "an externally closed tab is not an error")
	assert.NotSame(t, h1.Session, h3.Session)
	assert.EqualValues(t, 2, f.opened.Load())
	assert.Equal(t, 1, f.registry.Len())
}

func TestRegistry_MutatedTabIsNotReloaded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := tabs.ResultsKey("1")

	h, err := f.registry.GetOrOpen(ctx, key, f.opener(t))
	require.NoError(t, err)
	h.MarkMutated()

	_, err = f.registry.GetOrOpen(ctx, key, f.opener(t))
	require.NoError(t, err)
	f.driver.Pages()[0].AssertNotCalled(t, "Reload", mock.Anything, mock.Anything)
}

func TestRegistry_ReloadFindsTabClosed(t *testing.T) {
	f := newFixture(t)
	f.reload = fmt.Errorf("%w: target closed", browser.ErrTabClosed)
	ctx := context.Background()
	key := tabs.ResultsKey("2")

	h1, err := f.registry.GetOrOpen(ctx, key, f.opener(t))
	require.NoError(t, err)
	h2, err := f.registry.GetOrOpen(ctx, key, f.opener(t))
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	assert.EqualValues(t, 2, f.opened.Load())
}

func TestRegistry_OpenerFailure(t *testing.T) {
	r := tabs.NewRegistry(zaptest.NewLogger(t))
	_, err := r.GetOrOpen(context.Background(), "results:X", func(context.Context) (*browser.Session, error) {
		return nil, browser.ErrBrowserGone
	})
	assert.ErrorIs(t, err, browser.ErrBrowserGone)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ConcurrentGetOrOpenCreatesOneTab(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := tabs.ResultsKey("000999")

	var wg sync.WaitGroup
	sessions := make([]*browser.Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := f.registry.GetOrOpen(ctx, key, f.opener(t))
			if assert.NoError(t, err) {
				sessions[i] = h.Session
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.opened.Load())
	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
}

func TestRegistry_PutReplacesAndClosesOrphan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.opener(t)

	s1, err := open(ctx)
	require.NoError(t, err)
	s2, err := open(ctx)
	require.NoError(t, err)

	f.registry.Put(ctx, "edit:7", s1)
	h := f.registry.Put(ctx, "edit:7", s2)

	assert.Equal(t, 1, f.registry.Len())
	got, ok := f.registry.Get("edit:7")
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.False(t, s1.IsAlive(), "the replaced tab is closed")
	assert.True(t, s2.IsAlive())
}

func TestRegistry_Close(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, order := range []string{"1", "2", "3"} {
		_, err := f.registry.GetOrOpen(ctx, tabs.ResultsKey(order), f.opener(t))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"results:1", "results:2", "results:3"}, f.registry.Keys())

	closed, err := f.registry.CloseOne(ctx, tabs.ResultsKey("2"))
	require.NoError(t, err)
	assert.True(t, closed)
	closed, err = f.registry.CloseOne(ctx, tabs.ResultsKey("2"))
	require.NoError(t, err)
	assert.False(t, closed)

	n, err := f.registry.CloseAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, f.registry.Len())
	for _, p := range f.driver.Pages() {
		assert.True(t, p.IsClosed())
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "results:000123", tabs.ResultsKey(" 000123 "))
	assert.Equal(t, "edit:AB12", tabs.EditKey("ab12"))
	assert.NotEqual(t, tabs.ResultsKey("5"), tabs.EditKey("5"))
}

func TestWithHandle(t *testing.T) {
	f := newFixture(t)
	errBoom := errors.New("boom")
	err := f.registry.WithHandle(context.Background(), "results:1", f.opener(t), func(h *tabs.Handle) error {
		assert.Equal(t, "results:1", h.Key)
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
}

func TestWithCurrent_DoesNotReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := tabs.ResultsKey("7")
	noop := func(*tabs.Handle) error { return nil }

	require.NoError(t, f.registry.WithCurrent(ctx, key, f.opener(t), noop))
	require.NoError(t, f.registry.WithCurrent(ctx, key, f.opener(t), noop))

	assert.EqualValues(t, 1, f.opened.Load())
	f.driver.Pages()[0].AssertNotCalled(t, "Reload", mock.Anything, mock.Anything)
}
