// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/labcore/internal/browser"
)

// -- Page Mock --

// MockPage is a testify mock of browser.Page. Closing it flips IsClosed, and
// MarkClosed simulates a user closing the tab.
type MockPage struct {
	mock.Mock
	closed atomic.Bool
	mu     sync.RWMutex
	url    string
}

// NewMockPage returns a page that reports url and is open.
func NewMockPage(url string) *MockPage {
	return &MockPage{url: url}
}

var _ browser.Page = (*MockPage)(nil)

func (m *MockPage) Goto(ctx context.Context, url string, opts browser.LoadOptions) error {
	args := m.Called(ctx, url, opts)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.url = url
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockPage) Reload(ctx context.Context, opts browser.LoadOptions) error {
	args := m.Called(ctx, opts)
	return args.Error(0)
}

func (m *MockPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	args := m.Called(ctx, script, arg)
	if fn, ok := args.Get(0).(func(context.Context, string, any) any); ok {
		return fn(ctx, script, arg), args.Error(1)
	}
	return args.Get(0), args.Error(1)
}

func (m *MockPage) Content(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	if fn, ok := args.Get(0).(func() string); ok {
		return fn(), args.Error(1)
	}
	return args.String(0), args.Error(1)
}

func (m *MockPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	args := m.Called(ctx, fullPage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockPage) PressKey(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockPage) BringToFront(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockPage) URL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.url
}

func (m *MockPage) IsClosed() bool { return m.closed.Load() }

// MarkClosed simulates the tab being closed outside our control.
func (m *MockPage) MarkClosed() { m.closed.Store(true) }

func (m *MockPage) Close(ctx context.Context) error {
	m.closed.Store(true)
	return nil
}

// -- Driver Fake --

// FakeDriver hands out pages from a factory and records every page it opened.
type FakeDriver struct {
	mu      sync.Mutex
	factory func(n int) *MockPage
	pages   []*MockPage
	// Err, when set, is returned by NewPage.
	Err error
	shut bool
}

// NewFakeDriver creates a driver whose n-th page (0-based) comes from factory.
// A nil factory produces bare pages at about:blank.
func NewFakeDriver(factory func(n int) *MockPage) *FakeDriver {
	if factory == nil {
		factory = func(int) *MockPage { return NewMockPage("about:blank") }
	}
	return &FakeDriver{factory: factory}
}

var _ browser.Driver = (*FakeDriver)(nil)

func (d *FakeDriver) NewPage(ctx context.Context) (browser.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	p := d.factory(len(d.pages))
	d.pages = append(d.pages, p)
	return p, nil
}

func (d *FakeDriver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shut = true
	return nil
}

// Pages returns every page opened so far.
func (d *FakeDriver) Pages() []*MockPage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockPage(nil), d.pages...)
}

// IsShutdown reports whether Shutdown was called.
func (d *FakeDriver) IsShutdown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shut
}
