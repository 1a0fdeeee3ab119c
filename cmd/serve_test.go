// File: cmd/serve_test.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/labcore/internal/browser"
	"github.com/xkilldash9x/labcore/internal/config"
	"github.com/xkilldash9x/labcore/internal/mocks"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestRunServe(t *testing.T) {
	driver := mocks.NewFakeDriver(nil)
	useFakeDriver(t, driver)

	cfg := config.NewDefaultConfig()
	cfg.ResolverCfg.CacheFile = ""
	cfg.DatabaseCfg.URL = ""
	serverCfg := cfg.Server()
	serverCfg.ListenAddr = freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, zaptest.NewLogger(t), cfg, serverCfg) }()

	url := fmt.Sprintf("http://%s/healthz", serverCfg.ListenAddr)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
	assert.True(t, driver.IsShutdown())
}

func TestRunServe_BrowserLost(t *testing.T) {
	driver := mocks.NewFakeDriver(nil)
	driver.Err = browser.ErrBrowserGone
	useFakeDriver(t, driver)

	cfg := config.NewDefaultConfig()
	cfg.ResolverCfg.CacheFile = ""
	serverCfg := cfg.Server()
	serverCfg.ListenAddr = freeAddr(t)

	done := make(chan error, 1)
	go func() { done <- runServe(context.Background(), zaptest.NewLogger(t), cfg, serverCfg) }()

	url := fmt.Sprintf("http://%s/api/v1/tools/list_orders", serverCfg.ListenAddr)
	require.Eventually(t, func() bool {
		resp, err := http.Post(url, "application/json", nil)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errBrowserLost)
	case <-time.After(10 * time.Second):
		t.Fatal("serve kept running after the browser was lost")
	}
}
