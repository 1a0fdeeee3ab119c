// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/labcore/internal/browser"
	"github.com/xkilldash9x/labcore/internal/config"
	"github.com/xkilldash9x/labcore/internal/mocks"
	"github.com/xkilldash9x/labcore/internal/observability"
)

// writeTestConfig writes a config file that keeps logs, profile and
// screenshots inside a temp dir. extra is appended verbatim.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "logger:\n" +
		"  level: error\n" +
		"  log_file: " + filepath.Join(dir, "labcore.log") + "\n" +
		"browser:\n" +
		"  profile_dir: " + filepath.Join(dir, "profile") + "\n" +
		"  screenshot_dir: " + filepath.Join(dir, "shots") + "\n" +
		"resolver:\n" +
		"  cache_file: " + filepath.Join(dir, "missing.csv") + "\n" +
		"  watch: false\n" +
		extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

// runCommand executes a fresh command tree and returns its stdout.
func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(bytes.NewBufferString(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// useFakeDriver replaces the browser driver for the duration of the test.
func useFakeDriver(t *testing.T, driver *mocks.FakeDriver) {
	t.Helper()
	orig := driverFactory
	driverFactory = func(config.BrowserConfig, *zap.Logger) (browser.Driver, error) { return driver, nil }
	t.Cleanup(func() { driverFactory = orig })
}
