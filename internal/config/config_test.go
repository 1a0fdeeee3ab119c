// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, DriverPlaywright, cfg.Browser().Driver)
	assert.Equal(t, 30*time.Second, cfg.Timing().NavigationTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Timing().SettleInterval)
	assert.Equal(t, WaitUntilNetworkIdle, cfg.Timing().WaitUntil)
	assert.Equal(t, 70.0, cfg.Resolver().MinScore)
	assert.Equal(t, 2, cfg.Resolver().PerPatient)
	assert.False(t, cfg.Executor().StrictLabels)
	assert.NoError(t, cfg.Validate(), "defaults must always validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.BrowserCfg.Driver = "selenium" }, "browser.driver must be one of"},
		{"missing base url", func(c *Config) { c.SiteCfg.BaseURL = "" }, "site.base_url is a required"},
		{"results path placeholder", func(c *Config) { c.SiteCfg.ResultsPath = "/resultados" }, "{order} placeholder"},
		{"edit path placeholder", func(c *Config) { c.SiteCfg.EditPath = "/editar" }, "{id} placeholder"},
		{"settle shorter than interval", func(c *Config) { c.TimingCfg.SettleTimeout = time.Millisecond }, "timing.settle_timeout"},
		{"unknown wait condition", func(c *Config) { c.TimingCfg.WaitUntil = "idle" }, "timing.wait_until must be one of"},
		{"zero navigation rate", func(c *Config) { c.TimingCfg.NavigationRate = 0 }, "timing.navigation_rate"},
		{"min score out of range", func(c *Config) { c.ResolverCfg.MinScore = 101 }, "resolver.min_score"},
		{"per patient cap", func(c *Config) { c.ResolverCfg.PerPatient = 3 }, "resolver.per_patient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("environment overrides database url", func(t *testing.T) {
		t.Setenv("LABCORE_DATABASE_URL", "postgres://lab:secret@db/lab")
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "postgres://lab:secret@db/lab", cfg.Database().URL)
	})

	t.Run("expands home directory paths", func(t *testing.T) {
		homedir.DisableCache = true
		t.Cleanup(func() { homedir.DisableCache = false })
		t.Setenv("HOME", "/home/labtech")
		v := viper.New()
		SetDefaults(v)
		v.Set("browser.profile_dir", "~/profile")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "/home/labtech/profile", cfg.Browser().ProfileDir)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("resolver.max_results", 0)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestSiteURLs(t *testing.T) {
	site := SiteConfig{
		BaseURL:     "https://lab.example.com/",
		LandingPath: "/ordenes",
		ListPath:    "ordenes",
		ResultsPath: "/resultados/{order}",
		EditPath:    "/ordenes/{id}/editar",
		SearchParam: "q",
	}

	assert.Equal(t, "https://lab.example.com/resultados/12045", site.ResultsURL("12045"))
	assert.Equal(t, "https://lab.example.com/ordenes/881/editar", site.EditURL("881"))
	assert.Equal(t, "https://lab.example.com/ordenes", site.ListURL(""))
	assert.Equal(t, "https://lab.example.com/ordenes?q=maria+garcia", site.ListURL("maria garcia"))
	assert.Equal(t, "https://lab.example.com/ordenes", site.LandingURL())
}
