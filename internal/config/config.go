// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Site() SiteConfig
	Timing() TimingConfig
	Executor() ExecutorConfig
	Resolver() ResolverConfig
	Server() ServerConfig
	Database() DatabaseConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	SiteCfg     SiteConfig     `mapstructure:"site" yaml:"site"`
	TimingCfg   TimingConfig   `mapstructure:"timing" yaml:"timing"`
	ExecutorCfg ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	ResolverCfg ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Site() SiteConfig         { return c.SiteCfg }
func (c *Config) Timing() TimingConfig     { return c.TimingCfg }
func (c *Config) Executor() ExecutorConfig { return c.ExecutorCfg }
func (c *Config) Resolver() ResolverConfig { return c.ResolverCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Supported browser drivers.
const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
)

// Load signals accepted by timing.wait_until.
const (
	WaitUntilLoad             = "load"
	WaitUntilDOMContentLoaded = "domcontentloaded"
	WaitUntilNetworkIdle      = "networkidle"
)

// BrowserConfig controls the automated browser. ProfileDir must point at an
// already authenticated profile; login is not handled here.
type BrowserConfig struct {
	Driver         string   `mapstructure:"driver" yaml:"driver"`
	Headless       bool     `mapstructure:"headless" yaml:"headless"`
	ProfileDir     string   `mapstructure:"profile_dir" yaml:"profile_dir"`
	Args           []string `mapstructure:"args" yaml:"args"`
	ViewportWidth  int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int      `mapstructure:"viewport_height" yaml:"viewport_height"`
	// Install runs the playwright browser installer before launch.
	Install       bool   `mapstructure:"install" yaml:"install"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// SiteConfig describes the URL conventions of the target lab application.
// ResultsPath takes an {order} placeholder, EditPath an {id} placeholder.
type SiteConfig struct {
	BaseURL     string `mapstructure:"base_url" yaml:"base_url"`
	LandingPath string `mapstructure:"landing_path" yaml:"landing_path"`
	ListPath    string `mapstructure:"list_path" yaml:"list_path"`
	ResultsPath string `mapstructure:"results_path" yaml:"results_path"`
	EditPath    string `mapstructure:"edit_path" yaml:"edit_path"`
	SearchParam string `mapstructure:"search_param" yaml:"search_param"`
}

// TimingConfig holds every tunable wait. None of these are fixed sleeps: they
// bound wait-for-condition loops.
type TimingConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleTimeout     time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	SettleInterval    time.Duration `mapstructure:"settle_interval" yaml:"settle_interval"`
	MaxWait           time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	// WaitUntil is the load signal a navigation waits for: load,
	// domcontentloaded or networkidle.
	WaitUntil string `mapstructure:"wait_until" yaml:"wait_until"`
	// NavigationRate is the sustained navigations per second allowed against the site.
	NavigationRate  float64 `mapstructure:"navigation_rate" yaml:"navigation_rate"`
	NavigationBurst int     `mapstructure:"navigation_burst" yaml:"navigation_burst"`
}

// ExecutorConfig tunes the safe-action executor. ExtraDenylist can only add
// keywords; the built-in list is always enforced.
type ExecutorConfig struct {
	ExtraDenylist  []string `mapstructure:"extra_denylist" yaml:"extra_denylist"`
	StrictLabels   bool     `mapstructure:"strict_labels" yaml:"strict_labels"`
	HighlightColor string   `mapstructure:"highlight_color" yaml:"highlight_color"`
}

// ResolverConfig configures the offline fuzzy order search.
type ResolverConfig struct {
	CacheFile      string        `mapstructure:"cache_file" yaml:"cache_file"`
	MinScore       float64       `mapstructure:"min_score" yaml:"min_score"`
	PerPatient     int           `mapstructure:"per_patient" yaml:"per_patient"`
	MaxResults     int           `mapstructure:"max_results" yaml:"max_results"`
	ReloadInterval time.Duration `mapstructure:"reload_interval" yaml:"reload_interval"`
	Watch          bool          `mapstructure:"watch" yaml:"watch"`
}

// ServerConfig configures the HTTP surface of the tool bridge.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// DatabaseConfig holds the database connection details for the fill audit trail.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" yaml:"url"`
	AuditEnabled bool   `mapstructure:"audit_enabled" yaml:"audit_enabled"`
}

// NewDefaultConfig returns a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are static, an unmarshal failure here is a programming error.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "labcore")
	v.SetDefault("logger.log_file", "labcore.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", DriverPlaywright)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.profile_dir", "~/.labcore/profile")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.install", false)
	v.SetDefault("browser.screenshot_dir", "screenshots")

	// -- Site --
	v.SetDefault("site.base_url", "http://localhost:8080")
	v.SetDefault("site.landing_path", "/ordenes")
	v.SetDefault("site.list_path", "/ordenes")
	v.SetDefault("site.results_path", "/resultados/{order}")
	v.SetDefault("site.edit_path", "/ordenes/{id}/editar")
	v.SetDefault("site.search_param", "q")

	// -- Timing --
	v.SetDefault("timing.navigation_timeout", "30s")
	v.SetDefault("timing.settle_timeout", "5s")
	v.SetDefault("timing.settle_interval", "250ms")
	v.SetDefault("timing.max_wait", "30s")
	v.SetDefault("timing.wait_until", WaitUntilNetworkIdle)
	v.SetDefault("timing.navigation_rate", 2.0)
	v.SetDefault("timing.navigation_burst", 4)

	// -- Executor --
	v.SetDefault("executor.extra_denylist", []string{})
	v.SetDefault("executor.strict_labels", false)
	v.SetDefault("executor.highlight_color", "#fff3a0")

	// -- Resolver --
	v.SetDefault("resolver.cache_file", "data/ordenes.csv")
	v.SetDefault("resolver.min_score", 70.0)
	v.SetDefault("resolver.per_patient", 2)
	v.SetDefault("resolver.max_results", 10)
	v.SetDefault("resolver.reload_interval", "5m")
	v.SetDefault("resolver.watch", true)

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8765")
	v.SetDefault("server.request_timeout", "120s")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.audit_enabled", true)
}

// NewConfigFromViper unmarshals, normalizes and validates configuration from viper.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "LABCORE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.BrowserCfg.ProfileDir, &c.BrowserCfg.ScreenshotDir, &c.ResolverCfg.CacheFile, &c.LoggerCfg.LogFile} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.BrowserCfg.Driver {
	case DriverPlaywright, DriverChromedp:
	default:
		return fmt.Errorf("browser.driver must be one of %q or %q, got %q", DriverPlaywright, DriverChromedp, c.BrowserCfg.Driver)
	}
	if c.SiteCfg.BaseURL == "" {
		return fmt.Errorf("site.base_url is a required configuration field")
	}
	if !strings.Contains(c.SiteCfg.ResultsPath, "{order}") {
		return fmt.Errorf("site.results_path must contain the {order} placeholder")
	}
	if !strings.Contains(c.SiteCfg.EditPath, "{id}") {
		return fmt.Errorf("site.edit_path must contain the {id} placeholder")
	}
	if c.TimingCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("timing.navigation_timeout must be positive")
	}
	if c.TimingCfg.SettleInterval <= 0 || c.TimingCfg.SettleTimeout < c.TimingCfg.SettleInterval {
		return fmt.Errorf("timing.settle_timeout must be at least timing.settle_interval, and both positive")
	}
	switch c.TimingCfg.WaitUntil {
	case WaitUntilLoad, WaitUntilDOMContentLoaded, WaitUntilNetworkIdle:
	default:
		return fmt.Errorf("timing.wait_until must be one of %q, %q or %q, got %q",
			WaitUntilLoad, WaitUntilDOMContentLoaded, WaitUntilNetworkIdle, c.TimingCfg.WaitUntil)
	}
	if c.TimingCfg.NavigationRate <= 0 || c.TimingCfg.NavigationBurst <= 0 {
		return fmt.Errorf("timing.navigation_rate and timing.navigation_burst must be positive")
	}
	if c.ResolverCfg.MinScore < 0 || c.ResolverCfg.MinScore > 100 {
		return fmt.Errorf("resolver.min_score must be within 0..100")
	}
	if c.ResolverCfg.PerPatient < 1 || c.ResolverCfg.PerPatient > 2 {
		return fmt.Errorf("resolver.per_patient must be 1 or 2")
	}
	if c.ResolverCfg.MaxResults <= 0 {
		return fmt.Errorf("resolver.max_results must be a positive integer")
	}
	return nil
}

// ResultsURL builds the results page URL for an order number.
func (s SiteConfig) ResultsURL(orderNumber string) string {
	return s.join(strings.ReplaceAll(s.ResultsPath, "{order}", orderNumber))
}

// EditURL builds the order edit page URL for an internal id.
func (s SiteConfig) EditURL(internalID string) string {
	return s.join(strings.ReplaceAll(s.EditPath, "{id}", internalID))
}

// ListURL builds the order list URL, optionally carrying an exact search query.
func (s SiteConfig) ListURL(query string) string {
	u := s.join(s.ListPath)
	if query == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + s.SearchParam + "=" + url.QueryEscape(query)
}

// LandingURL is where a replacement tab is sent when the tracked one died.
func (s SiteConfig) LandingURL() string {
	return s.join(s.LandingPath)
}

func (s SiteConfig) join(path string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
