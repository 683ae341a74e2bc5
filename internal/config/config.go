// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Thumbor() ThumborConfig
	Viewport() ViewportConfig
	Preload() PreloadConfig
	Browser() BrowserConfig
	Output() OutputConfig
	Watch() WatchConfig

	// Setters driven by CLI flags.
	SetThumborBaseURL(string)
	SetPreloadEnabled(bool)
	SetBrowserEnabled(bool)
	SetOutputBrotli(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	ThumborCfg  ThumborConfig  `mapstructure:"thumbor" yaml:"thumbor"`
	ViewportCfg ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	PreloadCfg  PreloadConfig  `mapstructure:"preload" yaml:"preload"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	OutputCfg   OutputConfig   `mapstructure:"output" yaml:"output"`
	WatchCfg    WatchConfig    `mapstructure:"watch" yaml:"watch"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Thumbor() ThumborConfig   { return c.ThumborCfg }
func (c *Config) Viewport() ViewportConfig { return c.ViewportCfg }
func (c *Config) Preload() PreloadConfig   { return c.PreloadCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Output() OutputConfig     { return c.OutputCfg }
func (c *Config) Watch() WatchConfig       { return c.WatchCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetThumborBaseURL(u string) { c.ThumborCfg.BaseURL = u }
func (c *Config) SetPreloadEnabled(b bool)   { c.PreloadCfg.Enabled = b }
func (c *Config) SetBrowserEnabled(b bool)   { c.BrowserCfg.Enabled = b }
func (c *Config) SetOutputBrotli(b bool)     { c.OutputCfg.Brotli = b }

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

// ThumborConfig points at the image service and the page the images live on.
type ThumborConfig struct {
	// SecurityKey signs URLs. Empty means "unsafe" URLs.
	SecurityKey string `mapstructure:"security_key" yaml:"security_key"`
	ServerURL   string `mapstructure:"server_url" yaml:"server_url"`
	// LoaderURL is the placeholder shown until the transformed image loads.
	LoaderURL string `mapstructure:"loader_url" yaml:"loader_url"`
	// BaseURL is the page URL relative image paths are resolved against.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// ViewportConfig describes the device the document is prepared for.
type ViewportConfig struct {
	Width            int     `mapstructure:"width" yaml:"width"`
	Height           int     `mapstructure:"height" yaml:"height"`
	DevicePixelRatio float64 `mapstructure:"device_pixel_ratio" yaml:"device_pixel_ratio"`
	SystemXDPI       float64 `mapstructure:"system_xdpi" yaml:"system_xdpi"`
	LogicalXDPI      float64 `mapstructure:"logical_xdpi" yaml:"logical_xdpi"`
}

// PreloadConfig tunes how final image URLs are fetched before the swap.
type PreloadConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	RateLimit   float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst       int           `mapstructure:"burst" yaml:"burst"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxBytes    int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
	UserAgent   string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// BrowserConfig controls the optional headless browser geometry probe.
type BrowserConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Headless bool          `mapstructure:"headless" yaml:"headless"`
	Args     []string      `mapstructure:"args" yaml:"args"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// OutputConfig controls how the rewritten document is written.
type OutputConfig struct {
	// Brotli additionally writes a precompressed <out>.br next to the output.
	Brotli        bool `mapstructure:"brotli" yaml:"brotli"`
	BrotliQuality int  `mapstructure:"brotli_quality" yaml:"brotli_quality"`
}

// WatchConfig tunes the watch command.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "thumbor-attrs")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Thumbor --
	v.SetDefault("thumbor.security_key", "")
	v.SetDefault("thumbor.server_url", "http://localhost:8888")
	v.SetDefault("thumbor.loader_url", "https://s3.us-east-2.amazonaws.com/mixin-images/loader.svg")
	v.SetDefault("thumbor.base_url", "")

	// -- Viewport --
	v.SetDefault("viewport.width", 1280)
	v.SetDefault("viewport.height", 720)
	v.SetDefault("viewport.device_pixel_ratio", 1.0)

	// -- Preload --
	v.SetDefault("preload.enabled", true)
	v.SetDefault("preload.concurrency", 8)
	v.SetDefault("preload.rate_limit", 20.0)
	v.SetDefault("preload.burst", 4)
	v.SetDefault("preload.timeout", "30s")
	v.SetDefault("preload.max_bytes", 32<<20)
	v.SetDefault("preload.user_agent", "thumbor-attrs")

	// -- Browser --
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", "60s")

	// -- Output --
	v.SetDefault("output.brotli", false)
	v.SetDefault("output.brotli_quality", 9)

	// -- Watch --
	v.SetDefault("watch.debounce", "500ms")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The signing key is a secret and is usually injected through the environment.
	if err := v.BindEnv("thumbor.security_key", "THUMBOR_SECURITY_KEY"); err != nil {
		return nil, fmt.Errorf("error binding env: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.ThumborCfg.Validate(); err != nil {
		return fmt.Errorf("thumbor configuration invalid: %w", err)
	}
	if c.ViewportCfg.Width <= 0 || c.ViewportCfg.Height <= 0 {
		return fmt.Errorf("viewport.width and viewport.height must be positive integers")
	}
	if c.ViewportCfg.DevicePixelRatio < 0 {
		return fmt.Errorf("viewport.device_pixel_ratio must not be negative")
	}
	if err := c.PreloadCfg.Validate(); err != nil {
		return fmt.Errorf("preload configuration invalid: %w", err)
	}
	if c.OutputCfg.BrotliQuality < 0 || c.OutputCfg.BrotliQuality > 11 {
		return fmt.Errorf("output.brotli_quality must be between 0 and 11")
	}
	return nil
}

// Validate checks the Thumbor configuration.
func (t *ThumborConfig) Validate() error {
	if t.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	u, err := url.Parse(t.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server_url %q must be an absolute url", t.ServerURL)
	}
	if t.BaseURL != "" {
		if _, err := url.Parse(t.BaseURL); err != nil {
			return fmt.Errorf("base_url %q is not a valid url: %w", t.BaseURL, err)
		}
	}
	return nil
}

// Validate checks the PreloadConfig settings.
func (p *PreloadConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be a positive integer")
	}
	if p.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	return nil
}
