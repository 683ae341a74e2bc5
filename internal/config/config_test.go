// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "thumbor-attrs", cfg.Logger().ServiceName)
	assert.Equal(t, "http://localhost:8888", cfg.Thumbor().ServerURL)
	assert.Equal(t, 1280, cfg.Viewport().Width)
	assert.Equal(t, 1.0, cfg.Viewport().DevicePixelRatio)
	assert.True(t, cfg.Preload().Enabled)
	assert.Equal(t, 30*time.Second, cfg.Preload().Timeout)
	assert.False(t, cfg.Browser().Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch().Debounce)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Thumbor Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.ThumborCfg.ServerURL = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server_url is required")

		cfg.ThumborCfg.ServerURL = "not a url"
		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be an absolute url")
	})

	t.Run("Viewport Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.ViewportCfg.Height = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "viewport.width and viewport.height must be positive integers")
	})

	t.Run("Preload Validation", func(t *testing.T) {
		valid := PreloadConfig{Enabled: true, Concurrency: 2, RateLimit: 1, Timeout: time.Second}
		assert.NoError(t, valid.Validate())

		disabled := PreloadConfig{}
		assert.NoError(t, disabled.Validate(), "disabled preload config should always be valid")

		noWorkers := valid
		noWorkers.Concurrency = 0
		assert.ErrorContains(t, noWorkers.Validate(), "concurrency must be a positive integer")

		noTimeout := valid
		noTimeout.Timeout = 0
		assert.ErrorContains(t, noTimeout.Validate(), "timeout must be a positive duration")
	})

	t.Run("Output Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.OutputCfg.BrotliQuality = 12
		assert.ErrorContains(t, cfg.Validate(), "output.brotli_quality")
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
thumbor:
  server_url: "https://img.example.com"
  base_url: "https://site.example.com/blog/"
viewport:
  width: 414
  height: 896
  device_pixel_ratio: 3
preload:
  concurrency: 2
browser:
  args: ["--no-sandbox"]
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	t.Setenv("THUMBOR_SECURITY_KEY", "s3cr3t")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "https://img.example.com", cfg.Thumbor().ServerURL)
	assert.Equal(t, "s3cr3t", cfg.Thumbor().SecurityKey)
	assert.Equal(t, 414, cfg.Viewport().Width)
	assert.Equal(t, 3.0, cfg.Viewport().DevicePixelRatio)
	assert.Equal(t, 2, cfg.Preload().Concurrency)
	assert.Equal(t, []string{"--no-sandbox"}, cfg.Browser().Args)
	// -- untouched sections keep their defaults --
	assert.Equal(t, 8, NewDefaultConfig().Preload().Concurrency)
	assert.Equal(t, 9, cfg.Output().BrotliQuality)
}

func TestNewConfigFromViper_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("viewport.width", -1)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSetters(t *testing.T) {
	var c Interface = NewDefaultConfig()
	c.SetThumborBaseURL("https://example.com/")
	c.SetPreloadEnabled(false)
	c.SetBrowserEnabled(true)
	c.SetOutputBrotli(true)

	assert.Equal(t, "https://example.com/", c.Thumbor().BaseURL)
	assert.False(t, c.Preload().Enabled)
	assert.True(t, c.Browser().Enabled)
	assert.True(t, c.Output().Brotli)
}
