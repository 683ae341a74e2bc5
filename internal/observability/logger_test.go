// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/thumbor-attrs/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// syncBuffer is a goroutine safe WriteSyncer backed by memory.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Sync() error { return nil }

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

var _ zapcore.WriteSyncer = (*syncBuffer)(nil)

func TestInitialize(t *testing.T) {
	t.Run("should initialize console logger with colors", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		}, out)
		GetLogger().Info("element rewritten")
		Sync()

		output := out.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "element rewritten")
		assert.Contains(t, output, colorGreen)
		assert.Contains(t, output, colorReset)
		assert.Contains(t, output, "TestService.")
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, out)
		GetLogger().Warn("preload failed", zap.String("url", "http://x/y.jpg"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out.String()), &entry), "log output should be valid JSON")
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "preload failed", entry["msg"])
		assert.Equal(t, "http://x/y.jpg", entry["url"])
	})

	t.Run("should respect the level", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "warn", Format: "json"}, out)
		GetLogger().Info("hidden")
		assert.Empty(t, out.String())
	})

	t.Run("should write to a log file if configured", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		logFile := filepath.Join(t.TempDir(), "thumbor-attrs.log")

		Initialize(config.LoggerConfig{Level: "debug", Format: "json", LogFile: logFile, MaxSize: 1}, &syncBuffer{})
		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("should only initialize once", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		out := &syncBuffer{}

		Initialize(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "First"}, out)
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "Second"}, out)
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		Sync()
		assert.True(t, strings.Contains(out.String(), "First"))
		assert.False(t, strings.Contains(out.String(), "Second"))
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("should return a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("should return the global logger after initialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		Initialize(config.LoggerConfig{Level: "info"}, &syncBuffer{})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
