package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestForEnvironment(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		override   Config
		wantFormat string
		wantLevel  string
	}{
		{"development defaults", "development", Config{}, "console", "info"},
		{"production defaults", "production", Config{}, "json", "info"},
		{"override level", "production", Config{Level: "debug"}, "json", "debug"},
		{"override format", "development", Config{Format: "json"}, "json", "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ForEnvironment(tt.env, tt.override)
			assert.Equal(t, tt.wantFormat, cfg.Format)
			assert.Equal(t, tt.wantLevel, cfg.Level)
			assert.Equal(t, "stdout", cfg.Output)
			assert.NotEmpty(t, cfg.TimeFormat)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		logger, err := New(DefaultConfig())
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "cartsync.log")
		cfg := ProductionConfig()
		cfg.Output = path

		logger, err := New(cfg)
		require.NoError(t, err)
		logger.Info("cycle finished", zap.Int("added", 2))
		require.NoError(t, logger.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"cycle finished"`)
	})
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(ProductionConfig(), zapcore.DebugLevel, zapcore.AddSync(&buf))

	logger.Named("resolver").Info("item resolved",
		zap.String("item", "milk"),
		zap.String("cycle_id", "c-1"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "resolver", entry["logger"])
	assert.Equal(t, "item resolved", entry["msg"])
	assert.Equal(t, "milk", entry["item"])
	assert.Equal(t, "c-1", entry["cycle_id"])
	assert.Contains(t, entry, "caller")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(ProductionConfig(), zapcore.WarnLevel, zapcore.AddSync(&buf))

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
