package logger_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		level         string
		format        string
		expectedLevel logrus.Level
		jsonFormatter bool
	}{
		{name: "debug_json", level: "debug", format: "json", expectedLevel: logrus.DebugLevel, jsonFormatter: true},
		{name: "warn_text", level: "WARN", format: "text", expectedLevel: logrus.WarnLevel},
		{name: "invalid_level_defaults_to_info", level: "loud", format: "json", expectedLevel: logrus.InfoLevel, jsonFormatter: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := logger.New(tt.level, tt.format, "stdout")

			assert.Equal(t, tt.expectedLevel, log.GetLevel())
			_, isJSON := log.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.jsonFormatter, isJSON)
		})
	}
}

func TestNewWithConfig_DualOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")

	log := logger.NewWithConfig(&config.LoggingConfig{
		Level:            "info",
		ConsoleFormat:    "text",
		FileFormat:       "json",
		FilePath:         path,
		EnableDualOutput: true,
	})
	log.SetOutput(os.Stderr)

	log.WithField("code_id", "abc").Info("redeemed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"redeemed"`)
	assert.Contains(t, string(data), `"code_id":"abc"`)
}

func TestCorrelationID(t *testing.T) {
	log := logger.New("debug", "json", "stdout")

	t.Run("absent", func(t *testing.T) {
		assert.Empty(t, logger.GetCorrelationID(context.Background()))
		entry := logger.WithCorrelationID(context.Background(), log)
		assert.NotContains(t, entry.Data, "correlation_id")
	})

	t.Run("present", func(t *testing.T) {
		ctx := logger.SetCorrelationID(context.Background(), "corr-123")
		assert.Equal(t, "corr-123", logger.GetCorrelationID(ctx))
		entry := logger.WithCorrelationID(ctx, log)
		assert.Equal(t, "corr-123", entry.Data["correlation_id"])
	})
}
