package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/telemetry"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

func TestNewProvider(t *testing.T) {
	log := logger.New("error", "json", "stdout")

	t.Run("no_endpoint_is_noop", func(t *testing.T) {
		p, err := telemetry.NewProvider(context.Background(), &config.TelemetryConfig{ServiceName: "access-service"}, log)
		require.NoError(t, err)
		require.NotNil(t, p.TracerProvider)
		assert.NoError(t, p.Shutdown(context.Background()))
	})

	t.Run("endpoint_without_host", func(t *testing.T) {
		_, err := telemetry.NewProvider(context.Background(), &config.TelemetryConfig{OTLPEndpoint: "http://"}, log)
		assert.Error(t, err)
	})
}
