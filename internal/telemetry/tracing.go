// Package telemetry configures OpenTelemetry tracing for the access service.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
)

// Provider holds the tracer provider and its shutdown function.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	Shutdown       func(context.Context) error
}

// NewProvider creates a TracerProvider exporting over OTLP gRPC to
// cfg.OTLPEndpoint. The endpoint may be host:port or a URL; only host:port is
// dialed. With no endpoint the provider records nothing and Shutdown is a no-op.
func NewProvider(ctx context.Context, cfg *config.TelemetryConfig, logger *logrus.Logger) (*Provider, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		return &Provider{
			TracerProvider: sdktrace.NewTracerProvider(),
			Shutdown:       func(context.Context) error { return nil },
		}, nil
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(u.Host)}
	if cfg.Insecure || u.Scheme != "https" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	logger.WithFields(logrus.Fields{
		"endpoint":     u.Host,
		"service_name": cfg.ServiceName,
	}).Info("OpenTelemetry tracing enabled")

	return &Provider{
		TracerProvider: tp,
		Shutdown: func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil {
				logger.WithError(err).Warn("Failed to shut down tracer provider")
				return err
			}
			return nil
		},
	}, nil
}

// SetGlobal installs the tracer provider as the global one.
func (p *Provider) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
}
