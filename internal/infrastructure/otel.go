package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
)

const (
	ServiceName    = "voxagent"
	ServiceVersion = "1.0.0"
)

// OTelProviders bundles the process metrics provider, a meter factory,
// and the HTTP handler serving the Prometheus scrape endpoint.
type OTelProviders struct {
	MeterProvider  *sdkmetric.MeterProvider
	PrometheusHTTP http.Handler
	logger         *slog.Logger
}

// InitializeOTel sets up the OpenTelemetry metrics pipeline with a
// Prometheus exporter and installs it as the global meter provider.
func InitializeOTel(logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	logger.Info("metrics pipeline initialized",
		slog.String("service", ServiceName),
		slog.String("exporter", "prometheus"),
	)

	return &OTelProviders{
		MeterProvider:  provider,
		PrometheusHTTP: promhttp.Handler(),
		logger:         logger,
	}, nil
}

// Meter returns a named meter from the provider.
func (p *OTelProviders) Meter(name string) metric.Meter {
	return p.MeterProvider.Meter(name)
}

// Shutdown flushes and stops the metrics pipeline.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if err := p.MeterProvider.Shutdown(ctx); err != nil {
		p.logger.Warn("metrics provider shutdown failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}
