package infrastructure

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"plughub/internal/config"
)

func TestInitializeOTel_Prometheus(t *testing.T) {
	cfg := config.Default().Telemetry
	providers, err := InitializeOTel(cfg, DiscardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	require.NotNil(t, providers.PrometheusHTTP)
	require.NoError(t, RegisterRuntimeMetrics(providers.Meter, time.Now()))

	httpMetrics, err := NewHTTPMetrics(providers.Meter)
	require.NoError(t, err)
	httpMetrics.RequestsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("route", "/license/verify")))

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), "http_requests_total")
	assert.Contains(t, string(body), "system_goroutines")
}

func TestInitializeOTel_Disabled(t *testing.T) {
	cfg := config.TelemetryConfig{ServiceName: "plughub", TraceExporter: "none", MetricExporter: "none"}
	providers, err := InitializeOTel(cfg, DiscardLogger())
	require.NoError(t, err)

	assert.Nil(t, providers.PrometheusHTTP)
	assert.Nil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Tracer)

	_, err = NewHTTPMetrics(providers.Meter)
	assert.NoError(t, err)
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestInitializeOTel_UnsupportedExporter(t *testing.T) {
	_, err := InitializeOTel(config.TelemetryConfig{TraceExporter: "zipkin"}, DiscardLogger())
	assert.Error(t, err)

	_, err = InitializeOTel(config.TelemetryConfig{MetricExporter: "statsd"}, DiscardLogger())
	assert.Error(t, err)
}
