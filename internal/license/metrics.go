package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"plughub/pkg/contracts/domain"
)

// LicenseMetrics holds all license-specific OpenTelemetry metrics. It is
// shared by the server components and the site agent.
type LicenseMetrics struct {
	// Activation metrics
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram
	Deactivations      metric.Int64Counter

	// Verification metrics
	VerificationChecks   metric.Int64Counter
	VerificationDuration metric.Float64Histogram
	CacheHits            metric.Int64Counter
	CacheMisses          metric.Int64Counter

	// Grace and security metrics
	GraceEntries   metric.Int64Counter
	SecurityEvents metric.Int64Counter
	KillSwitchHits metric.Int64Counter
}

// NewLicenseMetrics creates all license-specific metrics
func NewLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	m := &LicenseMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ActivationAttempts, "license_activation_attempts_total", "Total number of activation attempts"},
		{&m.ActivationSuccess, "license_activation_success_total", "Total number of successful activations"},
		{&m.ActivationFailures, "license_activation_failures_total", "Total number of rejected activations by reason"},
		{&m.Deactivations, "license_deactivations_total", "Total number of deactivations"},
		{&m.VerificationChecks, "license_verification_checks_total", "Total number of plugin verifications by reason"},
		{&m.CacheHits, "license_cache_hits_total", "Total number of verification cache hits"},
		{&m.CacheMisses, "license_cache_misses_total", "Total number of verification cache misses"},
		{&m.GraceEntries, "license_grace_entries_total", "Total number of plugins entering a grace period"},
		{&m.SecurityEvents, "license_security_events_total", "Total number of integrity failures"},
		{&m.KillSwitchHits, "license_killswitch_blocked_total", "Total number of kill-switch checks answered blocked"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("Activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	m.VerificationDuration, err = meter.Float64Histogram(
		"license_verification_duration_seconds",
		metric.WithDescription("Verification duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification duration histogram: %w", err)
	}

	return m, nil
}

// NoopMetrics returns metrics bound to a no-op meter
func NoopMetrics() *LicenseMetrics {
	m, _ := NewLicenseMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

// RecordVerification counts one verification outcome
func (m *LicenseMetrics) RecordVerification(ctx context.Context, reason domain.Reason, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("reason", string(reason)),
		attribute.String("class", reason.Class().String()),
	)
	m.VerificationChecks.Add(ctx, 1, attrs)
	m.VerificationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// RecordSecurityEvent counts an integrity failure
func (m *LicenseMetrics) RecordSecurityEvent(ctx context.Context, kind string) {
	m.SecurityEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
