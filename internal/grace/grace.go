// Package grace keeps a site usable for a bounded time while the license
// server cannot be reached.
//
// Each plugin moves between three states. NORMAL has no stored state. GRACE
// starts on the first connection failure after a previously valid check and
// keeps the plugin enabled until the grace length elapses. BLOCKED follows an
// expired grace period or any license-class failure. A successful check
// always returns the plugin to NORMAL.
package grace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"plughub/internal/kv"
	"plughub/pkg/contracts/domain"
)

const day = 24 * time.Hour

// Manager tracks per-plugin grace state in a kv.Store
type Manager struct {
	store   kv.Store
	length  time.Duration
	logger  *slog.Logger
	now     func() time.Time
	entries metric.Int64Counter
}

// NewManager creates a manager with a grace period of length
func NewManager(store kv.Store, length time.Duration, logger *slog.Logger) *Manager {
	entries, _ := noop.NewMeterProvider().Meter("grace").Int64Counter("noop")
	return &Manager{
		store:   store,
		length:  length,
		logger:  logger.With(slog.String("component", "grace")),
		now:     time.Now,
		entries: entries,
	}
}

// WithClock replaces the time source
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithEntryCounter counts every new grace period on c
func (m *Manager) WithEntryCounter(c metric.Int64Counter) *Manager {
	m.entries = c
	return m
}

// Length returns the configured grace length
func (m *Manager) Length() time.Duration {
	return m.length
}

// HandleConnectionFailure decides the outcome of a check that failed with a
// connection-class reason. Without stored state and without a prior valid
// check the plugin fails closed.
func (m *Manager) HandleConnectionFailure(ctx context.Context, slug string, reason domain.Reason, hadPriorValid bool) (domain.VerificationResult, error) {
	now := m.now().UTC()

	state, found, err := m.State(ctx, slug)
	if err != nil {
		return domain.NewResult(slug, reason, now), err
	}
	if !found && !hadPriorValid {
		m.logger.WarnContext(ctx, "connection failure without prior valid check",
			slog.String("plugin_slug", slug), slog.String("reason", string(reason)))
		return domain.NewResult(slug, reason, now), nil
	}

	if !found {
		state = &domain.GraceState{PluginSlug: slug, StartedAt: now}
		m.entries.Add(ctx, 1, metric.WithAttributes(attribute.String("plugin_slug", slug)))
		m.logger.WarnContext(ctx, "grace period started",
			slog.String("plugin_slug", slug),
			slog.String("reason", string(reason)),
			slog.Duration("length", m.length))
	}
	state.FailureCount++
	state.LastReason = reason
	if err := m.save(ctx, state); err != nil {
		return domain.NewResult(slug, reason, now), err
	}

	elapsed := now.Sub(state.StartedAt)
	if elapsed >= m.length {
		m.logger.WarnContext(ctx, "grace period expired",
			slog.String("plugin_slug", slug),
			slog.Int("failure_count", state.FailureCount))
		result := domain.NewResult(slug, domain.ReasonGracePeriodExpired, now)
		result.FailureCount = state.FailureCount
		return result, nil
	}

	days := int(math.Ceil(float64(m.length-elapsed) / float64(day)))
	result := domain.NewResult(slug, domain.ReasonGracePeriod, now)
	result.DaysRemaining = &days
	result.FailureCount = state.FailureCount
	return result, nil
}

// RecordSuccess ends any grace period for slug
func (m *Manager) RecordSuccess(ctx context.Context, slug string) error {
	return m.clear(ctx, slug)
}

// RecordLicenseFailure ends any grace period and returns the blocking result
func (m *Manager) RecordLicenseFailure(ctx context.Context, slug string, reason domain.Reason) (domain.VerificationResult, error) {
	result := domain.NewResult(slug, reason, m.now().UTC())
	return result, m.clear(ctx, slug)
}

// State returns the stored grace state for slug, if any
func (m *Manager) State(ctx context.Context, slug string) (*domain.GraceState, bool, error) {
	data, found, err := m.store.Get(ctx, kv.GraceKey(slug))
	if err != nil || !found {
		return nil, false, err
	}
	var state domain.GraceState
	if err := json.Unmarshal(data, &state); err != nil {
		m.logger.WarnContext(ctx, "discarding unreadable grace state",
			slog.String("plugin_slug", slug), slog.String("error", err.Error()))
		return nil, false, m.clear(ctx, slug)
	}
	return &state, true, nil
}

func (m *Manager) save(ctx context.Context, state *domain.GraceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal grace state: %w", err)
	}
	if err := m.store.Set(ctx, kv.GraceKey(state.PluginSlug), data, 0); err != nil {
		return fmt.Errorf("save grace state: %w", err)
	}
	return nil
}

func (m *Manager) clear(ctx context.Context, slug string) error {
	if err := m.store.Delete(ctx, kv.GraceKey(slug)); err != nil {
		return fmt.Errorf("clear grace state: %w", err)
	}
	return nil
}
