// Package heartbeat re-verifies every registered plugin on a fixed interval,
// records each check in an activity log and tells the site administrator
// when a license needs attention.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"plughub/internal/config"
	"plughub/internal/infrastructure"
	"plughub/internal/kv"
	"plughub/pkg/contracts/domain"
)

// pruneMarkerKey throttles log pruning to once per PruneInterval
const pruneMarkerKey = "heartbeat:pruned"

// Checker performs an uncached license check
type Checker interface {
	ForceCheck(ctx context.Context, slug string) domain.VerificationResult
}

// Scheduler runs periodic license checks for registered plugins
type Scheduler struct {
	cfg            config.HeartbeatConfig
	checker        Checker
	activity       ActivityLog
	notifier       Notifier
	state          kv.Store
	logger         *slog.Logger
	now            func() time.Time
	siteDomain     string
	remediationURL string

	mu      sync.RWMutex
	plugins map[string]struct{}
}

// NewScheduler creates a scheduler for the plugins listed in cfg
func NewScheduler(cfg config.HeartbeatConfig, checker Checker, activity ActivityLog, notifier Notifier, state kv.Store, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		checker:  checker,
		activity: activity,
		notifier: notifier,
		state:    state,
		logger:   logger.With(slog.String("component", "heartbeat")),
		now:      time.Now,
		plugins:  make(map[string]struct{}),
	}
	for _, slug := range cfg.Plugins {
		s.Register(slug)
	}
	return s
}

// WithClock replaces the time source
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// WithSite sets the site domain and remediation link quoted in notices
func (s *Scheduler) WithSite(siteDomain, remediationURL string) *Scheduler {
	s.siteDomain = siteDomain
	s.remediationURL = remediationURL
	return s
}

// Register adds a plugin to the schedule
func (s *Scheduler) Register(slug string) {
	if slug == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[slug] = struct{}{}
}

// Unregister removes a plugin from the schedule
func (s *Scheduler) Unregister(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plugins, slug)
}

// Plugins returns the registered slugs in sorted order
func (s *Scheduler) Plugins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.plugins))
	for slug := range s.plugins {
		out = append(out, slug)
	}
	slices.Sort(out)
	return out
}

// Run checks immediately and then every Interval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "heartbeat started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("plugins", len(s.Plugins())))

	s.runLogged(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "heartbeat stopped")
			return nil
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.ErrorContext(ctx, "heartbeat run failed", slog.String("error", err.Error()))
	}
}

// RunOnce checks every registered plugin once and prunes the activity log
// when due
func (s *Scheduler) RunOnce(ctx context.Context) error {
	// one trace id per run ties its log lines together
	ctx = infrastructure.EnsureTraceID(ctx)
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(max(s.cfg.Concurrency, 1))
	for _, slug := range s.Plugins() {
		g.Go(func() error {
			if err := s.check(ctx, slug); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", slug, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}

	if err := s.maybePrune(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) check(ctx context.Context, slug string) error {
	result := s.checker.ForceCheck(ctx, slug)
	if errors.Is(ctx.Err(), context.Canceled) {
		// shutting down mid-check says nothing about the license
		return nil
	}
	healthy := result.Valid && result.Reason != domain.ReasonGracePeriod

	entry := Entry{
		Time:    s.now().UTC(),
		Level:   "info",
		Message: result.Reason.Message(),
		Plugin:  slug,
		Outcome: OutcomeSuccess,
		Reason:  string(result.Reason),
	}
	if !healthy {
		entry.Level = "warn"
		entry.Outcome = OutcomeFailure
		entry.Context = map[string]any{"valid": result.Valid}
		if result.DaysRemaining != nil {
			entry.Context["days_remaining"] = *result.DaysRemaining
		}
	}

	var errs []error
	if err := s.activity.Append(ctx, entry); err != nil {
		errs = append(errs, err)
	}
	if !healthy {
		if err := s.notifyOnce(ctx, slug, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// notifyOnce sends at most one notice per plugin per NotifyWindow
func (s *Scheduler) notifyOnce(ctx context.Context, slug string, result domain.VerificationResult) error {
	_, notified, err := s.state.Get(ctx, kv.NotifiedKey(slug))
	if err != nil {
		return fmt.Errorf("read notify marker: %w", err)
	}
	if notified {
		return nil
	}

	notice := Notice{
		PluginSlug:     slug,
		SiteDomain:     s.siteDomain,
		Reason:         result.Reason,
		Message:        result.Reason.Message(),
		Remediation:    result.Reason.Remediation(),
		RemediationURL: s.remediationURL,
		DaysRemaining:  result.DaysRemaining,
		Time:           s.now().UTC(),
	}
	if err := s.notifier.Notify(ctx, notice); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	stamp := []byte(notice.Time.Format(time.RFC3339))
	if err := s.state.Set(ctx, kv.NotifiedKey(slug), stamp, s.cfg.NotifyWindow); err != nil {
		return fmt.Errorf("write notify marker: %w", err)
	}
	return nil
}

func (s *Scheduler) maybePrune(ctx context.Context) error {
	_, pruned, err := s.state.Get(ctx, pruneMarkerKey)
	if err != nil {
		return fmt.Errorf("read prune marker: %w", err)
	}
	if pruned {
		return nil
	}

	now := s.now().UTC()
	removed, err := s.activity.Prune(ctx, now.Add(-s.cfg.LogRetention))
	if err != nil {
		return fmt.Errorf("prune activity log: %w", err)
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "activity log pruned", slog.Int("removed", removed))
	}
	return s.state.Set(ctx, pruneMarkerKey, []byte(now.Format(time.RFC3339)), config.PruneInterval)
}
