package services

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"plughub/pkg/contracts"
)

// Health states reported by the checks
const (
	StatusOK       = "ok"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
	StatusAlive    = "alive"
	StatusDown     = "down"
)

// dependencyTimeout bounds a single readiness probe
const dependencyTimeout = 2 * time.Second

// Pinger is a dependency probed for readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]any           `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual dependency health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthService provides health check functionality
type HealthService struct {
	deps      map[string]Pinger
	startTime time.Time
	logger    *slog.Logger
	now       func() time.Time
}

// NewHealthService creates a health service probing deps by name
func NewHealthService(deps map[string]Pinger, logger *slog.Logger) *HealthService {
	return &HealthService{
		deps:      deps,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health")),
		now:       time.Now,
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusOK,
		Timestamp: hs.now(),
		Version:   contracts.Version,
	}
}

// ReadinessCheck pings every dependency concurrently
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusReady,
		Timestamp: hs.now(),
		Version:   contracts.Version,
		Services:  make(map[string]ServiceHealth, len(hs.deps)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for name, dep := range hs.deps {
		g.Go(func() error {
			h := hs.probe(gctx, name, dep)
			mu.Lock()
			status.Services[name] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, h := range status.Services {
		if h.Status != StatusReady {
			status.Status = StatusNotReady
			break
		}
	}
	return status
}

func (hs *HealthService) probe(ctx context.Context, name string, dep Pinger) ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, dependencyTimeout)
	defer cancel()

	start := time.Now()
	if err := dep.Ping(ctx); err != nil {
		hs.logger.WarnContext(ctx, "dependency not ready",
			slog.String("dependency", name),
			slog.String("error", err.Error()),
		)
		return ServiceHealth{Status: StatusDown, Message: err.Error()}
	}
	return ServiceHealth{Status: StatusReady, Latency: time.Since(start).String()}
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusAlive,
		Timestamp: hs.now(),
		Version:   contracts.Version,
		Runtime: map[string]any{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns build information and uptime
func (hs *HealthService) Version() map[string]any {
	info := contracts.GetVersionInfo()
	deps := make([]string, 0, len(hs.deps))
	for name := range hs.deps {
		deps = append(deps, name)
	}
	sort.Strings(deps)

	return map[string]any{
		"version":      info.Version,
		"api_version":  info.APIVersion,
		"build_time":   info.BuildTime,
		"git_commit":   info.GitCommit,
		"go_version":   info.GoVersion,
		"os":           info.OS,
		"arch":         info.Architecture,
		"dependencies": deps,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
	}
}
