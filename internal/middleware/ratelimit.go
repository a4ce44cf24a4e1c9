package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "plughub/internal/errors"
	"plughub/internal/kv"
)

// clientIdleTTL is how long an unused per-client limiter is kept
const clientIdleTTL = 10 * time.Minute

// RateLimiter is a single token bucket shared by every request
type RateLimiter struct {
	limiter      *rate.Limiter
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewRateLimiter creates a new rate limiter with logging
func NewRateLimiter(rps float64, burst int, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("component", "rate_limiter")),
	}
}

// Handler implements rate limiting middleware
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter.Allow() {
			rl.logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("scope", "global"),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			tooMany(w, r, rl.errorHandler, retryAfter(rl.limiter.Limit()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter keeps one token bucket per client address
type ClientRateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time

	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewClientRateLimiter creates a per-client limiter
func NewClientRateLimiter(rps float64, burst int, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *ClientRateLimiter {
	return &ClientRateLimiter{
		clients:      make(map[string]*clientLimiter),
		rps:          rate.Limit(rps),
		burst:        burst,
		now:          time.Now,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("component", "client_rate_limiter")),
	}
}

// WithClock replaces the time source
func (c *ClientRateLimiter) WithClock(now func() time.Time) *ClientRateLimiter {
	c.now = now
	return c
}

// Allow reports whether client may proceed now
func (c *ClientRateLimiter) Allow(client string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) > clientIdleTTL {
		for k, cl := range c.clients {
			if now.Sub(cl.lastSeen) > clientIdleTTL {
				delete(c.clients, k)
			}
		}
		c.lastSweep = now
	}

	cl, ok := c.clients[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(c.rps, c.burst)}
		c.clients[client] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Handler implements per-client rate limiting middleware
func (c *ClientRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !c.Allow(ip) {
			c.logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("scope", "client"),
				slog.String("client_ip", ip),
				slog.String("path", r.URL.Path),
			)
			tooMany(w, r, c.errorHandler, retryAfter(c.rps))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WindowLimiter counts requests per client in fixed windows held in a shared
// counter, so several server instances enforce one limit
type WindowLimiter struct {
	counter kv.Counter
	scope   string
	limit   int64
	window  time.Duration

	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewWindowLimiter allows limit requests per window for each client under scope
func NewWindowLimiter(counter kv.Counter, scope string, limit int, window time.Duration, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *WindowLimiter {
	return &WindowLimiter{
		counter:      counter,
		scope:        scope,
		limit:        int64(limit),
		window:       window,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("component", "window_limiter")),
	}
}

// Handler implements the windowed limit. Counter failures let the request
// through; the in-process limiters still apply.
func (l *WindowLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := ClientIP(r)

		n, err := l.counter.IncrWithExpiry(ctx, kv.RateLimitKey(l.scope, ip), l.window)
		if err != nil {
			l.logger.WarnContext(ctx, "rate limit counter unavailable",
				slog.String("scope", l.scope),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}
		if n > l.limit {
			l.logger.WarnContext(ctx, "rate limit exceeded",
				slog.String("scope", l.scope),
				slog.String("client_ip", ip),
				slog.Int64("count", n),
			)
			tooMany(w, r, l.errorHandler, l.window)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfter(limit rate.Limit) time.Duration {
	if limit <= 0 || limit == rate.Inf {
		return time.Second
	}
	return time.Duration(float64(time.Second) / float64(limit))
}

func tooMany(w http.ResponseWriter, r *http.Request, h *apierrors.ErrorHandler, after time.Duration) {
	secs := int(math.Ceil(after.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	h.HandleError(w, r, apierrors.ErrRateLimitExceeded)
}
