// Package kv is the key-value persistence used for cached verification
// results, grace state and notification markers. The server runs it on Redis;
// the agent uses a JSON state file or, when configured, Redis as well.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotCounter is returned when a wrapped store cannot count
var ErrNotCounter = errors.New("store does not support counters")

// Store is the caching interface. Implementations must be safe for concurrent use.
// A zero ttl means the entry never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Counter is a windowed counter used for distributed rate limits
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

func VerifyKey(slug string) string {
	return fmt.Sprintf("verify:%s", slug)
}

func LastValidKey(slug string) string {
	return fmt.Sprintf("lastvalid:%s", slug)
}

func GraceKey(slug string) string {
	return fmt.Sprintf("grace:%s", slug)
}

func NotifiedKey(slug string) string {
	return fmt.Sprintf("notified:%s", slug)
}

func PluginKey(slug string) string {
	return fmt.Sprintf("plugin:%s", slug)
}

func RateLimitKey(scope, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, client)
}

// Prefixed namespaces every key of an underlying store
type Prefixed struct {
	Store  Store
	Prefix string
}

func (p Prefixed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.Store.Get(ctx, p.Prefix+key)
}

func (p Prefixed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.Store.Set(ctx, p.Prefix+key, value, ttl)
}

func (p Prefixed) Delete(ctx context.Context, key string) error {
	return p.Store.Delete(ctx, p.Prefix+key)
}

// IncrWithExpiry forwards to the wrapped store when it is a Counter
func (p Prefixed) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	c, ok := p.Store.(Counter)
	if !ok {
		return 0, ErrNotCounter
	}
	return c.IncrWithExpiry(ctx, p.Prefix+key, expiry)
}
