// Package secrets caches third-party API credentials fetched from a secret
// store or the environment so requests do not pay a remote call each time.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 5 * time.Minute
	// DefaultTimeout bounds a single fetch when WithTimeout is not given.
	DefaultTimeout = 10 * time.Second
)

var ErrSecretNotFound = errors.New("secret not found")

// Source fetches the raw value of a named secret.
type Source interface {
	Fetch(ctx context.Context, name string) (string, error)
}

type entry struct {
	value     string
	parsed    map[string]any
	expiresAt time.Time
}

// Cache is a per-process TTL cache in front of a Source. Entries are never
// evicted, only superseded when they expire or are invalidated.
type Cache struct {
	source  Source
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTimeout bounds each fetch against the source.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewCache(source Source, ttl time.Duration, log *zap.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{
		source:  source,
		ttl:     ttl,
		timeout: DefaultTimeout,
		now:     time.Now,
		log:     log.Named("secrets.cache"),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value of name, fetching it when missing or expired.
func (c *Cache) Get(ctx context.Context, name string) (string, error) {
	e, err := c.load(ctx, name)
	if err != nil {
		return "", err
	}
	return e.value, nil
}

// Field returns one top-level string field of a JSON secret.
func (c *Cache) Field(ctx context.Context, name, field string) (string, error) {
	e, err := c.load(ctx, name)
	if err != nil {
		return "", err
	}
	if e.parsed == nil {
		return "", fmt.Errorf("secret %s is not a JSON object", name)
	}
	s, ok := e.parsed[field].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("secret %s has no field %q", name, field)
	}
	return s, nil
}

// Invalidate drops the named entries, or every entry when no name is given.
func (c *Cache) Invalidate(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(names) == 0 {
		c.entries = make(map[string]entry)
		return
	}
	for _, n := range names {
		delete(c.entries, n)
	}
}

func (c *Cache) load(ctx context.Context, name string) (entry, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e, nil
	}

	// Shared by every caller waiting on name; detached from the first one.
	ch := c.group.DoChan(name, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		raw, err := c.source.Fetch(fetchCtx, name)
		if err != nil {
			return entry{}, fmt.Errorf("fetch secret %s: %w", name, err)
		}

		fresh := entry{value: raw, expiresAt: c.now().Add(c.ttl)}
		var parsed map[string]any
		if json.Unmarshal([]byte(raw), &parsed) == nil {
			fresh.parsed = parsed
		}

		c.mu.Lock()
		c.entries[name] = fresh
		c.mu.Unlock()

		c.log.Debug("secret refreshed", zap.String("name", name), zap.Time("expires_at", fresh.expiresAt))
		return fresh, nil
	})
	select {
	case <-ctx.Done():
		return entry{}, fmt.Errorf("fetch secret %s: %w", name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return entry{}, res.Err
		}
		return res.Val.(entry), nil
	}
}
