// infrastructure/redis/healthcheck.go
package redis

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HealthChecker tracks whether Redis is reachable. Pings go through a circuit
// breaker so a dead server is not hammered while it is open.
type HealthChecker struct {
	client         redis.UniversalClient
	circuitBreaker *gobreaker.CircuitBreaker
	checkInterval  time.Duration
	log            *zap.Logger

	mu     sync.RWMutex
	status bool
}

// NewHealthChecker creates a checker; call Start to begin periodic pings.
func NewHealthChecker(client redis.UniversalClient, checkInterval time.Duration, log *zap.Logger) *HealthChecker {
	if log == nil {
		log = zap.NewNop()
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	h := &HealthChecker{
		client:        client,
		checkInterval: checkInterval,
		log:           log.Named("redis.health"),
	}
	h.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.log.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return h
}

// IsHealthy returns the result of the most recent check.
func (h *HealthChecker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Check pings Redis and records the outcome.
func (h *HealthChecker) Check(ctx context.Context) bool {
	result, err := h.circuitBreaker.Execute(func() (interface{}, error) {
		return h.client.Ping(ctx).Result()
	})
	healthy := err == nil && result.(string) == "PONG"

	h.mu.Lock()
	changed := h.status != healthy
	h.status = healthy
	h.mu.Unlock()

	if changed {
		if healthy {
			h.log.Info("redis reachable")
		} else {
			h.log.Warn("redis unreachable", zap.Error(err))
		}
	}
	return healthy
}

// Start checks once synchronously, then every interval until ctx is done.
func (h *HealthChecker) Start(ctx context.Context) {
	h.checkWithTimeout(ctx)
	go func() {
		ticker := time.NewTicker(h.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.checkWithTimeout(ctx)
			}
		}
	}()
}

func (h *HealthChecker) checkWithTimeout(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	h.Check(ctx)
}
