// auth/token_store_fallback.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FallbackTokenStore serves the last known token from memory while the
// primary store is unhealthy. Writes always go to the primary: a refresh that
// was not durably persisted is never handed out.
type FallbackTokenStore struct {
	primary     TokenStore
	healthCheck func() bool
	log         *zap.Logger

	mu    sync.RWMutex
	local *SharedToken
}

// NewFallbackTokenStore wraps primary with a local read cache
func NewFallbackTokenStore(primary TokenStore, healthCheck func() bool, log *zap.Logger) *FallbackTokenStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackTokenStore{
		primary:     primary,
		healthCheck: healthCheck,
		log:         log.Named("auth.token_store"),
	}
}

func (s *FallbackTokenStore) remember(token *SharedToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == nil {
		s.local = nil
		return
	}
	cp := *token
	s.local = &cp
}

func (s *FallbackTokenStore) cached() (*SharedToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.local == nil {
		return nil, false
	}
	cp := *s.local
	return &cp, true
}

// Get tries the primary first when healthy, falling back to the local copy
func (s *FallbackTokenStore) Get(ctx context.Context) (*SharedToken, error) {
	if s.healthCheck() {
		token, err := s.primary.Get(ctx)
		if err == nil {
			s.remember(token)
			return token, nil
		}
		if errors.Is(err, ErrTokenNotFound) {
			s.remember(nil)
			return nil, err
		}
		s.log.Warn("primary token store read failed, using local copy", zap.Error(err))
	}

	if token, ok := s.cached(); ok {
		return token, nil
	}
	return nil, fmt.Errorf("token store unavailable and no local copy")
}

func (s *FallbackTokenStore) Upsert(ctx context.Context, token *SharedToken) error {
	if err := s.primary.Upsert(ctx, token); err != nil {
		return err
	}
	s.remember(token)
	return nil
}

func (s *FallbackTokenStore) CompareAndSwap(ctx context.Context, expectedRefreshToken string, next *SharedToken) error {
	if err := s.primary.CompareAndSwap(ctx, expectedRefreshToken, next); err != nil {
		if errors.Is(err, ErrTokenConflict) {
			s.remember(nil)
		}
		return err
	}
	s.remember(next)
	return nil
}

func (s *FallbackTokenStore) Update(ctx context.Context, mutate func(*SharedToken)) (*SharedToken, error) {
	token, err := s.primary.Update(ctx, mutate)
	if err != nil {
		return nil, err
	}
	s.remember(token)
	return token, nil
}

// StartSyncRoutine periodically reloads the local copy from the primary
func (s *FallbackTokenStore) StartSyncRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.healthCheck() {
					continue
				}
				token, err := s.primary.Get(ctx)
				switch {
				case err == nil:
					s.remember(token)
				case errors.Is(err, ErrTokenNotFound):
					s.remember(nil)
				default:
					s.log.Warn("token sync failed", zap.Error(err))
				}
			}
		}
	}()
}
