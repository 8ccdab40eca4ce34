// auth/token_store.go
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisTokenStore implements TokenStore using Redis
type RedisTokenStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// NewRedisTokenStore creates a new Redis-backed token store
func NewRedisTokenStore(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisTokenStore {
	return &RedisTokenStore{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		now:     time.Now,
	}
}

// key generates the Redis key for the shared token
func (s *RedisTokenStore) key() string {
	return fmt.Sprintf("%s:token:%s", s.prefix, GlobalTokenKey)
}

func (s *RedisTokenStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Get retrieves the shared token
func (s *RedisTokenStore) Get(ctx context.Context) (*SharedToken, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return decodeToken(data)
}

// Upsert stores the shared token unconditionally
func (s *RedisTokenStore) Upsert(ctx context.Context, token *SharedToken) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	token.UpdatedAt = s.now()
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	// No TTL: the record outlives the access token and is only ever superseded.
	if err := s.client.Set(ctx, s.key(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// CompareAndSwap writes next only if the stored refresh token is unchanged
func (s *RedisTokenStore) CompareAndSwap(ctx context.Context, expectedRefreshToken string, next *SharedToken) error {
	_, err := s.update(ctx, func(current *SharedToken) (*SharedToken, error) {
		if current.RefreshToken != expectedRefreshToken {
			return nil, ErrTokenConflict
		}
		return next, nil
	})
	return err
}

// Update applies mutate to the stored token under WATCH
func (s *RedisTokenStore) Update(ctx context.Context, mutate func(*SharedToken)) (*SharedToken, error) {
	return s.update(ctx, func(current *SharedToken) (*SharedToken, error) {
		mutate(current)
		return current, nil
	})
}

func (s *RedisTokenStore) update(ctx context.Context, fn func(*SharedToken) (*SharedToken, error)) (*SharedToken, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := s.key()
	var written *SharedToken
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrTokenNotFound
			}
			return err
		}
		current, err := decodeToken(data)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		next.UpdatedAt = s.now()
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal token: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err
		}
		written = next
		return nil
	}, key)

	switch {
	case err == nil:
		return written, nil
	case errors.Is(err, redis.TxFailedErr):
		return nil, ErrTokenConflict
	case errors.Is(err, ErrTokenConflict), errors.Is(err, ErrTokenNotFound):
		return nil, err
	default:
		return nil, fmt.Errorf("failed to update token: %w", err)
	}
}

func decodeToken(data []byte) (*SharedToken, error) {
	var token SharedToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// RedisStateStore keeps OAuth states in Redis with a TTL
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStateStore(client redis.UniversalClient, prefix string) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: prefix}
}

func (s *RedisStateStore) key(state string) string {
	return fmt.Sprintf("%s:oauth_state:%s", s.prefix, state)
}

func (s *RedisStateStore) Save(ctx context.Context, state, userID string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.key(state), userID, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	if !ok {
		return errors.New("oauth state collision")
	}
	return nil
}

func (s *RedisStateStore) Consume(ctx context.Context, state string) (string, error) {
	userID, err := s.client.GetDel(ctx, s.key(state)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrStateNotFound
		}
		return "", fmt.Errorf("failed to read oauth state: %w", err)
	}
	return userID, nil
}
