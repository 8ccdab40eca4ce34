package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleToken(issuedAt time.Time) *SharedToken {
	return &SharedToken{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		RealmID:      "realm-1",
		IssuedAt:     issuedAt,
		ExpiresIn:    3600,
	}
}

func TestRedisTokenStore_GetMissing(t *testing.T) {
	_, client := newRedis(t)
	store := NewRedisTokenStore(client, "test", time.Second)

	_, err := store.Get(context.Background())
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRedisTokenStore_UpsertAndGet(t *testing.T) {
	mr, client := newRedis(t)
	store := NewRedisTokenStore(client, "test", time.Second)
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(context.Background(), sampleToken(issued)))
	assert.True(t, mr.Exists("test:token:global"))

	got, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "realm-1", got.RealmID)
	assert.True(t, got.IssuedAt.Equal(issued))
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestRedisTokenStore_CompareAndSwap(t *testing.T) {
	_, client := newRedis(t)
	store := NewRedisTokenStore(client, "test", time.Second)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, sampleToken(time.Now())))

	next := sampleToken(time.Now())
	next.AccessToken = "access-2"
	next.RefreshToken = "refresh-2"

	require.NoError(t, store.CompareAndSwap(ctx, "refresh-1", next))

	// the old refresh token no longer matches
	stale := sampleToken(time.Now())
	stale.AccessToken = "access-stale"
	err := store.CompareAndSwap(ctx, "refresh-1", stale)
	assert.ErrorIs(t, err, ErrTokenConflict)

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.AccessToken)
}

func TestRedisTokenStore_CompareAndSwapMissing(t *testing.T) {
	_, client := newRedis(t)
	store := NewRedisTokenStore(client, "test", time.Second)

	err := store.CompareAndSwap(context.Background(), "x", sampleToken(time.Now()))
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRedisTokenStore_Update(t *testing.T) {
	_, client := newRedis(t)
	store := NewRedisTokenStore(client, "test", time.Second)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, sampleToken(time.Now())))

	got, err := store.Update(ctx, func(tok *SharedToken) {
		tok.AccessToken = ""
		tok.RefreshToken = ""
	})
	require.NoError(t, err)
	assert.True(t, got.Revoked())
	assert.Equal(t, "realm-1", got.RealmID)

	stored, err := store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, stored.Revoked())
}

func TestRedisStateStore(t *testing.T) {
	mr, client := newRedis(t)
	states := NewRedisStateStore(client, "test")
	ctx := context.Background()

	require.NoError(t, states.Save(ctx, "abc", "user-1", time.Minute))
	assert.Error(t, states.Save(ctx, "abc", "user-2", time.Minute))

	userID, err := states.Consume(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = states.Consume(ctx, "abc")
	assert.ErrorIs(t, err, ErrStateNotFound)

	require.NoError(t, states.Save(ctx, "ttl", "user-1", time.Minute))
	mr.FastForward(2 * time.Minute)
	_, err = states.Consume(ctx, "ttl")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestSharedToken_Expired(t *testing.T) {
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := sampleToken(issued)

	assert.False(t, tok.Expired(issued.Add(3569*time.Second), DefaultExpiryMargin))
	assert.True(t, tok.Expired(issued.Add(3570*time.Second), DefaultExpiryMargin))
	assert.True(t, tok.Expired(issued.Add(2*time.Hour), DefaultExpiryMargin))

	tok.IssuedAt = time.Time{}
	tok.ExpiresIn = 0
	assert.True(t, tok.Expired(issued, DefaultExpiryMargin))
}

func TestFallbackTokenStore(t *testing.T) {
	mr, client := newRedis(t)
	primary := NewRedisTokenStore(client, "test", time.Second)
	healthy := true
	store := NewFallbackTokenStore(primary, func() bool { return healthy }, nil)
	ctx := context.Background()

	_, err := store.Get(ctx)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, store.Upsert(ctx, sampleToken(time.Now())))

	// primary goes away: reads are served locally
	healthy = false
	mr.Close()
	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)

	// writes are not acknowledged without the primary
	assert.Error(t, store.Upsert(ctx, sampleToken(time.Now())))
}
