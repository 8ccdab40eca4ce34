package secrets

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSource struct {
	calls atomic.Int32
	value string
	err   error
	delay time.Duration
}

func (s *countingSource) Fetch(ctx context.Context, name string) (string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.value, s.err
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCache_ServesFromCacheUntilTTL(t *testing.T) {
	src := &countingSource{value: "s3cr3t"}
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewCache(src, time.Minute, zap.NewNop(), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		v, err := c.Get(context.Background(), "hubspot")
		require.NoError(t, err)
		assert.Equal(t, "s3cr3t", v)
	}
	assert.EqualValues(t, 1, src.calls.Load())

	clock.Advance(61 * time.Second)
	_, err := c.Get(context.Background(), "hubspot")
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestCache_Invalidate(t *testing.T) {
	src := &countingSource{value: "v"}
	c := NewCache(src, time.Hour, nil)

	_, _ = c.Get(context.Background(), "a")
	_, _ = c.Get(context.Background(), "b")
	c.Invalidate("a")
	_, _ = c.Get(context.Background(), "a")
	_, _ = c.Get(context.Background(), "b")
	assert.EqualValues(t, 3, src.calls.Load())

	c.Invalidate()
	_, _ = c.Get(context.Background(), "b")
	assert.EqualValues(t, 4, src.calls.Load())
}

func TestCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	src := &countingSource{value: "v", delay: 50 * time.Millisecond}
	c := NewCache(src, time.Hour, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "qb")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestCache_FetchErrorIsNotCached(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	c := NewCache(src, time.Hour, nil)

	_, err := c.Get(context.Background(), "qb")
	require.Error(t, err)

	src.err = nil
	src.value = "ok"
	v, err := c.Get(context.Background(), "qb")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCache_JSONHelpers(t *testing.T) {
	src := &countingSource{value: `{"client_id":"abc","client_secret":"xyz"}`}
	c := NewCache(src, time.Hour, nil)

	id, err := c.Field(context.Background(), "qb", "client_id")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = c.Field(context.Background(), "qb", "missing")
	assert.Error(t, err)

	secret, err := c.Field(context.Background(), "qb", "client_secret")
	require.NoError(t, err)
	assert.Equal(t, "xyz", secret)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestCache_FieldOnPlainSecret(t *testing.T) {
	c := NewCache(&countingSource{value: "not-json"}, time.Hour, nil)
	_, err := c.Field(context.Background(), "hs", "token")
	assert.Error(t, err)
}

// blockingSource holds every fetch until release is closed.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (s *blockingSource) Fetch(ctx context.Context, name string) (string, error) {
	s.calls.Add(1)
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return "v", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestCache_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(src, time.Hour, nil, WithTimeout(5*time.Second))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Get(ctxA, "qb")
		errA <- err
	}()
	<-src.started

	type result struct {
		v   string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := c.Get(context.Background(), "qb")
		resB <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(src.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "v", b.v)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestEnvSource(t *testing.T) {
	s := &EnvSource{lookup: func(k string) (string, bool) {
		if k == "QB_CREDENTIALS" {
			return "val", true
		}
		return "", false
	}}
	v, err := s.Fetch(context.Background(), "qb-credentials")
	require.NoError(t, err)
	assert.Equal(t, "val", v)

	_, err = s.Fetch(context.Background(), "other")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

type fakeSecretsManager struct {
	out *secretsmanager.GetSecretValueOutput
	err error
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return f.out, f.err
}

func TestSecretsManagerSource(t *testing.T) {
	s := &SecretsManagerSource{client: &fakeSecretsManager{
		out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String("value")},
	}}
	v, err := s.Fetch(context.Background(), "name")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	s = &SecretsManagerSource{client: &fakeSecretsManager{err: &smtypes.ResourceNotFoundException{}}}
	_, err = s.Fetch(context.Background(), "name")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestChainSource(t *testing.T) {
	chain := ChainSource{
		&countingSource{err: ErrSecretNotFound},
		&countingSource{value: "second"},
	}
	v, err := chain.Fetch(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}
