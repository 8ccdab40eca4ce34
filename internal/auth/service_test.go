package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eGGnogSC/qbbridge/internal/apperr"
)

type fakeCreds struct {
	invalidations atomic.Int32
}

func (f *fakeCreds) ClientCredentials(ctx context.Context) (ClientCredentials, error) {
	return ClientCredentials{ClientID: "client", ClientSecret: "secret"}, nil
}

func (f *fakeCreds) Invalidate() { f.invalidations.Add(1) }

// tokenEndpoint scripts the responses of an OAuth token endpoint.
type tokenEndpoint struct {
	mu        sync.Mutex
	calls     int
	responses []func(w http.ResponseWriter, r *http.Request)
	forms     []url.Values
}

func (e *tokenEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	e.mu.Lock()
	e.forms = append(e.forms, r.PostForm)
	idx := e.calls
	e.calls++
	e.mu.Unlock()

	if idx >= len(e.responses) {
		idx = len(e.responses) - 1
	}
	e.responses[idx](w, r)
}

func (e *tokenEndpoint) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func grant(access, refresh string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"` + access + `","refresh_token":"` + refresh +
			`","token_type":"bearer","expires_in":3600,"x_refresh_token_expires_in":8726400}`))
	}
}

func oauthError(status int, code string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
	}
}

type fixture struct {
	svc      *Service
	store    *RedisTokenStore
	endpoint *tokenEndpoint
	creds    *fakeCreds
	now      time.Time
}

func newFixture(t *testing.T, responses ...func(w http.ResponseWriter, r *http.Request)) *fixture {
	t.Helper()
	_, client := newRedis(t)
	endpoint := &tokenEndpoint{responses: responses}
	if len(endpoint.responses) == 0 {
		endpoint.responses = append(endpoint.responses, grant("access-new", "refresh-new"))
	}
	srv := httptest.NewServer(endpoint)
	t.Cleanup(srv.Close)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewRedisTokenStore(client, "test", time.Second)
	creds := &fakeCreds{}
	svc := NewService(OAuthConfig{
		RedirectURI: "https://example.com/quickbooks/callback",
		Scopes:      []string{"com.intuit.quickbooks.accounting"},
		AuthURL:     srv.URL + "/authorize",
		TokenURL:    srv.URL + "/token",
		Timeout:     2 * time.Second,
	}, store, NewRedisStateStore(client, "test"), creds, zap.NewNop(),
		WithClock(func() time.Time { return now }))

	return &fixture{svc: svc, store: store, endpoint: endpoint, creds: creds, now: now}
}

func (f *fixture) seed(t *testing.T, tok *SharedToken) {
	t.Helper()
	require.NoError(t, f.store.Upsert(context.Background(), tok))
}

func TestGetValidToken_NotConnected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetValidToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.NotConnected, apperr.KindOf(err))
	assert.Equal(t, "QuickBooks not connected", apperr.From(err).Message)
	assert.Equal(t, http.StatusBadRequest, apperr.From(err).Status())
}

func TestGetValidToken_Incomplete(t *testing.T) {
	f := newFixture(t)
	tok := sampleToken(f.now)
	tok.RealmID = ""
	f.seed(t, tok)

	_, err := f.svc.GetValidToken(context.Background())
	assert.Equal(t, apperr.IncompleteCredentials, apperr.KindOf(err))
	assert.Zero(t, f.endpoint.count())
}

func TestGetValidToken_ReturnsFreshTokenUnchanged(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sampleToken(f.now.Add(-10*time.Minute)))

	tok, err := f.svc.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Zero(t, f.endpoint.count())
}

func TestGetValidToken_RefreshesExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sampleToken(f.now.Add(-2*time.Hour)))

	tok, err := f.svc.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-new", tok.AccessToken)
	assert.Equal(t, "refresh-new", tok.RefreshToken)
	assert.Equal(t, "realm-1", tok.RealmID)
	assert.False(t, tok.Expired(f.now, DefaultExpiryMargin))
	assert.Equal(t, 1, f.endpoint.count())
	assert.Equal(t, "refresh_token", f.endpoint.forms[0].Get("grant_type"))
	assert.Equal(t, "refresh-1", f.endpoint.forms[0].Get("refresh_token"))

	stored, err := f.store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-new", stored.AccessToken)
	assert.True(t, stored.IssuedAt.Equal(f.now))
	assert.Equal(t, 3600, stored.ExpiresIn)
	assert.Equal(t, 8726400, stored.RefreshTokenExpiresIn)
}

func TestGetValidToken_RefreshWithinMargin(t *testing.T) {
	f := newFixture(t)
	// 20 seconds of life left is inside the 30 second margin
	f.seed(t, sampleToken(f.now.Add(-3580*time.Second)))

	_, err := f.svc.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.endpoint.count())
}

func TestRefresh_InvalidClientRetriedOnce(t *testing.T) {
	f := newFixture(t, oauthError(http.StatusUnauthorized, "invalid_client"), grant("access-2", "refresh-2"))
	f.seed(t, sampleToken(f.now.Add(-2*time.Hour)))

	tok, err := f.svc.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, 2, f.endpoint.count())
	assert.EqualValues(t, 1, f.creds.invalidations.Load())
}

func TestRefresh_SecondInvalidClientIsFatal(t *testing.T) {
	f := newFixture(t, oauthError(http.StatusUnauthorized, "invalid_client"))
	f.seed(t, sampleToken(f.now.Add(-2*time.Hour)))

	_, err := f.svc.GetValidToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.TokenRefreshFailed, apperr.KindOf(err))
	assert.Equal(t, 2, f.endpoint.count())
	assert.EqualValues(t, 1, f.creds.invalidations.Load())
}

func TestRefresh_OtherFailureNotRetried(t *testing.T) {
	f := newFixture(t, oauthError(http.StatusBadRequest, "invalid_grant"))
	f.seed(t, sampleToken(f.now.Add(-2*time.Hour)))

	_, err := f.svc.GetValidToken(context.Background())
	assert.Equal(t, apperr.TokenRefreshFailed, apperr.KindOf(err))
	assert.Equal(t, 1, f.endpoint.count())
	assert.Zero(t, f.creds.invalidations.Load())
}

func TestRefresh_LostRaceReturnsWinner(t *testing.T) {
	f := newFixture(t)
	f.seed(t, sampleToken(f.now.Add(-2*time.Hour)))

	// another instance rotated the token while this one was exchanging
	f.endpoint.responses = []func(w http.ResponseWriter, r *http.Request){
		func(w http.ResponseWriter, r *http.Request) {
			winner := sampleToken(f.now)
			winner.AccessToken = "access-winner"
			winner.RefreshToken = "refresh-winner"
			assert.NoError(t, f.store.Upsert(context.Background(), winner))
			oauthError(http.StatusBadRequest, "invalid_grant")(w, r)
		},
	}

	tok, err := f.svc.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-winner", tok.AccessToken)
}

func TestRefresh_ConcurrentCallersShareOneExchange(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		grant("access-new", "refresh-new")(w, r)
	}
	f := newFixture(t, slow)
	f.seed(t, sampleToken(f.now.Add(-2*time.Hour)))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := f.svc.GetValidToken(context.Background())
			if assert.NoError(t, err) {
				assert.Equal(t, "access-new", tok.AccessToken)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.endpoint.count())
}

func TestRefresh_CancelledCallerDoesNotAbortSharedExchange(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gated := func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		grant("access-new", "refresh-new")(w, r)
	}
	f := newFixture(t, gated)
	f.seed(t, sampleToken(f.now.Add(-2*time.Hour)))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.svc.GetValidToken(ctxA)
		errA <- err
	}()
	<-started

	type result struct {
		tok *SharedToken
		err error
	}
	resB := make(chan result, 1)
	go func() {
		tok, err := f.svc.GetValidToken(context.Background())
		resB <- result{tok, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	err := <-errA
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "access-new", b.tok.AccessToken)
	assert.Equal(t, 1, f.endpoint.count())

	stored, err := f.store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-new", stored.RefreshToken)
}

func TestAuthorizationAndCallback(t *testing.T) {
	f := newFixture(t, grant("access-first", "refresh-first"))
	ctx := context.Background()

	authURL, err := f.svc.GetAuthorizationURL(ctx, "user-1")
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "client", u.Query().Get("client_id"))
	assert.Equal(t, "code", u.Query().Get("response_type"))

	tok, err := f.svc.HandleCallback(ctx, "auth-code", state, "realm-9")
	require.NoError(t, err)
	assert.Equal(t, "access-first", tok.AccessToken)
	assert.Equal(t, "realm-9", tok.RealmID)
	assert.Equal(t, "authorization_code", f.endpoint.forms[0].Get("grant_type"))

	stored, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-first", stored.RefreshToken)

	// states are single use
	_, err = f.svc.HandleCallback(ctx, "auth-code", state, "realm-9")
	assert.Equal(t, apperr.OAuthExchangeFailed, apperr.KindOf(err))
}

func TestCallback_ExchangeWithoutToken(t *testing.T) {
	empty := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"bearer"}`))
	}
	f := newFixture(t, empty)
	ctx := context.Background()
	authURL, err := f.svc.GetAuthorizationURL(ctx, "user-1")
	require.NoError(t, err)
	u, _ := url.Parse(authURL)

	_, err = f.svc.HandleCallback(ctx, "code", u.Query().Get("state"), "realm")
	assert.Equal(t, apperr.OAuthExchangeFailed, apperr.KindOf(err))

	_, err = f.store.Get(ctx)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestInvalidate(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Invalidate(context.Background(), ModeExpire)
		assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	})

	t.Run("expire forces the next refresh", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, sampleToken(f.now))

		_, err := f.svc.Invalidate(context.Background(), ModeExpire)
		require.NoError(t, err)
		stored, _ := f.store.Get(context.Background())
		assert.True(t, stored.IssuedAt.IsZero())
		assert.Zero(t, stored.ExpiresIn)

		tok, err := f.svc.GetValidToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-new", tok.AccessToken)
		assert.Equal(t, 1, f.endpoint.count())
	})

	t.Run("refresh now", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, sampleToken(f.now))

		tok, err := f.svc.Invalidate(context.Background(), ModeRefreshNow)
		require.NoError(t, err)
		assert.Equal(t, "access-new", tok.AccessToken)
		assert.Equal(t, 1, f.endpoint.count())
	})

	t.Run("revoke disconnects", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, sampleToken(f.now))

		_, err := f.svc.Invalidate(context.Background(), ModeRevoke)
		require.NoError(t, err)

		_, err = f.svc.GetValidToken(context.Background())
		assert.Equal(t, apperr.NotConnected, apperr.KindOf(err))
	})

	t.Run("unknown mode", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, sampleToken(f.now))
		_, err := f.svc.Invalidate(context.Background(), InvalidateMode("explode"))
		assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
	})
}

func TestConnectionStatus(t *testing.T) {
	f := newFixture(t)

	status, err := f.svc.ConnectionStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.NotEmpty(t, status.AuthURL)

	f.seed(t, sampleToken(f.now))
	status, err = f.svc.ConnectionStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Empty(t, status.AuthURL)
}
