// auth/service.go
package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/eGGnogSC/qbbridge/internal/apperr"
	"github.com/eGGnogSC/qbbridge/internal/metrics"
)

const stateTTL = 10 * time.Minute

// Service keeps the shared QuickBooks token valid.
type Service struct {
	config     OAuthConfig
	tokenStore TokenStore
	states     StateStore
	creds      CredentialsProvider
	httpClient *http.Client
	timeout    time.Duration
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
	margin     time.Duration

	mu     sync.Mutex
	oauth  *oauth2.Config
	flight singleflight.Group
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithHTTPClient(c *http.Client) ServiceOption {
	return func(s *Service) { s.httpClient = c }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a new auth service
func NewService(config OAuthConfig, tokenStore TokenStore, states StateStore, creds CredentialsProvider, log *zap.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Service{
		config:     config,
		tokenStore: tokenStore,
		states:     states,
		creds:      creds,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		log:        log.Named("auth.service"),
		now:        time.Now,
		margin:     DefaultExpiryMargin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// oauthConfig returns the OAuth client, building it from the current
// credentials when none is cached. No lock is held while credentials load.
func (s *Service) oauthConfig(ctx context.Context) (*oauth2.Config, error) {
	s.mu.Lock()
	cfg := s.oauth
	s.mu.Unlock()
	if cfg != nil {
		return cfg, nil
	}

	creds, err := s.creds.ClientCredentials(ctx)
	if err != nil {
		return nil, err
	}
	cfg = &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  s.config.RedirectURI,
		Scopes:       s.config.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   s.config.AuthURL,
			TokenURL:  s.config.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	s.mu.Lock()
	if s.oauth == nil {
		s.oauth = cfg
	}
	cfg = s.oauth
	s.mu.Unlock()
	return cfg, nil
}

// resetClient drops the OAuth client and the cached app credentials.
func (s *Service) resetClient() {
	s.mu.Lock()
	s.oauth = nil
	s.mu.Unlock()
	s.creds.Invalidate()
}

func (s *Service) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// GetAuthorizationURL generates the QuickBooks authorization URL for userID
func (s *Service) GetAuthorizationURL(ctx context.Context, userID string) (string, error) {
	cfg, err := s.oauthConfig(ctx)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "QuickBooks OAuth client is not configured", err)
	}
	state := uuid.NewString()
	if err := s.states.Save(ctx, state, userID, stateTTL); err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to start QuickBooks authorization", err)
	}
	return cfg.AuthCodeURL(state), nil
}

// HandleCallback exchanges the authorization code and stores the shared token
func (s *Service) HandleCallback(ctx context.Context, code, state, realmID string) (*SharedToken, error) {
	if code == "" || state == "" {
		return nil, apperr.New(apperr.OAuthExchangeFailed, "authorization callback is missing code or state")
	}
	userID, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, apperr.Wrap(apperr.OAuthExchangeFailed, "invalid or expired OAuth state", err)
	}
	if realmID == "" {
		return nil, apperr.New(apperr.OAuthExchangeFailed, "authorization callback is missing realmId")
	}

	cfg, err := s.oauthConfig(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.OAuthExchangeFailed, "QuickBooks OAuth client is not configured", err)
	}

	exCtx, cancel := context.WithTimeout(s.oauthContext(ctx), s.timeout)
	defer cancel()
	tok, err := cfg.Exchange(exCtx, code)
	if err != nil {
		if isInvalidClient(err) {
			s.resetClient()
		}
		return nil, apperr.Wrap(apperr.OAuthExchangeFailed, "failed to exchange authorization code", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, apperr.New(apperr.OAuthExchangeFailed, "authorization code exchange returned no token")
	}

	token := s.fromOAuth(tok, realmID)
	if err := s.tokenStore.Upsert(ctx, token); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to save QuickBooks token", err)
	}

	s.log.Info("quickbooks connected",
		zap.String("user_id", userID),
		zap.String("realm_id", realmID),
		zap.String("refresh_fp", fingerprint(token.RefreshToken)))
	return token, nil
}

// GetValidToken returns a non-expired token, refreshing it if necessary
func (s *Service) GetValidToken(ctx context.Context) (*SharedToken, error) {
	token, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if !token.Expired(s.now(), s.margin) {
		return token, nil
	}
	return s.refresh(ctx, token)
}

// RefreshToken performs a refresh regardless of the current expiry
func (s *Service) RefreshToken(ctx context.Context) (*SharedToken, error) {
	token, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, token)
}

func (s *Service) load(ctx context.Context) (*SharedToken, error) {
	token, err := s.tokenStore.Get(ctx)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, apperr.New(apperr.NotConnected, "QuickBooks not connected")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to read QuickBooks token", err)
	}
	if token.Revoked() {
		return nil, apperr.New(apperr.NotConnected, "QuickBooks not connected")
	}
	if missing := token.MissingFields(); len(missing) > 0 {
		return nil, apperr.Newf(apperr.IncompleteCredentials,
			"QuickBooks credentials incomplete (missing %s); please reconnect", strings.Join(missing, ", "))
	}
	return token, nil
}

// refresh collapses concurrent refreshes of the same refresh token. The shared
// exchange ignores the cancellation of whichever caller started it.
func (s *Service) refresh(ctx context.Context, current *SharedToken) (*SharedToken, error) {
	ch := s.flight.DoChan(current.RefreshToken, func() (any, error) {
		// Two exchanges plus the store round trips.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*s.timeout)
		defer cancel()
		return s.doRefresh(flightCtx, current)
	})
	select {
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.TokenRefreshFailed, "token refresh abandoned", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		token := *res.Val.(*SharedToken)
		return &token, nil
	}
}

func (s *Service) doRefresh(ctx context.Context, current *SharedToken) (*SharedToken, error) {
	tok, err := s.exchangeRefresh(ctx, current.RefreshToken)
	if err != nil && isInvalidClient(err) {
		s.log.Warn("quickbooks rejected the oauth client, reloading credentials", zap.Error(err))
		s.metrics.RecordTokenRefresh("invalid_client_retry")
		s.resetClient()

		tok, err = s.exchangeRefresh(ctx, current.RefreshToken)
		if err != nil && isInvalidClient(err) {
			err = apperr.Wrap(apperr.InvalidClientRetried, "OAuth client still rejected after reloading credentials", err)
		}
	}
	if err != nil {
		if winner := s.rotatedElsewhere(ctx, current); winner != nil {
			s.log.Info("token already refreshed by another request")
			return winner, nil
		}
		s.metrics.RecordTokenRefresh("failure")
		return nil, apperr.Wrap(apperr.TokenRefreshFailed, "failed to refresh QuickBooks token", err)
	}
	if tok == nil || tok.AccessToken == "" {
		s.metrics.RecordTokenRefresh("failure")
		return nil, apperr.New(apperr.OAuthExchangeFailed, "refresh token exchange returned no token")
	}

	next := s.fromOAuth(tok, current.RealmID)
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if next.Expired(s.now(), s.margin) {
		s.metrics.RecordTokenRefresh("failure")
		return nil, apperr.Newf(apperr.TokenRefreshFailed, "refreshed token lifetime of %ds is too short", next.ExpiresIn)
	}

	if err := s.tokenStore.CompareAndSwap(ctx, current.RefreshToken, next); err != nil {
		if errors.Is(err, ErrTokenConflict) {
			if winner := s.rotatedElsewhere(ctx, current); winner != nil {
				return winner, nil
			}
		}
		s.metrics.RecordTokenRefresh("failure")
		return nil, apperr.Wrap(apperr.TokenRefreshFailed, "failed to persist refreshed QuickBooks token", err)
	}

	s.metrics.RecordTokenRefresh("success")
	s.log.Info("quickbooks token refreshed",
		zap.String("realm_id", next.RealmID),
		zap.Time("expires_at", next.ExpiresAt()),
		zap.String("refresh_fp", fingerprint(next.RefreshToken)))
	return next, nil
}

// rotatedElsewhere returns the stored token when another refresh already
// replaced ours and the stored one is usable.
func (s *Service) rotatedElsewhere(ctx context.Context, current *SharedToken) *SharedToken {
	stored, err := s.tokenStore.Get(ctx)
	if err != nil {
		return nil
	}
	if stored.RefreshToken == current.RefreshToken || len(stored.MissingFields()) > 0 {
		return nil
	}
	if stored.Expired(s.now(), s.margin) {
		return nil
	}
	return stored
}

func (s *Service) exchangeRefresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	cfg, err := s.oauthConfig(ctx)
	if err != nil {
		return nil, err
	}
	exCtx, cancel := context.WithTimeout(s.oauthContext(ctx), s.timeout)
	defer cancel()
	return cfg.TokenSource(exCtx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

func (s *Service) fromOAuth(tok *oauth2.Token, realmID string) *SharedToken {
	now := s.now()
	expiresIn := extraInt(tok, "expires_in")
	if expiresIn <= 0 {
		expiresIn = int(tok.ExpiresIn)
	}
	if expiresIn <= 0 && !tok.Expiry.IsZero() {
		expiresIn = int(time.Until(tok.Expiry).Seconds())
	}
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return &SharedToken{
		AccessToken:           tok.AccessToken,
		RefreshToken:          tok.RefreshToken,
		TokenType:             tok.TokenType,
		RealmID:               realmID,
		IssuedAt:              now,
		ExpiresIn:             expiresIn,
		RefreshTokenExpiresIn: extraInt(tok, "x_refresh_token_expires_in"),
		UpdatedAt:             now,
	}
}

// Invalidate is the administrative entry point
func (s *Service) Invalidate(ctx context.Context, mode InvalidateMode) (*SharedToken, error) {
	current, err := s.tokenStore.Get(ctx)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, apperr.New(apperr.NotFound, "no QuickBooks token stored")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to read QuickBooks token", err)
	}

	switch mode {
	case ModeExpire:
		token, err := s.tokenStore.Update(ctx, func(t *SharedToken) {
			t.IssuedAt = time.Time{}
			t.ExpiresIn = 0
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to expire QuickBooks token", err)
		}
		s.log.Info("quickbooks token marked expired")
		return token, nil

	case ModeRefreshNow:
		if current.Revoked() || current.RefreshToken == "" {
			return nil, apperr.New(apperr.NotConnected, "QuickBooks not connected")
		}
		return s.refresh(ctx, current)

	case ModeRevoke:
		if current.RefreshToken != "" {
			if err := s.revokeToken(ctx, current.RefreshToken); err != nil {
				s.log.Warn("remote token revocation failed", zap.Error(err))
			}
		}
		token, err := s.tokenStore.Update(ctx, func(t *SharedToken) {
			t.AccessToken = ""
			t.RefreshToken = ""
			t.IssuedAt = time.Time{}
			t.ExpiresIn = 0
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to revoke QuickBooks token", err)
		}
		s.log.Info("quickbooks token revoked", zap.String("realm_id", token.RealmID))
		return token, nil

	default:
		return nil, apperr.Newf(apperr.InvalidArgument, "unknown invalidation mode %q", mode)
	}
}

// ConnectionStatus reports whether a usable token exists, with an
// authorization URL when it does not.
func (s *Service) ConnectionStatus(ctx context.Context, userID string) (ConnectionStatus, error) {
	token, err := s.GetValidToken(ctx)
	if err == nil {
		return ConnectionStatus{Connected: true, RealmID: token.RealmID}, nil
	}
	switch apperr.KindOf(err) {
	case apperr.NotConnected, apperr.IncompleteCredentials, apperr.TokenRefreshFailed, apperr.OAuthExchangeFailed:
	default:
		return ConnectionStatus{}, err
	}
	authURL, uerr := s.GetAuthorizationURL(ctx, userID)
	if uerr != nil {
		return ConnectionStatus{}, uerr
	}
	return ConnectionStatus{Connected: false, AuthURL: authURL}, nil
}

// revokeToken revokes a token with QuickBooks
func (s *Service) revokeToken(ctx context.Context, token string) error {
	if s.config.RevokeURL == "" {
		return nil
	}
	creds, err := s.creds.ClientCredentials(ctx)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"token": token})

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.RevokeURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("revoke request failed with status %d: %s", resp.StatusCode, b)
	}
	return nil
}

// isInvalidClient detects a token endpoint rejection of the app credentials.
func isInvalidClient(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode == "invalid_client" {
		return true
	}
	if re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized {
		return true
	}
	return bytes.Contains(re.Body, []byte("invalid_client"))
}

func extraInt(tok *oauth2.Token, key string) int {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		var n int
		fmt.Sscanf(v, "%d", &n)
		return n
	}
	return 0
}

// fingerprint is safe to log; it never reveals the token.
func fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}
