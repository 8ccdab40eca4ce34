// auth/models.go
package auth

import (
	"context"
	"errors"
	"time"
)

// GlobalTokenKey names the single shared QuickBooks credential.
const GlobalTokenKey = "global"

// DefaultExpiryMargin is subtracted from the access token lifetime when
// deciding whether a refresh is due.
const DefaultExpiryMargin = 30 * time.Second

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenConflict = errors.New("token was modified concurrently")
	ErrStateNotFound = errors.New("oauth state not found or expired")
)

// SharedToken is the QuickBooks OAuth grant for the connected company.
type SharedToken struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	TokenType             string    `json:"token_type"`
	RealmID               string    `json:"realm_id"` // Company ID in QuickBooks
	IssuedAt              time.Time `json:"issued_at"`
	ExpiresIn             int       `json:"expires_in"` // access token lifetime, seconds
	RefreshTokenExpiresIn int       `json:"x_refresh_token_expires_in,omitempty"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ExpiresAt is when the access token stops being accepted.
func (t *SharedToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Expired reports whether now >= issued_at + lifetime - margin.
func (t *SharedToken) Expired(now time.Time, margin time.Duration) bool {
	return !now.Before(t.ExpiresAt().Add(-margin))
}

// Revoked reports whether both secrets were stripped by an administrative revoke.
func (t *SharedToken) Revoked() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// MissingFields lists the required fields that are empty.
func (t *SharedToken) MissingFields() []string {
	var missing []string
	if t.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if t.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}
	if t.RealmID == "" {
		missing = append(missing, "realm_id")
	}
	return missing
}

// TokenStore persists the shared token. Every mutation is a full
// read-modify-write so backends can be swapped transparently.
type TokenStore interface {
	Get(ctx context.Context) (*SharedToken, error)
	Upsert(ctx context.Context, token *SharedToken) error
	// CompareAndSwap replaces the token only if the stored refresh token still
	// equals expectedRefreshToken; otherwise it returns ErrTokenConflict.
	CompareAndSwap(ctx context.Context, expectedRefreshToken string, next *SharedToken) error
	// Update applies mutate to the stored token atomically.
	Update(ctx context.Context, mutate func(*SharedToken)) (*SharedToken, error)
}

// StateStore keeps pending OAuth authorization states.
type StateStore interface {
	Save(ctx context.Context, state, userID string, ttl time.Duration) error
	// Consume returns the user the state was issued for and forgets it.
	Consume(ctx context.Context, state string) (string, error)
}

// OAuthConfig holds OAuth 2.0 configuration
type OAuthConfig struct {
	RedirectURI string
	Scopes      []string
	AuthURL     string
	TokenURL    string
	RevokeURL   string
	Timeout     time.Duration
}

// InvalidateMode selects the administrative invalidation behavior.
type InvalidateMode string

const (
	ModeExpire     InvalidateMode = "expire"
	ModeRefreshNow InvalidateMode = "refreshNow"
	ModeRevoke     InvalidateMode = "revoke"
)

// ConnectionStatus is reported by the checkConnection endpoint.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	AuthURL   string `json:"authUrl,omitempty"`
	RealmID   string `json:"realmId,omitempty"`
}
