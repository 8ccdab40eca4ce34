package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/eGGnogSC/qbbridge/internal/secrets"
)

// ClientCredentials identify the QuickBooks OAuth app.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// CredentialsProvider supplies the OAuth app credentials and can be told to
// drop whatever it has cached after the provider rejects them.
type CredentialsProvider interface {
	ClientCredentials(ctx context.Context) (ClientCredentials, error)
	Invalidate()
}

// CachedCredentials prefers directly configured credentials and otherwise
// reads a JSON secret through the credential cache.
type CachedCredentials struct {
	direct     ClientCredentials
	cache      *secrets.Cache
	secretName string
}

func NewCachedCredentials(direct ClientCredentials, cache *secrets.Cache, secretName string) *CachedCredentials {
	return &CachedCredentials{direct: direct, cache: cache, secretName: secretName}
}

func (c *CachedCredentials) ClientCredentials(ctx context.Context) (ClientCredentials, error) {
	if c.direct.ClientID != "" && c.direct.ClientSecret != "" {
		return c.direct, nil
	}
	if c.cache == nil || c.secretName == "" {
		return ClientCredentials{}, errors.New("QuickBooks client credentials are not configured")
	}
	id, err := c.cache.Field(ctx, c.secretName, "client_id")
	if err != nil {
		return ClientCredentials{}, fmt.Errorf("load QuickBooks client credentials: %w", err)
	}
	secret, err := c.cache.Field(ctx, c.secretName, "client_secret")
	if err != nil {
		return ClientCredentials{}, fmt.Errorf("load QuickBooks client credentials: %w", err)
	}
	return ClientCredentials{ClientID: id, ClientSecret: secret}, nil
}

func (c *CachedCredentials) Invalidate() {
	if c.cache != nil && c.secretName != "" {
		c.cache.Invalidate(c.secretName)
	}
}
