// config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Config is the full process configuration.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	QuickBooks QuickBooksConfig
	HubSpot    HubSpotConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Secrets    SecretsConfig
	Timeouts   TimeoutConfig
	Sync       SyncConfig
}

type ServerConfig struct {
	Port    string
	Timeout int // seconds
	APIKey  string
}

type LogConfig struct {
	Level string
}

// QuickBooksConfig covers the OAuth app and invoice composition options.
type QuickBooksConfig struct {
	ClientID          string
	ClientSecret      string
	CredentialsSecret string // secret store name holding {"client_id","client_secret"}
	Environment       string
	RedirectURI       string
	Scopes            []string
	AuthURL           string
	TokenURL          string
	RevokeURL         string
	APIBaseURL        string
	AppBaseURL        string // human-viewable invoice links
	TaxCodeNames      []string
	TaxCodeID         string
	BypassTax         bool
	PaymentTerm       string
	DueDays           int
}

type HubSpotConfig struct {
	BaseURL               string
	AccessToken           string
	TokenSecret           string
	InvoiceNumberProperty string
	InvoiceURLProperty    string
}

type RedisConfig struct {
	Addresses []string
	Password  string
	DB        int
	KeyPrefix string
	EnableTLS bool
}

type DatabaseConfig struct {
	Driver string // postgres | sqlite
	DSN    string
}

type SecretsConfig struct {
	AWSRegion string
	CacheTTL  time.Duration
}

// TimeoutConfig holds one budget per external call family.
type TimeoutConfig struct {
	OAuth      time.Duration
	CRM        time.Duration
	Accounting time.Duration
	Secrets    time.Duration
	Store      time.Duration
}

type SyncConfig struct {
	Interval time.Duration
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	env := strings.ToLower(strings.TrimSpace(v.GetString("QB_ENVIRONMENT")))
	if env != EnvironmentProduction {
		env = EnvironmentSandbox
	}

	cfg := Config{
		Server: ServerConfig{
			Port:    v.GetString("PORT"),
			Timeout: v.GetInt("SERVER_TIMEOUT"),
			APIKey:  strings.TrimSpace(v.GetString("API_KEY")),
		},
		Log: LogConfig{Level: v.GetString("LOG_LEVEL")},
		QuickBooks: QuickBooksConfig{
			ClientID:          strings.TrimSpace(v.GetString("QB_CLIENT_ID")),
			ClientSecret:      strings.TrimSpace(v.GetString("QB_CLIENT_SECRET")),
			CredentialsSecret: strings.TrimSpace(v.GetString("QB_CREDENTIALS_SECRET_NAME")),
			Environment:       env,
			RedirectURI:       v.GetString("QB_REDIRECT_URI"),
			Scopes:            splitList(v.GetString("QB_SCOPES")),
			AuthURL:           v.GetString("QB_AUTH_URL"),
			TokenURL:          v.GetString("QB_TOKEN_URL"),
			RevokeURL:         v.GetString("QB_REVOKE_URL"),
			APIBaseURL:        apiBaseURL(env, v.GetString("QB_API_BASE_URL")),
			AppBaseURL:        appBaseURL(env, v.GetString("QB_APP_BASE_URL")),
			TaxCodeNames:      splitList(v.GetString("QB_TAX_CODE_NAMES")),
			TaxCodeID:         strings.TrimSpace(v.GetString("QB_TAX_CODE_ID")),
			BypassTax:         v.GetBool("QB_BYPASS_TAX"),
			PaymentTerm:       v.GetString("QB_PAYMENT_TERM"),
			DueDays:           v.GetInt("QB_DUE_DAYS"),
		},
		HubSpot: HubSpotConfig{
			BaseURL:               v.GetString("HUBSPOT_BASE_URL"),
			AccessToken:           strings.TrimSpace(v.GetString("HUBSPOT_ACCESS_TOKEN")),
			TokenSecret:           strings.TrimSpace(v.GetString("HUBSPOT_TOKEN_SECRET_NAME")),
			InvoiceNumberProperty: v.GetString("HUBSPOT_INVOICE_NUMBER_PROPERTY"),
			InvoiceURLProperty:    v.GetString("HUBSPOT_INVOICE_URL_PROPERTY"),
		},
		Redis: RedisConfig{
			Addresses: splitList(v.GetString("REDIS_ADDRESSES")),
			Password:  v.GetString("REDIS_PASSWORD"),
			DB:        v.GetInt("REDIS_DB"),
			KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
			EnableTLS: v.GetBool("REDIS_TLS"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("DATABASE_DRIVER")),
			DSN:    v.GetString("DATABASE_DSN"),
		},
		Secrets: SecretsConfig{
			AWSRegion: v.GetString("AWS_REGION"),
			CacheTTL:  v.GetDuration("CREDENTIAL_CACHE_TTL"),
		},
		Timeouts: TimeoutConfig{
			OAuth:      v.GetDuration("OAUTH_TIMEOUT"),
			CRM:        v.GetDuration("CRM_TIMEOUT"),
			Accounting: v.GetDuration("ACCOUNTING_TIMEOUT"),
			Secrets:    v.GetDuration("SECRETS_TIMEOUT"),
			Store:      v.GetDuration("STORE_TIMEOUT"),
		},
		Sync: SyncConfig{Interval: v.GetDuration("CRM_SYNC_INTERVAL")},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if len(c.Redis.Addresses) == 0 {
		errs = append(errs, errors.New("REDIS_ADDRESSES is required"))
	}
	if c.QuickBooks.RedirectURI == "" {
		errs = append(errs, errors.New("QB_REDIRECT_URI is required"))
	}
	if c.QuickBooks.ClientID == "" && c.QuickBooks.CredentialsSecret == "" {
		errs = append(errs, errors.New("either QB_CLIENT_ID or QB_CREDENTIALS_SECRET_NAME must be set"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("SERVER_TIMEOUT", 30)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("QB_ENVIRONMENT", EnvironmentSandbox)
	v.SetDefault("QB_SCOPES", "com.intuit.quickbooks.accounting")
	v.SetDefault("QB_AUTH_URL", "https://appcenter.intuit.com/connect/oauth2")
	v.SetDefault("QB_TOKEN_URL", "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer")
	v.SetDefault("QB_REVOKE_URL", "https://developer.api.intuit.com/v2/oauth2/tokens/revoke")
	v.SetDefault("QB_PAYMENT_TERM", "Net 15")
	v.SetDefault("QB_DUE_DAYS", 15)
	v.SetDefault("HUBSPOT_BASE_URL", "https://api.hubapi.com")
	v.SetDefault("HUBSPOT_INVOICE_NUMBER_PROPERTY", "qb_invoice_number")
	v.SetDefault("HUBSPOT_INVOICE_URL_PROPERTY", "qb_invoice_url")
	v.SetDefault("REDIS_ADDRESSES", "localhost:6379")
	v.SetDefault("REDIS_KEY_PREFIX", "qbbridge")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", "qbbridge.db")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("CREDENTIAL_CACHE_TTL", 5*time.Minute)
	v.SetDefault("OAUTH_TIMEOUT", 10*time.Second)
	v.SetDefault("CRM_TIMEOUT", 15*time.Second)
	v.SetDefault("ACCOUNTING_TIMEOUT", 30*time.Second)
	v.SetDefault("SECRETS_TIMEOUT", 5*time.Second)
	v.SetDefault("STORE_TIMEOUT", 5*time.Second)
	v.SetDefault("CRM_SYNC_INTERVAL", 5*time.Minute)
}

func apiBaseURL(env, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	if env == EnvironmentProduction {
		return "https://quickbooks.api.intuit.com"
	}
	return "https://sandbox-quickbooks.api.intuit.com"
}

func appBaseURL(env, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	if env == EnvironmentProduction {
		return "https://app.qbo.intuit.com"
	}
	return "https://app.sandbox.qbo.intuit.com"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
