// infrastructure/container.go
package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eGGnogSC/qbbridge/config"
	"github.com/eGGnogSC/qbbridge/infrastructure/database"
	redisinfra "github.com/eGGnogSC/qbbridge/infrastructure/redis"
	"github.com/eGGnogSC/qbbridge/internal/auth"
	"github.com/eGGnogSC/qbbridge/internal/httpx"
	"github.com/eGGnogSC/qbbridge/internal/invoice"
	"github.com/eGGnogSC/qbbridge/internal/metrics"
	"github.com/eGGnogSC/qbbridge/internal/secrets"
	"github.com/eGGnogSC/qbbridge/pkg/hubspot"
	"github.com/eGGnogSC/qbbridge/pkg/qbclient"
)

const tokenSyncInterval = 30 * time.Second

// Container provides application dependencies
type Container struct {
	// Services
	AuthService    *auth.Service
	InvoiceService *invoice.Service
	SyncWorker     *invoice.SyncWorker

	// Handlers
	AuthHandler    *auth.Handler
	InvoiceHandler *invoice.Handler

	// Infrastructure
	RedisClient redis.UniversalClient
	RedisHealth *redisinfra.HealthChecker
	DB          *gorm.DB
	TokenStore  *auth.FallbackTokenStore
	Secrets     *secrets.Cache
	QBClient    *qbclient.Client
	CRM         *hubspot.Client
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics

	log *zap.Logger
}

// NewContainer creates and initializes the dependency container. Background
// routines run until ctx is cancelled.
func NewContainer(ctx context.Context, cfg config.Config, log *zap.Logger) (*Container, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Container{log: log.Named("container")}

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.New(c.Registry)

	source, err := secretSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Secrets = secrets.NewCache(source, cfg.Secrets.CacheTTL, log, secrets.WithTimeout(cfg.Timeouts.Secrets))

	redisClient, err := redisinfra.NewClient(redisinfra.OptionsFrom(cfg.Redis))
	if err != nil {
		return nil, err
	}
	c.RedisClient = redisClient
	if err := redisinfra.Ping(ctx, redisClient, cfg.Timeouts.Store); err != nil {
		// Reads fall back to the in-process token copy until Redis returns.
		c.log.Warn("redis not reachable at startup", zap.Error(err))
	}
	c.RedisHealth = redisinfra.NewHealthChecker(redisClient, 10*time.Second, log)
	c.RedisHealth.Start(ctx)

	c.TokenStore = auth.NewFallbackTokenStore(
		auth.NewRedisTokenStore(redisClient, cfg.Redis.KeyPrefix, cfg.Timeouts.Store),
		c.RedisHealth.IsHealthy,
		log,
	)
	c.TokenStore.StartSyncRoutine(ctx, tokenSyncInterval)

	creds := auth.NewCachedCredentials(auth.ClientCredentials{
		ClientID:     cfg.QuickBooks.ClientID,
		ClientSecret: cfg.QuickBooks.ClientSecret,
	}, c.Secrets, cfg.QuickBooks.CredentialsSecret)

	c.AuthService = auth.NewService(auth.OAuthConfig{
		RedirectURI: cfg.QuickBooks.RedirectURI,
		Scopes:      cfg.QuickBooks.Scopes,
		AuthURL:     cfg.QuickBooks.AuthURL,
		TokenURL:    cfg.QuickBooks.TokenURL,
		RevokeURL:   cfg.QuickBooks.RevokeURL,
		Timeout:     cfg.Timeouts.OAuth,
	}, c.TokenStore, auth.NewRedisStateStore(redisClient, cfg.Redis.KeyPrefix), creds, log,
		auth.WithMetrics(c.Metrics))

	c.QBClient = qbclient.NewClient(cfg.QuickBooks.APIBaseURL, cfg.QuickBooks.AppBaseURL, cfg.Timeouts.Accounting)
	c.CRM = newCRMClient(cfg.HubSpot, cfg.Timeouts.CRM, c.Secrets)

	db, err := database.Open(cfg.Database, log, invoice.Migrate)
	if err != nil {
		c.Shutdown()
		return nil, err
	}
	c.DB = db

	opts := invoice.Options{
		TaxCodeID:             cfg.QuickBooks.TaxCodeID,
		TaxCodeNames:          cfg.QuickBooks.TaxCodeNames,
		BypassTax:             cfg.QuickBooks.BypassTax,
		PaymentTerm:           cfg.QuickBooks.PaymentTerm,
		DueDays:               cfg.QuickBooks.DueDays,
		InvoiceNumberProperty: cfg.HubSpot.InvoiceNumberProperty,
		InvoiceURLProperty:    cfg.HubSpot.InvoiceURLProperty,
	}
	repo := invoice.NewRepository(db, cfg.Timeouts.Store)
	c.InvoiceService = invoice.NewService(c.AuthService, c.CRM, invoice.QuickBooksFactory(c.QBClient), repo, opts, log,
		invoice.WithMetrics(c.Metrics))
	c.SyncWorker = invoice.NewSyncWorker(repo, c.CRM, opts, cfg.Sync.Interval, c.Metrics, log)

	c.AuthHandler = auth.NewHandler(c.AuthService, log)
	c.InvoiceHandler = invoice.NewHandler(c.InvoiceService, log)

	return c, nil
}

// secretSource reads the environment first and, when a secret name is
// configured, AWS Secrets Manager.
func secretSource(ctx context.Context, cfg config.Config) (secrets.Source, error) {
	chain := secrets.ChainSource{secrets.NewEnvSource()}
	if cfg.QuickBooks.CredentialsSecret == "" && cfg.HubSpot.TokenSecret == "" {
		return chain, nil
	}
	sm, err := secrets.NewSecretsManagerSource(ctx, cfg.Secrets.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secrets manager: %w", err)
	}
	return append(chain, sm), nil
}

func newCRMClient(cfg config.HubSpotConfig, timeout time.Duration, cache *secrets.Cache) *hubspot.Client {
	if cfg.AccessToken != "" || cfg.TokenSecret == "" {
		return hubspot.NewClient(cfg.BaseURL, hubspot.StaticToken(cfg.AccessToken), timeout)
	}
	token := func(ctx context.Context) (string, error) {
		return cache.Get(ctx, cfg.TokenSecret)
	}
	return hubspot.NewClient(cfg.BaseURL, token, timeout,
		hubspot.WithUnauthorizedHook(func() { cache.Invalidate(cfg.TokenSecret) }))
}

// Health reports whether Redis and the database respond.
func (c *Container) Health(ctx context.Context) map[string]error {
	status := map[string]error{"redis": nil, "database": nil}
	if !c.RedisHealth.Check(ctx) {
		status["redis"] = fmt.Errorf("redis unreachable")
	}
	if err := database.Ping(ctx, c.DB, 2*time.Second); err != nil {
		status["database"] = err
	}
	return status
}

// HealthHandler serves GET /healthz.
func (c *Container) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	code := http.StatusOK
	for name, err := range c.Health(r.Context()) {
		if err != nil {
			checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	httpx.JSON(w, code, httpx.Envelope{Success: code == http.StatusOK, Data: checks})
}

// Shutdown gracefully closes connections
func (c *Container) Shutdown() {
	if c.DB != nil {
		if err := database.Close(c.DB); err != nil {
			c.log.Error("error closing database", zap.Error(err))
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.log.Error("error closing redis connection", zap.Error(err))
		}
	}
}
