// infrastructure/redis/client.go
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/eGGnogSC/qbbridge/config"
)

// Options holds connection pool settings on top of the address list.
type Options struct {
	Addresses    []string
	Password     string
	DB           int
	EnableTLS    bool
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// OptionsFrom fills pool defaults around the application redis settings.
func OptionsFrom(cfg config.RedisConfig) Options {
	return Options{
		Addresses:    cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		EnableTLS:    cfg.EnableTLS,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		IdleTimeout:  5 * time.Minute,
	}
}

// NewClient returns a cluster client for several addresses and a single-node
// client otherwise.
func NewClient(opts Options) (redis.UniversalClient, error) {
	if len(opts.Addresses) == 0 {
		return nil, errors.New("no redis addresses configured")
	}

	var tlsConfig *tls.Config
	if opts.EnableTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if len(opts.Addresses) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        opts.Addresses,
			Password:     opts.Password,
			MaxRetries:   opts.MaxRetries,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			PoolSize:     opts.PoolSize,
			MinIdleConns: opts.MinIdleConns,
			IdleTimeout:  opts.IdleTimeout,
			TLSConfig:    tlsConfig,
		}), nil
	}

	return redis.NewClient(&redis.Options{
		Addr:         opts.Addresses[0],
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
		TLSConfig:    tlsConfig,
	}), nil
}

// Ping verifies the connection within timeout.
func Ping(ctx context.Context, client redis.UniversalClient, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
