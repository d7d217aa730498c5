package redis

import (
	"context"
	"time"

	"github.com/deskflow/billing/internal/config"
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/deskflow/billing/internal/logger"
	goredis "github.com/go-redis/redis/v8"
)

// Client wraps the go-redis client shared by every redis backed store
type Client struct {
	*goredis.Client
	logger *logger.Logger
}

// NewClient parses the configured url and verifies the connection
func NewClient(cfg *config.Configuration, logger *logger.Logger) (*Client, error) {
	opts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid redis url").
			Mark(ierr.ErrValidation)
	}

	// Override with config values if provided
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB > 0 {
		opts.DB = cfg.Redis.DB
	}
	if cfg.Redis.MaxRetries > 0 {
		opts.MaxRetries = cfg.Redis.MaxRetries
	}
	if cfg.Redis.PoolSize > 0 {
		opts.PoolSize = cfg.Redis.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := NewFromClient(goredis.NewClient(opts), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to redis").
			Mark(ierr.ErrDatabase)
	}

	logger.Infow("connected to redis", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// NewFromClient wraps an existing go-redis client, tests use it with miniredis
func NewFromClient(client *goredis.Client, logger *logger.Logger) *Client {
	return &Client{Client: client, logger: logger}
}
