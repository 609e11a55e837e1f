package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	redisi "github.com/redis/go-redis/v9"
	"github.com/whookdev/sharedrelay/internal/config"
)

type RedisServer struct {
	cfg    *config.Config
	Client *redisi.Client
	logger *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) (*RedisServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis url cannot be empty")
	}
	logger = logger.With("component", "redis")

	rs := &RedisServer{
		cfg:    cfg,
		logger: logger,
	}

	return rs, nil
}

func (rs *RedisServer) Start(ctx context.Context) error {
	opts, err := clientOptions(rs.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	rs.Client = redisi.NewClient(opts)

	if err := rs.Client.Ping(ctx).Err(); err != nil {
		rs.logger.Error("failed to connect to redis", "error", err)
		return err
	}

	rs.logger.Info("redis connection established successfully", "addr", rs.cfg.RedisURL)
	return nil
}

// clientOptions accepts either a bare host:port or a redis:// URL.
func clientOptions(redisURL string) (*redisi.Options, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		return redisi.ParseURL(redisURL)
	}
	return &redisi.Options{
		Addr:     redisURL,
		Password: "",
		DB:       0,
	}, nil
}

func (rs *RedisServer) Stop() error {
	if rs.Client != nil {
		if err := rs.Client.Close(); err != nil {
			rs.logger.Error("failed to close redis connection", "error", err)
			return fmt.Errorf("failed to close redis connection: %w", err)
		}
		rs.logger.Info("redis connection closed successfully")
	}
	return nil
}
