package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whookdev/sharedrelay/internal/config"
	"github.com/whookdev/sharedrelay/internal/lifecycle"
	"github.com/whookdev/sharedrelay/internal/redis"
	"github.com/whookdev/sharedrelay/internal/relay"
	"github.com/whookdev/sharedrelay/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := initiateApp(); err != nil {
		logger.Error("error in app lifecycle", "error", err)
		os.Exit(1)
	}
}

func initiateApp() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger = logger.With("server_id", cfg.ServerID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("creating cookie jar: %w", err)
	}

	rl, err := relay.New(relay.NewHTTPFetcher(jar), logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	srv, err := server.New(cfg, rl, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	registryDone, stopRedis, err := startRegistry(ctx, cfg, srv.ActiveConnections, logger)
	if err != nil {
		return err
	}
	defer stopRedis()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	logger.Info("starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	select {
	case <-registryDone:
		logger.Info("registry cleanup complete")
	case <-shutdownCtx.Done():
		logger.Error("registry cleanup timed out")
	}

	return nil
}

// startRegistry registers the relay in redis when REDIS_URL is set. The
// returned channel closes once the registration has been removed.
func startRegistry(ctx context.Context, cfg *config.Config, load lifecycle.LoadFunc, logger *slog.Logger) (<-chan struct{}, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, relay registry disabled")
		done := make(chan struct{})
		close(done)
		return done, func() {}, nil
	}

	rdb, err := redis.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating redis client: %w", err)
	}

	if err := rdb.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("connecting to redis server: %w", err)
	}

	stop := func() {
		if err := rdb.Stop(); err != nil {
			logger.Error("error stopping redis", "error", err)
		}
	}

	lc, err := lifecycle.New(cfg, rdb.Client, load, logger)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("creating lifecycle: %w", err)
	}

	if err = lc.RegisterWithConductor(ctx); err != nil {
		stop()
		return nil, nil, fmt.Errorf("registering with conductor: %w", err)
	}

	return lc.MaintainRegistration(ctx), stop, nil
}
