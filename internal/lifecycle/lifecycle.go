package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/whookdev/sharedrelay/internal/config"
)

const (
	registryKey              = "relay_servers"
	defaultHeartbeatInterval = 15 * time.Second
)

// LoadFunc reports the current number of connected ports.
type LoadFunc func() int

type Lifecycle struct {
	cfg    *config.Config
	logger *slog.Logger
	rdb    *redis.Client
	load   LoadFunc
}

type ServerInfo struct {
	Load          int       `json:"load"`
	WSAddr        string    `json:"ws_addr"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func New(cfg *config.Config, redis *redis.Client, load LoadFunc, logger *slog.Logger) (*Lifecycle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if redis == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if load == nil {
		load = func() int { return 0 }
	}

	logger = logger.With("component", "lifecycle")

	lc := &Lifecycle{
		cfg:    cfg,
		rdb:    redis,
		load:   load,
		logger: logger,
	}

	return lc, nil
}

func (lc *Lifecycle) RegisterWithConductor(ctx context.Context) error {
	info, err := lc.writeInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to register with conductor: %w", err)
	}

	lc.logger.Info("registered with conductor", "info", info)
	return nil
}

func (lc *Lifecycle) MaintainRegistration(ctx context.Context) chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		interval := lc.cfg.HealthCheckInterval
		if interval <= 0 {
			interval = defaultHeartbeatInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := lc.updateHeartbeat(ctx); err != nil {
			lc.logger.Error("failed initial heartbeat", "error", err)
		}
		lc.logger.Info("heartbeat routine started")

		for {
			select {
			case <-ticker.C:
				if err := lc.updateHeartbeat(ctx); err != nil {
					lc.logger.Error("failed heartbeat", "error", err)
				}
			case <-ctx.Done():
				lc.logger.Info("context cancelled, cleaning up relay registration")
				if err := lc.deregisterFromConductor(); err != nil {
					lc.logger.Error("failed to de-register from conductor", "error", err)
				} else {
					lc.logger.Info("de-registered from conductor")
				}
				lc.logger.Info("heartbeat routine stopped")
				return
			}
		}
	}()

	return done
}

// ListServers returns every registered relay keyed by server id. Entries
// that cannot be decoded are skipped.
func (lc *Lifecycle) ListServers(ctx context.Context) (map[string]ServerInfo, error) {
	entries, err := lc.rdb.HGetAll(ctx, registryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list relay servers: %w", err)
	}

	servers := make(map[string]ServerInfo, len(entries))
	for id, raw := range entries {
		var info ServerInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			lc.logger.Warn("skipping malformed registry entry", "server_id", id, "error", err)
			continue
		}
		servers[id] = info
	}
	return servers, nil
}

// Uses a fresh context: the caller's has already been cancelled.
func (lc *Lifecycle) deregisterFromConductor() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := lc.rdb.HDel(ctx,
		registryKey,
		lc.cfg.ServerID)
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to de-register from conductor: %w", err)
	}
	return nil
}

func (lc *Lifecycle) updateHeartbeat(ctx context.Context) error {
	info, err := lc.writeInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	lc.logger.Debug("heartbeat update", "server_id", lc.cfg.ServerID, "info", info)
	return nil
}

func (lc *Lifecycle) writeInfo(ctx context.Context) (*ServerInfo, error) {
	info := &ServerInfo{
		Load:          lc.load(),
		WSAddr:        fmt.Sprintf("%s:%d", lc.cfg.Host, lc.cfg.WSPort),
		LastHeartbeat: time.Now().UTC(),
	}

	val, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal server info: %w", err)
	}

	if err := lc.rdb.HSet(ctx, registryKey, lc.cfg.ServerID, string(val)).Err(); err != nil {
		return nil, err
	}
	return info, nil
}
