package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	Host     string
	ServerID string

	// Empty disables the relay registry.
	RedisURL string

	WSPort int

	// Empty allows connections from any origin.
	AllowedOrigins []string

	LogLevel slog.Level

	HealthCheckInterval time.Duration
}

func NewConfig() (*Config, error) {
	godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	port, err := strconv.Atoi(getEnvWithDefault("PORT", "3000"))
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	wsPort, err := strconv.Atoi(getEnvWithDefault("WS_PORT", "3001"))
	if err != nil {
		return nil, fmt.Errorf("invalid websocket port: %w", err)
	}

	interval, err := strconv.Atoi(getEnvWithDefault("HEALTH_CHECK_INTERVAL", "15"))
	if err != nil || interval <= 0 {
		return nil, fmt.Errorf("invalid health check interval %q", os.Getenv("HEALTH_CHECK_INTERVAL"))
	}

	level, err := parseLevel(getEnvWithDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	serverID, err := requireEnv("SERVER_ID")
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:                port,
		Host:                getEnvWithDefault("HOST", "0.0.0.0"),
		ServerID:            serverID,
		RedisURL:            os.Getenv("REDIS_URL"),
		WSPort:              wsPort,
		AllowedOrigins:      splitList(os.Getenv("ALLOWED_ORIGINS")),
		LogLevel:            level,
		HealthCheckInterval: time.Duration(interval) * time.Second,
	}, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}

	return val, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return defaultValue
}
