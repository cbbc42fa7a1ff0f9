package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds planrun CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
	PoolSize int    `json:"pool_size"`
}

func defaultConfig() Config {
	return Config{
		DBPath:   "", // empty means in-memory run history
		LogLevel: "info",
		PoolSize: 10,
	}
}

func planrunDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planrun"
	}
	return filepath.Join(home, ".planrun")
}

func settingsPath() string {
	return filepath.Join(planrunDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("PLANRUN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PLANRUN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PLANRUN_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}

	return cfg
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
