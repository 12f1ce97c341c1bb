/*
Package config loads server configuration from the environment.

PURPOSE:
  A .env file in the working directory is loaded first when present, then
  every setting is read from environment variables with a default.
  Command-line flags in cmd/server override Port and DBPath.

VARIABLES:
  APP_ENV                        development | production (default development)
  PORT                           HTTP port (default 8080)
  DB_PATH                        SQLite path, ":memory:" allowed (default commission.db)
  LOG_LEVEL                      debug | info | warn | error (default info)
  CORS_ORIGINS                   comma-separated origins (default *)
  CALC_WORKERS                   parallel policy workers per run (default 4)
  SYNC_INTERVAL                  scheduler period, 0 disables (default 0)
  SYNC_ORGS                      comma-separated org IDs synced by the scheduler
  GRID_ENFORCE_EFFECTIVE_WINDOW  filter grid rows by effective dates (default false)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the server configuration.
type Config struct {
	Server ServerConfig
	DB     DBConfig
	Log    LogConfig
	Engine EngineConfig
	Sync   SyncConfig
}

type ServerConfig struct {
	Port        int
	Env         string
	CORSOrigins []string
}

type DBConfig struct {
	Path string
}

type LogConfig struct {
	Level string
}

type EngineConfig struct {
	Workers                int
	EnforceEffectiveWindow bool
}

type SyncConfig struct {
	Interval time.Duration
	Orgs     []string
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment without touching .env.
func FromEnv() (*Config, error) {
	port, err := envInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	workers, err := envInt("CALC_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	interval, err := envDuration("SYNC_INTERVAL", 0)
	if err != nil {
		return nil, err
	}
	enforce, err := envBool("GRID_ENFORCE_EFFECTIVE_WINDOW", false)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	return &Config{
		Server: ServerConfig{
			Port:        port,
			Env:         envString("APP_ENV", "development"),
			CORSOrigins: envList("CORS_ORIGINS", []string{"*"}),
		},
		DB:  DBConfig{Path: envString("DB_PATH", "commission.db")},
		Log: LogConfig{Level: envString("LOG_LEVEL", "info")},
		Engine: EngineConfig{
			Workers:                workers,
			EnforceEffectiveWindow: enforce,
		},
		Sync: SyncConfig{
			Interval: interval,
			Orgs:     envList("SYNC_ORGS", nil),
		},
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
