// Package config loads service settings from the environment, optionally
// overlaid by a TOML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"marginalia/internal/rbac"
	"marginalia/internal/store"
)

const (
	CollabMemory    = "memory"
	CollabRedis     = "redis"
	CollabWebSocket = "websocket"
)

type Config struct {
	Addr          string `toml:"addr"`
	CORSOrigin    string `toml:"cors_origin"`
	StoreBackend  string `toml:"store_backend"`
	DatabaseURL   string `toml:"database_url"`
	BoltPath      string `toml:"bolt_path"`
	MigrationsDir string `toml:"migrations_dir"`
	SnapshotDir   string `toml:"snapshot_dir"`
	Snapshots     bool   `toml:"snapshots"`
	HistoryLimit  int    `toml:"history_limit"`

	MeiliURL       string `toml:"meili_url"`
	MeiliMasterKey string `toml:"meili_master_key"`

	CollabBackend string `toml:"collab_backend"`
	RedisURL      string `toml:"redis_url"`
	// RelayURL is the /ws endpoint of another instance, for the websocket backend.
	RelayURL string `toml:"relay_url"`

	LogLevel    string `toml:"log_level"`
	DefaultRole string `toml:"default_role"`
	// TokenSecret, when set, makes the API require signed bearer tokens
	// instead of trusting the user and role headers.
	TokenSecret string `toml:"token_secret"`

	ChromePath           string `toml:"chrome_path"`
	ExportTimeoutSeconds int    `toml:"export_timeout_seconds"`
}

// Load reads the environment and then the TOML file named by
// MARGINALIA_CONFIG, whose keys win. It does not validate.
func Load() (Config, error) {
	cfg := Config{
		Addr:          getenv("MARGINALIA_ADDR", ":8787"),
		CORSOrigin:    getenv("MARGINALIA_CORS_ORIGIN", "*"),
		StoreBackend:  getenv("MARGINALIA_STORE", store.BackendBolt),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		BoltPath:      getenv("MARGINALIA_BOLT_PATH", "./data/marginalia.db"),
		MigrationsDir: getenv("MARGINALIA_MIGRATIONS_DIR", "./db/migrations"),
		SnapshotDir:   getenv("MARGINALIA_SNAPSHOT_DIR", "./data/snapshots"),
		Snapshots:     getenvBool("MARGINALIA_SNAPSHOTS", true),
		HistoryLimit:  getenvInt("MARGINALIA_HISTORY_LIMIT", 100),

		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),

		CollabBackend: getenv("MARGINALIA_COLLAB", CollabMemory),
		RedisURL:      getenv("REDIS_URL", ""),
		RelayURL:      getenv("MARGINALIA_RELAY_URL", ""),

		LogLevel:    getenv("MARGINALIA_LOG_LEVEL", "info"),
		DefaultRole: getenv("MARGINALIA_DEFAULT_ROLE", string(rbac.RoleCommenter)),
		TokenSecret: getenv("MARGINALIA_TOKEN_SECRET", ""),

		ChromePath:           getenv("MARGINALIA_CHROME_PATH", ""),
		ExportTimeoutSeconds: getenvInt("MARGINALIA_EXPORT_TIMEOUT_SECONDS", 30),
	}
	if path := strings.TrimSpace(os.Getenv("MARGINALIA_CONFIG")); path != "" {
		if err := readTOML(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return cfg, nil
}

func readTOML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case store.BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case store.BackendBolt:
		if c.BoltPath == "" {
			return errors.New("MARGINALIA_BOLT_PATH is required for the bolt store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	switch c.CollabBackend {
	case CollabMemory:
	case CollabRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for redis collaboration")
		}
	case CollabWebSocket:
		if c.RelayURL == "" {
			return errors.New("MARGINALIA_RELAY_URL is required for websocket collaboration")
		}
	default:
		return fmt.Errorf("unknown collaboration backend %q", c.CollabBackend)
	}
	if c.Snapshots && c.SnapshotDir == "" {
		return errors.New("MARGINALIA_SNAPSHOT_DIR is required when snapshots are enabled")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, ok := rbac.Parse(c.DefaultRole); !ok {
		return fmt.Errorf("unknown default role %q", c.DefaultRole)
	}
	if c.ExportTimeoutSeconds <= 0 {
		return errors.New("export timeout must be positive")
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

func (c Config) Role() rbac.Role {
	return rbac.Normalize(c.DefaultRole, rbac.RoleViewer)
}

func (c Config) ExportTimeout() time.Duration {
	return time.Duration(c.ExportTimeoutSeconds) * time.Second
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
