package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration required by the agent process.
// Values come from a TOML config file, with environment overrides for
// deployment-specific settings (secrets, paths, addresses).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig     `toml:"app"`
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	KV      KVConfig      `toml:"kv"`
	Poll    PollConfig    `toml:"poll"`
	Diag    DiagConfig    `toml:"diag"`
}

type AppConfig struct {
	Env     string `toml:"env"`
	DataDir string `toml:"data_dir"`
}

// ServerConfig describes the command backend the agent talks to.
type ServerConfig struct {
	BaseURL               string `toml:"base_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// StorageConfig selects the durable store backing the outbox, call outcomes
// and the call-record mirror. "sqlite" is the on-device default; "postgres"
// is for gateway deployments where the agent runs next to a database.
type StorageConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	DSN     string `toml:"dsn"`
}

// KVConfig selects the key-value store holding credentials and settings.
type KVConfig struct {
	Backend   string `toml:"backend"`
	Path      string `toml:"path"`
	RedisAddr string `toml:"redis_addr"`
}

type PollConfig struct {
	HeartbeatEveryCycles int `toml:"heartbeat_every_cycles"`
	OutboxEveryCycles    int `toml:"outbox_every_cycles"`
	LogEveryCycles       int `toml:"log_every_cycles"`
	LogBufferThreshold   int `toml:"log_buffer_threshold"`
	BackoffMaxLevel      int `toml:"backoff_max_level"`
}

// DiagConfig controls the local diagnostics HTTP server.
// Addr should stay on loopback; the server exposes internal state.
type DiagConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Load reads the config file named by AGENT_CONFIG (default
// /etc/callagent/agent.toml), applies env overrides, fills defaults and
// validates. A missing file is fine as long as env provides the required
// values.
func Load() (Config, error) {
	path := strings.TrimSpace(os.Getenv("AGENT_CONFIG"))
	if path == "" {
		path = "/etc/callagent/agent.toml"
	}
	return LoadFile(path)
}

func LoadFile(path string) (Config, error) {
	var c Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("AGENT_ENV")); v != "" {
		c.App.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_DATA_DIR")); v != "" {
		c.App.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_SERVER_URL")); v != "" {
		c.Server.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_STORAGE_DSN")); v != "" {
		c.Storage.Backend = "postgres"
		c.Storage.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_KV_REDIS_ADDR")); v != "" {
		c.KV.Backend = "redis"
		c.KV.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_DIAG_ADDR")); v != "" {
		c.Diag.Enabled = true
		c.Diag.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "production"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "/var/lib/callagent"
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		c.Server.RequestTimeoutSeconds = 15
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.App.DataDir, "agent.db")
	}
	if c.KV.Backend == "" {
		c.KV.Backend = "file"
	}
	if c.KV.Backend == "file" && c.KV.Path == "" {
		c.KV.Path = filepath.Join(c.App.DataDir, "credentials.json")
	}
	if c.Poll.HeartbeatEveryCycles <= 0 {
		c.Poll.HeartbeatEveryCycles = 10
	}
	if c.Poll.OutboxEveryCycles <= 0 {
		c.Poll.OutboxEveryCycles = 20
	}
	if c.Poll.LogEveryCycles <= 0 {
		c.Poll.LogEveryCycles = 120
	}
	if c.Poll.LogBufferThreshold <= 0 {
		c.Poll.LogBufferThreshold = 200
	}
	if c.Poll.BackoffMaxLevel <= 0 {
		c.Poll.BackoffMaxLevel = 10
	}
	if c.Diag.Enabled && c.Diag.Addr == "" {
		c.Diag.Addr = "127.0.0.1:8931"
	}
}

func (c Config) Validate() error {
	var errs []error

	if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("app.env must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.Server.BaseURL == "" {
		errs = append(errs, errors.New("server.base_url is required (or AGENT_SERVER_URL)"))
	} else if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("server.base_url must be an http(s) URL, got %q", c.Server.BaseURL))
	}

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be sqlite or postgres, got %q", c.Storage.Backend))
	}

	switch c.KV.Backend {
	case "file":
		if c.KV.Path == "" {
			errs = append(errs, errors.New("kv.path is required for the file backend"))
		}
	case "redis":
		if c.KV.RedisAddr == "" {
			errs = append(errs, errors.New("kv.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("kv.backend must be file or redis, got %q", c.KV.Backend))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
