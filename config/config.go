package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

type Config struct {
	RPCAddress         string    `toml:"RPCAddress"`
	DataDir            string    `toml:"DataDir"`
	Backend            string    `toml:"Backend"`
	AuthToken          string    `toml:"AuthToken"`
	AuthTokenEnv       string    `toml:"AuthTokenEnv"`
	RateLimitPerMinute float64   `toml:"RateLimitPerMinute"`
	RateLimitBurst     int       `toml:"RateLimitBurst"`
	TickSeconds        uint64    `toml:"TickSeconds"`
	Mining             Mining    `toml:"mining"`
	Skills             Skills    `toml:"skills"`
	Logging            Logging   `toml:"logging"`
	Telemetry          Telemetry `toml:"telemetry"`
	Genesis            Genesis   `toml:"genesis"`
	JWT                JWT       `toml:"jwt"`
	Events             Events    `toml:"events"`
	Archive            Archive   `toml:"archive"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}

	applyDefaults(cfg)
	if cfg.AuthTokenEnv == "" {
		if err := ensureAuthToken(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveAuthToken returns the RPC token, preferring AuthTokenEnv.
func (c *Config) ResolveAuthToken() string {
	if env := strings.TrimSpace(c.AuthTokenEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return strings.TrimSpace(c.AuthToken)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8547"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./arbiter-data"
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = "leveldb"
	}
	if cfg.TickSeconds == 0 {
		cfg.TickSeconds = 5
	}
	cfg.Mining.applyDefaults()
	if len(cfg.Skills.Roots) == 0 {
		cfg.Skills.Roots = []uint64{1}
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Events.Enabled && cfg.Events.Buffer == 0 {
		cfg.Events.Buffer = 64
	}
	if strings.TrimSpace(cfg.Archive.DSN) != "" && strings.TrimSpace(cfg.Archive.Driver) == "" {
		cfg.Archive.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = "arbiterd"
	}
}

// ensureAuthToken generates and persists a token when the file has none.
func ensureAuthToken(configPath string, cfg *Config) error {
	if strings.TrimSpace(cfg.AuthToken) != "" {
		return nil
	}
	cfg.AuthToken = uuid.NewString()
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{AuthToken: uuid.NewString()}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// DatabasePath returns where the configured backend keeps its files.
func (c *Config) DatabasePath() string {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "bolt", "bbolt":
		return filepath.Join(c.DataDir, "arbiter.db")
	default:
		return filepath.Join(c.DataDir, "arbiter")
	}
}
