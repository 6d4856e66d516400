package minerd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"repchain/native/reputation"
	"repchain/storage"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config captures the runtime configuration for minerd.
type Config struct {
	Arbiter        string         `yaml:"arbiter"`
	DataDir        string         `yaml:"data_dir"`
	Backend        string         `yaml:"backend"`
	Keystore       KeystoreConfig `yaml:"keystore"`
	PollInterval   Duration       `yaml:"poll_interval"`
	RequestTimeout Duration       `yaml:"request_timeout"`
	Entries        uint64         `yaml:"entries"`
	KeepCycles     uint64         `yaml:"keep_cycles"`
	Decay          DecayConfig    `yaml:"decay"`
	Skills         SkillsConfig   `yaml:"skills"`
	Logging        LoggingConfig  `yaml:"logging"`
	Metrics        MetricsConfig  `yaml:"metrics"`
	// Events subscribes to the arbiter's websocket stream so phase changes
	// trigger a poll instead of waiting for the next tick.
	Events bool `yaml:"events"`
}

// KeystoreConfig locates the miner key.
type KeystoreConfig struct {
	Path          string `yaml:"path"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

// DecayConfig mirrors the arbiter's decay rate.
type DecayConfig struct {
	Numerator   uint64 `yaml:"numerator"`
	Denominator uint64 `yaml:"denominator"`
}

// Rate converts the configuration into a reputation.DecayRate.
func (d DecayConfig) Rate() reputation.DecayRate {
	return reputation.DecayRate{Numerator: d.Numerator, Denominator: d.Denominator}
}

// SkillsConfig describes the skill hierarchy the arbiter expands log
// entries with.
type SkillsConfig struct {
	Roots []uint64    `yaml:"roots"`
	Edges []SkillEdge `yaml:"edges"`
}

// SkillEdge attaches a skill below its parent.
type SkillEdge struct {
	Skill  uint64 `yaml:"skill"`
	Parent uint64 `yaml:"parent"`
}

// Tree builds the skill tree.
func (s SkillsConfig) Tree() (*reputation.StaticSkillTree, error) {
	edges := make([]reputation.SkillEdge, len(s.Edges))
	for i, e := range s.Edges {
		edges[i] = reputation.SkillEdge{Skill: e.Skill, Parent: e.Parent}
	}
	return reputation.BuildSkillTree(s.Roots, edges)
}

// LoggingConfig selects the log sink.
type LoggingConfig struct {
	Env        string `yaml:"env"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// DefaultConfig returns a configuration pointing at a local arbiter.
func DefaultConfig() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Arbiter == "" {
		cfg.Arbiter = "http://127.0.0.1:8547"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./miner-data"
	}
	if cfg.Backend == "" {
		cfg.Backend = "bolt"
	}
	if cfg.Keystore.Path == "" {
		cfg.Keystore.Path = filepath.Join(cfg.DataDir, "miner.keystore")
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = 5 * time.Second
	}
	if cfg.RequestTimeout.Duration == 0 {
		cfg.RequestTimeout.Duration = 10 * time.Second
	}
	if cfg.Entries == 0 {
		cfg.Entries = 1
	}
	if cfg.KeepCycles == 0 {
		cfg.KeepCycles = 4
	}
	if cfg.Decay.Denominator == 0 && cfg.Decay.Numerator == 0 {
		cfg.Decay = DecayConfig{
			Numerator:   reputation.DefaultDecayRate.Numerator,
			Denominator: reputation.DefaultDecayRate.Denominator,
		}
	}
	if len(cfg.Skills.Roots) == 0 {
		cfg.Skills.Roots = []uint64{1}
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Arbiter) == "" {
		return fmt.Errorf("arbiter endpoint must be configured")
	}
	if !strings.HasPrefix(c.Arbiter, "http://") && !strings.HasPrefix(c.Arbiter, "https://") {
		return fmt.Errorf("arbiter endpoint must be an http(s) URL")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must be configured")
	}
	if c.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.Entries == 0 {
		return fmt.Errorf("entries must be positive")
	}
	if err := c.Decay.Rate().Validate(); err != nil {
		return err
	}
	if _, err := c.Skills.Tree(); err != nil {
		return fmt.Errorf("skills: %w", err)
	}
	return nil
}

// OpenDatabase opens the configured backend under DataDir.
func (c Config) OpenDatabase() (storage.Database, error) {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(c.DataDir, "tries")
	if c.Backend == "bolt" || c.Backend == "bbolt" {
		path = filepath.Join(c.DataDir, "tries.db")
	}
	return storage.Open(c.Backend, path)
}
