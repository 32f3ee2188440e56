package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lazypower/retain/internal/engine"
	"github.com/lazypower/retain/internal/retention"
)

// Tracker backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all retain configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Retention RetentionConfig `yaml:"retention"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Bind         string        `yaml:"bind"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RetentionConfig mirrors retention.Params.
type RetentionConfig struct {
	DecayRate           float64 `yaml:"decay_rate"` // per day
	InitialRetention    float64 `yaml:"initial_retention"`
	ReinforcementFactor float64 `yaml:"reinforcement_factor"`
	WorkingThreshold    float64 `yaml:"working_threshold"`
	ShortTermThreshold  float64 `yaml:"short_term_threshold"`
	LongTermThreshold   float64 `yaml:"long_term_threshold"`
}

type RankingConfig struct {
	ReinforceOnReturn bool          `yaml:"reinforce_on_return"`
	Concurrency       int           `yaml:"concurrency"`
	ReinforceTimeout  time.Duration `yaml:"reinforce_timeout"`
}

// SweepConfig holds the cleanup cutoffs: below prune_threshold a memory is
// a deletion candidate, below archive_threshold an archive candidate.
type SweepConfig struct {
	PruneThreshold   float64 `yaml:"prune_threshold"`
	ArchiveThreshold float64 `yaml:"archive_threshold"`
}

type TrackerConfig struct {
	Backend string       `yaml:"backend"` // "memory", "sqlite", "redis"
	Shards  int          `yaml:"shards"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Redis   RedisConfig  `yaml:"redis"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"` // empty = store.DefaultDBPath()
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json", "console"
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	p := retention.DefaultParams()
	sw := engine.DefaultSweepThresholds()
	return Config{
		Server: ServerConfig{
			Bind:         "127.0.0.1",
			Port:         37780,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  2 * time.Minute,
		},
		Retention: RetentionConfig{
			DecayRate:           p.DecayRate,
			InitialRetention:    p.InitialRetention,
			ReinforcementFactor: p.ReinforcementFactor,
			WorkingThreshold:    p.Thresholds.Working,
			ShortTermThreshold:  p.Thresholds.ShortTerm,
			LongTermThreshold:   p.Thresholds.LongTerm,
		},
		Ranking: RankingConfig{
			ReinforceOnReturn: true,
			Concurrency:       8,
			ReinforceTimeout:  2 * time.Second,
		},
		Sweep: SweepConfig{
			PruneThreshold:   sw.Prune,
			ArchiveThreshold: sw.Archive,
		},
		Tracker: TrackerConfig{
			Backend: BackendMemory,
			Shards:  64,
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "retain:reinforcement",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads a YAML config file over the defaults, expanding ${VAR}
// references first, then applies RETAIN_* overrides. An empty path
// yields the defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from RETAIN_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	floats := []struct {
		name string
		dst  *float64
	}{
		{"RETAIN_DECAY_RATE", &c.Retention.DecayRate},
		{"RETAIN_INITIAL_RETENTION", &c.Retention.InitialRetention},
		{"RETAIN_REINFORCEMENT_FACTOR", &c.Retention.ReinforcementFactor},
		{"RETAIN_WORKING_THRESHOLD", &c.Retention.WorkingThreshold},
		{"RETAIN_SHORT_TERM_THRESHOLD", &c.Retention.ShortTermThreshold},
		{"RETAIN_LONG_TERM_THRESHOLD", &c.Retention.LongTermThreshold},
		{"RETAIN_PRUNE_THRESHOLD", &c.Sweep.PruneThreshold},
		{"RETAIN_ARCHIVE_THRESHOLD", &c.Sweep.ArchiveThreshold},
	}
	for _, f := range floats {
		v, ok := lookup(f.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = n
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"RETAIN_TRACKER_BACKEND", &c.Tracker.Backend},
		{"RETAIN_DB", &c.Tracker.SQLite.Path},
		{"RETAIN_REDIS_ADDR", &c.Tracker.Redis.Addr},
		{"RETAIN_REDIS_PASSWORD", &c.Tracker.Redis.Password},
		{"RETAIN_LOG_LEVEL", &c.Logging.Level},
		{"RETAIN_BIND", &c.Server.Bind},
	}
	for _, s := range strs {
		if v, ok := lookup(s.name); ok && v != "" {
			*s.dst = v
		}
	}

	if v, ok := lookup("RETAIN_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RETAIN_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks the surface settings. Retention parameters are checked by
// RetentionConfig.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch strings.ToLower(c.Tracker.Backend) {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if c.Tracker.Redis.Addr == "" {
			return fmt.Errorf("tracker.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown tracker backend %q", c.Tracker.Backend)
	}
	if c.Tracker.Shards < 0 {
		return fmt.Errorf("invalid tracker shards: %d", c.Tracker.Shards)
	}
	if c.Ranking.Concurrency < 1 {
		return fmt.Errorf("invalid ranking concurrency: %d", c.Ranking.Concurrency)
	}
	if c.Ranking.ReinforceTimeout < 0 {
		return fmt.Errorf("invalid reinforce timeout: %s", c.Ranking.ReinforceTimeout)
	}
	if err := c.SweepThresholds().Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /: %q", c.Metrics.Path)
	}
	if _, err := c.RetentionConfig(); err != nil {
		return err
	}
	return nil
}

// RetentionConfig builds the validated retention model parameters.
func (c *Config) RetentionConfig() (retention.Config, error) {
	r := c.Retention
	return retention.NewConfig(retention.Params{
		DecayRate:           r.DecayRate,
		InitialRetention:    r.InitialRetention,
		ReinforcementFactor: r.ReinforcementFactor,
		Thresholds: retention.Thresholds{
			Working:   r.WorkingThreshold,
			ShortTerm: r.ShortTermThreshold,
			LongTerm:  r.LongTermThreshold,
		},
	})
}

// SweepThresholds returns the configured cleanup cutoffs.
func (c *Config) SweepThresholds() engine.SweepThresholds {
	return engine.SweepThresholds{Prune: c.Sweep.PruneThreshold, Archive: c.Sweep.ArchiveThreshold}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
