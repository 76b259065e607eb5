package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides, e.g. REKINDLE_SERVER_PORT
// or REKINDLE_GENERATION_USER_TIMEOUT. Keys are derived from field names with
// split_words; there are no bare envconfig tags, so unprefixed variables such
// as PATH or PORT are never read.
const EnvPrefix = "REKINDLE"

// Config holds all rekindle configuration.
// Precedence: Default(), then the TOML file, then REKINDLE_* environment variables.
type Config struct {
	Server        ServerConfig        `toml:"server" split_words:"true"`
	Database      DatabaseConfig      `toml:"database" split_words:"true"`
	Generation    GenerationConfig    `toml:"generation" split_words:"true"`
	Scoring       ScoringConfig       `toml:"scoring" split_words:"true"`
	Collaborators CollaboratorsConfig `toml:"collaborators" split_words:"true"`
	Outbox        OutboxConfig        `toml:"outbox" split_words:"true"`
	Log           LogConfig           `toml:"log" split_words:"true"`
}

type ServerConfig struct {
	Bind string `toml:"bind" split_words:"true"`
	Port int    `toml:"port" split_words:"true"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver" split_words:"true"` // "sqlite" or "postgres"
	Path   string `toml:"path" split_words:"true"`   // sqlite file
	DSN    string `toml:"dsn" split_words:"true"`    // postgres connection string
}

type GenerationConfig struct {
	Interval          time.Duration `toml:"interval" split_words:"true"`
	Workers           int           `toml:"workers" split_words:"true"`
	UserTimeout       time.Duration `toml:"user_timeout" split_words:"true"`
	Bucket            time.Duration `toml:"bucket" split_words:"true"`
	LookaheadDays     int           `toml:"lookahead_days" split_words:"true"`
	MaxPending        int           `toml:"max_pending" split_words:"true"`
	GroupThreshold    float64       `toml:"group_threshold" split_words:"true"`
	IndividualMinutes int           `toml:"individual_minutes" split_words:"true"`
	GroupExtraMinutes int           `toml:"group_extra_minutes" split_words:"true"`
	GroupBonus        float64       `toml:"group_bonus" split_words:"true"`
	PriorityGroups    []string      `toml:"priority_groups" split_words:"true"`
	RecentlyMetDays   int           `toml:"recently_met_days" split_words:"true"`
}

// ScoringConfig holds shared-context weights. Each category scores Per points
// per common item up to Cap; the sum is capped at Total.
type ScoringConfig struct {
	GroupPer     float64 `toml:"group_per" split_words:"true"`
	GroupCap     float64 `toml:"group_cap" split_words:"true"`
	TagPer       float64 `toml:"tag_per" split_words:"true"`
	TagCap       float64 `toml:"tag_cap" split_words:"true"`
	CoMentionPer float64 `toml:"comention_per" split_words:"true"`
	CoMentionCap float64 `toml:"comention_cap" split_words:"true"`
	InterestPer  float64 `toml:"interest_per" split_words:"true"`
	InterestCap  float64 `toml:"interest_cap" split_words:"true"`
	Total        float64 `toml:"total" split_words:"true"`
}

type CollaboratorsConfig struct {
	AvailabilityURL string        `toml:"availability_url" split_words:"true"`
	AnchorsURL      string        `toml:"anchors_url" split_words:"true"`
	Timeout         time.Duration `toml:"timeout" split_words:"true"`
}

type OutboxConfig struct {
	Interval     time.Duration `toml:"interval" split_words:"true"`
	BatchSize    int           `toml:"batch_size" split_words:"true"`
	MaxAttempts  int           `toml:"max_attempts" split_words:"true"`
	Publisher    string        `toml:"publisher" split_words:"true"` // "log" or "kafka"
	KafkaBrokers []string      `toml:"kafka_brokers" split_words:"true"`
	KafkaTopic   string        `toml:"kafka_topic" split_words:"true"`
}

type LogConfig struct {
	Level string `toml:"level" split_words:"true"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38888,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "", // resolved at runtime via store.DefaultDBPath()
		},
		Generation: GenerationConfig{
			Interval:          time.Hour,
			Workers:           4,
			UserTimeout:       30 * time.Second,
			Bucket:            7 * 24 * time.Hour,
			LookaheadDays:     7,
			MaxPending:        5,
			GroupThreshold:    50,
			IndividualMinutes: 30,
			GroupExtraMinutes: 30,
			GroupBonus:        0.2,
			PriorityGroups:    []string{"Close Friends"},
			RecentlyMetDays:   14,
		},
		Scoring: ScoringConfig{
			GroupPer:     25,
			GroupCap:     50,
			TagPer:       10,
			TagCap:       30,
			CoMentionPer: 5,
			CoMentionCap: 25,
			InterestPer:  8,
			InterestCap:  24,
			Total:        100,
		},
		Collaborators: CollaboratorsConfig{
			Timeout: 10 * time.Second,
		},
		Outbox: OutboxConfig{
			Interval:    2 * time.Second,
			BatchSize:   100,
			MaxAttempts: 10,
			Publisher:   "log",
			KafkaTopic:  "rekindle.effects",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the TOML file at path (skipped when empty or missing) over the
// defaults and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings generation cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	g := c.Generation
	if g.Workers < 1 {
		return fmt.Errorf("generation.workers must be at least 1")
	}
	if g.Bucket <= 0 || g.UserTimeout <= 0 || g.Interval <= 0 {
		return fmt.Errorf("generation durations must be positive")
	}
	if g.LookaheadDays < 1 {
		return fmt.Errorf("generation.lookahead_days must be at least 1")
	}
	if g.MaxPending < 0 {
		return fmt.Errorf("generation.max_pending must not be negative")
	}
	if g.IndividualMinutes < 1 || g.GroupExtraMinutes < 0 {
		return fmt.Errorf("generation meeting durations out of range")
	}

	switch c.Outbox.Publisher {
	case "log":
	case "kafka":
		if len(c.Outbox.KafkaBrokers) == 0 || c.Outbox.KafkaTopic == "" {
			return fmt.Errorf("outbox.kafka_brokers and outbox.kafka_topic required for kafka publisher")
		}
	default:
		return fmt.Errorf("unknown outbox.publisher %q", c.Outbox.Publisher)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// RecentlyMetWindow is how long an accepted meeting suppresses a contact's priority.
func (c *Config) RecentlyMetWindow() time.Duration {
	return time.Duration(c.Generation.RecentlyMetDays) * 24 * time.Hour
}
