package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds the full TOML-driven setup configuration.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Scylla    ScyllaConfig    `toml:"scylla"`
	Migration MigrationConfig `toml:"migration"`

	lockTimeout    time.Duration
	connectTimeout time.Duration
}

// PostgresConfig identifies the relational source endpoint.
type PostgresConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	SourceSchema string `toml:"source_schema"`
	FDWSchema    string `toml:"fdw_schema"`
	LockMode     string `toml:"lock_mode"`
}

// ScyllaConfig identifies the wide-column target endpoint. FDWHost is
// the ScyllaDB address as seen from the PostgreSQL host, which can
// differ from Host when the databases run in containers (the bridge
// connects directly, not through this process).
type ScyllaConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Keyspace string `toml:"keyspace"`
	FDWHost  string `toml:"fdw_host"`
}

// MigrationConfig controls the worker pool and backfill behavior.
type MigrationConfig struct {
	Workers        int    `toml:"workers"`
	SkipBackfill   bool   `toml:"skip_backfill"`
	LockTimeout    string `toml:"lock_timeout"`
	ConnectTimeout string `toml:"connect_timeout"`
}

func defaultConfig() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			User:         "postgres",
			Password:     "postgres",
			Database:     "postgres",
			SourceSchema: "public",
			FDWSchema:    "scylla_fdw",
			LockMode:     "SHARE ROW EXCLUSIVE",
		},
		Scylla: ScyllaConfig{
			Host:     "localhost",
			Port:     9042,
			Keyspace: "migration",
			FDWHost:  "scylladb-migration-target",
		},
		Migration: MigrationConfig{
			Workers:        4,
			LockTimeout:    "30s",
			ConnectTimeout: "10s",
		},
	}
}

// loadConfig reads a TOML config file and returns a Config with
// defaults applied and enumerated options validated. A .env file next
// to the working directory is honored, and the two passwords can be
// overridden from the environment so they need not live in the file.
func loadConfig(path string) (*Config, error) {
	// Missing .env is fine; it only exists in dev setups.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaultConfig()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	if v := os.Getenv("PG2SCYLLA_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PG2SCYLLA_SCYLLA_PASSWORD"); v != "" {
		cfg.Scylla.Password = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Postgres.LockMode = strings.ToUpper(strings.TrimSpace(c.Postgres.LockMode))
	if !lockModes[c.Postgres.LockMode] {
		return fmt.Errorf("postgres.lock_mode must be one of: ACCESS SHARE, ROW SHARE, ROW EXCLUSIVE, SHARE UPDATE EXCLUSIVE, SHARE, SHARE ROW EXCLUSIVE, EXCLUSIVE, ACCESS EXCLUSIVE")
	}

	if c.Postgres.Host == "" {
		return fmt.Errorf("postgres.host is required")
	}
	if c.Postgres.SourceSchema == "" {
		return fmt.Errorf("postgres.source_schema is required")
	}
	if c.Postgres.FDWSchema == "" {
		return fmt.Errorf("postgres.fdw_schema is required")
	}
	if c.Postgres.SourceSchema == c.Postgres.FDWSchema {
		return fmt.Errorf("postgres.fdw_schema must differ from postgres.source_schema")
	}
	if c.Scylla.Host == "" {
		return fmt.Errorf("scylla.host is required")
	}
	if c.Scylla.Keyspace == "" {
		return fmt.Errorf("scylla.keyspace is required")
	}
	if c.Scylla.User == "" && c.Scylla.Password != "" {
		return fmt.Errorf("scylla.password requires scylla.user")
	}

	if c.Migration.Workers <= 0 {
		c.Migration.Workers = 4
	}

	var err error
	if c.lockTimeout, err = time.ParseDuration(c.Migration.LockTimeout); err != nil {
		return fmt.Errorf("migration.lock_timeout: %w", err)
	}
	if c.lockTimeout <= 0 {
		return fmt.Errorf("migration.lock_timeout must be positive")
	}
	if c.connectTimeout, err = time.ParseDuration(c.Migration.ConnectTimeout); err != nil {
		return fmt.Errorf("migration.connect_timeout: %w", err)
	}
	if c.connectTimeout <= 0 {
		return fmt.Errorf("migration.connect_timeout must be positive")
	}

	return nil
}

// postgresDSN builds the pgx connection URL for the source endpoint.
func (c *Config) postgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:   fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:   "/" + c.Postgres.Database,
	}
	secs := int(c.connectTimeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	q := url.Values{}
	q.Set("connect_timeout", fmt.Sprintf("%d", secs))
	u.RawQuery = q.Encode()
	return u.String()
}
