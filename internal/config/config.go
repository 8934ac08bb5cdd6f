// Package config loads engine settings from TOML, .env and ESCROW_* variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"parimutuel-escrow/internal/bonus"
	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/oracle"
	pgstore "parimutuel-escrow/internal/storage/postgres"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the root configuration.
type Config struct {
	Store      string           `toml:"store"`
	Event      EventConfig      `toml:"event"`
	Selection  SelectionConfig  `toml:"selection"`
	Engine     EngineConfig     `toml:"engine"`
	Authority  AuthorityConfig  `toml:"authority"`
	Treasury   TreasuryConfig   `toml:"treasury"`
	Bonus      BonusConfig      `toml:"bonus"`
	Postgres   PostgresConfig   `toml:"postgres"`
	ClickHouse ClickHouseConfig `toml:"clickhouse"`
	Redis      RedisConfig      `toml:"redis"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Server     ServerConfig     `toml:"server"`
}

// EventConfig identifies the event commands operate on.
// Cutoff accepts RFC3339; CutoffMs wins when both are set.
type EventConfig struct {
	ID       int64  `toml:"id"`
	Name     string `toml:"name"`
	Cutoff   string `toml:"cutoff"`
	CutoffMs int64  `toml:"cutoff_ms"`
}

// Params resolves the event triple.
func (e EventConfig) Params() (domain.EventParams, error) {
	p := domain.EventParams{EventID: e.ID, EventName: e.Name, CutoffTime: e.CutoffMs}
	if p.CutoffTime == 0 && e.Cutoff != "" {
		t, err := time.Parse(time.RFC3339, e.Cutoff)
		if err != nil {
			return domain.EventParams{}, fmt.Errorf("event: cutoff %q: %w", e.Cutoff, err)
		}
		p.CutoffTime = t.UnixMilli()
	}
	if err := p.Validate(); err != nil {
		return domain.EventParams{}, err
	}
	return p, nil
}

// SelectionConfig bounds fund selection.
type SelectionConfig struct {
	MinFundValue int64 `toml:"min_fund_value"` // lovelace
	MaxInputs    int   `toml:"max_inputs"`
}

// EngineConfig holds engine limits.
type EngineConfig struct {
	MaxRetries     int      `toml:"max_retries"`
	MarkerLovelace int64    `toml:"marker_lovelace"`
	ReservationTTL duration `toml:"reservation_ttl"`
	RetryBackoff   duration `toml:"retry_backoff"`
}

// AuthorityConfig holds the oracle keys, base58 encoded.
// PrivateKey is only needed to issue capabilities.
type AuthorityConfig struct {
	PublicKey  string `toml:"public_key"`
	PrivateKey string `toml:"private_key"`
}

// TreasuryConfig controls who may sweep pots and where to.
// An empty PublicKey leaves sweeps to the settlement authority.
type TreasuryConfig struct {
	PublicKey   string   `toml:"public_key"`
	PrivateKey  string   `toml:"private_key"`
	Target      string   `toml:"target"`       // pinned sweep destination
	ClaimWindow duration `toml:"claim_window"` // 0 waits for every winner
}

// BonusConfig holds the token-sale tier table.
type BonusConfig struct {
	Tiers []bonus.Tier `toml:"tiers"`
}

// PostgresConfig holds the ledger store connection.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	RunMigrations   bool     `toml:"run_migrations"`
	MaxConns        int32    `toml:"max_conns"`
	MinConns        int32    `toml:"min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
}

// ClickHouseConfig holds the audit store connection. Empty DSN disables auditing.
type ClickHouseConfig struct {
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the fund reservation backend.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Prefix     string `toml:"prefix"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
}

// ServerConfig holds the HTTP listener of escrow serve.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Store: StoreMemory,
		Selection: SelectionConfig{
			MinFundValue: 1_000_000,
			MaxInputs:    10,
		},
		Engine: EngineConfig{
			MaxRetries:     3,
			MarkerLovelace: oracle.DefaultMarkerLovelace,
			ReservationTTL: duration{30 * time.Second},
			RetryBackoff:   duration{20 * time.Millisecond},
		},
		Bonus: BonusConfig{
			Tiers: append([]bonus.Tier(nil), bonus.DefaultTiers...),
		},
		Postgres: PostgresConfig{
			RunMigrations:   true,
			MaxConns:        10,
			MaxConnLifetime: duration{time.Hour},
		},
		ClickHouse: ClickHouseConfig{
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			Prefix:     "escrow:fund:",
		},
		Metrics: MetricsConfig{
			Namespace: "parimutuel_escrow",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, "postgres: dsn is required when store is postgres")
		}
		if c.Postgres.MaxConns < 0 || c.Postgres.MinConns < 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
			errs = append(errs, "postgres: need 0 <= min_conns <= max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: memory, postgres)", c.Store))
	}

	if c.Selection.MinFundValue < 0 {
		errs = append(errs, "selection: min_fund_value must not be negative")
	}
	if c.Selection.MaxInputs <= 0 {
		errs = append(errs, "selection: max_inputs must be positive")
	}

	if c.Engine.MaxRetries < 0 {
		errs = append(errs, "engine: max_retries must not be negative")
	}
	if c.Engine.MarkerLovelace <= 0 {
		errs = append(errs, "engine: marker_lovelace must be positive")
	}
	if c.Engine.ReservationTTL.Duration <= 0 {
		errs = append(errs, "engine: reservation_ttl must be positive")
	}
	if c.Engine.RetryBackoff.Duration < 0 {
		errs = append(errs, "engine: retry_backoff must not be negative")
	}

	if c.Authority.PublicKey != "" {
		if _, err := oracle.ParseAuthority(c.Authority.PublicKey); err != nil {
			errs = append(errs, fmt.Sprintf("authority: public_key: %v", err))
		}
	}
	if c.Authority.PrivateKey != "" {
		if _, err := oracle.ParsePrivateKey(c.Authority.PrivateKey); err != nil {
			errs = append(errs, fmt.Sprintf("authority: private_key: %v", err))
		}
	}

	if c.Treasury.PublicKey != "" {
		if _, err := oracle.ParseAuthority(c.Treasury.PublicKey); err != nil {
			errs = append(errs, fmt.Sprintf("treasury: public_key: %v", err))
		}
	}
	if c.Treasury.PrivateKey != "" {
		if _, err := oracle.ParsePrivateKey(c.Treasury.PrivateKey); err != nil {
			errs = append(errs, fmt.Sprintf("treasury: private_key: %v", err))
		}
	}
	if c.Treasury.ClaimWindow.Duration < 0 {
		errs = append(errs, "treasury: claim_window must not be negative")
	}

	if _, err := bonus.NewTable(c.Bonus.Tiers); err != nil {
		errs = append(errs, fmt.Sprintf("bonus: %v", err))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ReservationTTL returns the reservation lifetime.
func (c *Config) ReservationTTL() time.Duration { return c.Engine.ReservationTTL.Duration }

// RetryBackoff returns the base delay between redemption attempts.
func (c *Config) RetryBackoff() time.Duration { return c.Engine.RetryBackoff.Duration }

// SettlementAuthority returns the settlement authority, or nil when no key is configured.
func (c *Config) SettlementAuthority() (*oracle.Authority, error) {
	if c.Authority.PublicKey == "" {
		return nil, nil
	}
	return oracle.ParseAuthority(c.Authority.PublicKey)
}

// TreasuryAuthority returns the sweep authority, or nil to fall back to the
// settlement authority.
func (c *Config) TreasuryAuthority() (*oracle.Authority, error) {
	if c.Treasury.PublicKey == "" {
		return nil, nil
	}
	return oracle.ParseAuthority(c.Treasury.PublicKey)
}

// TreasurySigningKey returns the seed that signs sweep capabilities:
// the treasury key, else the settlement authority key.
func (c *Config) TreasurySigningKey() string {
	if c.Treasury.PrivateKey != "" {
		return c.Treasury.PrivateKey
	}
	return c.Authority.PrivateKey
}

// ClaimWindow returns how long winners have to redeem before a sweep may
// collect unclaimed winnings.
func (c *Config) ClaimWindow() time.Duration { return c.Treasury.ClaimWindow.Duration }

// TierTable builds the bonus tier table.
func (c *Config) TierTable() (*bonus.Table, error) {
	return bonus.NewTable(c.Bonus.Tiers)
}

// PoolOptions returns the Postgres pool sizing.
func (c *Config) PoolOptions() pgstore.PoolOptions {
	return pgstore.PoolOptions{
		MaxConns:        c.Postgres.MaxConns,
		MinConns:        c.Postgres.MinConns,
		MaxConnLifetime: c.Postgres.MaxConnLifetime.Duration,
	}
}
