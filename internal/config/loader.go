package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path (skipped when empty) over Defaults(),
// loads .env if present and applies ESCROW_* environment overrides.
// The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// An explicit [[bonus.tiers]] list replaces the default tiers.
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose ESCROW_* variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Store, "ESCROW_STORE")

	// ── Event ──
	setInt64(&cfg.Event.ID, "ESCROW_EVENT_ID")
	setStr(&cfg.Event.Name, "ESCROW_EVENT_NAME")
	setStr(&cfg.Event.Cutoff, "ESCROW_EVENT_CUTOFF")
	setInt64(&cfg.Event.CutoffMs, "ESCROW_EVENT_CUTOFF_MS")

	// ── Selection / engine ──
	setInt64(&cfg.Selection.MinFundValue, "ESCROW_MIN_FUND_VALUE")
	setInt(&cfg.Selection.MaxInputs, "ESCROW_MAX_INPUTS")
	setInt(&cfg.Engine.MaxRetries, "ESCROW_MAX_RETRIES")
	setInt64(&cfg.Engine.MarkerLovelace, "ESCROW_MARKER_LOVELACE")
	setDuration(&cfg.Engine.ReservationTTL, "ESCROW_RESERVATION_TTL")
	setDuration(&cfg.Engine.RetryBackoff, "ESCROW_RETRY_BACKOFF")

	// ── Authority ──
	setStr(&cfg.Authority.PublicKey, "ESCROW_AUTHORITY_PUBLIC_KEY")
	setStr(&cfg.Authority.PrivateKey, "ESCROW_AUTHORITY_PRIVATE_KEY")

	// ── Treasury ──
	setStr(&cfg.Treasury.PublicKey, "ESCROW_TREASURY_PUBLIC_KEY")
	setStr(&cfg.Treasury.PrivateKey, "ESCROW_TREASURY_PRIVATE_KEY")
	setStr(&cfg.Treasury.Target, "ESCROW_TREASURY")
	setDuration(&cfg.Treasury.ClaimWindow, "ESCROW_CLAIM_WINDOW")

	// ── Stores ──
	setStr(&cfg.Postgres.DSN, "ESCROW_POSTGRES_DSN")
	setBool(&cfg.Postgres.RunMigrations, "ESCROW_POSTGRES_RUN_MIGRATIONS")
	setInt32(&cfg.Postgres.MaxConns, "ESCROW_POSTGRES_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ESCROW_POSTGRES_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ESCROW_POSTGRES_MAX_CONN_LIFETIME")
	setStr(&cfg.ClickHouse.DSN, "ESCROW_CLICKHOUSE_DSN")
	setBool(&cfg.ClickHouse.RunMigrations, "ESCROW_CLICKHOUSE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ESCROW_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ESCROW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROW_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ESCROW_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "ESCROW_REDIS_PREFIX")

	// ── Metrics / server ──
	setStr(&cfg.Metrics.Namespace, "ESCROW_METRICS_NAMESPACE")
	setStr(&cfg.Server.Addr, "ESCROW_SERVER_ADDR")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
