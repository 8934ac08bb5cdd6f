package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parimutuel-escrow/internal/oracle"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "escrow.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, int64(1_000_000), cfg.Selection.MinFundValue)
	assert.Equal(t, 10, cfg.Selection.MaxInputs)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.ReservationTTL())
	assert.Len(t, cfg.Bonus.Tiers, 6)
}

func TestLoad_File(t *testing.T) {
	pub, _, err := oracle.GenerateKey()
	require.NoError(t, err)

	path := writeConfig(t, `
store = "postgres"

[event]
id = 1001
name = "ARSvCHE"
cutoff = "2026-06-01T18:00:00Z"

[selection]
min_fund_value = 0
max_inputs = 4

[engine]
max_retries = 5
reservation_ttl = "10s"

[authority]
public_key = "`+pub+`"

[[bonus.tiers]]
contribution = 100
stake_bonus = 5
referral_bonus = 1

[postgres]
dsn = "postgres://escrow@localhost/escrow"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, int64(0), cfg.Selection.MinFundValue)
	assert.Equal(t, 4, cfg.Selection.MaxInputs)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.ReservationTTL())
	assert.Equal(t, 20*time.Millisecond, cfg.RetryBackoff(), "unset keys keep defaults")
	require.Len(t, cfg.Bonus.Tiers, 1)
	assert.Equal(t, int64(100), cfg.Bonus.Tiers[0].Contribution)

	params, err := cfg.Event.Params()
	require.NoError(t, err)
	assert.Equal(t, int64(1001), params.EventID)
	assert.Equal(t, time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC).UnixMilli(), params.CutoffTime)

	auth, err := cfg.SettlementAuthority()
	require.NoError(t, err)
	assert.Equal(t, pub, auth.String())

	table, err := cfg.TierTable()
	require.NoError(t, err)
	_, err = table.LookupTier(100)
	assert.NoError(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[event]
id = 1
name = "file"
cutoff_ms = 1000
`)
	t.Setenv("ESCROW_EVENT_NAME", "env")
	t.Setenv("ESCROW_MAX_INPUTS", "7")
	t.Setenv("ESCROW_RESERVATION_TTL", "1m")
	t.Setenv("ESCROW_REDIS_ENABLED", "true")
	t.Setenv("ESCROW_MIN_FUND_VALUE", "not-a-number")
	t.Setenv("ESCROW_POSTGRES_MAX_CONNS", "25")
	t.Setenv("ESCROW_TREASURY", "addr_treasury")
	t.Setenv("ESCROW_CLAIM_WINDOW", "72h")
	t.Setenv("ESCROW_AUTHORITY_PRIVATE_KEY", "seed")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env", cfg.Event.Name)
	assert.Equal(t, 7, cfg.Selection.MaxInputs)
	assert.Equal(t, time.Minute, cfg.ReservationTTL())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, int64(1_000_000), cfg.Selection.MinFundValue, "unparsable values are ignored")

	assert.Equal(t, "addr_treasury", cfg.Treasury.Target)
	assert.Equal(t, 72*time.Hour, cfg.ClaimWindow())
	assert.Equal(t, "seed", cfg.TreasurySigningKey(), "treasury signs with the authority key by default")

	pool := cfg.PoolOptions()
	assert.Equal(t, int32(25), pool.MaxConns)
	assert.Equal(t, time.Hour, pool.MaxConnLifetime)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store = "sqlite" }, "unknown store"},
		{"postgres without dsn", func(c *Config) { c.Store = StorePostgres }, "postgres: dsn"},
		{"min conns above max", func(c *Config) {
			c.Store = StorePostgres
			c.Postgres.DSN = "postgres://localhost/escrow"
			c.Postgres.MinConns = 20
		}, "min_conns"},
		{"negative min fund", func(c *Config) { c.Selection.MinFundValue = -1 }, "min_fund_value"},
		{"zero max inputs", func(c *Config) { c.Selection.MaxInputs = 0 }, "max_inputs"},
		{"negative retries", func(c *Config) { c.Engine.MaxRetries = -1 }, "max_retries"},
		{"zero marker", func(c *Config) { c.Engine.MarkerLovelace = 0 }, "marker_lovelace"},
		{"bad public key", func(c *Config) { c.Authority.PublicKey = "0OIl" }, "public_key"},
		{"bad treasury key", func(c *Config) { c.Treasury.PublicKey = "0OIl" }, "treasury: public_key"},
		{"negative claim window", func(c *Config) { c.Treasury.ClaimWindow.Duration = -time.Second }, "claim_window"},
		{"duplicate tiers", func(c *Config) { c.Bonus.Tiers = append(c.Bonus.Tiers, c.Bonus.Tiers[0]) }, "bonus"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEventParams_Invalid(t *testing.T) {
	_, err := EventConfig{ID: 1, Name: "x", Cutoff: "tomorrow"}.Params()
	assert.Error(t, err)

	_, err = EventConfig{ID: 1, Name: ""}.Params()
	assert.Error(t, err)
}
