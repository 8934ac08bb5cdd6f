package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"parimutuel-escrow/internal/cache/redis"
	"parimutuel-escrow/internal/config"
	"parimutuel-escrow/internal/engine"
	"parimutuel-escrow/internal/observability"
	"parimutuel-escrow/internal/storage"
	chstore "parimutuel-escrow/internal/storage/clickhouse"
	"parimutuel-escrow/internal/storage/memory"
	"parimutuel-escrow/internal/storage/migrations"
	pgstore "parimutuel-escrow/internal/storage/postgres"
)

// stores holds the storage implementations selected by configuration.
type stores struct {
	ledger   storage.LedgerStore
	audit    storage.AuditStore
	reserver storage.Reserver
	cleanup  func()
}

// createStores connects the ledger store, the optional ClickHouse audit
// store and the reservation backend.
func createStores(ctx context.Context, cfg *config.Config, logger *log.Logger) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		logger.Println("using in-memory stores; state is lost when the process exits")
		return &stores{
			ledger:   memory.NewLedgerStore(),
			audit:    memory.NewAuditStore(),
			reserver: memory.NewReserver(),
			cleanup:  func() {},
		}, nil
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// PostgreSQL
	pool, err := pgstore.NewPoolWithOptions(ctx, cfg.Postgres.DSN, cfg.PoolOptions())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	closers = append(closers, pool.Close)
	if cfg.Postgres.RunMigrations {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
	}
	s := &stores{ledger: pgstore.NewLedgerStore(pool)}

	// ClickHouse
	if cfg.ClickHouse.DSN != "" {
		var conn *chstore.Conn
		if cfg.ClickHouse.RunMigrations {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		} else {
			conn, err = chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		}
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		s.audit = chstore.NewAuditStore(conn)
	} else {
		logger.Println("clickhouse dsn not set; audit trail disabled")
	}

	// Redis
	if cfg.Redis.Enabled {
		client, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, func() { client.Close() })
		s.reserver = redis.NewReserver(client, cfg.Redis.Prefix, logger)
	} else {
		// In-process reservations still keep concurrent requests of one server apart.
		s.reserver = memory.NewReserver()
	}

	s.cleanup = cleanup
	return s, nil
}

// newEngine builds the engine from configuration and stores.
func newEngine(cfg *config.Config, s *stores, logger *log.Logger) (*engine.Engine, error) {
	authority, err := cfg.SettlementAuthority()
	if err != nil {
		return nil, fmt.Errorf("settlement authority: %w", err)
	}
	treasury, err := cfg.TreasuryAuthority()
	if err != nil {
		return nil, fmt.Errorf("treasury authority: %w", err)
	}
	tiers, err := cfg.TierTable()
	if err != nil {
		return nil, fmt.Errorf("bonus tiers: %w", err)
	}

	return engine.New(engine.Options{
		Store:          s.ledger,
		Audit:          s.audit,
		Reserver:       s.reserver,
		Authority:      authority,
		Treasury:       treasury,
		Tiers:          tiers,
		Metrics:        metricsFor(cfg.Metrics.Namespace),
		MinFundValue:   cfg.Selection.MinFundValue,
		MaxInputs:      cfg.Selection.MaxInputs,
		MaxRetries:     cfg.Engine.MaxRetries,
		MarkerLovelace: cfg.Engine.MarkerLovelace,
		ReservationTTL: cfg.ReservationTTL(),
		RetryBackoff:   retryBackoff(cfg),
		TreasuryTarget: cfg.Treasury.Target,
		ClaimWindow:    cfg.ClaimWindow(),
		Logger:         logger,
	}), nil
}

// retryBackoff maps a configured zero to "no backoff".
func retryBackoff(cfg *config.Config) time.Duration {
	if d := cfg.RetryBackoff(); d > 0 {
		return d
	}
	return -1
}

// metricsFor returns the metrics registered under namespace.
func metricsFor(namespace string) *observability.Metrics {
	if namespace == "" || namespace == observability.DefaultNamespace {
		return observability.DefaultMetrics
	}
	return observability.NewMetrics(namespace)
}
