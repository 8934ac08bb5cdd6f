package clickhouse

import (
	"context"
	"fmt"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/storage"
)

// AuditStore implements storage.AuditStore using ClickHouse.
type AuditStore struct {
	conn *Conn
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(conn *Conn) *AuditStore {
	return &AuditStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// Insert adds a new entry. Returns ErrDuplicateKey if transition_id exists.
func (s *AuditStore) Insert(ctx context.Context, e *domain.AuditEntry) error {
	return s.InsertBulk(ctx, []*domain.AuditEntry{e})
}

// InsertBulk adds multiple entries. Fails entire batch on duplicate transition_id.
// MergeTree does not enforce uniqueness, so duplicates are checked before insert.
func (s *AuditStore) InsertBulk(ctx context.Context, entries []*domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e == nil || e.TransitionID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[e.TransitionID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.TransitionID] = struct{}{}
	}

	for _, e := range entries {
		exists, err := s.exists(ctx, e.PotID, e.TransitionID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_audit (
			transition_id, pot_id, kind,
			consumed_count, consumed_value, produced_count, produced_value,
			inflow, outflow, recipient, position_id, live_value_after, applied_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range entries {
		err = batch.Append(
			e.TransitionID, e.PotID, string(e.Kind),
			uint32(e.ConsumedCount), e.ConsumedValue, uint32(e.ProducedCount), e.ProducedValue,
			e.Inflow, e.Outflow, e.Recipient, e.PositionID, e.LiveValueAfter, e.AppliedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByPot retrieves all entries for a pot, ordered by applied_at ASC, transition_id ASC.
func (s *AuditStore) GetByPot(ctx context.Context, potID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT transition_id, pot_id, kind,
			consumed_count, consumed_value, produced_count, produced_value,
			inflow, outflow, recipient, position_id, live_value_after, applied_at
		FROM ledger_audit
		WHERE pot_id = ?
		ORDER BY applied_at ASC, transition_id ASC
	`

	rows, err := s.conn.Query(ctx, query, potID)
	if err != nil {
		return nil, fmt.Errorf("query by pot: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// exists checks if an entry with the given transition id exists.
func (s *AuditStore) exists(ctx context.Context, potID, transitionID string) (bool, error) {
	query := `
		SELECT count(*) FROM ledger_audit
		WHERE pot_id = ? AND transition_id = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, potID, transitionID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the subset of driver.Rows used by scanners.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanAuditEntries(rows chRows) ([]*domain.AuditEntry, error) {
	var entries []*domain.AuditEntry

	for rows.Next() {
		var e domain.AuditEntry
		var kind string
		var consumedCount, producedCount uint32

		err := rows.Scan(
			&e.TransitionID, &e.PotID, &kind,
			&consumedCount, &e.ConsumedValue, &producedCount, &e.ProducedValue,
			&e.Inflow, &e.Outflow, &e.Recipient, &e.PositionID, &e.LiveValueAfter, &e.AppliedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		e.Kind = domain.TransitionKind(kind)
		e.ConsumedCount = int(consumedCount)
		e.ProducedCount = int(producedCount)
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}
