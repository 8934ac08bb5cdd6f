package storage

import (
	"context"
	"time"

	"parimutuel-escrow/internal/domain"
)

// LedgerStore holds the fund records, positions and outcomes of all pots.
// Every mutation is one atomic transition: all of it is recorded or none of it.
type LedgerStore interface {
	// Apply records a transition atomically.
	// Returns ErrConflict if a consumed fund is already spent,
	// ErrDuplicateKey if the transition, position, outcome or redemption exists,
	// ErrInvalidInput if the transition is malformed or does not balance.
	Apply(ctx context.Context, t *domain.Transition) error

	// Snapshot returns the live funds and outcome of a pot.
	// An unknown pot yields an empty snapshot.
	Snapshot(ctx context.Context, potID string) (*domain.PotSnapshot, error)

	// GetPosition retrieves a position by its ID. Returns ErrNotFound if not exists.
	GetPosition(ctx context.Context, positionID string) (*domain.Position, error)

	// GetPositionsByPot retrieves all positions of a pot, ordered by locked_at ASC, position_id ASC.
	GetPositionsByPot(ctx context.Context, potID string) ([]*domain.Position, error)

	// GetOutcome retrieves the outcome of a pot, burned or not. Returns ErrNotFound if not posted.
	GetOutcome(ctx context.Context, potID string) (*domain.OutcomeRecord, error)

	// IsRedeemed reports whether a position has been redeemed.
	IsRedeemed(ctx context.Context, positionID string) (bool, error)

	// GetTransitions retrieves the transitions of a pot in application order.
	GetTransitions(ctx context.Context, potID string) ([]*domain.Transition, error)
}

// AuditStore provides access to ledger_audit storage.
type AuditStore interface {
	// Insert adds a new entry. Returns ErrDuplicateKey if transition_id exists.
	Insert(ctx context.Context, e *domain.AuditEntry) error

	// InsertBulk adds multiple entries atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, entries []*domain.AuditEntry) error

	// GetByPot retrieves all entries for a pot, ordered by applied_at ASC, transition_id ASC.
	GetByPot(ctx context.Context, potID string) ([]*domain.AuditEntry, error)
}

// Reserver holds short-lived claims on fund records so that concurrent
// withdrawals select disjoint funds. Claims expire after their TTL.
type Reserver interface {
	// Reserve claims all fundIDs or none. Returns ErrReserved if any is held.
	// The returned release function is safe to call more than once.
	Reserve(ctx context.Context, fundIDs []string, ttl time.Duration) (release func(), err error)

	// Reserved returns the subset of fundIDs currently claimed.
	Reserved(ctx context.Context, fundIDs []string) (map[string]bool, error)
}
