package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
// Each ledger transition is one SQL transaction; uniqueness of spends,
// outcomes and redemptions is enforced by primary keys.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Apply records a transition atomically.
func (s *LedgerStore) Apply(ctx context.Context, t *domain.Transition) error {
	if err := storage.CheckTransition(t); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO transitions (
			transition_id, pot_id, kind, consumed, inflow, outflow, recipient,
			redeemed_position_id, redeemed_stake, burn_outcome, applied_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		t.TransitionID, t.PotID, string(t.Kind), consumedOrEmpty(t.Consumed), t.Inflow, t.Outflow, t.Recipient,
		t.RedeemedPositionID, t.RedeemedStake, t.BurnOutcome, t.AppliedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transition: %w", err)
	}

	consumedValue, err := s.spend(ctx, tx, t)
	if err != nil {
		return err
	}
	if err := storage.CheckBalance(t, consumedValue); err != nil {
		return err
	}
	if len(t.Produced) > 0 && t.Outcome == nil {
		if err := checkOpen(ctx, tx, t.PotID); err != nil {
			return err
		}
	}

	for i, f := range t.Produced {
		assets, err := json.Marshal(assetsOrEmpty(f.Assets))
		if err != nil {
			return fmt.Errorf("marshal assets: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO funds (fund_id, pot_id, amount, assets, datum, created_by, output_index, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, f.FundID, f.PotID, f.Amount, assets, f.Datum, t.TransitionID, i, f.CreatedAt)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert fund: %w", err)
		}
	}

	if p := t.Position; p != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO positions (
				position_id, pot_id, event_id, predicted_outcome, stake_token_name,
				stake_token_quantity, ada_contributed, bead_burned, owner_credential, fund_id, locked_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			p.PositionID, p.PotID, p.EventID, int16(p.PredictedOutcome), p.StakeTokenName,
			p.StakeTokenQuantity, p.AdaContributed, p.BeadBurned, p.OwnerCredential, p.FundID, p.LockedAt,
		)
		if err := classify(err, "insert position"); err != nil {
			return err
		}
	}

	if o := t.Outcome; o != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO outcomes (
				pot_id, event_id, winning_outcome, game_stake_policy_ref,
				total_pot_ada, total_winning_stake, marker_fund_id, posted_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			o.PotID, o.EventID, int16(o.WinningOutcome), o.GameStakePolicyRef,
			o.TotalPotAda, o.TotalWinningStake, o.MarkerFundID, o.PostedAt,
		)
		if err := classify(err, "insert outcome"); err != nil {
			return err
		}
	}

	if t.RedeemedPositionID != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO redemptions (position_id, transition_id) VALUES ($1, $2)
		`, t.RedeemedPositionID, t.TransitionID)
		if err := classify(err, "insert redemption"); err != nil {
			return err
		}
	}

	if t.BurnOutcome {
		// serializes with checkOpen of concurrent writers
		_, err = tx.Exec(ctx, `SELECT pot_id FROM outcomes WHERE pot_id = $1 FOR UPDATE`, t.PotID)
		if err := classify(err, "lock outcome"); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO outcome_burns (pot_id, transition_id)
			SELECT pot_id, $2 FROM outcomes WHERE pot_id = $1
			ON CONFLICT (pot_id) DO NOTHING
		`, t.PotID, t.TransitionID)
		if err := classify(err, "burn outcome"); err != nil {
			return err
		}
	}

	return classify(tx.Commit(ctx), "commit tx")
}

// checkOpen returns storage.ErrClosed when the pot's outcome has been burned.
// The shared row lock waits for a sweep that is burning it.
func checkOpen(ctx context.Context, tx pgx.Tx, potID string) error {
	var burned bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM outcome_burns b WHERE b.pot_id = o.pot_id)
		FROM outcomes o
		WHERE o.pot_id = $1
		FOR SHARE OF o
	`, potID).Scan(&burned)
	if isNotFoundError(err) {
		return nil
	}
	if err != nil {
		return classify(err, "check pot open")
	}
	if burned {
		return storage.ErrClosed
	}
	return nil
}

// spend marks the consumed funds as spent and returns their total value.
// A concurrent spender of the same fund blocks on the primary key and then fails.
func (s *LedgerStore) spend(ctx context.Context, tx pgx.Tx, t *domain.Transition) (int64, error) {
	if len(t.Consumed) == 0 {
		return 0, nil
	}

	var found int
	var total int64
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)::BIGINT
		FROM funds
		WHERE fund_id = ANY($1) AND pot_id = $2
	`, t.Consumed, t.PotID).Scan(&found, &total)
	if err != nil {
		return 0, classify(err, "load consumed funds")
	}
	if found != len(t.Consumed) {
		return 0, fmt.Errorf("%w: %d of %d consumed funds unknown", storage.ErrInvalidInput, len(t.Consumed)-found, len(t.Consumed))
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO fund_spends (fund_id, transition_id)
		SELECT unnest($1::TEXT[]), $2
	`, t.Consumed, t.TransitionID)
	if err != nil {
		// the losing spender hits the primary key or a deadlock
		if isDuplicateKeyError(err) || isContentionError(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("insert fund spends: %w", err)
	}
	return total, nil
}

// Snapshot returns the live funds and outcome of a pot, funds ordered by fund_id ASC.
func (s *LedgerStore) Snapshot(ctx context.Context, potID string) (*domain.PotSnapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap := &domain.PotSnapshot{PotID: potID}

	rows, err := tx.Query(ctx, `
		SELECT f.fund_id, f.pot_id, f.amount, f.assets, f.datum, f.created_at
		FROM funds f
		LEFT JOIN fund_spends s ON s.fund_id = f.fund_id
		WHERE f.pot_id = $1 AND s.fund_id IS NULL
		ORDER BY f.fund_id ASC
	`, potID)
	if err != nil {
		return nil, fmt.Errorf("query live funds: %w", err)
	}
	snap.Funds, err = scanFunds(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM transitions WHERE pot_id = $1`, potID).Scan(&snap.Version); err != nil {
		return nil, fmt.Errorf("count transitions: %w", err)
	}

	o, err := getOutcome(ctx, tx, potID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	snap.Outcome = o

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return snap, nil
}

const positionColumns = `
	position_id, pot_id, event_id, predicted_outcome, stake_token_name,
	stake_token_quantity, ada_contributed, bead_burned, owner_credential, fund_id, locked_at
`

// GetPosition retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetPosition(ctx context.Context, positionID string) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE position_id = $1`, positionID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query position: %w", err)
	}
	return p, nil
}

// GetPositionsByPot retrieves all positions of a pot, ordered by locked_at ASC, position_id ASC.
func (s *LedgerStore) GetPositionsByPot(ctx context.Context, potID string) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE pot_id = $1
		ORDER BY locked_at ASC, position_id ASC
	`, potID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// GetOutcome retrieves the outcome of a pot. Returns ErrNotFound if not posted.
func (s *LedgerStore) GetOutcome(ctx context.Context, potID string) (*domain.OutcomeRecord, error) {
	return getOutcome(ctx, s.pool, potID)
}

// IsRedeemed reports whether a position has been redeemed.
func (s *LedgerStore) IsRedeemed(ctx context.Context, positionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM redemptions WHERE position_id = $1)
	`, positionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query redemption: %w", err)
	}
	return exists, nil
}

// GetTransitions retrieves the transitions of a pot in application order,
// with their produced funds, positions and outcome attached.
func (s *LedgerStore) GetTransitions(ctx context.Context, potID string) ([]*domain.Transition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT transition_id, pot_id, kind, consumed, inflow, outflow, recipient,
			redeemed_position_id, redeemed_stake, burn_outcome, applied_at
		FROM transitions
		WHERE pot_id = $1
		ORDER BY seq ASC
	`, potID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}

	var result []*domain.Transition
	byID := make(map[string]*domain.Transition)
	for rows.Next() {
		var t domain.Transition
		var kind string
		if err := rows.Scan(
			&t.TransitionID, &t.PotID, &kind, &t.Consumed, &t.Inflow, &t.Outflow, &t.Recipient,
			&t.RedeemedPositionID, &t.RedeemedStake, &t.BurnOutcome, &t.AppliedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Kind = domain.TransitionKind(kind)
		result = append(result, &t)
		byID[t.TransitionID] = &t
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	if len(result) == 0 {
		return result, nil
	}

	fundRows, err := s.pool.Query(ctx, `
		SELECT fund_id, pot_id, amount, assets, datum, created_at, created_by
		FROM funds
		WHERE pot_id = $1
		ORDER BY created_by ASC, output_index ASC
	`, potID)
	if err != nil {
		return nil, fmt.Errorf("query produced funds: %w", err)
	}
	producer := make(map[string]string)
	for fundRows.Next() {
		var f domain.FundRecord
		var assets []byte
		var createdBy string
		if err := fundRows.Scan(&f.FundID, &f.PotID, &f.Amount, &assets, &f.Datum, &f.CreatedAt, &createdBy); err != nil {
			fundRows.Close()
			return nil, fmt.Errorf("scan fund: %w", err)
		}
		if err := decodeAssets(assets, &f); err != nil {
			fundRows.Close()
			return nil, err
		}
		if t, ok := byID[createdBy]; ok {
			t.Produced = append(t.Produced, &f)
		}
		producer[f.FundID] = createdBy
	}
	fundRows.Close()
	if err := fundRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate funds: %w", err)
	}

	positions, err := s.GetPositionsByPot(ctx, potID)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if t, ok := byID[producer[p.FundID]]; ok {
			t.Position = p
		}
	}

	o, err := s.GetOutcome(ctx, potID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if o != nil {
		if t, ok := byID[producer[o.MarkerFundID]]; ok {
			t.Outcome = o
		}
	}

	return result, nil
}

func getOutcome(ctx context.Context, q querier, potID string) (*domain.OutcomeRecord, error) {
	var o domain.OutcomeRecord
	var outcome int16
	err := q.QueryRow(ctx, `
		SELECT o.pot_id, o.event_id, o.winning_outcome, o.game_stake_policy_ref,
			o.total_pot_ada, o.total_winning_stake, o.marker_fund_id, o.posted_at,
			b.pot_id IS NOT NULL
		FROM outcomes o
		LEFT JOIN outcome_burns b ON b.pot_id = o.pot_id
		WHERE o.pot_id = $1
	`, potID).Scan(
		&o.PotID, &o.EventID, &outcome, &o.GameStakePolicyRef,
		&o.TotalPotAda, &o.TotalWinningStake, &o.MarkerFundID, &o.PostedAt,
		&o.Burned,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query outcome: %w", err)
	}
	o.WinningOutcome = domain.Outcome(outcome)
	return &o, nil
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var outcome int16
	err := row.Scan(
		&p.PositionID, &p.PotID, &p.EventID, &outcome, &p.StakeTokenName,
		&p.StakeTokenQuantity, &p.AdaContributed, &p.BeadBurned, &p.OwnerCredential, &p.FundID, &p.LockedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PredictedOutcome = domain.Outcome(outcome)
	return &p, nil
}

func scanFunds(rows pgx.Rows) ([]*domain.FundRecord, error) {
	defer rows.Close()

	var result []*domain.FundRecord
	for rows.Next() {
		var f domain.FundRecord
		var assets []byte
		if err := rows.Scan(&f.FundID, &f.PotID, &f.Amount, &assets, &f.Datum, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fund: %w", err)
		}
		if err := decodeAssets(assets, &f); err != nil {
			return nil, err
		}
		result = append(result, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate funds: %w", err)
	}
	return result, nil
}

func decodeAssets(data []byte, f *domain.FundRecord) error {
	if len(data) == 0 {
		return nil
	}
	var assets []domain.Asset
	if err := json.Unmarshal(data, &assets); err != nil {
		return fmt.Errorf("decode assets of fund %s: %w", f.FundID, err)
	}
	if len(assets) > 0 {
		f.Assets = assets
	}
	return nil
}

func consumedOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func assetsOrEmpty(assets []domain.Asset) []domain.Asset {
	if assets == nil {
		return []domain.Asset{}
	}
	return assets
}
