// Package oracle posts the outcome of an event and mints its settlement marker.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/idhash"
	"parimutuel-escrow/internal/storage"
)

// DefaultMarkerLovelace is the minimum ADA carried by the settlement marker.
const DefaultMarkerLovelace int64 = 2_000_000

// Options configures an Oracle.
type Options struct {
	Store          storage.LedgerStore
	Authority      *Authority
	MarkerLovelace int64            // defaults to DefaultMarkerLovelace
	Now            func() time.Time // defaults to time.Now
	NewNonce       func() string    // defaults to uuid
	Logger         *log.Logger      // defaults to discard

	// OnApply is called after an outcome transition is recorded.
	OnApply func(ctx context.Context, t *domain.Transition)
}

// Oracle owns outcome creation.
type Oracle struct {
	store          storage.LedgerStore
	authority      *Authority
	markerLovelace int64
	now            func() time.Time
	newNonce       func() string
	logger         *log.Logger
	onApply        func(ctx context.Context, t *domain.Transition)
}

// New creates an Oracle.
func New(opts Options) *Oracle {
	o := &Oracle{
		store:          opts.Store,
		authority:      opts.Authority,
		markerLovelace: opts.MarkerLovelace,
		now:            opts.Now,
		newNonce:       opts.NewNonce,
		logger:         opts.Logger,
		onApply:        opts.OnApply,
	}
	if o.markerLovelace <= 0 {
		o.markerLovelace = DefaultMarkerLovelace
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newNonce == nil {
		o.newNonce = func() string { return uuid.NewString() }
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	return o
}

// PostOutcome records the winning outcome of an event once.
func (o *Oracle) PostOutcome(ctx context.Context, params domain.EventParams, c Capability, winning domain.Outcome, totalPotAda, totalWinningStake int64) (*domain.OutcomeRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	nowMs := o.now().UnixMilli()
	if nowMs < params.CutoffTime {
		return nil, domain.NewError(domain.CodeDeadlineViolation, "outcome posted before event cutoff", map[string]any{
			"now":    nowMs,
			"cutoff": params.CutoffTime,
		})
	}
	if !winning.IsValid() {
		return nil, domain.NewError(domain.CodeInvalidInput, "unknown winning outcome", map[string]any{
			"outcome": int(winning),
		})
	}
	if totalPotAda < 0 || totalWinningStake < 0 {
		return nil, domain.NewError(domain.CodeInvalidInput, "negative settlement statistics", map[string]any{
			"total_pot_ada":       totalPotAda,
			"total_winning_stake": totalWinningStake,
		})
	}

	potID := idhash.ComputePotID(params)
	if o.authority == nil {
		return nil, domain.NewSettlementError(domain.ReasonUnauthorized, "no settlement authority configured", nil)
	}
	if err := o.authority.Verify(c, potID); err != nil {
		return nil, err
	}

	if _, err := o.store.GetOutcome(ctx, potID); err == nil {
		return nil, duplicateOutcome(params)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check existing outcome: %w", err)
	}

	tid := idhash.ComputeTransitionID(potID, domain.TransitionPost, o.newNonce())
	markerID := idhash.ComputeFundID(tid, 0)
	record := &domain.OutcomeRecord{
		PotID:              potID,
		EventID:            params.EventID,
		WinningOutcome:     winning,
		GameStakePolicyRef: idhash.ComputeGameStakePolicyRef(params),
		TotalPotAda:        totalPotAda,
		TotalWinningStake:  totalWinningStake,
		MarkerFundID:       markerID,
		PostedAt:           nowMs,
	}
	datum, err := record.MarshalDatum()
	if err != nil {
		return nil, err
	}

	t := &domain.Transition{
		TransitionID: tid,
		PotID:        potID,
		Kind:         domain.TransitionPost,
		Produced: []*domain.FundRecord{{
			FundID: markerID,
			PotID:  potID,
			Amount: o.markerLovelace,
			Assets: []domain.Asset{{
				PolicyID:  idhash.ComputeMarkerPolicyRef(params),
				AssetName: domain.MarkerAssetName,
				Quantity:  1,
			}},
			Datum:     datum,
			CreatedAt: nowMs,
		}},
		Inflow:    o.markerLovelace,
		Outcome:   record,
		AppliedAt: nowMs,
	}
	if err := o.store.Apply(ctx, t); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, duplicateOutcome(params)
		}
		return nil, fmt.Errorf("apply outcome: %w", err)
	}

	if o.onApply != nil {
		o.onApply(ctx, t)
	}
	o.logger.Printf("posted outcome for %s: winner=%s pot=%d winning_stake=%d", params, winning, totalPotAda, totalWinningStake)
	return record, nil
}

// ComputeStatistics derives the settlement statistics from the ledger:
// the value of every live record except reserved ones, and the stake of
// positions predicting winning.
func (o *Oracle) ComputeStatistics(ctx context.Context, potID string, winning domain.Outcome) (totalPotAda, totalWinningStake int64, err error) {
	snap, err := o.store.Snapshot(ctx, potID)
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot pot: %w", err)
	}
	var ok bool
	for _, f := range snap.Funds {
		if f.IsReserved() {
			continue
		}
		if totalPotAda, ok = domain.AddAmount(totalPotAda, f.Amount); !ok {
			return 0, 0, overflow("total pot value", potID)
		}
	}

	positions, err := o.store.GetPositionsByPot(ctx, potID)
	if err != nil {
		return 0, 0, fmt.Errorf("load positions: %w", err)
	}
	for _, p := range positions {
		if p.PredictedOutcome != winning {
			continue
		}
		if totalWinningStake, ok = domain.AddAmount(totalWinningStake, p.StakeTokenQuantity); !ok {
			return 0, 0, overflow("total winning stake", potID)
		}
	}
	return totalPotAda, totalWinningStake, nil
}

func overflow(what, potID string) error {
	return domain.NewError(domain.CodeInvariantViolation, what+" overflows", map[string]any{
		"pot_id": potID,
	})
}

func duplicateOutcome(params domain.EventParams) error {
	return domain.NewSettlementError(domain.ReasonDuplicateOutcome, "outcome already posted for event", map[string]any{
		"event_id": params.EventID,
	})
}
