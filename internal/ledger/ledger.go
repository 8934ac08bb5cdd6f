// Package ledger accepts new positions into an event's pot.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"parimutuel-escrow/internal/bonus"
	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/idhash"
	"parimutuel-escrow/internal/storage"
)

// LockRequest is a participant's request to lock stake on an outcome.
type LockRequest struct {
	Outcome           domain.Outcome
	AdaAmount         int64  // lovelace locked in the pot
	BeadBurnAmount    int64  // bonus tokens burned
	MintQuantity      int64  // stake tokens requested
	Owner             string // opaque owner credential
	BonusContribution int64  // token-sale contribution in whole ADA, 0 if none
}

// Options configures a Ledger.
type Options struct {
	Store    storage.LedgerStore
	Tiers    *bonus.Table     // nil disables bonus lookups
	Now      func() time.Time // defaults to time.Now
	NewNonce func() string    // defaults to uuid
	Logger   *log.Logger      // defaults to discard

	// OnApply is called after a lock transition is recorded.
	OnApply func(ctx context.Context, t *domain.Transition)
}

// Ledger owns position creation and validation.
type Ledger struct {
	store    storage.LedgerStore
	tiers    *bonus.Table
	now      func() time.Time
	newNonce func() string
	logger   *log.Logger
	onApply  func(ctx context.Context, t *domain.Transition)
}

// New creates a Ledger.
func New(opts Options) *Ledger {
	l := &Ledger{
		store:    opts.Store,
		tiers:    opts.Tiers,
		now:      opts.Now,
		newNonce: opts.NewNonce,
		logger:   opts.Logger,
		onApply:  opts.OnApply,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.newNonce == nil {
		l.newNonce = func() string { return uuid.NewString() }
	}
	if l.logger == nil {
		l.logger = log.New(io.Discard, "", 0)
	}
	return l
}

// PlanLock returns the stake token quantity a client must request,
// or 0 when the amounts are out of range.
func PlanLock(adaAmount, beadBurnAmount int64) int64 {
	stake, ok := domain.ExpectedStake(adaAmount, beadBurnAmount)
	if !ok {
		return 0
	}
	return stake
}

// Validate checks a lock request against the event at time now.
func (l *Ledger) Validate(params domain.EventParams, req LockRequest, now time.Time) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if nowMs := now.UnixMilli(); nowMs >= params.CutoffTime {
		return domain.NewError(domain.CodeDeadlineViolation, "lock after event cutoff", map[string]any{
			"now":    nowMs,
			"cutoff": params.CutoffTime,
		})
	}
	if !req.Outcome.IsValid() {
		return domain.NewError(domain.CodeInvalidInput, "unknown predicted outcome", map[string]any{
			"outcome": int(req.Outcome),
		})
	}
	if req.Owner == "" {
		return domain.NewError(domain.CodeInvalidInput, "owner credential is empty", nil)
	}
	if req.AdaAmount < 0 || req.BeadBurnAmount < 0 || req.BonusContribution < 0 {
		return domain.NewError(domain.CodeInvalidInput, "negative amount", map[string]any{
			"ada":   req.AdaAmount,
			"bead":  req.BeadBurnAmount,
			"bonus": req.BonusContribution,
		})
	}
	if req.BeadBurnAmount > domain.MaxBeadBurn {
		return domain.NewError(domain.CodeInvalidInput, "bead burn out of range", map[string]any{
			"bead": req.BeadBurnAmount,
			"max":  domain.MaxBeadBurn,
		})
	}
	expected, ok := domain.ExpectedStake(req.AdaAmount, req.BeadBurnAmount)
	if !ok {
		return domain.NewError(domain.CodeInvalidInput, "stake quantity overflows", map[string]any{
			"ada":  req.AdaAmount,
			"bead": req.BeadBurnAmount,
		})
	}
	if req.MintQuantity <= 0 {
		return domain.NewError(domain.CodeInvalidInput, "stake quantity must be positive", map[string]any{
			"mint_quantity": req.MintQuantity,
		})
	}
	if req.MintQuantity != expected {
		return domain.NewError(domain.CodeInvariantViolation, "minted stake does not match locked value", map[string]any{
			"expected": expected,
			"actual":   req.MintQuantity,
		})
	}
	if floor := domain.MinAdaForBead(req.BeadBurnAmount); req.AdaAmount < floor {
		return domain.NewError(domain.CodeInvariantViolation, "bonus tokens dominate the stake", map[string]any{
			"ada":          req.AdaAmount,
			"bead":         req.BeadBurnAmount,
			"min_required": floor,
		})
	}

	if req.BonusContribution > 0 {
		if l.tiers == nil {
			return domain.NewError(domain.CodeInvalidInput, "bonus tiers not configured", nil)
		}
		tier, err := l.tiers.LookupTier(req.BonusContribution)
		if err != nil {
			return domain.NewError(domain.CodeInvalidInput, "unknown bonus tier", map[string]any{
				"contribution": req.BonusContribution,
			})
		}
		if req.BeadBurnAmount > tier.StakeBonus {
			return domain.NewError(domain.CodeInvalidInput, "bead burn exceeds tier stake bonus", map[string]any{
				"bead":        req.BeadBurnAmount,
				"stake_bonus": tier.StakeBonus,
			})
		}
	}
	return nil
}

// LockPosition validates the request and records the position together with
// its pot fund record in one transition.
func (l *Ledger) LockPosition(ctx context.Context, params domain.EventParams, req LockRequest) (*domain.Position, error) {
	now := l.now()
	if err := l.Validate(params, req, now); err != nil {
		return nil, err
	}

	t := l.BuildLock(params, req, now)
	if err := l.store.Apply(ctx, t); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, domain.NewError(domain.CodeConcurrencyConflict, "lock collided with an existing transition", map[string]any{
				"transition_id": t.TransitionID,
			})
		}
		return nil, fmt.Errorf("apply lock: %w", err)
	}

	if l.onApply != nil {
		l.onApply(ctx, t)
	}
	l.logger.Printf("locked position %s: pot=%s outcome=%s stake=%d", t.Position.PositionID, t.PotID, req.Outcome, req.MintQuantity)
	return t.Position, nil
}

// BuildLock constructs the lock transition for a validated request.
func (l *Ledger) BuildLock(params domain.EventParams, req LockRequest, now time.Time) *domain.Transition {
	potID := idhash.ComputePotID(params)
	tid := idhash.ComputeTransitionID(potID, domain.TransitionLock, l.newNonce())
	fundID := idhash.ComputeFundID(tid, 0)
	nowMs := now.UnixMilli()

	position := &domain.Position{
		PositionID:         idhash.ComputePositionID(potID, req.Owner, tid),
		PotID:              potID,
		EventID:            params.EventID,
		PredictedOutcome:   req.Outcome,
		StakeTokenName:     idhash.StakeTokenName(req.Outcome, params.EventName),
		StakeTokenQuantity: req.MintQuantity,
		AdaContributed:     req.AdaAmount,
		BeadBurned:         req.BeadBurnAmount,
		OwnerCredential:    req.Owner,
		FundID:             fundID,
		LockedAt:           nowMs,
	}

	return &domain.Transition{
		TransitionID: tid,
		PotID:        potID,
		Kind:         domain.TransitionLock,
		Produced: []*domain.FundRecord{{
			FundID:    fundID,
			PotID:     potID,
			Amount:    req.AdaAmount,
			CreatedAt: nowMs,
		}},
		Inflow:    req.AdaAmount,
		Position:  position,
		AppliedAt: nowMs,
	}
}
