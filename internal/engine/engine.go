// Package engine coordinates the settlement of parimutuel pots.
// Flow: lock → post outcome → redeem → sweep
package engine

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
	"parimutuel-escrow/internal/ledger"
	"parimutuel-escrow/internal/observability"
	"parimutuel-escrow/internal/oracle"
	"parimutuel-escrow/internal/storage"
)

// Defaults applied by New.
const (
	DefaultMaxRetries     = 3
	DefaultMaxInputs      = 10
	DefaultMinFundValue   = 1_000_000
	DefaultReservationTTL = 30 * time.Second
	DefaultRetryBackoff   = 20 * time.Millisecond
)

// Engine coordinates the ledger, the oracle, redemptions and sweeps of pots.
type Engine struct {
	// Stores
	store    storage.LedgerStore
	audit    storage.AuditStore
	reserver storage.Reserver

	// Components
	ledger *ledger.Ledger
	oracle *oracle.Oracle

	// Sweep gate
	treasury       *oracle.Authority
	treasuryTarget string
	claimWindow    time.Duration

	// Limits
	minFundValue   int64
	maxInputs      int
	maxRetries     int
	reservationTTL time.Duration
	retryBackoff   time.Duration

	metrics  *observability.Metrics
	now      func() time.Time
	newNonce func() string
	logger   *log.Logger
}

// Options for creating Engine.
type Options struct {
	// Required store
	Store storage.LedgerStore

	// Optional collaborators
	Audit     storage.AuditStore // nil disables the audit trail
	Reserver  storage.Reserver   // nil disables fund reservations
	Authority *oracle.Authority  // nil rejects every outcome post
	Treasury  *oracle.Authority  // signs sweeps; nil falls back to Authority
	Tiers     *bonus.Table       // nil disables bonus lookups
	Metrics   *observability.Metrics

	// Limits
	MinFundValue   int64
	MaxInputs      int
	MaxRetries     int
	MarkerLovelace int64
	ReservationTTL time.Duration
	RetryBackoff   time.Duration // base delay between attempts; 0 uses the default, negative disables

	// TreasuryTarget, when set, is the only destination a sweep may pay.
	TreasuryTarget string
	// ClaimWindow lets a sweep collect unredeemed winnings once it has
	// elapsed since the outcome post. Zero waits for every winner.
	ClaimWindow time.Duration

	Now      func() time.Time
	NewNonce func() string
	Logger   *log.Logger
}

// New creates a new Engine.
func New(opts Options) *Engine {
	e := &Engine{
		store:          opts.Store,
		audit:          opts.Audit,
		reserver:       opts.Reserver,
		treasury:       opts.Treasury,
		treasuryTarget: opts.TreasuryTarget,
		claimWindow:    opts.ClaimWindow,
		minFundValue:   opts.MinFundValue,
		maxInputs:      opts.MaxInputs,
		maxRetries:     opts.MaxRetries,
		reservationTTL: opts.ReservationTTL,
		retryBackoff:   opts.RetryBackoff,
		metrics:        opts.Metrics,
		now:            opts.Now,
		newNonce:       opts.NewNonce,
		logger:         opts.Logger,
	}
	if e.minFundValue < 0 {
		e.minFundValue = DefaultMinFundValue
	}
	if e.maxInputs <= 0 {
		e.maxInputs = DefaultMaxInputs
	}
	if e.maxRetries < 0 {
		e.maxRetries = DefaultMaxRetries
	}
	if e.reservationTTL <= 0 {
		e.reservationTTL = DefaultReservationTTL
	}
	if e.retryBackoff == 0 {
		e.retryBackoff = DefaultRetryBackoff
	}
	if e.metrics == nil {
		e.metrics = observability.DefaultMetrics
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newNonce == nil {
		e.newNonce = func() string { return uuid.NewString() }
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard, "", 0)
	}
	if e.treasury == nil {
		e.treasury = opts.Authority
	}

	e.ledger = ledger.New(ledger.Options{
		Store:    opts.Store,
		Tiers:    opts.Tiers,
		Now:      e.now,
		NewNonce: e.newNonce,
		Logger:   e.logger,
		OnApply:  func(ctx context.Context, t *domain.Transition) { e.recordApplied(ctx, t, 0) },
	})
	e.oracle = oracle.New(oracle.Options{
		Store:          opts.Store,
		Authority:      opts.Authority,
		MarkerLovelace: opts.MarkerLovelace,
		Now:            e.now,
		NewNonce:       e.newNonce,
		Logger:         e.logger,
		OnApply:        func(ctx context.Context, t *domain.Transition) { e.recordApplied(ctx, t, 0) },
	})
	return e
}

// LockPosition records a new position in the event's pot.
func (e *Engine) LockPosition(ctx context.Context, params domain.EventParams, req ledger.LockRequest) (*domain.Position, error) {
	p, err := e.ledger.LockPosition(ctx, params, req)
	if err != nil {
		e.metrics.RecordLockRejected(codeOf(err))
		return nil, err
	}
	e.metrics.RecordLock(p.PredictedOutcome.String(), p.AdaContributed)
	return p, nil
}

// PostOutcome records the oracle's outcome with caller-supplied statistics.
func (e *Engine) PostOutcome(ctx context.Context, params domain.EventParams, c oracle.Capability, winning domain.Outcome, totalPotAda, totalWinningStake int64) (*domain.OutcomeRecord, error) {
	rec, err := e.oracle.PostOutcome(ctx, params, c, winning, totalPotAda, totalWinningStake)
	if err != nil {
		e.recordSettlementError(err)
		return nil, err
	}
	e.metrics.RecordOutcome(winning.String())
	return rec, nil
}

// SettleFromLedger posts the outcome with statistics derived from the ledger.
func (e *Engine) SettleFromLedger(ctx context.Context, params domain.EventParams, c oracle.Capability, winning domain.Outcome) (*domain.OutcomeRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	potID := idhash.ComputePotID(params)
	totalPot, totalWinning, err := e.oracle.ComputeStatistics(ctx, potID, winning)
	if err != nil {
		return nil, err
	}
	e.logger.Printf("settling %s from ledger: pot=%d winning_stake=%d", params, totalPot, totalWinning)
	return e.PostOutcome(ctx, params, c, winning, totalPot, totalWinning)
}

// InjectLiquidity adds a plain currency record to the pot.
// A swept pot is closed and rejects injections.
func (e *Engine) InjectLiquidity(ctx context.Context, params domain.EventParams, amount int64, source string) (*domain.FundRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, domain.NewError(domain.CodeInvalidInput, "injected amount must be positive", map[string]any{
			"amount": amount,
		})
	}

	potID := idhash.ComputePotID(params)
	nowMs := e.now().UnixMilli()
	tid := idhash.ComputeTransitionID(potID, domain.TransitionInject, e.newNonce())
	fund := &domain.FundRecord{
		FundID:    idhash.ComputeFundID(tid, 0),
		PotID:     potID,
		Amount:    amount,
		CreatedAt: nowMs,
	}
	t := &domain.Transition{
		TransitionID: tid,
		PotID:        potID,
		Kind:         domain.TransitionInject,
		Produced:     []*domain.FundRecord{fund},
		Inflow:       amount,
		Recipient:    source,
		AppliedAt:    nowMs,
	}
	if err := e.apply(ctx, t); err != nil {
		if errors.Is(err, storage.ErrClosed) {
			err = markerSpent(potID)
			e.recordSettlementError(err)
			return nil, err
		}
		return nil, fmt.Errorf("apply injection: %w", err)
	}
	e.recordApplied(ctx, t, 0)
	e.metrics.RecordInjection(amount)
	e.logger.Printf("injected %d lovelace into %s from %q", amount, params, source)
	return fund, nil
}

// PotStatus summarises the state of one pot.
type PotStatus struct {
	Params         domain.EventParams
	PotID          string
	FundCount      int
	LiveValue      int64
	Outcome        *domain.OutcomeRecord
	Positions      []*domain.Position
	StakeByOutcome map[domain.Outcome]int64
	Redeemed       map[string]bool // position_id -> redeemed
	Version        int
}

// Status returns the current state of the event's pot.
func (e *Engine) Status(ctx context.Context, params domain.EventParams) (*PotStatus, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	potID := idhash.ComputePotID(params)

	snap, err := e.store.Snapshot(ctx, potID)
	if err != nil {
		return nil, fmt.Errorf("snapshot pot: %w", err)
	}
	positions, err := e.store.GetPositionsByPot(ctx, potID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	st := &PotStatus{
		Params:         params,
		PotID:          potID,
		FundCount:      len(snap.Funds),
		LiveValue:      snap.LiveValue(),
		Outcome:        snap.Outcome,
		Positions:      positions,
		StakeByOutcome: make(map[domain.Outcome]int64),
		Redeemed:       make(map[string]bool),
		Version:        snap.Version,
	}
	if st.Outcome == nil {
		// a burned outcome is still reported
		if o, err := e.store.GetOutcome(ctx, potID); err == nil {
			st.Outcome = o
		}
	}
	for _, p := range positions {
		total, ok := domain.AddAmount(st.StakeByOutcome[p.PredictedOutcome], p.StakeTokenQuantity)
		if !ok {
			return nil, domain.NewError(domain.CodeInvariantViolation, "outcome stake overflows", map[string]any{
				"pot_id":  potID,
				"outcome": p.PredictedOutcome.String(),
			})
		}
		st.StakeByOutcome[p.PredictedOutcome] = total
		redeemed, err := e.store.IsRedeemed(ctx, p.PositionID)
		if err != nil {
			return nil, fmt.Errorf("check redemption: %w", err)
		}
		if redeemed {
			st.Redeemed[p.PositionID] = true
		}
	}
	return st, nil
}

// apply records a transition and observes its latency.
func (e *Engine) apply(ctx context.Context, t *domain.Transition) error {
	start := time.Now()
	err := e.store.Apply(ctx, t)
	if err == nil {
		e.metrics.RecordApply(string(t.Kind), time.Since(start).Seconds(), t.AppliedAt/1000)
	}
	return err
}

// recordApplied appends the transition to the audit trail. Failures are logged, not returned.
func (e *Engine) recordApplied(ctx context.Context, t *domain.Transition, consumedValue int64) {
	if t.Kind == domain.TransitionLock || t.Kind == domain.TransitionPost {
		e.metrics.RecordApply(string(t.Kind), 0, t.AppliedAt/1000)
	}
	if e.audit == nil {
		return
	}

	var liveAfter int64
	if snap, err := e.store.Snapshot(ctx, t.PotID); err == nil {
		liveAfter = snap.LiveValue()
	}
	entry := domain.NewAuditEntry(t, consumedValue, liveAfter)
	if err := e.audit.Insert(ctx, entry); err != nil {
		e.metrics.RecordAuditFailure()
		e.logger.Printf("audit %s %s failed: %v", t.Kind, t.TransitionID, err)
	}
}

func (e *Engine) recordSettlementError(err error) {
	var derr *domain.Error
	if errors.As(err, &derr) && derr.Code == domain.CodeSettlement {
		e.metrics.RecordSettlementError(derr.Reason)
	}
}

// codeOf returns the domain error code of err, or "INTERNAL".
func codeOf(err error) string {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return string(derr.Code)
	}
	return "INTERNAL"
}
