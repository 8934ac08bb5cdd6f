package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/idhash"
	"parimutuel-escrow/internal/payout"
	"parimutuel-escrow/internal/selection"
	"parimutuel-escrow/internal/storage"
)

// RedeemResult describes a completed withdrawal.
type RedeemResult struct {
	TransitionID string
	PositionID   string
	Recipient    string
	Payout       int64
	MaxAllowed   int64
	Selection    *domain.Selection
	ChangeFundID string // empty when no change was returned to the pot
	Attempts     int
}

// PlanRedemption computes the withdrawal a winner should request:
// the floor payout and the pot records backing it.
func (e *Engine) PlanRedemption(ctx context.Context, params domain.EventParams, positionID string) (*domain.WithdrawalRequest, error) {
	req, _, err := e.plan(ctx, params, positionID)
	return req, err
}

// plan returns storage.ErrReserved, wrapping the selection failure, when the
// pot could only fall short because other withdrawals hold some records.
func (e *Engine) plan(ctx context.Context, params domain.EventParams, positionID string) (*domain.WithdrawalRequest, *domain.PotSnapshot, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	if nowMs := e.now().UnixMilli(); nowMs < params.CutoffTime {
		return nil, nil, domain.NewError(domain.CodeDeadlineViolation, "redemption before event cutoff", map[string]any{
			"now":    nowMs,
			"cutoff": params.CutoffTime,
		})
	}

	potID := idhash.ComputePotID(params)
	position, err := e.store.GetPosition(ctx, positionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, domain.NewError(domain.CodeInvalidInput, "unknown position", map[string]any{
				"position_id": positionID,
			})
		}
		return nil, nil, fmt.Errorf("load position: %w", err)
	}
	if position.PotID != potID {
		return nil, nil, domain.NewError(domain.CodeInvalidInput, "position belongs to another event", map[string]any{
			"position_id": positionID,
			"event_id":    params.EventID,
		})
	}

	snap, err := e.store.Snapshot(ctx, potID)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot pot: %w", err)
	}
	outcome := snap.Outcome
	if outcome == nil {
		return nil, nil, domain.NewSettlementError(domain.ReasonNoOutcome, "outcome not posted", map[string]any{
			"event_id": params.EventID,
		})
	}
	if outcome.Burned {
		return nil, nil, domain.NewSettlementError(domain.ReasonMarkerSpent, "pot already swept", map[string]any{
			"event_id": params.EventID,
		})
	}
	if position.PredictedOutcome != outcome.WinningOutcome {
		return nil, nil, domain.NewSettlementError(domain.ReasonNotWinner, "position did not predict the winning outcome", map[string]any{
			"position_id": positionID,
			"predicted":   position.PredictedOutcome.String(),
			"winning":     outcome.WinningOutcome.String(),
		})
	}
	redeemed, err := e.store.IsRedeemed(ctx, positionID)
	if err != nil {
		return nil, nil, fmt.Errorf("check redemption: %w", err)
	}
	if redeemed {
		return nil, nil, alreadyRedeemed(positionID)
	}

	stake := position.StakeTokenQuantity
	amount, err := payout.Predict(outcome, stake)
	if err != nil {
		return nil, nil, err
	}
	maxAllowed, err := payout.MaxAllowed(outcome, stake)
	if err != nil {
		return nil, nil, err
	}

	req := &domain.WithdrawalRequest{
		PotID:        potID,
		PositionID:   positionID,
		CallerStake:  stake,
		PayoutAmount: amount,
		MaxAllowed:   maxAllowed,
	}
	if amount == 0 {
		req.Selection = &domain.Selection{}
		return req, snap, nil
	}

	funds, err := e.unreserved(ctx, snap.Funds)
	if err != nil {
		return nil, nil, err
	}
	sel, err := selection.SelectFunds(funds, outcome.MarkerFundID, amount, e.minFundValue, e.maxInputs)
	if err != nil {
		if len(funds) < len(snap.Funds) && errors.Is(err, domain.ErrSelectionInsufficient) {
			return nil, nil, fmt.Errorf("%w: %v", storage.ErrReserved, err)
		}
		return nil, nil, err
	}
	req.Selection = sel
	return req, snap, nil
}

// unreserved drops records claimed by other withdrawals.
func (e *Engine) unreserved(ctx context.Context, funds []*domain.FundRecord) ([]*domain.FundRecord, error) {
	if e.reserver == nil || len(funds) == 0 {
		return funds, nil
	}
	ids := make([]string, len(funds))
	for i, f := range funds {
		ids[i] = f.FundID
	}
	held, err := e.reserver.Reserved(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("read reservations: %w", err)
	}
	if len(held) == 0 {
		return funds, nil
	}
	out := make([]*domain.FundRecord, 0, len(funds))
	for _, f := range funds {
		if !held[f.FundID] {
			out = append(out, f)
		}
	}
	return out, nil
}

// Redeem pays a winning position its share of the pot.
// A lost race on the selected records triggers a fresh plan, up to MaxRetries times.
func (e *Engine) Redeem(ctx context.Context, params domain.EventParams, positionID, recipient string) (*RedeemResult, error) {
	if recipient == "" {
		return nil, domain.NewError(domain.CodeInvalidInput, "recipient is empty", nil)
	}

	for attempt := 1; attempt <= e.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := e.redeemOnce(ctx, params, positionID, recipient)
		if err == nil {
			res.Attempts = attempt
			e.metrics.RecordRedemption("ok", res.Payout, res.Selection.Count, res.Selection.Efficiency, res.Selection.Dust)
			e.logger.Printf("redeemed %s: payout=%d inputs=%d change=%d attempts=%d",
				positionID, res.Payout, res.Selection.Count, res.Selection.Change, attempt)
			return res, nil
		}
		if !storage.IsContention(err) {
			e.metrics.RecordRedemption(codeOf(err), 0, 0, 0, false)
			e.recordSettlementError(err)
			return nil, err
		}

		e.metrics.RecordRetry()
		e.logger.Printf("redeem %s attempt %d lost race: %v", positionID, attempt, err)
		if attempt <= e.maxRetries {
			if err := e.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	e.metrics.RecordRedemption(string(domain.CodeConcurrencyConflict), 0, 0, 0, false)
	return nil, domain.NewError(domain.CodeConcurrencyConflict, "selected funds kept being spent concurrently", map[string]any{
		"position_id": positionID,
		"attempts":    e.maxRetries + 1,
	})
}

// redeemOnce plans, enforces and applies one redemption attempt.
// Returns storage.ErrConflict or storage.ErrReserved when the attempt lost a race.
func (e *Engine) redeemOnce(ctx context.Context, params domain.EventParams, positionID, recipient string) (*RedeemResult, error) {
	req, snap, err := e.plan(ctx, params, positionID)
	if err != nil {
		return nil, err
	}

	// Enforcing side: the outflow must be within the ceiling share
	// and the marker must stay in the pot.
	if err := payout.ValidateWithdrawal(snap.Outcome, req.CallerStake, req.PayoutAmount); err != nil {
		return nil, err
	}
	ids := req.Selection.FundIDs()
	for _, id := range ids {
		if id == snap.Outcome.MarkerFundID {
			return nil, domain.NewError(domain.CodeInvariantViolation, "settlement marker selected for withdrawal", map[string]any{
				"fund_id": id,
			})
		}
	}

	if e.reserver != nil && len(ids) > 0 {
		release, err := e.reserver.Reserve(ctx, ids, e.reservationTTL)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	nowMs := e.now().UnixMilli()
	tid := idhash.ComputeTransitionID(req.PotID, domain.TransitionRedeem, e.newNonce())
	t := &domain.Transition{
		TransitionID:       tid,
		PotID:              req.PotID,
		Kind:               domain.TransitionRedeem,
		Consumed:           ids,
		Outflow:            req.PayoutAmount,
		Recipient:          recipient,
		RedeemedPositionID: positionID,
		RedeemedStake:      req.CallerStake,
		AppliedAt:          nowMs,
	}
	res := &RedeemResult{
		TransitionID: tid,
		PositionID:   positionID,
		Recipient:    recipient,
		Payout:       req.PayoutAmount,
		MaxAllowed:   req.MaxAllowed,
		Selection:    req.Selection,
	}
	if req.Selection.Change > 0 {
		change := &domain.FundRecord{
			FundID:    idhash.ComputeFundID(tid, 0),
			PotID:     req.PotID,
			Amount:    req.Selection.Change,
			CreatedAt: nowMs,
		}
		t.Produced = []*domain.FundRecord{change}
		res.ChangeFundID = change.FundID
	}

	if err := e.apply(ctx, t); err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			return nil, err
		case errors.Is(err, storage.ErrDuplicateKey):
			return nil, alreadyRedeemed(positionID)
		case errors.Is(err, storage.ErrClosed):
			return nil, markerSpent(req.PotID)
		default:
			return nil, fmt.Errorf("apply redemption: %w", err)
		}
	}
	e.recordApplied(ctx, t, req.Selection.TotalInput)
	return res, nil
}

// backoff waits before the next attempt, growing linearly.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	if e.retryBackoff <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(attempt) * e.retryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func alreadyRedeemed(positionID string) error {
	return domain.NewSettlementError(domain.ReasonAlreadyRedeemed, "position already redeemed", map[string]any{
		"position_id": positionID,
	})
}

func markerSpent(potID string) error {
	return domain.NewSettlementError(domain.ReasonMarkerSpent, "pot already swept", map[string]any{
		"pot_id": potID,
	})
}
