package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/idhash"
	"parimutuel-escrow/internal/oracle"
	"parimutuel-escrow/internal/storage"
	"parimutuel-escrow/internal/treasury"
)

// Sweep collects every remaining record of the pot, burning the settlement
// marker, and pays the total to treasuryTarget. Sweeping an empty pot
// succeeds with a zero result.
//
// c must be signed by the treasury authority for this pot and target. A pot
// holding funds is only swept after its outcome is posted and every winning
// position has redeemed, or the claim window has elapsed.
func (e *Engine) Sweep(ctx context.Context, params domain.EventParams, c oracle.SweepCapability, treasuryTarget string) (*domain.SweepResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if nowMs := e.now().UnixMilli(); nowMs < params.CutoffTime {
		return nil, domain.NewError(domain.CodeDeadlineViolation, "sweep before event cutoff", map[string]any{
			"now":    nowMs,
			"cutoff": params.CutoffTime,
		})
	}
	potID := idhash.ComputePotID(params)
	if err := e.authorizeSweep(c, potID, treasuryTarget); err != nil {
		e.recordSettlementError(err)
		return nil, err
	}

	for attempt := 1; attempt <= e.maxRetries+1; attempt++ {
		res, err := e.sweepOnce(ctx, potID, treasuryTarget)
		if err == nil {
			e.metrics.RecordSweep(res.TotalValue)
			if res.FundCount > 0 {
				e.logger.Printf("swept %s: funds=%d value=%d marker_burned=%v", params, res.FundCount, res.TotalValue, res.MarkerBurned)
			}
			return res, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			e.recordSettlementError(err)
			return nil, err
		}
		e.logger.Printf("sweep %s attempt %d lost race: %v", params, attempt, err)
		if attempt <= e.maxRetries {
			if err := e.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
	}

	return nil, domain.NewError(domain.CodeConcurrencyConflict, "pot kept changing during sweep", map[string]any{
		"pot_id":   potID,
		"attempts": e.maxRetries + 1,
	})
}

func (e *Engine) sweepOnce(ctx context.Context, potID, treasuryTarget string) (*domain.SweepResult, error) {
	snap, err := e.store.Snapshot(ctx, potID)
	if err != nil {
		return nil, fmt.Errorf("snapshot pot: %w", err)
	}

	res, err := treasury.SweepPot(snap.Funds, treasuryTarget)
	if err != nil {
		return nil, err
	}
	res.PotID = potID
	if res.FundCount == 0 {
		return res, nil
	}
	if err := e.checkRedemptionsExhausted(ctx, potID, snap.Outcome); err != nil {
		return nil, err
	}

	nowMs := e.now().UnixMilli()
	t := &domain.Transition{
		TransitionID: idhash.ComputeTransitionID(potID, domain.TransitionSweep, e.newNonce()),
		PotID:        potID,
		Kind:         domain.TransitionSweep,
		Consumed:     res.Collected,
		Outflow:      res.TotalValue,
		Recipient:    treasuryTarget,
		BurnOutcome:  res.MarkerBurned,
		AppliedAt:    nowMs,
	}
	if err := e.apply(ctx, t); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("apply sweep: %w", err)
	}
	e.recordApplied(ctx, t, res.TotalValue)

	res.TransitionID = t.TransitionID
	return res, nil
}

// authorizeSweep checks the pinned treasury target and the capability.
func (e *Engine) authorizeSweep(c oracle.SweepCapability, potID, target string) error {
	if e.treasuryTarget != "" && target != e.treasuryTarget {
		return domain.NewSettlementError(domain.ReasonUnauthorized, "sweep target is not the configured treasury", map[string]any{
			"treasury":   target,
			"configured": e.treasuryTarget,
		})
	}
	if e.treasury == nil {
		return domain.NewSettlementError(domain.ReasonUnauthorized, "no treasury authority configured", map[string]any{
			"pot_id": potID,
		})
	}
	return e.treasury.VerifySweep(c, potID, target)
}

// checkRedemptionsExhausted allows a sweep of a funded pot once its outcome
// is posted and no winner is left to redeem.
func (e *Engine) checkRedemptionsExhausted(ctx context.Context, potID string, outcome *domain.OutcomeRecord) error {
	if outcome == nil {
		return domain.NewSettlementError(domain.ReasonNoOutcome, "pot has no outcome; stakes are still owed", map[string]any{
			"pot_id": potID,
		})
	}
	if outcome.Burned {
		// closed by an earlier sweep; leftovers carry no claims
		return nil
	}

	if e.claimWindow > 0 {
		closes := time.UnixMilli(outcome.PostedAt).Add(e.claimWindow)
		if !e.now().Before(closes) {
			return nil
		}
	}

	positions, err := e.store.GetPositionsByPot(ctx, potID)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	var unclaimed int
	var unclaimedStake int64
	for _, p := range positions {
		if p.PredictedOutcome != outcome.WinningOutcome {
			continue
		}
		redeemed, err := e.store.IsRedeemed(ctx, p.PositionID)
		if err != nil {
			return fmt.Errorf("check redemption: %w", err)
		}
		if !redeemed {
			unclaimed++
			if sum, ok := domain.AddAmount(unclaimedStake, p.StakeTokenQuantity); ok {
				unclaimedStake = sum
			}
		}
	}
	if unclaimed > 0 {
		ctxInfo := map[string]any{
			"pot_id":          potID,
			"unclaimed":       unclaimed,
			"unclaimed_stake": unclaimedStake,
		}
		if e.claimWindow > 0 {
			ctxInfo["claim_window_closes"] = outcome.PostedAt + e.claimWindow.Milliseconds()
		}
		return domain.NewSettlementError(domain.ReasonUnclaimed, "winning positions have not redeemed", ctxInfo)
	}
	return nil
}
