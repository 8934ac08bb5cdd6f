package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/idhash"
	"parimutuel-escrow/internal/payout"
	"parimutuel-escrow/internal/storage"
	"parimutuel-escrow/internal/verification"
)

// Generator produces pot reports from stored data.
type Generator struct {
	ledgerStore storage.LedgerStore
	auditStore  storage.AuditStore      // optional
	reconciler  verification.Reconciler // optional
	now         func() time.Time        // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
// auditStore and reconciler may be nil.
func NewGenerator(
	ledgerStore storage.LedgerStore,
	auditStore storage.AuditStore,
	reconciler verification.Reconciler,
) *Generator {
	return &Generator{
		ledgerStore: ledgerStore,
		auditStore:  auditStore,
		reconciler:  reconciler,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces the report of the event's pot.
func (g *Generator) Generate(ctx context.Context, params domain.EventParams) (*Report, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	potID := idhash.ComputePotID(params)

	snap, err := g.ledgerStore.Snapshot(ctx, potID)
	if err != nil {
		return nil, fmt.Errorf("snapshot pot: %w", err)
	}
	positions, err := g.ledgerStore.GetPositionsByPot(ctx, potID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	transitions, err := g.ledgerStore.GetTransitions(ctx, potID)
	if err != nil {
		return nil, fmt.Errorf("load transitions: %w", err)
	}
	outcome, err := g.ledgerStore.GetOutcome(ctx, potID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load outcome: %w", err)
		}
		outcome = nil
	}

	report := &Report{
		GeneratedAt: g.now(),
		Event:       params,
		PotID:       potID,
	}

	// Transition log and flows
	paid := make(map[string]int64)
	report.Transitions, err = g.generateTransitions(ctx, potID, transitions)
	if err != nil {
		return nil, err
	}
	for _, t := range transitions {
		switch t.Kind {
		case domain.TransitionInject:
			report.Summary.TotalInjected += t.Inflow
		case domain.TransitionRedeem:
			report.Summary.TotalPaid += t.Outflow
			paid[t.RedeemedPositionID] += t.Outflow
		case domain.TransitionSweep:
			report.Summary.TotalSwept += t.Outflow
		}
	}

	report.Positions = generatePositions(positions, outcome, paid)
	report.OutcomeTotals = generateOutcomeTotals(positions)

	report.Summary.PositionCount = len(positions)
	report.Summary.LiveFunds = len(snap.Funds)
	report.Summary.LiveValue = snap.LiveValue()
	report.Summary.Redeemed = len(paid)
	for _, p := range positions {
		report.Summary.TotalLocked += p.AdaContributed
	}

	if outcome != nil {
		section := &OutcomeSection{
			WinningOutcome:    outcome.WinningOutcome,
			TotalPotAda:       outcome.TotalPotAda,
			TotalWinningStake: outcome.TotalWinningStake,
			MarkerFundID:      outcome.MarkerFundID,
			PostedAt:          outcome.PostedAt,
			Burned:            outcome.Burned,
		}
		for _, row := range report.Positions {
			if row.Winner && !row.Redeemed {
				section.Unclaimed += row.Payout
			}
		}
		report.Outcome = section
	}

	if g.reconciler != nil {
		result, err := g.reconciler.ReconcilePot(ctx, potID)
		if err != nil {
			return nil, fmt.Errorf("reconcile pot: %w", err)
		}
		section := &ReconciliationSection{Match: result.Match}
		for _, d := range result.Divergences {
			section.Divergences = append(section.Divergences,
				fmt.Sprintf("%s: expected %v, actual %v", d.Field, d.Expected, d.Actual))
		}
		report.Reconciliation = section
	}

	return report, nil
}

// generateTransitions builds transition rows, attaching the audited
// live value when an audit store is configured.
func (g *Generator) generateTransitions(ctx context.Context, potID string, transitions []*domain.Transition) ([]TransitionRow, error) {
	liveAfter := make(map[string]int64)
	if g.auditStore != nil {
		entries, err := g.auditStore.GetByPot(ctx, potID)
		if err != nil {
			return nil, fmt.Errorf("load audit trail: %w", err)
		}
		for _, e := range entries {
			liveAfter[e.TransitionID] = e.LiveValueAfter
		}
	}

	rows := make([]TransitionRow, 0, len(transitions))
	for _, t := range transitions {
		row := TransitionRow{
			TransitionID: t.TransitionID,
			Kind:         t.Kind,
			Consumed:     len(t.Consumed),
			Produced:     len(t.Produced),
			Inflow:       t.Inflow,
			Outflow:      t.Outflow,
			Recipient:    t.Recipient,
			AppliedAt:    t.AppliedAt,
		}
		if v, ok := liveAfter[t.TransitionID]; ok {
			v := v
			row.LiveValueAfter = &v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// generatePositions builds position rows in store order.
func generatePositions(positions []*domain.Position, outcome *domain.OutcomeRecord, paid map[string]int64) []PositionRow {
	rows := make([]PositionRow, 0, len(positions))
	for _, p := range positions {
		row := PositionRow{
			PositionID: p.PositionID,
			Owner:      p.OwnerCredential,
			Outcome:    p.PredictedOutcome,
			Ada:        p.AdaContributed,
			Bead:       p.BeadBurned,
			Stake:      p.StakeTokenQuantity,
		}
		if amount, ok := paid[p.PositionID]; ok {
			row.Redeemed = true
			row.Payout = amount
		}
		if outcome != nil && p.PredictedOutcome == outcome.WinningOutcome {
			row.Winner = true
			if !row.Redeemed {
				if predicted, err := payout.Predict(outcome, p.StakeTokenQuantity); err == nil {
					row.Payout = predicted
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// generateOutcomeTotals aggregates positions per outcome in wire order.
func generateOutcomeTotals(positions []*domain.Position) []OutcomeTotalRow {
	rows := make([]OutcomeTotalRow, len(domain.AllOutcomes))
	for i, o := range domain.AllOutcomes {
		rows[i].Outcome = o
	}
	for _, p := range positions {
		for i := range rows {
			if rows[i].Outcome == p.PredictedOutcome {
				rows[i].Positions++
				rows[i].Ada += p.AdaContributed
				rows[i].Stake += p.StakeTokenQuantity
			}
		}
	}
	return rows
}
