package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/payout"
	"parimutuel-escrow/internal/storage"
)

// LedgerReconciler implements Reconciler over a storage.LedgerStore.
type LedgerReconciler struct {
	store storage.LedgerStore
}

// NewLedgerReconciler creates a new LedgerReconciler.
func NewLedgerReconciler(store storage.LedgerStore) *LedgerReconciler {
	return &LedgerReconciler{store: store}
}

// Compile-time interface check.
var _ Reconciler = (*LedgerReconciler)(nil)

// replayState is the pot rebuilt from its transition log.
type replayState struct {
	live        map[string]*domain.FundRecord
	outcome     *domain.OutcomeRecord
	outcomes    int
	redeemed    map[string]int64 // position_id -> payout
	stakes      map[string]int64 // position_id -> redeemed stake
	inflow      int64
	outflow     int64
	divergences []FieldDivergence
}

// ReconcilePot replays a pot and compares it with the store.
func (r *LedgerReconciler) ReconcilePot(ctx context.Context, potID string) (*ReconciliationResult, error) {
	// 1. Load the transition log
	transitions, err := r.store.GetTransitions(ctx, potID)
	if err != nil {
		return nil, fmt.Errorf("load transitions: %w", err)
	}

	// 2. Replay from an empty pot
	st := replay(transitions)

	// 3. Load stored state
	snap, err := r.store.Snapshot(ctx, potID)
	if err != nil {
		return nil, fmt.Errorf("snapshot pot: %w", err)
	}
	stored, err := r.store.GetOutcome(ctx, potID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load outcome: %w", err)
	}
	if errors.Is(err, storage.ErrNotFound) {
		stored = nil
	}

	// 4. Compare
	divergences := st.divergences
	storedFunds := make(map[string]*domain.FundRecord, len(snap.Funds))
	for _, f := range snap.Funds {
		storedFunds[f.FundID] = f
	}
	divergences = append(divergences, CompareFunds(st.live, storedFunds)...)
	divergences = append(divergences, CompareOutcomes(st.outcome, stored)...)

	if snap.Version != len(transitions) {
		divergences = append(divergences, FieldDivergence{
			Field:    "Version",
			Expected: len(transitions),
			Actual:   snap.Version,
		})
	}

	liveValue := sumLive(st.live)
	if st.inflow-st.outflow != liveValue {
		divergences = append(divergences, FieldDivergence{
			Field:    "Conservation",
			Expected: st.inflow - st.outflow,
			Actual:   liveValue,
		})
	}

	totalPayout := int64(0)
	for _, id := range sortedKeys(st.redeemed) {
		totalPayout += st.redeemed[id]
		redeemed, err := r.store.IsRedeemed(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check redemption: %w", err)
		}
		if !redeemed {
			divergences = append(divergences, FieldDivergence{
				Field:    "Redeemed[" + id + "]",
				Expected: true,
				Actual:   false,
			})
		}
	}
	divergences = append(divergences, checkPayouts(st, totalPayout)...)

	return &ReconciliationResult{
		PotID:        potID,
		Match:        len(divergences) == 0,
		Divergences:  divergences,
		Transitions:  len(transitions),
		LiveValue:    liveValue,
		TotalInflow:  st.inflow,
		TotalOutflow: st.outflow,
		TotalPayout:  totalPayout,
		Redemptions:  len(st.redeemed),
	}, nil
}

// ReconcileAll reconciles each pot in turn.
func (r *LedgerReconciler) ReconcileAll(ctx context.Context, potIDs []string) (*ReconciliationReport, error) {
	report := &ReconciliationReport{
		TotalPots: len(potIDs),
		Results:   make([]ReconciliationResult, 0, len(potIDs)),
	}

	for _, potID := range potIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := r.ReconcilePot(ctx, potID)
		if err != nil {
			// Record error as divergence
			report.Results = append(report.Results, ReconciliationResult{
				PotID: potID,
				Match: false,
				Divergences: []FieldDivergence{
					{Field: "Error", Expected: nil, Actual: err.Error()},
				},
			})
			report.DivergentPots++
			continue
		}

		report.Results = append(report.Results, *result)
		if result.Match {
			report.MatchedPots++
		} else {
			report.DivergentPots++
		}
	}

	return report, nil
}

// replay applies transitions in log order to an empty pot.
func replay(transitions []*domain.Transition) *replayState {
	st := &replayState{
		live:     make(map[string]*domain.FundRecord),
		redeemed: make(map[string]int64),
		stakes:   make(map[string]int64),
	}

	for i, t := range transitions {
		var consumed int64
		wrapped := false
		for _, id := range t.Consumed {
			f, ok := st.live[id]
			if !ok {
				st.diverge(fmt.Sprintf("Transition[%d].Consumed[%s]", i, id), "live", "missing")
				continue
			}
			next, ok := domain.AddAmount(consumed, f.Amount)
			wrapped = wrapped || !ok
			consumed = next
			delete(st.live, id)
		}
		for _, f := range t.Produced {
			st.live[f.FundID] = f
		}

		if wrapped {
			st.diverge(fmt.Sprintf("Transition[%d].Balance", i), "balanced", "consumed value overflows")
		} else if err := storage.CheckBalance(t, consumed); err != nil {
			st.diverge(fmt.Sprintf("Transition[%d].Balance", i), "balanced", err.Error())
		}
		st.inflow += t.Inflow
		st.outflow += t.Outflow

		if t.Outcome != nil {
			st.outcomes++
			if st.outcomes > 1 {
				st.diverge("OutcomeCount", 1, st.outcomes)
			} else {
				o := *t.Outcome
				o.Burned = false
				st.outcome = &o
			}
		}
		if t.RedeemedPositionID != "" {
			if _, dup := st.redeemed[t.RedeemedPositionID]; dup {
				st.diverge("Redemption["+t.RedeemedPositionID+"]", 1, 2)
			}
			st.redeemed[t.RedeemedPositionID] += t.Outflow
			st.stakes[t.RedeemedPositionID] = t.RedeemedStake
		}
		if t.BurnOutcome {
			if st.outcome == nil {
				st.diverge(fmt.Sprintf("Transition[%d].BurnOutcome", i), "outcome posted", "no outcome")
			} else {
				st.outcome.Burned = true
			}
		}
	}
	return st
}

// checkPayouts verifies each payout against the ceiling share and the total
// against the pot recorded at settlement.
func checkPayouts(st *replayState, totalPayout int64) []FieldDivergence {
	if len(st.redeemed) == 0 {
		return nil
	}
	if st.outcome == nil {
		return []FieldDivergence{{Field: "Redemptions", Expected: "outcome posted", Actual: len(st.redeemed)}}
	}

	var divergences []FieldDivergence
	for _, id := range sortedKeys(st.redeemed) {
		maxAllowed, err := payout.MaxAllowed(st.outcome, st.stakes[id])
		if err != nil {
			divergences = append(divergences, FieldDivergence{Field: "Payout[" + id + "]", Expected: "valid share", Actual: err.Error()})
			continue
		}
		if st.redeemed[id] > maxAllowed {
			divergences = append(divergences, FieldDivergence{Field: "Payout[" + id + "]", Expected: maxAllowed, Actual: st.redeemed[id]})
		}
	}
	if totalPayout > st.outcome.TotalPotAda {
		divergences = append(divergences, FieldDivergence{Field: "TotalPayout", Expected: st.outcome.TotalPotAda, Actual: totalPayout})
	}
	return divergences
}

func (st *replayState) diverge(field string, expected, actual interface{}) {
	st.divergences = append(st.divergences, FieldDivergence{Field: field, Expected: expected, Actual: actual})
}

func sumLive(live map[string]*domain.FundRecord) int64 {
	var total int64
	for _, f := range live {
		total += f.Amount
	}
	return total
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
