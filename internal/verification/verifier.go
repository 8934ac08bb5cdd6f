// Package verification reconciles stored pot state with the pot's transition log.
// It replays every transition from an empty pot and reports each field where the
// rebuilt state and the stored state disagree.
package verification

import (
	"context"

	"parimutuel-escrow/internal/domain"
)

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string      // field name
	Expected interface{} // value derived from the transition log
	Actual   interface{} // value held by the store
}

// ReconciliationResult contains the result of reconciling a single pot.
type ReconciliationResult struct {
	PotID        string            // reconciled pot
	Match        bool              // true if no divergence was found
	Divergences  []FieldDivergence // list of divergent fields
	Transitions  int               // transitions replayed
	LiveValue    int64             // replayed live value
	TotalInflow  int64             // lovelace that entered the pot
	TotalOutflow int64             // lovelace that left the pot
	TotalPayout  int64             // lovelace paid to winners
	Redemptions  int               // positions redeemed
}

// ReconciliationReport contains results for batch reconciliation.
type ReconciliationReport struct {
	TotalPots     int                    // pots reconciled
	MatchedPots   int                    // pots without divergence
	DivergentPots int                    // pots with divergences
	Results       []ReconciliationResult // individual results
}

// Reconciler verifies pots against their transition logs.
type Reconciler interface {
	// ReconcilePot replays the pot's transitions and compares the
	// rebuilt state with the stored snapshot and outcome.
	ReconcilePot(ctx context.Context, potID string) (*ReconciliationResult, error)

	// ReconcileAll reconciles the given pots.
	// Errors on individual pots are reported as divergences.
	ReconcileAll(ctx context.Context, potIDs []string) (*ReconciliationReport, error)
}

// CompareOutcomes compares the replayed outcome with the stored one.
func CompareOutcomes(replayed, stored *domain.OutcomeRecord) []FieldDivergence {
	var divergences []FieldDivergence

	if replayed == nil || stored == nil {
		if replayed != stored {
			divergences = append(divergences, FieldDivergence{
				Field:    "Outcome",
				Expected: replayed != nil,
				Actual:   stored != nil,
			})
		}
		return divergences
	}

	if replayed.WinningOutcome != stored.WinningOutcome {
		divergences = append(divergences, FieldDivergence{
			Field:    "Outcome.WinningOutcome",
			Expected: replayed.WinningOutcome.String(),
			Actual:   stored.WinningOutcome.String(),
		})
	}

	if replayed.TotalPotAda != stored.TotalPotAda {
		divergences = append(divergences, FieldDivergence{
			Field:    "Outcome.TotalPotAda",
			Expected: replayed.TotalPotAda,
			Actual:   stored.TotalPotAda,
		})
	}

	if replayed.TotalWinningStake != stored.TotalWinningStake {
		divergences = append(divergences, FieldDivergence{
			Field:    "Outcome.TotalWinningStake",
			Expected: replayed.TotalWinningStake,
			Actual:   stored.TotalWinningStake,
		})
	}

	if replayed.MarkerFundID != stored.MarkerFundID {
		divergences = append(divergences, FieldDivergence{
			Field:    "Outcome.MarkerFundID",
			Expected: replayed.MarkerFundID,
			Actual:   stored.MarkerFundID,
		})
	}

	if replayed.Burned != stored.Burned {
		divergences = append(divergences, FieldDivergence{
			Field:    "Outcome.Burned",
			Expected: replayed.Burned,
			Actual:   stored.Burned,
		})
	}

	return divergences
}

// CompareFunds compares the replayed live fund set with the stored one.
// Both maps are keyed by fund_id.
func CompareFunds(replayed, stored map[string]*domain.FundRecord) []FieldDivergence {
	var divergences []FieldDivergence

	for _, id := range sortedKeys(replayed) {
		r := replayed[id]
		s, ok := stored[id]
		if !ok {
			divergences = append(divergences, FieldDivergence{
				Field:    "Fund[" + id + "]",
				Expected: r.Amount,
				Actual:   nil,
			})
			continue
		}
		if r.Amount != s.Amount {
			divergences = append(divergences, FieldDivergence{
				Field:    "Fund[" + id + "].Amount",
				Expected: r.Amount,
				Actual:   s.Amount,
			})
		}
		if r.IsReserved() != s.IsReserved() {
			divergences = append(divergences, FieldDivergence{
				Field:    "Fund[" + id + "].Reserved",
				Expected: r.IsReserved(),
				Actual:   s.IsReserved(),
			})
		}
	}

	for _, id := range sortedKeys(stored) {
		if _, ok := replayed[id]; !ok {
			divergences = append(divergences, FieldDivergence{
				Field:    "Fund[" + id + "]",
				Expected: nil,
				Actual:   stored[id].Amount,
			})
		}
	}

	return divergences
}
