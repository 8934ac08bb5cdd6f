// Package selection chooses the pot records that back a withdrawal.
//
// The heuristic is greedy largest-first bin covering bounded by maxInputs.
// It is not globally optimal; it keeps withdrawals small.
package selection

import (
	"sort"

	"parimutuel-escrow/internal/domain"
)

// Params bounds a selection.
type Params struct {
	MinFundValue int64 // smallest change worth keeping as a record
	MaxInputs    int   // maximum records consumed by one withdrawal
}

// SelectFunds picks records from potFunds covering target.
// The excluded record (the settlement marker) and reserved records are never chosen.
func SelectFunds(potFunds []*domain.FundRecord, excluded string, target, minFundValue int64, maxInputs int) (*domain.Selection, error) {
	if target <= 0 {
		return nil, domain.NewError(domain.CodeInvalidInput, "selection target must be positive", map[string]any{
			"target": target,
		})
	}
	if maxInputs <= 0 {
		return nil, domain.NewError(domain.CodeInvalidInput, "max inputs must be positive", map[string]any{
			"max_inputs": maxInputs,
		})
	}
	if minFundValue < 0 {
		return nil, domain.NewError(domain.CodeInvalidInput, "min fund value must not be negative", map[string]any{
			"min_fund_value": minFundValue,
		})
	}

	candidates := spendable(potFunds, excluded)

	// Single record first
	for _, f := range candidates {
		if f.Amount < target {
			break
		}
		change := f.Amount - target
		if change == 0 || change >= minFundValue {
			return newSelection([]*domain.FundRecord{f}, target, minFundValue), nil
		}
	}

	// Accumulate largest-first
	limit := maxInputs
	if limit > len(candidates) {
		limit = len(candidates)
	}
	var acc int64
	for i := 0; i < limit; i++ {
		next, ok := domain.AddAmount(acc, candidates[i].Amount)
		if !ok {
			// the selection total must fit in int64
			limit = i
			break
		}
		acc = next
		if acc < target {
			continue
		}
		change := acc - target
		if change == 0 || change >= minFundValue {
			return newSelection(candidates[:i+1], target, minFundValue), nil
		}
	}
	if acc >= target {
		// last resort: change is dust
		return newSelection(candidates[:limit], target, minFundValue), nil
	}

	return nil, domain.NewError(domain.CodeSelectionInsufficient, "pot cannot cover withdrawal", map[string]any{
		"target":     target,
		"available":  domain.SumAmounts(candidates),
		"reachable":  acc,
		"max_inputs": maxInputs,
		"candidates": len(candidates),
	})
}

// spendable filters and sorts records by amount DESC, fund_id ASC.
func spendable(potFunds []*domain.FundRecord, excluded string) []*domain.FundRecord {
	out := make([]*domain.FundRecord, 0, len(potFunds))
	for _, f := range potFunds {
		if f == nil || f.FundID == excluded || f.IsReserved() || f.Amount <= 0 {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].FundID < out[j].FundID
	})
	return out
}

func newSelection(funds []*domain.FundRecord, target, minFundValue int64) *domain.Selection {
	chosen := make([]*domain.FundRecord, len(funds))
	copy(chosen, funds)
	total := domain.SumAmounts(chosen)
	change := total - target
	return &domain.Selection{
		Funds:      chosen,
		Count:      len(chosen),
		TotalInput: total,
		Target:     target,
		Change:     change,
		Efficiency: float64(target) / float64(total),
		Dust:       change > 0 && change < minFundValue,
	}
}
