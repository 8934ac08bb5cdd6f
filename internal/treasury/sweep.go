// Package treasury closes out a pot by collecting every remaining record.
package treasury

import (
	"sort"

	"parimutuel-escrow/internal/domain"
)

// SweepPot collects every live record of the pot, including the settlement
// marker which is burned, and assigns the total to treasuryTarget.
// An empty pot yields a zero-value result.
func SweepPot(potFunds []*domain.FundRecord, treasuryTarget string) (*domain.SweepResult, error) {
	if treasuryTarget == "" {
		return nil, domain.NewError(domain.CodeInvalidInput, "treasury target is empty", nil)
	}

	result := &domain.SweepResult{TreasuryTarget: treasuryTarget}
	if len(potFunds) == 0 {
		return result, nil
	}

	funds := make([]*domain.FundRecord, 0, len(potFunds))
	for _, f := range potFunds {
		if f != nil {
			funds = append(funds, f)
		}
	}
	sort.Slice(funds, func(i, j int) bool { return funds[i].FundID < funds[j].FundID })

	for _, f := range funds {
		if result.PotID == "" {
			result.PotID = f.PotID
		}
		result.Collected = append(result.Collected, f.FundID)
		result.TotalValue += f.Amount
		if IsMarker(f) {
			result.MarkerBurned = true
		}
	}
	result.FundCount = len(result.Collected)
	return result, nil
}

// IsMarker reports whether f is a settlement marker record.
func IsMarker(f *domain.FundRecord) bool {
	if !f.HasDatum() {
		return false
	}
	for _, a := range f.Assets {
		if a.AssetName == domain.MarkerAssetName && a.Quantity == 1 {
			return true
		}
	}
	return false
}
