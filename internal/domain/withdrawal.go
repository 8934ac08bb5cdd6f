package domain

// Selection is the set of pot records chosen to back a withdrawal.
type Selection struct {
	Funds      []*FundRecord // selected records, largest first
	Count      int           // number of selected records
	TotalInput int64         // sum of selected amounts
	Target     int64         // amount to cover
	Change     int64         // TotalInput - Target, returned to the pot
	Efficiency float64       // Target / TotalInput
	Dust       bool          // change below min fund value (last resort)
}

// FundIDs returns the ids of the selected records.
func (s *Selection) FundIDs() []string {
	ids := make([]string, 0, len(s.Funds))
	for _, f := range s.Funds {
		ids = append(ids, f.FundID)
	}
	return ids
}

// WithdrawalRequest is the ephemeral claim of a winner against a pot.
type WithdrawalRequest struct {
	PotID        string
	PositionID   string
	CallerStake  int64      // winning stake tokens burned
	PayoutAmount int64      // predicted (floor) payout
	MaxAllowed   int64      // enforced (ceiling) payout
	Selection    *Selection // funds backing the payout
}

// PotSnapshot is a consistent read of a pot's live state.
type PotSnapshot struct {
	PotID   string
	Funds   []*FundRecord
	Outcome *OutcomeRecord // nil until posted
	Version int            // number of applied transitions at read time
}

// LiveValue returns the total lovelace held by the pot.
func (s *PotSnapshot) LiveValue() int64 {
	return SumAmounts(s.Funds)
}

// MarkerFund returns the settlement marker record, if any.
func (s *PotSnapshot) MarkerFund() *FundRecord {
	if s.Outcome == nil {
		return nil
	}
	for _, f := range s.Funds {
		if f.FundID == s.Outcome.MarkerFundID {
			return f
		}
	}
	return nil
}

// SweepResult is the outcome of a treasury sweep.
type SweepResult struct {
	PotID          string
	TreasuryTarget string
	Collected      []string // fund ids collected
	FundCount      int
	TotalValue     int64
	MarkerBurned   bool
	TransitionID   string // empty when nothing was collected
}
