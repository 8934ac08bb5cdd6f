package domain

// TransitionKind is the type of an atomic ledger transition.
type TransitionKind string

const (
	TransitionLock   TransitionKind = "LOCK"
	TransitionInject TransitionKind = "INJECT"
	TransitionPost   TransitionKind = "POST_OUTCOME"
	TransitionRedeem TransitionKind = "REDEEM"
	TransitionSweep  TransitionKind = "SWEEP"
)

// String returns the string representation of TransitionKind.
func (k TransitionKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a valid value.
func (k TransitionKind) IsValid() bool {
	switch k {
	case TransitionLock, TransitionInject, TransitionPost, TransitionRedeem, TransitionSweep:
		return true
	}
	return false
}

// Transition is one all-or-nothing state change of a pot.
// Value balance: sum(consumed) + Inflow == sum(produced) + Outflow.
type Transition struct {
	TransitionID string         // deterministic hash
	PotID        string         // affected pot
	Kind         TransitionKind // LOCK | INJECT | POST_OUTCOME | REDEEM | SWEEP
	Consumed     []string       // fund ids spent (must be live)
	Produced     []*FundRecord  // fund records created
	Inflow       int64          // lovelace entering the pot from outside
	Outflow      int64          // lovelace leaving the pot
	Recipient    string         // payout or treasury target

	Position           *Position      // LOCK: position to record
	Outcome            *OutcomeRecord // POST_OUTCOME: outcome to record
	RedeemedPositionID string         // REDEEM: position being redeemed
	RedeemedStake      int64          // REDEEM: stake tokens burned
	BurnOutcome        bool           // SWEEP: burn the settlement marker

	AppliedAt int64 // Unix timestamp in milliseconds
}

// ProducedValue returns the lovelace of produced records.
func (t *Transition) ProducedValue() int64 {
	return SumAmounts(t.Produced)
}
