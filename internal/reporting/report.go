package reporting

import (
	"time"

	"parimutuel-escrow/internal/domain"
)

// Report represents the settlement report of one pot.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Event       domain.EventParams
	PotID       string

	Summary PotSummary

	// Settlement, nil until the outcome is posted
	Outcome *OutcomeSection

	// Stake per outcome in wire order (TIE, HOME, AWAY)
	OutcomeTotals []OutcomeTotalRow

	// Positions (sorted by locked_at, position_id)
	Positions []PositionRow

	// Transition log in application order
	Transitions []TransitionRow

	Reconciliation *ReconciliationSection // nil when no reconciler is configured
}

// PotSummary contains pot-level totals in lovelace.
type PotSummary struct {
	PositionCount int
	TotalLocked   int64 // ADA locked by positions
	TotalInjected int64 // operator liquidity
	LiveFunds     int
	LiveValue     int64
	TotalPaid     int64 // paid to winners
	TotalSwept    int64 // paid to the treasury
	Redeemed      int
}

// OutcomeSection describes the posted outcome.
type OutcomeSection struct {
	WinningOutcome    domain.Outcome
	TotalPotAda       int64
	TotalWinningStake int64
	MarkerFundID      string
	PostedAt          int64
	Burned            bool
	Unclaimed         int64 // predicted payouts of winners not yet redeemed
}

// OutcomeTotalRow aggregates positions predicting one outcome.
type OutcomeTotalRow struct {
	Outcome   domain.Outcome
	Positions int
	Ada       int64
	Stake     int64
}

// PositionRow represents one position.
type PositionRow struct {
	PositionID string
	Owner      string
	Outcome    domain.Outcome
	Ada        int64
	Bead       int64
	Stake      int64
	Winner     bool
	Redeemed   bool
	Payout     int64 // paid when redeemed, predicted otherwise; 0 for losers
}

// TransitionRow represents one applied transition.
type TransitionRow struct {
	TransitionID   string
	Kind           domain.TransitionKind
	Consumed       int
	Produced       int
	Inflow         int64
	Outflow        int64
	Recipient      string
	LiveValueAfter *int64 // from the audit trail, nil when not audited
	AppliedAt      int64
}

// ReconciliationSection summarises a reconciliation run.
type ReconciliationSection struct {
	Match       bool
	Divergences []string
}
