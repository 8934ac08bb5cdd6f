// Package payout computes a winner's proportional share of a settled pot.
//
// One function serves both sides of a withdrawal: the requester predicts the
// amount with Floor and the enforcer bounds the outflow with Ceil. Both use
// exact rational arithmetic so the two can never disagree by more than one
// lovelace.
package payout

import (
	"math/big"

	"parimutuel-escrow/internal/domain"
)

// Rounding selects how the exact share is turned into lovelace.
type Rounding int

const (
	// Floor is used when predicting a payout.
	Floor Rounding = iota
	// Ceil is used when enforcing the maximum allowed outflow.
	Ceil
)

// String returns the name of the rounding mode.
func (r Rounding) String() string {
	switch r {
	case Floor:
		return "floor"
	case Ceil:
		return "ceil"
	default:
		return "unknown"
	}
}

// ComputePayout returns callerStake * TotalPotAda / TotalWinningStake rounded per mode.
func ComputePayout(outcome *domain.OutcomeRecord, callerStake int64, mode Rounding) (int64, error) {
	if outcome == nil {
		return 0, domain.NewSettlementError(domain.ReasonNoOutcome, "outcome not posted", nil)
	}
	if outcome.TotalWinningStake == 0 {
		return 0, domain.NewSettlementError(domain.ReasonNoWinners, "no stake on the winning outcome", map[string]any{
			"event_id":        outcome.EventID,
			"winning_outcome": outcome.WinningOutcome.String(),
		})
	}
	if outcome.TotalWinningStake < 0 || outcome.TotalPotAda < 0 {
		return 0, domain.NewError(domain.CodeInvalidInput, "negative settlement statistics", map[string]any{
			"total_pot_ada":       outcome.TotalPotAda,
			"total_winning_stake": outcome.TotalWinningStake,
		})
	}
	if callerStake <= 0 {
		return 0, domain.NewError(domain.CodeInvalidInput, "caller stake must be positive", map[string]any{
			"caller_stake": callerStake,
		})
	}
	if callerStake > outcome.TotalWinningStake {
		return 0, domain.NewError(domain.CodeInvalidInput, "caller stake exceeds total winning stake", map[string]any{
			"caller_stake":        callerStake,
			"total_winning_stake": outcome.TotalWinningStake,
		})
	}

	num := new(big.Int).Mul(big.NewInt(callerStake), big.NewInt(outcome.TotalPotAda))
	den := big.NewInt(outcome.TotalWinningStake)

	// Operands are non-negative so Euclidean QuoRem is the floor.
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if mode == Ceil && r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsInt64() {
		return 0, domain.NewError(domain.CodeInvalidInput, "payout overflows int64", map[string]any{
			"caller_stake": callerStake,
		})
	}
	return q.Int64(), nil
}

// Predict returns the floor payout a requester should ask for.
func Predict(outcome *domain.OutcomeRecord, callerStake int64) (int64, error) {
	return ComputePayout(outcome, callerStake, Floor)
}

// MaxAllowed returns the ceiling payout an enforcer accepts.
func MaxAllowed(outcome *domain.OutcomeRecord, callerStake int64) (int64, error) {
	return ComputePayout(outcome, callerStake, Ceil)
}

// ValidateWithdrawal accepts an outflow iff it does not exceed the ceiling share.
func ValidateWithdrawal(outcome *domain.OutcomeRecord, callerStake, outflow int64) error {
	if outflow < 0 {
		return domain.NewError(domain.CodeInvalidInput, "negative outflow", map[string]any{"outflow": outflow})
	}
	max, err := MaxAllowed(outcome, callerStake)
	if err != nil {
		return err
	}
	if outflow > max {
		return domain.NewSettlementError(domain.ReasonExceedsShare, "withdrawal exceeds proportional share", map[string]any{
			"outflow":      outflow,
			"max_allowed":  max,
			"caller_stake": callerStake,
		})
	}
	return nil
}

// Tolerance returns ceil - floor for the caller's share, always 0 or 1.
func Tolerance(outcome *domain.OutcomeRecord, callerStake int64) (int64, error) {
	lo, err := Predict(outcome, callerStake)
	if err != nil {
		return 0, err
	}
	hi, err := MaxAllowed(outcome, callerStake)
	if err != nil {
		return 0, err
	}
	return hi - lo, nil
}
