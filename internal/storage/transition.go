package storage

import (
	"fmt"

	"parimutuel-escrow/internal/domain"
)

// CheckTransition validates the shape of a transition before it is applied.
// Stores call it before touching state.
func CheckTransition(t *domain.Transition) error {
	if t == nil || t.TransitionID == "" || t.PotID == "" {
		return ErrInvalidInput
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("%w: unknown transition kind %q", ErrInvalidInput, t.Kind)
	}
	if t.Inflow < 0 || t.Outflow < 0 {
		return fmt.Errorf("%w: negative flow", ErrInvalidInput)
	}

	seen := make(map[string]struct{}, len(t.Consumed)+len(t.Produced))
	for _, id := range t.Consumed {
		if id == "" {
			return fmt.Errorf("%w: empty consumed fund id", ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: fund %s consumed twice", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	for _, f := range t.Produced {
		if f == nil || f.FundID == "" || f.PotID != t.PotID || f.Amount < 0 {
			return fmt.Errorf("%w: malformed produced fund", ErrInvalidInput)
		}
		if _, dup := seen[f.FundID]; dup {
			return fmt.Errorf("%w: fund %s produced twice", ErrInvalidInput, f.FundID)
		}
		seen[f.FundID] = struct{}{}
	}

	switch t.Kind {
	case domain.TransitionLock:
		if t.Position == nil || t.Position.PositionID == "" || t.Position.PotID != t.PotID {
			return fmt.Errorf("%w: lock without position", ErrInvalidInput)
		}
	case domain.TransitionPost:
		if t.Outcome == nil || t.Outcome.PotID != t.PotID {
			return fmt.Errorf("%w: post without outcome", ErrInvalidInput)
		}
	case domain.TransitionRedeem:
		if t.RedeemedPositionID == "" {
			return fmt.Errorf("%w: redeem without position", ErrInvalidInput)
		}
	}
	return nil
}

// CheckBalance verifies sum(consumed) + inflow == sum(produced) + outflow.
// Sides that overflow int64 never balance.
func CheckBalance(t *domain.Transition, consumedValue int64) error {
	in, inOK := domain.AddAmount(consumedValue, t.Inflow)
	produced, ok := domain.CheckedSum(t.Produced)
	out, outOK := domain.AddAmount(produced, t.Outflow)
	if !inOK || !ok || !outOK {
		return fmt.Errorf("%w: transition %s amounts overflow", ErrInvalidInput, t.TransitionID)
	}
	if in != out {
		return fmt.Errorf("%w: transition %s does not balance (in=%d out=%d)", ErrInvalidInput, t.TransitionID, in, out)
	}
	return nil
}
