package domain

import "math"

// BeadScale converts one bonus token unit into lovelace-equivalent stake.
const BeadScale int64 = 1_000_000

// MaxBeadBurn is the largest bead burn whose anti-dominance floor
// (2 * bead * BeadScale) fits in int64.
const MaxBeadBurn = math.MaxInt64 / 2 / BeadScale

// Position is one participant's locked stake predicting an outcome.
// Corresponds to positions table in PostgreSQL.
type Position struct {
	PositionID         string  // deterministic hash
	PotID              string  // pot identity derived from EventParams
	EventID            int64   // external event id
	PredictedOutcome   Outcome // TIE | HOME | AWAY
	StakeTokenName     string  // str(outcome) + eventName
	StakeTokenQuantity int64   // minted stake tokens
	AdaContributed     int64   // lovelace locked in the pot
	BeadBurned         int64   // bonus tokens burned at mint
	OwnerCredential    string  // opaque owner identity
	FundID             string  // pot fund record created by the lock
	LockedAt           int64   // Unix timestamp in milliseconds
}

// ExpectedStake returns the stake token quantity the mint invariant requires.
// ok is false when the inputs are negative or the stake overflows int64.
func ExpectedStake(adaContributed, beadBurned int64) (stake int64, ok bool) {
	if adaContributed < 0 || beadBurned < 0 || beadBurned > MaxBeadBurn {
		return 0, false
	}
	return AddAmount(adaContributed, beadBurned*BeadScale)
}

// MinAdaForBead returns the ADA floor imposed by the anti-dominance rule.
// Burns above MaxBeadBurn saturate at math.MaxInt64.
func MinAdaForBead(beadBurned int64) int64 {
	switch {
	case beadBurned <= 0:
		return 0
	case beadBurned > MaxBeadBurn:
		return math.MaxInt64
	}
	return 2 * beadBurned * BeadScale
}
