// Package bonus exposes the token-sale tier table consulted at lock time.
// Issuance itself happens outside the engine; only the lookup lives here.
package bonus

import (
	"errors"
	"fmt"
	"sort"
)

// ErrTierNotFound is returned when a contribution matches no tier.
var ErrTierNotFound = errors.New("bonus tier not found")

// Tier maps an exact contribution (whole ADA) to its bonus grants (whole BEAD).
type Tier struct {
	Contribution  int64 `toml:"contribution"`
	StakeBonus    int64 `toml:"stake_bonus"`
	ReferralBonus int64 `toml:"referral_bonus"`
}

// DefaultTiers is the table used when configuration supplies none.
var DefaultTiers = []Tier{
	{Contribution: 200, StakeBonus: 10, ReferralBonus: 4},
	{Contribution: 400, StakeBonus: 22, ReferralBonus: 8},
	{Contribution: 600, StakeBonus: 36, ReferralBonus: 12},
	{Contribution: 800, StakeBonus: 52, ReferralBonus: 16},
	{Contribution: 1000, StakeBonus: 70, ReferralBonus: 20},
	{Contribution: 2000, StakeBonus: 160, ReferralBonus: 40},
}

// Table is an immutable tier table.
type Table struct {
	tiers map[int64]Tier
	order []int64
}

// NewTable builds a table from tiers. Contributions must be positive and unique.
func NewTable(tiers []Tier) (*Table, error) {
	t := &Table{tiers: make(map[int64]Tier, len(tiers))}
	for _, tier := range tiers {
		if tier.Contribution <= 0 {
			return nil, fmt.Errorf("tier contribution must be positive: %d", tier.Contribution)
		}
		if tier.StakeBonus < 0 || tier.ReferralBonus < 0 {
			return nil, fmt.Errorf("tier %d has negative bonus", tier.Contribution)
		}
		if _, ok := t.tiers[tier.Contribution]; ok {
			return nil, fmt.Errorf("duplicate tier contribution: %d", tier.Contribution)
		}
		t.tiers[tier.Contribution] = tier
		t.order = append(t.order, tier.Contribution)
	}
	sort.Slice(t.order, func(i, j int) bool { return t.order[i] < t.order[j] })
	return t, nil
}

// Default returns the table built from DefaultTiers.
func Default() *Table {
	t, err := NewTable(DefaultTiers)
	if err != nil {
		panic(err)
	}
	return t
}

// LookupTier returns the tier for an exact contribution.
func (t *Table) LookupTier(contribution int64) (Tier, error) {
	tier, ok := t.tiers[contribution]
	if !ok {
		return Tier{}, fmt.Errorf("%w: contribution %d", ErrTierNotFound, contribution)
	}
	return tier, nil
}

// Tiers returns the tiers ordered by contribution.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, 0, len(t.order))
	for _, c := range t.order {
		out = append(out, t.tiers[c])
	}
	return out
}
