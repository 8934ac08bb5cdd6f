package bonus

import (
	"errors"
	"testing"
)

func TestLookupTier(t *testing.T) {
	table := Default()

	tests := []struct {
		name         string
		contribution int64
		wantStake    int64
		wantErr      bool
	}{
		{"smallest tier", 200, 10, false},
		{"largest tier", 2000, 160, false},
		{"between tiers", 300, 0, true},
		{"zero", 0, 0, true},
		{"above table", 5000, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := table.LookupTier(tt.contribution)
			if tt.wantErr {
				if !errors.Is(err, ErrTierNotFound) {
					t.Fatalf("LookupTier(%d) error = %v, want ErrTierNotFound", tt.contribution, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LookupTier(%d) unexpected error: %v", tt.contribution, err)
			}
			if tier.StakeBonus != tt.wantStake {
				t.Errorf("StakeBonus = %d, want %d", tier.StakeBonus, tt.wantStake)
			}
		})
	}
}

func TestNewTable_Rejects(t *testing.T) {
	if _, err := NewTable([]Tier{{Contribution: 100}, {Contribution: 100}}); err == nil {
		t.Error("expected duplicate contribution error")
	}
	if _, err := NewTable([]Tier{{Contribution: 0}}); err == nil {
		t.Error("expected non-positive contribution error")
	}
	if _, err := NewTable([]Tier{{Contribution: 10, StakeBonus: -1}}); err == nil {
		t.Error("expected negative bonus error")
	}
}

func TestTiers_Ordered(t *testing.T) {
	table, err := NewTable([]Tier{{Contribution: 30}, {Contribution: 10}, {Contribution: 20}})
	if err != nil {
		t.Fatal(err)
	}
	tiers := table.Tiers()
	for i := 1; i < len(tiers); i++ {
		if tiers[i-1].Contribution >= tiers[i].Contribution {
			t.Fatalf("tiers not ordered: %+v", tiers)
		}
	}
}
