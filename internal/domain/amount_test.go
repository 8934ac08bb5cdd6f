package domain

import (
	"math"
	"testing"
)

func TestAddAmount(t *testing.T) {
	tests := []struct {
		a, b   int64
		want   int64
		wantOK bool
	}{
		{1, 2, 3, true},
		{math.MaxInt64, 0, math.MaxInt64, true},
		{math.MaxInt64, 1, 0, false},
		{math.MaxInt64 - 1, 1, math.MaxInt64, true},
		{math.MinInt64, -1, 0, false},
		{-5, 3, -2, true},
	}
	for _, tt := range tests {
		got, ok := AddAmount(tt.a, tt.b)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("AddAmount(%d, %d) = %d, %v; want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSumAmounts_Saturates(t *testing.T) {
	funds := []*FundRecord{{Amount: math.MaxInt64 - 10}, {Amount: 20}}

	if _, ok := CheckedSum(funds); ok {
		t.Error("CheckedSum should report overflow")
	}
	if got := SumAmounts(funds); got != math.MaxInt64 {
		t.Errorf("SumAmounts = %d, want MaxInt64", got)
	}
	if got, ok := CheckedSum(funds[1:]); !ok || got != 20 {
		t.Errorf("CheckedSum = %d, %v", got, ok)
	}
}

func TestExpectedStake(t *testing.T) {
	tests := []struct {
		name      string
		ada, bead int64
		want      int64
		wantOK    bool
	}{
		{"ada only", 10_000_000, 0, 10_000_000, true},
		{"with bead", 20_000_000, 10, 30_000_000, true},
		{"max bead", 0, MaxBeadBurn, MaxBeadBurn * BeadScale, true},
		{"bead above max", 0, MaxBeadBurn + 1, 0, false},
		{"sum overflows", math.MaxInt64, 1, 0, false},
		{"negative", -1, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExpectedStake(tt.ada, tt.bead)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ExpectedStake = %d, %v; want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMinAdaForBead(t *testing.T) {
	if got := MinAdaForBead(0); got != 0 {
		t.Errorf("MinAdaForBead(0) = %d", got)
	}
	if got := MinAdaForBead(10); got != 20_000_000 {
		t.Errorf("MinAdaForBead(10) = %d, want 20000000", got)
	}
	if got := MinAdaForBead(MaxBeadBurn); got <= 0 {
		t.Errorf("MinAdaForBead(MaxBeadBurn) = %d, want positive", got)
	}
	// would wrap negative without saturation
	if got := MinAdaForBead(9_223_372_036_854); got != math.MaxInt64 {
		t.Errorf("MinAdaForBead(huge) = %d, want MaxInt64", got)
	}
}
