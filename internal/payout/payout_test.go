package payout

import (
	"errors"
	"math"
	"testing"

	"parimutuel-escrow/internal/domain"
)

func outcomeFor(pot, winning int64) *domain.OutcomeRecord {
	return &domain.OutcomeRecord{
		EventID:           1001,
		WinningOutcome:    domain.OutcomeHome,
		TotalPotAda:       pot,
		TotalWinningStake: winning,
	}
}

func TestComputePayout(t *testing.T) {
	tests := []struct {
		name      string
		pot       int64
		winning   int64
		stake     int64
		wantFloor int64
		wantCeil  int64
	}{
		{"exact share", 50_000_000_000, 500, 1, 100_000_000, 100_000_000},
		{"tenth of winning stake", 1_000_000_000, 500, 50, 100_000_000, 100_000_000},
		{"scenario event 1001", 37, 22, 10, 16, 17},
		{"scenario second winner", 37, 22, 12, 20, 21},
		{"sole winner takes pot", 1_000, 7, 7, 1_000, 1_000},
		{"empty pot", 0, 10, 5, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := outcomeFor(tt.pot, tt.winning)
			floor, err := ComputePayout(o, tt.stake, Floor)
			if err != nil {
				t.Fatalf("floor: unexpected error: %v", err)
			}
			ceil, err := ComputePayout(o, tt.stake, Ceil)
			if err != nil {
				t.Fatalf("ceil: unexpected error: %v", err)
			}
			if floor != tt.wantFloor {
				t.Errorf("floor = %d, want %d", floor, tt.wantFloor)
			}
			if ceil != tt.wantCeil {
				t.Errorf("ceil = %d, want %d", ceil, tt.wantCeil)
			}
		})
	}
}

func TestComputePayout_LargeOperands(t *testing.T) {
	// product exceeds int64 but quotient does not
	o := outcomeFor(math.MaxInt64/2, math.MaxInt64/3)
	got, err := Predict(o, math.MaxInt64/3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != math.MaxInt64/2 {
		t.Errorf("got %d, want %d", got, int64(math.MaxInt64/2))
	}
}

func TestComputePayout_Errors(t *testing.T) {
	tests := []struct {
		name    string
		outcome *domain.OutcomeRecord
		stake   int64
		want    error
	}{
		{"no winners", outcomeFor(100, 0), 1, domain.ErrNoWinners},
		{"zero stake", outcomeFor(100, 10), 0, domain.ErrInvalidInput},
		{"negative stake", outcomeFor(100, 10), -1, domain.ErrInvalidInput},
		{"stake above winning", outcomeFor(100, 10), 11, domain.ErrInvalidInput},
		{"no outcome", nil, 1, domain.ErrNoOutcome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputePayout(tt.outcome, tt.stake, Floor)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateWithdrawal(t *testing.T) {
	o := outcomeFor(37, 22)

	if err := ValidateWithdrawal(o, 10, 16); err != nil {
		t.Errorf("floor outflow rejected: %v", err)
	}
	if err := ValidateWithdrawal(o, 10, 17); err != nil {
		t.Errorf("ceil outflow rejected: %v", err)
	}
	err := ValidateWithdrawal(o, 10, 18)
	if !errors.Is(err, domain.ErrExceedsShare) {
		t.Errorf("error = %v, want EXCEEDS_SHARE", err)
	}
}

func TestTolerance(t *testing.T) {
	for stake := int64(1); stake <= 22; stake++ {
		tol, err := Tolerance(outcomeFor(37, 22), stake)
		if err != nil {
			t.Fatalf("stake %d: %v", stake, err)
		}
		if tol != 0 && tol != 1 {
			t.Errorf("stake %d: tolerance %d outside {0,1}", stake, tol)
		}
	}
	tol, _ := Tolerance(outcomeFor(50_000_000_000, 500), 1)
	if tol != 0 {
		t.Errorf("exact share tolerance = %d, want 0", tol)
	}
}

func TestPayoutConservation(t *testing.T) {
	stakes := []int64{3, 5, 7, 11, 13}
	var total int64
	for _, s := range stakes {
		total += s
	}
	o := outcomeFor(1_000_003, total)

	var paid int64
	for _, s := range stakes {
		p, err := Predict(o, s)
		if err != nil {
			t.Fatal(err)
		}
		paid += p
	}
	if paid > o.TotalPotAda {
		t.Errorf("sum of floor payouts %d exceeds pot %d", paid, o.TotalPotAda)
	}
	if o.TotalPotAda-paid >= int64(len(stakes)) {
		t.Errorf("residual %d should be below winner count %d", o.TotalPotAda-paid, len(stakes))
	}
}
