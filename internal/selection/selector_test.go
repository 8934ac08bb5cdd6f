package selection

import (
	"errors"
	"testing"

	"parimutuel-escrow/internal/domain"
)

func fund(id string, amount int64) *domain.FundRecord {
	return &domain.FundRecord{FundID: id, PotID: "pot", Amount: amount}
}

func marker(id string, amount int64) *domain.FundRecord {
	return &domain.FundRecord{
		FundID: id,
		PotID:  "pot",
		Amount: amount,
		Assets: []domain.Asset{{PolicyID: "p", AssetName: domain.MarkerAssetName, Quantity: 1}},
		Datum:  []byte(`{}`),
	}
}

func ids(s *domain.Selection) []string {
	return s.FundIDs()
}

func TestSelectFunds_SingleExact(t *testing.T) {
	funds := []*domain.FundRecord{fund("a", 50), fund("b", 30), fund("c", 10)}

	sel, err := SelectFunds(funds, "", 30, 5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// a leaves 20 >= 5 and is scanned first
	if sel.Count != 1 || sel.Funds[0].FundID != "a" {
		t.Errorf("selected %v, want [a]", ids(sel))
	}
	if sel.Change != 20 || sel.Dust {
		t.Errorf("change = %d dust = %v", sel.Change, sel.Dust)
	}
}

func TestSelectFunds_SingleSkipsDustyChange(t *testing.T) {
	funds := []*domain.FundRecord{fund("a", 32), fund("b", 30)}

	sel, err := SelectFunds(funds, "", 30, 5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Count != 1 || sel.Funds[0].FundID != "b" || sel.Change != 0 {
		t.Errorf("selected %v change %d, want [b] change 0", ids(sel), sel.Change)
	}
	if sel.Efficiency != 1.0 {
		t.Errorf("efficiency = %f, want 1.0", sel.Efficiency)
	}
}

func TestSelectFunds_Accumulates(t *testing.T) {
	funds := []*domain.FundRecord{fund("a", 20), fund("b", 15), fund("c", 10), fund("d", 1)}

	sel, err := SelectFunds(funds, "", 40, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Count != 3 || sel.TotalInput != 45 || sel.Change != 5 || sel.Dust {
		t.Errorf("got count=%d total=%d change=%d dust=%v", sel.Count, sel.TotalInput, sel.Change, sel.Dust)
	}
}

func TestSelectFunds_DustLastResort(t *testing.T) {
	funds := []*domain.FundRecord{fund("a", 20), fund("b", 21)}

	sel, err := SelectFunds(funds, "", 40, 5, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sel.Dust || sel.Change != 1 || sel.Count != 2 {
		t.Errorf("got count=%d change=%d dust=%v, want dust change 1", sel.Count, sel.Change, sel.Dust)
	}
	if sel.Efficiency >= 1.0 {
		t.Errorf("efficiency = %f, want < 1", sel.Efficiency)
	}
}

func TestSelectFunds_ExcludesMarkerAndReserved(t *testing.T) {
	funds := []*domain.FundRecord{
		marker("m", 2_000_000),
		{FundID: "r", PotID: "pot", Amount: 1_000_000, Assets: []domain.Asset{{PolicyID: "x", AssetName: "T", Quantity: 5}}},
		fund("a", 10),
	}

	sel, err := SelectFunds(funds, "m", 10, 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Count != 1 || sel.Funds[0].FundID != "a" {
		t.Errorf("selected %v, want [a]", ids(sel))
	}

	_, err = SelectFunds(funds, "m", 11, 1, 5)
	if !errors.Is(err, domain.ErrSelectionInsufficient) {
		t.Errorf("error = %v, want SELECTION_INSUFFICIENT", err)
	}
}

func TestSelectFunds_MaxInputsBound(t *testing.T) {
	funds := []*domain.FundRecord{fund("a", 10), fund("b", 10), fund("c", 10)}

	_, err := SelectFunds(funds, "", 30, 1, 2)
	var derr *domain.Error
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want *domain.Error", err)
	}
	if derr.Code != domain.CodeSelectionInsufficient || !derr.Retryable() {
		t.Errorf("code = %s retryable = %v", derr.Code, derr.Retryable())
	}
}

func TestSelectFunds_DeterministicTieBreak(t *testing.T) {
	funds := []*domain.FundRecord{fund("z", 10), fund("y", 10), fund("x", 10)}

	sel, err := SelectFunds(funds, "", 20, 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := ids(sel)
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("selected %v, want [x y]", got)
	}
}

func TestSelectFunds_InvalidInput(t *testing.T) {
	funds := []*domain.FundRecord{fund("a", 10)}

	tests := []struct {
		name      string
		target    int64
		min       int64
		maxInputs int
	}{
		{"zero target", 0, 1, 1},
		{"zero max inputs", 5, 1, 0},
		{"negative min", 5, -1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SelectFunds(funds, "", tt.target, tt.min, tt.maxInputs)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("error = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestSelectFunds_DoesNotMutateInput(t *testing.T) {
	funds := []*domain.FundRecord{fund("b", 5), fund("a", 50)}

	if _, err := SelectFunds(funds, "", 5, 1, 2); err != nil {
		t.Fatal(err)
	}
	if funds[0].FundID != "b" || funds[1].FundID != "a" {
		t.Error("input slice was reordered")
	}
}

func TestSelectFunds_StopsBeforeTotalOverflows(t *testing.T) {
	const target = 9_000_000_000_000_000_000 - 1
	funds := []*domain.FundRecord{
		fund("a", 6_000_000_000_000_000_000),
		fund("b", 3_000_000_000_000_000_000),
		fund("c", 1_000_000_000_000_000_000),
	}

	// a+b covers with dust; adding c would leave int64
	sel, err := SelectFunds(funds, "", target, 1000, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Count != 2 || sel.TotalInput != 9_000_000_000_000_000_000 {
		t.Errorf("selected %v total %d, want [a b] 9e18", ids(sel), sel.TotalInput)
	}
	if sel.Change != 1 || !sel.Dust {
		t.Errorf("change = %d dust = %v, want 1/true", sel.Change, sel.Dust)
	}
}
