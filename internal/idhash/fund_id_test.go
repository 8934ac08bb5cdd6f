package idhash

import (
	"testing"

	"parimutuel-escrow/internal/domain"
)

func TestComputeTransitionID_Determinism(t *testing.T) {
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		results[i] = ComputeTransitionID("pot", domain.TransitionLock, "nonce-1")
	}

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Errorf("Determinism failed: results[%d]=%s != results[0]=%s", i, results[i], results[0])
		}
	}
	if len(results[0]) != 64 {
		t.Errorf("ComputeTransitionID() length = %d, want 64", len(results[0]))
	}
}

func TestComputeTransitionID_DifferentInputs(t *testing.T) {
	base := ComputeTransitionID("pot", domain.TransitionLock, "n")

	if base == ComputeTransitionID("other", domain.TransitionLock, "n") {
		t.Error("Different pot should produce different hash")
	}
	if base == ComputeTransitionID("pot", domain.TransitionRedeem, "n") {
		t.Error("Different kind should produce different hash")
	}
	if base == ComputeTransitionID("pot", domain.TransitionLock, "m") {
		t.Error("Different nonce should produce different hash")
	}
}

func TestComputeFundID(t *testing.T) {
	tx := ComputeTransitionID("pot", domain.TransitionRedeem, "n")

	first := ComputeFundID(tx, 0)
	second := ComputeFundID(tx, 1)
	if first == second {
		t.Error("Different output index should produce different fund id")
	}
	if first != ComputeFundID(tx, 0) {
		t.Error("ComputeFundID() not deterministic")
	}
}

func TestComputePositionID(t *testing.T) {
	a := ComputePositionID("pot", "alice", "tx1")
	b := ComputePositionID("pot", "bob", "tx1")
	c := ComputePositionID("pot", "alice", "tx2")

	if a == b || a == c {
		t.Error("position ids must differ by owner and transition")
	}
}
