package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"parimutuel-escrow/internal/bonus"
	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/idhash"
	"parimutuel-escrow/internal/storage/memory"
)

var testEvent = domain.EventParams{EventID: 1001, EventName: "ARSvCHE", CutoffTime: 1_700_000_000_000}

func newTestLedger(now int64) (*Ledger, *memory.LedgerStore) {
	store := memory.NewLedgerStore()
	var mu sync.Mutex
	n := 0
	l := New(Options{
		Store: store,
		Tiers: bonus.Default(),
		Now:   func() time.Time { return time.UnixMilli(now) },
		NewNonce: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("nonce-%d", n)
		},
	})
	return l, store
}

func TestLockPosition(t *testing.T) {
	l, store := newTestLedger(testEvent.CutoffTime - 1)
	ctx := context.Background()

	req := LockRequest{
		Outcome:        domain.OutcomeHome,
		AdaAmount:      20_000_000,
		BeadBurnAmount: 10,
		MintQuantity:   PlanLock(20_000_000, 10),
		Owner:          "alice",
	}

	p, err := l.LockPosition(ctx, testEvent, req)
	if err != nil {
		t.Fatalf("LockPosition failed: %v", err)
	}
	if p.StakeTokenQuantity != 30_000_000 {
		t.Errorf("StakeTokenQuantity = %d, want 30000000", p.StakeTokenQuantity)
	}
	if p.StakeTokenName != "1ARSvCHE" {
		t.Errorf("StakeTokenName = %q, want 1ARSvCHE", p.StakeTokenName)
	}
	if p.PotID != idhash.ComputePotID(testEvent) {
		t.Errorf("PotID = %s", p.PotID)
	}

	snap, err := store.Snapshot(ctx, p.PotID)
	if err != nil {
		t.Fatal(err)
	}
	// only ADA enters the pot
	if snap.LiveValue() != 20_000_000 {
		t.Errorf("pot value = %d, want 20000000", snap.LiveValue())
	}
}

func TestLockPosition_Rejections(t *testing.T) {
	tests := []struct {
		name string
		now  int64
		req  LockRequest
		want error
	}{
		{
			name: "at cutoff",
			now:  testEvent.CutoffTime,
			req:  LockRequest{Outcome: domain.OutcomeHome, AdaAmount: 10, MintQuantity: 10, Owner: "a"},
			want: domain.ErrDeadlineViolation,
		},
		{
			name: "mint mismatch",
			now:  0,
			req:  LockRequest{Outcome: domain.OutcomeHome, AdaAmount: 10, MintQuantity: 11, Owner: "a"},
			want: domain.ErrInvariantViolation,
		},
		{
			name: "bead dominates",
			now:  0,
			req:  LockRequest{Outcome: domain.OutcomeHome, AdaAmount: 19_999_999, BeadBurnAmount: 10, MintQuantity: 29_999_999, Owner: "a"},
			want: domain.ErrInvariantViolation,
		},
		{
			name: "unknown outcome",
			now:  0,
			req:  LockRequest{Outcome: domain.Outcome(7), AdaAmount: 10, MintQuantity: 10, Owner: "a"},
			want: domain.ErrInvalidInput,
		},
		{
			name: "zero stake",
			now:  0,
			req:  LockRequest{Outcome: domain.OutcomeTie, Owner: "a"},
			want: domain.ErrInvalidInput,
		},
		{
			name: "negative ada",
			now:  0,
			req:  LockRequest{Outcome: domain.OutcomeTie, AdaAmount: -1, MintQuantity: 1, Owner: "a"},
			want: domain.ErrInvalidInput,
		},
		{
			name: "missing owner",
			now:  0,
			req:  LockRequest{Outcome: domain.OutcomeTie, AdaAmount: 1, MintQuantity: 1},
			want: domain.ErrInvalidInput,
		},
		{
			name: "unknown bonus tier",
			now:  0,
			req:  LockRequest{Outcome: domain.OutcomeAway, AdaAmount: 20_000_000, BeadBurnAmount: 1, MintQuantity: 21_000_000, Owner: "a", BonusContribution: 300},
			want: domain.ErrInvalidInput,
		},
		{
			name: "bead above tier bonus",
			now:  0,
			req:  LockRequest{Outcome: domain.OutcomeAway, AdaAmount: 22_000_000, BeadBurnAmount: 11, MintQuantity: 33_000_000, Owner: "a", BonusContribution: 200},
			want: domain.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, store := newTestLedger(tt.now)
			_, err := l.LockPosition(context.Background(), testEvent, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}

			// nothing recorded
			snap, _ := store.Snapshot(context.Background(), idhash.ComputePotID(testEvent))
			if len(snap.Funds) != 0 {
				t.Errorf("rejected lock left %d funds", len(snap.Funds))
			}
		})
	}
}

func TestLockPosition_InvariantContext(t *testing.T) {
	l, _ := newTestLedger(0)

	_, err := l.LockPosition(context.Background(), testEvent, LockRequest{
		Outcome:        domain.OutcomeHome,
		AdaAmount:      30_000_000,
		BeadBurnAmount: 2,
		MintQuantity:   30_000_000,
		Owner:          "a",
	})
	var derr *domain.Error
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want *domain.Error", err)
	}
	if derr.Context["expected"] != int64(32_000_000) || derr.Context["actual"] != int64(30_000_000) {
		t.Errorf("context = %v", derr.Context)
	}
	if derr.Retryable() {
		t.Error("invariant violations are not retryable")
	}
}

func TestLockPosition_OverflowingAmounts(t *testing.T) {
	tests := []struct {
		name string
		ada  int64
		bead int64
		mint int64
	}{
		// 2*bead*BeadScale wraps negative, so any ada would clear the floor
		{"floor wraps", 1, 9_223_372_036_854, 9_223_372_036_854_000_001},
		{"stake wraps", math.MaxInt64 - 5, 1, math.MaxInt64},
		{"largest bead", 1, domain.MaxBeadBurn + 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, store := newTestLedger(0)

			_, err := l.LockPosition(context.Background(), testEvent, LockRequest{
				Outcome:        domain.OutcomeHome,
				AdaAmount:      tt.ada,
				BeadBurnAmount: tt.bead,
				MintQuantity:   tt.mint,
				Owner:          "mallory",
			})
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("error = %v, want %v", err, domain.ErrInvalidInput)
			}
			positions, _ := store.GetPositionsByPot(context.Background(), idhash.ComputePotID(testEvent))
			if len(positions) != 0 {
				t.Errorf("rejected lock recorded %d positions", len(positions))
			}
		})
	}
}

func TestPlanLock_OutOfRange(t *testing.T) {
	if got := PlanLock(1, 9_223_372_036_854); got != 0 {
		t.Errorf("PlanLock(floor overflow) = %d, want 0", got)
	}
	if got := PlanLock(math.MaxInt64, 1); got != 0 {
		t.Errorf("PlanLock(stake overflow) = %d, want 0", got)
	}
	if got, want := PlanLock(0, domain.MaxBeadBurn), domain.MaxBeadBurn*domain.BeadScale; got != want {
		t.Errorf("PlanLock(max bead) = %d, want %d", got, want)
	}
}

func TestLockPosition_BonusTier(t *testing.T) {
	l, _ := newTestLedger(0)

	_, err := l.LockPosition(context.Background(), testEvent, LockRequest{
		Outcome:           domain.OutcomeAway,
		AdaAmount:         20_000_000,
		BeadBurnAmount:    10,
		MintQuantity:      30_000_000,
		Owner:             "a",
		BonusContribution: 200,
	})
	if err != nil {
		t.Fatalf("LockPosition failed: %v", err)
	}
}

func TestLockPosition_Concurrent(t *testing.T) {
	l, store := newTestLedger(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.LockPosition(ctx, testEvent, LockRequest{
				Outcome:      domain.AllOutcomes[i%3],
				AdaAmount:    1_000_000,
				MintQuantity: 1_000_000,
				Owner:        fmt.Sprintf("owner-%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent lock failed: %v", err)
		}
	}

	potID := idhash.ComputePotID(testEvent)
	positions, _ := store.GetPositionsByPot(ctx, potID)
	snap, _ := store.Snapshot(ctx, potID)
	if len(positions) != 20 || snap.LiveValue() != 20_000_000 {
		t.Errorf("positions=%d value=%d", len(positions), snap.LiveValue())
	}
}
