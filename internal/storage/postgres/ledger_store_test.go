package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/storage"
)

func lockTransition(id, pot, positionID string, amount int64) *domain.Transition {
	fundID := id + "#0"
	return &domain.Transition{
		TransitionID: id,
		PotID:        pot,
		Kind:         domain.TransitionLock,
		Produced:     []*domain.FundRecord{{FundID: fundID, PotID: pot, Amount: amount, CreatedAt: 1000}},
		Inflow:       amount,
		Position: &domain.Position{
			PositionID:         positionID,
			PotID:              pot,
			EventID:            1001,
			PredictedOutcome:   domain.OutcomeHome,
			StakeTokenName:     "1ARSvCHE",
			StakeTokenQuantity: amount,
			AdaContributed:     amount,
			OwnerCredential:    "owner-" + positionID,
			FundID:             fundID,
			LockedAt:           1000,
		},
		AppliedAt: 1000,
	}
}

func postTransition(id, pot string) *domain.Transition {
	fundID := id + "#0"
	return &domain.Transition{
		TransitionID: id,
		PotID:        pot,
		Kind:         domain.TransitionPost,
		Produced: []*domain.FundRecord{{
			FundID: fundID,
			PotID:  pot,
			Amount: 2_000_000,
			Assets: []domain.Asset{{PolicyID: "marker", AssetName: domain.MarkerAssetName, Quantity: 1}},
			Datum:  []byte(`{"event_id":1001}`),
		}},
		Inflow: 2_000_000,
		Outcome: &domain.OutcomeRecord{
			PotID:              pot,
			EventID:            1001,
			WinningOutcome:     domain.OutcomeHome,
			GameStakePolicyRef: "stake",
			TotalPotAda:        25,
			TotalWinningStake:  25,
			MarkerFundID:       fundID,
			PostedAt:           2000,
		},
		AppliedAt: 2000,
	}
}

func TestLedgerStore_Integration(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Apply(ctx, lockTransition("t1", "pot", "p1", 10)))
	require.NoError(t, store.Apply(ctx, lockTransition("t2", "pot", "p2", 15)))

	t.Run("snapshot", func(t *testing.T) {
		snap, err := store.Snapshot(ctx, "pot")
		require.NoError(t, err)
		assert.Len(t, snap.Funds, 2)
		assert.Equal(t, int64(25), snap.LiveValue())
		assert.Equal(t, 2, snap.Version)
		assert.Nil(t, snap.Outcome)
	})

	t.Run("position roundtrip", func(t *testing.T) {
		p, err := store.GetPosition(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeHome, p.PredictedOutcome)
		assert.Equal(t, "t1#0", p.FundID)

		_, err = store.GetPosition(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("duplicate transition", func(t *testing.T) {
		err := store.Apply(ctx, lockTransition("t1", "pot", "p9", 1))
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("outcome is unique", func(t *testing.T) {
		require.NoError(t, store.Apply(ctx, postTransition("o1", "pot")))
		err := store.Apply(ctx, postTransition("o2", "pot"))
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)

		snap, err := store.Snapshot(ctx, "pot")
		require.NoError(t, err)
		require.NotNil(t, snap.Outcome)
		marker := snap.MarkerFund()
		require.NotNil(t, marker)
		assert.True(t, marker.IsReserved())
		assert.Equal(t, int64(25), snap.Outcome.TotalPotAda)
	})

	t.Run("redeem then conflict", func(t *testing.T) {
		redeem := func(id string) *domain.Transition {
			return &domain.Transition{
				TransitionID:       id,
				PotID:              "pot",
				Kind:               domain.TransitionRedeem,
				Consumed:           []string{"t2#0"},
				Produced:           []*domain.FundRecord{{FundID: id + "#0", PotID: "pot", Amount: 5}},
				Outflow:            10,
				Recipient:          "alice",
				RedeemedPositionID: "p1",
				RedeemedStake:      10,
			}
		}
		require.NoError(t, store.Apply(ctx, redeem("r1")))
		err := store.Apply(ctx, redeem("r2"))
		assert.ErrorIs(t, err, storage.ErrConflict)

		redeemed, err := store.IsRedeemed(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, redeemed)
	})

	t.Run("unbalanced is rejected atomically", func(t *testing.T) {
		bad := &domain.Transition{
			TransitionID: "bad",
			PotID:        "pot",
			Kind:         domain.TransitionSweep,
			Consumed:     []string{"t1#0"},
			Outflow:      9,
		}
		err := store.Apply(ctx, bad)
		assert.ErrorIs(t, err, storage.ErrInvalidInput)

		snap, err := store.Snapshot(ctx, "pot")
		require.NoError(t, err)
		assert.Equal(t, int64(10+5+2_000_000), snap.LiveValue())
	})

	t.Run("sweep burns outcome", func(t *testing.T) {
		snap, err := store.Snapshot(ctx, "pot")
		require.NoError(t, err)

		var ids []string
		for _, f := range snap.Funds {
			ids = append(ids, f.FundID)
		}
		sweep := &domain.Transition{
			TransitionID: "s1",
			PotID:        "pot",
			Kind:         domain.TransitionSweep,
			Consumed:     ids,
			Outflow:      snap.LiveValue(),
			Recipient:    "treasury",
			BurnOutcome:  true,
		}
		require.NoError(t, store.Apply(ctx, sweep))

		after, err := store.Snapshot(ctx, "pot")
		require.NoError(t, err)
		assert.Empty(t, after.Funds)
		require.NotNil(t, after.Outcome)
		assert.True(t, after.Outcome.Burned)
	})

	t.Run("swept pot is closed", func(t *testing.T) {
		inject := &domain.Transition{
			TransitionID: "i1",
			PotID:        "pot",
			Kind:         domain.TransitionInject,
			Produced:     []*domain.FundRecord{{FundID: "i1#0", PotID: "pot", Amount: 5}},
			Inflow:       5,
		}
		assert.ErrorIs(t, store.Apply(ctx, inject), storage.ErrClosed)

		err := store.Apply(ctx, postTransition("o3", "pot"))
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("transitions replay", func(t *testing.T) {
		list, err := store.GetTransitions(ctx, "pot")
		require.NoError(t, err)
		require.Len(t, list, 5)
		assert.Equal(t, "t1", list[0].TransitionID)
		require.NotNil(t, list[0].Position)
		assert.Equal(t, "p1", list[0].Position.PositionID)
		require.NotNil(t, list[2].Outcome)
		assert.Equal(t, domain.TransitionRedeem, list[3].Kind)
		assert.Len(t, list[3].Produced, 1)
		assert.True(t, list[4].BurnOutcome)
	})
}

func TestLedgerStore_ConcurrentSpend(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Apply(ctx, lockTransition("t1", "pot", "p1", 10)))

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Apply(ctx, &domain.Transition{
				TransitionID: "sweep-" + string(rune('a'+i)),
				PotID:        "pot",
				Kind:         domain.TransitionSweep,
				Consumed:     []string{"t1#0"},
				Outflow:      10,
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, storage.ErrConflict)
	}
	assert.Equal(t, 1, wins)
}
