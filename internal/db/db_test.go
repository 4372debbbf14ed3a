package db

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"raffle-oracle/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "file:"+filepath.Join(t.TempDir(), "raffle.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLotteryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadLottery(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	requested := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)
	want := models.Lottery{
		Players:           []models.Address{"A", "B", "A"},
		State:             models.RaffleCalculating,
		LastDrawTimestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		RecentWinner:      "C",
		Pool:              big.NewInt(30_000_000_000_000_000),
		PendingRequestID:  4,
		HasPendingRequest: true,
		DrawRequestedAt:   &requested,
	}
	require.NoError(t, s.SaveLottery(ctx, want))

	got, ok, err := s.LoadLottery(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Players, got.Players)
	assert.Equal(t, want.State, got.State)
	assert.True(t, want.LastDrawTimestamp.Equal(got.LastDrawTimestamp))
	assert.Equal(t, want.RecentWinner, got.RecentWinner)
	assert.Equal(t, 0, want.Pool.Cmp(got.Pool))
	assert.True(t, got.HasPendingRequest)
	assert.Equal(t, uint64(4), got.PendingRequestID)
	require.NotNil(t, got.DrawRequestedAt)
	assert.True(t, requested.Equal(*got.DrawRequestedAt))

	// A reset overwrites the single row and clears the players.
	reset := models.Lottery{
		State:             models.RaffleOpen,
		LastDrawTimestamp: requested,
		RecentWinner:      "A",
		Pool:              new(big.Int),
	}
	require.NoError(t, s.SaveLottery(ctx, reset))
	got, _, err = s.LoadLottery(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Players)
	assert.False(t, got.HasPendingRequest)
	assert.Nil(t, got.DrawRequestedAt)
	assert.Equal(t, models.RaffleOpen, got.State)
	assert.Equal(t, int64(0), got.Pool.Int64())
}

func TestOracleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub := models.Subscription{
		ID:        1,
		Owner:     "owner",
		Balance:   big.NewInt(1_000),
		Consumers: map[models.Address]bool{"raffle": true, "other": true},
	}
	require.NoError(t, s.SaveSubscription(ctx, sub))

	delete(sub.Consumers, "other")
	sub.Balance = big.NewInt(550)
	require.NoError(t, s.SaveSubscription(ctx, sub))

	subs, err := s.LoadSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, models.Address("owner"), subs[0].Owner)
	assert.Equal(t, int64(550), subs[0].Balance.Int64())
	assert.Equal(t, map[models.Address]bool{"raffle": true}, subs[0].Consumers)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	req := models.RandomnessRequest{
		ID:               1,
		SubscriptionID:   1,
		Requester:        "raffle",
		NumWords:         1,
		CallbackGasLimit: 500_000,
		MinConfirmations: 3,
		KeyHash:          "0xabc",
		CreatedAt:        created,
	}
	require.NoError(t, s.SaveRequest(ctx, req))
	req.Fulfilled = true
	req.Cancelled = true
	require.NoError(t, s.SaveRequest(ctx, req))

	reqs, err := s.LoadRequests(ctx)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Fulfilled)
	assert.True(t, reqs[0].Cancelled)
	assert.Equal(t, uint32(500_000), reqs[0].CallbackGasLimit)
	assert.Equal(t, uint16(3), reqs[0].MinConfirmations)
	assert.Equal(t, "0xabc", reqs[0].KeyHash)
	assert.True(t, created.Equal(reqs[0].CreatedAt))
}

func TestTransfer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bal, err := s.Balance(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Int64())

	require.NoError(t, s.Transfer(ctx, "C", big.NewInt(40)))
	require.NoError(t, s.Transfer(ctx, "C", big.NewInt(2)))
	bal, err = s.Balance(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())

	assert.ErrorIs(t, s.Transfer(ctx, "C", big.NewInt(-1)), models.ErrInvalidAmount)
}

func TestEventLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s.Notify(ctx, models.Event{Kind: models.EventEntryRecorded, Entrant: "A", Amount: big.NewInt(10), At: at})
	s.Notify(ctx, models.Event{Kind: models.EventDrawRequested, RequestID: 1, At: at.Add(time.Second)})

	events, err := s.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventDrawRequested, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].RequestID)
	assert.Nil(t, events[0].Amount)
	assert.Equal(t, models.Address("A"), events[1].Entrant)
	assert.Equal(t, int64(10), events[1].Amount.Int64())

	events, err = s.ListEvents(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
