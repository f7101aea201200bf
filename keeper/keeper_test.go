package keeper_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/internal/testchain"
	"github.com/tolelom/tolotto/keeper"
	"github.com/tolelom/tolotto/lottery"
	"github.com/tolelom/tolotto/vm/modules/lotto"
)

func createRound(t *testing.T, c *testchain.Chain, end time.Duration) uint64 {
	t.Helper()
	rcpt := c.Exec1(c.Admin, func(n uint64) (*core.Transaction, error) {
		return c.Admin.CreateRound(testchain.ChainID, lottery.RoundSpec{
			Distribution: lottery.Distribution{10_000},
			PrizePool:    1_000,
			TicketCost:   10,
			StartTime:    testchain.Start.Unix(),
			EndTime:      testchain.Start.Add(end).Unix(),
		}, n, 0)
	})
	require.True(t, rcpt.Success, rcpt.Error)
	return rcpt.Result.(lotto.CreateRoundResult).RoundID
}

func newKeeper(c *testchain.Chain) *keeper.Keeper {
	k := keeper.New(testchain.ChainID, c.Admin, c.Indexer, c.State, c.Mempool, c.Nonces(c.Admin), c.Log)
	k.SetClock(c.Clock.Now)
	k.Subscribe(c.Emitter)
	return k
}

func TestTickRequestsClosedRoundsOnce(t *testing.T) {
	c := testchain.New(t)
	short := createRound(t, c, time.Minute)
	long := createRound(t, c, 24*time.Hour)
	k := newKeeper(c)

	requested, err := k.Tick()
	require.NoError(t, err)
	assert.Empty(t, requested)

	c.At(time.Hour)
	requested, err = k.Tick()
	require.NoError(t, err)
	assert.Equal(t, []uint64{short}, requested)

	// still pending in the pool
	requested, err = k.Tick()
	require.NoError(t, err)
	assert.Empty(t, requested)

	receipts := c.Produce()
	require.Len(t, receipts, 1)
	require.True(t, receipts[0].Success, receipts[0].Error)

	r, err := c.State.GetRound(short)
	require.NoError(t, err)
	require.NotNil(t, r.Draw)

	// a pending draw is not requested again
	requested, err = k.Tick()
	require.NoError(t, err)
	assert.Empty(t, requested)

	c.At(48 * time.Hour)
	requested, err = k.Tick()
	require.NoError(t, err)
	assert.Equal(t, []uint64{long}, requested)
}

func TestTickRetriesAfterRejectedRequest(t *testing.T) {
	c := testchain.New(t)
	id := createRound(t, c, time.Minute)
	k := newKeeper(c)

	// the keeper's clock runs ahead of the chain, so the request fails on chain
	k.SetClock(func() time.Time { return testchain.Start.Add(time.Hour) })
	requested, err := k.Tick()
	require.NoError(t, err)
	require.Equal(t, []uint64{id}, requested)
	receipts := c.Produce()
	require.Len(t, receipts, 1)
	assert.Equal(t, "INVALID_STATE", receipts[0].Code)

	c.At(time.Hour)
	requested, err = k.Tick()
	require.NoError(t, err)
	require.Equal(t, []uint64{id}, requested)
	receipts = c.Produce()
	require.Len(t, receipts, 1)
	assert.True(t, receipts[0].Success, receipts[0].Error)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	c := testchain.New(t)
	k := newKeeper(c)
	assert.Error(t, k.Start("not a schedule"))
	require.NoError(t, k.Start("@every 1h"))
	k.Stop()
}
