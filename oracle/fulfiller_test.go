package oracle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/internal/testchain"
	"github.com/tolelom/tolotto/lottery"
	"github.com/tolelom/tolotto/oracle"
	"github.com/tolelom/tolotto/vm/modules/lotto"
)

func closedRound(t *testing.T, c *testchain.Chain) uint64 {
	t.Helper()
	rcpt := c.Exec1(c.Admin, func(n uint64) (*core.Transaction, error) {
		return c.Admin.CreateRound(testchain.ChainID, lottery.RoundSpec{
			Distribution: lottery.Distribution{10_000},
			PrizePool:    1_000,
			TicketCost:   10,
			StartTime:    testchain.Start.Unix(),
			EndTime:      testchain.Start.Add(time.Minute).Unix(),
		}, n, 0)
	})
	require.True(t, rcpt.Success, rcpt.Error)
	c.At(time.Hour)
	return rcpt.Result.(lotto.CreateRoundResult).RoundID
}

func TestFulfillerAnswersDrawRequest(t *testing.T) {
	c := testchain.New(t)
	f := oracle.New(testchain.ChainID, c.Oracle, c.Mempool, c.Nonces(c.Oracle), c.Log)
	f.Subscribe(c.Emitter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	id := closedRound(t, c)
	rcpt := c.Exec1(c.Admin, func(n uint64) (*core.Transaction, error) {
		return c.Admin.RequestDraw(testchain.ChainID, id, "hint", n, 0)
	})
	require.True(t, rcpt.Success, rcpt.Error)

	require.Eventually(t, func() bool { return c.Mempool.Size() == 1 }, 5*time.Second, 10*time.Millisecond)
	receipts := c.Produce()
	require.Len(t, receipts, 1)
	assert.True(t, receipts[0].Success, receipts[0].Error)
	assert.Equal(t, core.TxDeliverRandomness, receipts[0].Type)
	assert.Equal(t, c.Oracle.PubKey(), receipts[0].From)

	r, err := c.State.GetRound(id)
	require.NoError(t, err)
	assert.True(t, r.Drawn())
}

func TestFulfillerResyncsNonceAfterFailure(t *testing.T) {
	c := testchain.New(t)
	f := oracle.New(testchain.ChainID, c.Oracle, c.Mempool, c.Nonces(c.Oracle), c.Log)
	f.Subscribe(c.Emitter)
	id := closedRound(t, c)

	// a stale token is rejected on chain and burns no nonce
	_, err := f.Fulfill(oracle.Request{RoundID: id, Token: "stale"})
	require.NoError(t, err)
	receipts := c.Produce()
	require.Len(t, receipts, 1)
	assert.Equal(t, "INVALID_STATE", receipts[0].Code)

	rcpt := c.Exec1(c.Admin, func(n uint64) (*core.Transaction, error) {
		return c.Admin.RequestDraw(testchain.ChainID, id, "hint", n, 0)
	})
	require.True(t, rcpt.Success, rcpt.Error)

	var token string
	c.Emitter.Subscribe(events.EventRandomnessDelivered, func(ev events.Event) {
		token, _ = ev.Data["token"].(string)
	})
	_, err = f.Fulfill(oracle.Request{RoundID: id, Token: rcpt.Result.(lotto.RequestDrawResult).Token})
	require.NoError(t, err)
	receipts = c.Produce()
	require.Len(t, receipts, 1)
	assert.True(t, receipts[0].Success, receipts[0].Error)
	assert.NotEmpty(t, token)
}

func TestEnqueueReportsFullQueue(t *testing.T) {
	c := testchain.New(t)
	f := oracle.New(testchain.ChainID, c.Oracle, c.Mempool, c.Nonces(c.Oracle), c.Log)
	var err error
	for i := 0; i < 1_000 && err == nil; i++ {
		err = f.Enqueue(oracle.Request{RoundID: 1, Token: "t"})
	}
	assert.ErrorIs(t, err, oracle.ErrQueueFull)
}
