package lotto_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/internal/testchain"
	"github.com/tolelom/tolotto/lottery"
	"github.com/tolelom/tolotto/vm/modules/lotto"
	"github.com/tolelom/tolotto/wallet"
)

const chainID = testchain.ChainID

var fourTiers = lottery.Distribution{4000, 3000, 2000, 1000}

// spreadPicks covers every digit at the first position, so at least one
// ticket matches any winning pick in one place.
func spreadPicks() []lottery.Pick {
	picks := make([]lottery.Pick, 10)
	for d := range picks {
		picks[d] = lottery.Pick{uint8(d), uint8(d), uint8(d), uint8(d)}
	}
	return picks
}

func createRound(t *testing.T, c *testchain.Chain, spec lottery.RoundSpec) uint64 {
	t.Helper()
	rcpt := c.Exec1(c.Admin, func(n uint64) (*core.Transaction, error) {
		return c.Admin.CreateRound(chainID, spec, n, 0)
	})
	require.True(t, rcpt.Success, rcpt.Error)
	return rcpt.Result.(lotto.CreateRoundResult).RoundID
}

func buy(t *testing.T, c *testchain.Chain, w *wallet.Wallet, roundID uint64, picks []lottery.Pick) *core.Receipt {
	t.Helper()
	return c.Exec1(w, func(n uint64) (*core.Transaction, error) {
		return w.BuyTickets(chainID, roundID, picks, n, 0)
	})
}

func requestDraw(t *testing.T, c *testchain.Chain, roundID uint64, hint string) string {
	t.Helper()
	rcpt := c.Exec1(c.Admin, func(n uint64) (*core.Transaction, error) {
		return c.Admin.RequestDraw(chainID, roundID, hint, n, 0)
	})
	require.True(t, rcpt.Success, rcpt.Error)
	return rcpt.Result.(lotto.RequestDrawResult).Token
}

func deliver(t *testing.T, c *testchain.Chain, w *wallet.Wallet, roundID uint64, token string) *core.Receipt {
	t.Helper()
	return c.Exec1(w, func(n uint64) (*core.Transaction, error) {
		return w.DeliverRandomness(chainID, roundID, token, n, 0)
	})
}

func claim(t *testing.T, c *testchain.Chain, w *wallet.Wallet, roundID, ticketID uint64) *core.Receipt {
	t.Helper()
	return c.Exec1(w, func(n uint64) (*core.Transaction, error) {
		return w.ClaimPrize(chainID, roundID, ticketID, n, 0)
	})
}

func openSpec() lottery.RoundSpec {
	return lottery.RoundSpec{
		Distribution: fourTiers,
		PrizePool:    1_000_000,
		TicketCost:   100,
		StartTime:    testchain.Start.Add(10 * time.Second).Unix(),
		EndTime:      testchain.Start.Add(time.Hour).Unix(),
	}
}

func TestCreateRoundFundsTreasury(t *testing.T) {
	c := testchain.New(t)
	c.At(time.Second)

	rcpt := c.Exec1(c.Admin, func(n uint64) (*core.Transaction, error) {
		return c.Admin.CreateRound(chainID, openSpec(), n, 0)
	})
	require.True(t, rcpt.Success, rcpt.Error)
	res := rcpt.Result.(lotto.CreateRoundResult)
	assert.Equal(t, uint64(1), res.RoundID)
	assert.Equal(t, lottery.PhaseCreated, res.Phase)

	assert.Equal(t, uint64(testchain.Funding-1_000_000), c.Balance(c.Admin.PubKey()))
	assert.Equal(t, uint64(1_000_000), c.Balance(testchain.Treasury))

	ids, err := c.Indexer.GetRoundIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)
}

func TestCreateRoundRejectedByNonAdmin(t *testing.T) {
	c := testchain.New(t)
	rcpt := c.Exec1(c.Alice, func(n uint64) (*core.Transaction, error) {
		return c.Alice.CreateRound(chainID, openSpec(), n, 0)
	})
	assert.False(t, rcpt.Success)
	assert.Equal(t, "UNAUTHORIZED", rcpt.Code)
	assert.Equal(t, uint64(testchain.Funding), c.Balance(c.Alice.PubKey()))

	// the failed tx is left out of the block but its receipt is indexed
	tip := c.BC.Tip()
	assert.Empty(t, tip.Transactions)
	stored, err := c.Indexer.GetReceipt(rcpt.TxID)
	require.NoError(t, err)
	assert.Equal(t, "UNAUTHORIZED", stored.Code)
}

func TestCreateRoundRejectsBadDistribution(t *testing.T) {
	c := testchain.New(t)
	spec := openSpec()
	spec.Distribution = lottery.Distribution{5000, 4000}
	rcpt := c.Exec1(c.Admin, func(n uint64) (*core.Transaction, error) {
		return c.Admin.CreateRound(chainID, spec, n, 0)
	})
	assert.Equal(t, "INVALID_DISTRIBUTION", rcpt.Code)
	assert.Equal(t, uint64(0), c.Balance(testchain.Treasury))
}

func TestFullRoundLifecycle(t *testing.T) {
	c := testchain.New(t)
	id := createRound(t, c, openSpec())

	// sales are closed before the start time
	rcpt := buy(t, c, c.Alice, id, spreadPicks())
	assert.Equal(t, "INVALID_STATE", rcpt.Code)

	c.At(time.Minute)
	rcpt = buy(t, c, c.Alice, id, spreadPicks())
	require.True(t, rcpt.Success, rcpt.Error)
	bought := rcpt.Result.(lotto.BuyTicketsResult)
	require.Len(t, bought.TicketIDs, 10)
	assert.Equal(t, uint64(1_000), bought.Cost)
	assert.Equal(t, uint64(testchain.Funding-1_000), c.Balance(c.Alice.PubKey()))

	rcpt = buy(t, c, c.Bob, id, []lottery.Pick{{1, 2, 3, 4}})
	require.True(t, rcpt.Success, rcpt.Error)

	// draw requests need a closed round
	rcpt = c.Exec1(c.Admin, func(n uint64) (*core.Transaction, error) {
		return c.Admin.RequestDraw(chainID, id, "early", n, 0)
	})
	assert.Equal(t, "INVALID_STATE", rcpt.Code)

	c.At(2 * time.Hour)
	token := requestDraw(t, c, id, "h1")

	// only the registered oracle can deliver
	rcpt = deliver(t, c, c.Bob, id, token)
	assert.Equal(t, "UNAUTHORIZED", rcpt.Code)

	rcpt = deliver(t, c, c.Oracle, id, token)
	require.True(t, rcpt.Success, rcpt.Error)
	winning := rcpt.Result.(lotto.DeliverRandomnessResult).WinningPick
	require.Len(t, winning, 4)

	// a second delivery is refused
	rcpt = deliver(t, c, c.Oracle, id, token)
	assert.Equal(t, "INVALID_STATE", rcpt.Code)

	r, err := c.State.GetRound(id)
	require.NoError(t, err)
	assert.Equal(t, lottery.PhaseDrawn, r.Phase(c.Clock.Now()))
	assert.Equal(t, uint64(11), r.TicketsSold)
	assert.GreaterOrEqual(t, r.TotalWinners(), uint64(1))

	tickets, err := c.State.GetOwnedTickets(id, c.Alice.PubKey())
	require.NoError(t, err)
	require.Len(t, tickets, 10)

	codec := lottery.DefaultCodec
	var paid uint64
	for _, ticketID := range tickets {
		tk, err := c.State.GetTicket(ticketID)
		require.NoError(t, err)
		tier, err := lottery.BestTier(codec, winning, tk.Pick, r.Distribution)
		require.NoError(t, err)

		before := c.Balance(c.Alice.PubKey())
		rcpt := claim(t, c, c.Alice, id, ticketID)
		if tier == lottery.NoTier {
			assert.Equal(t, "NO_TIER", rcpt.Code)
			continue
		}
		require.True(t, rcpt.Success, rcpt.Error)
		want, err := lottery.ClaimableAmount(r, tier, r.WinnersAt(tier))
		require.NoError(t, err)
		got := rcpt.Result.(lotto.ClaimPrizeResult).Amount
		assert.Equal(t, want, got)
		assert.Equal(t, before+want, c.Balance(c.Alice.PubKey()))
		paid += got

		// second claim of the same ticket
		assert.Equal(t, "ALREADY_CLAIMED", claim(t, c, c.Alice, id, ticketID).Code)
	}
	assert.Greater(t, paid, uint64(0))

	// Bob cannot claim Alice's tickets
	assert.Equal(t, "UNAUTHORIZED", claim(t, c, c.Bob, id, tickets[0]).Code)

	claims, err := c.Indexer.GetClaimsByOwner(c.Alice.PubKey())
	require.NoError(t, err)
	var indexed uint64
	for _, cl := range claims {
		indexed += cl.Amount
	}
	assert.Equal(t, paid, indexed)

	treasury := c.Balance(testchain.Treasury)
	assert.Equal(t, uint64(1_000_000+1_100)-paid, treasury)
}

func TestRequestDrawSupersedesToken(t *testing.T) {
	c := testchain.New(t)
	id := createRound(t, c, openSpec())
	c.At(time.Minute)
	require.True(t, buy(t, c, c.Alice, id, spreadPicks()).Success)
	c.At(2 * time.Hour)

	first := requestDraw(t, c, id, "first")
	second := requestDraw(t, c, id, "second")
	require.NotEqual(t, first, second)

	assert.Equal(t, "INVALID_STATE", deliver(t, c, c.Oracle, id, first).Code)
	assert.True(t, deliver(t, c, c.Oracle, id, second).Success)
}

func TestDeliverRejectsForgedValue(t *testing.T) {
	c := testchain.New(t)
	id := createRound(t, c, openSpec())
	c.At(2 * time.Hour)
	token := requestDraw(t, c, id, "h")

	rcpt := c.Exec1(c.Oracle, func(n uint64) (*core.Transaction, error) {
		return c.Oracle.NewTx(chainID, core.TxDeliverRandomness, n, 0, core.DeliverRandomnessPayload{
			RoundID: id,
			Token:   token,
			Value:   "00000000000000000000000000000000000000000000000000000000000000ff",
			Proof:   "00",
		})
	})
	assert.False(t, rcpt.Success)

	r, err := c.State.GetRound(id)
	require.NoError(t, err)
	assert.False(t, r.Drawn())
}

func TestTransferredTicketClaimedByNewOwner(t *testing.T) {
	c := testchain.New(t)
	id := createRound(t, c, openSpec())
	c.At(time.Minute)
	rcpt := buy(t, c, c.Alice, id, spreadPicks())
	require.True(t, rcpt.Success, rcpt.Error)
	ids := rcpt.Result.(lotto.BuyTicketsResult).TicketIDs

	for _, ticketID := range ids {
		rcpt := c.Exec1(c.Alice, func(n uint64) (*core.Transaction, error) {
			return c.Alice.TransferTicket(chainID, ticketID, c.Bob.PubKey(), n, 0)
		})
		require.True(t, rcpt.Success, rcpt.Error)
	}
	owned, err := c.State.GetOwnedTickets(id, c.Bob.PubKey())
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, owned)
	byOwner, err := c.Indexer.GetTicketsByOwner(c.Alice.PubKey())
	require.NoError(t, err)
	assert.Empty(t, byOwner)

	// only the current owner can move it again
	rcpt = c.Exec1(c.Alice, func(n uint64) (*core.Transaction, error) {
		return c.Alice.TransferTicket(chainID, ids[0], c.Alice.PubKey(), n, 0)
	})
	assert.Equal(t, "UNAUTHORIZED", rcpt.Code)

	c.At(2 * time.Hour)
	token := requestDraw(t, c, id, "h")
	require.True(t, deliver(t, c, c.Oracle, id, token).Success)

	eng, err := lotto.NewReader(c.State, c.Clock.Now, c.Log)
	require.NoError(t, err)
	var paid uint64
	for _, ticketID := range ids {
		preview, err := eng.Preview(id, ticketID)
		require.NoError(t, err)
		if preview.Tier == lottery.NoTier {
			continue
		}
		assert.Equal(t, "UNAUTHORIZED", claim(t, c, c.Alice, id, ticketID).Code)
		rcpt := claim(t, c, c.Bob, id, ticketID)
		require.True(t, rcpt.Success, rcpt.Error)
		assert.Equal(t, preview.Amount, rcpt.Result.(lotto.ClaimPrizeResult).Amount)
		paid += preview.Amount
	}
	assert.Greater(t, paid, uint64(0))
}

func TestBuyTicketsRespectsPerBuyLimit(t *testing.T) {
	c := testchain.New(t)
	id := createRound(t, c, openSpec())
	c.At(time.Minute)

	picks := make([]lottery.Pick, lottery.DefaultMaxTicketsPerBuy+1)
	for i := range picks {
		picks[i] = lottery.Pick{0, 0, 0, uint8(i % 10)}
	}
	rcpt := buy(t, c, c.Alice, id, picks)
	assert.Equal(t, "INVALID_COUNT", rcpt.Code)
	assert.Equal(t, uint64(testchain.Funding), c.Balance(c.Alice.PubKey()))

	rcpt = buy(t, c, c.Alice, id, []lottery.Pick{{0, 0, 0, 10}})
	assert.Equal(t, "INVALID_PICK", rcpt.Code)
}

func TestReaderQuotesCost(t *testing.T) {
	c := testchain.New(t)
	id := createRound(t, c, openSpec())
	c.At(time.Minute)

	eng, err := lotto.NewReader(c.State, c.Clock.Now, c.Log)
	require.NoError(t, err)
	cost, err := eng.CostToBuy(id, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), cost)

	_, err = eng.BuyTickets(id, []lottery.Pick{{1, 2, 3, 4}}, c.Alice.PubKey())
	assert.Error(t, err)
}
