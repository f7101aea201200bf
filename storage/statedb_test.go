package storage_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/internal/testutil"
	"github.com/tolelom/tolotto/lottery"
	"github.com/tolelom/tolotto/storage"
)

func TestSnapshotRevert(t *testing.T) {
	state := testutil.NewStateDB()
	require.NoError(t, state.SetAccount(&core.Account{Address: "alice", Balance: 100}))

	snap, err := state.Snapshot()
	require.NoError(t, err)
	require.NoError(t, state.SetAccount(&core.Account{Address: "alice", Balance: 1}))
	require.NoError(t, state.SetRound(&lottery.Round{ID: 1, PrizePool: 10}))
	require.NoError(t, state.SetClaimed(4))

	require.NoError(t, state.RevertToSnapshot(snap))
	acc, err := state.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), acc.Balance)
	_, err = state.GetRound(1)
	assert.ErrorIs(t, err, core.ErrNotFound)
	claimed, err := state.IsClaimed(4)
	require.NoError(t, err)
	assert.False(t, claimed)

	assert.Error(t, state.RevertToSnapshot(snap+5))
}

func TestComputeRootIsDeterministic(t *testing.T) {
	a := testutil.NewStateDB()
	b := testutil.NewStateDB()
	require.NoError(t, a.SetAccount(&core.Account{Address: "x", Balance: 1}))
	require.NoError(t, a.SetAccount(&core.Account{Address: "y", Balance: 2}))
	require.NoError(t, b.SetAccount(&core.Account{Address: "y", Balance: 2}))
	require.NoError(t, b.SetAccount(&core.Account{Address: "x", Balance: 1}))
	assert.Equal(t, a.ComputeRoot(), b.ComputeRoot())

	// committing does not change the root
	before := a.ComputeRoot()
	require.NoError(t, a.Commit())
	assert.Equal(t, before, a.ComputeRoot())

	require.NoError(t, a.SetClaimed(1))
	assert.NotEqual(t, before, a.ComputeRoot())
}

func TestSequencesAreIndependent(t *testing.T) {
	state := testutil.NewStateDB()
	for want := uint64(1); want <= 3; want++ {
		got, err := state.NextSequence(core.SeqRound)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := state.NextSequence(core.SeqTicket)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)

	require.NoError(t, state.Commit())
	got, err = state.NextSequence(core.SeqRound)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got)
}

func TestRoundsTicketsAndOwnership(t *testing.T) {
	state := testutil.NewStateDB()
	r := &lottery.Round{
		ID:           3,
		Distribution: lottery.Distribution{6_000, 4_000},
		PrizePool:    500,
		TicketCost:   5,
		WinningPick:  lottery.Pick{1, 2, 3, 4},
		Draw:         &lottery.DrawRequest{Token: "tok"},
	}
	r.WinnerCounts = []uint64{1, 0}
	require.NoError(t, state.SetRound(r))
	require.NoError(t, state.Commit())

	got, err := state.GetRound(3)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	require.NoError(t, state.SetTicket(&lottery.Ticket{ID: 9, RoundID: 3, Owner: "bob", Pick: lottery.Pick{0, 0, 0, 1}}))
	tk, err := state.GetTicket(9)
	require.NoError(t, err)
	assert.Equal(t, "bob", tk.Owner)

	owned, err := state.GetOwnedTickets(3, "bob")
	require.NoError(t, err)
	assert.Nil(t, owned)
	require.NoError(t, state.SetOwnedTickets(3, "bob", []uint64{9}))
	owned, err = state.GetOwnedTickets(3, "bob")
	require.NoError(t, err)
	assert.Equal(t, []uint64{9}, owned)
	require.NoError(t, state.SetOwnedTickets(3, "bob", nil))
	owned, err = state.GetOwnedTickets(3, "bob")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestLotteryParams(t *testing.T) {
	state := testutil.NewStateDB()
	_, err := state.GetLotteryParams()
	assert.ErrorIs(t, err, core.ErrNotFound)

	p := &core.LotteryParams{
		Admins:           []string{"a"},
		Oracles:          []string{"o"},
		Codec:            lottery.Codec{Length: 6, Base: 49},
		MaxTicketsPerBuy: 20,
		Treasury:         "t",
	}
	require.NoError(t, state.SetLotteryParams(p))
	got, err := state.GetLotteryParams()
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestLevelDBPersistsState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chain")
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	state := storage.NewStateDB(db)
	require.NoError(t, state.SetAccount(&core.Account{Address: "alice", Balance: 42, Nonce: 3}))
	root := state.ComputeRoot()
	require.NoError(t, state.Commit())
	require.NoError(t, db.Close())

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	state = storage.NewStateDB(db)
	acc, err := state.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), acc.Balance)
	assert.Equal(t, uint64(3), acc.Nonce)
	assert.Equal(t, root, state.ComputeRoot())

	_, err = db.Get([]byte("missing"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestBlockStoreCommitBlock(t *testing.T) {
	store := testutil.NewBlockStore()
	block := core.NewBlock("c", 0, "00", "p", time.Unix(10, 0), nil)
	block.Hash = block.ComputeHash()
	require.NoError(t, store.CommitBlock(block))

	tip, err := store.GetTip()
	require.NoError(t, err)
	assert.Equal(t, block.Hash, tip)
	byHeight, err := store.GetBlockByHeight(0)
	require.NoError(t, err)
	assert.Equal(t, block.Hash, byHeight.Hash)
	_, err = store.GetBlock("nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPickTallies(t *testing.T) {
	state := testutil.NewStateDB()
	require.NoError(t, state.AddPicks(1, []uint64{1234, 1234, 5}))
	require.NoError(t, state.Commit())
	require.NoError(t, state.AddPicks(1, []uint64{5, 77}))
	require.NoError(t, state.AddPicks(2, []uint64{1234}))

	got, err := state.GetPickCounts(1)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]uint64{1234: 2, 5: 2, 77: 1}, got)

	require.NoError(t, state.RemovePicks(1, []uint64{77, 1234}))
	got, err = state.GetPickCounts(1)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]uint64{1234: 1, 5: 2}, got)

	err = state.RemovePicks(1, []uint64{5, 5, 5})
	assert.Error(t, err)
	got, err = state.GetPickCounts(1)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]uint64{1234: 1, 5: 2}, got, "failed removal changes nothing")

	other, err := state.GetPickCounts(2)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]uint64{1234: 1}, other)
}

func TestClearClaimAndDeleteTicket(t *testing.T) {
	state := testutil.NewStateDB()
	require.NoError(t, state.SetClaimed(4))
	require.NoError(t, state.SetTicket(&lottery.Ticket{ID: 4, RoundID: 1, Owner: "amy"}))
	require.NoError(t, state.Commit())

	require.NoError(t, state.ClearClaimed(4))
	claimed, err := state.IsClaimed(4)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, state.DeleteTicket(4))
	_, err = state.GetTicket(4)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, state.Commit())
	_, err = state.GetTicket(4)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
