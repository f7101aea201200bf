package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/crypto"
	"github.com/tolelom/tolotto/internal/testutil"
	"github.com/tolelom/tolotto/lottery"
	"github.com/tolelom/tolotto/wallet"
)

const testChainID = "test-chain"

// TestTransactionSignVerify ensures transaction signing and verification work.
func TestTransactionSignVerify(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := w.NewTx(testChainID, core.TxTransfer, 0, 0, core.TransferPayload{To: "deadbeef", Amount: 100})
	require.NoError(t, err)
	require.NotEmpty(t, tx.ID)
	require.NoError(t, tx.Verify())

	// Tamper with the fee to check that verification catches it.
	tx.Fee = 999
	assert.Error(t, tx.Verify())
}

// TestChainIDIsSigned makes a transaction unusable on another chain.
func TestChainIDIsSigned(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	tx, err := w.ClaimPrize(testChainID, 1, 2, 0, 0)
	require.NoError(t, err)

	tx.ChainID = "other-chain"
	assert.Error(t, tx.Verify())
}

func TestDecodePayload(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	tx, err := w.BuyTickets(testChainID, 7, []lottery.Pick{{1, 2, 3, 4}}, 0, 0)
	require.NoError(t, err)

	var p core.BuyTicketsPayload
	require.NoError(t, tx.DecodePayload(&p))
	assert.Equal(t, uint64(7), p.RoundID)
	assert.Equal(t, []lottery.Pick{{1, 2, 3, 4}}, p.Picks)
}

// TestBlockHash ensures that hashing a block is deterministic.
func TestBlockHash(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	at := time.Unix(1_700_000_000, 5)
	block := core.NewBlock(testChainID, 1, "0000", pub.Hex(), at, nil)
	block.Sign(priv)

	require.NotEmpty(t, block.Hash)
	assert.Equal(t, block.Hash, block.ComputeHash())
	assert.NoError(t, block.Verify(pub))
	assert.Equal(t, at, block.Time())
	assert.Equal(t, core.ComputeTxRoot(nil), block.Header.TxRoot)
}

// TestMempool verifies add/remove/pending operations.
func TestMempool(t *testing.T) {
	mp := core.NewMempool(testChainID)
	w, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := w.Transfer(testChainID, "aa", 1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, mp.Add(tx))
	assert.Equal(t, 1, mp.Size())
	// Duplicate should fail
	assert.Error(t, mp.Add(tx))

	got, ok := mp.Get(tx.ID)
	require.True(t, ok)
	assert.Equal(t, tx, got)
	assert.Len(t, mp.Pending(10), 1)

	mp.Remove([]string{tx.ID})
	assert.Equal(t, 0, mp.Size())
}

func TestMempoolRejectsForeignChain(t *testing.T) {
	mp := core.NewMempool(testChainID)
	w, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := w.Transfer("other-chain", "aa", 1, 0, 0)
	require.NoError(t, err)
	assert.Error(t, mp.Add(tx))
	assert.Equal(t, 0, mp.Size())
}

func TestMempoolPendingKeepsOrder(t *testing.T) {
	mp := core.NewMempool(testChainID)
	w, err := wallet.Generate()
	require.NoError(t, err)

	var ids []string
	for n := uint64(0); n < 5; n++ {
		tx, err := w.Transfer(testChainID, "aa", 1, n, 0)
		require.NoError(t, err)
		require.NoError(t, mp.Add(tx))
		ids = append(ids, tx.ID)
	}
	pending := mp.Pending(3)
	require.Len(t, pending, 3)
	for i, tx := range pending {
		assert.Equal(t, ids[i], tx.ID)
	}
}

func TestBlockchainAddBlock(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bc := core.NewBlockchain(testChainID, testutil.NewBlockStore())
	require.NoError(t, bc.Init())
	assert.Nil(t, bc.Tip())

	t0 := time.Unix(1_700_000_000, 0)
	genesis := core.NewBlock(testChainID, 0, "00", pub.Hex(), t0, nil)
	genesis.Sign(priv)
	require.NoError(t, bc.AddBlock(genesis))

	foreign := core.NewBlock("other-chain", 1, genesis.Hash, pub.Hex(), t0, nil)
	foreign.Sign(priv)
	assert.Error(t, bc.AddBlock(foreign))

	gap := core.NewBlock(testChainID, 2, genesis.Hash, pub.Hex(), t0, nil)
	gap.Sign(priv)
	assert.Error(t, bc.AddBlock(gap))

	earlier := core.NewBlock(testChainID, 1, genesis.Hash, pub.Hex(), t0.Add(-time.Second), nil)
	earlier.Sign(priv)
	assert.Error(t, bc.AddBlock(earlier))

	next := core.NewBlock(testChainID, 1, genesis.Hash, pub.Hex(), t0.Add(time.Second), nil)
	next.Sign(priv)
	require.NoError(t, bc.AddBlock(next))
	assert.Equal(t, int64(1), bc.Height())

	got, err := bc.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, next.Hash, got.Hash)
}

func TestBlockchainInitRestoresTip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	store := testutil.NewBlockStore()
	bc := core.NewBlockchain(testChainID, store)
	require.NoError(t, bc.Init())

	genesis := core.NewBlock(testChainID, 0, "00", pub.Hex(), time.Unix(1, 0), nil)
	genesis.Sign(priv)
	require.NoError(t, bc.AddBlock(genesis))

	reopened := core.NewBlockchain(testChainID, store)
	require.NoError(t, reopened.Init())
	require.NotNil(t, reopened.Tip())
	assert.Equal(t, genesis.Hash, reopened.Tip().Hash)
}
