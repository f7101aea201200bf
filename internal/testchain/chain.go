// Package testchain assembles an in-memory single-sequencer chain for tests:
// genesis with funded accounts, an executor with every module registered, a
// sequencer driven by a manual clock, and nonce bookkeeping per wallet.
package testchain

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolotto/config"
	"github.com/tolelom/tolotto/consensus"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/indexer"
	"github.com/tolelom/tolotto/internal/testutil"
	"github.com/tolelom/tolotto/lottery"
	"github.com/tolelom/tolotto/storage"
	"github.com/tolelom/tolotto/vm"
	"github.com/tolelom/tolotto/wallet"

	_ "github.com/tolelom/tolotto/vm/modules/economy"
	_ "github.com/tolelom/tolotto/vm/modules/lotto"
)

const (
	ChainID  = "test-chain"
	Treasury = "test-treasury"
	// Funding is the genesis balance of every test wallet.
	Funding = 10_000_000
)

// Start is the genesis time of every test chain.
var Start = time.Unix(1_700_000_000, 0)

// Chain is a running in-memory node without network or RPC.
type Chain struct {
	t testing.TB

	DB      *testutil.MemDB
	State   *storage.StateDB
	BC      *core.Blockchain
	Mempool *core.Mempool
	Emitter *events.Emitter
	Indexer *indexer.Indexer
	Exec    *vm.Executor
	Seq     *consensus.Sequencer
	Clock   *lottery.ManualClock
	Log     logrus.FieldLogger

	Sequencer *wallet.Wallet
	Admin     *wallet.Wallet
	Oracle    *wallet.Wallet
	Alice     *wallet.Wallet
	Bob       *wallet.Wallet

	nonces map[string]*wallet.NonceSource
}

// New builds a chain at Start with Admin as lottery admin and Oracle as the
// only oracle. Receipts of every produced block are kept by the indexer.
func New(t testing.TB) *Chain {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	c := &Chain{
		t:      t,
		DB:     testutil.NewMemDB(),
		Clock:  lottery.NewManualClock(Start),
		Log:    log,
		nonces: make(map[string]*wallet.NonceSource),
	}
	for _, w := range []**wallet.Wallet{&c.Sequencer, &c.Admin, &c.Oracle, &c.Alice, &c.Bob} {
		gen, err := wallet.Generate()
		require.NoError(t, err)
		*w = gen
	}

	c.State = storage.NewStateDB(c.DB)
	c.BC = core.NewBlockchain(ChainID, storage.NewBlockStore(c.DB))
	require.NoError(t, c.BC.Init())

	cfg := config.DefaultConfig()
	cfg.Genesis.ChainID = ChainID
	cfg.Genesis.Alloc = map[string]uint64{
		c.Admin.PubKey():  Funding,
		c.Oracle.PubKey(): Funding,
		c.Alice.PubKey():  Funding,
		c.Bob.PubKey():    Funding,
	}
	cfg.Genesis.Lottery.Admins = []string{c.Admin.PubKey()}
	cfg.Genesis.Lottery.Oracles = []string{c.Oracle.PubKey()}
	cfg.Genesis.Lottery.Treasury = Treasury
	genesis, err := config.CreateGenesisBlock(cfg, c.State, c.Sequencer.PrivKey(), Start)
	require.NoError(t, err)
	require.NoError(t, c.BC.AddBlock(genesis))

	c.Emitter = events.NewEmitter(log)
	c.Indexer = indexer.New(c.DB, c.Emitter, log)
	c.Mempool = core.NewMempool(ChainID)
	c.Exec = vm.NewExecutor(c.State, c.Emitter, log)
	c.Seq = consensus.New(c.BC, c.State, c.Mempool, c.Exec, c.Emitter, c.Sequencer.PrivKey(),
		consensus.WithClock(c.Clock.Now),
		consensus.WithLogger(log),
	)
	c.Emitter.Subscribe(events.EventTxFailed, func(ev events.Event) {
		if rcpt, ok := ev.Data["receipt"].(*core.Receipt); ok {
			if n, ok := c.nonces[rcpt.From]; ok {
				n.Reset()
			}
		}
	})
	return c
}

// Nonces returns the shared NonceSource of w.
func (c *Chain) Nonces(w *wallet.Wallet) *wallet.NonceSource {
	n, ok := c.nonces[w.PubKey()]
	if !ok {
		n = wallet.StateNonces(c.State, w.PubKey())
		c.nonces[w.PubKey()] = n
	}
	return n
}

// Submit builds a transaction for w with its next nonce and adds it to the
// mempool.
func (c *Chain) Submit(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) *core.Transaction {
	c.t.Helper()
	nonce, err := c.Nonces(w).Next()
	require.NoError(c.t, err)
	tx, err := build(nonce)
	require.NoError(c.t, err)
	require.NoError(c.t, c.Mempool.Add(tx))
	return tx
}

// Produce seals one block and returns its receipts.
func (c *Chain) Produce() []*core.Receipt {
	c.t.Helper()
	_, receipts, err := c.Seq.ProduceBlock()
	require.NoError(c.t, err)
	return receipts
}

// Exec1 submits one transaction, seals it and returns its receipt.
func (c *Chain) Exec1(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) *core.Receipt {
	c.t.Helper()
	tx := c.Submit(w, build)
	receipts := c.Produce()
	for _, r := range receipts {
		if r.TxID == tx.ID {
			return r
		}
	}
	c.t.Fatalf("no receipt for tx %s", tx.ID)
	return nil
}

// Balance returns the committed balance of addr.
func (c *Chain) Balance(addr string) uint64 {
	c.t.Helper()
	acc, err := c.State.GetAccount(addr)
	require.NoError(c.t, err)
	return acc.Balance
}

// At moves the chain clock to Start plus d.
func (c *Chain) At(d time.Duration) { c.Clock.Set(Start.Add(d)) }
