package vm_test

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/internal/testutil"
	"github.com/tolelom/tolotto/storage"
	"github.com/tolelom/tolotto/vm"
	"github.com/tolelom/tolotto/wallet"

	// Register VM modules
	_ "github.com/tolelom/tolotto/vm/modules/economy"
	_ "github.com/tolelom/tolotto/vm/modules/lotto"
)

const testChainID = "test-chain"

type env struct {
	state   *storage.StateDB
	emitter *events.Emitter
	exec    *vm.Executor
	block   *core.Block
	sender  *wallet.Wallet
	events  []events.Event
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	e := &env{state: testutil.NewStateDB(), emitter: events.NewEmitter(log)}
	e.exec = vm.NewExecutor(e.state, e.emitter, log)
	for _, typ := range []events.EventType{events.EventTokenTransfer, events.EventTxExecuted, events.EventTxFailed} {
		e.emitter.Subscribe(typ, func(ev events.Event) { e.events = append(e.events, ev) })
	}

	var err error
	e.sender, err = wallet.Generate()
	require.NoError(t, err)
	require.NoError(t, e.state.SetAccount(&core.Account{Address: e.sender.PubKey(), Balance: 1000}))
	e.block = core.NewBlock(testChainID, 1, "0000", e.sender.PubKey(), time.Unix(1_700_000_000, 0), nil)
	return e
}

func (e *env) eventTypes() []events.EventType {
	var out []events.EventType
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

// TestTokenTransfer verifies that the economy transfer handler moves tokens.
func TestTokenTransfer(t *testing.T) {
	e := newEnv(t)
	receiver, err := wallet.Generate()
	require.NoError(t, err)

	tx, err := e.sender.Transfer(testChainID, receiver.PubKey(), 300, 0, 5)
	require.NoError(t, err)
	rcpt, err := e.exec.ExecuteTx(e.block, tx)
	require.NoError(t, err)
	assert.True(t, rcpt.Success)

	senderAcc, err := e.state.GetAccount(e.sender.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000-300-5), senderAcc.Balance)
	assert.Equal(t, uint64(1), senderAcc.Nonce)
	receiverAcc, err := e.state.GetAccount(receiver.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(300), receiverAcc.Balance)

	assert.Equal(t, []events.EventType{events.EventTokenTransfer, events.EventTxExecuted}, e.eventTypes())
	assert.Equal(t, tx.ID, e.events[0].TxID)
}

// TestNonceReplay verifies that replaying a transaction with the same nonce fails.
func TestNonceReplay(t *testing.T) {
	e := newEnv(t)
	tx, err := e.sender.Transfer(testChainID, "aabb", 1, 0, 0)
	require.NoError(t, err)
	_, err = e.exec.ExecuteTx(e.block, tx)
	require.NoError(t, err)

	// Replay (same nonce=0, already consumed)
	rcpt, err := e.exec.ExecuteTx(e.block, tx)
	assert.Error(t, err)
	assert.False(t, rcpt.Success)
	assert.Contains(t, rcpt.Error, "nonce")
}

// TestFailedTxRevertsAndHidesEvents checks that a failing handler leaves no
// trace but its receipt: fee, nonce and events are rolled back.
func TestFailedTxRevertsAndHidesEvents(t *testing.T) {
	e := newEnv(t)
	tx, err := e.sender.Transfer(testChainID, "aabb", 5000, 0, 10)
	require.NoError(t, err)

	rcpt, err := e.exec.ExecuteTx(e.block, tx)
	require.Error(t, err)
	assert.False(t, rcpt.Success)
	assert.Equal(t, tx.ID, rcpt.TxID)
	assert.Equal(t, int64(1), rcpt.BlockHeight)

	acc, err := e.state.GetAccount(e.sender.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), acc.Balance)
	assert.Equal(t, uint64(0), acc.Nonce)
	assert.Equal(t, []events.EventType{events.EventTxFailed}, e.eventTypes())
}

func TestExecuteTxRejectsForeignChain(t *testing.T) {
	e := newEnv(t)
	tx, err := e.sender.Transfer("other-chain", "aabb", 1, 0, 0)
	require.NoError(t, err)
	_, err = e.exec.ExecuteTx(e.block, tx)
	assert.ErrorContains(t, err, "chain id")
}

func TestExecuteTxRejectsUnknownType(t *testing.T) {
	e := newEnv(t)
	tx, err := e.sender.NewTx(testChainID, core.TxType("mint_asset"), 0, 0, map[string]string{})
	require.NoError(t, err)
	_, err = e.exec.ExecuteTx(e.block, tx)
	assert.ErrorContains(t, err, "no handler")
	assert.False(t, vm.Supports(tx.Type))
	assert.True(t, vm.Supports(core.TxBuyTickets))
}

func TestExecuteBlockSplitsIncluded(t *testing.T) {
	e := newEnv(t)
	good, err := e.sender.Transfer(testChainID, "aabb", 10, 0, 0)
	require.NoError(t, err)
	bad, err := e.sender.Transfer(testChainID, "aabb", 10, 7, 0)
	require.NoError(t, err)
	after, err := e.sender.Transfer(testChainID, "aabb", 10, 1, 0)
	require.NoError(t, err)

	e.block.Transactions = []*core.Transaction{good, bad, after}
	included, receipts, evs := e.exec.ExecuteBlock(e.block)
	require.Len(t, receipts, 3)
	require.Len(t, included, 2)
	assert.Equal(t, good.ID, included[0].ID)
	assert.Equal(t, after.ID, included[1].ID)
	assert.False(t, receipts[1].Success)

	assert.Empty(t, e.events, "block events wait for the caller")
	evs.Flush(e.emitter)
	assert.Equal(t, []events.EventType{
		events.EventTokenTransfer, events.EventTxExecuted,
		events.EventTxFailed,
		events.EventTokenTransfer, events.EventTxExecuted,
	}, e.eventTypes())
	assert.Equal(t, bad.ID, e.events[2].TxID)
}
