package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/lottery"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction, and the transaction's event
// buffer.
type Context struct {
	State  core.State
	Block  *core.Block
	Tx     *core.Transaction
	Logger logrus.FieldLogger

	events *events.Buffer
	result any
}

// Emit queues an event of typ. Queued events are published only if the
// transaction succeeds.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.events.Add(events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// SetResult attaches v to the transaction receipt.
func (c *Context) SetResult(v any) { c.result = v }

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	log     logrus.FieldLogger
}

// NewExecutor creates an Executor with the given state and event emitter.
func NewExecutor(state core.State, emitter *events.Emitter, log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{state: state, emitter: emitter, log: log.WithField("component", "vm")}
}

// ExecuteBlock applies the transactions of block in order. A failing
// transaction is reverted and left out of the returned included list; the
// block itself still proceeds. Every transaction gets a receipt.
//
// Nothing is published while the block executes: the events of every
// transaction, including tx_executed and tx_failed, are returned in order so
// the caller can flush them once the block is stored and the state committed,
// or drop them if the block is abandoned.
func (e *Executor) ExecuteBlock(block *core.Block) (included []*core.Transaction, receipts []*core.Receipt, evs *events.Buffer) {
	evs = &events.Buffer{}
	for _, tx := range block.Transactions {
		rcpt, err := e.executeTx(block, tx, evs)
		receipts = append(receipts, rcpt)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"tx":     tx.ID,
				"type":   tx.Type,
				"height": block.Header.Height,
			}).WithError(err).Info("transaction rejected")
			continue
		}
		included = append(included, tx)
	}
	return included, receipts, evs
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback
// and publishes its events right away. The returned receipt is never nil.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) (*core.Receipt, error) {
	evs := &events.Buffer{}
	rcpt, err := e.executeTx(block, tx, evs)
	evs.Flush(e.emitter)
	return rcpt, err
}

// executeTx runs tx and appends its events followed by its receipt event to
// out.
func (e *Executor) executeTx(block *core.Block, tx *core.Transaction, out *events.Buffer) (*core.Receipt, error) {
	rcpt := &core.Receipt{
		TxID:        tx.ID,
		Type:        tx.Type,
		From:        tx.From,
		BlockHeight: block.Header.Height,
	}
	result, err := e.execute(block, tx, out)
	if err != nil {
		rcpt.Error = err.Error()
		rcpt.Code = lottery.Code(err)
		out.Add(events.Event{
			Type:        events.EventTxFailed,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"receipt": rcpt},
		})
		return rcpt, err
	}
	rcpt.Success = true
	rcpt.Result = result
	out.Add(events.Event{
		Type:        events.EventTxExecuted,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "receipt": rcpt},
	})
	return rcpt, nil
}

func (e *Executor) execute(block *core.Block, tx *core.Transaction, out *events.Buffer) (any, error) {
	if tx.ChainID != block.Header.ChainID {
		return nil, fmt.Errorf("chain id %q does not match block chain %q", tx.ChainID, block.Header.ChainID)
	}
	if err := tx.Verify(); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{
		State:  e.state,
		Block:  block,
		Tx:     tx,
		Logger: e.log.WithField("tx", tx.ID),
		events: &events.Buffer{},
	}
	if err := e.applyTx(ctx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, errors.Join(err, fmt.Errorf("revert snapshot after tx failure: %w", revertErr))
		}
		return nil, err
	}
	for _, ev := range ctx.events.Events() {
		out.Add(ev)
	}
	return ctx.result, nil
}

// applyTx deducts the fee, increments the nonce, then dispatches to the handler.
func (e *Executor) applyTx(ctx *Context) error {
	tx := ctx.Tx
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}
	return globalRegistry.Execute(tx.Type, ctx, tx.Payload)
}
