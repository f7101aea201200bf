// Package consensus implements single-authority block production. One
// sequencer key orders every transaction into blocks; each block is signed
// by it and other readers verify the signature before trusting the block.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tolelom/tolotto/config"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/crypto"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/vm"
)

const defaultMaxBlockTxs = 500

// Sequencer is the single writer of the chain.
type Sequencer struct {
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	maxTxs  int
	now     func() time.Time
	log     logrus.FieldLogger

	mu sync.Mutex // serialises ProduceBlock
}

// Option customises a Sequencer.
type Option func(*Sequencer)

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// WithMaxBlockTxs caps the transactions taken from the mempool per block.
func WithMaxBlockTxs(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.maxTxs = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Sequencer) { s.log = log }
}

// New creates a Sequencer signing with privKey.
func New(
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	opts ...Option,
) *Sequencer {
	s := &Sequencer{
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		maxTxs:  defaultMaxBlockTxs,
		now:     time.Now,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "sequencer")
	return s
}

// PubKey returns the sequencer's public key hex.
func (s *Sequencer) PubKey() string { return s.pubKey.Hex() }

// ProduceBlock takes pending transactions, executes them, and commits a
// signed block holding the ones that succeeded. It returns nil without error
// when the mempool is empty. Every taken transaction leaves the mempool; the
// failed ones keep only their receipt.
func (s *Sequencer) ProduceBlock() (*core.Block, []*core.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs := s.mempool.Pending(s.maxTxs)
	if len(txs) == 0 {
		return nil, nil, nil
	}

	tip := s.bc.Tip()
	prevHash, nextHeight := config.GenesisHash, int64(1)
	at := s.now()
	if tip != nil {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
		if t := tip.Time(); at.Before(t) {
			at = t
		}
	}

	snap, err := s.state.Snapshot()
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: %w", err)
	}

	block := core.NewBlock(s.bc.ChainID(), nextHeight, prevHash, s.pubKey.Hex(), at, txs)
	included, receipts, evs := s.exec.ExecuteBlock(block)
	block.Transactions = included
	block.Header.TxRoot = core.ComputeTxRoot(included)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = s.state.ComputeRoot()
	block.Sign(s.privKey)

	// evs is dropped on this path: none of the block's transactions happened.
	if err := s.bc.AddBlock(block); err != nil {
		if revertErr := s.state.RevertToSnapshot(snap); revertErr != nil {
			return nil, nil, errors.Join(fmt.Errorf("add block: %w", err), revertErr)
		}
		return nil, nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := s.state.Commit(); err != nil {
		s.log.WithError(err).WithField("height", block.Header.Height).Fatal("block stored but state commit failed")
	}

	// Publish transaction events only now that the block and its state are
	// durable, then the commit event, which needs block.Hash from Sign().
	evs.Flush(s.emitter)
	s.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data: map[string]any{
			"hash":   block.Hash,
			"txs":    len(included),
			"failed": len(txs) - len(included),
		},
	})

	txIDs := make([]string, len(txs))
	for i, tx := range txs {
		txIDs[i] = tx.ID
	}
	s.mempool.Remove(txIDs)

	s.log.WithFields(logrus.Fields{
		"height": block.Header.Height,
		"txs":    len(included),
		"failed": len(txs) - len(included),
	}).Debug("block produced")
	return block, receipts, nil
}

// ValidateBlock checks that block was signed by this sequencer and links to
// the current tip.
func (s *Sequencer) ValidateBlock(block *core.Block) error {
	if block.Header.Proposer != s.pubKey.Hex() {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, s.pubKey.Hex())
	}
	if block.Hash != block.ComputeHash() {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(s.pubKey); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}

	tip := s.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	return nil
}

// Run produces a block every interval until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := s.ProduceBlock(); err != nil {
				s.log.WithError(err).Error("produce block")
			}
		}
	}
}
