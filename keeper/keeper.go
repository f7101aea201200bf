// Package keeper requests draws on a schedule. Rounds whose sales window has
// closed and that have no pending draw request get a request_draw
// transaction signed by the keeper's admin key.
package keeper

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/lottery"
	"github.com/tolelom/tolotto/wallet"
)

// RoundLister lists known round ids, typically the indexer.
type RoundLister interface {
	GetRoundIDs() ([]uint64, error)
}

// RoundReader loads a round, typically the chain state.
type RoundReader interface {
	GetRound(id uint64) (*lottery.Round, error)
}

// Pool accepts transactions and reports whether one is still pending.
type Pool interface {
	Add(tx *core.Transaction) error
	Get(id string) (*core.Transaction, bool)
}

// Keeper submits request_draw transactions for closed rounds.
type Keeper struct {
	chainID string
	wallet  *wallet.Wallet
	nonces  *wallet.NonceSource
	rounds  RoundLister
	state   RoundReader
	pool    Pool
	now     func() time.Time
	log     logrus.FieldLogger

	mu       sync.Mutex
	inflight map[uint64]string // round id -> pending request tx id
	cron     *cron.Cron
}

// New creates a Keeper signing with w, an admin key. nonces must track the
// account of w.
func New(chainID string, w *wallet.Wallet, rounds RoundLister, state RoundReader, pool Pool, nonces *wallet.NonceSource, log logrus.FieldLogger) *Keeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Keeper{
		chainID:  chainID,
		wallet:   w,
		nonces:   nonces,
		rounds:   rounds,
		state:    state,
		pool:     pool,
		now:      time.Now,
		log:      log.WithFields(logrus.Fields{"component": "keeper", "admin": w.PubKey()}),
		inflight: make(map[uint64]string),
	}
}

// SetClock replaces the wall clock used to evaluate phases.
func (k *Keeper) SetClock(now func() time.Time) { k.now = now }

// Subscribe resyncs the admin nonce whenever one of its transactions fails.
func (k *Keeper) Subscribe(em *events.Emitter) {
	em.Subscribe(events.EventTxFailed, func(ev events.Event) {
		rcpt, ok := ev.Data["receipt"].(*core.Receipt)
		if ok && rcpt.From == k.wallet.PubKey() {
			k.nonces.Reset()
		}
	})
}

// Start schedules Tick with a standard cron spec or a descriptor such as
// "@every 30s".
func (k *Keeper) Start(spec string) error {
	c := cron.New(
		cron.WithLogger(cron.PrintfLogger(k.log)),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(k.log))),
	)
	if _, err := c.AddFunc(spec, func() {
		if _, err := k.Tick(); err != nil {
			k.log.WithError(err).Error("keeper tick")
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	k.cron = c
	c.Start()
	k.log.WithField("schedule", spec).Info("keeper started")
	return nil
}

// Stop halts the schedule and waits for a running tick.
func (k *Keeper) Stop() {
	if k.cron != nil {
		<-k.cron.Stop().Done()
	}
}

// Tick scans every round once and returns the ids it requested draws for.
func (k *Keeper) Tick() ([]uint64, error) {
	ids, err := k.rounds.GetRoundIDs()
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	now := k.now()
	var requested []uint64
	var errs []error
	for _, id := range ids {
		r, err := k.state.GetRound(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("round %d: %w", id, err))
			continue
		}
		if r.Draw != nil || r.Phase(now) != lottery.PhaseClosed || k.pending(id) {
			continue
		}
		if err := k.request(id); err != nil {
			errs = append(errs, fmt.Errorf("round %d: %w", id, err))
			continue
		}
		requested = append(requested, id)
	}
	return requested, errors.Join(errs...)
}

// pending reports whether an earlier request for round id is still in the
// pool, and forgets it otherwise.
func (k *Keeper) pending(id uint64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	txID, ok := k.inflight[id]
	if !ok {
		return false
	}
	if _, inPool := k.pool.Get(txID); inPool {
		return true
	}
	delete(k.inflight, id)
	return false
}

func (k *Keeper) request(id uint64) error {
	nonce, err := k.nonces.Next()
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	tx, err := k.wallet.RequestDraw(k.chainID, id, uuid.NewString(), nonce, 0)
	if err != nil {
		k.nonces.Reset()
		return err
	}
	if err := k.pool.Add(tx); err != nil {
		k.nonces.Reset()
		return fmt.Errorf("submit: %w", err)
	}
	k.mu.Lock()
	k.inflight[id] = tx.ID
	k.mu.Unlock()
	k.log.WithFields(logrus.Fields{"round": id, "tx": tx.ID}).Info("draw requested")
	return nil
}
