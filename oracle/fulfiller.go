// Package oracle answers draw requests. A Fulfiller watches for
// draw_requested events and submits a deliver_randomness transaction whose
// value is a VRF output over the request token, so any node can check it
// against the oracle's public key.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/wallet"
)

const queueSize = 256

// ErrQueueFull is returned when a request cannot be queued.
var ErrQueueFull = errors.New("oracle queue full")

// Submitter accepts signed transactions, typically the node mempool.
type Submitter interface {
	Add(tx *core.Transaction) error
}

// Request is one draw request waiting for randomness.
type Request struct {
	RoundID uint64
	Token   string
	Hint    string
}

// Fulfiller turns draw requests into deliver_randomness transactions.
type Fulfiller struct {
	chainID string
	wallet  *wallet.Wallet
	nonces  *wallet.NonceSource
	submit  Submitter
	log     logrus.FieldLogger

	queue chan Request
}

// New creates a Fulfiller. nonces must track the account of w; share one
// NonceSource between every service signing with the same key.
func New(chainID string, w *wallet.Wallet, submit Submitter, nonces *wallet.NonceSource, log logrus.FieldLogger) *Fulfiller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fulfiller{
		chainID: chainID,
		wallet:  w,
		nonces:  nonces,
		submit:  submit,
		log:     log.WithFields(logrus.Fields{"component": "oracle", "oracle": w.PubKey()}),
		queue:   make(chan Request, queueSize),
	}
}

// Subscribe registers the Fulfiller on em. Event handlers only enqueue;
// signing and submission happen in Run.
func (f *Fulfiller) Subscribe(em *events.Emitter) {
	em.Subscribe(events.EventDrawRequested, func(ev events.Event) {
		req, err := requestFromEvent(ev)
		if err != nil {
			f.log.WithError(err).Warn("malformed draw request event")
			return
		}
		if err := f.Enqueue(req); err != nil {
			f.log.WithError(err).WithField("round", req.RoundID).Error("drop draw request")
		}
	})
	em.Subscribe(events.EventTxFailed, func(ev events.Event) {
		rcpt, ok := ev.Data["receipt"].(*core.Receipt)
		if ok && rcpt.From == f.wallet.PubKey() {
			f.nonces.Reset()
		}
	})
}

// Enqueue adds req without blocking.
func (f *Fulfiller) Enqueue(req Request) error {
	select {
	case f.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes queued requests until ctx is cancelled.
func (f *Fulfiller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-f.queue:
			if _, err := f.Fulfill(req); err != nil {
				f.log.WithError(err).WithField("round", req.RoundID).Error("fulfil draw request")
			}
		}
	}
}

// Fulfill signs and submits the delivery for req.
func (f *Fulfiller) Fulfill(req Request) (*core.Transaction, error) {
	nonce, err := f.nonces.Next()
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	tx, err := f.wallet.DeliverRandomness(f.chainID, req.RoundID, req.Token, nonce, 0)
	if err != nil {
		f.nonces.Reset()
		return nil, err
	}
	if err := f.submit.Add(tx); err != nil {
		f.nonces.Reset()
		return nil, fmt.Errorf("submit: %w", err)
	}
	f.log.WithFields(logrus.Fields{"round": req.RoundID, "tx": tx.ID}).Info("randomness submitted")
	return tx, nil
}

func requestFromEvent(ev events.Event) (Request, error) {
	id, ok := ev.Data["round_id"].(uint64)
	if !ok {
		return Request{}, errors.New("missing round_id")
	}
	token, ok := ev.Data["token"].(string)
	if !ok || token == "" {
		return Request{}, errors.New("missing token")
	}
	hint, _ := ev.Data["hint"].(string)
	return Request{RoundID: id, Token: token, Hint: hint}, nil
}
