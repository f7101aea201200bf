// Package indexer maintains secondary indexes over executed transactions so
// clients can list rounds, look up receipts and see claims by owner without
// scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/storage"
)

const (
	keyRounds          = "idx:rounds"
	prefixReceipt      = "idx:receipt:"
	prefixOwnerClaims  = "idx:owner:claims:"
	prefixOwnerTickets = "idx:owner:tickets:"
)

// Claim is one successful prize claim.
type Claim struct {
	RoundID  uint64 `json:"round_id"`
	TicketID uint64 `json:"ticket_id"`
	Amount   uint64 `json:"amount"`
	TxID     string `json:"tx_id"`
	Height   int64  `json:"height"`
}

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	mu  sync.Mutex
	db  storage.DB
	log logrus.FieldLogger
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter, log logrus.FieldLogger) *Indexer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	idx := &Indexer{db: db, log: log.WithField("component", "indexer")}
	emitter.Subscribe(events.EventRoundCreated, idx.onRoundCreated)
	emitter.Subscribe(events.EventTxExecuted, idx.onReceipt)
	emitter.Subscribe(events.EventTxFailed, idx.onReceipt)
	emitter.Subscribe(events.EventPrizeClaimed, idx.onPrizeClaimed)
	emitter.Subscribe(events.EventTicketsBought, idx.onTicketsBought)
	emitter.Subscribe(events.EventTicketTransfer, idx.onTicketTransfer)
	return idx
}

// GetRoundIDs returns every round id in creation order.
func (idx *Indexer) GetRoundIDs() ([]uint64, error) {
	var ids []uint64
	return ids, idx.getJSON(keyRounds, &ids)
}

// GetReceipt returns the receipt of a transaction.
func (idx *Indexer) GetReceipt(txID string) (*core.Receipt, error) {
	data, err := idx.db.Get([]byte(prefixReceipt + txID))
	if err != nil {
		return nil, err
	}
	var r core.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return &r, nil
}

// GetClaimsByOwner returns every prize claimed by owner.
func (idx *Indexer) GetClaimsByOwner(owner string) ([]Claim, error) {
	var claims []Claim
	return claims, idx.getJSON(prefixOwnerClaims+owner, &claims)
}

// GetTicketsByOwner returns every ticket id owner currently holds, across
// rounds.
func (idx *Indexer) GetTicketsByOwner(owner string) ([]uint64, error) {
	var ids []uint64
	return ids, idx.getJSON(prefixOwnerTickets+owner, &ids)
}

// ---- event handlers ----

func (idx *Indexer) onRoundCreated(ev events.Event) {
	id, _ := ev.Data["round_id"].(uint64)
	if id == 0 {
		return
	}
	idx.update(keyRounds, func(ids []uint64) []uint64 { return append(ids, id) })
}

func (idx *Indexer) onReceipt(ev events.Event) {
	rcpt, _ := ev.Data["receipt"].(*core.Receipt)
	if rcpt == nil || rcpt.TxID == "" {
		return
	}
	data, err := json.Marshal(rcpt)
	if err != nil {
		idx.log.WithError(err).Warn("encode receipt")
		return
	}
	if err := idx.db.Set([]byte(prefixReceipt+rcpt.TxID), data); err != nil {
		idx.log.WithError(err).Warn("store receipt")
	}
}

func (idx *Indexer) onPrizeClaimed(ev events.Event) {
	owner, _ := ev.Data["owner"].(string)
	if owner == "" {
		return
	}
	c := Claim{TxID: ev.TxID, Height: ev.BlockHeight}
	c.RoundID, _ = ev.Data["round_id"].(uint64)
	c.TicketID, _ = ev.Data["ticket_id"].(uint64)
	c.Amount, _ = ev.Data["amount"].(uint64)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	var claims []Claim
	if err := idx.getJSON(prefixOwnerClaims+owner, &claims); err != nil {
		idx.log.WithError(err).Warn("load claims")
		return
	}
	idx.setJSON(prefixOwnerClaims+owner, append(claims, c))
}

func (idx *Indexer) onTicketsBought(ev events.Event) {
	buyer, _ := ev.Data["buyer"].(string)
	ids, _ := ev.Data["ticket_ids"].([]uint64)
	if buyer == "" || len(ids) == 0 {
		return
	}
	idx.update(prefixOwnerTickets+buyer, func(owned []uint64) []uint64 { return append(owned, ids...) })
}

func (idx *Indexer) onTicketTransfer(ev events.Event) {
	from, _ := ev.Data["from"].(string)
	to, _ := ev.Data["to"].(string)
	id, _ := ev.Data["ticket_id"].(uint64)
	if from == "" || to == "" || id == 0 {
		return
	}
	idx.update(prefixOwnerTickets+from, func(owned []uint64) []uint64 {
		kept := owned[:0]
		for _, t := range owned {
			if t != id {
				kept = append(kept, t)
			}
		}
		return kept
	})
	idx.update(prefixOwnerTickets+to, func(owned []uint64) []uint64 { return append(owned, id) })
}

// ---- list helpers ----

func (idx *Indexer) getJSON(key string, v any) error {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil // empty list
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("indexer unmarshal: %w", err)
	}
	return nil
}

func (idx *Indexer) setJSON(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		idx.log.WithError(err).WithField("key", key).Warn("encode index")
		return
	}
	if err := idx.db.Set([]byte(key), data); err != nil {
		idx.log.WithError(err).WithField("key", key).Warn("store index")
	}
}

func (idx *Indexer) update(key string, fn func([]uint64) []uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var ids []uint64
	if err := idx.getJSON(key, &ids); err != nil {
		idx.log.WithError(err).WithField("key", key).Warn("load index")
		return
	}
	idx.setJSON(key, fn(ids))
}
