package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit         EventType = "block_commit"
	EventTxExecuted          EventType = "tx_executed"
	EventTxFailed            EventType = "tx_failed"
	EventTokenTransfer       EventType = "token_transfer"
	EventRoundCreated        EventType = "round_created"
	EventTicketsBought       EventType = "tickets_bought"
	EventDrawRequested       EventType = "draw_requested"
	EventRandomnessDelivered EventType = "randomness_delivered"
	EventPrizeClaimed        EventType = "prize_claimed"
	EventTicketTransfer      EventType = "ticket_transfer"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      logrus.FieldLogger
}

// NewEmitter creates an Emitter with no subscribers. A nil logger uses the
// logrus standard logger.
func NewEmitter(log logrus.FieldLogger) *Emitter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Emitter{
		handlers: make(map[EventType][]Handler),
		log:      log.WithField("component", "events"),
	}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.WithFields(logrus.Fields{"event": ev.Type, "panic": r}).Error("event handler panicked")
				}
			}()
			h(ev)
		}()
	}
}

// Buffer collects events until Flush. The executor gives every transaction a
// Buffer so events of a reverted transaction are never published.
type Buffer struct {
	events []Event
}

// Add queues ev.
func (b *Buffer) Add(ev Event) { b.events = append(b.events, ev) }

// Events returns the queued events.
func (b *Buffer) Events() []Event { return b.events }

// Flush emits every queued event on e in order and empties the buffer.
func (b *Buffer) Flush(e *Emitter) {
	if e != nil {
		for _, ev := range b.events {
			e.Emit(ev)
		}
	}
	b.events = nil
}
