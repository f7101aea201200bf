package lotto

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/crypto"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/lottery"
	"github.com/tolelom/tolotto/vm"
	"github.com/tolelom/tolotto/vm/modules/economy"
)

// DefaultTreasury is the treasury account used when genesis names none.
const DefaultTreasury = "lottery-treasury"

// notFound maps the state's not-found sentinel onto the engine's.
func notFound(err error) error {
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("%w: %v", lottery.ErrNotFound, err)
	}
	return err
}

// stateStore keeps rounds and claim flags in chain state.
type stateStore struct{ state core.State }

func (s stateStore) NextRoundID() (uint64, error) { return s.state.NextSequence(core.SeqRound) }

func (s stateStore) GetRound(id uint64) (*lottery.Round, error) {
	r, err := s.state.GetRound(id)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (s stateStore) PutRound(r *lottery.Round) error   { return s.state.SetRound(r) }
func (s stateStore) IsClaimed(id uint64) (bool, error) { return s.state.IsClaimed(id) }
func (s stateStore) SetClaimed(id uint64) error        { return s.state.SetClaimed(id) }
func (s stateStore) ClearClaimed(id uint64) error      { return s.state.ClearClaimed(id) }

func (s stateStore) AddPicks(roundID uint64, keys []uint64) error {
	return s.state.AddPicks(roundID, keys)
}

func (s stateStore) RemovePicks(roundID uint64, keys []uint64) error {
	return s.state.RemovePicks(roundID, keys)
}

func (s stateStore) PickCounts(roundID uint64) (map[uint64]uint64, error) {
	return s.state.GetPickCounts(roundID)
}

// stateFunds moves native tokens between accounts.
type stateFunds struct{ state core.State }

func (f stateFunds) Transfer(from, to string, amount uint64) error {
	return economy.Transfer(f.state, from, to, amount)
}

// stateRegistry stores tickets in chain state with global sequential ids.
type stateRegistry struct{ state core.State }

func (g stateRegistry) Mint(roundID uint64, owner string, pick lottery.Pick) (uint64, error) {
	id, err := g.state.NextSequence(core.SeqTicket)
	if err != nil {
		return 0, err
	}
	t := &lottery.Ticket{ID: id, RoundID: roundID, Owner: owner, Pick: pick}
	if err := g.state.SetTicket(t); err != nil {
		return 0, err
	}
	owned, err := g.state.GetOwnedTickets(roundID, owner)
	if err != nil {
		return 0, err
	}
	return id, g.state.SetOwnedTickets(roundID, owner, append(owned, id))
}

// Burn deletes a ticket and drops it from its owner's index.
func (g stateRegistry) Burn(id uint64) error {
	t, err := g.state.GetTicket(id)
	if err != nil {
		return notFound(err)
	}
	owned, err := g.state.GetOwnedTickets(t.RoundID, t.Owner)
	if err != nil {
		return err
	}
	if err := g.state.SetOwnedTickets(t.RoundID, t.Owner, without(owned, id)); err != nil {
		return err
	}
	return g.state.DeleteTicket(id)
}

func without(ids []uint64, id uint64) []uint64 {
	kept := make([]uint64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}

func (g stateRegistry) Ticket(id uint64) (lottery.Ticket, error) {
	t, err := g.state.GetTicket(id)
	if err != nil {
		return lottery.Ticket{}, notFound(err)
	}
	return *t, nil
}

func (g stateRegistry) OwnerOf(id uint64) (string, error) {
	t, err := g.Ticket(id)
	if err != nil {
		return "", err
	}
	return t.Owner, nil
}

func (g stateRegistry) TicketsOf(roundID uint64, owner string) ([]uint64, error) {
	return g.state.GetOwnedTickets(roundID, owner)
}

// move reassigns a ticket and keeps both owner indexes in step.
func (g stateRegistry) move(t *lottery.Ticket, to string) error {
	from := t.Owner
	owned, err := g.state.GetOwnedTickets(t.RoundID, from)
	if err != nil {
		return err
	}
	if err := g.state.SetOwnedTickets(t.RoundID, from, without(owned, t.ID)); err != nil {
		return err
	}
	received, err := g.state.GetOwnedTickets(t.RoundID, to)
	if err != nil {
		return err
	}
	if err := g.state.SetOwnedTickets(t.RoundID, to, append(received, t.ID)); err != nil {
		return err
	}
	t.Owner = to
	return g.state.SetTicket(t)
}

// txOracle turns a draw request into an event the oracle service watches. The
// token is derived from the requesting transaction so replays agree on it.
type txOracle struct{ ctx *vm.Context }

func (o txOracle) RequestRandom(roundID uint64, hint string) (string, error) {
	token := crypto.HashParts(o.ctx.Tx.ID, strconv.FormatUint(roundID, 10), hint)
	o.ctx.Emit(events.EventDrawRequested, map[string]any{
		"round_id": roundID,
		"token":    token,
		"hint":     hint,
	})
	return token, nil
}

// Params loads the lottery params, filling defaults for unset fields.
func Params(state core.State) (*core.LotteryParams, error) {
	p, err := state.GetLotteryParams()
	if errors.Is(err, core.ErrNotFound) {
		p = &core.LotteryParams{}
	} else if err != nil {
		return nil, fmt.Errorf("load lottery params: %w", err)
	}
	if p.Codec == (lottery.Codec{}) {
		p.Codec = lottery.DefaultCodec
	}
	if p.MaxTicketsPerBuy <= 0 {
		p.MaxTicketsPerBuy = lottery.DefaultMaxTicketsPerBuy
	}
	if p.Treasury == "" {
		p.Treasury = DefaultTreasury
	}
	return p, nil
}

// NewEngine binds a lottery engine to ctx: chain state for storage, funds and
// tickets, the block timestamp as clock and the genesis allow lists as policy.
func NewEngine(ctx *vm.Context) (*lottery.Engine, error) {
	p, err := Params(ctx.State)
	if err != nil {
		return nil, err
	}
	return lottery.NewEngine(lottery.Config{
		Codec:            p.Codec,
		MaxTicketsPerBuy: p.MaxTicketsPerBuy,
		Treasury:         p.Treasury,
	}, lottery.Deps{
		Store:    stateStore{ctx.State},
		Funds:    stateFunds{ctx.State},
		Registry: stateRegistry{ctx.State},
		Oracle:   txOracle{ctx},
		Clock:    lottery.ClockFunc(ctx.Block.Time),
		Policy:   lottery.NewAllowList(p.Admins, p.Oracles),
		Logger:   ctx.Logger,
	})
}

// errReadOnly is returned by collaborators of a reader engine.
var errReadOnly = errors.New("lottery reader is read-only")

type readOnlyOracle struct{}

func (readOnlyOracle) RequestRandom(uint64, string) (string, error) { return "", errReadOnly }

type readOnlyFunds struct{}

func (readOnlyFunds) Transfer(string, string, uint64) error { return errReadOnly }

// NewReader binds an engine to state for queries outside block execution,
// such as cost quotes and claim previews. Operations that move funds or
// request randomness fail.
func NewReader(state core.State, now func() time.Time, log logrus.FieldLogger) (*lottery.Engine, error) {
	p, err := Params(state)
	if err != nil {
		return nil, err
	}
	return lottery.NewEngine(lottery.Config{
		Codec:            p.Codec,
		MaxTicketsPerBuy: p.MaxTicketsPerBuy,
		Treasury:         p.Treasury,
	}, lottery.Deps{
		Store:    stateStore{state},
		Funds:    readOnlyFunds{},
		Registry: stateRegistry{state},
		Oracle:   readOnlyOracle{},
		Clock:    lottery.ClockFunc(now),
		Policy:   lottery.NewAllowList(p.Admins, p.Oracles),
		Logger:   log,
	})
}
