package lottery

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxTicketsPerBuy caps a single BuyTickets call.
const DefaultMaxTicketsPerBuy = 50

// Funds moves currency between accounts.
type Funds interface {
	Transfer(from, to string, amount uint64) error
}

// Registry owns tickets. Unknown ids fail with ErrNotFound.
type Registry interface {
	Mint(roundID uint64, owner string, pick Pick) (uint64, error)
	// Burn removes a ticket minted by a sale that did not complete.
	Burn(id uint64) error
	Ticket(id uint64) (Ticket, error)
	OwnerOf(id uint64) (string, error)
	TicketsOf(roundID uint64, owner string) ([]uint64, error)
}

// Oracle accepts randomness requests. The value arrives later through
// Engine.OnRandomnessDelivered carrying the returned token.
type Oracle interface {
	RequestRandom(roundID uint64, hint string) (string, error)
}

// Clock is the engine's time source.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Store persists rounds, claim flags and the per-pick sales tally of each
// round. Unknown rounds fail with ErrNotFound.
type Store interface {
	NextRoundID() (uint64, error)
	GetRound(id uint64) (*Round, error)
	PutRound(r *Round) error

	IsClaimed(ticketID uint64) (bool, error)
	SetClaimed(ticketID uint64) error
	ClearClaimed(ticketID uint64) error

	// AddPicks counts one sold ticket per encoded pick in keys and
	// RemovePicks takes them back. Both apply every key or none.
	AddPicks(roundID uint64, keys []uint64) error
	RemovePicks(roundID uint64, keys []uint64) error
	// PickCounts returns encoded pick -> tickets sold for round.
	PickCounts(roundID uint64) (map[uint64]uint64, error)
}

// Config holds the engine parameters fixed for its lifetime.
type Config struct {
	Codec            Codec
	MaxTicketsPerBuy int
	// Treasury is the account holding prize pools and ticket revenue.
	Treasury string
}

// Deps bundles the collaborators of an Engine.
type Deps struct {
	Store    Store
	Funds    Funds
	Registry Registry
	Oracle   Oracle
	Clock    Clock
	Policy   Policy
	Logger   logrus.FieldLogger
}

// Engine runs rounds: creation, sales, draws and claims. Mutations on one
// round are serialised; different rounds proceed independently.
type Engine struct {
	cfg      Config
	store    Store
	funds    Funds
	registry Registry
	oracle   Oracle
	clock    Clock
	policy   Policy
	log      logrus.FieldLogger

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

// NewEngine validates cfg and wires the collaborators.
func NewEngine(cfg Config, d Deps) (*Engine, error) {
	if cfg.Codec == (Codec{}) {
		cfg.Codec = DefaultCodec
	}
	if err := cfg.Codec.Check(); err != nil {
		return nil, err
	}
	if cfg.MaxTicketsPerBuy <= 0 {
		cfg.MaxTicketsPerBuy = DefaultMaxTicketsPerBuy
	}
	if cfg.Treasury == "" {
		return nil, errors.New("engine treasury account is required")
	}
	if d.Store == nil || d.Funds == nil || d.Registry == nil || d.Oracle == nil || d.Policy == nil {
		return nil, errors.New("engine collaborators are incomplete")
	}
	if d.Clock == nil {
		d.Clock = ClockFunc(time.Now)
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	return &Engine{
		cfg:      cfg,
		store:    d.Store,
		funds:    d.Funds,
		registry: d.Registry,
		oracle:   d.Oracle,
		clock:    d.Clock,
		policy:   d.Policy,
		log:      d.Logger.WithField("component", "lottery"),
		locks:    make(map[uint64]*sync.Mutex),
	}, nil
}

// Codec returns the pick codec of the engine.
func (e *Engine) Codec() Codec { return e.cfg.Codec }

func (e *Engine) lock(roundID uint64) func() {
	e.mu.Lock()
	l, ok := e.locks[roundID]
	if !ok {
		l = new(sync.Mutex)
		e.locks[roundID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (e *Engine) loadRound(id uint64) (*Round, error) {
	r, err := e.store.GetRound(id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: round %d does not exist", ErrInvalidState, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load round %d: %w", id, err)
	}
	return r, nil
}

// Round returns a copy of round id.
func (e *Engine) Round(id uint64) (*Round, error) {
	return e.loadRound(id)
}

// Phase returns the current phase of round id.
func (e *Engine) Phase(id uint64) (Phase, error) {
	r, err := e.loadRound(id)
	if err != nil {
		return 0, err
	}
	return r.Phase(e.clock.Now()), nil
}

// CreateRound validates spec, pulls the prize pool from caller into the
// treasury and stores a new round. The round id is allocated only after every
// check has passed. The returned phase is Created when the round starts now
// or later.
func (e *Engine) CreateRound(spec RoundSpec, caller string) (uint64, Phase, error) {
	if !e.policy.IsAdmin(caller) {
		return 0, 0, fmt.Errorf("%w: %s is not an admin", ErrUnauthorized, caller)
	}
	if err := ValidateDistribution(spec.Distribution, e.cfg.Codec); err != nil {
		return 0, 0, err
	}
	if spec.PrizePool == 0 || spec.TicketCost == 0 {
		return 0, 0, fmt.Errorf("%w: prize pool %d, ticket cost %d", ErrInvalidPricing, spec.PrizePool, spec.TicketCost)
	}
	if hi, _ := bits.Mul64(spec.PrizePool, PercentUnit); hi != 0 {
		return 0, 0, fmt.Errorf("%w: prize pool %d too large", ErrInvalidPricing, spec.PrizePool)
	}
	if spec.StartTime >= spec.EndTime {
		return 0, 0, fmt.Errorf("%w: start %d not before end %d", ErrInvalidWindow, spec.StartTime, spec.EndTime)
	}

	if err := e.funds.Transfer(caller, e.cfg.Treasury, spec.PrizePool); err != nil {
		return 0, 0, fmt.Errorf("fund prize pool: %w", err)
	}
	undo := &undoLog{log: e.log}
	undo.push("refund prize pool", func() error {
		return e.funds.Transfer(e.cfg.Treasury, caller, spec.PrizePool)
	})
	id, err := e.store.NextRoundID()
	if err != nil {
		undo.rollback()
		return 0, 0, fmt.Errorf("allocate round id: %w", err)
	}

	now := e.clock.Now()
	r := &Round{
		ID:           id,
		Admin:        caller,
		Distribution: append(Distribution(nil), spec.Distribution...),
		PrizePool:    spec.PrizePool,
		TicketCost:   spec.TicketCost,
		StartTime:    spec.StartTime,
		EndTime:      spec.EndTime,
	}
	r.CreatedPhase = PhaseCreated
	if spec.StartTime < now.Unix() {
		r.CreatedPhase = r.Phase(now)
	}
	if err := e.store.PutRound(r); err != nil {
		undo.rollback()
		return 0, 0, fmt.Errorf("store round %d: %w", id, err)
	}

	e.log.WithFields(logrus.Fields{
		"round":      id,
		"admin":      caller,
		"prize_pool": spec.PrizePool,
		"phase":      r.CreatedPhase,
	}).Info("lottery round created")
	return id, r.CreatedPhase, nil
}

// CostToBuy prices count tickets of round id at the current time.
func (e *Engine) CostToBuy(id, count uint64) (uint64, error) {
	r, err := e.loadRound(id)
	if err != nil {
		return 0, err
	}
	return CostToBuy(r, count, e.clock.Now())
}

// BuyTickets charges buyer for one ticket per pick and mints them. Either
// every ticket is sold or none is: when a step fails after tickets were minted
// or the buyer was charged, those effects are undone before returning.
func (e *Engine) BuyTickets(id uint64, picks []Pick, buyer string) ([]uint64, error) {
	unlock := e.lock(id)
	defer unlock()

	r, err := e.loadRound(id)
	if err != nil {
		return nil, err
	}
	cost, err := CostToBuy(r, uint64(len(picks)), e.clock.Now())
	if err != nil {
		return nil, err
	}
	if len(picks) > e.cfg.MaxTicketsPerBuy {
		return nil, fmt.Errorf("%w: %d tickets exceed the limit of %d", ErrInvalidCount, len(picks), e.cfg.MaxTicketsPerBuy)
	}
	keys := make([]uint64, len(picks))
	for i, p := range picks {
		if keys[i], err = e.cfg.Codec.Encode(p); err != nil {
			return nil, fmt.Errorf("ticket %d: %w", i, err)
		}
	}
	if err := r.checkSale(uint64(len(picks)), cost); err != nil {
		return nil, err
	}

	undo := &undoLog{log: e.log.WithFields(logrus.Fields{"round": id, "buyer": buyer})}
	ids := make([]uint64, 0, len(picks))
	for i, p := range picks {
		tid, err := e.registry.Mint(id, buyer, p)
		if err != nil {
			undo.rollback()
			return nil, fmt.Errorf("mint ticket %d: %w", i, err)
		}
		ids = append(ids, tid)
		undo.push("burn ticket", func() error { return e.registry.Burn(tid) })
	}
	if err := e.funds.Transfer(buyer, e.cfg.Treasury, cost); err != nil {
		undo.rollback()
		return nil, fmt.Errorf("pay for tickets: %w", err)
	}
	undo.push("refund buyer", func() error { return e.funds.Transfer(e.cfg.Treasury, buyer, cost) })
	if err := e.store.AddPicks(id, keys); err != nil {
		undo.rollback()
		return nil, fmt.Errorf("tally picks of round %d: %w", id, err)
	}
	undo.push("untally picks", func() error { return e.store.RemovePicks(id, keys) })
	r.recordSale(uint64(len(keys)), cost)
	if err := e.store.PutRound(r); err != nil {
		undo.rollback()
		return nil, fmt.Errorf("store round %d: %w", id, err)
	}

	e.log.WithFields(logrus.Fields{
		"round": id,
		"buyer": buyer,
		"count": len(picks),
		"cost":  cost,
	}).Debug("tickets bought")
	return ids, nil
}

// RequestDraw asks the oracle for randomness for a closed round and records
// the pending token. Requesting again before delivery replaces the token; the
// old one is no longer accepted.
func (e *Engine) RequestDraw(id uint64, hint, caller string) (string, error) {
	if !e.policy.IsAdmin(caller) {
		return "", fmt.Errorf("%w: %s is not an admin", ErrUnauthorized, caller)
	}
	unlock := e.lock(id)
	defer unlock()

	r, err := e.loadRound(id)
	if err != nil {
		return "", err
	}
	now := e.clock.Now()
	if p := r.Phase(now); p != PhaseClosed {
		return "", fmt.Errorf("%w: round %d is %s, not closed", ErrInvalidState, id, p)
	}
	token, err := e.oracle.RequestRandom(id, hint)
	if err != nil {
		return "", fmt.Errorf("request randomness: %w", err)
	}
	if r.Draw != nil {
		e.log.WithFields(logrus.Fields{"round": id, "token": r.Draw.Token}).Warn("superseding pending draw request")
	}
	r.Draw = &DrawRequest{Token: token, Hint: hint, RequestedAt: now.Unix()}
	if err := e.store.PutRound(r); err != nil {
		return "", fmt.Errorf("store round %d: %w", id, err)
	}

	e.log.WithFields(logrus.Fields{"round": id, "token": token}).Info("draw requested")
	return token, nil
}

// OnRandomnessDelivered consumes the oracle's value for the pending request
// identified by token, records the winning pick and tallies winners per tier.
// A round is drawn at most once.
func (e *Engine) OnRandomnessDelivered(id uint64, token string, value []byte, caller string) (Pick, error) {
	if !e.policy.IsOracle(caller) {
		return nil, fmt.Errorf("%w: %s is not an oracle", ErrUnauthorized, caller)
	}
	unlock := e.lock(id)
	defer unlock()

	r, err := e.loadRound(id)
	if err != nil {
		return nil, err
	}
	if r.Drawn() {
		return nil, fmt.Errorf("%w: round %d already drawn", ErrInvalidState, id)
	}
	if r.Draw == nil {
		return nil, fmt.Errorf("%w: round %d has no pending draw", ErrInvalidState, id)
	}
	if r.Draw.Token != token {
		return nil, fmt.Errorf("%w: unknown draw token for round %d", ErrInvalidState, id)
	}
	now := e.clock.Now()
	if p := r.Phase(now); p != PhaseClosed {
		return nil, fmt.Errorf("%w: round %d is %s, not closed", ErrInvalidState, id, p)
	}

	pick, err := e.cfg.Codec.FromRandom(value)
	if err != nil {
		return nil, err
	}
	counts, err := e.store.PickCounts(id)
	if err != nil {
		return nil, fmt.Errorf("load pick tally of round %d: %w", id, err)
	}
	if err := r.recordDraw(e.cfg.Codec, pick, r.Distribution, counts); err != nil {
		return nil, err
	}
	r.WinningPick = pick
	r.DrawnAt = now.Unix()
	if err := e.store.PutRound(r); err != nil {
		return nil, fmt.Errorf("store round %d: %w", id, err)
	}

	e.log.WithFields(logrus.Fields{
		"round":   id,
		"pick":    pick.String(),
		"winners": r.WinnerCounts,
	}).Info("randomness delivered")
	return pick, nil
}

// Claimable describes what a ticket would receive if claimed now.
type Claimable struct {
	RoundID  uint64 `json:"round_id"`
	TicketID uint64 `json:"ticket_id"`
	Tier     int    `json:"tier"`
	Amount   uint64 `json:"amount"`
	Claimed  bool   `json:"claimed"`
}

func (e *Engine) ticketOf(r *Round, ticketID uint64) (Ticket, error) {
	t, err := e.registry.Ticket(ticketID)
	if errors.Is(err, ErrNotFound) {
		return Ticket{}, fmt.Errorf("%w: ticket %d does not exist", ErrInvalidState, ticketID)
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("load ticket %d: %w", ticketID, err)
	}
	if t.RoundID != r.ID {
		return Ticket{}, fmt.Errorf("%w: ticket %d belongs to round %d", ErrInvalidState, ticketID, t.RoundID)
	}
	return t, nil
}

// payout resolves the tier and amount of t in a drawn round.
func (e *Engine) payout(r *Round, t Ticket) (int, uint64, error) {
	tier, err := BestTier(e.cfg.Codec, r.WinningPick, t.Pick, r.Distribution)
	if err != nil {
		return NoTier, 0, err
	}
	if tier == NoTier {
		return NoTier, 0, fmt.Errorf("%w: ticket %d", ErrNoTier, t.ID)
	}
	amount, err := ClaimableAmount(r, tier, r.WinnersAt(tier))
	if err != nil {
		return tier, 0, err
	}
	return tier, amount, nil
}

// Preview reports the tier and amount of a ticket without claiming it.
func (e *Engine) Preview(id, ticketID uint64) (Claimable, error) {
	r, err := e.loadRound(id)
	if err != nil {
		return Claimable{}, err
	}
	t, err := e.ticketOf(r, ticketID)
	if err != nil {
		return Claimable{}, err
	}
	if !r.Drawn() {
		return Claimable{}, fmt.Errorf("%w: round %d is not drawn", ErrInvalidState, id)
	}
	claimed, err := e.store.IsClaimed(ticketID)
	if err != nil {
		return Claimable{}, fmt.Errorf("load claim flag: %w", err)
	}
	c := Claimable{RoundID: id, TicketID: ticketID, Tier: NoTier, Claimed: claimed}
	tier, amount, err := e.payout(r, t)
	if errors.Is(err, ErrNoTier) {
		return c, nil
	}
	if err != nil {
		return Claimable{}, err
	}
	c.Tier, c.Amount = tier, amount
	return c, nil
}

// Claim marks a winning ticket claimed and pays its owner the share of the
// tier. All checks run before any transfer or state change. The flag is set
// before the payout and cleared again only if the payout is undone, so a
// ticket never pays twice.
func (e *Engine) Claim(id, ticketID uint64, caller string) (uint64, error) {
	unlock := e.lock(id)
	defer unlock()

	r, err := e.loadRound(id)
	if err != nil {
		return 0, err
	}
	t, err := e.ticketOf(r, ticketID)
	if err != nil {
		return 0, err
	}
	if !r.Drawn() {
		return 0, fmt.Errorf("%w: round %d is %s, not drawn", ErrInvalidState, id, r.Phase(e.clock.Now()))
	}
	owner, err := e.registry.OwnerOf(ticketID)
	if err != nil {
		return 0, fmt.Errorf("owner of ticket %d: %w", ticketID, err)
	}
	if owner != caller {
		return 0, fmt.Errorf("%w: %s does not own ticket %d", ErrUnauthorized, caller, ticketID)
	}
	claimed, err := e.store.IsClaimed(ticketID)
	if err != nil {
		return 0, fmt.Errorf("load claim flag: %w", err)
	}
	if claimed {
		return 0, fmt.Errorf("%w: ticket %d", ErrAlreadyClaimed, ticketID)
	}
	tier, amount, err := e.payout(r, t)
	if err != nil {
		return 0, err
	}

	if err := e.store.SetClaimed(ticketID); err != nil {
		return 0, fmt.Errorf("mark ticket %d claimed: %w", ticketID, err)
	}
	undo := &undoLog{log: e.log.WithFields(logrus.Fields{"round": id, "ticket": ticketID})}
	undo.push("clear claim flag", func() error { return e.store.ClearClaimed(ticketID) })
	if amount > 0 {
		if err := e.funds.Transfer(e.cfg.Treasury, owner, amount); err != nil {
			undo.rollback()
			return 0, fmt.Errorf("pay prize: %w", err)
		}
		undo.push("recover prize", func() error { return e.funds.Transfer(owner, e.cfg.Treasury, amount) })
	}
	r.recordClaim(amount)
	if err := e.store.PutRound(r); err != nil {
		undo.rollback()
		return 0, fmt.Errorf("store round %d: %w", id, err)
	}

	e.log.WithFields(logrus.Fields{
		"round":  id,
		"ticket": ticketID,
		"tier":   tier,
		"amount": amount,
	}).Info("prize claimed")
	return amount, nil
}

// TicketsOf lists the tickets owner holds in round id.
func (e *Engine) TicketsOf(id uint64, owner string) ([]uint64, error) {
	if _, err := e.loadRound(id); err != nil {
		return nil, err
	}
	return e.registry.TicketsOf(id, owner)
}
