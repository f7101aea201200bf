package lottery

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// In-memory collaborators for tests and embedding.

// ErrInsufficientFunds is returned by MemoryFunds when a debit exceeds the
// balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// MemoryStore is a Store backed by maps.
type MemoryStore struct {
	mu      sync.RWMutex
	next    uint64
	rounds  map[uint64]*Round
	claimed map[uint64]bool
	picks   map[uint64]map[uint64]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:  make(map[uint64]*Round),
		claimed: make(map[uint64]bool),
		picks:   make(map[uint64]map[uint64]uint64),
	}
}

func (s *MemoryStore) NextRoundID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next, nil
}

func (s *MemoryStore) GetRound(id uint64) (*Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %d: %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) PutRound(r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) IsClaimed(ticketID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claimed[ticketID], nil
}

func (s *MemoryStore) SetClaimed(ticketID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed[ticketID] = true
	return nil
}

func (s *MemoryStore) ClearClaimed(ticketID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, ticketID)
	return nil
}

func (s *MemoryStore) AddPicks(roundID uint64, keys []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tally, ok := s.picks[roundID]
	if !ok {
		tally = make(map[uint64]uint64)
		s.picks[roundID] = tally
	}
	for _, k := range keys {
		tally[k]++
	}
	return nil
}

func (s *MemoryStore) RemovePicks(roundID uint64, keys []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tally := s.picks[roundID]
	need := make(map[uint64]uint64, len(keys))
	for _, k := range keys {
		need[k]++
	}
	for k, n := range need {
		if tally[k] < n {
			return fmt.Errorf("round %d: pick %d sold %d times, cannot remove %d", roundID, k, tally[k], n)
		}
	}
	for k, n := range need {
		if tally[k] -= n; tally[k] == 0 {
			delete(tally, k)
		}
	}
	return nil
}

func (s *MemoryStore) PickCounts(roundID uint64) (map[uint64]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]uint64, len(s.picks[roundID]))
	for k, n := range s.picks[roundID] {
		out[k] = n
	}
	return out, nil
}

// RoundCount returns how many rounds have been stored.
func (s *MemoryStore) RoundCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rounds)
}

// MemoryFunds is a Funds ledger of plain balances.
type MemoryFunds struct {
	mu       sync.Mutex
	balances map[string]uint64
	log      []Transfer
}

// Transfer is one successful movement recorded by MemoryFunds.
type Transfer struct {
	From   string
	To     string
	Amount uint64
}

func NewMemoryFunds() *MemoryFunds {
	return &MemoryFunds{balances: make(map[string]uint64)}
}

// Credit mints amount into account.
func (f *MemoryFunds) Credit(account string, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[account] += amount
}

func (f *MemoryFunds) Balance(account string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account]
}

func (f *MemoryFunds) Transfer(from, to string, amount uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, f.balances[from], amount)
	}
	f.balances[from] -= amount
	f.balances[to] += amount
	f.log = append(f.log, Transfer{From: from, To: to, Amount: amount})
	return nil
}

// Transfers returns every successful transfer in order.
func (f *MemoryFunds) Transfers() []Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Transfer(nil), f.log...)
}

// MemoryRegistry is a Registry with global ticket ids starting at 1.
type MemoryRegistry struct {
	mu      sync.RWMutex
	next    uint64
	tickets map[uint64]Ticket
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{tickets: make(map[uint64]Ticket)}
}

func (m *MemoryRegistry) Mint(roundID uint64, owner string, pick Pick) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.tickets[m.next] = Ticket{ID: m.next, RoundID: roundID, Owner: owner, Pick: append(Pick(nil), pick...)}
	return m.next, nil
}

func (m *MemoryRegistry) Burn(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[id]; !ok {
		return fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	delete(m.tickets, id)
	return nil
}

// Len returns the number of live tickets.
func (m *MemoryRegistry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tickets)
}

func (m *MemoryRegistry) Ticket(id uint64) (Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return Ticket{}, fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	return t, nil
}

func (m *MemoryRegistry) OwnerOf(id uint64) (string, error) {
	t, err := m.Ticket(id)
	if err != nil {
		return "", err
	}
	return t.Owner, nil
}

func (m *MemoryRegistry) TicketsOf(roundID uint64, owner string) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []uint64
	for id, t := range m.tickets {
		if t.RoundID == roundID && t.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Move reassigns a ticket to a new owner.
func (m *MemoryRegistry) Move(id uint64, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	t.Owner = to
	m.tickets[id] = t
	return nil
}

// ManualOracle hands out sequential tokens and remembers every request so a
// test can deliver values when it chooses.
type ManualOracle struct {
	mu       sync.Mutex
	seq      uint64
	requests []OracleRequest
}

// OracleRequest is one call to ManualOracle.RequestRandom.
type OracleRequest struct {
	RoundID uint64
	Hint    string
	Token   string
}

func (o *ManualOracle) RequestRandom(roundID uint64, hint string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	token := fmt.Sprintf("req-%d-%d", roundID, o.seq)
	o.requests = append(o.requests, OracleRequest{RoundID: roundID, Hint: hint, Token: token})
	return token, nil
}

// Requests returns the requests made so far.
func (o *ManualOracle) Requests() []OracleRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OracleRequest(nil), o.requests...)
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(t time.Time) *ManualClock { return &ManualClock{now: t} }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
