package lottery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// failingStore fails the chosen calls as many times as their counter says.
type failingStore struct {
	*MemoryStore
	setClaimed int
	putRound   int
	addPicks   int
}

func take(n *int) bool {
	if *n > 0 {
		*n--
		return true
	}
	return false
}

func (s *failingStore) SetClaimed(id uint64) error {
	if take(&s.setClaimed) {
		return errInjected
	}
	return s.MemoryStore.SetClaimed(id)
}

func (s *failingStore) PutRound(r *Round) error {
	if take(&s.putRound) {
		return errInjected
	}
	return s.MemoryStore.PutRound(r)
}

func (s *failingStore) AddPicks(roundID uint64, keys []uint64) error {
	if take(&s.addPicks) {
		return errInjected
	}
	return s.MemoryStore.AddPicks(roundID, keys)
}

// failingRegistry fails the failAt-th call to Mint (1-based).
type failingRegistry struct {
	*MemoryRegistry
	failAt int
	mints  int
}

func (r *failingRegistry) Mint(roundID uint64, owner string, pick Pick) (uint64, error) {
	r.mints++
	if r.mints == r.failAt {
		return 0, errInjected
	}
	return r.MemoryRegistry.Mint(roundID, owner, pick)
}

func newFailingFixture(t *testing.T) (*fixture, *failingStore, *failingRegistry) {
	t.Helper()
	var fs *failingStore
	var fr *failingRegistry
	f := newFixtureWith(t,
		func(s *MemoryStore) Store { fs = &failingStore{MemoryStore: s}; return fs },
		func(r *MemoryRegistry) Registry { fr = &failingRegistry{MemoryRegistry: r}; return fr },
	)
	return f, fs, fr
}

// drawnWithWinner returns a drawn round in which alice holds the only exact
// match (ticket 1, worth 500) and bob holds a losing ticket.
func drawnWithWinner(t *testing.T, f *fixture) uint64 {
	t.Helper()
	id := f.createRound(t)
	f.buy(t, id, "alice", Pick{1, 1, 1, 1})
	f.buy(t, id, "bob", Pick{9, 8, 7, 6})
	f.draw(t, id, 1111)
	return id
}

func TestClaimRetryAfterFlagFailurePaysOnce(t *testing.T) {
	f, fs, _ := newFailingFixture(t)
	id := drawnWithWinner(t, f)

	fs.setClaimed = 1
	_, err := f.eng.Claim(id, 1, "alice")
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, uint64(990), f.funds.Balance("alice"))

	amount, err := f.eng.Claim(id, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), amount)
	assert.Equal(t, uint64(1_490), f.funds.Balance("alice"))

	_, err = f.eng.Claim(id, 1, "alice")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, uint64(1_490), f.funds.Balance("alice"))
}

func TestClaimUndoesPayoutWhenRoundWriteFails(t *testing.T) {
	f, fs, _ := newFailingFixture(t)
	id := drawnWithWinner(t, f)
	treasury := f.funds.Balance(testTreasury)

	fs.putRound = 1
	_, err := f.eng.Claim(id, 1, "alice")
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, uint64(990), f.funds.Balance("alice"))
	assert.Equal(t, treasury, f.funds.Balance(testTreasury))
	claimed, err := f.store.IsClaimed(1)
	require.NoError(t, err)
	assert.False(t, claimed)
	r, err := f.eng.Round(id)
	require.NoError(t, err)
	assert.Zero(t, r.ClaimedCount)

	amount, err := f.eng.Claim(id, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), amount)
	assert.Equal(t, uint64(1_490), f.funds.Balance("alice"))
}

func TestBuyTicketsUndoesFailedMint(t *testing.T) {
	f, _, fr := newFailingFixture(t)
	id := f.createRound(t)

	fr.failAt = 2
	_, err := f.eng.BuyTickets(id, []Pick{{1, 2, 3, 4}, {5, 6, 7, 8}}, "alice")
	require.ErrorIs(t, err, errInjected)

	assert.Equal(t, uint64(1_000), f.funds.Balance("alice"))
	assert.Zero(t, f.reg.Len(), "no orphan tickets")
	owned, err := f.eng.TicketsOf(id, "alice")
	require.NoError(t, err)
	assert.Empty(t, owned)
	r, err := f.eng.Round(id)
	require.NoError(t, err)
	assert.Zero(t, r.TicketsSold)
	tally, err := f.store.PickCounts(id)
	require.NoError(t, err)
	assert.Empty(t, tally)

	ids := f.buy(t, id, "alice", Pick{1, 2, 3, 4}, Pick{5, 6, 7, 8})
	assert.Len(t, ids, 2)
	assert.Equal(t, uint64(980), f.funds.Balance("alice"))
}

func TestBuyTicketsUndoesLateFailures(t *testing.T) {
	for name, arm := range map[string]func(*failingStore){
		"tally":       func(s *failingStore) { s.addPicks = 1 },
		"round write": func(s *failingStore) { s.putRound = 1 },
	} {
		t.Run(name, func(t *testing.T) {
			f, fs, _ := newFailingFixture(t)
			id := f.createRound(t)
			treasury := f.funds.Balance(testTreasury)

			arm(fs)
			_, err := f.eng.BuyTickets(id, []Pick{{1, 2, 3, 4}, {1, 2, 3, 4}}, "alice")
			require.ErrorIs(t, err, errInjected)

			assert.Equal(t, uint64(1_000), f.funds.Balance("alice"))
			assert.Equal(t, treasury, f.funds.Balance(testTreasury))
			assert.Zero(t, f.reg.Len())
			tally, err := f.store.PickCounts(id)
			require.NoError(t, err)
			assert.Empty(t, tally)
		})
	}
}

func TestCreateRoundRefundsPoolWhenStoreFails(t *testing.T) {
	f, fs, _ := newFailingFixture(t)
	fs.putRound = 1
	_, _, err := f.eng.CreateRound(f.spec(Distribution{5000, 3000, 2000}), testAdmin)
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, uint64(10_000), f.funds.Balance(testAdmin))
	assert.Zero(t, f.funds.Balance(testTreasury))
}
