package core

import "github.com/tolelom/tolotto/lottery"

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// LotteryParams are the chain-wide lottery settings written at genesis.
type LotteryParams struct {
	Admins           []string      `json:"admins"`  // pubkey hexes allowed to create and draw rounds
	Oracles          []string      `json:"oracles"` // pubkey hexes allowed to deliver randomness
	Codec            lottery.Codec `json:"codec"`
	MaxTicketsPerBuy int           `json:"max_tickets_per_buy"`
	// Treasury is the account holding prize pools and ticket revenue. It has
	// no private key; only the lottery handlers move funds out of it.
	Treasury string `json:"treasury"`
}

// Sequence names used with State.NextSequence.
const (
	SeqRound  = "round"
	SeqTicket = "ticket"
)

// State is the full chain state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Lottery rounds
	GetRound(id uint64) (*lottery.Round, error)
	SetRound(r *lottery.Round) error

	// Tickets and the per-round owner index
	GetTicket(id uint64) (*lottery.Ticket, error)
	SetTicket(t *lottery.Ticket) error
	DeleteTicket(id uint64) error
	GetOwnedTickets(roundID uint64, owner string) ([]uint64, error)
	SetOwnedTickets(roundID uint64, owner string, ids []uint64) error

	// Claim flags
	IsClaimed(ticketID uint64) (bool, error)
	SetClaimed(ticketID uint64) error
	ClearClaimed(ticketID uint64) error

	// Per-round sales tally keyed by encoded pick
	AddPicks(roundID uint64, keys []uint64) error
	RemovePicks(roundID uint64, keys []uint64) error
	GetPickCounts(roundID uint64) (map[uint64]uint64, error)

	// NextSequence increments and returns the named counter; the first value
	// is 1.
	NextSequence(name string) (uint64, error)

	GetLotteryParams() (*LotteryParams, error)
	SetLotteryParams(p *LotteryParams) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
