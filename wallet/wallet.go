package wallet

import (
	"encoding/hex"

	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/crypto"
	"github.com/tolelom/tolotto/lottery"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// FromHex creates a Wallet from a hex-encoded seed or private key.
func FromHex(s string) (*Wallet, error) {
	priv, err := crypto.PrivKeyFromHex(s)
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// NewTx creates a signed transaction. chainID must match the target network.
// nonce should match the account's current nonce.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed transfer transaction.
func (w *Wallet) Transfer(chainID, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxTransfer, nonce, fee, core.TransferPayload{
		To:     to,
		Amount: amount,
	})
}

// CreateRound creates a signed create_round transaction funding the pool from
// this wallet.
func (w *Wallet) CreateRound(chainID string, spec lottery.RoundSpec, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxCreateRound, nonce, fee, core.CreateRoundPayload{
		Distribution: spec.Distribution,
		PrizePool:    spec.PrizePool,
		TicketCost:   spec.TicketCost,
		StartTime:    spec.StartTime,
		EndTime:      spec.EndTime,
	})
}

// BuyTickets creates a signed buy_tickets transaction with one ticket per pick.
func (w *Wallet) BuyTickets(chainID string, roundID uint64, picks []lottery.Pick, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxBuyTickets, nonce, fee, core.BuyTicketsPayload{
		RoundID: roundID,
		Picks:   picks,
	})
}

// RequestDraw creates a signed request_draw transaction.
func (w *Wallet) RequestDraw(chainID string, roundID uint64, hint string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxRequestDraw, nonce, fee, core.RequestDrawPayload{
		RoundID: roundID,
		Hint:    hint,
	})
}

// DeliverRandomness proves randomness over token with this wallet's key and
// wraps it in a signed deliver_randomness transaction.
func (w *Wallet) DeliverRandomness(chainID string, roundID uint64, token string, nonce, fee uint64) (*core.Transaction, error) {
	proof, value, err := crypto.VRFProve(w.priv, []byte(token))
	if err != nil {
		return nil, err
	}
	return w.NewTx(chainID, core.TxDeliverRandomness, nonce, fee, core.DeliverRandomnessPayload{
		RoundID: roundID,
		Token:   token,
		Value:   hex.EncodeToString(value),
		Proof:   hex.EncodeToString(proof),
	})
}

// ClaimPrize creates a signed claim_prize transaction.
func (w *Wallet) ClaimPrize(chainID string, roundID, ticketID, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxClaimPrize, nonce, fee, core.ClaimPrizePayload{
		RoundID:  roundID,
		TicketID: ticketID,
	})
}

// TransferTicket creates a signed transfer_ticket transaction.
func (w *Wallet) TransferTicket(chainID string, ticketID uint64, to string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxTransferTicket, nonce, fee, core.TransferTicketPayload{
		TicketID: ticketID,
		To:       to,
	})
}
