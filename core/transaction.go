package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolotto/crypto"
	"github.com/tolelom/tolotto/lottery"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer          TxType = "transfer"
	TxCreateRound       TxType = "create_round"
	TxBuyTickets        TxType = "buy_tickets"
	TxRequestDraw       TxType = "request_draw"
	TxDeliverRandomness TxType = "deliver_randomness"
	TxClaimPrize        TxType = "claim_prize"
	TxTransferTicket    TxType = "transfer_ticket"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature, that From is a valid public key and that ID
// matches the signed body.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	hash := tx.Hash()
	if tx.ID != hash {
		return errors.New("tx id does not match its body")
	}
	return crypto.Verify(pub, []byte(hash), tx.Signature)
}

// DecodePayload unmarshals the payload into v.
func (tx *Transaction) DecodePayload(v any) error {
	if err := json.Unmarshal(tx.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", tx.Type, err)
	}
	return nil
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// CreateRoundPayload opens a new lottery round funded by the sender.
type CreateRoundPayload struct {
	Distribution []uint32 `json:"distribution"` // basis points, tier 0 first
	PrizePool    uint64   `json:"prize_pool"`
	TicketCost   uint64   `json:"ticket_cost"`
	StartTime    int64    `json:"start_time"` // unix seconds
	EndTime      int64    `json:"end_time"`   // unix seconds
}

// Spec converts the payload to the engine's round input.
func (p CreateRoundPayload) Spec() lottery.RoundSpec {
	return lottery.RoundSpec{
		Distribution: lottery.Distribution(p.Distribution),
		PrizePool:    p.PrizePool,
		TicketCost:   p.TicketCost,
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
	}
}

// BuyTicketsPayload buys one ticket per pick.
type BuyTicketsPayload struct {
	RoundID uint64         `json:"round_id"`
	Picks   []lottery.Pick `json:"picks"`
}

// RequestDrawPayload asks the oracle for the randomness of a closed round.
type RequestDrawPayload struct {
	RoundID uint64 `json:"round_id"`
	Hint    string `json:"hint"`
}

// DeliverRandomnessPayload answers a draw request. Proof is the oracle's
// hex-encoded VRF proof over the request token; Value must be the output
// derived from it.
type DeliverRandomnessPayload struct {
	RoundID uint64 `json:"round_id"`
	Token   string `json:"token"`
	Value   string `json:"value"` // hex
	Proof   string `json:"proof"` // hex
}

// ClaimPrizePayload redeems a winning ticket.
type ClaimPrizePayload struct {
	RoundID  uint64 `json:"round_id"`
	TicketID uint64 `json:"ticket_id"`
}

// TransferTicketPayload moves a ticket to a new owner.
type TransferTicketPayload struct {
	TicketID uint64 `json:"ticket_id"`
	To       string `json:"to"` // recipient pubkey hex
}
