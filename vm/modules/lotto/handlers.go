// Package lotto registers the lottery transaction handlers. Every handler
// builds a lottery.Engine over the transaction's state snapshot, so a failed
// engine call leaves no trace once the executor reverts.
package lotto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/crypto"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/lottery"
	"github.com/tolelom/tolotto/vm"
)

func init() {
	vm.Register(core.TxCreateRound, handleCreateRound)
	vm.Register(core.TxBuyTickets, handleBuyTickets)
	vm.Register(core.TxRequestDraw, handleRequestDraw)
	vm.Register(core.TxDeliverRandomness, handleDeliverRandomness)
	vm.Register(core.TxClaimPrize, handleClaimPrize)
	vm.Register(core.TxTransferTicket, handleTransferTicket)
}

// CreateRoundResult is the receipt result of create_round.
type CreateRoundResult struct {
	RoundID uint64        `json:"round_id"`
	Phase   lottery.Phase `json:"phase"`
}

// BuyTicketsResult is the receipt result of buy_tickets.
type BuyTicketsResult struct {
	TicketIDs []uint64 `json:"ticket_ids"`
	Cost      uint64   `json:"cost"`
}

// RequestDrawResult is the receipt result of request_draw.
type RequestDrawResult struct {
	Token string `json:"token"`
}

// DeliverRandomnessResult is the receipt result of deliver_randomness.
type DeliverRandomnessResult struct {
	WinningPick lottery.Pick `json:"winning_pick"`
}

// ClaimPrizeResult is the receipt result of claim_prize.
type ClaimPrizeResult struct {
	Amount uint64 `json:"amount"`
}

func handleCreateRound(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateRoundPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_round payload: %w", err)
	}
	eng, err := NewEngine(ctx)
	if err != nil {
		return err
	}
	id, phase, err := eng.CreateRound(p.Spec(), ctx.Tx.From)
	if err != nil {
		return err
	}
	ctx.Emit(events.EventRoundCreated, map[string]any{
		"round_id":    id,
		"phase":       phase.String(),
		"admin":       ctx.Tx.From,
		"prize_pool":  p.PrizePool,
		"ticket_cost": p.TicketCost,
		"start_time":  p.StartTime,
		"end_time":    p.EndTime,
	})
	ctx.SetResult(CreateRoundResult{RoundID: id, Phase: phase})
	return nil
}

func handleBuyTickets(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BuyTicketsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode buy_tickets payload: %w", err)
	}
	eng, err := NewEngine(ctx)
	if err != nil {
		return err
	}
	cost, err := eng.CostToBuy(p.RoundID, uint64(len(p.Picks)))
	if err != nil {
		return err
	}
	ids, err := eng.BuyTickets(p.RoundID, p.Picks, ctx.Tx.From)
	if err != nil {
		return err
	}
	ctx.Emit(events.EventTicketsBought, map[string]any{
		"round_id":   p.RoundID,
		"buyer":      ctx.Tx.From,
		"ticket_ids": ids,
		"cost":       cost,
	})
	ctx.SetResult(BuyTicketsResult{TicketIDs: ids, Cost: cost})
	return nil
}

func handleRequestDraw(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RequestDrawPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode request_draw payload: %w", err)
	}
	eng, err := NewEngine(ctx)
	if err != nil {
		return err
	}
	token, err := eng.RequestDraw(p.RoundID, p.Hint, ctx.Tx.From)
	if err != nil {
		return err
	}
	ctx.SetResult(RequestDrawResult{Token: token})
	return nil
}

func handleDeliverRandomness(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DeliverRandomnessPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode deliver_randomness payload: %w", err)
	}
	params, err := Params(ctx.State)
	if err != nil {
		return err
	}
	if !lottery.NewAllowList(params.Admins, params.Oracles).IsOracle(ctx.Tx.From) {
		return fmt.Errorf("%w: %s is not an oracle", lottery.ErrUnauthorized, ctx.Tx.From)
	}
	value, err := verifyRandomness(ctx.Tx.From, p)
	if err != nil {
		return err
	}

	eng, err := NewEngine(ctx)
	if err != nil {
		return err
	}
	pick, err := eng.OnRandomnessDelivered(p.RoundID, p.Token, value, ctx.Tx.From)
	if err != nil {
		return err
	}
	r, err := eng.Round(p.RoundID)
	if err != nil {
		return err
	}
	ctx.Emit(events.EventRandomnessDelivered, map[string]any{
		"round_id":      p.RoundID,
		"token":         p.Token,
		"winning_pick":  pick.String(),
		"winner_counts": r.WinnerCounts,
	})
	ctx.SetResult(DeliverRandomnessResult{WinningPick: pick})
	return nil
}

// verifyRandomness checks that the delivered value is the VRF output of the
// sender's key over the draw token.
func verifyRandomness(oracle string, p core.DeliverRandomnessPayload) ([]byte, error) {
	pub, err := crypto.PubKeyFromHex(oracle)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lottery.ErrUnauthorized, err)
	}
	proof, err := hex.DecodeString(p.Proof)
	if err != nil {
		return nil, fmt.Errorf("invalid proof hex: %w", err)
	}
	value, err := hex.DecodeString(p.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value hex: %w", err)
	}
	output, err := crypto.VRFVerify(pub, []byte(p.Token), proof)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(output, value) {
		return nil, errors.New("delivered value does not match the vrf output")
	}
	return value, nil
}

func handleClaimPrize(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ClaimPrizePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode claim_prize payload: %w", err)
	}
	eng, err := NewEngine(ctx)
	if err != nil {
		return err
	}
	amount, err := eng.Claim(p.RoundID, p.TicketID, ctx.Tx.From)
	if err != nil {
		return err
	}
	ctx.Emit(events.EventPrizeClaimed, map[string]any{
		"round_id":  p.RoundID,
		"ticket_id": p.TicketID,
		"owner":     ctx.Tx.From,
		"amount":    amount,
	})
	ctx.SetResult(ClaimPrizeResult{Amount: amount})
	return nil
}

func handleTransferTicket(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferTicketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_ticket payload: %w", err)
	}
	if p.To == "" {
		return errors.New("to address required")
	}
	if _, err := crypto.PubKeyFromHex(p.To); err != nil {
		return fmt.Errorf("invalid to pubkey: %w", err)
	}

	reg := stateRegistry{ctx.State}
	t, err := ctx.State.GetTicket(p.TicketID)
	if err != nil {
		return fmt.Errorf("%w: ticket %d: %v", lottery.ErrInvalidState, p.TicketID, err)
	}
	if t.Owner != ctx.Tx.From {
		return fmt.Errorf("%w: only the ticket owner can transfer it", lottery.ErrUnauthorized)
	}
	if t.Owner == p.To {
		return errors.New("ticket already owned by recipient")
	}
	if err := reg.move(t, p.To); err != nil {
		return err
	}
	ctx.Emit(events.EventTicketTransfer, map[string]any{
		"ticket_id": p.TicketID,
		"round_id":  t.RoundID,
		"from":      ctx.Tx.From,
		"to":        p.To,
	})
	return nil
}
