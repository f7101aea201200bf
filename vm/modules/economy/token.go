// Package economy moves native tokens between accounts.
package economy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/events"
	"github.com/tolelom/tolotto/vm"
)

// ErrInsufficientBalance is returned when a debit exceeds the balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return fmt.Errorf("transfer amount must be > 0")
	}
	if p.To == "" {
		return fmt.Errorf("transfer to address required")
	}
	if err := Transfer(ctx.State, ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}

// Transfer debits from and credits to. A self-transfer only checks the
// balance.
func Transfer(state core.State, from, to string, amount uint64) error {
	sender, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, sender.Balance, amount)
	}
	if from == to || amount == 0 {
		return nil
	}
	sender.Balance -= amount
	if err := state.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	if recipient.Balance+amount < recipient.Balance {
		return fmt.Errorf("balance overflow for %s", to)
	}
	recipient.Balance += amount
	return state.SetAccount(recipient)
}
