package wallet

import (
	"sync"

	"github.com/tolelom/tolotto/core"
)

// NonceSource hands out consecutive nonces for one account. It never goes
// below the committed chain nonce, so a restart or an external transaction
// is picked up on the next call.
type NonceSource struct {
	mu    sync.Mutex
	read  func() (uint64, error)
	next  uint64
	valid bool
}

// NewNonceSource creates a NonceSource that reads the chain nonce with read.
func NewNonceSource(read func() (uint64, error)) *NonceSource {
	return &NonceSource{read: read}
}

// Next reserves and returns the next nonce.
func (n *NonceSource) Next() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	chain, err := n.read()
	if err != nil {
		return 0, err
	}
	if !n.valid || chain > n.next {
		n.next = chain
		n.valid = true
	}
	nonce := n.next
	n.next++
	return nonce, nil
}

// Reset drops the reservations so the next call resyncs from the chain.
// Call it after one of this account's transactions is rejected.
func (n *NonceSource) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.valid = false
}

// AccountReader loads accounts, typically the chain state.
type AccountReader interface {
	GetAccount(address string) (*core.Account, error)
}

// StateNonces returns a NonceSource for addr that reads committed nonces from
// accounts.
func StateNonces(accounts AccountReader, addr string) *NonceSource {
	return NewNonceSource(func() (uint64, error) {
		acc, err := accounts.GetAccount(addr)
		if err != nil {
			return 0, err
		}
		return acc.Nonce, nil
	})
}
