package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/crypto"
	"github.com/tolelom/tolotto/lottery"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// LotteryParams converts the genesis lottery section into chain params,
// validating the pick codec.
func (g GenesisConfig) LotteryParams() (*core.LotteryParams, error) {
	codec := lottery.Codec{Length: g.Lottery.PickLength, Base: g.Lottery.Base}
	if codec == (lottery.Codec{}) {
		codec = lottery.DefaultCodec
	}
	if err := codec.Check(); err != nil {
		return nil, fmt.Errorf("genesis lottery codec: %w", err)
	}
	for _, id := range append(append([]string(nil), g.Lottery.Admins...), g.Lottery.Oracles...) {
		if _, err := crypto.PubKeyFromHex(id); err != nil {
			return nil, fmt.Errorf("genesis lottery identity %q: %w", id, err)
		}
	}
	return &core.LotteryParams{
		Admins:           g.Lottery.Admins,
		Oracles:          g.Lottery.Oracles,
		Codec:            codec,
		MaxTicketsPerBuy: g.Lottery.MaxTicketsPerBuy,
		Treasury:         g.Lottery.Treasury,
	}, nil
}

// CreateGenesisBlock builds and signs block #0: it credits the Alloc
// accounts, writes the lottery params and commits state.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey, at time.Time) (*core.Block, error) {
	proposerPub := proposerPriv.Public()

	params, err := cfg.Genesis.LotteryParams()
	if err != nil {
		return nil, err
	}
	if err := state.SetLotteryParams(params); err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(cfg.Genesis.Alloc))
	for addr := range cfg.Genesis.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, pubkeyHex := range addrs {
		acc := &core.Account{
			Address: pubkeyHex,
			Balance: cfg.Genesis.Alloc[pubkeyHex],
		}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(cfg.Genesis.ChainID, 0, GenesisHash, proposerPub.Hex(), at, nil)
	block.Header.StateRoot = stateRoot
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
