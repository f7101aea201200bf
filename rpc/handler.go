package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/indexer"
	"github.com/tolelom/tolotto/lottery"
	"github.com/tolelom/tolotto/vm"
	"github.com/tolelom/tolotto/vm/modules/lotto"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
	now     func() time.Time
	log     logrus.FieldLogger
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		bc:      bc,
		mempool: mempool,
		state:   state,
		indexer: idx,
		chainID: chainID,
		now:     time.Now,
		log:     log.WithField("component", "rpc"),
	}
}

// SetClock replaces the clock used to derive round phases and cost quotes.
func (h *Handler) SetClock(now func() time.Time) { h.now = now }

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	case "sendTx":
		return h.sendTx(req)

	case "getReceipt":
		return h.getReceipt(req)

	case "getRound":
		return h.getRound(req)

	case "getRounds":
		return h.getRounds(req)

	case "getTicket":
		return h.getTicket(req)

	case "getTicketsOf":
		return h.getTicketsOf(req)

	case "costToBuy":
		return h.costToBuy(req)

	case "getClaimable":
		return h.getClaimable(req)

	case "getClaims":
		return h.getClaims(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		}
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	if !vm.Supports(tx.Type) {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unsupported tx type %q", tx.Type))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	h.log.WithFields(logrus.Fields{"tx": tx.ID, "type": tx.Type}).Debug("tx accepted")
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getReceipt(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.TxID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	rcpt, err := h.indexer.GetReceipt(params.TxID)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, rcpt)
}

// TierView is one prize tier as shown to clients.
type TierView struct {
	Tier            int    `json:"tier"`
	RequiredMatches int    `json:"required_matches"`
	BasisPoints     uint32 `json:"basis_points"`
	Percent         string `json:"percent"`
	Winners         uint64 `json:"winners"`
}

// RoundView is a round with its phase derived at query time.
type RoundView struct {
	*lottery.Round
	Phase lottery.Phase `json:"phase"`
	Tiers []TierView    `json:"tiers"`
}

func (h *Handler) roundView(r *lottery.Round, codec lottery.Codec) RoundView {
	v := RoundView{Round: r, Phase: r.Phase(h.now())}
	for tier, bps := range r.Distribution {
		v.Tiers = append(v.Tiers, TierView{
			Tier:            tier,
			RequiredMatches: r.Distribution.RequiredMatches(codec, tier),
			BasisPoints:     bps,
			Percent:         decimal.New(int64(bps), -2).StringFixed(2),
			Winners:         r.WinnersAt(tier),
		})
	}
	return v
}

type roundParams struct {
	RoundID uint64 `json:"round_id"`
}

func (h *Handler) getRound(req Request) Response {
	var params roundParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	p, err := lotto.Params(h.state)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	r, err := h.state.GetRound(params.RoundID)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, h.roundView(r, p.Codec))
}

func (h *Handler) getRounds(req Request) Response {
	ids, err := h.indexer.GetRoundIDs()
	if err != nil {
		return errorResponse(req.ID, err)
	}
	p, err := lotto.Params(h.state)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	views := make([]RoundView, 0, len(ids))
	for _, id := range ids {
		r, err := h.state.GetRound(id)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		views = append(views, h.roundView(r, p.Codec))
	}
	return okResponse(req.ID, views)
}

func (h *Handler) getTicket(req Request) Response {
	var params struct {
		TicketID uint64 `json:"ticket_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	t, err := h.state.GetTicket(params.TicketID)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	claimed, err := h.state.IsClaimed(params.TicketID)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"ticket": t, "claimed": claimed})
}

// getTicketsOf lists an owner's tickets, within one round when round_id is
// given and across all rounds otherwise.
func (h *Handler) getTicketsOf(req Request) Response {
	var params struct {
		Owner   string  `json:"owner"`
		RoundID *uint64 `json:"round_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	var ids []uint64
	var err error
	if params.RoundID != nil {
		ids, err = h.state.GetOwnedTickets(*params.RoundID, params.Owner)
	} else {
		ids, err = h.indexer.GetTicketsByOwner(params.Owner)
	}
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) costToBuy(req Request) Response {
	var params struct {
		RoundID uint64 `json:"round_id"`
		Count   uint64 `json:"count"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	eng, err := lotto.NewReader(h.state, h.now, h.log)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	cost, err := eng.CostToBuy(params.RoundID, params.Count)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]uint64{"round_id": params.RoundID, "count": params.Count, "cost": cost})
}

func (h *Handler) getClaimable(req Request) Response {
	var params struct {
		RoundID  uint64 `json:"round_id"`
		TicketID uint64 `json:"ticket_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	eng, err := lotto.NewReader(h.state, h.now, h.log)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	c, err := eng.Preview(params.RoundID, params.TicketID)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, c)
}

func (h *Handler) getClaims(req Request) Response {
	var params struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	claims, err := h.indexer.GetClaimsByOwner(params.Owner)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	if claims == nil {
		claims = []indexer.Claim{}
	}
	return okResponse(req.ID, claims)
}
