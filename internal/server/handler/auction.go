package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/protocol/auction"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/sealedbid"
	"github.com/alanyoungcy/clearinghouse/internal/service"
)

// AuctionHandler serves the open-outcry and sealed-bid auction endpoints.
type AuctionHandler struct {
	reg    *service.Registry
	logger *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(reg *service.Registry, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{reg: reg, logger: logHandler(logger, "auctions")}
}

// OpenAuction opens an English auction for a token lot.
// POST /api/auctions
func (h *AuctionHandler) OpenAuction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner        string `json:"owner"`
		Token        string `json:"token"`
		TokenAmount  string `json:"token_amount"`
		Reserve      string `json:"reserve"`
		MinIncrement string `json:"min_increment"`
		Inactivity   string `json:"inactivity"`
		Duration     string `json:"duration"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenAmount, err := parseAmount(req.TokenAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reserve, err := parseAmount(req.Reserve)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minIncrement, err := parseAmount(req.MinIncrement)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inactivity, err := time.ParseDuration(req.Inactivity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid inactivity: "+req.Inactivity)
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid duration: "+req.Duration)
		return
	}

	id, _, err := h.reg.OpenAuction(r.Context(), service.AuctionParams{
		Owner:        owner,
		Token:        token,
		TokenAmount:  tokenAmount,
		Reserve:      reserve,
		MinIncrement: minIncrement,
		Inactivity:   inactivity,
		Duration:     duration,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"address": service.AddressForID(id).Hex(),
	})
}

// Bid places an open bid, refunding the previous leader.
// POST /api/auctions/{id}/bid
func (h *AuctionHandler) Bid(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(a *auction.Auction) error {
		return a.Bid(caller, amount)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "leading"})
}

// End closes the bidding phase once the auction has run its course.
// POST /api/auctions/{id}/end
func (h *AuctionHandler) End(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(a *auction.Auction) error {
		return a.End(caller)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// Settle delivers the lot to the winner against final payment.
// POST /api/auctions/{id}/settle
func (h *AuctionHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
		Value  string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(a *auction.Auction) error {
		return a.Settle(caller, value)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// WithdrawProceeds pays the seller out of a settled auction.
// POST /api/auctions/{id}/proceeds
func (h *AuctionHandler) WithdrawProceeds(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(a *auction.Auction) error {
		return a.WithdrawProceeds(caller)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// OpenSealedBid opens a commit-reveal auction.
// POST /api/sealed-auctions
func (h *AuctionHandler) OpenSealedBid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner         string `json:"owner"`
		Token         string `json:"token"`
		Reserve       string `json:"reserve"`
		BiddingPeriod string `json:"bidding_period"`
		RevealPeriod  string `json:"reveal_period"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reserve, err := parseAmount(req.Reserve)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bidding, err := time.ParseDuration(req.BiddingPeriod)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bidding_period: "+req.BiddingPeriod)
		return
	}
	reveal, err := time.ParseDuration(req.RevealPeriod)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reveal_period: "+req.RevealPeriod)
		return
	}

	id, _, err := h.reg.OpenSealedBid(r.Context(), service.SealedBidParams{
		Owner:         owner,
		Token:         token,
		Reserve:       reserve,
		BiddingPeriod: bidding,
		RevealPeriod:  reveal,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"address": service.AddressForID(id).Hex(),
	})
}

// SealedBid commits to a hidden bid with an escrowed deposit.
// POST /api/sealed-auctions/{id}/bid
func (h *AuctionHandler) SealedBid(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller     string `json:"caller"`
		Commitment string `json:"commitment"` // 0x-prefixed 32-byte hash
		Deposit    string `json:"deposit"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	commitment, err := parseCommitment(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	deposit, err := parseAmount(req.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(a *sealedbid.Auction) error {
		return a.Bid(caller, commitment, deposit)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "committed"})
}

// SealedReveal opens a commitment during the reveal phase.
// POST /api/sealed-auctions/{id}/reveal
func (h *AuctionHandler) SealedReveal(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
		Nonce  string `json:"nonce"`
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	nonce, err := parseAmount(req.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(a *sealedbid.Auction) error {
		return a.Reveal(caller, nonce, amount)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revealed"})
}

// SealedClaim delivers the lot to the winning revealed bidder.
// POST /api/sealed-auctions/{id}/claim
func (h *AuctionHandler) SealedClaim(w http.ResponseWriter, r *http.Request) {
	h.sealedCallerOp(w, r, "claimed", (*sealedbid.Auction).Claim)
}

// SealedWithdraw refunds a losing revealed bidder's deposit.
// POST /api/sealed-auctions/{id}/withdraw
func (h *AuctionHandler) SealedWithdraw(w http.ResponseWriter, r *http.Request) {
	h.sealedCallerOp(w, r, "withdrawn", (*sealedbid.Auction).Withdraw)
}

// SealedProceeds pays the seller the winning bid plus forfeits.
// POST /api/sealed-auctions/{id}/proceeds
func (h *AuctionHandler) SealedProceeds(w http.ResponseWriter, r *http.Request) {
	h.sealedCallerOp(w, r, "withdrawn", (*sealedbid.Auction).WithdrawProceeds)
}

// sealedCallerOp factors the caller-only sealed auction operations, which
// share an identical request shape.
func (h *AuctionHandler) sealedCallerOp(w http.ResponseWriter, r *http.Request, done string, op func(*sealedbid.Auction, common.Address) error) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(a *sealedbid.Auction) error {
		return op(a, caller)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": done})
}
