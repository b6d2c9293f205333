package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/clearinghouse/internal/protocol/channel"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/receiverpays"
	"github.com/alanyoungcy/clearinghouse/internal/service"
)

// ChannelHandler serves the payment channel and receiver-pays pool
// endpoints.
type ChannelHandler struct {
	reg    *service.Registry
	logger *slog.Logger
}

// NewChannelHandler creates a ChannelHandler.
func NewChannelHandler(reg *service.Registry, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{reg: reg, logger: logHandler(logger, "channels")}
}

// OpenChannel opens a payment channel, escrowing the owner's deposit.
// POST /api/channels
func (h *ChannelHandler) OpenChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner     string `json:"owner"`
		Recipient string `json:"recipient"`
		Duration  string `json:"duration"` // Go duration string, e.g. "24h"
		Deposit   string `json:"deposit"`
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
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid duration: "+req.Duration)
		return
	}
	deposit, err := parseAmount(req.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, ch, err := h.reg.OpenChannel(r.Context(), owner, recipient, duration, deposit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       id,
		"address":  service.AddressForID(id).Hex(),
		"deadline": ch.Deadline(),
	})
}

// CloseChannel settles a channel against an owner-signed claim.
// POST /api/channels/{id}/close
func (h *ChannelHandler) CloseChannel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller    string `json:"caller"`
		Amount    string `json:"amount"`
		Signature string `json:"signature"` // 0x-prefixed 65-byte r||s||v
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
	sig, err := parseHexBytes(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature encoding")
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(ch *channel.Channel) error {
		return ch.Close(caller, amount, sig)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// ExtendChannel pushes the channel deadline out by a positive delta.
// POST /api/channels/{id}/extend
func (h *ChannelHandler) ExtendChannel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
		Delta  string `json:"delta"`
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
	delta, err := time.ParseDuration(req.Delta)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delta: "+req.Delta)
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(ch *channel.Channel) error {
		return ch.Extend(caller, delta)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "extended"})
}

// ClaimChannelTimeout refunds the owner after the deadline.
// POST /api/channels/{id}/claim-timeout
func (h *ChannelHandler) ClaimChannelTimeout(w http.ResponseWriter, r *http.Request) {
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

	err = service.Mutate(r.Context(), h.reg, id, func(ch *channel.Channel) error {
		return ch.ClaimTimeout(caller)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// OpenPool opens a receiver-pays pool funded by the owner.
// POST /api/pools
func (h *ChannelHandler) OpenPool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner   string `json:"owner"`
		Deposit string `json:"deposit"`
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
	deposit, err := parseAmount(req.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, _, err := h.reg.OpenPool(r.Context(), owner, deposit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"address": service.AddressForID(id).Hex(),
	})
}

// ClaimPayment pays out an owner-signed claim to the caller.
// POST /api/pools/{id}/claim
func (h *ChannelHandler) ClaimPayment(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller    string `json:"caller"`
		Amount    string `json:"amount"`
		Nonce     uint64 `json:"nonce"`
		Signature string `json:"signature"`
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
	sig, err := parseHexBytes(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature encoding")
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(p *receiverpays.Pool) error {
		return p.ClaimPayment(caller, amount, req.Nonce, sig)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

// KillPool closes a pool and refunds the residual to the owner.
// POST /api/pools/{id}/kill
func (h *ChannelHandler) KillPool(w http.ResponseWriter, r *http.Request) {
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

	err = service.Mutate(r.Context(), h.reg, id, func(p *receiverpays.Pool) error {
		return p.Kill(caller)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}
