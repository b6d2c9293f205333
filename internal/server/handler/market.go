package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/clearinghouse/internal/protocol/tokenmarket"
	"github.com/alanyoungcy/clearinghouse/internal/service"
)

// MarketHandler serves the fixed-price token market endpoints.
type MarketHandler struct {
	reg    *service.Registry
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(reg *service.Registry, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{reg: reg, logger: logHandler(logger, "markets")}
}

// OpenMarket opens an empty token market.
// POST /api/token-markets
func (h *MarketHandler) OpenMarket(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.reg.OpenTokenMarket(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"address": service.AddressForID(id).Hex(),
	})
}

// CreateListing escrows a seller's token units at a fixed unit price.
// POST /api/token-markets/{id}/listings
func (h *MarketHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Seller   string `json:"seller"`
		Token    string `json:"token"`
		PriceNum string `json:"price_num"`
		PriceDen string `json:"price_den"`
		Units    string `json:"units"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	seller, err := parseAddress(req.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenAddr, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	num, err := parseAmount(req.PriceNum)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	den, err := parseAmount(req.PriceDen)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	units, err := parseAmount(req.Units)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.reg.Token(tokenAddr)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(m *tokenmarket.Market) error {
		return m.CreateListing(seller, token, num, den, units)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "listed"})
}

// CancelListing withdraws an active listing and returns unsold units.
// POST /api/token-markets/{id}/listings/{token}/cancel
func (h *MarketHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	tokenAddr, err := parseAddress(pathParam(r, "token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
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

	err = service.Mutate(r.Context(), h.reg, id, func(m *tokenmarket.Market) error {
		return m.CancelListing(caller, tokenAddr)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Buy purchases units from a listing at the quoted cost.
// POST /api/token-markets/{id}/listings/{token}/buy
func (h *MarketHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	tokenAddr, err := parseAddress(pathParam(r, "token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Buyer string `json:"buyer"`
		Units string `json:"units"`
		Value string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	units, err := parseAmount(req.Units)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(m *tokenmarket.Market) error {
		return m.Buy(buyer, tokenAddr, units, value)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purchased"})
}

// GetListing returns a listing's details plus the cost of a sample
// purchase when units is supplied as a query parameter.
// GET /api/token-markets/{id}/listings/{token}?units=10
func (h *MarketHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	tokenAddr, err := parseAddress(pathParam(r, "token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		listing tokenmarket.Listing
		cost    *big.Int
	)
	units, unitsErr := parseAmount(r.URL.Query().Get("units"))

	err = service.Mutate(r.Context(), h.reg, id, func(m *tokenmarket.Market) error {
		var mErr error
		listing, mErr = m.Details(tokenAddr)
		if mErr != nil {
			return mErr
		}
		if unitsErr == nil {
			cost, mErr = m.Cost(tokenAddr, units)
		}
		return mErr
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"seller":    listing.Seller.Hex(),
		"token":     listing.Token.Address().Hex(),
		"price_num": listing.PriceNum.String(),
		"price_den": listing.PriceDen.String(),
		"active":    listing.Active,
		"units":     listing.Units.String(),
	}
	if cost != nil {
		resp["cost"] = cost.String()
	}
	writeJSON(w, http.StatusOK, resp)
}
