package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/clearinghouse/internal/protocol/loanmarket"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/periodicloan"
	"github.com/alanyoungcy/clearinghouse/internal/service"
)

// LoanHandler serves the periodic loan and loan marketplace endpoints.
type LoanHandler struct {
	reg    *service.Registry
	logger *slog.Logger
}

// NewLoanHandler creates a LoanHandler.
func NewLoanHandler(reg *service.Registry, logger *slog.Logger) *LoanHandler {
	return &LoanHandler{reg: reg, logger: logHandler(logger, "loans")}
}

// OpenLoan proposes a periodic loan between a lender and a borrower.
// POST /api/loans
func (h *LoanHandler) OpenLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lender         string `json:"lender"`
		Borrower       string `json:"borrower"`
		Amount         string `json:"amount"`
		Period         string `json:"period"`
		CollateralRate int64  `json:"collateral_rate"`
		MinimumPayment string `json:"minimum_payment"`
		InterestNum    int64  `json:"interest_num"`
		InterestDen    int64  `json:"interest_den"`
		Token          string `json:"token"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lender, err := parseAddress(req.Lender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	period, err := time.ParseDuration(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period: "+req.Period)
		return
	}
	minPayment, err := parseAmount(req.MinimumPayment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, _, err := h.reg.OpenLoan(r.Context(), service.LoanParams{
		Lender:         lender,
		Borrower:       borrower,
		Amount:         amount,
		Period:         period,
		CollateralRate: req.CollateralRate,
		MinimumPayment: minPayment,
		InterestNum:    req.InterestNum,
		InterestDen:    req.InterestDen,
		Token:          token,
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

// Lend funds an open loan; only the named lender may call it.
// POST /api/loans/{id}/lend
func (h *LoanHandler) Lend(w http.ResponseWriter, r *http.Request) {
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

	err = service.Mutate(r.Context(), h.reg, id, func(l *periodicloan.Loan) error {
		return l.Lend(caller)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// MakePayment pays interest plus principal toward an active loan.
// POST /api/loans/{id}/pay
func (h *LoanHandler) MakePayment(w http.ResponseWriter, r *http.Request) {
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

	err = service.Mutate(r.Context(), h.reg, id, func(l *periodicloan.Loan) error {
		return l.MakePayment(caller, amount)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

// LiquidateLoan seizes collateral after a missed payment deadline.
// POST /api/loans/{id}/liquidate
func (h *LoanHandler) LiquidateLoan(w http.ResponseWriter, r *http.Request) {
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

	err = service.Mutate(r.Context(), h.reg, id, func(l *periodicloan.Loan) error {
		return l.Liquidate(caller)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "liquidated"})
}

// CloseLoan cancels a loan that was never funded, returning collateral.
// POST /api/loans/{id}/close
func (h *LoanHandler) CloseLoan(w http.ResponseWriter, r *http.Request) {
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

	err = service.Mutate(r.Context(), h.reg, id, func(l *periodicloan.Loan) error {
		return l.Close(caller)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// OpenLoanMarket opens an empty loan marketplace.
// POST /api/loan-markets
func (h *LoanHandler) OpenLoanMarket(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.reg.OpenLoanMarket(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"address": service.AddressForID(id).Hex(),
	})
}

// CreateLoanRequest posts a collateralized loan request to a marketplace.
// POST /api/loan-markets/{id}/requests
func (h *LoanHandler) CreateLoanRequest(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Borrower   string `json:"borrower"`
		Token      string `json:"token"`
		Amount     string `json:"amount"`
		Collateral string `json:"collateral"`
		Payoff     string `json:"payoff"`
		Duration   string `json:"duration"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenAddr, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	collateral, err := parseAmount(req.Collateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payoff, err := parseAmount(req.Payoff)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid duration: "+req.Duration)
		return
	}

	token, err := h.reg.Token(tokenAddr)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var requestID uint64
	err = service.Mutate(r.Context(), h.reg, id, func(m *loanmarket.Market) error {
		var mErr error
		requestID, mErr = m.CreateRequest(borrower, token, amount, collateral, payoff, duration)
		return mErr
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request_id": requestID})
}

// requestID parses the numeric request id path segment.
func requestID(r *http.Request) (uint64, bool) {
	n, err := strconv.ParseUint(pathParam(r, "rid"), 10, 64)
	return n, err == nil
}

// LendToRequest funds a pending marketplace request.
// POST /api/loan-markets/{id}/requests/{rid}/lend
func (h *LoanHandler) LendToRequest(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	rid, ok := requestID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
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

	err = service.Mutate(r.Context(), h.reg, id, func(m *loanmarket.Market) error {
		return m.Lend(caller, rid, value)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

// PayRequest repays a funded marketplace loan in full.
// POST /api/loan-markets/{id}/requests/{rid}/pay
func (h *LoanHandler) PayRequest(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	rid, ok := requestID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
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

	err = service.Mutate(r.Context(), h.reg, id, func(m *loanmarket.Market) error {
		return m.Pay(caller, rid, value)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "repaid"})
}

// LiquidateRequest transfers collateral to the lender after expiry.
// POST /api/loan-markets/{id}/requests/{rid}/liquidate
func (h *LoanHandler) LiquidateRequest(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	rid, ok := requestID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
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

	err = service.Mutate(r.Context(), h.reg, id, func(m *loanmarket.Market) error {
		return m.Liquidate(caller, rid)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "liquidated"})
}

// GetLoanRequest returns a single marketplace request.
// GET /api/loan-markets/{id}/requests/{rid}
func (h *LoanHandler) GetLoanRequest(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	rid, ok := requestID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var out *loanmarket.Request
	err := service.Mutate(r.Context(), h.reg, id, func(m *loanmarket.Market) error {
		var mErr error
		out, mErr = m.Request(rid)
		return mErr
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         out.ID,
		"borrower":   out.Borrower.Hex(),
		"lender":     out.Lender.Hex(),
		"token":      out.Token.Address().Hex(),
		"amount":     out.Amount.String(),
		"collateral": out.Collateral.String(),
		"payoff":     out.Payoff.String(),
		"duration":   out.Duration.String(),
		"deadline":   out.Deadline,
		"fulfilled":  out.Fulfilled,
		"repaid":     out.Repaid,
		"liquidated": out.Liquidated,
	})
}
