// Package loanmarket implements a fixed-payoff loan marketplace. Borrowers
// post requests naming a principal, token collateral, a payoff amount, and a
// duration; any lender can fill a request by paying the principal, after
// which the borrower either repays the payoff before the deadline or forfeits
// the collateral.
package loanmarket

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol"
)

// Request is a single loan request on the marketplace.
type Request struct {
	ID         uint64
	Borrower   common.Address
	Lender     common.Address
	Token      ledger.Token
	Amount     *big.Int
	Collateral *big.Int
	Payoff     *big.Int
	Duration   time.Duration
	Deadline   time.Time
	Fulfilled  bool
	Repaid     bool
	Liquidated bool
}

// Market hosts loan requests. Request ids start at 1.
type Market struct {
	addr     common.Address
	led      *ledger.Ledger
	clk      clock.Clock
	emit     protocol.Emitter
	requests []*Request
}

// Config holds the marketplace collaborators.
type Config struct {
	Address common.Address
	Ledger  *ledger.Ledger
	Clock   clock.Clock
	Emitter protocol.Emitter
}

// New creates an empty marketplace.
func New(cfg Config) *Market {
	if cfg.Emitter == nil {
		cfg.Emitter = protocol.NopEmitter
	}
	return &Market{
		addr: cfg.Address,
		led:  cfg.Ledger,
		clk:  cfg.Clock,
		emit: cfg.Emitter,
	}
}

// CreateRequest posts a new loan request and returns its id.
func (m *Market) CreateRequest(borrower common.Address, token ledger.Token, amount, collateral, payoff *big.Int, duration time.Duration) (uint64, error) {
	if !protocol.Positive(amount) {
		return 0, domain.InvalidValue("loan amount must be positive")
	}
	if !protocol.Positive(collateral) {
		return 0, domain.InvalidValue("collateral amount must be positive")
	}
	if duration <= 0 {
		return 0, domain.InvalidValue("duration must be positive")
	}
	if payoff == nil || payoff.Cmp(amount) <= 0 {
		return 0, domain.InvalidValue("payoff must exceed the loan amount")
	}

	req := &Request{
		ID:         uint64(len(m.requests) + 1),
		Borrower:   borrower,
		Token:      token,
		Amount:     protocol.Amount(amount),
		Collateral: protocol.Amount(collateral),
		Payoff:     protocol.Amount(payoff),
		Duration:   duration,
	}
	m.requests = append(m.requests, req)

	m.emit.Emit("loan_market.request_created", map[string]any{
		"request_id": req.ID,
		"borrower":   borrower.Hex(),
		"amount":     amount.String(),
		"collateral": collateral.String(),
		"payoff":     payoff.String(),
	})
	return req.ID, nil
}

// Lend fills a request: the lender pays the principal to the borrower, the
// borrower's collateral moves into the market escrow, and the repayment
// deadline starts.
func (m *Market) Lend(caller common.Address, id uint64, value *big.Int) error {
	req, err := m.Request(id)
	if err != nil {
		return err
	}
	if req.Fulfilled {
		return domain.InvalidState("loan request is already fulfilled")
	}
	if value == nil || value.Cmp(req.Amount) != 0 {
		return domain.InvalidValue("value must equal the requested loan amount")
	}
	if caller == req.Borrower {
		return domain.Unauthorized("borrower cannot fill their own request")
	}
	if req.Token.Allowance(req.Borrower, m.addr).Cmp(req.Collateral) < 0 {
		return domain.InvalidValue("collateral allowance is insufficient")
	}

	if err := req.Token.TransferFrom(m.addr, req.Borrower, m.addr, req.Collateral); err != nil {
		return err
	}
	if err := m.led.Transfer(caller, req.Borrower, req.Amount); err != nil {
		return err
	}

	req.Lender = caller
	req.Fulfilled = true
	req.Deadline = m.clk.Now().Add(req.Duration)

	m.emit.Emit("loan_market.fulfilled", map[string]any{
		"request_id": req.ID,
		"lender":     caller.Hex(),
		"deadline":   req.Deadline,
	})
	return nil
}

// Pay repays a fulfilled loan before the deadline: the payoff goes to the
// lender and the collateral returns to the borrower.
func (m *Market) Pay(caller common.Address, id uint64, value *big.Int) error {
	req, err := m.Request(id)
	if err != nil {
		return err
	}
	if !req.Fulfilled {
		return domain.InvalidState("loan request is not fulfilled")
	}
	if req.Repaid || req.Liquidated {
		return domain.InvalidState("loan is terminal")
	}
	if caller != req.Borrower {
		return domain.Unauthorized("only the borrower may repay")
	}
	if protocol.Expired(m.clk.Now(), req.Deadline) {
		return domain.Untimely("loan duration has expired")
	}
	if value == nil || value.Cmp(req.Payoff) != 0 {
		return domain.InvalidValue("value must equal the payoff amount")
	}

	if err := m.led.Transfer(req.Borrower, req.Lender, req.Payoff); err != nil {
		return err
	}
	req.Repaid = true
	if err := req.Token.Transfer(m.addr, req.Borrower, req.Collateral); err != nil {
		return err
	}

	m.emit.Emit("loan_market.paid_back", map[string]any{
		"request_id": req.ID,
		"payoff":     req.Payoff.String(),
	})
	return nil
}

// Liquidate lets the lender seize the collateral after the deadline.
func (m *Market) Liquidate(caller common.Address, id uint64) error {
	req, err := m.Request(id)
	if err != nil {
		return err
	}
	if !req.Fulfilled {
		return domain.InvalidState("loan request is not fulfilled")
	}
	if req.Repaid || req.Liquidated {
		return domain.InvalidState("loan is terminal")
	}
	if caller != req.Lender {
		return domain.Unauthorized("only the lender may liquidate")
	}
	if !protocol.Expired(m.clk.Now(), req.Deadline) {
		return domain.Untimely("loan is not past due")
	}

	req.Liquidated = true
	if err := req.Token.Transfer(m.addr, req.Lender, req.Collateral); err != nil {
		return err
	}

	m.emit.Emit("loan_market.liquidated", map[string]any{
		"request_id": req.ID,
		"collateral": req.Collateral.String(),
	})
	return nil
}

// Request returns the request with the given id.
func (m *Market) Request(id uint64) (*Request, error) {
	if id == 0 || id > uint64(len(m.requests)) {
		return nil, domain.InvalidValue("invalid loan request id")
	}
	return m.requests[id-1], nil
}

// TotalRequests returns the number of requests ever created.
func (m *Market) TotalRequests() int { return len(m.requests) }

// Status reports the marketplace lifecycle phase. A marketplace never
// terminates.
func (m *Market) Status() protocol.Status { return protocol.StatusActive }

// State returns a snapshot of all requests for persistence.
func (m *Market) State() map[string]any {
	reqs := make([]map[string]any, 0, len(m.requests))
	for _, r := range m.requests {
		reqs = append(reqs, map[string]any{
			"id":         r.ID,
			"borrower":   r.Borrower.Hex(),
			"lender":     r.Lender.Hex(),
			"amount":     r.Amount.String(),
			"collateral": r.Collateral.String(),
			"payoff":     r.Payoff.String(),
			"deadline":   r.Deadline,
			"fulfilled":  r.Fulfilled,
			"repaid":     r.Repaid,
			"liquidated": r.Liquidated,
		})
	}
	return map[string]any{"requests": reqs}
}

// Parties returns every address that appears on a request.
func (m *Market) Parties() []common.Address {
	seen := make(map[common.Address]bool)
	var out []common.Address
	for _, r := range m.requests {
		for _, a := range []common.Address{r.Borrower, r.Lender} {
			if a != (common.Address{}) && !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}
