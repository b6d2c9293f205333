// Package periodicloan implements a collateralized loan repaid in periodic
// installments. The lender escrows the principal up front; the borrower posts
// token collateral when the loan starts. Each payment covers the interest
// accrued for the period and reduces the remaining balance by the rest, and
// pushes the due date one period out. A past-due loan can be liquidated by
// the lender, seizing the collateral.
package periodicloan

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol"
)

// Config holds the immutable loan terms.
type Config struct {
	Address        common.Address
	Lender         common.Address
	Borrower       common.Address
	Amount         *big.Int // principal, escrowed by the lender at creation
	Period         time.Duration
	CollateralRate int64 // collateral = principal * rate, in token units
	MinimumPayment *big.Int
	InterestNum    int64 // interest per period = remaining * num / den
	InterestDen    int64
	Token          ledger.Token
	Ledger         *ledger.Ledger
	Clock          clock.Clock
	Emitter        protocol.Emitter
}

// Loan is a periodic collateralized loan.
type Loan struct {
	addr           common.Address
	lender         common.Address
	borrower       common.Address
	principal      *big.Int
	remaining      *big.Int
	minimumPayment *big.Int
	interestNum    *big.Int
	interestDen    *big.Int
	collateral     *big.Int
	period         time.Duration
	dueDate        time.Time
	token          ledger.Token
	led            *ledger.Ledger
	clk            clock.Clock
	emit           protocol.Emitter
	started        bool
	liquidated     bool
	closed         bool
}

// New escrows the lender's principal and creates the loan offer. The loan is
// not active until Lend pulls the borrower's collateral.
func New(cfg Config) (*Loan, error) {
	if !protocol.Positive(cfg.Amount) {
		return nil, domain.InvalidValue("loan amount must be positive")
	}
	if cfg.Period <= 0 {
		return nil, domain.InvalidValue("loan period must be positive")
	}
	if cfg.CollateralRate <= 0 {
		return nil, domain.InvalidValue("collateral rate must be positive")
	}
	if cfg.InterestNum < 0 || cfg.InterestDen <= 0 {
		return nil, domain.InvalidValue("interest ratio must be non-negative with a positive denominator")
	}
	if cfg.Lender == cfg.Borrower {
		return nil, domain.InvalidValue("lender and borrower must differ")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = protocol.NopEmitter
	}
	if cfg.MinimumPayment == nil {
		cfg.MinimumPayment = new(big.Int)
	}

	if err := cfg.Ledger.Transfer(cfg.Lender, cfg.Address, cfg.Amount); err != nil {
		return nil, err
	}

	l := &Loan{
		addr:           cfg.Address,
		lender:         cfg.Lender,
		borrower:       cfg.Borrower,
		principal:      protocol.Amount(cfg.Amount),
		remaining:      protocol.Amount(cfg.Amount),
		minimumPayment: protocol.Amount(cfg.MinimumPayment),
		interestNum:    big.NewInt(cfg.InterestNum),
		interestDen:    big.NewInt(cfg.InterestDen),
		collateral:     new(big.Int).Mul(cfg.Amount, big.NewInt(cfg.CollateralRate)),
		period:         cfg.Period,
		token:          cfg.Token,
		led:            cfg.Ledger,
		clk:            cfg.Clock,
		emit:           cfg.Emitter,
	}

	l.emit.Emit("loan.offered", map[string]any{
		"lender":     l.lender.Hex(),
		"borrower":   l.borrower.Hex(),
		"amount":     l.principal.String(),
		"collateral": l.collateral.String(),
	})
	return l, nil
}

// Lend pulls the borrower's collateral via allowance, releases the principal
// to the borrower, and starts the repayment clock. Lender only.
func (l *Loan) Lend(caller common.Address) error {
	if l.closed || l.liquidated {
		return domain.InvalidState("loan is terminal")
	}
	if l.started {
		return domain.InvalidState("loan already started")
	}
	if caller != l.lender {
		return domain.Unauthorized("only the lender may start the loan")
	}
	if l.token.Allowance(l.borrower, l.addr).Cmp(l.collateral) < 0 {
		return domain.InvalidValue("collateral allowance is insufficient")
	}

	if err := l.token.TransferFrom(l.addr, l.borrower, l.addr, l.collateral); err != nil {
		return err
	}
	if err := l.led.Transfer(l.addr, l.borrower, l.principal); err != nil {
		return err
	}

	l.started = true
	l.dueDate = l.clk.Now().Add(l.period)

	l.emit.Emit("loan.started", map[string]any{
		"lender":          l.lender.Hex(),
		"borrower":        l.borrower.Hex(),
		"amount":          l.principal.String(),
		"collateral":      l.collateral.String(),
		"minimum_payment": l.minimumPayment.String(),
		"interest_num":    l.interestNum.Int64(),
		"interest_den":    l.interestDen.Int64(),
		"due_date":        l.dueDate,
	})
	return nil
}

// InterestDue returns the interest owed for the current period:
// remaining * num / den, truncating.
func (l *Loan) InterestDue() *big.Int {
	out := new(big.Int).Mul(l.remaining, l.interestNum)
	return out.Div(out, l.interestDen)
}

// MakePayment applies a borrower payment. The interest portion is kept for
// the lender and the rest reduces the remaining balance; the due date moves
// one period out. Payments must meet the minimum unless they settle the
// remaining balance plus interest in full.
func (l *Loan) MakePayment(caller common.Address, amount *big.Int) error {
	if l.closed || l.liquidated {
		return domain.InvalidState("loan is terminal")
	}
	if !l.started {
		return domain.InvalidState("loan has not started")
	}
	if caller != l.borrower {
		return domain.Unauthorized("only the borrower may make payments")
	}
	if l.remaining.Sign() == 0 {
		return domain.InvalidState("loan is already paid off")
	}
	if protocol.Expired(l.clk.Now(), l.dueDate) {
		return domain.Untimely("loan is past due")
	}
	if !protocol.Positive(amount) {
		return domain.InvalidValue("payment must be positive")
	}

	interest := l.InterestDue()
	owed := new(big.Int).Add(l.remaining, interest)
	if amount.Cmp(owed) > 0 {
		return domain.InvalidValue("payment exceeds remaining balance plus interest")
	}
	if amount.Cmp(l.minimumPayment) < 0 && amount.Cmp(owed) != 0 {
		return domain.InvalidValue("payment is below the minimum")
	}

	if err := l.led.Transfer(l.borrower, l.addr, amount); err != nil {
		return err
	}

	// remaining -= amount - interest; amount <= remaining + interest keeps
	// this non-negative, and a full payoff lands exactly on zero.
	l.remaining.Sub(l.remaining, new(big.Int).Sub(amount, interest))
	l.dueDate = l.dueDate.Add(l.period)

	l.emit.Emit("loan.payment_made", map[string]any{
		"borrower":  l.borrower.Hex(),
		"amount":    amount.String(),
		"interest":  interest.String(),
		"remaining": l.remaining.String(),
		"due_date":  l.dueDate,
	})
	return nil
}

// Liquidate seizes the collateral for the lender on a past-due loan.
func (l *Loan) Liquidate(caller common.Address) error {
	if l.closed {
		return domain.InvalidState("loan is closed")
	}
	if l.liquidated {
		return domain.InvalidState("loan is already liquidated")
	}
	if caller != l.lender {
		return domain.Unauthorized("only the lender may liquidate")
	}
	if !l.started {
		return domain.InvalidState("loan has not started")
	}
	if l.remaining.Sign() == 0 {
		return domain.InvalidState("loan is already paid off")
	}
	if !protocol.Expired(l.clk.Now(), l.dueDate) {
		return domain.Untimely("loan is not past due")
	}

	l.liquidated = true
	if err := l.token.Transfer(l.addr, l.lender, l.collateral); err != nil {
		return err
	}

	l.emit.Emit("loan.liquidated", map[string]any{
		"lender":     l.lender.Hex(),
		"collateral": l.collateral.String(),
	})
	return nil
}

// Close settles a fully repaid loan: collateral goes back to the borrower and
// the accumulated payments go to the lender. Either party may close.
func (l *Loan) Close(caller common.Address) error {
	if l.closed || l.liquidated {
		return domain.InvalidState("loan is terminal")
	}
	if !l.started {
		return domain.InvalidState("loan has not started")
	}
	if l.remaining.Sign() != 0 {
		return domain.InvalidState("remaining balance is not zero")
	}
	if caller != l.borrower && caller != l.lender {
		return domain.Unauthorized("only the borrower or lender may close the loan")
	}

	proceeds := l.led.Balance(l.addr)
	l.closed = true
	if err := l.token.Transfer(l.addr, l.borrower, l.collateral); err != nil {
		return err
	}
	if err := l.led.Transfer(l.addr, l.lender, proceeds); err != nil {
		return err
	}

	l.emit.Emit("loan.closed", map[string]any{
		"lender":     l.lender.Hex(),
		"borrower":   l.borrower.Hex(),
		"amount":     l.principal.String(),
		"collateral": l.collateral.String(),
		"proceeds":   proceeds.String(),
	})
	return nil
}

// Remaining returns the outstanding principal balance.
func (l *Loan) Remaining() *big.Int { return protocol.Amount(l.remaining) }

// Collateral returns the token collateral amount.
func (l *Loan) Collateral() *big.Int { return protocol.Amount(l.collateral) }

// DueDate returns the next payment deadline. Zero until the loan starts.
func (l *Loan) DueDate() time.Time { return l.dueDate }

// Status reports the lifecycle phase.
func (l *Loan) Status() protocol.Status {
	switch {
	case l.liquidated:
		return protocol.StatusLiquidated
	case l.closed:
		return protocol.StatusSettled
	case l.started:
		return protocol.StatusActive
	default:
		return protocol.StatusOpen
	}
}

// State returns a snapshot of the loan for persistence.
func (l *Loan) State() map[string]any {
	return map[string]any{
		"lender":     l.lender.Hex(),
		"borrower":   l.borrower.Hex(),
		"principal":  l.principal.String(),
		"remaining":  l.remaining.String(),
		"collateral": l.collateral.String(),
		"due_date":   l.dueDate,
		"started":    l.started,
		"liquidated": l.liquidated,
		"closed":     l.closed,
	}
}

// Parties returns the addresses bound to this loan.
func (l *Loan) Parties() []common.Address {
	return []common.Address{l.lender, l.borrower}
}
