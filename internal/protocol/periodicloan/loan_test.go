package periodicloan

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol"
)

var (
	loanAddr  = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	lender    = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	borrower  = common.HexToAddress("0x0000000000000000000000000000000000000a03")
	tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000000a04")
)

type fixture struct {
	led  *ledger.Ledger
	tok  *ledger.MemToken
	clk  *clock.Fake
	loan *Loan
}

// newFixture sets up a 1000-unit loan at 5% (1/20) interest per 30-day
// period, 2x collateral, and a minimum payment of 100.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	led := ledger.New()
	require.NoError(t, led.Mint(lender, big.NewInt(5000)))
	require.NoError(t, led.Mint(borrower, big.NewInt(5000)))

	tok := ledger.NewMemToken(tokenAddr)
	tok.Mint(borrower, big.NewInt(10000))

	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	loan, err := New(Config{
		Address:        loanAddr,
		Lender:         lender,
		Borrower:       borrower,
		Amount:         big.NewInt(1000),
		Period:         30 * 24 * time.Hour,
		CollateralRate: 2,
		MinimumPayment: big.NewInt(100),
		InterestNum:    1,
		InterestDen:    20,
		Token:          tok,
		Ledger:         led,
		Clock:          clk,
	})
	require.NoError(t, err)

	return &fixture{led: led, tok: tok, clk: clk, loan: loan}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.tok.Approve(borrower, loanAddr, big.NewInt(2000))
	require.NoError(t, f.loan.Lend(lender))
}

func TestLend(t *testing.T) {
	t.Run("pulls collateral and releases the principal", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)

		assert.Equal(t, big.NewInt(2000), f.tok.BalanceOf(loanAddr))
		assert.Equal(t, big.NewInt(8000), f.tok.BalanceOf(borrower))
		assert.Equal(t, big.NewInt(6000), f.led.Balance(borrower))
		assert.Equal(t, f.clk.Now().Add(30*24*time.Hour), f.loan.DueDate())
	})

	t.Run("requires sufficient allowance", func(t *testing.T) {
		f := newFixture(t)
		f.tok.Approve(borrower, loanAddr, big.NewInt(1999))
		err := f.loan.Lend(lender)
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("lender only", func(t *testing.T) {
		f := newFixture(t)
		f.tok.Approve(borrower, loanAddr, big.NewInt(2000))
		err := f.loan.Lend(borrower)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})

	t.Run("cannot start twice", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		err := f.loan.Lend(lender)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})
}

func TestInterestTruncates(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	// 1000 * 1 / 20 = 50 exactly.
	assert.Equal(t, big.NewInt(50), f.loan.InterestDue())

	// 115 clears the 50 interest and 65 of principal, leaving 935:
	// 935 * 1 / 20 = 46.75, truncated to 46.
	require.NoError(t, f.loan.MakePayment(borrower, big.NewInt(115)))
	require.Equal(t, big.NewInt(935), f.loan.Remaining())
	assert.Equal(t, big.NewInt(46), f.loan.InterestDue())
}

func TestMakePayment(t *testing.T) {
	t.Run("interest first, remainder reduces the balance", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)

		require.NoError(t, f.loan.MakePayment(borrower, big.NewInt(150)))
		// 150 - 50 interest = 100 off the principal.
		assert.Equal(t, big.NewInt(900), f.loan.Remaining())
	})

	t.Run("due date moves one period per payment", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		first := f.loan.DueDate()

		require.NoError(t, f.loan.MakePayment(borrower, big.NewInt(150)))
		assert.Equal(t, first.Add(30*24*time.Hour), f.loan.DueDate())
	})

	t.Run("below minimum is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		err := f.loan.MakePayment(borrower, big.NewInt(99))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("final payoff below minimum lands the balance on zero", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)

		// Pay down to a small remainder: 1000 -> 30 takes one big payment.
		// remaining 1000, interest 50 -> pay 1020 leaves 30.
		require.NoError(t, f.loan.MakePayment(borrower, big.NewInt(1020)))
		require.Equal(t, big.NewInt(30), f.loan.Remaining())

		// 30 * 1/20 truncates to 1; a 31-unit payoff is below the 100 minimum
		// but settles in full, so it is allowed.
		require.NoError(t, f.loan.MakePayment(borrower, big.NewInt(31)))
		assert.Zero(t, f.loan.Remaining().Sign())
	})

	t.Run("overpayment is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		err := f.loan.MakePayment(borrower, big.NewInt(1051))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("past-due payment is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		f.clk.Advance(30 * 24 * time.Hour)
		err := f.loan.MakePayment(borrower, big.NewInt(150))
		assert.True(t, domain.IsRule(err, domain.RuleTemporal))
	})

	t.Run("borrower only", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		err := f.loan.MakePayment(lender, big.NewInt(150))
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})
}

func TestLiquidate(t *testing.T) {
	t.Run("seizes collateral when past due", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		f.clk.Advance(30 * 24 * time.Hour)

		require.NoError(t, f.loan.Liquidate(lender))
		assert.Equal(t, big.NewInt(2000), f.tok.BalanceOf(lender))
		assert.Equal(t, protocol.StatusLiquidated, f.loan.Status())
	})

	t.Run("rejected while current", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		err := f.loan.Liquidate(lender)
		assert.True(t, domain.IsRule(err, domain.RuleTemporal))
	})

	t.Run("paid-off loan reports already paid even when past due", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		require.NoError(t, f.loan.MakePayment(borrower, big.NewInt(1050)))
		require.Zero(t, f.loan.Remaining().Sign())

		f.clk.Advance(90 * 24 * time.Hour)
		err := f.loan.Liquidate(lender)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})

	t.Run("lender only", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		f.clk.Advance(30 * 24 * time.Hour)
		err := f.loan.Liquidate(borrower)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})
}

func TestClose(t *testing.T) {
	t.Run("returns collateral and pays the lender", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		require.NoError(t, f.loan.MakePayment(borrower, big.NewInt(1050)))

		require.NoError(t, f.loan.Close(borrower))
		assert.Equal(t, big.NewInt(10000), f.tok.BalanceOf(borrower))
		// Lender: 5000 - 1000 principal + 1050 payments = 5050.
		assert.Equal(t, big.NewInt(5050), f.led.Balance(lender))
	})

	t.Run("either party may close", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		require.NoError(t, f.loan.MakePayment(borrower, big.NewInt(1050)))
		require.NoError(t, f.loan.Close(lender))
	})

	t.Run("rejected while a balance remains", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		err := f.loan.Close(borrower)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})

	t.Run("third parties may not close", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		require.NoError(t, f.loan.MakePayment(borrower, big.NewInt(1050)))
		err := f.loan.Close(tokenAddr)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})
}
