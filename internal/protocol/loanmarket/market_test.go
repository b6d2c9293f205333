package loanmarket

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
)

var (
	marketAddr = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	borrower   = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	lender     = common.HexToAddress("0x0000000000000000000000000000000000000b03")
	tokenAddr  = common.HexToAddress("0x0000000000000000000000000000000000000b04")
)

type fixture struct {
	led *ledger.Ledger
	tok *ledger.MemToken
	clk *clock.Fake
	mkt *Market
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	led := ledger.New()
	require.NoError(t, led.Mint(borrower, big.NewInt(5000)))
	require.NoError(t, led.Mint(lender, big.NewInt(5000)))

	tok := ledger.NewMemToken(tokenAddr)
	tok.Mint(borrower, big.NewInt(10000))

	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	return &fixture{
		led: led,
		tok: tok,
		clk: clk,
		mkt: New(Config{Address: marketAddr, Ledger: led, Clock: clk}),
	}
}

// createRequest posts a standard request: 1000 principal, 2000 collateral,
// 1100 payoff, 30 days.
func (f *fixture) createRequest(t *testing.T) uint64 {
	t.Helper()
	id, err := f.mkt.CreateRequest(borrower, f.tok,
		big.NewInt(1000), big.NewInt(2000), big.NewInt(1100), 30*24*time.Hour)
	require.NoError(t, err)
	return id
}

func (f *fixture) fill(t *testing.T, id uint64) {
	t.Helper()
	f.tok.Approve(borrower, marketAddr, big.NewInt(2000))
	require.NoError(t, f.mkt.Lend(lender, id, big.NewInt(1000)))
}

func TestCreateRequest(t *testing.T) {
	f := newFixture(t)

	t.Run("ids start at one", func(t *testing.T) {
		id := f.createRequest(t)
		assert.Equal(t, uint64(1), id)
		assert.Equal(t, 1, f.mkt.TotalRequests())
	})

	t.Run("payoff must exceed the principal", func(t *testing.T) {
		_, err := f.mkt.CreateRequest(borrower, f.tok,
			big.NewInt(1000), big.NewInt(2000), big.NewInt(1000), time.Hour)
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("zero amounts are rejected", func(t *testing.T) {
		_, err := f.mkt.CreateRequest(borrower, f.tok,
			big.NewInt(0), big.NewInt(2000), big.NewInt(1100), time.Hour)
		assert.True(t, domain.IsRule(err, domain.RuleValue))

		_, err = f.mkt.CreateRequest(borrower, f.tok,
			big.NewInt(1000), big.NewInt(0), big.NewInt(1100), time.Hour)
		assert.True(t, domain.IsRule(err, domain.RuleValue))

		_, err = f.mkt.CreateRequest(borrower, f.tok,
			big.NewInt(1000), big.NewInt(2000), big.NewInt(1100), 0)
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})
}

func TestLend(t *testing.T) {
	t.Run("moves principal and collateral", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.fill(t, id)

		assert.Equal(t, big.NewInt(6000), f.led.Balance(borrower))
		assert.Equal(t, big.NewInt(4000), f.led.Balance(lender))
		assert.Equal(t, big.NewInt(2000), f.tok.BalanceOf(marketAddr))
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(t)
		err := f.mkt.Lend(lender, 99, big.NewInt(1000))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("value must match the principal", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.tok.Approve(borrower, marketAddr, big.NewInt(2000))
		err := f.mkt.Lend(lender, id, big.NewInt(999))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("borrower cannot self-fill", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.tok.Approve(borrower, marketAddr, big.NewInt(2000))
		err := f.mkt.Lend(borrower, id, big.NewInt(1000))
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})

	t.Run("cannot fill twice", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.fill(t, id)
		err := f.mkt.Lend(lender, id, big.NewInt(1000))
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})

	t.Run("requires collateral allowance", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		err := f.mkt.Lend(lender, id, big.NewInt(1000))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})
}

func TestPay(t *testing.T) {
	t.Run("payoff to lender, collateral back", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.fill(t, id)

		require.NoError(t, f.mkt.Pay(borrower, id, big.NewInt(1100)))
		assert.Equal(t, big.NewInt(5100), f.led.Balance(lender))
		assert.Equal(t, big.NewInt(10000), f.tok.BalanceOf(borrower))
	})

	t.Run("borrower only", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.fill(t, id)
		err := f.mkt.Pay(lender, id, big.NewInt(1100))
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})

	t.Run("value must match the payoff", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.fill(t, id)
		err := f.mkt.Pay(borrower, id, big.NewInt(1000))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("rejected at or after the deadline", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.fill(t, id)
		f.clk.Advance(30 * 24 * time.Hour)
		err := f.mkt.Pay(borrower, id, big.NewInt(1100))
		assert.True(t, domain.IsRule(err, domain.RuleTemporal))
	})
}

func TestLiquidate(t *testing.T) {
	t.Run("collateral to lender after expiry", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.fill(t, id)
		f.clk.Advance(30 * 24 * time.Hour)

		require.NoError(t, f.mkt.Liquidate(lender, id))
		assert.Equal(t, big.NewInt(2000), f.tok.BalanceOf(lender))
	})

	t.Run("rejected before expiry", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.fill(t, id)
		err := f.mkt.Liquidate(lender, id)
		assert.True(t, domain.IsRule(err, domain.RuleTemporal))
	})

	t.Run("lender only", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.fill(t, id)
		f.clk.Advance(30 * 24 * time.Hour)
		err := f.mkt.Liquidate(borrower, id)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})

	t.Run("repaid loan cannot be liquidated", func(t *testing.T) {
		f := newFixture(t)
		id := f.createRequest(t)
		f.fill(t, id)
		require.NoError(t, f.mkt.Pay(borrower, id, big.NewInt(1100)))
		f.clk.Advance(60 * 24 * time.Hour)
		err := f.mkt.Liquidate(lender, id)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})
}
