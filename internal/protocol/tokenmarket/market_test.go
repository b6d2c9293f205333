package tokenmarket

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
)

var (
	marketAddr = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	seller     = common.HexToAddress("0x0000000000000000000000000000000000000c02")
	buyer      = common.HexToAddress("0x0000000000000000000000000000000000000c03")
	tokenAddr  = common.HexToAddress("0x0000000000000000000000000000000000000c04")
)

type fixture struct {
	led *ledger.Ledger
	tok *ledger.MemToken
	mkt *Market
}

// newFixture lists 100 units at 3/2 native units per token unit, with the
// market approved to move the seller's tokens.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	led := ledger.New()
	require.NoError(t, led.Mint(buyer, big.NewInt(1000)))

	tok := ledger.NewMemToken(tokenAddr)
	tok.Mint(seller, big.NewInt(100))
	tok.Approve(seller, marketAddr, big.NewInt(100))

	mkt := New(Config{Address: marketAddr, Ledger: led})
	require.NoError(t, mkt.CreateListing(seller, tok, big.NewInt(3), big.NewInt(2), big.NewInt(100)))

	return &fixture{led: led, tok: tok, mkt: mkt}
}

func TestCreateListing(t *testing.T) {
	f := newFixture(t)

	t.Run("details round-trip", func(t *testing.T) {
		l, err := f.mkt.Details(tokenAddr)
		require.NoError(t, err)
		assert.Equal(t, seller, l.Seller)
		assert.True(t, l.Active)
		assert.Equal(t, big.NewInt(100), l.Units)
		assert.Equal(t, 1, f.mkt.TotalListings())
	})

	t.Run("double listing is rejected", func(t *testing.T) {
		err := f.mkt.CreateListing(seller, f.tok, big.NewInt(1), big.NewInt(1), big.NewInt(5))
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})

	t.Run("unknown token lookups fail", func(t *testing.T) {
		other := common.HexToAddress("0x0000000000000000000000000000000000000c99")
		_, err := f.mkt.Details(other)
		assert.True(t, domain.IsRule(err, domain.RuleValue))
		_, err = f.mkt.UnitsAvailable(other)
		assert.True(t, domain.IsRule(err, domain.RuleValue))
		_, err = f.mkt.Cost(other, big.NewInt(1))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})
}

func TestCost(t *testing.T) {
	f := newFixture(t)

	// 10 * 3 / 2 = 15
	cost, err := f.mkt.Cost(tokenAddr, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(15), cost)

	// 7 * 3 / 2 = 10.5, truncated to 10.
	cost, err = f.mkt.Cost(tokenAddr, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), cost)
}

func TestBuy(t *testing.T) {
	t.Run("moves tokens and payment", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.mkt.Buy(buyer, tokenAddr, big.NewInt(10), big.NewInt(15)))
		assert.Equal(t, big.NewInt(10), f.tok.BalanceOf(buyer))
		assert.Equal(t, big.NewInt(15), f.led.Balance(seller))
		assert.Equal(t, big.NewInt(985), f.led.Balance(buyer))

		units, err := f.mkt.UnitsAvailable(tokenAddr)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(90), units)
	})

	t.Run("payment must be exact", func(t *testing.T) {
		f := newFixture(t)
		err := f.mkt.Buy(buyer, tokenAddr, big.NewInt(10), big.NewInt(16))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("cannot exceed available units", func(t *testing.T) {
		f := newFixture(t)
		err := f.mkt.Buy(buyer, tokenAddr, big.NewInt(101), big.NewInt(151))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("cancelled listing rejects buys", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.mkt.CancelListing(seller, tokenAddr))
		err := f.mkt.Buy(buyer, tokenAddr, big.NewInt(10), big.NewInt(15))
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})
}

func TestCancelListing(t *testing.T) {
	f := newFixture(t)

	t.Run("seller only", func(t *testing.T) {
		err := f.mkt.CancelListing(buyer, tokenAddr)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})

	t.Run("seller cancels", func(t *testing.T) {
		require.NoError(t, f.mkt.CancelListing(seller, tokenAddr))
		l, err := f.mkt.Details(tokenAddr)
		require.NoError(t, err)
		assert.False(t, l.Active)
	})
}
