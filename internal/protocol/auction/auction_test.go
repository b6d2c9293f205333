package auction

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
	auctionAddr = common.HexToAddress("0x0000000000000000000000000000000000000d01")
	owner       = common.HexToAddress("0x0000000000000000000000000000000000000d02")
	bidderA     = common.HexToAddress("0x0000000000000000000000000000000000000d03")
	bidderB     = common.HexToAddress("0x0000000000000000000000000000000000000d04")
	tokenAddr   = common.HexToAddress("0x0000000000000000000000000000000000000d05")
)

type fixture struct {
	led *ledger.Ledger
	tok *ledger.MemToken
	clk *clock.Fake
	auc *Auction
}

// newFixture opens an auction for 50 tokens, reserve 100, increment 10,
// 15-minute inactivity window, 2-hour hard end.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	led := ledger.New()
	require.NoError(t, led.Mint(bidderA, big.NewInt(10000)))
	require.NoError(t, led.Mint(bidderB, big.NewInt(10000)))

	tok := ledger.NewMemToken(tokenAddr)
	tok.Mint(owner, big.NewInt(50))
	tok.Approve(owner, auctionAddr, big.NewInt(50))

	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	auc, err := New(Config{
		Address:      auctionAddr,
		Owner:        owner,
		Token:        tok,
		TokenAmount:  big.NewInt(50),
		Reserve:      big.NewInt(100),
		MinIncrement: big.NewInt(10),
		Inactivity:   15 * time.Minute,
		Duration:     2 * time.Hour,
		Ledger:       led,
		Clock:        clk,
	})
	require.NoError(t, err)

	return &fixture{led: led, tok: tok, clk: clk, auc: auc}
}

func TestBid(t *testing.T) {
	t.Run("first bid must exceed the reserve", func(t *testing.T) {
		f := newFixture(t)
		err := f.auc.Bid(bidderA, big.NewInt(100))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
		require.NoError(t, f.auc.Bid(bidderA, big.NewInt(101)))
		assert.Equal(t, bidderA, f.auc.HighestBidder())
	})

	t.Run("subsequent bids must beat by the increment", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.auc.Bid(bidderA, big.NewInt(200)))

		err := f.auc.Bid(bidderB, big.NewInt(209))
		assert.True(t, domain.IsRule(err, domain.RuleValue))

		require.NoError(t, f.auc.Bid(bidderB, big.NewInt(210)))
		assert.Equal(t, bidderB, f.auc.HighestBidder())
		assert.Equal(t, big.NewInt(210), f.auc.HighestBid())
	})

	t.Run("owner cannot bid", func(t *testing.T) {
		f := newFixture(t)
		err := f.auc.Bid(owner, big.NewInt(200))
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})

	t.Run("no bid after the hard end", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.auc.Bid(bidderA, big.NewInt(200)))
		f.clk.Advance(2 * time.Hour)
		err := f.auc.Bid(bidderB, big.NewInt(300))
		assert.True(t, domain.IsRule(err, domain.RuleTemporal))
	})

	t.Run("bidding lapses after the inactivity window", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.auc.Bid(bidderA, big.NewInt(200)))

		// A bid inside the window resets it.
		f.clk.Advance(14 * time.Minute)
		require.NoError(t, f.auc.Bid(bidderB, big.NewInt(210)))

		// The window lapsing exactly closes bidding.
		f.clk.Advance(15 * time.Minute)
		err := f.auc.Bid(bidderA, big.NewInt(220))
		assert.True(t, domain.IsRule(err, domain.RuleTemporal))
	})

	t.Run("bids place no escrow", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.auc.Bid(bidderA, big.NewInt(200)))
		assert.Equal(t, big.NewInt(10000), f.led.Balance(bidderA))
	})
}

func TestEnd(t *testing.T) {
	t.Run("rejected while open", func(t *testing.T) {
		f := newFixture(t)
		err := f.auc.End(bidderA)
		assert.True(t, domain.IsRule(err, domain.RuleTemporal))
	})

	t.Run("allowed once the inactivity window lapses", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.auc.Bid(bidderA, big.NewInt(200)))
		f.clk.Advance(15 * time.Minute)
		require.NoError(t, f.auc.End(bidderA))
	})

	t.Run("allowed after the hard end", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.auc.Bid(bidderA, big.NewInt(200)))
		f.clk.Advance(2 * time.Hour)
		require.NoError(t, f.auc.End(owner))
	})
}

func TestSettleAndWithdraw(t *testing.T) {
	endWithWinner := func(t *testing.T) *fixture {
		f := newFixture(t)
		require.NoError(t, f.auc.Bid(bidderA, big.NewInt(200)))
		f.clk.Advance(15 * time.Minute)
		require.NoError(t, f.auc.End(bidderA))
		return f
	}

	t.Run("winner pays and receives the lot", func(t *testing.T) {
		f := endWithWinner(t)

		require.NoError(t, f.auc.Settle(bidderA, big.NewInt(200)))
		assert.Equal(t, big.NewInt(50), f.tok.BalanceOf(bidderA))
		assert.Equal(t, big.NewInt(9800), f.led.Balance(bidderA))

		require.NoError(t, f.auc.WithdrawProceeds(owner))
		assert.Equal(t, big.NewInt(200), f.led.Balance(owner))
	})

	t.Run("settle before end is rejected", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.auc.Bid(bidderA, big.NewInt(200)))
		err := f.auc.Settle(bidderA, big.NewInt(200))
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})

	t.Run("only the winner settles, at the exact bid", func(t *testing.T) {
		f := endWithWinner(t)

		err := f.auc.Settle(bidderB, big.NewInt(200))
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))

		err = f.auc.Settle(bidderA, big.NewInt(199))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("settlement sticks even if lot delivery fails", func(t *testing.T) {
		f := endWithWinner(t)

		// Allowance is intact but the owner no longer holds the lot.
		require.NoError(t, f.tok.Transfer(owner, bidderB, big.NewInt(50)))

		err := f.auc.Settle(bidderA, big.NewInt(200))
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)

		// The winning payment was collected and the auction is settled;
		// a retry cannot charge the winner twice.
		assert.Equal(t, big.NewInt(9800), f.led.Balance(bidderA))
		err = f.auc.Settle(bidderA, big.NewInt(200))
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})

	t.Run("withdraw requires settlement", func(t *testing.T) {
		f := endWithWinner(t)
		err := f.auc.WithdrawProceeds(owner)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})

	t.Run("withdraw is owner-only and one-shot", func(t *testing.T) {
		f := endWithWinner(t)
		require.NoError(t, f.auc.Settle(bidderA, big.NewInt(200)))

		err := f.auc.WithdrawProceeds(bidderA)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))

		require.NoError(t, f.auc.WithdrawProceeds(owner))
		err = f.auc.WithdrawProceeds(owner)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})
}
