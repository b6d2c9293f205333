package coinflip

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
	gameAddr = common.HexToAddress("0x0000000000000000000000000000000000000f01")
	player1  = common.HexToAddress("0x0000000000000000000000000000000000000f02")
	player2  = common.HexToAddress("0x0000000000000000000000000000000000000f03")
)

type fixture struct {
	led  *ledger.Ledger
	game *Game
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	led := ledger.New()
	require.NoError(t, led.Mint(player1, big.NewInt(100)))
	require.NoError(t, led.Mint(player2, big.NewInt(100)))

	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	game := New(Config{Address: gameAddr, Ledger: led, Clock: clk})
	return &fixture{led: led, game: game}
}

func (f *fixture) flip(t *testing.T, secret int64, outcome bool, stake int64) {
	t.Helper()
	c := FlipDigest(big.NewInt(secret), outcome)
	require.NoError(t, f.game.Flip(player1, c, big.NewInt(stake)))
}

func TestFlip(t *testing.T) {
	t.Run("escrows the stake", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		assert.Equal(t, big.NewInt(90), f.led.Balance(player1))
		assert.Equal(t, big.NewInt(10), f.led.Balance(gameAddr))
		assert.Equal(t, protocol.StatusActive, f.game.Status())
	})

	t.Run("stake must be positive", func(t *testing.T) {
		f := newFixture(t)
		c := FlipDigest(big.NewInt(42), true)
		err := f.game.Flip(player1, c, big.NewInt(0))
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("only one flip per game", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		c := FlipDigest(big.NewInt(7), false)
		err := f.game.Flip(player2, c, big.NewInt(10))
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})
}

func TestGuess(t *testing.T) {
	t.Run("requires a flip", func(t *testing.T) {
		f := newFixture(t)
		err := f.game.Guess(player2, true)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})

	t.Run("player one cannot guess", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		err := f.game.Guess(player1, true)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})

	t.Run("only one guess", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		require.NoError(t, f.game.Guess(player2, true))
		err := f.game.Guess(player2, false)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})

	t.Run("guessing places no stake", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		require.NoError(t, f.game.Guess(player2, true))
		assert.Equal(t, big.NewInt(100), f.led.Balance(player2))
	})
}

func TestReveal(t *testing.T) {
	t.Run("correct guess pays player two", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		require.NoError(t, f.game.Guess(player2, true))

		require.NoError(t, f.game.Reveal(player1, big.NewInt(42), true))
		assert.Equal(t, player2, f.game.Winner())
		assert.Equal(t, big.NewInt(110), f.led.Balance(player2))
		assert.Equal(t, big.NewInt(90), f.led.Balance(player1))
		assert.Equal(t, protocol.StatusSettled, f.game.Status())
	})

	t.Run("wrong guess returns the pot to player one", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		require.NoError(t, f.game.Guess(player2, false))

		require.NoError(t, f.game.Reveal(player1, big.NewInt(42), true))
		assert.Equal(t, player1, f.game.Winner())
		assert.Equal(t, big.NewInt(100), f.led.Balance(player1))
		assert.Equal(t, big.NewInt(100), f.led.Balance(player2))
	})

	t.Run("player one only", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		require.NoError(t, f.game.Guess(player2, true))
		err := f.game.Reveal(player2, big.NewInt(42), true)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})

	t.Run("requires a guess", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		err := f.game.Reveal(player1, big.NewInt(42), true)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})

	t.Run("commitment must match", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		require.NoError(t, f.game.Guess(player2, true))

		// Wrong secret, then the right secret with a flipped outcome.
		err := f.game.Reveal(player1, big.NewInt(41), true)
		assert.True(t, domain.IsRule(err, domain.RuleValue))
		err = f.game.Reveal(player1, big.NewInt(42), false)
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("resolves once", func(t *testing.T) {
		f := newFixture(t)
		f.flip(t, 42, true, 10)
		require.NoError(t, f.game.Guess(player2, true))
		require.NoError(t, f.game.Reveal(player1, big.NewInt(42), true))
		err := f.game.Reveal(player1, big.NewInt(42), true)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})
}
