package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	escrow = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func TestLedgerTransfer(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(alice, big.NewInt(100)))

	t.Run("moves funds between accounts", func(t *testing.T) {
		require.NoError(t, l.Transfer(alice, bob, big.NewInt(40)))
		assert.Equal(t, big.NewInt(60), l.Balance(alice))
		assert.Equal(t, big.NewInt(40), l.Balance(bob))
	})

	t.Run("rejects overdraft and leaves balances untouched", func(t *testing.T) {
		err := l.Transfer(alice, bob, big.NewInt(1000))
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)
		assert.Equal(t, big.NewInt(60), l.Balance(alice))
		assert.Equal(t, big.NewInt(40), l.Balance(bob))
	})

	t.Run("rejects negative amounts", func(t *testing.T) {
		require.Error(t, l.Transfer(alice, bob, big.NewInt(-1)))
	})

	t.Run("allows exact-balance transfer", func(t *testing.T) {
		require.NoError(t, l.Transfer(alice, escrow, big.NewInt(60)))
		assert.Zero(t, l.Balance(alice).Sign())
		assert.Equal(t, big.NewInt(60), l.Balance(escrow))
	})
}

func TestLedgerBalanceIsACopy(t *testing.T) {
	l := New()
	require.NoError(t, l.Mint(alice, big.NewInt(10)))

	b := l.Balance(alice)
	b.SetInt64(999)
	assert.Equal(t, big.NewInt(10), l.Balance(alice))
}

func TestMemToken(t *testing.T) {
	tokenAddr := common.HexToAddress("0x0000000000000000000000000000000000000701")
	tok := NewMemToken(tokenAddr)
	tok.Mint(alice, big.NewInt(500))

	t.Run("direct transfer", func(t *testing.T) {
		require.NoError(t, tok.Transfer(alice, bob, big.NewInt(100)))
		assert.Equal(t, big.NewInt(400), tok.BalanceOf(alice))
		assert.Equal(t, big.NewInt(100), tok.BalanceOf(bob))
	})

	t.Run("transferFrom requires allowance", func(t *testing.T) {
		err := tok.TransferFrom(escrow, alice, bob, big.NewInt(50))
		require.Error(t, err)

		tok.Approve(alice, escrow, big.NewInt(50))
		require.NoError(t, tok.TransferFrom(escrow, alice, bob, big.NewInt(50)))
		assert.Zero(t, tok.Allowance(alice, escrow).Sign())
		assert.Equal(t, big.NewInt(350), tok.BalanceOf(alice))
	})

	t.Run("transferFrom cannot exceed allowance", func(t *testing.T) {
		tok.Approve(alice, escrow, big.NewInt(10))
		err := tok.TransferFrom(escrow, alice, bob, big.NewInt(11))
		require.Error(t, err)
		assert.Equal(t, big.NewInt(10), tok.Allowance(alice, escrow))
	})

	t.Run("approve overwrites prior allowance", func(t *testing.T) {
		tok.Approve(alice, escrow, big.NewInt(7))
		assert.Equal(t, big.NewInt(7), tok.Allowance(alice, escrow))
	})
}
