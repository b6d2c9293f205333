package receiverpays

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
)

const ownerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	poolAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	payee    = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	other    = common.HexToAddress("0x00000000000000000000000000000000000000f3")
)

type fixture struct {
	led    *ledger.Ledger
	signer *crypto.Signer
	pool   *Pool
}

func newFixture(t *testing.T, deposit int64) *fixture {
	t.Helper()

	signer, err := crypto.NewSigner(ownerKey)
	require.NoError(t, err)

	led := ledger.New()
	require.NoError(t, led.Mint(signer.Address(), big.NewInt(1000)))

	pool, err := New(Config{
		Address: poolAddr,
		Owner:   signer.Address(),
		Deposit: big.NewInt(deposit),
		Ledger:  led,
	})
	require.NoError(t, err)

	return &fixture{led: led, signer: signer, pool: pool}
}

func (f *fixture) signClaim(t *testing.T, recipient common.Address, amount int64, nonce uint64) []byte {
	t.Helper()
	sig, err := f.signer.SignPersonal(ClaimDigest(recipient, big.NewInt(amount), nonce, poolAddr))
	require.NoError(t, err)
	return sig
}

func TestClaimPayment(t *testing.T) {
	t.Run("pays a correctly signed claim", func(t *testing.T) {
		f := newFixture(t, 500)
		sig := f.signClaim(t, payee, 120, 1)

		require.NoError(t, f.pool.ClaimPayment(payee, big.NewInt(120), 1, sig))
		assert.Equal(t, big.NewInt(120), f.led.Balance(payee))
		assert.Equal(t, big.NewInt(380), f.pool.Balance())
		assert.True(t, f.pool.NonceUsed(1))
	})

	t.Run("rejects a replayed nonce", func(t *testing.T) {
		f := newFixture(t, 500)
		sig := f.signClaim(t, payee, 120, 7)

		require.NoError(t, f.pool.ClaimPayment(payee, big.NewInt(120), 7, sig))
		err := f.pool.ClaimPayment(payee, big.NewInt(120), 7, sig)
		assert.True(t, domain.IsRule(err, domain.RuleState))
		assert.Equal(t, big.NewInt(120), f.led.Balance(payee))
	})

	t.Run("a fresh nonce with the same amount still pays", func(t *testing.T) {
		f := newFixture(t, 500)
		require.NoError(t, f.pool.ClaimPayment(payee, big.NewInt(100), 1, f.signClaim(t, payee, 100, 1)))
		require.NoError(t, f.pool.ClaimPayment(payee, big.NewInt(100), 2, f.signClaim(t, payee, 100, 2)))
		assert.Equal(t, big.NewInt(200), f.led.Balance(payee))
	})

	t.Run("claim is bound to the recipient", func(t *testing.T) {
		f := newFixture(t, 500)
		sig := f.signClaim(t, payee, 120, 1)

		err := f.pool.ClaimPayment(other, big.NewInt(120), 1, sig)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
		assert.False(t, f.pool.NonceUsed(1), "rejected claim must not burn the nonce")
	})

	t.Run("claim is bound to the amount", func(t *testing.T) {
		f := newFixture(t, 500)
		sig := f.signClaim(t, payee, 120, 1)

		err := f.pool.ClaimPayment(payee, big.NewInt(121), 1, sig)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})

	t.Run("rejects claims beyond the pool balance", func(t *testing.T) {
		f := newFixture(t, 100)
		sig := f.signClaim(t, payee, 200, 1)

		err := f.pool.ClaimPayment(payee, big.NewInt(200), 1, sig)
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})
}

func TestKill(t *testing.T) {
	t.Run("refunds the residual to the owner", func(t *testing.T) {
		f := newFixture(t, 500)
		require.NoError(t, f.pool.ClaimPayment(payee, big.NewInt(100), 1, f.signClaim(t, payee, 100, 1)))

		require.NoError(t, f.pool.Kill(f.signer.Address()))
		assert.Equal(t, big.NewInt(900), f.led.Balance(f.signer.Address()))
		assert.Zero(t, f.pool.Balance().Sign())
	})

	t.Run("owner only", func(t *testing.T) {
		f := newFixture(t, 500)
		err := f.pool.Kill(payee)
		assert.True(t, domain.IsRule(err, domain.RuleAuthorization))
	})

	t.Run("claims after kill are rejected", func(t *testing.T) {
		f := newFixture(t, 500)
		sig := f.signClaim(t, payee, 100, 1)
		require.NoError(t, f.pool.Kill(f.signer.Address()))

		err := f.pool.ClaimPayment(payee, big.NewInt(100), 1, sig)
		assert.True(t, domain.IsRule(err, domain.RuleState))
	})
}
