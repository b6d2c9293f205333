package crypto

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Deterministic test key; never used outside tests.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestPacking(t *testing.T) {
	t.Run("uint256 is 32-byte big-endian", func(t *testing.T) {
		b := PackUint256(big.NewInt(1))
		require.Len(t, b, 32)
		assert.Equal(t, byte(1), b[31])
		assert.Equal(t, byte(0), b[0])
	})

	t.Run("uint256 wraps modulo 2^256", func(t *testing.T) {
		// 2^256 + 7 and 7 are the same uint256.
		big7 := big.NewInt(7)
		over := new(big.Int).Lsh(big.NewInt(1), 256)
		over.Add(over, big7)
		assert.Equal(t, PackUint256(big7), PackUint256(over))

		// An extra high word must not displace the low bytes.
		wide := new(big.Int).Lsh(big.NewInt(1), 300)
		wide.Add(wide, big7)
		assert.Equal(t, PackUint256(big7), PackUint256(wide))
	})

	t.Run("address is 20 raw bytes", func(t *testing.T) {
		addr := common.HexToAddress("0x00000000000000000000000000000000000000ff")
		b := PackAddress(addr)
		require.Len(t, b, 20)
		assert.Equal(t, byte(0xff), b[19])
	})

	t.Run("bool is a single byte", func(t *testing.T) {
		assert.Equal(t, []byte{1}, PackBool(true))
		assert.Equal(t, []byte{0}, PackBool(false))
	})
}

func TestKeccakPackedDigest(t *testing.T) {
	// keccak256 of empty input is a well-known constant.
	empty := Keccak()
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(empty),
	)

	// Digest changes with every packed field.
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	d1 := Keccak(PackUint256(big.NewInt(10)), PackAddress(addr))
	d2 := Keccak(PackUint256(big.NewInt(11)), PackAddress(addr))
	assert.NotEqual(t, d1, d2)
	require.Len(t, d1, 32)
}

func TestSignAndRecover(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	hash := Keccak(PackUint256(big.NewInt(42)), PackAddress(signer.Address()))

	sig, err := signer.SignPersonal(hash)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.GreaterOrEqual(t, sig[64], byte(27))

	t.Run("recovers the signing address", func(t *testing.T) {
		got, err := RecoverPersonal(hash, sig)
		require.NoError(t, err)
		assert.Equal(t, signer.Address(), got)
	})

	t.Run("accepts v in {0,1} as well", func(t *testing.T) {
		alt := make([]byte, 65)
		copy(alt, sig)
		alt[64] -= 27
		got, err := RecoverPersonal(hash, alt)
		require.NoError(t, err)
		assert.Equal(t, signer.Address(), got)
	})

	t.Run("rejects a different expected signer", func(t *testing.T) {
		other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
		assert.True(t, SignedBy(hash, sig, signer.Address()))
		assert.False(t, SignedBy(hash, sig, other))
	})

	t.Run("signature does not transfer to another digest", func(t *testing.T) {
		otherHash := Keccak(PackUint256(big.NewInt(43)), PackAddress(signer.Address()))
		assert.False(t, SignedBy(otherHash, sig, signer.Address()))
	})

	t.Run("rejects malformed signatures", func(t *testing.T) {
		_, err := RecoverPersonal(hash, sig[:64])
		require.Error(t, err)
		assert.False(t, SignedBy(hash, sig[:10], signer.Address()))
	})
}

func TestKeyEncryptionRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}
