package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// personalPrefix is the Ethereum signed-message prefix applied to 32-byte
// digests before signing.
const personalPrefix = "\x19Ethereum Signed Message:\n32"

// uint256Mod is 2^256, the modulus of the uint256 packing.
var uint256Mod = new(big.Int).Lsh(big.NewInt(1), 256)

// PackUint256 returns the 32-byte big-endian encoding of n. Values outside
// [0, 2^256) are reduced modulo 2^256, matching uint256 wrap-around.
func PackUint256(n *big.Int) []byte {
	v := n
	if n.Sign() < 0 || n.BitLen() > 256 {
		v = new(big.Int).Mod(n, uint256Mod)
	}
	padded := make([]byte, 32)
	v.FillBytes(padded)
	return padded
}

// PackAddress returns the raw 20-byte encoding of a.
func PackAddress(a common.Address) []byte {
	return a.Bytes()
}

// PackBool returns the single-byte encoding of b.
func PackBool(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// Keccak concatenates the packed chunks and returns their keccak-256 hash.
func Keccak(chunks ...[]byte) []byte {
	return ethcrypto.Keccak256(concatBytes(chunks...))
}

// PersonalDigest wraps a 32-byte hash in the Ethereum signed-message prefix
// and hashes again. Signatures over agreement digests are made and verified
// against this wrapped form.
func PersonalDigest(hash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte(personalPrefix), hash))
}

// Signer signs agreement digests with a secp256k1 private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignDigest signs a 32-byte digest and returns the 65-byte r||s||v signature
// with v in {27,28}.
func (s *Signer) SignDigest(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignPersonal applies the signed-message prefix to hash and signs the result.
func (s *Signer) SignPersonal(hash []byte) ([]byte, error) {
	return s.SignDigest(PersonalDigest(hash))
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
