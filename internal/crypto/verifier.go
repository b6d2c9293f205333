package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RecoverDigest recovers the address that produced sig over a 32-byte digest.
// It accepts v in {0,1} or {27,28}.
func RecoverDigest(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/verifier: signature must be 65 bytes, got %d", len(sig))
	}

	// go-ethereum recovery expects v in {0,1}.
	norm := make([]byte, 65)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(digest, norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/verifier: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RecoverPersonal recovers the signer of a personal-prefixed signature over
// the given 32-byte hash.
func RecoverPersonal(hash, sig []byte) (common.Address, error) {
	return RecoverDigest(PersonalDigest(hash), sig)
}

// SignedBy reports whether sig is a valid personal-prefixed signature over
// hash by the expected address. Malformed signatures report false.
func SignedBy(hash, sig []byte, expected common.Address) bool {
	got, err := RecoverPersonal(hash, sig)
	if err != nil {
		return false
	}
	return got == expected
}
