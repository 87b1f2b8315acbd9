package chainsig

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

// EVMVerifier recovers the signer's address from an Ethereum-style
// 65-byte (r || s || v) signature and compares it against the declared
// sender, using Keccak-256 over a prefixed message the way personal_sign
// does.
type EVMVerifier struct{}

// Verify reports whether signature recovers to sender over content.
func (EVMVerifier) Verify(sender string, content, signature []byte) (bool, error) {
	if len(signature) != 65 {
		return false, fmt.Errorf("chainsig: evm signature must be 65 bytes, got %d", len(signature))
	}
	digest := personalMessageHash(content)

	recID := signature[64]
	if recID >= 27 {
		recID -= 27
	}
	compact := make([]byte, 65)
	compact[0] = recID + 27
	copy(compact[1:], signature[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(addressFromPubkey(pub), sender), nil
}

func personalMessageHash(content []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(content))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(content)
	return h.Sum(nil)
}

func addressFromPubkey(pub *btcec.PublicKey) string {
	raw := pub.SerializeUncompressed()[1:] // drop the 0x04 prefix
	h := sha3.NewLegacyKeccak256()
	h.Write(raw)
	sum := h.Sum(nil)
	return "0x" + fmt.Sprintf("%x", sum[len(sum)-20:])
}
