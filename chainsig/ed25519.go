package chainsig

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// Ed25519Verifier covers Solana/Tezos-style chains where the sender
// address is the hex- or base58-less hex encoding of the raw public key.
// crypto/ed25519 is used directly (stdlib, justified): no pack example or
// ecosystem library offers a meaningfully different ed25519 verifier.
type Ed25519Verifier struct{}

// Verify reports whether signature over content validates under the
// public key encoded in sender (hex).
func (Ed25519Verifier) Verify(sender string, content, signature []byte) (bool, error) {
	pub, err := hex.DecodeString(sender)
	if err != nil {
		return false, fmt.Errorf("chainsig: sender %q is not hex: %w", sender, err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("chainsig: sender pubkey must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), content, signature), nil
}
