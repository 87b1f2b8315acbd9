// Package chainsig verifies a message's signature against its sender
// address using the scheme appropriate to the sender's chain: secp256k1
// recovery for EVM-style chains, ed25519 for Solana/Tezos-style chains.
package chainsig

import (
	"github.com/aleph-im/go-ccn/model"
)

// Verifier checks that signature over content was produced by sender.
type Verifier interface {
	Verify(sender string, content, signature []byte) (bool, error)
}

// Registry dispatches to the Verifier registered for a chain.
type Registry struct {
	verifiers map[model.Chain]Verifier
}

// NewRegistry returns a Registry with the EVM and ed25519 schemes
// pre-registered for the chains original_source wires up.
func NewRegistry() *Registry {
	evm := &EVMVerifier{}
	ed := &Ed25519Verifier{}
	return &Registry{verifiers: map[model.Chain]Verifier{
		"ETH":      evm,
		"BSC":      evm,
		"AVAX":     evm,
		"SOL":      ed,
		"TEZOS":    ed,
	}}
}

// Register overrides or adds a chain's Verifier.
func (r *Registry) Register(chain model.Chain, v Verifier) {
	r.verifiers[chain] = v
}

// Verify looks up the Verifier for chain and delegates; an unregistered
// chain is an INVALID_SIGNATURE rather than a panic, since chains arrive
// as open strings.
func (r *Registry) Verify(chain model.Chain, sender string, content, signature []byte) (bool, error) {
	v, ok := r.verifiers[chain]
	if !ok {
		return false, nil
	}
	return v.Verify(sender, content, signature)
}
