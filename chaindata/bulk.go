package chaindata

import (
	"context"
	"encoding/json"
)

// BulkStorage is the narrow upload surface the bulk encoder needs: put
// bytes, get back the content hash they resolve to.
type BulkStorage interface {
	Put(ctx context.Context, content []byte) (hash string, err error)
}

// Encode serializes msgs as an on_chain_sync envelope. If the serialized
// size exceeds threshold, it instead uploads the envelope to storage and
// returns an off_chain_sync envelope pointing at the resulting hash.
func Encode(ctx context.Context, storage BulkStorage, msgs []json.RawMessage, threshold int) (*SyncEnvelope, error) {
	inline, err := json.Marshal(inlineContent{Messages: msgs})
	if err != nil {
		return nil, err
	}
	if len(inline) <= threshold {
		return &SyncEnvelope{Protocol: "aleph-sync", Version: 1, Content: inline}, nil
	}

	full := SyncEnvelope{Protocol: "aleph-sync", Version: 1, Content: inline}
	fullBytes, err := json.Marshal(full)
	if err != nil {
		return nil, err
	}
	hash, err := storage.Put(ctx, fullBytes)
	if err != nil {
		return nil, err
	}
	hashJSON, err := json.Marshal(hash)
	if err != nil {
		return nil, err
	}
	return &SyncEnvelope{Protocol: "aleph-offchain-sync", Version: 1, Content: hashJSON}, nil
}

// Decode reverses Encode: for an inline envelope it returns the messages
// directly; for an off-chain envelope it fetches the hash and parses the
// full envelope it points to.
func Decode(ctx context.Context, fetch func(ctx context.Context, hash string) ([]byte, error), env *SyncEnvelope) ([]json.RawMessage, error) {
	switch env.Protocol {
	case "aleph-sync":
		var inline inlineContent
		if err := json.Unmarshal(env.Content, &inline); err != nil {
			return nil, &InvalidContent{Reason: err.Error()}
		}
		return inline.Messages, nil
	case "aleph-offchain-sync":
		var hash string
		if err := json.Unmarshal(env.Content, &hash); err != nil {
			return nil, &InvalidContent{Reason: err.Error()}
		}
		raw, err := fetch(ctx, hash)
		if err != nil {
			return nil, err
		}
		var full SyncEnvelope
		if err := json.Unmarshal(raw, &full); err != nil {
			return nil, &InvalidContent{Reason: err.Error()}
		}
		var inline inlineContent
		if err := json.Unmarshal(full.Content, &inline); err != nil {
			return nil, &InvalidContent{Reason: err.Error()}
		}
		return inline.Messages, nil
	default:
		return nil, &InvalidContent{Reason: "unknown envelope protocol " + env.Protocol}
	}
}
