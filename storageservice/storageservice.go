// Package storageservice is the content-addressed blob store: it resolves
// a hash to bytes (checking the cache, then falling back to IPFS),
// accounts for size, and times out pins.
package storageservice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aleph-im/go-ccn/log"
	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

// FetchResult replaces exception-for-control-flow on storage retries with
// an explicit result: Ok carries bytes, Unavailable means retry later,
// Invalid means the content will never resolve.
type FetchResult struct {
	Bytes      []byte
	Unavailable bool
	Invalid    bool
	Err        error
}

// IPFSClient is the narrow interface to an IPFS daemon or gateway; the real
// client is out of scope (spec.md §1 Out of scope) and is supplied by the
// caller.
type IPFSClient interface {
	Cat(ctx context.Context, hash string, timeout time.Duration) ([]byte, error)
	Pin(ctx context.Context, hash string, timeout time.Duration) error
}

// Service resolves content hashes to bytes, pins them, and tracks size.
type Service struct {
	store      *store.Store
	cache      Cache
	ipfs       IPFSClient
	pinEnabled bool
	log        log.Logger
}

// New builds a Service. ipfs may be nil if IPFS fallback/pinning is
// disabled for this deployment.
func New(st *store.Store, cache Cache, ipfs IPFSClient, pinEnabled bool) *Service {
	return &Service{store: st, cache: cache, ipfs: ipfs, pinEnabled: pinEnabled, log: log.New("component", "storageservice")}
}

// Fetch resolves hash according to itemType. inline content is returned
// as-is by the caller (it never reaches here); storage/ipfs content is
// looked up here, checking the cache first.
func (s *Service) Fetch(ctx context.Context, hash string, itemType model.ItemType, timeout time.Duration) FetchResult {
	if b, ok := s.cache.Get(ctx, hash); ok {
		return FetchResult{Bytes: b}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.ipfs == nil {
		return FetchResult{Unavailable: true, Err: fmt.Errorf("storageservice: no IPFS client configured")}
	}
	b, err := s.ipfs.Cat(fetchCtx, hash, timeout)
	if err != nil {
		if fetchCtx.Err() != nil {
			return FetchResult{Unavailable: true, Err: err}
		}
		return FetchResult{Invalid: true, Err: err}
	}
	if !model.VerifyItemHash(hash, b) {
		return FetchResult{Invalid: true, Err: fmt.Errorf("storageservice: content for %s hashed differently", hash)}
	}
	s.cache.Set(ctx, hash, b, 0)
	return FetchResult{Bytes: b}
}

// FetchJSON is Fetch plus a json.Unmarshal into v.
func (s *Service) FetchJSON(ctx context.Context, hash string, timeout time.Duration, v any) FetchResult {
	res := s.Fetch(ctx, hash, model.ItemTypeIPFS, timeout)
	if res.Bytes == nil {
		return res
	}
	if err := json.Unmarshal(res.Bytes, v); err != nil {
		res.Invalid = true
		res.Err = err
	}
	return res
}

// Pin asynchronously pins hash with the given timeout; a timeout here is
// logged, not fatal (spec.md §4.1's off_chain_sync path).
func (s *Service) Pin(ctx context.Context, hash string, timeout time.Duration) {
	if !s.pinEnabled || s.ipfs == nil {
		return
	}
	go func() {
		pinCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.ipfs.Pin(pinCtx, hash, timeout); err != nil {
			s.log.Warn("pin failed or timed out", "hash", hash, "err", err)
		}
	}()
}

// RegisterFetched upserts a StoredFile row and pins it, the bookkeeping
// side of a successful off-chain fetch.
func (s *Service) RegisterFetched(ctx context.Context, hash string, size int64, itemType model.ItemType, pinTimeout time.Duration) error {
	if err := s.store.UpsertStoredFile(ctx, &model.StoredFile{Hash: hash, Size: size, Type: itemType, CreatedAt: time.Now()}); err != nil {
		return err
	}
	s.Pin(ctx, hash, pinTimeout)
	return nil
}
