package storageservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/model"
)

func TestFetchCacheHit(t *testing.T) {
	cache := NewMemCache()
	cache.Set(context.Background(), "h1", []byte("cached"), 0)
	svc := New(nil, cache, nil, false)

	res := svc.Fetch(context.Background(), "h1", model.ItemTypeIPFS, time.Second)
	require.NoError(t, res.Err)
	require.Equal(t, []byte("cached"), res.Bytes)
}

func TestFetchFromIPFSVerifiesHash(t *testing.T) {
	cache := NewMemCache()
	ipfs := NewFakeIPFS()
	content := []byte(`{"messages":[]}`)
	hash := model.ItemHash(content)
	ipfs.Put(hash, content)

	svc := New(nil, cache, ipfs, true)
	res := svc.Fetch(context.Background(), hash, model.ItemTypeIPFS, time.Second)
	require.NoError(t, res.Err)
	require.Equal(t, content, res.Bytes)

	cached, ok := cache.Get(context.Background(), hash)
	require.True(t, ok)
	require.Equal(t, content, cached)
}

func TestFetchUnavailableWhenNoIPFS(t *testing.T) {
	svc := New(nil, NewMemCache(), nil, false)
	res := svc.Fetch(context.Background(), "missing", model.ItemTypeIPFS, time.Second)
	require.True(t, res.Unavailable)
}
