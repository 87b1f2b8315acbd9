package chaindata

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/storageservice"
	"github.com/aleph-im/go-ccn/store"
)

type fakeSeenIDs struct{ seen map[string]bool }

func (f *fakeSeenIDs) SeenRecently(key string) bool {
	if f.seen[key] {
		return true
	}
	f.seen[key] = true
	return false
}

func TestLRUSeenIDsSuppressesSecondLookup(t *testing.T) {
	s, err := NewLRUSeenIDs(2)
	require.NoError(t, err)
	require.False(t, s.SeenRecently("a"))
	require.True(t, s.SeenRecently("a"))
	require.False(t, s.SeenRecently("b"))
}

func TestOnChainSyncV1(t *testing.T) {
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()
	svc := New(storageservice.New(st, storageservice.NewMemCache(), nil, false), st)

	m1 := json.RawMessage(`{"type":"post"}`)
	m2 := json.RawMessage(`{"type":"aggregate"}`)
	content, err := json.Marshal(map[string]any{
		"protocol": "aleph-sync", "version": 1,
		"content": map[string]any{"messages": []json.RawMessage{m1, m2}},
	})
	require.NoError(t, err)

	tx := &model.ChainTx{Hash: "tx1", Chain: "ETH", Protocol: model.ProtocolOnChainSync, ProtocolVersion: 1, Content: content}
	msgs, err := svc.GetTxMessages(context.Background(), tx, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestOffChainSyncV1Indirection(t *testing.T) {
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()
	ipfs := storageservice.NewFakeIPFS()
	svc := New(storageservice.New(st, storageservice.NewMemCache(), ipfs, true), st)

	m1 := json.RawMessage(`{"type":"post","item_hash":"m1"}`)
	m2 := json.RawMessage(`{"type":"post","item_hash":"m2"}`)
	bundle, err := json.Marshal(map[string]any{
		"protocol": "aleph-sync", "version": 1,
		"content": map[string]any{"messages": []json.RawMessage{m1, m2}},
	})
	require.NoError(t, err)
	hash := model.ItemHash(bundle)
	ipfs.Put(hash, bundle)

	hashJSON, _ := json.Marshal(hash)
	tx := &model.ChainTx{Hash: "tx1", Chain: "ETH", Protocol: model.ProtocolOffChainSync, ProtocolVersion: 1, Content: hashJSON}

	msgs, err := svc.GetTxMessages(context.Background(), tx, &fakeSeenIDs{seen: map[string]bool{}})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestOffChainSyncSeenIDsSuppression(t *testing.T) {
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()
	ipfs := storageservice.NewFakeIPFS()
	svc := New(storageservice.New(st, storageservice.NewMemCache(), ipfs, false), st)

	bundle, _ := json.Marshal(map[string]any{"protocol": "aleph-sync", "version": 1, "content": map[string]any{"messages": []json.RawMessage{}}})
	hash := model.ItemHash(bundle)
	ipfs.Put(hash, bundle)
	hashJSON, _ := json.Marshal(hash)
	tx := &model.ChainTx{Hash: "tx1", Chain: "ETH", Protocol: model.ProtocolOffChainSync, ProtocolVersion: 1, Content: hashJSON}

	seen := &fakeSeenIDs{seen: map[string]bool{}}
	_, err = svc.GetTxMessages(context.Background(), tx, seen)
	require.NoError(t, err)

	msgs, err := svc.GetTxMessages(context.Background(), tx, seen)
	require.NoError(t, err)
	require.Equal(t, []json.RawMessage{}, msgs)
}

func TestSmartContractV1StoreIPFS(t *testing.T) {
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()
	svc := New(storageservice.New(st, storageservice.NewMemCache(), nil, false), st)

	content, err := json.Marshal(map[string]any{
		"timestamp": float64(time.Now().Unix()),
		"addr":      "tz1abc",
		"msgtype":   "STORE_IPFS",
		"msgcontent": "Qmhash",
	})
	require.NoError(t, err)

	tx := &model.ChainTx{Hash: "tx1", Chain: "TEZOS", Protocol: model.ProtocolSmartContract, ProtocolVersion: 1, Content: content, Datetime: time.Now()}
	msgs, err := svc.GetTxMessages(context.Background(), tx, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0], &decoded))
	require.Equal(t, "store", decoded["type"])
	require.Equal(t, "tz1abc", decoded["sender"])
}

func TestSmartContractV1RejectsOtherMsgType(t *testing.T) {
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()
	svc := New(storageservice.New(st, storageservice.NewMemCache(), nil, false), st)

	content, _ := json.Marshal(map[string]any{"timestamp": 1.0, "addr": "tz1abc", "msgtype": "OTHER", "msgcontent": "x"})
	tx := &model.ChainTx{Hash: "tx1", Chain: "TEZOS", Protocol: model.ProtocolSmartContract, ProtocolVersion: 1, Content: content}
	_, err = svc.GetTxMessages(context.Background(), tx, nil)
	require.Error(t, err)
}

type memBulkStorage struct{ data map[string][]byte }

func (m *memBulkStorage) Put(_ context.Context, content []byte) (string, error) {
	hash := model.ItemHash(content)
	m.data[hash] = content
	return hash, nil
}

func (m *memBulkStorage) fetch(_ context.Context, hash string) ([]byte, error) {
	return m.data[hash], nil
}

func TestBulkEncodeDecodeRoundTrip(t *testing.T) {
	storage := &memBulkStorage{data: map[string][]byte{}}
	msgs := []json.RawMessage{json.RawMessage(`{"type":"post","n":1}`), json.RawMessage(`{"type":"post","n":2}`)}

	lowThreshold, err := Encode(context.Background(), storage, msgs, 50)
	require.NoError(t, err)
	require.Equal(t, "aleph-offchain-sync", lowThreshold.Protocol)

	decoded, err := Decode(context.Background(), storage.fetch, lowThreshold)
	require.NoError(t, err)
	require.JSONEq(t, string(msgs[0]), string(decoded[0]))
	require.JSONEq(t, string(msgs[1]), string(decoded[1]))

	highThreshold, err := Encode(context.Background(), storage, msgs, 100000)
	require.NoError(t, err)
	require.Equal(t, "aleph-sync", highThreshold.Protocol)

	decoded2, err := Decode(context.Background(), storage.fetch, highThreshold)
	require.NoError(t, err)
	require.Len(t, decoded2, 2)
}
