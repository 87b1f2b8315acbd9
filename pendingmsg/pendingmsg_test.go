package pendingmsg

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/chainsig"
	"github.com/aleph-im/go-ccn/handlers"
	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/scheduler"
	"github.com/aleph-im/go-ccn/storageservice"
	"github.com/aleph-im/go-ccn/store"
)

func newTestProcessor(t *testing.T) (*Processor, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	storage := storageservice.New(st, storageservice.NewMemCache(), storageservice.NewFakeIPFS(), false)
	sig := chainsig.NewRegistry()
	reg := handlers.NewRegistry()
	sched, err := scheduler.New(scheduler.DefaultConfig(), st)
	require.NoError(t, err)

	proc := New(st, storage, sig, reg, sched, Config{})
	return proc, st
}

func insertPending(t *testing.T, st *store.Store, pm *model.PendingMessage) {
	t.Helper()
	require.NoError(t, st.InsertPendingMessage(context.Background(), pm))
	require.NoError(t, st.InsertStatusIfAbsent(context.Background(), pm.ItemHash, pm.ReceptionTime))
}

func itemContentAndHash(t *testing.T, v any) (json.RawMessage, string) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b, model.ItemHash(b)
}

// Scenario 1: an instance message whose rootfs parent and volumes all
// resolve commits cleanly, with a VM row breaking its volumes down into
// {Ephemeral:1, Persistent:3, Immutable:1} and a current-version pointer.
func TestInstanceHappyPath(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertStoredFile(ctx, &model.StoredFile{Hash: sixtyFourHex("p"), Type: model.ItemTypeIPFS, CreatedAt: time.Now()}))
	require.NoError(t, st.UpsertStoredFile(ctx, &model.StoredFile{Hash: sixtyFourHex("v"), Type: model.ItemTypeIPFS, CreatedAt: time.Now()}))

	content, itemHash := itemContentAndHash(t, map[string]any{
		"address":     "0xabc",
		"allow_amend": false,
		"resources":   map[string]any{"vcpus": 1, "memory": 128, "seconds": 30},
		"rootfs":      map[string]any{"parent": map[string]any{"ref": sixtyFourHex("p")}, "persistence": "host", "size_mib": 20000},
		"volumes": []map[string]any{
			{"mount": "/opt/venv", "ref": sixtyFourHex("v")},
			{"mount": "/var/cache", "ephemeral": true, "size_mib": 5},
			{"mount": "/var/lib/sqlite", "name": "sqlite-data", "persistence": "host", "size_mib": 10},
			{"mount": "/var/lib/statistics", "name": "statistics", "persistence": "store", "size_mib": 10},
			{"name": "raw-data", "persistence": "host", "size_mib": 10},
		},
	})

	pm := &model.PendingMessage{
		ID: "pm1", ItemHash: itemHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypeInstance,
		ItemType: model.ItemTypeInline, ItemContent: content, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH",
	}
	insertPending(t, st, pm)

	require.NoError(t, proc.Process(ctx, pm))

	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusProcessed, status.Status)

	msg, err := st.GetMessage(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.MessageTypeInstance, msg.Type)

	vm, err := st.GetVM(ctx, itemHash)
	require.NoError(t, err)
	require.Len(t, vm.Volumes, 5)
	counts := vm.VolumeCounts()
	require.Equal(t, 1, counts[model.VMVolumeEphemeral])
	require.Equal(t, 3, counts[model.VMVolumePersistent])
	require.Equal(t, 1, counts[model.VMVolumeImmutable])

	version, err := st.GetVMVersion(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, itemHash, version.CurrentVersion)
	require.Equal(t, "0xabc", version.Owner)
}

// Scenario 3: forgetting a committed instance removes its VM row and
// current-version pointer along with the message itself.
func TestInstanceForgetRemovesVM(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertStoredFile(ctx, &model.StoredFile{Hash: sixtyFourHex("p"), Type: model.ItemTypeIPFS, CreatedAt: time.Now()}))

	content, itemHash := itemContentAndHash(t, map[string]any{
		"address":     "0xabc",
		"allow_amend": false,
		"resources":   map[string]any{"vcpus": 1, "memory": 128, "seconds": 30},
		"rootfs":      map[string]any{"parent": map[string]any{"ref": sixtyFourHex("p")}, "persistence": "host", "size_mib": 1000},
	})

	pm := &model.PendingMessage{
		ID: "pm1v", ItemHash: itemHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypeInstance,
		ItemType: model.ItemTypeInline, ItemContent: content, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH",
	}
	insertPending(t, st, pm)
	require.NoError(t, proc.Process(ctx, pm))

	_, err := st.GetVM(ctx, itemHash)
	require.NoError(t, err)

	forgetContent, forgetHash := itemContentAndHash(t, map[string]any{"address": "0xabc", "hashes": []string{itemHash}})
	forgetPM := &model.PendingMessage{
		ID: "forgetv1", ItemHash: forgetHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypeForget,
		ItemType: model.ItemTypeInline, ItemContent: forgetContent, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH",
	}
	insertPending(t, st, forgetPM)
	require.NoError(t, proc.Process(ctx, forgetPM))

	_, err = st.GetVM(ctx, itemHash)
	require.Equal(t, store.ErrNotFound, err)
	_, err = st.GetVMVersion(ctx, itemHash)
	require.Equal(t, store.ErrNotFound, err)
}

// Program messages resolve code/runtime/data volumes in addition to
// rootfs/volumes, and commit a VM row the same as an instance.
func TestProgramHappyPath(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertStoredFile(ctx, &model.StoredFile{Hash: sixtyFourHex("c"), Type: model.ItemTypeIPFS, CreatedAt: time.Now()}))
	require.NoError(t, st.UpsertStoredFile(ctx, &model.StoredFile{Hash: sixtyFourHex("r"), Type: model.ItemTypeIPFS, CreatedAt: time.Now()}))
	require.NoError(t, st.UpsertStoredFile(ctx, &model.StoredFile{Hash: sixtyFourHex("d"), Type: model.ItemTypeIPFS, CreatedAt: time.Now()}))

	content, itemHash := itemContentAndHash(t, map[string]any{
		"address":     "0xabc",
		"allow_amend": false,
		"resources":   map[string]any{"vcpus": 1, "memory": 128, "seconds": 30},
		"rootfs":      map[string]any{"parent": map[string]any{}, "size_mib": 1000},
		"code":        map[string]any{"ref": sixtyFourHex("c")},
		"runtime":     map[string]any{"ref": sixtyFourHex("r")},
		"data":        map[string]any{"ref": sixtyFourHex("d")},
		"entrypoint":  "main",
	})

	pm := &model.PendingMessage{
		ID: "pmprog1", ItemHash: itemHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypeProgram,
		ItemType: model.ItemTypeInline, ItemContent: content, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH",
	}
	insertPending(t, st, pm)

	require.NoError(t, proc.Process(ctx, pm))

	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusProcessed, status.Status)

	vm, err := st.GetVM(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.MessageTypeProgram, vm.Type)
}

// A program whose code ref doesn't resolve to a stored file is rejected
// with VM_VOLUME_NOT_FOUND, the same as an instance's dangling rootfs.
func TestProgramMissingCodeRejected(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	content, itemHash := itemContentAndHash(t, map[string]any{
		"address":     "0xabc",
		"allow_amend": false,
		"resources":   map[string]any{"vcpus": 1, "memory": 128, "seconds": 30},
		"rootfs":      map[string]any{"parent": map[string]any{}, "size_mib": 1000},
		"code":        map[string]any{"ref": sixtyFourHex("missing-code")},
		"runtime":     map[string]any{"ref": sixtyFourHex("missing-runtime")},
	})

	pm := &model.PendingMessage{
		ID: "pmprog2", ItemHash: itemHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypeProgram,
		ItemType: model.ItemTypeInline, ItemContent: content, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH",
	}
	insertPending(t, st, pm)

	require.NoError(t, proc.Process(ctx, pm))

	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, status.Status)

	rejected, err := st.GetRejectedMessage(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.ErrVMVolumeNotFound, rejected.ErrorCode)
}

// Scenario 2: an instance message with a dangling volume ref is rejected
// with VM_VOLUME_NOT_FOUND listing every missing ref.
func TestInstanceMissingVolumeRejected(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	content, itemHash := itemContentAndHash(t, map[string]any{
		"address":     "0xabc",
		"allow_amend": false,
		"resources":   map[string]any{"vcpus": 1, "memory": 128, "seconds": 30},
		"rootfs":      map[string]any{"parent": map[string]any{"ref": sixtyFourHex("missing")}, "size_mib": 1000},
	})

	pm := &model.PendingMessage{
		ID: "pm2", ItemHash: itemHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypeInstance,
		ItemType: model.ItemTypeInline, ItemContent: content, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH",
	}
	insertPending(t, st, pm)

	require.NoError(t, proc.Process(ctx, pm))

	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, status.Status)
}

// Scenario 3: a forget message tombstones its target, and a second forget
// that targets the first forget message is refused.
func TestForgetLifecycle(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	postContent, postHash := itemContentAndHash(t, map[string]any{"type": "note", "address": "0xabc", "content": map[string]any{"body": "hi"}})
	postPM := &model.PendingMessage{
		ID: "post1", ItemHash: postHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypePost,
		ItemType: model.ItemTypeInline, ItemContent: postContent, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH",
	}
	insertPending(t, st, postPM)
	require.NoError(t, proc.Process(ctx, postPM))

	forgetContent, forgetHash := itemContentAndHash(t, map[string]any{"address": "0xabc", "hashes": []string{postHash}})
	forgetPM := &model.PendingMessage{
		ID: "forget1", ItemHash: forgetHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypeForget,
		ItemType: model.ItemTypeInline, ItemContent: forgetContent, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH",
	}
	insertPending(t, st, forgetPM)
	require.NoError(t, proc.Process(ctx, forgetPM))

	status, err := st.GetMessageStatus(ctx, postHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusForgotten, status.Status)

	tombstone, err := st.GetForgottenMessage(ctx, postHash)
	require.NoError(t, err)
	require.Equal(t, []string{forgetHash}, tombstone.ForgottenBy)

	// Forgetting the forget message itself must be refused.
	secondForgetContent, secondForgetHash := itemContentAndHash(t, map[string]any{"address": "0xabc", "hashes": []string{forgetHash}})
	secondForgetPM := &model.PendingMessage{
		ID: "forget2", ItemHash: secondForgetHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypeForget,
		ItemType: model.ItemTypeInline, ItemContent: secondForgetContent, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH",
	}
	insertPending(t, st, secondForgetPM)
	require.NoError(t, proc.Process(ctx, secondForgetPM))

	status, err = st.GetMessageStatus(ctx, secondForgetHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, status.Status)
}

// P3: content/hash binding — tampered item_content is rejected with
// CONTENT_HASH_MISMATCH rather than silently committed.
func TestContentHashMismatchRejected(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	_, itemHash := itemContentAndHash(t, map[string]any{"key": "k", "address": "0xabc", "content": map[string]any{"a": 1}})
	tampered := json.RawMessage(`{"key":"k","address":"0xabc","content":{"a":2}}`)

	pm := &model.PendingMessage{
		ID: "pmX", ItemHash: itemHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypeAggregate,
		ItemType: model.ItemTypeInline, ItemContent: tampered, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH",
	}
	insertPending(t, st, pm)

	require.NoError(t, proc.Process(ctx, pm))

	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, status.Status)
}

// P5: retry bound — once a message's retry count reaches max_retries, the
// next failure transitions it to rejected with EXCEEDED_AMT_OF_RETRIES
// instead of rescheduling it again.
func TestRetryBoundEventuallyRejects(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	itemHash := sixtyFourHex("f")
	pm := &model.PendingMessage{
		ID: "pmR", ItemHash: itemHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypePost,
		ItemType: model.ItemTypeIPFS, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: false, CheckMessage: false,
		Origin: model.OriginAPI, SourceChain: "ETH", Retries: scheduler.DefaultConfig().MaxRetries + 1,
	}
	insertPending(t, st, pm)

	require.NoError(t, proc.retryLater(ctx, pm, nil))

	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, status.Status)
}

// evmPersonalHash and evmAddress re-derive chainsig.EVMVerifier's unexported
// signing convention so this test can produce a fixture without reaching
// into that package.
func evmPersonalHash(content []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(content))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(content)
	return h.Sum(nil)
}

func evmAddress(pub *btcec.PublicKey) string {
	raw := pub.SerializeUncompressed()[1:]
	h := sha3.NewLegacyKeccak256()
	h.Write(raw)
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

// CheckMessage: true on an EVM-style chain — a 0x-prefixed hex personal_sign
// signature must hex-decode and recover to the declared sender.
func TestCheckMessageEVMHappyPath(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	sender := evmAddress(priv.PubKey())

	content, itemHash := itemContentAndHash(t, map[string]any{"type": "note", "address": sender, "content": map[string]any{"body": "hi"}})

	compact, err := ecdsa.SignCompact(priv, evmPersonalHash(content), false)
	require.NoError(t, err)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]

	pm := &model.PendingMessage{
		ID: "evm1", ItemHash: itemHash, Sender: sender, Chain: "ETH", Type: model.MessageTypePost,
		ItemType: model.ItemTypeInline, ItemContent: content, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: true,
		Signature: "0x" + hex.EncodeToString(sig), Origin: model.OriginOnChain, SourceChain: "ETH",
	}
	insertPending(t, st, pm)

	require.NoError(t, proc.Process(ctx, pm))

	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusProcessed, status.Status)
}

// CheckMessage: true on an ed25519-style chain.
func TestCheckMessageEd25519HappyPath(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	sender := hex.EncodeToString(pub)

	content, itemHash := itemContentAndHash(t, map[string]any{"type": "note", "address": sender, "content": map[string]any{"body": "hi"}})
	sig := ed25519.Sign(priv, content)

	pm := &model.PendingMessage{
		ID: "sol1", ItemHash: itemHash, Sender: sender, Chain: "SOL", Type: model.MessageTypePost,
		ItemType: model.ItemTypeInline, ItemContent: content, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: true,
		Signature: hex.EncodeToString(sig), Origin: model.OriginOnChain, SourceChain: "SOL",
	}
	insertPending(t, st, pm)

	require.NoError(t, proc.Process(ctx, pm))

	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusProcessed, status.Status)
}

// CheckMessage: true with a garbled signature is rejected rather than
// retried forever or panicking.
func TestCheckMessageInvalidSignatureRejected(t *testing.T) {
	proc, st := newTestProcessor(t)
	ctx := context.Background()

	content, itemHash := itemContentAndHash(t, map[string]any{"type": "note", "address": "0xabc", "content": map[string]any{"body": "hi"}})
	pm := &model.PendingMessage{
		ID: "badsig1", ItemHash: itemHash, Sender: "0xabc", Chain: "ETH", Type: model.MessageTypePost,
		ItemType: model.ItemTypeInline, ItemContent: content, Time: time.Now(), Channel: "TEST",
		ReceptionTime: time.Now(), NextAttempt: time.Now(), Fetched: true, CheckMessage: true,
		Signature: "not-hex-at-all!!", Origin: model.OriginOnChain, SourceChain: "ETH",
	}
	insertPending(t, st, pm)

	require.NoError(t, proc.Process(ctx, pm))

	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, status.Status)
}

func sixtyFourHex(seed string) string {
	out := make([]byte, 0, 64)
	for len(out) < 64 {
		out = append(out, []byte(seed)...)
	}
	return string(out[:64])
}
