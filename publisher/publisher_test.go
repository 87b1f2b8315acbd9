package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/broker"
	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

func testDict(t *testing.T, itemContent string) map[string]json.RawMessage {
	t.Helper()
	hash := model.ItemHash([]byte(itemContent))
	fields := map[string]any{
		"item_hash":    hash,
		"item_content": json.RawMessage(itemContent),
		"item_type":    "inline",
		"chain":        "ETH",
		"sender":       "0xabc",
		"type":         "post",
		"time":         1700000000,
		"extra_field":  "should be dropped",
	}
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &generic))
	return generic
}

func TestAddPendingMessageIdempotent(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()

	fake := broker.NewFake()
	p := New(st, fake)

	dict := testDict(t, `{"type":"post","content":"hi"}`)
	in := AddPendingMessageInput{ReceptionTime: time.Now().Truncate(time.Second), Origin: model.OriginP2P, SourceChain: "ETH"}

	first, err := p.AddPendingMessage(ctx, dict, in)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := p.AddPendingMessage(ctx, dict, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.ReceptionTime.Unix(), second.ReceptionTime.Unix())

	count, err := st.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAddPendingMessageDropsUnauthorizedFields(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()

	p := New(st, broker.NewFake())
	dict := testDict(t, `{"type":"post","content":"hi"}`)

	_, ok := dict["extra_field"]
	require.True(t, ok, "test setup should include the unauthorized field before filtering")

	_, err = p.AddPendingMessage(ctx, dict, AddPendingMessageInput{ReceptionTime: time.Now(), Origin: model.OriginP2P, SourceChain: "ETH"})
	require.NoError(t, err)
}

func TestAddPendingMessageDuplicatePubSubAndTxConfirmation(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()

	p := New(st, broker.NewFake())
	dict := testDict(t, `{"type":"post","content":"hi"}`)

	_, err = p.AddPendingMessage(ctx, dict, AddPendingMessageInput{
		ReceptionTime: time.Now(), Origin: model.OriginP2P, SourceChain: "ETH",
	})
	require.NoError(t, err)

	pm, err := p.AddPendingMessage(ctx, dict, AddPendingMessageInput{
		ReceptionTime: time.Now(), Origin: model.OriginOnChain, SourceChain: "ETH", TxHash: "0xTX1",
	})
	require.NoError(t, err)

	count, err := st.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	confirmations, err := st.Confirmations(ctx, pm.ItemHash)
	require.NoError(t, err)
	require.Len(t, confirmations, 1)
	require.Equal(t, "0xTX1", confirmations[0].TxHash)
}

// P4: confirmation monotonicity — distinct tx confirmations accumulate,
// and re-confirming the same tx never shrinks the set.
func TestAddPendingMessageConfirmationsAccumulate(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()

	p := New(st, broker.NewFake())
	dict := testDict(t, `{"type":"post","content":"hi"}`)

	pm, err := p.AddPendingMessage(ctx, dict, AddPendingMessageInput{
		ReceptionTime: time.Now(), Origin: model.OriginOnChain, SourceChain: "ETH", TxHash: "0xTX1",
	})
	require.NoError(t, err)

	_, err = p.AddPendingMessage(ctx, dict, AddPendingMessageInput{
		ReceptionTime: time.Now(), Origin: model.OriginOnChain, SourceChain: "ETH", TxHash: "0xTX2",
	})
	require.NoError(t, err)

	confirmations, err := st.Confirmations(ctx, pm.ItemHash)
	require.NoError(t, err)
	require.Len(t, confirmations, 2)

	// Re-delivering the same tx confirmation is a no-op, not a duplicate
	// or a removal.
	_, err = p.AddPendingMessage(ctx, dict, AddPendingMessageInput{
		ReceptionTime: time.Now(), Origin: model.OriginOnChain, SourceChain: "ETH", TxHash: "0xTX1",
	})
	require.NoError(t, err)
	confirmations, err = st.Confirmations(ctx, pm.ItemHash)
	require.NoError(t, err)
	require.Len(t, confirmations, 2)
}

func TestAddPendingMessageInvalidHashRejected(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()

	p := New(st, broker.NewFake())
	dict := testDict(t, `{"type":"post","content":"hi"}`)
	dict["item_hash"] = json.RawMessage(`"0000000000000000000000000000000000000000000000000000000000000000"`)

	receptionTime := time.Now().Truncate(time.Second)
	_, err = p.AddPendingMessage(ctx, dict, AddPendingMessageInput{ReceptionTime: receptionTime, Origin: model.OriginP2P, SourceChain: "ETH"})
	require.Error(t, err)
	var rej *model.RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, model.ErrInvalidFormat, rej.Code)

	// The rejection must be recorded, not just returned in memory.
	itemHash := "0000000000000000000000000000000000000000000000000000000000000000"
	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, status.Status)
	require.Equal(t, receptionTime.Unix(), status.ReceptionTime.Unix())

	rejected, err := st.GetRejectedMessage(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.ErrInvalidFormat, rejected.ErrorCode)
}

// INVALID_FORMAT rejections for a typed parse failure (time is not a
// number) don't crash, and are still recorded under the item_hash that
// survives in the raw fields.
func TestAddPendingMessageUnparseableTypeRejectedWithoutCrashing(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()

	p := New(st, broker.NewFake())
	dict := testDict(t, `{"type":"post","content":"hi"}`)
	dict["time"] = json.RawMessage(`"not-a-number"`)

	_, err = p.AddPendingMessage(ctx, dict, AddPendingMessageInput{ReceptionTime: time.Now(), Origin: model.OriginP2P, SourceChain: "ETH"})
	require.Error(t, err)
	var rej *model.RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, model.ErrInvalidFormat, rej.Code)

	itemHash := model.ItemHash([]byte(`{"type":"post","content":"hi"}`))
	status, err := st.GetMessageStatus(ctx, itemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusRejected, status.Status)
}
