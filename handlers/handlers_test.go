package handlers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

func withTx(t *testing.T, st *store.Store, fn func(tx *sql.Tx) error) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), fn))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAggregateLastWriterWinsByTime(t *testing.T) {
	st := openTestStore(t)
	h := aggregateHandler{}
	ctx := context.Background()

	older := &model.Message{ItemHash: "h1", Time: time.Unix(100, 0), Content: &model.MessageContent{
		Aggregate: &model.AggregateContent{Address: "owner", Key: "k", Content: map[string]any{"v": 1}},
	}}
	newer := &model.Message{ItemHash: "h2", Time: time.Unix(200, 0), Content: &model.MessageContent{
		Aggregate: &model.AggregateContent{Address: "owner", Key: "k", Content: map[string]any{"v": 2}},
	}}

	withTx(t, st, func(tx *sql.Tx) error { return h.Apply(ctx, tx, st, newer) })
	withTx(t, st, func(tx *sql.Tx) error { return h.Apply(ctx, tx, st, older) })

	withTx(t, st, func(tx *sql.Tx) error {
		el, err := store.GetAggregateElement(ctx, tx, "owner", "k")
		require.NoError(t, err)
		require.Equal(t, "h2", el.ItemHash) // the later write stays current despite arriving first
		return nil
	})
}

func TestPostAmendRequiresMatchingSender(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	original := &model.Message{ItemHash: "orig", Sender: "alice", Type: model.MessageTypePost,
		ItemContent: []byte(`{}`), Content: &model.MessageContent{Post: &model.PostContent{Address: "alice"}}}
	withTx(t, st, func(tx *sql.Tx) error { return store.CommitMessage(ctx, tx, original, "pending-orig") })

	h := postHandler{}
	amend := &model.Message{ItemHash: "amend", Sender: "mallory",
		Content: &model.MessageContent{Post: &model.PostContent{Address: "mallory", Ref: "orig"}}}

	err := st.WithTx(ctx, func(tx *sql.Tx) error { return h.Apply(ctx, tx, st, amend) })
	require.Error(t, err)
	rej, ok := err.(*model.RejectionError)
	require.True(t, ok)
	require.Equal(t, model.ErrPermissionDenied, rej.Code)
}

func TestForgetRefusesToForgetAForget(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	firstForget := &model.Message{ItemHash: "f1", Sender: "alice", Type: model.MessageTypeForget,
		ItemContent: []byte(`{}`), Content: &model.MessageContent{Forget: &model.ForgetContent{Address: "alice", Hashes: []string{"x"}}}}
	withTx(t, st, func(tx *sql.Tx) error { return store.CommitMessage(ctx, tx, firstForget, "pending-f1") })

	h := forgetHandler{}
	secondForget := &model.Message{ItemHash: "f2", Sender: "alice",
		Content: &model.MessageContent{Forget: &model.ForgetContent{Address: "alice", Hashes: []string{"f1"}}}}

	err := st.WithTx(ctx, func(tx *sql.Tx) error { return h.Apply(ctx, tx, st, secondForget) })
	require.Error(t, err)
	rej, ok := err.(*model.RejectionError)
	require.True(t, ok)
	require.Equal(t, model.ErrPermissionDenied, rej.Code)
}
