package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPendingMessageIdempotentLookup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	key := model.LogicalKey{ItemHash: "abc", Sender: "0xsender", SourceChain: "ETH", SourceHeight: 10}
	_, err := s.FindPendingMessageByKey(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	now := time.Now().Truncate(time.Second)
	pm := &model.PendingMessage{
		ID: "id-1", ItemHash: key.ItemHash, Sender: key.Sender, Chain: "ETH", Type: model.MessageTypePost,
		ItemType: model.ItemTypeInline, Time: now, ReceptionTime: now, NextAttempt: now,
		Origin: model.OriginP2P, SourceChain: key.SourceChain, SourceHeight: key.SourceHeight,
	}
	require.NoError(t, s.InsertPendingMessage(ctx, pm))
	require.NoError(t, s.InsertStatusIfAbsent(ctx, pm.ItemHash, now))

	found, err := s.FindPendingMessageByKey(ctx, key)
	require.NoError(t, err)
	require.Equal(t, pm.ID, found.ID)
	require.Equal(t, now.Unix(), found.ReceptionTime.Unix())

	status, err := s.GetMessageStatus(ctx, pm.ItemHash)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, status.Status)
}

func TestSweepLowerHeightDuplicates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	mk := func(id string, height uint64) *model.PendingMessage {
		return &model.PendingMessage{
			ID: id, ItemHash: "same-hash", Sender: "sender", Chain: "ETH", Type: model.MessageTypePost,
			ItemType: model.ItemTypeInline, Time: now, ReceptionTime: now, NextAttempt: now,
			Origin: model.OriginP2P, SourceChain: "ETH", SourceHeight: height,
		}
	}
	require.NoError(t, s.InsertPendingMessage(ctx, mk("old", 5)))
	require.NoError(t, s.InsertPendingMessage(ctx, mk("new", 10)))

	n, err := s.SweepLowerHeightDuplicates(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = s.FindPendingMessageByKey(ctx, model.LogicalKey{ItemHash: "same-hash", Sender: "sender", SourceChain: "ETH", SourceHeight: 5})
	require.ErrorIs(t, err, ErrNotFound)
}

// P2: status uniqueness — an item_hash has exactly one message_status row,
// and re-admission under a second logical key never inserts a second one.
func TestMessageStatusUniquePerItemHash(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().Truncate(time.Second)

	require.NoError(t, s.InsertStatusIfAbsent(ctx, "dup-hash", now))
	require.NoError(t, s.InsertStatusIfAbsent(ctx, "dup-hash", now.Add(time.Hour)))

	status, err := s.GetMessageStatus(ctx, "dup-hash")
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, status.Status)
	require.Equal(t, now.Unix(), status.ReceptionTime.Unix()) // first write wins, second is a no-op

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_status WHERE item_hash = ?`, "dup-hash").Scan(&count))
	require.Equal(t, 1, count)
}
