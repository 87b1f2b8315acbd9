package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/store"
)

func TestNextAttemptDoublesAndCaps(t *testing.T) {
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()

	cfg := DefaultConfig()
	cfg.BaseBackoff = time.Second
	cfg.MaxBackoff = 10 * time.Second
	sch, err := New(cfg, st)
	require.NoError(t, err)

	now := time.Unix(0, 0)
	require.Equal(t, now.Add(1*time.Second), sch.NextAttempt(now, 0))
	require.Equal(t, now.Add(2*time.Second), sch.NextAttempt(now, 1))
	require.Equal(t, now.Add(4*time.Second), sch.NextAttempt(now, 2))
	require.Equal(t, now.Add(10*time.Second), sch.NextAttempt(now, 10))
}

func TestExceededRetries(t *testing.T) {
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	sch, err := New(cfg, st)
	require.NoError(t, err)

	require.False(t, sch.ExceededRetries(2))
	require.True(t, sch.ExceededRetries(3))
}

func TestSeenRecently(t *testing.T) {
	st, err := store.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer st.Close()

	sch, err := New(DefaultConfig(), st)
	require.NoError(t, err)

	require.False(t, sch.SeenRecently("k1"))
	require.True(t, sch.SeenRecently("k1"))
	require.False(t, sch.SeenRecently("k2"))
}
