package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aleph-im/go-ccn/model"
)

// FindPendingMessageByKey looks up an existing admission by logical key, the
// lookup that makes add_pending_message idempotent (P1).
func (s *Store) FindPendingMessageByKey(ctx context.Context, key model.LogicalKey) (*model.PendingMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, item_hash, sender, chain, type, signature, item_type, item_content, time,
		        channel, reception_time, retries, next_attempt, fetched, check_message, origin,
		        source_tx_hash, source_chain, source_height
		 FROM pending_messages
		 WHERE item_hash = ? AND sender = ? AND source_chain = ? AND source_height = ?`,
		key.ItemHash, key.Sender, string(key.SourceChain), key.SourceHeight)
	return scanPendingMessage(row)
}

// GetPendingMessageByID looks up the row the broker's pending-message
// notification body names; ErrNotFound means it was already committed,
// rejected, or swept by a racing worker.
func (s *Store) GetPendingMessageByID(ctx context.Context, id string) (*model.PendingMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, item_hash, sender, chain, type, signature, item_type, item_content, time,
		        channel, reception_time, retries, next_attempt, fetched, check_message, origin,
		        source_tx_hash, source_chain, source_height
		 FROM pending_messages
		 WHERE id = ?`, id)
	return scanPendingMessage(row)
}

func scanPendingMessage(row *sql.Row) (*model.PendingMessage, error) {
	var (
		pm                                     model.PendingMessage
		chain, typ, itemType, origin, srcChain  string
		timeUnix, receptionUnix, nextAttemptUnix int64
		fetched, checkMessage                   bool
	)
	err := row.Scan(&pm.ID, &pm.ItemHash, &pm.Sender, &chain, &typ, &pm.Signature, &itemType,
		&pm.ItemContent, &timeUnix, &pm.Channel, &receptionUnix, &pm.Retries, &nextAttemptUnix,
		&fetched, &checkMessage, &origin, &pm.SourceTxHash, &srcChain, &pm.SourceHeight)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pm.Chain = model.Chain(chain)
	pm.Type = model.MessageType(typ)
	pm.ItemType = model.ItemType(itemType)
	pm.Origin = model.Origin(origin)
	pm.SourceChain = model.Chain(srcChain)
	pm.Time = time.Unix(timeUnix, 0).UTC()
	pm.ReceptionTime = time.Unix(receptionUnix, 0).UTC()
	pm.NextAttempt = time.Unix(nextAttemptUnix, 0).UTC()
	pm.Fetched = fetched
	pm.CheckMessage = checkMessage
	return &pm, nil
}

// InsertPendingMessage admits a new candidate. Callers must have already
// checked FindPendingMessageByKey to preserve idempotence.
func (s *Store) InsertPendingMessage(ctx context.Context, pm *model.PendingMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_messages
		 (id, item_hash, sender, chain, type, signature, item_type, item_content, time, channel,
		  reception_time, retries, next_attempt, fetched, check_message, origin, source_tx_hash,
		  source_chain, source_height)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pm.ID, pm.ItemHash, pm.Sender, string(pm.Chain), string(pm.Type), pm.Signature, string(pm.ItemType),
		[]byte(pm.ItemContent), pm.Time.Unix(), pm.Channel, pm.ReceptionTime.Unix(), pm.Retries,
		pm.NextAttempt.Unix(), pm.Fetched, pm.CheckMessage, string(pm.Origin), pm.SourceTxHash,
		string(pm.SourceChain), pm.SourceHeight)
	return err
}

// DeletePendingMessage removes the row after commit/reject.
func (s *Store) DeletePendingMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_messages WHERE id = ?`, id)
	return err
}

// UpdatePendingMessageRetry persists the retry/next_attempt increment for
// a retry_later outcome.
func (s *Store) UpdatePendingMessageRetry(ctx context.Context, id string, retries int, nextAttempt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_messages SET retries = ?, next_attempt = ? WHERE id = ?`,
		retries, nextAttempt.Unix(), id)
	return err
}

// MarkFetched stores resolved item_content and flips fetched once its hash
// has been verified against item_hash.
func (s *Store) MarkFetched(ctx context.Context, id string, content []byte) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_messages SET item_content = ?, fetched = 1 WHERE id = ?`, content, id)
	return err
}

// DueMessages returns pending messages whose next_attempt has arrived,
// ordered (retries ASC, time ASC) as the scan loop requires, oldest/least
// retried first.
func (s *Store) DueMessages(ctx context.Context, now time.Time, limit int) ([]*model.PendingMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_hash, sender, chain, type, signature, item_type, item_content, time,
		        channel, reception_time, retries, next_attempt, fetched, check_message, origin,
		        source_tx_hash, source_chain, source_height
		 FROM pending_messages
		 WHERE next_attempt <= ?
		 ORDER BY retries ASC, time ASC
		 LIMIT ?`, now.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PendingMessage
	for rows.Next() {
		var (
			pm                                      model.PendingMessage
			chain, typ, itemType, origin, srcChain  string
			timeUnix, receptionUnix, nextAttemptUnix int64
			fetched, checkMessage                    bool
		)
		if err := rows.Scan(&pm.ID, &pm.ItemHash, &pm.Sender, &chain, &typ, &pm.Signature, &itemType,
			&pm.ItemContent, &timeUnix, &pm.Channel, &receptionUnix, &pm.Retries, &nextAttemptUnix,
			&fetched, &checkMessage, &origin, &pm.SourceTxHash, &srcChain, &pm.SourceHeight); err != nil {
			return nil, err
		}
		pm.Chain = model.Chain(chain)
		pm.Type = model.MessageType(typ)
		pm.ItemType = model.ItemType(itemType)
		pm.Origin = model.Origin(origin)
		pm.SourceChain = model.Chain(srcChain)
		pm.Time = time.Unix(timeUnix, 0).UTC()
		pm.ReceptionTime = time.Unix(receptionUnix, 0).UTC()
		pm.NextAttempt = time.Unix(nextAttemptUnix, 0).UTC()
		pm.Fetched = fetched
		pm.CheckMessage = checkMessage
		out = append(out, &pm)
	}
	return out, rows.Err()
}

// PendingCount is used against the high-water mark that triggers a sweep.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_messages`).Scan(&n)
	return n, err
}

// SweepLowerHeightDuplicates deletes rows sharing (item_hash, sender,
// source_chain) with another row at a strictly higher source_height (I3).
func (s *Store) SweepLowerHeightDuplicates(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_messages
		WHERE EXISTS (
			SELECT 1 FROM pending_messages newer
			WHERE newer.item_hash = pending_messages.item_hash
			  AND newer.sender = pending_messages.sender
			  AND newer.source_chain = pending_messages.source_chain
			  AND newer.source_height > pending_messages.source_height
		)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
