package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/aleph-im/go-ccn/model"
)

// GetMessageStatus returns the single status row for item_hash (I1).
func (s *Store) GetMessageStatus(ctx context.Context, itemHash string) (*model.MessageStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT item_hash, status, reception_time FROM message_status WHERE item_hash = ?`, itemHash)
	var st model.MessageStatus
	var status string
	var recUnix int64
	if err := row.Scan(&st.ItemHash, &status, &recUnix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	st.Status = model.MessageStatusKind(status)
	st.ReceptionTime = time.Unix(recUnix, 0).UTC()
	return &st, nil
}

// InsertStatusIfAbsent creates the pending status row the first time an
// item_hash is seen; a second admission of the same logical key must not
// touch reception_time.
func (s *Store) InsertStatusIfAbsent(ctx context.Context, itemHash string, receptionTime time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_status (item_hash, status, reception_time) VALUES (?, 'pending', ?)
		 ON CONFLICT (item_hash) DO NOTHING`,
		itemHash, receptionTime.Unix())
	return err
}

func setStatusTx(ctx context.Context, tx *sql.Tx, itemHash string, status model.MessageStatusKind) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE message_status SET status = ? WHERE item_hash = ?`, string(status), itemHash)
	return err
}

// CommitMessage writes the processed Message row, flips status to
// processed, and deletes the pending row, all inside tx.
func CommitMessage(ctx context.Context, tx *sql.Tx, msg *model.Message, pendingID string) error {
	content, err := model.CanonicalJSON(msg.Content)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (item_hash, type, chain, sender, signature, item_type, item_content, content, time, channel, size)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ItemHash, string(msg.Type), string(msg.Chain), msg.Sender, msg.Signature, string(msg.ItemType),
		[]byte(msg.ItemContent), content, msg.Time.Unix(), msg.Channel, msg.Size); err != nil {
		return err
	}
	if err := setStatusTx(ctx, tx, msg.ItemHash, model.StatusProcessed); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM pending_messages WHERE id = ?`, pendingID)
	return err
}

// RejectMessage writes the RejectedMessage row, flips status to rejected,
// and deletes the pending row, all inside tx.
func RejectMessage(ctx context.Context, tx *sql.Tx, itemHash string, rawMessage []byte, rej *model.RejectionError, pendingID string) error {
	var details []byte
	if rej.Details != nil {
		var err error
		details, err = json.Marshal(rej.Details)
		if err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rejected_messages (item_hash, message, error_code, details, traceback) VALUES (?, ?, ?, ?, ?)`,
		itemHash, rawMessage, string(rej.Code), details, rej.Traceback); err != nil {
		return err
	}
	if err := setStatusTx(ctx, tx, itemHash, model.StatusRejected); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM pending_messages WHERE id = ?`, pendingID)
	return err
}

// GetRejectedMessage returns the most recently inserted rejected_messages
// row for itemHash.
func (s *Store) GetRejectedMessage(ctx context.Context, itemHash string) (*model.RejectedMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_hash, message, error_code, details, traceback FROM rejected_messages
		 WHERE item_hash = ? ORDER BY rowid DESC LIMIT 1`, itemHash)
	var (
		rm      model.RejectedMessage
		code    string
		details []byte
	)
	if err := row.Scan(&rm.ItemHash, &rm.Message, &code, &details, &rm.Traceback); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rm.ErrorCode = model.ErrorCode(code)
	if details != nil {
		if err := json.Unmarshal(details, &rm.Details); err != nil {
			return nil, err
		}
	}
	return &rm, nil
}

// InsertConfirmationIfAbsent adds (item_hash, tx_hash) to
// message_confirmations, a no-op if it is already there (I5: never
// removed except by ChainTx cascade).
func (s *Store) InsertConfirmationIfAbsent(ctx context.Context, c model.MessageConfirmation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_confirmations (item_hash, tx_hash, chain, height) VALUES (?, ?, ?, ?)
		 ON CONFLICT (item_hash, tx_hash) DO NOTHING`,
		c.ItemHash, c.TxHash, string(c.Chain), c.Height)
	return err
}

// Confirmations lists every tx confirming item_hash.
func (s *Store) Confirmations(ctx context.Context, itemHash string) ([]model.MessageConfirmation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_hash, tx_hash, chain, height FROM message_confirmations WHERE item_hash = ?`, itemHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.MessageConfirmation
	for rows.Next() {
		var c model.MessageConfirmation
		var chain string
		if err := rows.Scan(&c.ItemHash, &c.TxHash, &chain, &c.Height); err != nil {
			return nil, err
		}
		c.Chain = model.Chain(chain)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetMessage fetches a processed Message by item_hash.
func (s *Store) GetMessage(ctx context.Context, itemHash string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_hash, type, chain, sender, signature, item_type, item_content, time, channel, size
		 FROM messages WHERE item_hash = ?`, itemHash)
	var (
		msg                model.Message
		typ, chain, itmType string
		timeUnix           int64
	)
	if err := row.Scan(&msg.ItemHash, &typ, &chain, &msg.Sender, &msg.Signature, &itmType,
		&msg.ItemContent, &timeUnix, &msg.Channel, &msg.Size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	msg.Type = model.MessageType(typ)
	msg.Chain = model.Chain(chain)
	msg.ItemType = model.ItemType(itmType)
	msg.Time = time.Unix(timeUnix, 0).UTC()
	confirmations, err := s.Confirmations(ctx, itemHash)
	if err != nil {
		return nil, err
	}
	msg.Confirmations = confirmations
	return &msg, nil
}

// ForgetMessageTx deletes the processed Message row, flips status to
// forgotten, and inserts/extends the ForgottenMessage tombstone's
// forgotten_by list, inside tx.
func ForgetMessageTx(ctx context.Context, tx *sql.Tx, target *model.Message, forgottenBy string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE item_hash = ?`, target.ItemHash); err != nil {
		return err
	}
	if err := setStatusTx(ctx, tx, target.ItemHash, model.StatusForgotten); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO forgotten_messages (item_hash, type, chain, sender, signature, item_type, time, channel, forgotten_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (item_hash) DO UPDATE SET forgotten_by = forgotten_messages.forgotten_by || ',' || excluded.forgotten_by`,
		target.ItemHash, string(target.Type), string(target.Chain), target.Sender, target.Signature,
		string(target.ItemType), target.Time.Unix(), target.Channel, forgottenBy)
	return err
}

// GetForgottenMessage fetches a tombstone by item_hash.
func (s *Store) GetForgottenMessage(ctx context.Context, itemHash string) (*model.ForgottenMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_hash, type, chain, sender, signature, item_type, time, channel, forgotten_by
		 FROM forgotten_messages WHERE item_hash = ?`, itemHash)
	var (
		fm                  model.ForgottenMessage
		typ, chain, itmType string
		timeUnix            int64
		forgottenBy         string
	)
	if err := row.Scan(&fm.ItemHash, &typ, &chain, &fm.Sender, &fm.Signature, &itmType, &timeUnix, &fm.Channel, &forgottenBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	fm.Type = model.MessageType(typ)
	fm.Chain = model.Chain(chain)
	fm.ItemType = model.ItemType(itmType)
	fm.Time = time.Unix(timeUnix, 0).UTC()
	fm.ForgottenBy = strings.Split(forgottenBy, ",")
	return &fm, nil
}
