package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aleph-im/go-ccn/model"
)

// InsertChainTx records an immutable ChainTx row.
func (s *Store) InsertChainTx(ctx context.Context, tx *model.ChainTx) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chain_txs (hash, chain, height, datetime, protocol, protocol_version, content)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		tx.Hash, string(tx.Chain), tx.Height, tx.Datetime.Unix(), string(tx.Protocol), tx.ProtocolVersion, tx.Content)
	return err
}

// GetChainTx looks up the immutable ChainTx row a PendingTx refers to.
func (s *Store) GetChainTx(ctx context.Context, chain model.Chain, txHash string) (*model.ChainTx, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hash, chain, height, datetime, protocol, protocol_version, content
		 FROM chain_txs WHERE chain = ? AND hash = ?`, string(chain), txHash)
	var tx model.ChainTx
	var chainStr, protocol string
	var datetime int64
	if err := row.Scan(&tx.Hash, &chainStr, &tx.Height, &datetime, &protocol, &tx.ProtocolVersion, &tx.Content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	tx.Chain = model.Chain(chainStr)
	tx.Protocol = model.ChainProtocol(protocol)
	tx.Datetime = time.Unix(datetime, 0).UTC()
	return &tx, nil
}

// GetPendingTx looks up a PendingTx by hash; ErrNotFound if it is absent,
// which the Pending-Tx Processor treats as "already handled, just ack".
func (s *Store) GetPendingTx(ctx context.Context, txHash string) (*model.PendingTx, error) {
	row := s.db.QueryRowContext(ctx, `SELECT tx_hash, chain FROM pending_txs WHERE tx_hash = ?`, txHash)
	var pt model.PendingTx
	var chain string
	if err := row.Scan(&pt.TxHash, &chain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pt.Chain = model.Chain(chain)
	return &pt, nil
}

// InsertPendingTx creates a PendingTx row, once per (chain, tx_hash).
func (s *Store) InsertPendingTx(ctx context.Context, pt *model.PendingTx) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_txs (tx_hash, chain) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		pt.TxHash, string(pt.Chain))
	return err
}

// DeletePendingTx removes the row once every candidate message from this
// tx has been admitted.
func (s *Store) DeletePendingTx(ctx context.Context, txHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_txs WHERE tx_hash = ?`, txHash)
	return err
}
