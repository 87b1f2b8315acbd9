package store

import (
	"context"
	"database/sql"
)

// AggregateElement is the (address, key) slot's current winner.
type AggregateElement struct {
	Address  string
	Key      string
	ItemHash string
	Time     int64
}

// GetAggregateElement looks up the current winner for (address, key).
func GetAggregateElement(ctx context.Context, tx *sql.Tx, address, key string) (*AggregateElement, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT address, key, item_hash, time FROM aggregate_elements WHERE address = ? AND key = ?`, address, key)
	var e AggregateElement
	if err := row.Scan(&e.Address, &e.Key, &e.ItemHash, &e.Time); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// UpsertAggregateElementTx overwrites (address, key)'s winner unconditionally;
// callers must have already applied the last-writer-wins comparison.
func UpsertAggregateElementTx(ctx context.Context, tx *sql.Tx, e AggregateElement) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO aggregate_elements (address, key, item_hash, time) VALUES (?, ?, ?, ?)
		 ON CONFLICT (address, key) DO UPDATE SET item_hash = excluded.item_hash, time = excluded.time`,
		e.Address, e.Key, e.ItemHash, e.Time)
	return err
}
