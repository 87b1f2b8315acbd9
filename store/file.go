package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aleph-im/go-ccn/model"
)

// GetStoredFile looks up a content-addressed blob by hash.
func (s *Store) GetStoredFile(ctx context.Context, hash string) (*model.StoredFile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT hash, size, type, ref_count, created_at FROM stored_files WHERE hash = ?`, hash)
	var (
		sf        model.StoredFile
		itemType  string
		createdAt int64
	)
	if err := row.Scan(&sf.Hash, &sf.Size, &itemType, &sf.RefCount, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sf.Type = model.ItemType(itemType)
	sf.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &sf, nil
}

// ResolveTag resolves a (owner, tag) pair to the hash it currently names,
// the "use_latest" volume-ref path.
func (s *Store) ResolveTag(ctx context.Context, owner, tag string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM file_tags WHERE owner = ? AND tag = ?`, owner, tag).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return hash, err
}

// UpsertStoredFile registers or touches a blob's row.
func (s *Store) UpsertStoredFile(ctx context.Context, sf *model.StoredFile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stored_files (hash, size, type, ref_count, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (hash) DO UPDATE SET size = excluded.size, type = excluded.type`,
		sf.Hash, sf.Size, string(sf.Type), sf.RefCount, sf.CreatedAt.Unix())
	return err
}

// IncrefStoredFile bumps a blob's reference count, the store-handler
// commit step.
func (s *Store) IncrefStoredFile(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE stored_files SET ref_count = ref_count + 1 WHERE hash = ?`, hash)
	return err
}

// InsertFilePin records a reason hash must not be garbage collected.
func (s *Store) InsertFilePin(ctx context.Context, p *model.FilePin) error {
	var until sql.NullInt64
	if p.Until != nil {
		until = sql.NullInt64{Int64: p.Until.Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_pins (hash, owner, reason, until) VALUES (?, ?, ?, ?)
		 ON CONFLICT (hash, owner, reason) DO NOTHING`,
		p.Hash, p.Owner, p.Reason, until)
	return err
}

// GetStoredFile looks up a blob inside tx, for handlers that must read their
// own uncommitted writes.
func GetStoredFile(ctx context.Context, tx *sql.Tx, hash string) (*model.StoredFile, error) {
	row := tx.QueryRowContext(ctx, `SELECT hash, size, type, ref_count, created_at FROM stored_files WHERE hash = ?`, hash)
	var (
		sf        model.StoredFile
		itemType  string
		createdAt int64
	)
	if err := row.Scan(&sf.Hash, &sf.Size, &itemType, &sf.RefCount, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sf.Type = model.ItemType(itemType)
	sf.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &sf, nil
}

// InsertStoredFileTx registers a new blob row inside tx.
func InsertStoredFileTx(ctx context.Context, tx *sql.Tx, sf *model.StoredFile) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO stored_files (hash, size, type, ref_count, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (hash) DO NOTHING`,
		sf.Hash, sf.Size, string(sf.Type), sf.RefCount, sf.CreatedAt.Unix())
	return err
}

// IncrefStoredFileTx bumps a blob's reference count inside tx.
func IncrefStoredFileTx(ctx context.Context, tx *sql.Tx, hash string) error {
	_, err := tx.ExecContext(ctx, `UPDATE stored_files SET ref_count = ref_count + 1 WHERE hash = ?`, hash)
	return err
}

// InsertFilePinTx records a pin reason inside tx.
func InsertFilePinTx(ctx context.Context, tx *sql.Tx, p *model.FilePin) error {
	var until sql.NullInt64
	if p.Until != nil {
		until = sql.NullInt64{Int64: p.Until.Unix(), Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO file_pins (hash, owner, reason, until) VALUES (?, ?, ?, ?)
		 ON CONFLICT (hash, owner, reason) DO NOTHING`,
		p.Hash, p.Owner, p.Reason, until)
	return err
}

// CountFilePinsByOwnerTx counts distinct pinned hashes owned by owner inside
// tx, the per-sender quota check.
func CountFilePinsByOwnerTx(ctx context.Context, tx *sql.Tx, owner string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(DISTINCT hash) FROM file_pins WHERE owner = ?`, owner).Scan(&n)
	return n, err
}
