package store

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aleph-im/go-ccn/log"
)

// ErrNotFound is returned by single-row lookups that find nothing, so
// callers (e.g. "PendingTx absent, ack and move on") can tell that apart
// from a real database error.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence boundary every component reads and writes
// through; it owns one *sql.DB and the single committed transaction each
// pipeline step runs inside.
type Store struct {
	db  *sql.DB
	log log.Logger
}

// Open connects to the database named by dsn using driverName
// ("postgres" or "sqlite3") and ensures the schema exists.
func Open(driverName, dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Store{db: db, log: log.New("component", "store")}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error or panic — the mechanism behind "all writes
// for one pending message happen in a single committed transaction".
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
