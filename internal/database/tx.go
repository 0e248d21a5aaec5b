package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wtbooking/internal/domain"
)

// Tx runs queries inside one SQLite transaction. While it is open, callers
// must go through the Tx, not the DB: an in-memory DB has a single connection.
type Tx struct {
	tx *sql.Tx
	queries
}

var _ domain.Tx = (*Tx)(nil)

func (db *DB) BeginTx(ctx context.Context) (domain.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, queries: queries{q: tx, logger: db.logger}}, nil
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return fmt.Errorf("failed to rollback transaction: %w", err)
}
