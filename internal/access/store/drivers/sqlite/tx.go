package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/trackgate/internal/access/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // outer DB stays open

// Ping is a no-op, the connection is held by the transaction.
func (t *txStore) Ping(ctx context.Context) error {
	return nil
}

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Subjects() store.Subjects       { return &subjectsRepo{q: t.tx} }
func (t *txStore) Resources() store.Resources     { return &resourcesRepo{q: t.tx} }
func (t *txStore) Assignments() store.Assignments { return &assignmentsRepo{q: t.tx} }
func (t *txStore) Credentials() store.Credentials { return &credentialsRepo{q: t.tx} }

func (t *txStore) ApplyMigrations() error { return nil } // migrations run before any tx
