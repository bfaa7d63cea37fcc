package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cinema-booking-engine/internal/errs"
	"github.com/iliyamo/cinema-booking-engine/internal/store"
)

type txKey struct{}

type txState struct {
	owner *TxManager
	tx    *sql.Tx
	hooks store.Hooks
}

// querier is the subset of *sql.DB and *sql.Tx the repos use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxManager owns the connection pool and the transaction carried in a
// context. It implements store.TxRunner.
type TxManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) *TxManager { return &TxManager{db: db} }

func (m *TxManager) state(ctx context.Context) *txState {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st.owner == m {
		return st
	}
	return nil
}

// inTx reports whether ctx carries a transaction of this manager. Row
// locking reads are only issued inside one.
func (m *TxManager) inTx(ctx context.Context) bool { return m.state(ctx) != nil }

func (m *TxManager) q(ctx context.Context) querier {
	if st := m.state(ctx); st != nil {
		return st.tx
	}
	return m.db
}

// WithTx begins a transaction, runs fn and commits when fn returns nil.
// A context that already carries a transaction is reused as is.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inTx(ctx) {
		return fn(ctx)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(err, "begin tx")
	}
	// Make sure the transaction is rolled back on error or panic.
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	st := &txState{owner: m, tx: tx}
	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(err, "commit tx")
	}
	committed = true
	st.hooks.Run()
	return nil
}

func (m *TxManager) AfterCommit(ctx context.Context, fn func()) {
	if st := m.state(ctx); st != nil {
		st.hooks.Add(fn)
		return
	}
	fn()
}

// forUpdate appends a row lock clause when ctx carries a transaction.
func (m *TxManager) forUpdate(ctx context.Context, query string) string {
	if m.inTx(ctx) {
		return query + " FOR UPDATE"
	}
	return query
}

// placeholders renders "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}

func uint64Args(ids []uint64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
