package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// Statement is one statement of a transaction batch.
type Statement struct {
	SQL  string
	Args []interface{}
}

// Tx runs statements inside a transaction opened by WithTransaction.
type Tx struct {
	tx *sql.Tx
}

// Query runs sql inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...interface{}) (*models.QueryResult, error) {
	return queryConn(ctx, t.tx, query, args...)
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return execConn(ctx, t.tx, query, args...)
}

// Transaction runs statements in order inside one transaction. Any failure
// rolls back the whole batch.
func (e *Engine) Transaction(ctx context.Context, statements []Statement) error {
	return e.WithTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		for i, st := range statements {
			if _, err := tx.Exec(ctx, st.SQL, st.Args...); err != nil {
				return tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "transaction statement failed").
					WithQuery(st.SQL).
					WithDetail("statement_index", i)
			}
		}
		return nil
	})
}

// WithTransaction begins a transaction, calls fn and commits when fn returns
// nil. When fn fails the transaction is rolled back and fn's error returned.
// Transactions do not nest.
func (e *Engine) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	conn, err := e.connection()
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() { metrics.ObserveQuery("transaction", start, err) }()

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return tabulaerrors.Wrap(err, tabulaerrors.KindTransaction, "failed to begin transaction")
	}

	if err := fn(ctx, &Tx{tx: sqlTx}); err != nil {
		if rerr := sqlTx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			e.logger.Error("rollback failed", zap.Error(rerr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if rerr := sqlTx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			e.logger.Error("rollback after failed commit failed", zap.Error(rerr))
		}
		return tabulaerrors.Wrap(err, tabulaerrors.KindTransaction, "failed to commit transaction")
	}
	return nil
}
