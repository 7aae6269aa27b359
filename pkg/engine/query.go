package engine

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// RowFunc receives one row of a streamed query. Returning an error stops the
// stream and is returned from QueryStream.
type RowFunc func(row models.Row) error

// Query runs sql and materializes every row.
func (e *Engine) Query(ctx context.Context, query string, args ...interface{}) (*models.QueryResult, error) {
	conn, err := e.connection()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := queryConn(ctx, conn, query, args...)
	metrics.ObserveQuery("query", start, err)
	if err != nil {
		e.logger.Debug("query failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, err
	}
	e.logger.Debug("query executed",
		zap.Int("rows", result.RowCount),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// QueryStream runs sql and hands rows to fn one at a time without
// materializing the result.
func (e *Engine) QueryStream(ctx context.Context, query string, fn RowFunc, args ...interface{}) error {
	conn, err := e.connection()
	if err != nil {
		return err
	}

	start := time.Now()
	err = streamConn(ctx, conn, query, fn, args...)
	metrics.ObserveQuery("stream", start, err)
	return err
}

// Exec runs a statement that returns no rows and reports the affected row
// count where the statement has one.
func (e *Engine) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	conn, err := e.connection()
	if err != nil {
		return 0, err
	}

	start := time.Now()
	n, err := execConn(ctx, conn, query, args...)
	metrics.ObserveQuery("exec", start, err)
	return n, err
}

// queryer is satisfied by *sql.Conn and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func queryConn(ctx context.Context, q queryer, query string, args ...interface{}) (*models.QueryResult, error) {
	result := models.Empty()
	columns, err := scan(ctx, q, query, func(row models.Row) error {
		result.Rows = append(result.Rows, row)
		return nil
	}, args...)
	if err != nil {
		return nil, err
	}
	result.Columns = columns
	result.RowCount = len(result.Rows)
	return result, nil
}

func streamConn(ctx context.Context, q queryer, query string, fn RowFunc, args ...interface{}) error {
	_, err := scan(ctx, q, query, fn, args...)
	return err
}

func execConn(ctx context.Context, q queryer, query string, args ...interface{}) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "statement failed").WithQuery(query)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func scan(ctx context.Context, q queryer, query string, fn RowFunc, args ...interface{}) ([]models.Column, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "query failed").WithQuery(query)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "failed to read column types").WithQuery(query)
	}
	columns := make([]models.Column, len(types))
	for i, ct := range types {
		nullable, ok := ct.Nullable()
		columns[i] = models.Column{
			Name:     ct.Name(),
			Type:     ct.DatabaseTypeName(),
			Nullable: nullable || !ok,
		}
	}

	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "failed to scan row").WithQuery(query)
		}
		row := make(models.Row, len(columns))
		for i, col := range columns {
			row[col.Name] = values[i]
		}
		if err := fn(row); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "query failed").WithQuery(query)
	}
	return columns, nil
}
