package loader

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/observability"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// ConflictAction decides what a relational insert does with rows that
// violate a unique constraint.
type ConflictAction string

const (
	// ConflictError fails the batch
	ConflictError ConflictAction = "error"
	// ConflictIgnore skips conflicting rows
	ConflictIgnore ConflictAction = "ignore"
	// ConflictUpdate overwrites the non-conflict columns of the existing row
	ConflictUpdate ConflictAction = "update"
)

// InsertOptions tune BulkInsertRelational.
type InsertOptions struct {
	// BatchSize is the number of rows per INSERT (default loader.insert_batch_size)
	BatchSize int
	// OnConflict defaults to ConflictError
	OnConflict ConflictAction
	// ConflictColumns is required for ConflictUpdate
	ConflictColumns []string
}

// relational is implemented by queriers that know an attached relational
// store, such as *engine.Engine.
type relational interface {
	RelationalAlias() (string, bool)
}

// BulkInsertRelational inserts rows into table of the attached relational
// store in batches, each staged as a temporary view. It returns the number
// of rows inserted.
func (l *Loader) BulkInsertRelational(ctx context.Context, rows []models.Row, table string, opts InsertOptions) (inserted int64, err error) {
	ctx, span := observability.StartSpan(ctx, "loader", "bulk_insert_relational")
	defer func() { span.End(err) }()

	if len(rows) == 0 {
		return 0, nil
	}
	rel, ok := l.q.(relational)
	if !ok {
		return 0, tabulaerrors.New(tabulaerrors.KindConfig, "no relational store attached")
	}
	alias, ok := rel.RelationalAlias()
	if !ok {
		return 0, tabulaerrors.New(tabulaerrors.KindConfig, "no relational store attached")
	}
	if table == "" {
		return 0, tabulaerrors.New(tabulaerrors.KindValidation, "table is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = l.cfg.InsertBatchSize
	}
	if opts.OnConflict == "" {
		opts.OnConflict = ConflictError
	}

	cols := models.Keys(rows)
	conflict, err := conflictClause(opts, cols)
	if err != nil {
		return 0, err
	}
	target := sqlutil.QuoteIdent(append([]string{alias}, strings.Split(table, ".")...)...)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = sqlutil.QuoteIdent(c)
	}
	colList := strings.Join(quoted, ", ")

	for i, batch := range models.Chunk(rows, opts.BatchSize) {
		view := sqlutil.RandomName("temp_insert")
		if err := l.CreateView(ctx, view, batch, MethodInline); err != nil {
			return inserted, err
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s%s", target, colList, colList, view, conflict)
		n, err := l.q.Exec(ctx, stmt)
		l.drop(ctx, "VIEW", view)
		if err != nil {
			return inserted, tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "bulk insert failed").
				WithDetail("batch", i).
				WithDetail("table", table)
		}
		inserted += n
	}

	l.logger.Info("relational bulk insert completed",
		zap.String("table", table),
		zap.Int("rows", len(rows)),
		zap.Int64("inserted", inserted),
		zap.String("on_conflict", string(opts.OnConflict)))
	return inserted, nil
}

func conflictClause(opts InsertOptions, cols []string) (string, error) {
	target := ""
	if len(opts.ConflictColumns) > 0 {
		quoted := make([]string, len(opts.ConflictColumns))
		for i, c := range opts.ConflictColumns {
			quoted[i] = sqlutil.QuoteIdent(c)
		}
		target = " (" + strings.Join(quoted, ", ") + ")"
	}

	switch opts.OnConflict {
	case ConflictError:
		return "", nil
	case ConflictIgnore:
		return " ON CONFLICT" + target + " DO NOTHING", nil
	case ConflictUpdate:
		if target == "" {
			return "", tabulaerrors.New(tabulaerrors.KindValidation, "update on conflict requires conflict columns")
		}
		skip := make(map[string]bool, len(opts.ConflictColumns))
		for _, c := range opts.ConflictColumns {
			skip[c] = true
		}
		var sets []string
		for _, c := range cols {
			if !skip[c] {
				q := sqlutil.QuoteIdent(c)
				sets = append(sets, q+" = EXCLUDED."+q)
			}
		}
		if len(sets) == 0 {
			return " ON CONFLICT" + target + " DO NOTHING", nil
		}
		return " ON CONFLICT" + target + " DO UPDATE SET " + strings.Join(sets, ", "), nil
	default:
		return "", tabulaerrors.Newf(tabulaerrors.KindValidation, "unknown conflict action %q", opts.OnConflict)
	}
}
