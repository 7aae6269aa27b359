package loader

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/compression"
	"github.com/ajitpratap0/tabula/pkg/json"
	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// InlineStrategy embeds each record as a JSON literal:
//
//	(SELECT CAST(json_data ->> '/amount' AS DOUBLE) AS "amount", ...
//	 FROM (VALUES (CAST('{"amount":1.5}' AS JSON)), ...) AS t(json_data))
type InlineStrategy struct {
	l *Loader
}

// Name implements Strategy.
func (*InlineStrategy) Name() Method { return MethodInline }

// Query implements Strategy.
func (s *InlineStrategy) Query(ctx context.Context, rows []models.Row, sql, alias string) (*models.QueryResult, error) {
	return s.l.run(ctx, MethodInline, s, rows, sql, alias)
}

func (s *InlineStrategy) stage(_ context.Context, rows []models.Row) (string, func(), error) {
	cols, err := inferColumns(rows)
	if err != nil {
		return "", nil, err
	}
	values, err := valuesList(rows)
	if err != nil {
		return "", nil, err
	}
	return "(" + projection(cols, values) + ")", func() {}, nil
}

func valuesList(rows []models.Row) (string, error) {
	var b strings.Builder
	b.WriteString("(VALUES ")
	for i, row := range rows {
		doc, err := json.MarshalString(normalize(row))
		if err != nil {
			return "", tabulaerrors.Wrap(err, tabulaerrors.KindValidation, "record is not serializable").
				WithDetail("row_index", i)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(CAST(")
		b.WriteString(sqlutil.QuoteLiteral(doc))
		b.WriteString(" AS JSON))")
	}
	b.WriteString(") AS t(" + docColumn + ")")
	return b.String(), nil
}

// NativeStrategy binds the batch as one JSON array parameter and unnests it
// into a temporary table. When staging fails the cause is logged at WARN and
// the batch is staged inline instead; errors of the caller's SQL are not
// retried.
type NativeStrategy struct {
	l *Loader
}

// Name implements Strategy.
func (*NativeStrategy) Name() Method { return MethodNative }

// Query implements Strategy.
func (s *NativeStrategy) Query(ctx context.Context, rows []models.Row, sql, alias string) (*models.QueryResult, error) {
	return s.l.run(ctx, MethodNative, s, rows, sql, alias)
}

func (s *NativeStrategy) stage(ctx context.Context, rows []models.Row) (string, func(), error) {
	from, release, err := s.stageNative(ctx, rows)
	if err == nil || ctx.Err() != nil {
		return from, release, err
	}

	metrics.LoaderFallbacks.Inc()
	s.l.logger.Warn("native load failed, retrying inline",
		zap.Int("rows", len(rows)),
		zap.Error(err))
	return (&InlineStrategy{l: s.l}).stage(ctx, rows)
}

func (s *NativeStrategy) stageNative(ctx context.Context, rows []models.Row) (string, func(), error) {
	cols, err := inferColumns(rows)
	if err != nil {
		return "", nil, err
	}
	normalized := make([]models.Row, len(rows))
	for i, row := range rows {
		normalized[i] = normalize(row)
	}
	doc, err := json.MarshalArray(normalized)
	if err != nil {
		return "", nil, tabulaerrors.Wrap(err, tabulaerrors.KindValidation, "records are not serializable")
	}

	raw := sqlutil.RandomName("temp_json")
	table := sqlutil.RandomName("temp_array")
	defer s.l.drop(ctx, "TABLE", raw)

	if _, err := s.l.q.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT CAST(? AS JSON) AS doc", raw), doc); err != nil {
		return "", nil, err
	}
	unnested := fmt.Sprintf("(SELECT UNNEST(json_extract(doc, '$[*]')) AS %s FROM %s)", docColumn, raw)
	if _, err := s.l.q.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s AS %s", table, projection(cols, unnested))); err != nil {
		s.l.drop(ctx, "TABLE", table)
		return "", nil, err
	}
	return table, func() { s.l.drop(ctx, "TABLE", table) }, nil
}

// FileStrategy spools the batch as newline-delimited JSON, optionally
// compressed, and reads it into a temporary table.
type FileStrategy struct {
	l           *Loader
	dir         string
	compression compression.Algorithm
}

// Name implements Strategy.
func (*FileStrategy) Name() Method { return MethodFile }

// Query implements Strategy.
func (s *FileStrategy) Query(ctx context.Context, rows []models.Row, sql, alias string) (*models.QueryResult, error) {
	return s.l.run(ctx, MethodFile, s, rows, sql, alias)
}

func (s *FileStrategy) stage(ctx context.Context, rows []models.Row) (string, func(), error) {
	cols, err := inferColumns(rows)
	if err != nil {
		return "", nil, err
	}
	path, err := s.spool(rows)
	if err != nil {
		return "", nil, err
	}
	removeFile := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			metrics.LoaderCleanupFailures.WithLabelValues("file").Inc()
			s.l.logger.Warn("spool file cleanup failed", zap.String("path", path), zap.Error(err))
		}
	}

	table := sqlutil.RandomName("temp_file")
	from := fmt.Sprintf("(SELECT json AS %s FROM read_ndjson_objects(%s))", docColumn, sqlutil.QuoteLiteral(path))
	if _, err := s.l.q.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s AS %s", table, projection(cols, from))); err != nil {
		s.l.drop(ctx, "TABLE", table)
		removeFile()
		return "", nil, err
	}
	return table, func() {
		s.l.drop(ctx, "TABLE", table)
		removeFile()
	}, nil
}

// spool writes rows to a new file and returns its path. The file is removed
// again when writing fails.
func (s *FileStrategy) spool(rows []models.Row) (path string, err error) {
	f, err := os.CreateTemp(s.dir, "tabula-spool-*.ndjson"+s.compression.Extension())
	if err != nil {
		return "", tabulaerrors.Wrap(err, tabulaerrors.KindInternal, "create spool file")
	}
	name := f.Name()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = tabulaerrors.Wrap(cerr, tabulaerrors.KindInternal, "close spool file")
		}
		if err != nil {
			_ = os.Remove(name)
			path = ""
		}
	}()

	w, err := compression.NewWriter(f, s.compression)
	if err != nil {
		return "", tabulaerrors.Wrap(err, tabulaerrors.KindConfig, "spool compression")
	}
	enc := json.NewStreamingEncoder(w, false)
	for i, row := range rows {
		if err := enc.Encode(normalize(row)); err != nil {
			_ = w.Close()
			return "", tabulaerrors.Wrap(err, tabulaerrors.KindValidation, "record is not serializable").
				WithDetail("row_index", i)
		}
	}
	if err := w.Close(); err != nil {
		return "", tabulaerrors.Wrap(err, tabulaerrors.KindInternal, "flush spool file")
	}
	return name, nil
}
