// Package loader makes in-memory records queryable by SQL.
//
// QueryArray stages a slice of records inside the engine, substitutes the
// staged relation for an alias in the caller's SQL and runs it. Three
// strategies trade setup cost against per-row cost:
//
//   - inline: every record becomes one JSON literal in a VALUES list
//   - native: the whole batch is bound as one JSON parameter and unnested
//     into a temporary table
//   - file: records are spooled to a newline-delimited JSON file which the
//     engine reads into a temporary table
//
// SelectMethod picks one from the batch size. All strategies project the same
// columns with the same types, so the choice never changes a result. Staging
// objects are removed on every path; cleanup failures are logged and counted
// but never replace the error that caused them.
package loader

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/compression"
	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/json"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/observability"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// Method names a loading strategy.
type Method string

const (
	// MethodAuto lets SelectMethod decide
	MethodAuto   Method = ""
	MethodInline Method = "inline"
	MethodNative Method = "native"
	MethodFile   Method = "file"
)

// ParseMethod maps a flag value to a Method. "auto" and "" select MethodAuto.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodAuto, "auto":
		return MethodAuto, nil
	case MethodInline, MethodNative, MethodFile:
		return Method(s), nil
	default:
		return "", tabulaerrors.Newf(tabulaerrors.KindValidation, "unknown load method %q", s)
	}
}

// Thresholds are the batch sizes at which the next strategy takes over.
type Thresholds struct {
	Native int
	File   int
}

// DefaultThresholds returns the configured defaults (500 and 100000).
func DefaultThresholds() Thresholds {
	c := config.NewEngineConfig().Loader
	return Thresholds{Native: c.NativeThreshold, File: c.FileThreshold}
}

// SelectMethod returns inline below t.Native, native below t.File and file
// from t.File on.
func SelectMethod(n int, t Thresholds) Method {
	switch {
	case n < t.Native:
		return MethodInline
	case n < t.File:
		return MethodNative
	default:
		return MethodFile
	}
}

// Querier runs SQL on one connection. *engine.Engine satisfies it.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (*models.QueryResult, error)
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
}

// Strategy stages records and runs SQL against them.
type Strategy interface {
	Name() Method
	Query(ctx context.Context, rows []models.Row, sql, alias string) (*models.QueryResult, error)
}

// QueryOptions tune one QueryArray call.
type QueryOptions struct {
	// Force bypasses SelectMethod
	Force Method
}

// Loader stages record batches on a Querier.
type Loader struct {
	q           Querier
	cfg         config.LoaderConfig
	thresholds  Thresholds
	compression compression.Algorithm
	logger      *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithThresholds overrides the configured thresholds.
func WithThresholds(t Thresholds) Option {
	return func(ld *Loader) {
		ld.thresholds = t
	}
}

// New returns a Loader running on q with cfg; the zero LoaderConfig selects
// the defaults.
func New(q Querier, cfg config.LoaderConfig, opts ...Option) (*Loader, error) {
	defaults := config.NewEngineConfig().Loader
	if cfg.NativeThreshold == 0 && cfg.FileThreshold == 0 {
		cfg.NativeThreshold, cfg.FileThreshold = defaults.NativeThreshold, defaults.FileThreshold
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = defaults.InsertBatchSize
	}
	algo, err := compression.Parse(cfg.SpoolCompression)
	if err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindConfig, "loader.spool_compression")
	}

	l := &Loader{
		q:           q,
		cfg:         cfg,
		thresholds:  Thresholds{Native: cfg.NativeThreshold, File: cfg.FileThreshold},
		compression: algo,
		logger:      logger.Named("loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Thresholds returns the thresholds in effect.
func (l *Loader) Thresholds() Thresholds {
	return l.thresholds
}

// Strategy returns the strategy implementing m.
func (l *Loader) Strategy(m Method) (Strategy, error) {
	switch m {
	case MethodInline:
		return &InlineStrategy{l: l}, nil
	case MethodNative:
		return &NativeStrategy{l: l}, nil
	case MethodFile:
		return &FileStrategy{l: l, dir: l.cfg.SpoolDir, compression: l.compression}, nil
	default:
		return nil, tabulaerrors.Newf(tabulaerrors.KindValidation, "unknown load method %q", m)
	}
}

// QueryArray stages rows, replaces every whole-word occurrence of alias in sql
// with the staged relation and returns the result. The alias must be a bare
// identifier. Empty input returns an empty result without touching the engine.
func (l *Loader) QueryArray(ctx context.Context, rows []models.Row, sql, alias string, opts QueryOptions) (*models.QueryResult, error) {
	if err := sqlutil.CheckBareIdent("alias", alias); err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindValidation, "invalid alias")
	}
	if len(rows) == 0 {
		return models.Empty(), nil
	}

	method := opts.Force
	if method == MethodAuto {
		method = SelectMethod(len(rows), l.thresholds)
	}
	s, err := l.Strategy(method)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("loading records", zap.String("method", string(method)), zap.Int("rows", len(rows)))
	return s.Query(ctx, rows, sql, alias)
}

// LoadJSONString is QueryArray for a serialized JSON array of objects.
// Numbers keep their written form, so integers load as BIGINT.
func (l *Loader) LoadJSONString(ctx context.Context, data, sql, alias string, opts QueryOptions) (*models.QueryResult, error) {
	var rows []models.Row
	if err := json.UnmarshalNumbers([]byte(data), &rows); err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindValidation, "input is not a JSON array of objects")
	}
	return l.QueryArray(ctx, rows, sql, alias, opts)
}

// DefaultProcessBatchSize is the ProcessArray batch size when none is set.
const DefaultProcessBatchSize = 5000

// ProcessOptions tune ProcessArray.
type ProcessOptions struct {
	// BatchSize is the number of rows staged per query (default 5000)
	BatchSize int
	// Validate maps every result row; an error stops processing
	Validate func(models.Row) (models.Row, error)
	// Force bypasses SelectMethod for every batch
	Force Method
}

// ProcessArray runs sql over consecutive batches of rows and returns the
// result rows of all batches in order, each passed through opts.Validate
// when set. sql sees one batch at a time, so aggregates are per batch.
func (l *Loader) ProcessArray(ctx context.Context, rows []models.Row, sql, alias string, opts ProcessOptions) ([]models.Row, error) {
	if err := sqlutil.CheckBareIdent("alias", alias); err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindValidation, "invalid alias")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultProcessBatchSize
	}

	batches := models.Chunk(rows, opts.BatchSize)
	out := make([]models.Row, 0, len(rows))
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := l.QueryArray(ctx, batch, sql, alias, QueryOptions{Force: opts.Force})
		if err != nil {
			return nil, err
		}
		for j, row := range res.Rows {
			if opts.Validate != nil {
				if row, err = opts.Validate(row); err != nil {
					return nil, tabulaerrors.Wrap(err, tabulaerrors.KindValidation,
						fmt.Sprintf("batch %d row %d rejected", i+1, j))
				}
			}
			out = append(out, row)
		}
		l.logger.Debug("processed batch",
			zap.Int("batch", i+1),
			zap.Int("batches", len(batches)),
			zap.Int("rows", len(out)))
	}
	return out, nil
}

// CreateTempTable materializes rows into a temporary table named name.
func (l *Loader) CreateTempTable(ctx context.Context, name string, rows []models.Row) (err error) {
	ctx, span := observability.StartSpan(ctx, "loader", "create_temp_table")
	defer func() { span.End(err) }()

	if len(rows) == 0 {
		return tabulaerrors.New(tabulaerrors.KindValidation, "cannot create a table from an empty array")
	}
	st, err := l.stager(SelectMethod(len(rows), l.thresholds))
	if err != nil {
		return err
	}
	from, release, err := st.stage(ctx, rows)
	if err != nil {
		return err
	}
	defer release()

	_, err = l.q.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT * FROM %s", sqlutil.QuoteIdent(name), from))
	return err
}

// CreateView creates (or replaces) a temporary view named name over rows.
// Inline views embed the records; other methods back the view with a
// temporary table named <name>_rows that lives as long as the view.
func (l *Loader) CreateView(ctx context.Context, name string, rows []models.Row, method Method) error {
	if len(rows) == 0 {
		return tabulaerrors.New(tabulaerrors.KindValidation, "cannot create a view from an empty array")
	}
	if method == MethodAuto {
		method = SelectMethod(len(rows), l.thresholds)
	}

	from := ""
	if method == MethodInline {
		cols, err := inferColumns(rows)
		if err != nil {
			return err
		}
		values, err := valuesList(rows)
		if err != nil {
			return err
		}
		from = "(" + projection(cols, values) + ")"
	} else {
		backing := name + "_rows"
		if err := l.CreateTempTable(ctx, backing, rows); err != nil {
			return err
		}
		from = sqlutil.QuoteIdent(backing)
	}

	_, err := l.q.Exec(ctx, fmt.Sprintf("CREATE OR REPLACE TEMP VIEW %s AS SELECT * FROM %s", sqlutil.QuoteIdent(name), from))
	return err
}

// stager is the staging half of a strategy: it returns a relation usable in
// FROM and a release func that removes what it created.
type stager interface {
	stage(ctx context.Context, rows []models.Row) (from string, release func(), err error)
}

func (l *Loader) stager(m Method) (stager, error) {
	s, err := l.Strategy(m)
	if err != nil {
		return nil, err
	}
	return s.(stager), nil
}

// run stages rows with st, runs sql against them and releases the staging.
func (l *Loader) run(ctx context.Context, method Method, st stager, rows []models.Row, sql, alias string) (res *models.QueryResult, err error) {
	ctx, span := observability.StartSpan(ctx, "loader", string(method))
	defer func() { span.End(err) }()
	span.SetAttribute("rows", len(rows))

	from, release, err := st.stage(ctx, rows)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err = l.q.Query(ctx, sqlutil.ReplaceAlias(sql, alias, from))
	if err != nil {
		return nil, err
	}
	metrics.RecordLoad(string(method), len(rows))
	return res, nil
}

// drop removes a staging object, logging and counting failures.
func (l *Loader) drop(ctx context.Context, kind, name string) {
	ctx = context.WithoutCancel(ctx)
	stmt := fmt.Sprintf("DROP %s IF EXISTS %s", kind, sqlutil.QuoteIdent(name))
	if _, err := l.q.Exec(ctx, stmt); err != nil {
		metrics.LoaderCleanupFailures.WithLabelValues(objectLabel(kind)).Inc()
		l.logger.Warn("staging cleanup failed",
			zap.String("object", name),
			zap.Error(err))
	}
}

func objectLabel(kind string) string {
	if kind == "VIEW" {
		return "view"
	}
	return "table"
}
