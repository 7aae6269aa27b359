// Package transform runs a SQL template over a data source and checks every
// produced row against a schema.
//
// Invalid rows are data, not errors: TransformData returns the valid and raw
// rows together with capped per-row error details and per-field aggregated
// diagnostics. Only infrastructure failures (SQL errors, a schema that cannot
// run) are returned as errors.
package transform

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/json"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/observability"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
	"github.com/ajitpratap0/tabula/pkg/validation"
)

// Querier runs SQL. *engine.Engine satisfies it.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (*models.QueryResult, error)
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
}

// Options control validation and reporting. The zero value is strict: it
// stops at the first invalid row and keeps no error details or examples.
// Start from DefaultOptions or OptionsFromConfig.
type Options struct {
	// ContinueOnValidationError keeps validating after an invalid row
	ContinueOnValidationError bool
	// MaxValidationErrors stops validation after this many invalid rows (0 = no limit)
	MaxValidationErrors int
	// MaxErrorDetailRows caps RowErrors
	MaxErrorDetailRows int
	// MaxExamplesPerField caps the examples kept per field
	MaxExamplesPerField int
	// IncludeInvalidRows keeps the offending row in each RowError
	IncludeInvalidRows bool
	// StoreInTempTable materializes the transformed rows into a temporary table
	StoreInTempTable bool
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return OptionsFromConfig(config.NewEngineConfig().Transform)
}

// OptionsFromConfig converts configured defaults.
func OptionsFromConfig(c config.TransformConfig) Options {
	return Options{
		ContinueOnValidationError: c.ContinueOnValidationError,
		MaxValidationErrors:       c.MaxValidationErrors,
		MaxErrorDetailRows:        c.MaxErrorDetailRows,
		MaxExamplesPerField:       c.MaxExamplesPerField,
		IncludeInvalidRows:        c.IncludeInvalidRows,
	}
}

// RowError reports the problems of one invalid row.
type RowError struct {
	RowIndex int                     `json:"row_index"`
	Row      models.Row              `json:"row"`
	Errors   []validation.FieldError `json:"errors"`
}

// FieldDiagnostics aggregates the errors of one field across rows.
type FieldDiagnostics struct {
	Messages []string      `json:"messages"`
	Examples []interface{} `json:"examples"`
}

// Timings are phase durations of one transform. They marshal to JSON as
// fractional milliseconds.
type Timings struct {
	Read      time.Duration `json:"-"`
	Transform time.Duration `json:"-"`
	Validate  time.Duration `json:"-"`
	Total     time.Duration `json:"-"`
}

// MarshalJSON implements json.Marshaler.
func (t Timings) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Read      float64 `json:"read_ms"`
		Transform float64 `json:"transform_ms"`
		Validate  float64 `json:"validate_ms"`
		Total     float64 `json:"total_ms"`
	}{millis(t.Read), millis(t.Transform), millis(t.Validate), millis(t.Total)})
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Result is the outcome of TransformData.
type Result struct {
	// RawRows are the rows produced by the template, before validation
	RawRows []models.Row `json:"raw_rows"`
	// ValidRows are the parsed values of the rows that passed
	ValidRows    []models.Row `json:"valid_rows"`
	TotalCount   int          `json:"total_count"`
	ValidCount   int          `json:"valid_count"`
	InvalidCount int          `json:"invalid_count"`
	// RowErrors holds at most MaxErrorDetailRows entries
	RowErrors []RowError `json:"row_errors"`
	// AggregatedErrors is keyed by dotted field path
	AggregatedErrors map[string]*FieldDiagnostics `json:"aggregated_errors"`
	Timings          Timings                      `json:"timings"`
	// Stopped is set when validation ended before the last row
	Stopped bool `json:"stopped"`
	// StagingTable names the temporary table holding the rows, when requested
	StagingTable string `json:"staging_table,omitempty"`
	// Query is the executed SQL
	Query string `json:"query"`
}

// Engine runs transformations.
type Engine struct {
	q      Querier
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns a transform engine running SQL on q.
func NewEngine(q Querier, opts ...Option) *Engine {
	e := &Engine{q: q, logger: logger.Named("transform")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TransformData builds the query from spec, runs it and validates every row.
func (e *Engine) TransformData(ctx context.Context, spec Spec, opts Options) (res *Result, err error) {
	ctx, span := observability.StartSpan(ctx, "transform", "transform_data")
	defer func() { span.End(err) }()

	start := time.Now()
	log := logger.FromContext(ctx, e.logger)

	query, err := spec.SQL()
	if err != nil {
		return nil, err
	}
	res = &Result{Query: query, AggregatedErrors: map[string]*FieldDiagnostics{}}
	res.Timings.Read = time.Since(start)

	execStart := time.Now()
	out, err := e.q.Query(ctx, query, spec.Params...)
	if err != nil {
		return nil, err
	}
	res.Timings.Transform = time.Since(execStart)
	if dup := duplicateColumn(out.Columns); dup != "" {
		return nil, tabulaerrors.Newf(tabulaerrors.KindValidation,
			"transformation produces column %q more than once", dup).WithQuery(query)
	}

	res.RawRows = out.Rows
	res.TotalCount = out.RowCount

	validateStart := time.Now()
	if err := validate(res, spec.Schema, opts); err != nil {
		return nil, err
	}
	res.Timings.Validate = time.Since(validateStart)

	if opts.StoreInTempTable {
		name := sqlutil.RandomName("temp_validated")
		if _, err := e.q.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s AS (%s)", name, query), spec.Params...); err != nil {
			return nil, err
		}
		res.StagingTable = name
		log.Debug("transformed rows stored", zap.String("table", name))
	}

	res.Timings.Total = time.Since(start)

	metrics.ObserveTransform("read", res.Timings.Read)
	metrics.ObserveTransform("transform", res.Timings.Transform)
	metrics.ObserveTransform("validate", res.Timings.Validate)
	metrics.ObserveTransform("total", res.Timings.Total)
	metrics.RecordRows(res.ValidCount, res.InvalidCount)
	span.SetAttribute("rows.total", res.TotalCount)
	span.SetAttribute("rows.valid", res.ValidCount)
	span.SetAttribute("rows.invalid", res.InvalidCount)

	log.Info("transformation completed",
		zap.Int("total", res.TotalCount),
		zap.Int("valid", res.ValidCount),
		zap.Int("invalid", res.InvalidCount),
		zap.Bool("stopped", res.Stopped),
		zap.Duration("duration", res.Timings.Total))
	return res, nil
}

// TransformToValidated returns only the valid rows. With
// ContinueOnValidationError unset, any invalid row fails the call.
func (e *Engine) TransformToValidated(ctx context.Context, spec Spec, opts Options) ([]models.Row, error) {
	res, err := e.TransformData(ctx, spec, opts)
	if err != nil {
		return nil, err
	}

	if res.InvalidCount > 0 && !opts.ContinueOnValidationError {
		msg := fmt.Sprintf("Validation failed for %d rows.", res.InvalidCount)
		if len(res.RowErrors) > 0 && len(res.RowErrors[0].Errors) > 0 {
			first := res.RowErrors[0]
			msg += fmt.Sprintf(" First error on row %d, field '%s': %s",
				first.RowIndex, first.Errors[0].PathString(), first.Errors[0].Message)
		}
		return nil, tabulaerrors.New(tabulaerrors.KindValidation, msg).
			WithDetail("invalid_rows", res.InvalidCount)
	}
	return res.ValidRows, nil
}

// validate partitions res.RawRows into valid rows and errors.
func validate(res *Result, schema validation.Schema, opts Options) error {
	res.ValidRows = make([]models.Row, 0, len(res.RawRows))

	for i, row := range res.RawRows {
		vr, err := schema.Validate(row)
		if err != nil {
			return tabulaerrors.Wrap(err, tabulaerrors.KindInternal, "schema failed").
				WithDetail("row_index", i)
		}
		if vr.Valid() {
			res.ValidRows = append(res.ValidRows, vr.Value)
			continue
		}

		res.InvalidCount++
		aggregate(res.AggregatedErrors, vr.Errors, opts.MaxExamplesPerField)
		if len(res.RowErrors) < opts.MaxErrorDetailRows {
			detail := RowError{RowIndex: i, Row: models.Row{}, Errors: vr.Errors}
			if opts.IncludeInvalidRows {
				detail.Row = row
			}
			res.RowErrors = append(res.RowErrors, detail)
		}

		if !opts.ContinueOnValidationError ||
			(opts.MaxValidationErrors > 0 && res.InvalidCount >= opts.MaxValidationErrors) {
			res.Stopped = i < len(res.RawRows)-1
			break
		}
	}

	res.ValidCount = len(res.ValidRows)
	return nil
}

// aggregate merges field errors into diagnostics: unique messages and up to
// maxExamples unique non-nil example values per path.
func aggregate(into map[string]*FieldDiagnostics, errs []validation.FieldError, maxExamples int) {
	for _, fe := range errs {
		path := fe.PathString()
		d, ok := into[path]
		if !ok {
			d = &FieldDiagnostics{Messages: []string{}, Examples: []interface{}{}}
			into[path] = d
		}
		if !containsString(d.Messages, fe.Message) {
			d.Messages = append(d.Messages, fe.Message)
		}
		if fe.Value != nil && len(d.Examples) < maxExamples && !containsValue(d.Examples, fe.Value) {
			d.Examples = append(d.Examples, fe.Value)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsValue(list []interface{}, v interface{}) bool {
	key := fmt.Sprintf("%T:%v", v, v)
	for _, x := range list {
		if fmt.Sprintf("%T:%v", x, x) == key {
			return true
		}
	}
	return false
}

func duplicateColumn(cols []models.Column) string {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c.Name] {
			return c.Name
		}
		seen[c.Name] = true
	}
	return ""
}
