// Package dedup flags records whose key already exists in the relational
// transaction store.
//
// BulkCheck stages the batch keys in a temporary table and joins them in one
// query against the attached store. CheckWithFallback degrades to a direct
// key store lookup, and from there to marking every record as new. That last
// mode is a weaker guarantee: callers relying on it must suppress duplicates
// themselves.
package dedup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/keystore"
	"github.com/ajitpratap0/tabula/pkg/loader"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/observability"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// Lookup modes reported in metrics and logs.
const (
	ModeAttached    = "attached"
	ModeKeyStore    = "keystore"
	ModeUnavailable = "unavailable"
)

// staging column names
const (
	stagedKey   = "dedup_key"
	stagedIndex = "original_index"
)

// Querier runs SQL and knows the relational attachment. *engine.Engine
// satisfies it.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (*models.QueryResult, error)
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
	RelationalAlias() (string, bool)
}

// Scope restricts lookups to one owner and optional extra columns, such as
// the connected bank account.
type Scope struct {
	UserID  string
	Filters map[string]interface{}
}

// KeyFunc extracts the duplicate key of a record.
type KeyFunc func(record models.Row) (string, error)

// Request is one duplicate check.
type Request struct {
	Records []models.Row
	Scope   Scope
	// Key defaults to reading KeyColumn from each record
	Key KeyFunc
	// Table, KeyColumn and IDColumn default to the detector configuration
	Table     string
	KeyColumn string
	IDColumn  string
}

// Checked is an input record with its duplicate flag.
type Checked struct {
	Record      models.Row `json:"record"`
	IsDuplicate bool       `json:"is_duplicate"`
	// ExistingID is the id of the matching row, empty when none
	ExistingID string `json:"existing_id,omitempty"`
}

// Detector runs duplicate checks.
type Detector struct {
	q      Querier
	loader *loader.Loader
	store  keystore.Lookup
	cfg    config.DedupConfig
	logger *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithKeyStore sets the direct lookup used without an attachment.
func WithKeyStore(s keystore.Lookup) Option {
	return func(d *Detector) {
		d.store = s
	}
}

// WithConfig overrides the default table, columns and batch size.
func WithConfig(c config.DedupConfig) Option {
	return func(d *Detector) {
		if c.Table != "" {
			d.cfg.Table = c.Table
		}
		if c.KeyColumn != "" {
			d.cfg.KeyColumn = c.KeyColumn
		}
		if c.IDColumn != "" {
			d.cfg.IDColumn = c.IDColumn
		}
		if c.BatchSize > 0 {
			d.cfg.BatchSize = c.BatchSize
		}
	}
}

// NewDetector returns a Detector staging batches with ld on q.
func NewDetector(q Querier, ld *loader.Loader, opts ...Option) *Detector {
	d := &Detector{
		q:      q,
		loader: ld,
		cfg:    config.NewEngineConfig().Dedup,
		logger: logger.Named("dedup"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) withDefaults(req Request) Request {
	if req.Table == "" {
		req.Table = d.cfg.Table
	}
	if req.KeyColumn == "" {
		req.KeyColumn = d.cfg.KeyColumn
	}
	if req.IDColumn == "" {
		req.IDColumn = d.cfg.IDColumn
	}
	if req.Key == nil {
		req.Key = ColumnKey(req.KeyColumn)
	}
	return req
}

// ColumnKey returns a KeyFunc reading column as text.
func ColumnKey(column string) KeyFunc {
	return func(record models.Row) (string, error) {
		v, ok := record[column]
		if !ok || v == nil {
			return "", fmt.Errorf("record has no %q", column)
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
}

func keys(req Request) ([]string, error) {
	out := make([]string, len(req.Records))
	for i, r := range req.Records {
		k, err := req.Key(r)
		if err != nil {
			return nil, tabulaerrors.Wrap(err, tabulaerrors.KindValidation, "cannot extract duplicate key").
				WithDetail("row_index", i)
		}
		out[i] = k
	}
	return out, nil
}

// BulkCheck checks the batch against the attached store in one query. The
// output has one entry per record, in input order.
func (d *Detector) BulkCheck(ctx context.Context, req Request) (out []Checked, err error) {
	ctx, span := observability.StartSpan(ctx, "dedup", "bulk_check")
	defer func() { span.End(err) }()

	req = d.withDefaults(req)
	if len(req.Records) == 0 {
		return []Checked{}, nil
	}
	alias, ok := d.q.RelationalAlias()
	if !ok {
		return nil, tabulaerrors.New(tabulaerrors.KindConfig, "no relational store attached")
	}
	if req.Scope.UserID == "" {
		return nil, tabulaerrors.New(tabulaerrors.KindValidation, "user id is required")
	}
	ks, err := keys(req)
	if err != nil {
		return nil, err
	}

	staged := make([]models.Row, len(ks))
	for i, k := range ks {
		staged[i] = models.Row{stagedKey: k, stagedIndex: i}
	}
	staging := sqlutil.RandomName("temp_dedup")
	if err := d.loader.CreateTempTable(ctx, staging, staged); err != nil {
		return nil, err
	}
	defer d.dropStaging(ctx, staging)

	query, args := checkSQL(alias, staging, req)
	res, err := d.q.Query(ctx, query, args...)
	if err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "bulk duplicate check failed").WithQuery(query)
	}
	if res.RowCount != len(req.Records) {
		return nil, tabulaerrors.Newf(tabulaerrors.KindInternal,
			"duplicate check returned %d rows for %d records", res.RowCount, len(req.Records))
	}

	out = make([]Checked, len(req.Records))
	for _, row := range res.Rows {
		idx, ok := row[stagedIndex].(int64)
		if !ok || idx < 0 || int(idx) >= len(out) {
			return nil, tabulaerrors.Newf(tabulaerrors.KindInternal, "unexpected staging index %v", row[stagedIndex])
		}
		c := Checked{Record: req.Records[idx]}
		if id, ok := row["existing_id"].(string); ok {
			c.IsDuplicate = true
			c.ExistingID = id
		}
		out[idx] = c
	}
	return out, nil
}

// checkSQL joins the staged keys against the active rows of the scope.
func checkSQL(alias, staging string, req Request) (string, []interface{}) {
	key := sqlutil.QuoteIdent(req.KeyColumn)
	table := sqlutil.QuoteIdent(append([]string{alias}, strings.Split(req.Table, ".")...)...)

	args := []interface{}{req.Scope.UserID}
	where := []string{
		sqlutil.QuoteIdent(keystore.UserColumn) + " = ?",
		sqlutil.QuoteIdent(keystore.ActiveColumn) + " = true",
	}
	filters := make([]string, 0, len(req.Scope.Filters))
	for col := range req.Scope.Filters {
		filters = append(filters, col)
	}
	sort.Strings(filters)
	for _, col := range filters {
		where = append(where, sqlutil.QuoteIdent(col)+" = ?")
		args = append(args, req.Scope.Filters[col])
	}
	where = append(where, fmt.Sprintf("%s IN (SELECT %s FROM %s)", key, stagedKey, staging))

	query := fmt.Sprintf(`WITH existing_keys AS (
    SELECT %s AS existing_key, MIN(CAST(%s AS VARCHAR)) AS existing_id
    FROM %s
    WHERE %s
    GROUP BY %s
)
SELECT s.%s, ek.existing_id
FROM %s s
LEFT JOIN existing_keys ek ON s.%s = ek.existing_key
ORDER BY s.%s`,
		key, sqlutil.QuoteIdent(req.IDColumn),
		table,
		strings.Join(where, "\n      AND "),
		key,
		stagedIndex,
		staging,
		stagedKey,
		stagedIndex)
	return query, args
}

func (d *Detector) dropStaging(ctx context.Context, name string) {
	if _, err := d.q.Exec(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+name); err != nil {
		metrics.LoaderCleanupFailures.WithLabelValues("table").Inc()
		d.logger.Warn("staging cleanup failed", zap.String("table", name), zap.Error(err))
	}
}

// CheckWithFallback uses BulkCheck when a relational store is attached, the
// key store otherwise, and marks every record as new when neither is
// available or both fail.
func (d *Detector) CheckWithFallback(ctx context.Context, req Request) ([]Checked, error) {
	req = d.withDefaults(req)
	if len(req.Records) == 0 {
		return []Checked{}, nil
	}
	log := logger.FromContext(ctx, d.logger)

	if _, ok := d.q.RelationalAlias(); ok {
		out, err := d.BulkCheck(ctx, req)
		if err == nil {
			d.record(ModeAttached, out)
			return out, nil
		}
		log.Warn("bulk duplicate check failed, falling back", zap.Error(err))
	}

	if d.store != nil {
		out, err := d.checkStore(ctx, req)
		if err == nil {
			d.record(ModeKeyStore, out)
			return out, nil
		}
		log.Warn("key store duplicate check failed, falling back", zap.Error(err))
	}

	log.Warn("duplicate detection unavailable, treating all records as new",
		zap.Int("records", len(req.Records)))
	out := make([]Checked, len(req.Records))
	for i, r := range req.Records {
		out[i] = Checked{Record: r}
	}
	d.record(ModeUnavailable, out)
	return out, nil
}

func (d *Detector) checkStore(ctx context.Context, req Request) (out []Checked, err error) {
	ctx, span := observability.StartSpan(ctx, "dedup", "key_store_check")
	defer func() { span.End(err) }()

	ks, err := keys(req)
	if err != nil {
		return nil, err
	}
	found, err := d.store.ExistingKeys(ctx, keystore.Query{
		Table:     req.Table,
		KeyColumn: req.KeyColumn,
		IDColumn:  req.IDColumn,
		UserID:    req.Scope.UserID,
		Filters:   req.Scope.Filters,
		Keys:      unique(ks),
	})
	if err != nil {
		return nil, err
	}

	out = make([]Checked, len(req.Records))
	for i, r := range req.Records {
		id, ok := found[ks[i]]
		out[i] = Checked{Record: r, IsDuplicate: ok, ExistingID: id}
	}
	return out, nil
}

func unique(ks []string) []string {
	seen := make(map[string]struct{}, len(ks))
	out := make([]string, 0, len(ks))
	for _, k := range ks {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

func (d *Detector) record(mode string, out []Checked) {
	metrics.DedupChecks.WithLabelValues(mode).Inc()
	dups := 0
	for _, c := range out {
		if c.IsDuplicate {
			dups++
		}
	}
	metrics.DedupDuplicates.Add(float64(dups))
	d.logger.Debug("duplicate check completed",
		zap.String("mode", mode),
		zap.Int("records", len(out)),
		zap.Int("duplicates", dups))
}

// Progress is reported after each batch.
type Progress struct {
	Batch      int
	Batches    int
	Processed  int
	Total      int
	Duplicates int
	Elapsed    time.Duration
}

// BatchOptions tune BatchProcess.
type BatchOptions struct {
	// BatchSize defaults to the detector configuration (1000)
	BatchSize  int
	OnProgress func(Progress)
}

// BatchProcess runs CheckWithFallback over consecutive batches of
// req.Records and returns the concatenated results in input order.
func (d *Detector) BatchProcess(ctx context.Context, req Request, opts BatchOptions) ([]Checked, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = d.cfg.BatchSize
	}
	start := time.Now()
	batches := models.Chunk(req.Records, opts.BatchSize)
	out := make([]Checked, 0, len(req.Records))
	dups := 0

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		part := req
		part.Records = batch
		checked, err := d.CheckWithFallback(ctx, part)
		if err != nil {
			return out, err
		}
		for _, c := range checked {
			if c.IsDuplicate {
				dups++
			}
		}
		out = append(out, checked...)

		if opts.OnProgress != nil {
			opts.OnProgress(Progress{
				Batch:      i + 1,
				Batches:    len(batches),
				Processed:  len(out),
				Total:      len(req.Records),
				Duplicates: dups,
				Elapsed:    time.Since(start),
			})
		}
	}
	return out, nil
}
