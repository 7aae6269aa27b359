package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/dedup"
	"github.com/ajitpratap0/tabula/pkg/engine"
	"github.com/ajitpratap0/tabula/pkg/json"
	"github.com/ajitpratap0/tabula/pkg/keystore"
	"github.com/ajitpratap0/tabula/pkg/loader"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/transform"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show engine version, settings, extensions and attachments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				info, err := eng.Info(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), info)
			})
		},
	}
}

type transformFlags struct {
	output        string
	failOnInvalid bool
	store         bool
	includeRows   bool
	dedupUser     string
	dedupFilters  []string
	dedupTable    string
}

func newTransformCmd(a *app) *cobra.Command {
	var f transformFlags

	cmd := &cobra.Command{
		Use:   "transform JOB_FILE",
		Short: "Run a transform job and report validation results",
		Long: `Run the transform job described by a YAML file: read the source, optionally
stamp deterministic keys, run the SQL template and validate every row.

Example:
  tabula transform jobs/bank-export.yaml --output json
  tabula transform jobs/bank-export.yaml --dedup-user u1 --dedup-filter connected_bank_account_id=acc1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransform(cmd, a, args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.output, "output", "o", "summary", "Output format (summary, json)")
	cmd.Flags().BoolVar(&f.failOnInvalid, "fail-on-invalid", false, "Fail on the first invalid row")
	cmd.Flags().BoolVar(&f.store, "store", false, "Keep the transformed rows in a temporary table")
	cmd.Flags().BoolVar(&f.includeRows, "include-invalid-rows", false, "Include offending rows in error details")
	cmd.Flags().StringVar(&f.dedupUser, "dedup-user", "", "Check valid rows for duplicates owned by this user")
	cmd.Flags().StringSliceVar(&f.dedupFilters, "dedup-filter", nil, "Extra duplicate scope as column=value (repeatable)")
	cmd.Flags().StringVar(&f.dedupTable, "dedup-table", "", "Transaction table of the relational store")
	return cmd
}

// transformReport is the json output of the transform command.
type transformReport struct {
	Job        string            `json:"job"`
	Result     *transform.Result `json:"result"`
	Duplicates []dedup.Checked   `json:"duplicates,omitempty"`
}

func runTransform(cmd *cobra.Command, a *app, path string, f transformFlags) error {
	// A partial transform block overlays the engine defaults.
	defaults := a.cfg.Transform
	job := config.JobConfig{Transform: &defaults}
	if err := config.Load(path, &job); err != nil {
		return err
	}
	spec, err := transform.FromJob(&job)
	if err != nil {
		return err
	}
	filters, err := parseFilters(f.dedupFilters)
	if err != nil {
		return err
	}

	opts := transform.OptionsFromConfig(a.cfg.Transform)
	if job.Transform != nil {
		opts = transform.OptionsFromConfig(*job.Transform)
	}
	if f.failOnInvalid {
		opts.ContinueOnValidationError = false
	}
	opts.StoreInTempTable = f.store
	opts.IncludeInvalidRows = opts.IncludeInvalidRows || f.includeRows

	ctx := logger.ContextWithJobID(cmd.Context(), job.Name)
	return a.withEngine(ctx, func(ctx context.Context, eng *engine.Engine) error {
		res, err := transform.NewEngine(eng, transform.WithLogger(logger.Named("transform"))).
			TransformData(ctx, spec, opts)
		if err != nil {
			return err
		}
		report := transformReport{Job: job.Name, Result: res}

		if f.dedupUser != "" && res.ValidCount > 0 {
			report.Duplicates, err = a.checkDuplicates(ctx, eng, res.ValidRows, dedup.Request{
				Scope: dedup.Scope{UserID: f.dedupUser, Filters: filters},
				Table: f.dedupTable,
			})
			if err != nil {
				return err
			}
		}

		if f.output == "json" {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		writeSummary(cmd.OutOrStdout(), report)
		if f.failOnInvalid && res.InvalidCount > 0 {
			return fmt.Errorf("%d invalid rows", res.InvalidCount)
		}
		return nil
	})
}

func (a *app) checkDuplicates(ctx context.Context, eng *engine.Engine, rows []models.Row, req dedup.Request) ([]dedup.Checked, error) {
	ld, err := loader.New(eng, a.cfg.Loader, loader.WithLogger(logger.Named("loader")))
	if err != nil {
		return nil, err
	}
	opts := []dedup.Option{dedup.WithConfig(a.cfg.Dedup), dedup.WithLogger(logger.Named("dedup"))}
	if _, attached := eng.RelationalAlias(); !attached && a.cfg.Relational != nil {
		store, err := keystore.Open(ctx, a.cfg.Relational, logger.Named("keystore"))
		if err != nil {
			a.logger.Warn("key store unavailable", zap.Error(err))
		} else {
			defer store.Close()
			opts = append(opts, dedup.WithKeyStore(store))
		}
	}

	req.Records = rows
	return dedup.NewDetector(eng, ld, opts...).BatchProcess(ctx, req, dedup.BatchOptions{
		OnProgress: func(p dedup.Progress) {
			a.logger.Info("duplicate check progress",
				zap.Int("batch", p.Batch),
				zap.Int("batches", p.Batches),
				zap.Int("processed", p.Processed),
				zap.Int("duplicates", p.Duplicates))
		},
	})
}

func parseFilters(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q, expected column=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func writeSummary(w io.Writer, r transformReport) {
	res := r.Result
	fmt.Fprintf(w, "Job:       %s\n", r.Job)
	fmt.Fprintf(w, "Rows:      %d total, %d valid, %d invalid\n", res.TotalCount, res.ValidCount, res.InvalidCount)
	if res.Stopped {
		fmt.Fprintln(w, "Stopped:   validation ended early")
	}
	if res.StagingTable != "" {
		fmt.Fprintf(w, "Stored in: %s\n", res.StagingTable)
	}
	fmt.Fprintf(w, "Duration:  %s (query %s, validate %s)\n", res.Timings.Total, res.Timings.Transform, res.Timings.Validate)

	if len(res.AggregatedErrors) > 0 {
		fmt.Fprintln(w, "\nErrors by field:")
		fields := make([]string, 0, len(res.AggregatedErrors))
		for f := range res.AggregatedErrors {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			d := res.AggregatedErrors[f]
			fmt.Fprintf(w, "  %s: %s\n", f, strings.Join(d.Messages, "; "))
			if len(d.Examples) > 0 {
				fmt.Fprintf(w, "    examples: %v\n", d.Examples)
			}
		}
	}

	if len(r.Duplicates) > 0 {
		dups := 0
		for _, c := range r.Duplicates {
			if c.IsDuplicate {
				dups++
			}
		}
		fmt.Fprintf(w, "\nDuplicates: %d of %d valid rows\n", dups, len(r.Duplicates))
	}
}

type queryFlags struct {
	records string
	alias   string
	method  string
}

func newQueryCmd(a *app) *cobra.Command {
	var f queryFlags

	cmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Run SQL, optionally against records loaded from a JSON file",
		Long: `Run SQL on the engine and print the rows as JSON.

With --records, the file must hold a JSON array of objects; every occurrence of
the alias in SQL is replaced by those records.

Example:
  tabula query "SELECT * FROM read_csv_auto('export.csv') LIMIT 5"
  tabula query "SELECT category, SUM(amount) FROM tx GROUP BY 1" --records tx.json --alias tx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, eng *engine.Engine) error {
				res, err := runQuery(ctx, a, eng, args[0], f)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().StringVar(&f.records, "records", "", "JSON file with an array of records to query")
	cmd.Flags().StringVar(&f.alias, "alias", "data", "Name the records are referenced by in SQL")
	cmd.Flags().StringVar(&f.method, "method", "auto", "Load method (auto, inline, native, file)")
	return cmd
}

func runQuery(ctx context.Context, a *app, eng *engine.Engine, sql string, f queryFlags) (*models.QueryResult, error) {
	if f.records == "" {
		return eng.Query(ctx, sql)
	}

	method, err := loader.ParseMethod(f.method)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.records) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	ld, err := loader.New(eng, a.cfg.Loader, loader.WithLogger(logger.Named("loader")))
	if err != nil {
		return nil, err
	}
	return ld.LoadJSONString(ctx, string(data), sql, f.alias, loader.QueryOptions{Force: method})
}

func writeJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
