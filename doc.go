// Package tabula turns raw tabular exports into validated, key-stamped rows.
//
// Tabula wraps an embedded DuckDB engine. Sources (CSV, Parquet, JSON and
// Excel files, local or in object storage) are read through SQL, reshaped by
// a user supplied SQL template and validated row by row against a schema.
// Rows can be stamped with a deterministic key and checked against an
// external relational store for duplicates.
//
// # Architecture
//
// The engine owns a single pinned DuckDB connection. Everything else talks
// to it through small interfaces:
//
//	pkg/engine     - Engine lifecycle, queries, transactions, export, catalog
//	pkg/source     - SQL fragments for CSV, Parquet, JSON and Excel sources
//	pkg/keygen     - Deterministic md5 row keys, in SQL and in process
//	pkg/validation - Row schemas and field errors
//	pkg/transform  - Template, query and validation in one run
//	pkg/loader     - Bulk loading of in-memory records (inline, native, file)
//	pkg/dedup      - Duplicate detection against the relational store
//	pkg/keystore   - Direct PostgreSQL key lookup used as a fallback
//	pkg/config     - Engine and job configuration (YAML, ${VAR} substitution)
//	pkg/logger     - Structured logging
//	pkg/metrics    - Prometheus metrics
//
// # Quick Start
//
//	eng := engine.New(config.NewEngineConfig())
//	if err := eng.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	spec := transform.Spec{
//	    Source:   source.CSV{Paths: []string{"export.csv"}},
//	    Template: "SELECT date, amount, description FROM {{data}}",
//	    Key:      &keygen.Config{SourceColumns: []string{"date", "amount"}},
//	}
//	res, err := transform.NewEngine(eng).TransformData(ctx, spec, transform.DefaultOptions())
//
// # Command Line
//
//	tabula transform jobs/bank-export.yaml --output json
//	tabula query "SELECT * FROM tx" --records tx.json --alias tx
//	tabula info
package tabula
