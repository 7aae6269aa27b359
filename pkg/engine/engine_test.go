package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/source"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(nil, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, e.Initialize(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	e := New(nil, WithLogger(zaptest.NewLogger(t)))

	assert.Equal(t, StateUninitialized, e.State())
	assert.False(t, e.IsInitialized())
	assert.NoError(t, e.Close(), "close before initialize")

	_, err := e.Query(ctx, "SELECT 1")
	require.Error(t, err)
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindConnection))
	assert.True(t, tabulaerrors.IsRetryable(err))

	require.NoError(t, e.Initialize(ctx))
	assert.Equal(t, StateReady, e.State())
	assert.True(t, e.IsInitialized())
	require.NoError(t, e.Initialize(ctx), "initialize on ready engine is a no-op")

	res, err := e.Query(ctx, "SELECT 42 AS answer")
	require.NoError(t, err)
	require.Equal(t, 1, res.RowCount)
	assert.EqualValues(t, 42, res.Rows[0]["answer"])
	assert.Equal(t, []string{"answer"}, res.ColumnNames())

	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "second close")
	assert.Equal(t, StateClosed, e.State())

	_, err = e.Exec(ctx, "SELECT 1")
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindConnection))

	require.NoError(t, e.Initialize(ctx), "closed engine re-opens")
	assert.True(t, e.IsInitialized())
	require.NoError(t, e.Close())
}

func TestInitializeFailureCleansUp(t *testing.T) {
	cfg := config.NewEngineConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "missing", "dir", "tabula.duckdb")

	e := New(cfg, WithLogger(zaptest.NewLogger(t)))
	err := e.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindInitialization))
	assert.Contains(t, err.Error(), "DuckDB initialization failed")
	assert.Equal(t, StateUninitialized, e.State())
	assert.NoError(t, e.Close())
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	cfg := config.NewEngineConfig()
	cfg.Database.Threads = -1

	err := New(cfg, WithLogger(zaptest.NewLogger(t))).Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindConfig))
}

func TestInitializeFileDatabaseWithSettings(t *testing.T) {
	cfg := config.NewEngineConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "tabula.duckdb")
	cfg.Database.Threads = 2
	cfg.Database.MemoryLimit = "512MB"

	e := New(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, e.Initialize(context.Background()))
	defer e.Close()

	info, err := e.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", info.Settings["threads"])
	assert.Equal(t, cfg.Database.Path, info.Path)
	assert.NotEmpty(t, info.Version)
	assert.Contains(t, info.Databases, "tabula")
	assert.Equal(t, "ready", info.State)
}

func TestQueryErrorCarriesSQL(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Query(context.Background(), "SELECT * FROM no_such_table")
	require.Error(t, err)
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindQuery))
	assert.Equal(t, "SELECT * FROM no_such_table", tabulaerrors.QueryOf(err))
	assert.Contains(t, err.Error(), "Query execution failed")
}

func TestQueryWithArgs(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Query(context.Background(), "SELECT ?::VARCHAR AS name, ?::INTEGER + 1 AS n", "o'neil", 41)
	require.NoError(t, err)
	assert.Equal(t, "o'neil", res.Rows[0]["name"])
	assert.EqualValues(t, 42, res.Rows[0]["n"])
}

func TestTempTablesSurviveBetweenCalls(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Exec(ctx, "CREATE TEMP TABLE staging AS SELECT range AS i FROM range(5)")
	require.NoError(t, err)

	res, err := e.Query(ctx, "SELECT count(*) AS n FROM staging")
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Rows[0]["n"])

	temps, err := e.TempObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"staging"}, temps)
}

func TestQueryStream(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	var seen []int64
	err := e.QueryStream(ctx, "SELECT range AS i FROM range(4)", func(row models.Row) error {
		seen = append(seen, row["i"].(int64))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3}, seen)

	stop := errors.New("stop")
	calls := 0
	err = e.QueryStream(ctx, "SELECT range AS i FROM range(100)", func(models.Row) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, calls)
}

func TestExecReportsAffectedRows(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Exec(ctx, "CREATE TABLE accounts (id INTEGER, name VARCHAR)")
	require.NoError(t, err)

	n, err := e.Exec(ctx, "INSERT INTO accounts VALUES (1, 'checking'), (2, 'savings')")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Exec(ctx, "CREATE TABLE ledger (id INTEGER PRIMARY KEY, amount DOUBLE)")
	require.NoError(t, err)

	require.NoError(t, e.Transaction(ctx, []Statement{
		{SQL: "INSERT INTO ledger VALUES (?, ?)", Args: []interface{}{1, 10.5}},
		{SQL: "INSERT INTO ledger VALUES (?, ?)", Args: []interface{}{2, -3.25}},
	}))

	err = e.Transaction(ctx, []Statement{
		{SQL: "INSERT INTO ledger VALUES (3, 1.0)"},
		{SQL: "INSERT INTO ledger VALUES (1, 99.0)"}, // duplicate key
	})
	require.Error(t, err)
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindQuery))
	assert.Equal(t, "INSERT INTO ledger VALUES (1, 99.0)", tabulaerrors.QueryOf(err))

	res, err := e.Query(ctx, "SELECT id FROM ledger ORDER BY id")
	require.NoError(t, err)
	require.Equal(t, 2, res.RowCount, "failed batch rolled back entirely")
	assert.EqualValues(t, 1, res.Rows[0]["id"])
	assert.EqualValues(t, 2, res.Rows[1]["id"])
}

func TestWithTransaction(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Exec(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	err = e.WithTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO t VALUES (1)"); err != nil {
			return err
		}
		res, err := tx.Query(ctx, "SELECT count(*) AS n FROM t")
		if err != nil {
			return err
		}
		assert.EqualValues(t, 1, res.Rows[0]["n"])
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	res, err := e.Query(ctx, "SELECT count(*) AS n FROM t")
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Rows[0]["n"])
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Exec(ctx, "CREATE TABLE transactions (id INTEGER NOT NULL, amount DECIMAL(18, 2), note VARCHAR)")
	require.NoError(t, err)
	_, err = e.Exec(ctx, "CREATE VIEW negatives AS SELECT * FROM transactions WHERE amount < 0")
	require.NoError(t, err)

	cols, err := e.TableSchema(ctx, "transactions")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, models.Column{Name: "id", Type: "INTEGER", Nullable: false}, cols[0])
	assert.Equal(t, "DECIMAL(18,2)", cols[1].Type)
	assert.True(t, cols[2].Nullable)

	tables, err := e.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"negatives", "transactions"}, tables)

	_, err = e.TableSchema(ctx, " ")
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindValidation))
}

func TestCreateTableFromSource(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("date,amount\n2024-01-15,12.5\n2024-01-16,-3\n"), 0o600))
	jsonPath := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"id": 1, "note": "a"}, {"id": 2, "note": "b"}, {"id": 3, "note": "c"}]`), 0o600))

	tests := []struct {
		name  string
		table string
		src   source.Source
		rows  int64
	}{
		{"csv", "bank_csv", source.CSV{Paths: []string{csvPath}}, 2},
		{"json", "bank json", source.JSON{Paths: []string{jsonPath}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, e.CreateTableFrom(ctx, tt.table, tt.src))

			res, err := e.Query(ctx, `SELECT COUNT(*) AS n FROM "`+tt.table+`"`)
			require.NoError(t, err)
			assert.EqualValues(t, tt.rows, res.Rows[0]["n"])

			read, err := e.ReadSource(ctx, tt.src)
			require.NoError(t, err)
			assert.EqualValues(t, tt.rows, read.RowCount)

			assert.Error(t, e.CreateTableFrom(ctx, tt.table, tt.src), "table already exists")
		})
	}

	err := e.CreateTableFrom(ctx, "missing_source", nil)
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindValidation))
	err = e.CreateTableFrom(ctx, " ", source.CSV{Paths: []string{csvPath}})
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindValidation))

	tables, err := e.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bank json", "bank_csv"}, tables)
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	dest := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, e.Export(ctx, ExportRequest{
		Query:       "SELECT range AS i, 'x' || range AS label FROM range(3)",
		Destination: dest,
		Format:      FormatCSV,
		Delimiter:   ";",
	}))

	res, err := e.Query(ctx, "SELECT * FROM read_csv('"+dest+"', delim = ';', header = true) ORDER BY i")
	require.NoError(t, err)
	require.Equal(t, 3, res.RowCount)
	assert.Equal(t, "x2", res.Rows[2]["label"])
}

func TestInfo(t *testing.T) {
	e := newTestEngine(t)

	info, err := e.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ":memory:", info.Path)
	assert.Contains(t, info.Databases, "memory")
	assert.Empty(t, info.RelationalAlias)
	assert.Empty(t, info.Secrets)
	alias, ok := e.RelationalAlias()
	assert.False(t, ok)
	assert.Empty(t, alias)
}
