package loader_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/engine"
	"github.com/ajitpratap0/tabula/pkg/loader"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
	"github.com/ajitpratap0/tabula/pkg/testutil"
)

func sampleRows() []models.Row {
	when := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return []models.Row{
		{"id": 1, "amount": 12.5, "description": "Lunch", "booked": true, "at": when},
		{"id": 2, "amount": 3.0, "description": "Coffee", "booked": false, "at": when.Add(time.Hour)},
		{"id": 3, "amount": -40.25, "description": nil, "booked": true},
	}
}

func TestStrategiesAgree(t *testing.T) {
	ctx := context.Background()
	eng := testutil.NewEngine(t, nil)
	const query = "SELECT * FROM records ORDER BY id"

	l, err := loader.New(eng, config.LoaderConfig{SpoolDir: t.TempDir()}, loader.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	want, err := l.QueryArray(ctx, sampleRows(), query, "records", loader.QueryOptions{Force: loader.MethodInline})
	require.NoError(t, err)
	require.Equal(t, 3, want.RowCount)

	first := want.Rows[0]
	assert.Equal(t, int64(1), first["id"])
	assert.Equal(t, 12.5, first["amount"])
	assert.Equal(t, "Lunch", first["description"])
	assert.Equal(t, true, first["booked"])
	assert.True(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC).Equal(first["at"].(time.Time)))
	assert.Equal(t, float64(3), want.Rows[1]["amount"])
	assert.Nil(t, want.Rows[2]["description"])
	assert.Nil(t, want.Rows[2]["at"])

	for _, c := range []string{"none", "gzip", "zstd"} {
		core, logs := observer.New(zap.WarnLevel)
		cl, err := loader.New(eng, config.LoaderConfig{SpoolDir: t.TempDir(), SpoolCompression: c},
			loader.WithLogger(zap.New(core)))
		require.NoError(t, err)

		for _, m := range []loader.Method{loader.MethodNative, loader.MethodFile} {
			t.Run(c+"/"+string(m), func(t *testing.T) {
				got, err := cl.QueryArray(ctx, sampleRows(), query, "records", loader.QueryOptions{Force: m})
				require.NoError(t, err)
				assert.Equal(t, want.Columns, got.Columns)
				assert.Equal(t, want.Rows, got.Rows)
				assert.Zero(t, logs.FilterMessage("native load failed, retrying inline").Len(),
					"%s staging must not fall back", m)
				assert.Zero(t, logs.Len(), "no warnings")
			})
		}
	}
}

func TestThresholdBoundaries(t *testing.T) {
	ctx := context.Background()
	eng := testutil.NewEngine(t, nil)
	core, logs := observer.New(zap.DebugLevel)

	l, err := loader.New(eng, config.LoaderConfig{SpoolDir: t.TempDir()},
		loader.WithLogger(zap.New(core)),
		loader.WithThresholds(loader.Thresholds{Native: 2, File: 4}))
	require.NoError(t, err)

	rows := func(n int) []models.Row {
		out := make([]models.Row, n)
		for i := range out {
			out[i] = models.Row{"i": i}
		}
		return out
	}

	for n, want := range map[int]loader.Method{1: loader.MethodInline, 2: loader.MethodNative, 3: loader.MethodNative, 4: loader.MethodFile} {
		logs.TakeAll()
		res, err := l.QueryArray(ctx, rows(n), "SELECT COUNT(*) AS n FROM batch", "batch", loader.QueryOptions{})
		require.NoError(t, err)
		assert.EqualValues(t, n, res.Rows[0]["n"])

		entries := logs.FilterMessage("loading records").All()
		require.Len(t, entries, 1)
		assert.Equal(t, string(want), entries[0].ContextMap()["method"], "n=%d", n)
	}
}

func TestStagingIsRemovedOnEveryPath(t *testing.T) {
	ctx := context.Background()
	eng := testutil.NewEngine(t, nil)
	spool := t.TempDir()

	l, err := loader.New(eng, config.LoaderConfig{SpoolDir: spool, SpoolCompression: "gzip"},
		loader.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	before, err := eng.TempObjects(ctx)
	require.NoError(t, err)

	for _, m := range []loader.Method{loader.MethodInline, loader.MethodNative, loader.MethodFile} {
		t.Run(string(m), func(t *testing.T) {
			_, err := l.QueryArray(ctx, sampleRows(), "SELECT * FROM records", "records", loader.QueryOptions{Force: m})
			require.NoError(t, err)

			_, err = l.QueryArray(ctx, sampleRows(), "SELECT missing_column FROM records", "records", loader.QueryOptions{Force: m})
			require.Error(t, err)
			assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindQuery))

			after, err := eng.TempObjects(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, before, after)

			files, err := os.ReadDir(spool)
			require.NoError(t, err)
			assert.Empty(t, files)
		})
	}
}

func TestStagingIsRemovedAfterCastError(t *testing.T) {
	ctx := context.Background()
	eng := testutil.NewEngine(t, nil)
	spool := t.TempDir()

	l, err := loader.New(eng, config.LoaderConfig{SpoolDir: spool}, loader.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	before, err := eng.TempObjects(ctx)
	require.NoError(t, err)

	// n is typed BIGINT from the first record; "abc" cannot be cast
	malformed := []models.Row{{"n": 1}, {"n": "abc"}}

	tests := []struct {
		name string
		run  func() error
	}{
		{"native", func() error {
			_, err := l.QueryArray(ctx, malformed, "SELECT * FROM batch", "batch", loader.QueryOptions{Force: loader.MethodNative})
			return err
		}},
		{"file", func() error {
			_, err := l.QueryArray(ctx, malformed, "SELECT * FROM batch", "batch", loader.QueryOptions{Force: loader.MethodFile})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.run())

			after, err := eng.TempObjects(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, before, after)

			files, err := os.ReadDir(spool)
			require.NoError(t, err)
			assert.Empty(t, files)
		})
	}
}

func TestAliasReplacementIsWordBounded(t *testing.T) {
	eng := testutil.NewEngine(t, nil)
	l, err := loader.New(eng, config.LoaderConfig{}, loader.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	res, err := l.QueryArray(context.Background(), sampleRows(),
		"SELECT COUNT(*) AS records_total FROM records", "records", loader.QueryOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Rows[0]["records_total"])
}

func TestLoadJSONString(t *testing.T) {
	eng := testutil.NewEngine(t, nil)
	l, err := loader.New(eng, config.LoaderConfig{}, loader.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	res, err := l.LoadJSONString(context.Background(),
		`[{"id": 1, "amount": 2.5, "tags": ["a"]}, {"id": 2, "amount": 3}]`,
		"SELECT id, amount FROM data ORDER BY id", "data", loader.QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.RowCount)
	assert.Equal(t, int64(1), res.Rows[0]["id"])
	assert.Equal(t, 2.5, res.Rows[0]["amount"])
	assert.Equal(t, float64(3), res.Rows[1]["amount"])

	_, err = l.LoadJSONString(context.Background(), `{"id": 1}`, "SELECT * FROM data", "data", loader.QueryOptions{})
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindValidation))
}

func TestProcessArray(t *testing.T) {
	ctx := context.Background()
	eng := testutil.NewEngine(t, nil)
	l, err := loader.New(eng, config.LoaderConfig{}, loader.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	rows := make([]models.Row, 12)
	for i := range rows {
		rows[i] = models.Row{"id": i, "amount": float64(i) + 0.5}
	}

	t.Run("batches keep order", func(t *testing.T) {
		out, err := l.ProcessArray(ctx, rows, "SELECT id, amount * 2 AS doubled FROM batch ORDER BY id", "batch",
			loader.ProcessOptions{BatchSize: 5})
		require.NoError(t, err)
		require.Len(t, out, 12)
		for i, row := range out {
			assert.EqualValues(t, i, row["id"])
			assert.Equal(t, float64(2*i)+1, row["doubled"])
		}
	})

	t.Run("aggregates are per batch", func(t *testing.T) {
		out, err := l.ProcessArray(ctx, rows, "SELECT COUNT(*) AS n FROM batch", "batch",
			loader.ProcessOptions{BatchSize: 5, Force: loader.MethodNative})
		require.NoError(t, err)
		require.Len(t, out, 3)
		for i, want := range []int64{5, 5, 2} {
			assert.EqualValues(t, want, out[i]["n"])
		}
	})

	t.Run("validate maps rows", func(t *testing.T) {
		out, err := l.ProcessArray(ctx, rows, "SELECT id FROM batch ORDER BY id", "batch", loader.ProcessOptions{
			Validate: func(row models.Row) (models.Row, error) {
				return models.Row{"label": fmt.Sprintf("tx-%v", row["id"])}, nil
			},
		})
		require.NoError(t, err)
		require.Len(t, out, 12)
		assert.Equal(t, "tx-0", out[0]["label"])
		assert.Equal(t, "tx-11", out[11]["label"])
	})

	t.Run("validate error stops processing", func(t *testing.T) {
		calls := 0
		_, err := l.ProcessArray(ctx, rows, "SELECT id FROM batch ORDER BY id", "batch", loader.ProcessOptions{
			BatchSize: 4,
			Validate: func(row models.Row) (models.Row, error) {
				calls++
				if fmt.Sprint(row["id"]) == "6" {
					return nil, fmt.Errorf("id %v is reserved", row["id"])
				}
				return row, nil
			},
		})
		require.Error(t, err)
		assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindValidation))
		assert.Contains(t, err.Error(), "reserved")
		assert.Equal(t, 7, calls)
	})

	t.Run("empty input", func(t *testing.T) {
		out, err := l.ProcessArray(ctx, nil, "SELECT * FROM batch", "batch", loader.ProcessOptions{})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	testutil.RequireNoTempObjects(t, eng)
}

func TestCreateTempTableAndView(t *testing.T) {
	ctx := context.Background()
	eng := testutil.NewEngine(t, nil)
	l, err := loader.New(eng, config.LoaderConfig{}, loader.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	err = l.CreateTempTable(ctx, "staged_tx", nil)
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindValidation))

	require.NoError(t, l.CreateTempTable(ctx, "staged_tx", sampleRows()))
	res, err := eng.Query(ctx, "SELECT SUM(amount) AS total FROM staged_tx")
	require.NoError(t, err)
	assert.InDelta(t, -24.75, res.Rows[0]["total"], 1e-9)

	for _, m := range []loader.Method{loader.MethodInline, loader.MethodNative} {
		name := "tx_view_" + string(m)
		require.NoError(t, l.CreateView(ctx, name, sampleRows(), m))
		res, err := eng.Query(ctx, "SELECT description FROM "+name+" WHERE id = 2")
		require.NoError(t, err)
		assert.Equal(t, "Coffee", res.Rows[0]["description"])
	}
}

// attached reports an in-memory catalog as the relational store.
type attached struct {
	*engine.Engine
}

func (attached) RelationalAlias() (string, bool) { return "pg_db", true }

func TestBulkInsertRelational(t *testing.T) {
	ctx := context.Background()
	eng := testutil.NewEngine(t, nil)
	testutil.AttachMemory(t, eng, "pg_db", "CREATE TABLE pg_db.tx (key VARCHAR PRIMARY KEY, amount DOUBLE)")

	l, err := loader.New(attached{eng}, config.LoaderConfig{}, loader.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	rows := []models.Row{
		{"key": "a", "amount": 1.0},
		{"key": "b", "amount": 2.0},
		{"key": "c", "amount": 3.0},
	}
	n, err := l.BulkInsertRelational(ctx, rows, "tx", loader.InsertOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, err = l.BulkInsertRelational(ctx, []models.Row{{"key": "a", "amount": 9.0}}, "tx", loader.InsertOptions{})
	require.Error(t, err, "conflicts fail by default")

	_, err = l.BulkInsertRelational(ctx, []models.Row{{"key": "a", "amount": 9.0}, {"key": "d", "amount": 4.0}}, "tx",
		loader.InsertOptions{OnConflict: loader.ConflictIgnore})
	require.NoError(t, err)

	_, err = l.BulkInsertRelational(ctx, []models.Row{{"key": "b", "amount": 20.0}}, "tx",
		loader.InsertOptions{OnConflict: loader.ConflictUpdate, ConflictColumns: []string{"key"}})
	require.NoError(t, err)

	res, err := eng.Query(ctx, "SELECT key, amount FROM pg_db.tx ORDER BY key")
	require.NoError(t, err)
	got := map[interface{}]interface{}{}
	for _, r := range res.Rows {
		got[r["key"]] = r["amount"]
	}
	assert.Equal(t, map[interface{}]interface{}{"a": 1.0, "b": 20.0, "c": 3.0, "d": 4.0}, got)

	testutil.RequireNoTempObjects(t, eng)
}

func Example() {
	ctx := context.Background()
	eng := engine.New(nil, engine.WithLogger(zap.NewNop()))
	if err := eng.Initialize(ctx); err != nil {
		fmt.Println(err)
		return
	}
	defer eng.Close()

	l, err := loader.New(eng, config.LoaderConfig{}, loader.WithLogger(zap.NewNop()))
	if err != nil {
		fmt.Println(err)
		return
	}

	rows := []models.Row{
		{"category": "food", "amount": 12.5},
		{"category": "food", "amount": 7.5},
		{"category": "rent", "amount": 900.0},
	}
	res, err := l.QueryArray(ctx, rows,
		"SELECT category, SUM(amount) AS total FROM tx GROUP BY category ORDER BY category", "tx",
		loader.QueryOptions{})
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, r := range res.Rows {
		fmt.Println(r["category"], r["total"])
	}
	// Output:
	// food 20
	// rent 900
}
