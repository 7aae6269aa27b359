package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

func boolPtr(b bool) *bool { return &b }

func TestBuild(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		want string
	}{
		{
			name: "csv without options uses auto detection",
			src:  CSV{Paths: []string{"data/jan.csv"}},
			want: "SELECT * FROM read_csv_auto('data/jan.csv')",
		},
		{
			name: "csv with empty options uses auto detection",
			src:  CSV{Paths: []string{"data/jan.csv"}, Options: &CSVOptions{}},
			want: "SELECT * FROM read_csv_auto('data/jan.csv')",
		},
		{
			name: "csv with options",
			src: CSV{
				Paths: []string{"s3://bank/export.csv"},
				Options: &CSVOptions{
					Delim:            ";",
					Header:           boolPtr(true),
					Skip:             2,
					NullStr:          []string{"", "N/A"},
					DateFormat:       "%d.%m.%Y",
					DecimalSeparator: ",",
					AllVarchar:       boolPtr(false),
					ColumnTypes:      map[string]string{"betrag": "VARCHAR", "datum": "DATE"},
				},
			},
			want: "SELECT * FROM read_csv('s3://bank/export.csv', delim = ';', header = true, skip = 2, " +
				"nullstr = ['', 'N/A'], dateformat = '%d.%m.%Y', decimal_separator = ',', all_varchar = false, " +
				"column_types = {'betrag': 'VARCHAR', 'datum': 'DATE'})",
		},
		{
			name: "multiple paths",
			src:  CSV{Paths: []string{"a.csv", "b.csv"}},
			want: "SELECT * FROM read_csv_auto(['a.csv', 'b.csv'])",
		},
		{
			name: "quotes in paths are escaped",
			src:  Parquet{Paths: []string{"o'neil.parquet"}},
			want: "SELECT * FROM read_parquet('o''neil.parquet')",
		},
		{
			name: "parquet flags",
			src:  Parquet{Paths: []string{"s3://lake/*.parquet"}, Options: ParquetOptions{Filename: true, HivePartitioning: true, UnionByName: true}},
			want: "SELECT * FROM read_parquet('s3://lake/*.parquet', filename = true, hive_partitioning = true, union_by_name = true)",
		},
		{
			name: "json options",
			src:  JSON{Paths: []string{"tx.json"}, Options: JSONOptions{Format: "array", MaximumObjectSize: 1048576, IgnoreErrors: boolPtr(true)}},
			want: "SELECT * FROM read_json('tx.json', format = 'array', maximum_object_size = 1048576, ignore_errors = true)",
		},
		{
			name: "excel options",
			src:  Excel{Paths: []string{"book.xlsx"}, Options: ExcelOptions{Sheet: "Umsätze", Range: "A1:F200", Header: boolPtr(true)}},
			want: "SELECT * FROM read_xlsx('book.xlsx', sheet = 'Umsätze', range = 'A1:F200', header = true)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Build(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		src  Source
	}{
		{"nil source", nil},
		{"no paths", CSV{}},
		{"blank path", JSON{Paths: []string{" "}}},
		{"bad encoding", CSV{Paths: []string{"a.csv"}, Options: &CSVOptions{Encoding: "ebcdic"}}},
		{"bad decimal separator", CSV{Paths: []string{"a.csv"}, Options: &CSVOptions{DecimalSeparator: ";"}}},
		{"injected column type", CSV{Paths: []string{"a.csv"}, Options: &CSVOptions{ColumnTypes: map[string]string{"a": "INT'); DROP TABLE x; --"}}}},
		{"negative skip", CSV{Paths: []string{"a.csv"}, Options: &CSVOptions{Skip: -1}}},
		{"bad json format", JSON{Paths: []string{"a.json"}, Options: JSONOptions{Format: "yaml"}}},
		{"two workbooks", Excel{Paths: []string{"a.xlsx", "b.xlsx"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.src)
			require.Error(t, err)
			assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindValidation))
		})
	}
}

func TestFromDescriptor(t *testing.T) {
	src, err := FromDescriptor("csv", []string{"in.csv"}, map[string]interface{}{
		"delim":             ";",
		"header":            true,
		"decimal_separator": ",",
		"nullstr":           []interface{}{"-"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindCSV, src.Kind())

	sql, err := src.SQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM read_csv('in.csv', delim = ';', header = true, nullstr = ['-'], decimal_separator = ',')", sql)

	src, err = FromDescriptor("XLSX", []string{"book.xlsx"}, nil)
	require.NoError(t, err)
	assert.Equal(t, KindExcel, src.Kind())
}

func TestFromDescriptorRejectsCrossFormatOptions(t *testing.T) {
	// hive_partitioning belongs to parquet
	_, err := FromDescriptor("csv", []string{"in.csv"}, map[string]interface{}{"hive_partitioning": true})
	require.Error(t, err)
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindValidation))

	// delim belongs to csv
	_, err = FromDescriptor("parquet", []string{"in.parquet"}, map[string]interface{}{"delim": ","})
	require.Error(t, err)
}

func TestFromDescriptorUnknownKind(t *testing.T) {
	_, err := FromDescriptor("avro", []string{"x.avro"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported data source type: avro")
}
