package source

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// optionList accumulates "name = value" pairs; the first error sticks.
type optionList struct {
	items []string
	err   error
}

func (o *optionList) fail(format string, args ...interface{}) {
	if o.err == nil {
		o.err = tabulaerrors.Newf(tabulaerrors.KindValidation, format, args...)
	}
}

func (o *optionList) str(name, v string) {
	if v != "" {
		o.items = append(o.items, name+" = "+sqlutil.QuoteLiteral(v))
	}
}

func (o *optionList) enum(name, v string, allowed ...string) {
	if v == "" {
		return
	}
	for _, a := range allowed {
		if v == a {
			o.str(name, v)
			return
		}
	}
	o.fail("%s must be one of %s, got %q", name, strings.Join(allowed, ", "), v)
}

func (o *optionList) boolPtr(name string, v *bool) {
	if v != nil {
		o.items = append(o.items, name+" = "+strconv.FormatBool(*v))
	}
}

func (o *optionList) flag(name string, v bool) {
	if v {
		o.items = append(o.items, name+" = true")
	}
}

func (o *optionList) num(name string, v int) {
	if v != 0 {
		o.items = append(o.items, name+" = "+strconv.Itoa(v))
	}
}

func (o *optionList) list(name string, vs []string) {
	if vs == nil {
		return
	}
	quoted := make([]string, len(vs))
	for i, v := range vs {
		quoted[i] = sqlutil.QuoteLiteral(v)
	}
	o.items = append(o.items, name+" = ["+strings.Join(quoted, ", ")+"]")
}

// structLiteral renders {'name': 'TYPE', ...} with names sorted.
func (o *optionList) structLiteral(name string, types map[string]string) {
	if len(types) == 0 {
		return
	}
	names := make([]string, 0, len(types))
	for n := range types {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, n := range names {
		t := types[n]
		if !sqlutil.IsTypeName(t) {
			o.fail("%s: %q is not a valid type for column %q", name, t, n)
			return
		}
		parts[i] = sqlutil.QuoteLiteral(n) + ": " + sqlutil.QuoteLiteral(strings.TrimSpace(t))
	}
	o.items = append(o.items, name+" = {"+strings.Join(parts, ", ")+"}")
}

// CSVOptions are the explicit read_csv options. A nil or empty CSVOptions
// selects read_csv_auto.
type CSVOptions struct {
	Delim            string            `json:"delim" yaml:"delim"`
	Quote            string            `json:"quote" yaml:"quote"`
	Escape           string            `json:"escape" yaml:"escape"`
	Header           *bool             `json:"header" yaml:"header"`
	Skip             int               `json:"skip" yaml:"skip"`
	SampleSize       int               `json:"sample_size" yaml:"sample_size"`
	NullStr          []string          `json:"nullstr" yaml:"nullstr"`
	DateFormat       string            `json:"dateformat" yaml:"dateformat"`
	TimestampFormat  string            `json:"timestampformat" yaml:"timestampformat"`
	Encoding         string            `json:"encoding" yaml:"encoding"`
	DecimalSeparator string            `json:"decimal_separator" yaml:"decimal_separator"`
	Thousands        string            `json:"thousands" yaml:"thousands"`
	AutoDetect       *bool             `json:"auto_detect" yaml:"auto_detect"`
	NormalizeNames   *bool             `json:"normalize_names" yaml:"normalize_names"`
	AllVarchar       *bool             `json:"all_varchar" yaml:"all_varchar"`
	IgnoreErrors     *bool             `json:"ignore_errors" yaml:"ignore_errors"`
	ColumnTypes      map[string]string `json:"column_types" yaml:"column_types"`
}

func (c *CSVOptions) options() *optionList {
	o := &optionList{}
	if c == nil {
		return o
	}
	o.str("delim", c.Delim)
	o.str("quote", c.Quote)
	o.str("escape", c.Escape)
	o.boolPtr("header", c.Header)
	if c.Skip < 0 {
		o.fail("skip cannot be negative")
	}
	o.num("skip", c.Skip)
	if c.SampleSize < -1 {
		o.fail("sample_size must be -1 or positive")
	}
	o.num("sample_size", c.SampleSize)
	o.list("nullstr", c.NullStr)
	o.str("dateformat", c.DateFormat)
	o.str("timestampformat", c.TimestampFormat)
	o.enum("encoding", c.Encoding, "utf-8", "utf-16", "latin-1")
	o.enum("decimal_separator", c.DecimalSeparator, ".", ",")
	o.enum("thousands", c.Thousands, ".", ",", " ", "'")
	o.boolPtr("auto_detect", c.AutoDetect)
	o.boolPtr("normalize_names", c.NormalizeNames)
	o.boolPtr("all_varchar", c.AllVarchar)
	o.boolPtr("ignore_errors", c.IgnoreErrors)
	o.structLiteral("column_types", c.ColumnTypes)
	return o
}

// CSV is a CSV source.
type CSV struct {
	Paths   []string
	Options *CSVOptions
}

// Kind implements Source.
func (CSV) Kind() Kind { return KindCSV }

// SQL implements Source. Without options the auto-detecting reader is used;
// the two readers are never mixed in one call.
func (s CSV) SQL() (string, error) {
	opts := s.Options.options()
	if opts.err == nil && len(opts.items) == 0 {
		return readerCall("read_csv_auto", s.Paths, opts)
	}
	return readerCall("read_csv", s.Paths, opts)
}

// ParquetOptions are the read_parquet options.
type ParquetOptions struct {
	Filename         bool `json:"filename" yaml:"filename"`
	HivePartitioning bool `json:"hive_partitioning" yaml:"hive_partitioning"`
	UnionByName      bool `json:"union_by_name" yaml:"union_by_name"`
}

// Parquet is a Parquet source.
type Parquet struct {
	Paths   []string
	Options ParquetOptions
}

// Kind implements Source.
func (Parquet) Kind() Kind { return KindParquet }

// SQL implements Source.
func (s Parquet) SQL() (string, error) {
	o := &optionList{}
	o.flag("filename", s.Options.Filename)
	o.flag("hive_partitioning", s.Options.HivePartitioning)
	o.flag("union_by_name", s.Options.UnionByName)
	return readerCall("read_parquet", s.Paths, o)
}

// JSONOptions are the read_json options.
type JSONOptions struct {
	Filename          bool   `json:"filename" yaml:"filename"`
	Format            string `json:"format" yaml:"format"`
	Records           *bool  `json:"records" yaml:"records"`
	MaximumObjectSize int    `json:"maximum_object_size" yaml:"maximum_object_size"`
	IgnoreErrors      *bool  `json:"ignore_errors" yaml:"ignore_errors"`
	Compression       string `json:"compression" yaml:"compression"`
}

// JSON is a JSON source.
type JSON struct {
	Paths   []string
	Options JSONOptions
}

// Kind implements Source.
func (JSON) Kind() Kind { return KindJSON }

// SQL implements Source.
func (s JSON) SQL() (string, error) {
	o := &optionList{}
	o.flag("filename", s.Options.Filename)
	o.enum("format", s.Options.Format, "auto", "newline_delimited", "array", "unstructured")
	o.boolPtr("records", s.Options.Records)
	if s.Options.MaximumObjectSize < 0 {
		o.fail("maximum_object_size cannot be negative")
	}
	o.num("maximum_object_size", s.Options.MaximumObjectSize)
	o.boolPtr("ignore_errors", s.Options.IgnoreErrors)
	o.enum("compression", s.Options.Compression, "auto", "none", "gzip", "zstd")
	return readerCall("read_json", s.Paths, o)
}

// ExcelOptions are the read_xlsx options.
type ExcelOptions struct {
	Sheet          string `json:"sheet" yaml:"sheet"`
	Range          string `json:"range" yaml:"range"`
	Header         *bool  `json:"header" yaml:"header"`
	StopAtEmpty    *bool  `json:"stop_at_empty" yaml:"stop_at_empty"`
	EmptyAsVarchar *bool  `json:"empty_as_varchar" yaml:"empty_as_varchar"`
	AllVarchar     *bool  `json:"all_varchar" yaml:"all_varchar"`
	IgnoreErrors   *bool  `json:"ignore_errors" yaml:"ignore_errors"`
}

// Excel is a spreadsheet source. The reader takes exactly one workbook.
type Excel struct {
	Paths   []string
	Options ExcelOptions
}

// Kind implements Source.
func (Excel) Kind() Kind { return KindExcel }

// SQL implements Source.
func (s Excel) SQL() (string, error) {
	if len(s.Paths) > 1 {
		return "", tabulaerrors.Newf(tabulaerrors.KindValidation,
			"excel sources read one workbook, got %d paths", len(s.Paths))
	}
	o := &optionList{}
	o.str("sheet", s.Options.Sheet)
	o.str("range", s.Options.Range)
	o.boolPtr("header", s.Options.Header)
	o.boolPtr("stop_at_empty", s.Options.StopAtEmpty)
	o.boolPtr("empty_as_varchar", s.Options.EmptyAsVarchar)
	o.boolPtr("all_varchar", s.Options.AllVarchar)
	o.boolPtr("ignore_errors", s.Options.IgnoreErrors)
	return readerCall("read_xlsx", s.Paths, o)
}
