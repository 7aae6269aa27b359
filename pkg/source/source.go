// Package source builds SELECT fragments over the engine's native file readers
// from typed data source descriptions.
//
// A Source is one of CSV, Parquet, JSON or Excel. Each variant carries its own
// options type, so options for one format cannot leak into another. Paths and
// string options are emitted as quoted literals; option names come from a
// fixed set and enumerated values are checked before any SQL is produced.
//
//	src := source.CSV{
//	    Paths: []string{"s3://imports/2024/*.csv"},
//	    Options: &source.CSVOptions{Delim: ";", DecimalSeparator: ","},
//	}
//	fragment, err := source.Build(src)
//	// SELECT * FROM read_csv('s3://imports/2024/*.csv', delim = ';', decimal_separator = ',')
package source

import (
	"strings"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/json"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// Kind identifies the file format of a source.
type Kind string

const (
	KindCSV     Kind = "csv"
	KindParquet Kind = "parquet"
	KindJSON    Kind = "json"
	KindExcel   Kind = "excel"
)

// ParseKind maps a descriptor kind to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return KindCSV, nil
	case "parquet":
		return KindParquet, nil
	case "json", "ndjson", "jsonl":
		return KindJSON, nil
	case "excel", "xlsx":
		return KindExcel, nil
	default:
		return "", tabulaerrors.Newf(tabulaerrors.KindValidation, "unsupported data source type: %s", s)
	}
}

// Source is a typed data source.
type Source interface {
	// Kind returns the file format.
	Kind() Kind
	// SQL returns a SELECT fragment reading the source.
	SQL() (string, error)
}

// Build returns the SELECT fragment for src.
func Build(src Source) (string, error) {
	if src == nil {
		return "", tabulaerrors.New(tabulaerrors.KindValidation, "data source is required")
	}
	return src.SQL()
}

// FromDescriptor builds a typed Source from an untyped descriptor, as found in
// job files. Unknown option keys are rejected.
func FromDescriptor(kind string, paths []string, options map[string]interface{}) (Source, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}

	switch k {
	case KindCSV:
		src := CSV{Paths: paths}
		if len(options) > 0 {
			src.Options = &CSVOptions{}
			if err := decodeOptions(k, options, src.Options); err != nil {
				return nil, err
			}
		}
		return src, nil
	case KindParquet:
		src := Parquet{Paths: paths}
		if err := decodeOptions(k, options, &src.Options); err != nil {
			return nil, err
		}
		return src, nil
	case KindJSON:
		src := JSON{Paths: paths}
		if err := decodeOptions(k, options, &src.Options); err != nil {
			return nil, err
		}
		return src, nil
	default:
		src := Excel{Paths: paths}
		if err := decodeOptions(k, options, &src.Options); err != nil {
			return nil, err
		}
		return src, nil
	}
}

func decodeOptions(k Kind, options map[string]interface{}, into interface{}) error {
	if len(options) == 0 {
		return nil
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return tabulaerrors.Wrap(err, tabulaerrors.KindValidation, "encode source options")
	}
	if err := json.DecodeStrict(raw, into); err != nil {
		return tabulaerrors.Wrap(err, tabulaerrors.KindValidation, "invalid "+string(k)+" options")
	}
	return nil
}

func pathsSQL(paths []string) (string, error) {
	if len(paths) == 0 {
		return "", tabulaerrors.New(tabulaerrors.KindValidation, "data source path must not be empty")
	}
	quoted := make([]string, len(paths))
	for i, p := range paths {
		if strings.TrimSpace(p) == "" {
			return "", tabulaerrors.Newf(tabulaerrors.KindValidation, "data source path %d is empty", i)
		}
		quoted[i] = sqlutil.QuoteLiteral(p)
	}
	if len(quoted) == 1 {
		return quoted[0], nil
	}
	return "[" + strings.Join(quoted, ", ") + "]", nil
}

// readerCall renders "SELECT * FROM fn(paths, name = value, ...)".
func readerCall(fn string, paths []string, opts *optionList) (string, error) {
	p, err := pathsSQL(paths)
	if err != nil {
		return "", err
	}
	if opts.err != nil {
		return "", opts.err
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(fn)
	b.WriteByte('(')
	b.WriteString(p)
	for _, o := range opts.items {
		b.WriteString(", ")
		b.WriteString(o)
	}
	b.WriteByte(')')
	return b.String(), nil
}
