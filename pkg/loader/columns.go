package loader

import (
	"strings"
	"time"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/json"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// docColumn is the name every strategy gives the per-record JSON value.
const docColumn = "json_data"

// timestampLayout is what the engine casts to TIMESTAMP without a format.
const timestampLayout = "2006-01-02 15:04:05.999999"

type column struct {
	name string
	// sqlType is the cast target; "JSON" keeps nested values as JSON
	sqlType string
}

// inferColumns returns the union of record keys in first-seen order, each
// typed from its first non-nil value.
func inferColumns(rows []models.Row) ([]column, error) {
	names := models.Keys(rows)
	if len(names) == 0 {
		return nil, tabulaerrors.New(tabulaerrors.KindValidation, "records have no fields")
	}

	cols := make([]column, len(names))
	for i, name := range names {
		cols[i] = column{name: name, sqlType: "VARCHAR"}
		for _, row := range rows {
			if v, ok := row[name]; ok && v != nil {
				cols[i].sqlType = sqlType(v)
				break
			}
		}
	}
	return cols, nil
}

// sqlType maps a Go value to the engine type its column is cast to. Types
// follow the static Go type: a float64 stays DOUBLE even when whole.
func sqlType(v interface{}) string {
	switch x := v.(type) {
	case bool:
		return "BOOLEAN"
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return "BIGINT"
	case uint, uint64:
		return "UBIGINT"
	case float32, float64:
		return "DOUBLE"
	case json.Number:
		if strings.ContainsAny(string(x), ".eE") {
			return "DOUBLE"
		}
		return "BIGINT"
	case time.Time:
		return "TIMESTAMP"
	case map[string]interface{}, []interface{}:
		return "JSON"
	default:
		return "VARCHAR"
	}
}

// pointer returns the JSON pointer addressing a top-level key.
func pointer(name string) string {
	escaped := strings.NewReplacer("~", "~0", "/", "~1").Replace(name)
	return sqlutil.QuoteLiteral("/" + escaped)
}

func (c column) expr() string {
	switch c.sqlType {
	case "JSON":
		return docColumn + " -> " + pointer(c.name)
	case "VARCHAR":
		return docColumn + " ->> " + pointer(c.name)
	default:
		return "CAST(" + docColumn + " ->> " + pointer(c.name) + " AS " + c.sqlType + ")"
	}
}

// projection selects every column out of the json_data column of from.
func projection(cols []column, from string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.expr())
		b.WriteString(" AS ")
		b.WriteString(sqlutil.QuoteIdent(c.name))
	}
	b.WriteString(" FROM ")
	b.WriteString(from)
	return b.String()
}

// normalize rewrites values the engine would not cast back from their JSON
// form. Timestamps are written in UTC without a zone suffix.
func normalize(row models.Row) models.Row {
	var out models.Row
	for k, v := range row {
		t, ok := v.(time.Time)
		if !ok {
			continue
		}
		if out == nil {
			out = make(models.Row, len(row))
			for k2, v2 := range row {
				out[k2] = v2
			}
		}
		out[k] = t.UTC().Format(timestampLayout)
	}
	if out == nil {
		return row
	}
	return out
}
