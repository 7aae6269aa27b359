// Package sqlutil holds the quoting and rewriting helpers every SQL builder in
// Tabula goes through. Caller-supplied strings reach SQL text only as quoted
// literals or quoted identifiers; bare tokens must pass an allow-list.
package sqlutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	bareIdent   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	typeName    = regexp.MustCompile(`^(?i)[a-z_][a-z0-9_ ]*(\(\s*\d+\s*(,\s*\d+\s*)?\))?(\[\])?$`)
	placeholder = regexp.MustCompile(`\{\{\s*data\s*\}\}`)
)

// Placeholder is the canonical token substituted with the source fragment.
const Placeholder = "{{data}}"

// QuoteLiteral returns s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteIdent returns a double-quoted identifier. Several parts are joined
// with dots, each quoted separately.
func QuoteIdent(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

// IsBareIdent reports whether s can appear unquoted in SQL.
func IsBareIdent(s string) bool {
	return bareIdent.MatchString(s)
}

// CheckBareIdent returns an error unless s is a bare identifier.
func CheckBareIdent(what, s string) error {
	if !IsBareIdent(s) {
		return fmt.Errorf("%s %q must match [A-Za-z_][A-Za-z0-9_]*", what, s)
	}
	return nil
}

// IsTypeName reports whether s looks like an engine type name such as
// VARCHAR, DECIMAL(18, 2), DOUBLE PRECISION or INTEGER[].
func IsTypeName(s string) bool {
	return typeName.MatchString(strings.TrimSpace(s))
}

// Literal renders a Go value as an SQL literal: strings are quoted, numbers and
// booleans are emitted as is, times as quoted RFC 3339 and nil as NULL.
func Literal(v interface{}) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return QuoteLiteral(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case time.Time:
		return QuoteLiteral(x.UTC().Format(time.RFC3339Nano)), nil
	case fmt.Stringer:
		return QuoteLiteral(x.String()), nil
	default:
		return "", fmt.Errorf("unsupported literal type %T", v)
	}
}

// HasPlaceholder reports whether template contains the data placeholder.
func HasPlaceholder(template string) bool {
	return placeholder.MatchString(template)
}

// ReplacePlaceholder substitutes every placeholder occurrence with fragment.
func ReplacePlaceholder(template, fragment string) string {
	return placeholder.ReplaceAllLiteralString(template, fragment)
}

// ReplaceAlias replaces every whole-word occurrence of alias in sql with
// replacement.
func ReplaceAlias(sql, alias, replacement string) string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(alias) + `\b`)
	return re.ReplaceAllLiteralString(sql, replacement)
}

// RandomName returns prefix followed by a random suffix usable as a bare
// identifier.
func RandomName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
