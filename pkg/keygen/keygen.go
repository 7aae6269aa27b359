// Package keygen stamps every source row with a deterministic, content-derived
// key before any transformation sees it.
//
// The key is the MD5 hex digest of the configured columns, each cast to text
// with NULL read as the empty string and joined with "|", truncated to Length
// characters. Identical values in identical order always give the identical
// key. Collisions are not detected; scope keys per user or account where
// uniqueness matters.
package keygen

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

const (
	// DefaultField is the column name of the generated key.
	DefaultField = "key"
	// DefaultLength is the number of hex characters kept.
	DefaultLength = 25
	// Separator joins column values before hashing.
	Separator = "|"
)

// Config selects the columns that identify a row.
type Config struct {
	// SourceColumns are raw source column names, in hashing order
	SourceColumns []string `json:"source_columns" yaml:"source_columns"`
	// TargetField names the generated column (default "key")
	TargetField string `json:"target_field" yaml:"target_field"`
	// Length of the key in hex characters, 1..32 (default 25)
	Length int `json:"length" yaml:"length"`
}

// Field returns the target column name.
func (c Config) Field() string {
	if c.TargetField == "" {
		return DefaultField
	}
	return c.TargetField
}

func (c Config) length() int {
	if c.Length <= 0 {
		return DefaultLength
	}
	return c.Length
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.SourceColumns) == 0 {
		return tabulaerrors.New(tabulaerrors.KindValidation, "key generation requires at least one source column")
	}
	for i, col := range c.SourceColumns {
		if col == "" {
			return tabulaerrors.Newf(tabulaerrors.KindValidation, "key source column %d is empty", i)
		}
	}
	if c.Length > md5.Size*2 {
		return tabulaerrors.Newf(tabulaerrors.KindValidation, "key length %d exceeds %d", c.Length, md5.Size*2)
	}
	return nil
}

// Expression returns the SQL expression computing the key.
func (c Config) Expression() string {
	parts := make([]string, len(c.SourceColumns))
	for i, col := range c.SourceColumns {
		parts[i] = fmt.Sprintf("COALESCE(CAST(%s AS VARCHAR), '')", sqlutil.QuoteIdent(col))
	}
	return fmt.Sprintf("SUBSTR(MD5(%s), 1, %d)",
		strings.Join(parts, " || "+sqlutil.QuoteLiteral(Separator)+" || "), c.length())
}

// Wrap returns sourceSQL wrapped in a projection adding the key column:
//
//	(SELECT *, SUBSTR(MD5(...), 1, 25) AS "key" FROM (<sourceSQL>))
func Wrap(c Config, sourceSQL string) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("(SELECT *, %s AS %s FROM (%s))",
		c.Expression(), sqlutil.QuoteIdent(c.Field()), sourceSQL), nil
}

// Compute returns the key for values in process. It agrees with Expression
// for text, integer, boolean and NULL values, for doubles of magnitude below
// 1e15 and for TIMESTAMP values given as time.Time. A DATE column must be
// passed as its "2006-01-02" string, since a time.Time cannot tell the two
// apart.
func Compute(c Config, values ...interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = text(v)
	}
	sum := md5.Sum([]byte(strings.Join(parts, Separator))) //nolint:gosec
	digest := hex.EncodeToString(sum[:])
	if n := c.length(); n < len(digest) {
		return digest[:n]
	}
	return digest
}

// text mirrors CAST(v AS VARCHAR) for the common scalar types.
func text(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32:
		return floatText(float64(x), 32)
	case float64:
		return floatText(x, 64)
	case time.Time:
		return x.UTC().Format(timestampLayout)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// timestampLayout is how the engine renders TIMESTAMP; trailing zeros of the
// fraction are dropped.
const timestampLayout = "2006-01-02 15:04:05.999999"

// floatText renders a double the way the engine does: shortest digits, and
// whole values keep a ".0".
func floatText(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	var s string
	if abs := math.Abs(f); abs == 0 || (abs >= 1e-4 && abs < 1e15) {
		s = strconv.FormatFloat(f, 'f', -1, bits)
	} else {
		s = strconv.FormatFloat(f, 'e', -1, bits)
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
