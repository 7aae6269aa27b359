package validation

import (
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateLayouts are tried in order when a date field holds text.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string, []byte:
		return "string"
	case bool:
		return "boolean"
	case time.Time:
		return "date"
	}
	if _, ok := asFloat(v); ok {
		return "number"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return reflect.TypeOf(v).String()
	}
}

func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// asFloat accepts Go numbers, engine decimals and hugeints, decimal.Decimal
// and JSON numbers. Text is never coerced.
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	case decimal.Decimal:
		return n.InexactFloat64(), true
	case interface{ Float64() float64 }:
		return n.Float64(), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// asDecimal reports (value, acceptable type, parsed).
func asDecimal(v interface{}) (decimal.Decimal, bool, bool) {
	switch d := v.(type) {
	case decimal.Decimal:
		return d, true, true
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(d))
		return parsed, true, err == nil
	case float64:
		return decimal.NewFromFloat(d), true, true
	case float32:
		return decimal.NewFromFloat32(d), true, true
	case int64:
		return decimal.NewFromInt(d), true, true
	case int32:
		return decimal.NewFromInt32(d), true, true
	case int:
		return decimal.NewFromInt(int64(d)), true, true
	case *big.Int:
		return decimal.NewFromBigInt(d, 0), true, true
	case interface{ String() string }:
		// engine DECIMAL values print exactly
		parsed, err := decimal.NewFromString(d.String())
		if err == nil {
			return parsed, true, true
		}
	}
	if f, ok := asFloat(v); ok {
		return decimal.NewFromFloat(f), true, true
	}
	return decimal.Decimal{}, false, false
}

// asTime reports (value, acceptable type, parsed).
func asTime(v interface{}) (time.Time, bool, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true, true
			}
		}
		return time.Time{}, true, false
	default:
		return time.Time{}, false, false
	}
}
