package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// Type is the expected type of a field.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeDecimal Type = "decimal"
	TypeDate    Type = "date"
	TypeBoolean Type = "boolean"
	TypeAny     Type = "any"
)

func parseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "", TypeAny:
		return TypeAny, nil
	case TypeString, TypeNumber, TypeInteger, TypeDecimal, TypeDate, TypeBoolean:
		return t, nil
	case "bool":
		return TypeBoolean, nil
	case "float", "double":
		return TypeNumber, nil
	case "int":
		return TypeInteger, nil
	case "timestamp", "datetime":
		return TypeDate, nil
	default:
		return "", fmt.Errorf("unknown field type %q", s)
	}
}

// Field declares one column of a row.
//
// A missing Required field is an error. A NULL value is accepted when the
// field is Nullable or not Required.
type Field struct {
	Name      string
	Type      Type
	Required  bool
	Nullable  bool
	MinLength int
	MaxLength int
	OneOf     []string
}

// Object validates rows field by field. Undeclared columns are dropped from
// the parsed value unless Passthrough is set.
type Object struct {
	Fields      []Field
	Passthrough bool
}

// NewObject returns an Object over fields.
func NewObject(fields ...Field) *Object {
	return &Object{Fields: fields}
}

// FromDescriptors builds an Object from job file field declarations.
func FromDescriptors(descriptors []config.FieldDescriptor) (*Object, error) {
	seen := make(map[string]bool, len(descriptors))
	fields := make([]Field, 0, len(descriptors))
	for i, d := range descriptors {
		if d.Name == "" {
			return nil, tabulaerrors.Newf(tabulaerrors.KindValidation, "schema field %d has no name", i)
		}
		if seen[d.Name] {
			return nil, tabulaerrors.Newf(tabulaerrors.KindValidation, "schema field %q declared twice", d.Name)
		}
		seen[d.Name] = true

		t, err := parseType(d.Type)
		if err != nil {
			return nil, tabulaerrors.Wrap(err, tabulaerrors.KindValidation, "schema field "+d.Name)
		}
		fields = append(fields, Field{
			Name:      d.Name,
			Type:      t,
			Required:  d.Required,
			Nullable:  d.Nullable,
			MinLength: d.MinLength,
			MaxLength: d.MaxLength,
			OneOf:     d.OneOf,
		})
	}
	return NewObject(fields...), nil
}

// Validate implements Schema.
func (o *Object) Validate(row models.Row) (Result, error) {
	out := make(models.Row, len(o.Fields))
	var errs []FieldError

	for _, f := range o.Fields {
		v, present := row[f.Name]
		if !present {
			if f.Required {
				errs = append(errs, FieldError{Path: []string{f.Name}, Message: "Required"})
			}
			continue
		}
		if v == nil {
			if f.Nullable || !f.Required {
				out[f.Name] = nil
				continue
			}
			errs = append(errs, FieldError{
				Path:    []string{f.Name},
				Message: fmt.Sprintf("Expected %s, received null", f.Type),
			})
			continue
		}

		parsed, msg, err := f.parse(v)
		if err != nil {
			return Result{}, err
		}
		if msg != "" {
			errs = append(errs, FieldError{Path: []string{f.Name}, Message: msg, Value: v})
			continue
		}
		out[f.Name] = parsed
	}

	if o.Passthrough {
		for k, v := range row {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}

	if len(errs) > 0 {
		return Result{Errors: errs}, nil
	}
	return Result{Value: out}, nil
}

// parse converts v to the field type. A non-empty message reports a
// validation failure; an error means the field declaration is unusable.
func (f Field) parse(v interface{}) (interface{}, string, error) {
	switch f.Type {
	case TypeAny, "":
		return v, "", nil
	case TypeString:
		s, ok := asString(v)
		if !ok {
			return nil, expected(f.Type, v), nil
		}
		return s, f.checkString(s), nil
	case TypeNumber:
		n, ok := asFloat(v)
		if !ok {
			return nil, expected(f.Type, v), nil
		}
		return n, "", nil
	case TypeInteger:
		n, ok := asFloat(v)
		if !ok {
			return nil, expected(f.Type, v), nil
		}
		if n != float64(int64(n)) {
			return nil, "Expected integer, received float", nil
		}
		return int64(n), "", nil
	case TypeDecimal:
		d, ok, valid := asDecimal(v)
		if !ok {
			return nil, expected(f.Type, v), nil
		}
		if !valid {
			return nil, "Invalid decimal", nil
		}
		return d, "", nil
	case TypeDate:
		t, ok, valid := asTime(v)
		if !ok {
			return nil, expected(f.Type, v), nil
		}
		if !valid {
			return nil, "Invalid date", nil
		}
		return t, "", nil
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, expected(f.Type, v), nil
		}
		return b, "", nil
	default:
		return nil, "", tabulaerrors.Newf(tabulaerrors.KindValidation, "field %q has unknown type %q", f.Name, f.Type)
	}
}

func (f Field) checkString(s string) string {
	n := utf8.RuneCountInString(s)
	if f.MinLength > 0 && n < f.MinLength {
		return fmt.Sprintf("String must contain at least %d character(s)", f.MinLength)
	}
	if f.MaxLength > 0 && n > f.MaxLength {
		return fmt.Sprintf("String must contain at most %d character(s)", f.MaxLength)
	}
	if len(f.OneOf) > 0 {
		for _, allowed := range f.OneOf {
			if s == allowed {
				return ""
			}
		}
		quoted := make([]string, len(f.OneOf))
		for i, a := range f.OneOf {
			quoted[i] = "'" + a + "'"
		}
		return fmt.Sprintf("Invalid enum value. Expected %s, received '%s'", strings.Join(quoted, " | "), s)
	}
	return ""
}

func expected(t Type, v interface{}) string {
	return fmt.Sprintf("Expected %s, received %s", t, typeName(v))
}
