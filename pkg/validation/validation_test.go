package validation

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/json"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

func transactionSchema() *Object {
	return NewObject(
		Field{Name: "date", Type: TypeDate, Required: true},
		Field{Name: "amount", Type: TypeNumber, Required: true},
		Field{Name: "description", Type: TypeString, Required: true, MinLength: 1, MaxLength: 20},
		Field{Name: "type", Type: TypeString, OneOf: []string{"income", "expense"}},
		Field{Name: "note", Type: TypeString, Nullable: true},
	)
}

func TestObjectValidate(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		row       models.Row
		wantValue models.Row
		wantPaths []string
		wantMsgs  []string
	}{
		{
			name: "valid row drops undeclared columns",
			row:  models.Row{"date": "2024-01-15", "amount": int32(12), "description": "Rent", "type": "expense", "extra": 1},
			wantValue: models.Row{
				"date": day, "amount": float64(12), "description": "Rent", "type": "expense",
			},
		},
		{
			name:      "null allowed for optional and nullable fields",
			row:       models.Row{"date": day, "amount": 1.5, "description": "x", "type": nil, "note": nil},
			wantValue: models.Row{"date": day, "amount": 1.5, "description": "x", "type": nil, "note": nil},
		},
		{
			name:      "missing required field",
			row:       models.Row{"date": day, "amount": 1.0},
			wantPaths: []string{"description"},
			wantMsgs:  []string{"Required"},
		},
		{
			name:      "null required field",
			row:       models.Row{"date": day, "amount": nil, "description": "x"},
			wantPaths: []string{"amount"},
			wantMsgs:  []string{"Expected number, received null"},
		},
		{
			name:      "text is not a number",
			row:       models.Row{"date": day, "amount": "1.234,56", "description": "x"},
			wantPaths: []string{"amount"},
			wantMsgs:  []string{"Expected number, received string"},
		},
		{
			name:      "several errors in field order",
			row:       models.Row{"date": "15.01.2024", "amount": true, "description": "", "type": "transfer"},
			wantPaths: []string{"date", "amount", "description", "type"},
			wantMsgs: []string{
				"Invalid date",
				"Expected number, received boolean",
				"String must contain at least 1 character(s)",
				"Invalid enum value. Expected 'income' | 'expense', received 'transfer'",
			},
		},
		{
			name:      "max length",
			row:       models.Row{"date": day, "amount": 1, "description": "a description that is too long"},
			wantPaths: []string{"description"},
			wantMsgs:  []string{"String must contain at most 20 character(s)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := transactionSchema().Validate(tt.row)
			require.NoError(t, err)

			if tt.wantPaths == nil {
				assert.True(t, res.Valid())
				assert.Equal(t, tt.wantValue, res.Value)
				return
			}
			require.False(t, res.Valid())
			var paths, msgs []string
			for _, e := range res.Errors {
				paths = append(paths, e.PathString())
				msgs = append(msgs, e.Message)
			}
			assert.Equal(t, tt.wantPaths, paths)
			assert.Equal(t, tt.wantMsgs, msgs)
			assert.Nil(t, res.Value)
		})
	}
}

func TestNumericInputs(t *testing.T) {
	schema := NewObject(Field{Name: "n", Type: TypeNumber, Required: true})

	for _, v := range []interface{}{
		int64(3), uint8(3), float32(3), big.NewInt(3), decimal.NewFromInt(3), json.Number("3"),
	} {
		res, err := schema.Validate(models.Row{"n": v})
		require.NoError(t, err)
		require.True(t, res.Valid(), "%T", v)
		assert.Equal(t, float64(3), res.Value["n"], "%T", v)
	}
}

func TestIntegerAndDecimal(t *testing.T) {
	schema := NewObject(
		Field{Name: "i", Type: TypeInteger},
		Field{Name: "d", Type: TypeDecimal},
	)

	res, err := schema.Validate(models.Row{"i": float64(7), "d": "1234.56"})
	require.NoError(t, err)
	require.True(t, res.Valid())
	assert.Equal(t, int64(7), res.Value["i"])
	assert.True(t, decimal.RequireFromString("1234.56").Equal(res.Value["d"].(decimal.Decimal)))

	res, err = schema.Validate(models.Row{"i": 7.5, "d": "12,5"})
	require.NoError(t, err)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "Expected integer, received float", res.Errors[0].Message)
	assert.Equal(t, "Invalid decimal", res.Errors[1].Message)
	assert.Equal(t, "12,5", res.Errors[1].Value)
}

func TestPassthrough(t *testing.T) {
	schema := &Object{Fields: []Field{{Name: "a", Type: TypeString}}, Passthrough: true}

	res, err := schema.Validate(models.Row{"a": "x", "key": "abc"})
	require.NoError(t, err)
	assert.Equal(t, models.Row{"a": "x", "key": "abc"}, res.Value)
}

func TestUnknownFieldTypeIsAnError(t *testing.T) {
	schema := NewObject(Field{Name: "a", Type: "uuid"})

	_, err := schema.Validate(models.Row{"a": "x"})
	require.Error(t, err)
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindValidation))
}

func TestFromDescriptors(t *testing.T) {
	schema, err := FromDescriptors([]config.FieldDescriptor{
		{Name: "amount", Type: "double", Required: true},
		{Name: "booked", Type: "bool"},
		{Name: "when", Type: "timestamp"},
		{Name: "raw"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Type{TypeNumber, TypeBoolean, TypeDate, TypeAny}, []Type{
		schema.Fields[0].Type, schema.Fields[1].Type, schema.Fields[2].Type, schema.Fields[3].Type,
	})

	_, err = FromDescriptors([]config.FieldDescriptor{{Name: "a", Type: "blob"}})
	assert.Error(t, err)
	_, err = FromDescriptors([]config.FieldDescriptor{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)
	_, err = FromDescriptors([]config.FieldDescriptor{{Type: "string"}})
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	boom := errors.New("boom")
	schema := Func(func(models.Row) (Result, error) { return Result{}, boom })

	_, err := schema.Validate(models.Row{})
	assert.ErrorIs(t, err, boom)

	res, err := Any.Validate(models.Row{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, models.Row{"x": 1}, res.Value)
}

func TestFieldError(t *testing.T) {
	e := FieldError{Path: []string{"meta", "iban"}, Message: "Required"}
	assert.Equal(t, "meta.iban", e.PathString())
	assert.Equal(t, "meta.iban: Required", e.Error())
	assert.Equal(t, "Required", FieldError{Message: "Required"}.Error())
}
