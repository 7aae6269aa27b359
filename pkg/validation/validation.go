// Package validation defines the row schema contract used by the transform
// engine and a field-based schema implementation of it.
//
// A Schema checks one row and returns a Result. Problems with the row are
// reported as FieldErrors inside the Result; a non-nil error return means the
// schema itself could not run and aborts the whole transform.
package validation

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tabula/pkg/models"
)

// FieldError is one problem found in a row.
type FieldError struct {
	// Path locates the field; nested fields have several elements
	Path    []string    `json:"path"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// PathString returns the path joined with dots.
func (e FieldError) PathString() string {
	return strings.Join(e.Path, ".")
}

// Error implements error.
func (e FieldError) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.PathString(), e.Message)
}

// Result is the outcome of validating one row. Value is the parsed row and is
// only meaningful when Errors is empty.
type Result struct {
	Value  models.Row   `json:"value,omitempty"`
	Errors []FieldError `json:"errors,omitempty"`
}

// Valid reports whether the row passed.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Schema validates rows.
type Schema interface {
	Validate(row models.Row) (Result, error)
}

// Func adapts a function to Schema.
type Func func(row models.Row) (Result, error)

// Validate implements Schema.
func (f Func) Validate(row models.Row) (Result, error) {
	return f(row)
}

// Any accepts every row unchanged.
var Any Schema = Func(func(row models.Row) (Result, error) {
	return Result{Value: row}, nil
})
