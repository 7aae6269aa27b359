package transform

import (
	"strings"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/keygen"
	"github.com/ajitpratap0/tabula/pkg/source"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
	"github.com/ajitpratap0/tabula/pkg/validation"
)

// Spec describes one transformation: where to read, how to key rows, the SQL
// template and the row schema.
//
// The template references the source through the {{data}} placeholder
// (whitespace inside the braces is allowed). Every occurrence is replaced by
// a parenthesized subquery, so the placeholder goes where a table would:
//
//	SELECT "Datum" AS date, "Betrag" AS amount FROM {{data}} WHERE "Betrag" IS NOT NULL
type Spec struct {
	Source   source.Source
	Key      *keygen.Config
	Template string
	Schema   validation.Schema
	// Params bind positional ? parameters of the template
	Params []interface{}
}

// Validate checks the spec without building SQL.
func (s Spec) Validate() error {
	if s.Source == nil {
		return tabulaerrors.New(tabulaerrors.KindValidation, "transformation source is required")
	}
	if strings.TrimSpace(s.Template) == "" {
		return tabulaerrors.New(tabulaerrors.KindValidation, "transformation query is required")
	}
	if !sqlutil.HasPlaceholder(s.Template) {
		return tabulaerrors.Newf(tabulaerrors.KindValidation,
			"Transformation query must include the '%s' placeholder.", sqlutil.Placeholder).
			WithQuery(s.Template)
	}
	if s.Schema == nil {
		return tabulaerrors.New(tabulaerrors.KindValidation, "transformation schema is required")
	}
	if s.Key != nil {
		if err := s.Key.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SourceSQL returns the parenthesized source subquery, keyed when Key is set.
func (s Spec) SourceSQL() (string, error) {
	fragment, err := source.Build(s.Source)
	if err != nil {
		return "", err
	}
	if s.Key != nil {
		return keygen.Wrap(*s.Key, fragment)
	}
	return "(" + fragment + ")", nil
}

// SQL returns the template with every placeholder replaced by the source.
func (s Spec) SQL() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	src, err := s.SourceSQL()
	if err != nil {
		return "", err
	}
	return sqlutil.ReplacePlaceholder(s.Template, src), nil
}

// FromJob builds a Spec from a job file.
func FromJob(job *config.JobConfig) (Spec, error) {
	if err := job.Validate(); err != nil {
		return Spec{}, tabulaerrors.Wrap(err, tabulaerrors.KindConfig, "invalid job "+job.Name)
	}

	src, err := source.FromDescriptor(job.Source.Kind, job.Source.Paths, job.Source.Options)
	if err != nil {
		return Spec{}, err
	}

	var schema validation.Schema = validation.Any
	if len(job.Schema) > 0 {
		obj, err := validation.FromDescriptors(job.Schema)
		if err != nil {
			return Spec{}, err
		}
		schema = obj
	}

	spec := Spec{
		Source:   src,
		Template: job.Template,
		Schema:   schema,
		Params:   job.Params,
	}
	if k := job.Key; k != nil {
		spec.Key = &keygen.Config{SourceColumns: k.Columns, TargetField: k.Field, Length: k.Length}
		if obj, ok := schema.(*validation.Object); ok && !declares(obj, spec.Key.Field()) {
			// the generated key always survives validation
			obj.Fields = append(obj.Fields, validation.Field{Name: spec.Key.Field(), Type: validation.TypeString})
		}
	}
	return spec, spec.Validate()
}

func declares(obj *validation.Object, name string) bool {
	for _, f := range obj.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
