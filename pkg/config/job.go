package config

import "fmt"

// JobConfig describes one transform run: where to read, how to key rows, the
// SQL template and the shape every output row must have.
type JobConfig struct {
	Name     string            `yaml:"name" json:"name"`
	Source   SourceDescriptor  `yaml:"source" json:"source"`
	Key      *KeyDescriptor    `yaml:"key,omitempty" json:"key,omitempty"`
	Template string            `yaml:"template" json:"template"`
	Params   []interface{}     `yaml:"params" json:"params"`
	Schema   []FieldDescriptor `yaml:"schema" json:"schema"`
	// Transform overrides EngineConfig.Transform for this job
	Transform *TransformConfig `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// SourceDescriptor is the untyped form of a data source.
type SourceDescriptor struct {
	Kind    string                 `yaml:"kind" json:"kind"`
	Paths   []string               `yaml:"paths" json:"paths"`
	Options map[string]interface{} `yaml:"options" json:"options"`
}

// KeyDescriptor configures deterministic key generation.
type KeyDescriptor struct {
	Columns []string `yaml:"columns" json:"columns"`
	Field   string   `yaml:"field" json:"field"`
	Length  int      `yaml:"length" json:"length"`
}

// FieldDescriptor declares one field of the row schema.
type FieldDescriptor struct {
	Name      string   `yaml:"name" json:"name"`
	Type      string   `yaml:"type" json:"type"`
	Required  bool     `yaml:"required" json:"required"`
	Nullable  bool     `yaml:"nullable" json:"nullable"`
	MinLength int      `yaml:"min_length" json:"min_length"`
	MaxLength int      `yaml:"max_length" json:"max_length"`
	OneOf     []string `yaml:"one_of" json:"one_of"`
}

// Validate checks the job for missing required parts.
func (j *JobConfig) Validate() error {
	if j.Source.Kind == "" {
		return fmt.Errorf("source.kind is required")
	}
	if len(j.Source.Paths) == 0 {
		return fmt.Errorf("source.paths must not be empty")
	}
	if j.Template == "" {
		return fmt.Errorf("template is required")
	}
	if j.Key != nil && len(j.Key.Columns) == 0 {
		return fmt.Errorf("key.columns must not be empty")
	}
	for i, f := range j.Schema {
		if f.Name == "" {
			return fmt.Errorf("schema[%d].name is required", i)
		}
	}
	return nil
}
