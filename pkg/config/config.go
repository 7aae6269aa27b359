package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// EngineConfig is the configuration consumed by the engine and the components
// built on it. Optional capabilities are enabled by the presence of their block;
// the Enable* pointers override that when set.
type EngineConfig struct {
	// Database selects the engine database location and resources
	Database DatabaseConfig `yaml:"database" json:"database"`

	// ObjectStorage configures remote object storage credentials
	ObjectStorage *ObjectStorageConfig `yaml:"object_storage,omitempty" json:"object_storage,omitempty"`

	// Relational configures the external relational attachment
	Relational *RelationalConfig `yaml:"relational,omitempty" json:"relational,omitempty"`

	EnableObjectStorage       *bool `yaml:"enable_object_storage,omitempty" json:"enable_object_storage,omitempty"`
	EnableSpreadsheetSupport  *bool `yaml:"enable_spreadsheet_support,omitempty" json:"enable_spreadsheet_support,omitempty"`
	EnableRelationalExtension *bool `yaml:"enable_relational_extension,omitempty" json:"enable_relational_extension,omitempty"`

	// Loader tunes the bulk array loader
	Loader LoaderConfig `yaml:"loader" json:"loader"`

	// Transform holds default transformation options
	Transform TransformConfig `yaml:"transform" json:"transform"`

	// Dedup holds duplicate detection defaults
	Dedup DedupConfig `yaml:"dedup" json:"dedup"`

	// Observability settings for logging, metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// DatabaseConfig selects where the engine keeps its data.
type DatabaseConfig struct {
	// Path is a database file; empty or ":memory:" means in-memory
	Path string `yaml:"path" json:"path"`
	// Threads caps engine worker threads (0 = engine default)
	Threads int `yaml:"threads" json:"threads"`
	// MemoryLimit is an engine size string such as "2GB"
	MemoryLimit string `yaml:"memory_limit" json:"memory_limit"`
	// TempDirectory is where the engine spills to disk
	TempDirectory string `yaml:"temp_directory" json:"temp_directory"`
	// InitTimeout bounds Initialize
	InitTimeout time.Duration `yaml:"init_timeout" json:"init_timeout"`
}

// ObjectStorageConfig holds S3-compatible storage credentials.
type ObjectStorageConfig struct {
	Region          string `yaml:"region" json:"region"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	SessionToken    string `yaml:"session_token" json:"session_token"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	// URLStyle is "vhost" or "path"
	URLStyle string `yaml:"url_style" json:"url_style"`
	UseSSL   *bool  `yaml:"use_ssl,omitempty" json:"use_ssl,omitempty"`
	// UseCredentialChain resolves credentials from the environment, shared
	// profile or instance role instead of static keys
	UseCredentialChain bool `yaml:"use_credential_chain" json:"use_credential_chain"`
	// Profile selects a shared config profile for the credential chain
	Profile string `yaml:"profile" json:"profile"`
	// SecretName names the engine secret (default "default_s3_secret")
	SecretName string `yaml:"secret_name" json:"secret_name"`
}

// HasStaticKeys reports whether explicit keys should be used.
func (o *ObjectStorageConfig) HasStaticKeys() bool {
	return o.AccessKeyID != "" && o.SecretAccessKey != "" && !o.UseCredentialChain
}

// RelationalConfig describes the external PostgreSQL store.
type RelationalConfig struct {
	// ConnectionString wins over the discrete fields when set
	ConnectionString string `yaml:"connection_string" json:"connection_string"`
	Host             string `yaml:"host" json:"host"`
	Port             int    `yaml:"port" json:"port"`
	Database         string `yaml:"database" json:"database"`
	User             string `yaml:"user" json:"user"`
	Password         string `yaml:"password" json:"password"`
	SSLMode          string `yaml:"ssl_mode" json:"ssl_mode"`

	// Alias is the catalog name of the attachment (default "pg_db")
	Alias string `yaml:"alias" json:"alias"`
	// Schema restricts the attachment to one schema
	Schema string `yaml:"schema" json:"schema"`
	// ReadWrite relaxes the default read-only attachment
	ReadWrite bool `yaml:"read_write" json:"read_write"`
	// SecretName attaches through a pre-registered engine secret
	SecretName string `yaml:"secret_name" json:"secret_name"`

	// MaxConns sizes the direct key lookup pool
	MaxConns int32 `yaml:"max_conns" json:"max_conns"`
}

// DSN returns the connection string for the relational store.
func (r *RelationalConfig) DSN() string {
	if r.ConnectionString != "" {
		return r.ConnectionString
	}
	if r.Host == "" && r.Database == "" {
		return ""
	}

	u := url.URL{Scheme: "postgresql", Host: r.Host, Path: "/" + r.Database}
	if r.Port > 0 {
		u.Host = r.Host + ":" + strconv.Itoa(r.Port)
	}
	if r.User != "" {
		if r.Password != "" {
			u.User = url.UserPassword(r.User, r.Password)
		} else {
			u.User = url.User(r.User)
		}
	}
	if r.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{r.SSLMode}}.Encode()
	}
	return u.String()
}

// AliasOrDefault returns Alias or "pg_db".
func (r *RelationalConfig) AliasOrDefault() string {
	if r.Alias == "" {
		return DefaultRelationalAlias
	}
	return r.Alias
}

// LoaderConfig tunes strategy selection and spooling.
type LoaderConfig struct {
	// NativeThreshold is the batch size from which the native strategy is used
	NativeThreshold int `yaml:"native_threshold" json:"native_threshold"`
	// FileThreshold is the batch size from which batches are spooled to disk
	FileThreshold int `yaml:"file_threshold" json:"file_threshold"`
	// SpoolDir is where spool files are written (default os.TempDir)
	SpoolDir string `yaml:"spool_dir" json:"spool_dir"`
	// SpoolCompression is one of none, gzip, zstd
	SpoolCompression string `yaml:"spool_compression" json:"spool_compression"`
	// InsertBatchSize is the row count per relational bulk insert statement
	InsertBatchSize int `yaml:"insert_batch_size" json:"insert_batch_size"`
}

// TransformConfig holds default transformation options.
type TransformConfig struct {
	ContinueOnValidationError bool `yaml:"continue_on_validation_error" json:"continue_on_validation_error"`
	MaxValidationErrors       int  `yaml:"max_validation_errors" json:"max_validation_errors"`
	MaxErrorDetailRows        int  `yaml:"max_error_detail_rows" json:"max_error_detail_rows"`
	MaxExamplesPerField       int  `yaml:"max_examples_per_field" json:"max_examples_per_field"`
	IncludeInvalidRows        bool `yaml:"include_invalid_rows" json:"include_invalid_rows"`
}

// DedupConfig holds duplicate detection defaults.
type DedupConfig struct {
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	Table     string `yaml:"table" json:"table"`
	KeyColumn string `yaml:"key_column" json:"key_column"`
	IDColumn  string `yaml:"id_column" json:"id_column"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	LogEncoding   string `yaml:"log_encoding" json:"log_encoding"`
	Development   bool   `yaml:"development" json:"development"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing"`
	ServiceName   string `yaml:"service_name" json:"service_name"`
}

const (
	// DefaultRelationalAlias is the catalog name used for the relational attachment.
	DefaultRelationalAlias = "pg_db"
	// DefaultSecretName is the name of the object storage secret.
	DefaultSecretName = "default_s3_secret"
)

// NewEngineConfig returns an in-memory configuration with defaults applied.
//
// Example:
//
//	cfg := config.NewEngineConfig()
//	cfg.Relational = &config.RelationalConfig{ConnectionString: os.Getenv("DATABASE_URL")}
func NewEngineConfig() *EngineConfig {
	return &EngineConfig{
		Database: DatabaseConfig{
			Path:        "",
			InitTimeout: 2 * time.Minute,
		},
		Loader: LoaderConfig{
			NativeThreshold:  500,
			FileThreshold:    100000,
			SpoolCompression: "none",
			InsertBatchSize:  1000,
		},
		Transform: TransformConfig{
			ContinueOnValidationError: true,
			MaxValidationErrors:       100,
			MaxErrorDetailRows:        25,
			MaxExamplesPerField:       5,
			IncludeInvalidRows:        false,
		},
		Dedup: DedupConfig{
			BatchSize: 1000,
			Table:     "transactions",
			KeyColumn: "key",
			IDColumn:  "id",
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogEncoding:   "json",
			EnableMetrics: true,
			ServiceName:   "tabula",
		},
	}
}

// ObjectStorageEnabled reports whether httpfs and a storage secret are set up.
func (c *EngineConfig) ObjectStorageEnabled() bool {
	if c.EnableObjectStorage != nil {
		return *c.EnableObjectStorage
	}
	return c.ObjectStorage != nil
}

// SpreadsheetEnabled reports whether the spreadsheet extension is loaded.
func (c *EngineConfig) SpreadsheetEnabled() bool {
	return c.EnableSpreadsheetSupport != nil && *c.EnableSpreadsheetSupport
}

// RelationalExtensionEnabled reports whether the relational extension is loaded.
func (c *EngineConfig) RelationalExtensionEnabled() bool {
	if c.EnableRelationalExtension != nil {
		return *c.EnableRelationalExtension
	}
	return c.Relational != nil
}

// Validate checks ranges and required combinations.
func (c *EngineConfig) Validate() error {
	if c.Database.Threads < 0 {
		return fmt.Errorf("database.threads cannot be negative")
	}
	if c.Loader.NativeThreshold < 0 || c.Loader.FileThreshold < 0 {
		return fmt.Errorf("loader thresholds cannot be negative")
	}
	if c.Loader.FileThreshold > 0 && c.Loader.NativeThreshold > c.Loader.FileThreshold {
		return fmt.Errorf("loader.native_threshold (%d) must not exceed loader.file_threshold (%d)",
			c.Loader.NativeThreshold, c.Loader.FileThreshold)
	}
	switch c.Loader.SpoolCompression {
	case "", "none", "gzip", "zstd":
	default:
		return fmt.Errorf("loader.spool_compression %q is not one of none, gzip, zstd", c.Loader.SpoolCompression)
	}
	if c.Transform.MaxValidationErrors < 0 || c.Transform.MaxErrorDetailRows < 0 || c.Transform.MaxExamplesPerField < 0 {
		return fmt.Errorf("transform limits cannot be negative")
	}
	if c.Dedup.BatchSize < 0 {
		return fmt.Errorf("dedup.batch_size cannot be negative")
	}
	if o := c.ObjectStorage; o != nil {
		if !o.UseCredentialChain && (o.AccessKeyID == "") != (o.SecretAccessKey == "") {
			return fmt.Errorf("object_storage requires both access_key_id and secret_access_key")
		}
		if o.URLStyle != "" && o.URLStyle != "vhost" && o.URLStyle != "path" {
			return fmt.Errorf("object_storage.url_style %q is not one of vhost, path", o.URLStyle)
		}
	}
	if r := c.Relational; r != nil {
		if r.SecretName == "" && r.DSN() == "" {
			return fmt.Errorf("relational requires connection_string, host/database or secret_name")
		}
	}
	return nil
}
