package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

func boolPtr(b bool) *bool { return &b }

func TestSettingsSQL(t *testing.T) {
	assert.Empty(t, settingsSQL(config.DatabaseConfig{}))
	assert.Equal(t, []string{
		"SET threads = 4",
		"SET memory_limit = '2GB'",
		"SET temp_directory = '/tmp/spill'",
	}, settingsSQL(config.DatabaseConfig{Threads: 4, MemoryLimit: "2GB", TempDirectory: "/tmp/spill"}))
}

func TestStaticSecretSQL(t *testing.T) {
	tests := []struct {
		name  string
		o     config.ObjectStorageConfig
		creds StaticCredentials
		want  string
	}{
		{
			name:  "keys and region",
			o:     config.ObjectStorageConfig{Region: "eu-central-1"},
			creds: StaticCredentials{AccessKeyID: "AKIA", SecretAccessKey: "s3cr'et"},
			want:  "CREATE OR REPLACE SECRET default_s3_secret (TYPE S3, KEY_ID 'AKIA', SECRET 's3cr''et', REGION 'eu-central-1')",
		},
		{
			name:  "session token and resolved region",
			o:     config.ObjectStorageConfig{},
			creds: StaticCredentials{AccessKeyID: "A", SecretAccessKey: "B", SessionToken: "T", Region: "us-east-1"},
			want:  "CREATE OR REPLACE SECRET default_s3_secret (TYPE S3, KEY_ID 'A', SECRET 'B', REGION 'us-east-1', SESSION_TOKEN 'T')",
		},
		{
			name:  "http endpoint disables ssl",
			o:     config.ObjectStorageConfig{Endpoint: "http://localhost:9000/", URLStyle: "path"},
			creds: StaticCredentials{AccessKeyID: "minio", SecretAccessKey: "minio123"},
			want: "CREATE OR REPLACE SECRET default_s3_secret (TYPE S3, KEY_ID 'minio', SECRET 'minio123', " +
				"ENDPOINT 'localhost:9000', URL_STYLE 'path', USE_SSL false)",
		},
		{
			name:  "explicit ssl wins",
			o:     config.ObjectStorageConfig{Endpoint: "https://r2.example.com", UseSSL: boolPtr(true)},
			creds: StaticCredentials{AccessKeyID: "k", SecretAccessKey: "s"},
			want:  "CREATE OR REPLACE SECRET default_s3_secret (TYPE S3, KEY_ID 'k', SECRET 's', ENDPOINT 'r2.example.com', USE_SSL true)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, staticSecretSQL(config.DefaultSecretName, &tt.o, tt.creds))
		})
	}
}

func TestChainSecretSQL(t *testing.T) {
	got := chainSecretSQL("imports", &config.ObjectStorageConfig{Region: "eu-west-1", Profile: "finance"})
	assert.Equal(t, "CREATE OR REPLACE SECRET imports (TYPE S3, PROVIDER credential_chain, PROFILE 'finance', REGION 'eu-west-1')", got)
}

func TestAttachSQL(t *testing.T) {
	tests := []struct {
		name string
		r    config.RelationalConfig
		want string
	}{
		{
			name: "defaults to read only pg_db",
			r:    config.RelationalConfig{ConnectionString: "postgresql://u:p@db:5432/app"},
			want: "ATTACH 'postgresql://u:p@db:5432/app' AS pg_db (TYPE postgres, READ_ONLY)",
		},
		{
			name: "read write with schema and alias",
			r:    config.RelationalConfig{ConnectionString: "dbname=app", Alias: "app", Schema: "finance", ReadWrite: true},
			want: "ATTACH 'dbname=app' AS app (TYPE postgres, SCHEMA 'finance')",
		},
		{
			name: "discrete fields",
			r:    config.RelationalConfig{Host: "db", Port: 5433, Database: "app", User: "svc", SSLMode: "require"},
			want: "ATTACH 'postgresql://svc@db:5433/app?sslmode=require' AS pg_db (TYPE postgres, READ_ONLY)",
		},
		{
			name: "secret",
			r:    config.RelationalConfig{SecretName: "pg_secret"},
			want: "ATTACH '' AS pg_db (TYPE postgres, READ_ONLY, SECRET pg_secret)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := attachSQL(&tt.r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttachSQLRejectsUnsafeNames(t *testing.T) {
	_, err := attachSQL(&config.RelationalConfig{ConnectionString: "x", Alias: "pg; DROP"})
	require.Error(t, err)
	assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindConfig))

	_, err = attachSQL(&config.RelationalConfig{SecretName: "a b"})
	require.Error(t, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "CREATE OR REPLACE SECRET <redacted>",
		redact("CREATE OR REPLACE SECRET s (TYPE S3, KEY_ID 'a', SECRET 'b')"))
	assert.Equal(t, "ATTACH '<redacted>' AS pg_db (TYPE postgres, READ_ONLY)",
		redact("ATTACH 'postgresql://u:p@h/db' AS pg_db (TYPE postgres, READ_ONLY)"))
	assert.Equal(t, "INSTALL httpfs", redact("INSTALL httpfs"))
}

func TestAWSCredentialsFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "wJalrXUtnFEMI")
	t.Setenv("AWS_SESSION_TOKEN", "token")

	creds, err := AWSCredentials{}.Resolve(context.Background(), &config.ObjectStorageConfig{Region: "eu-central-1"})
	require.NoError(t, err)
	assert.Equal(t, StaticCredentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI",
		SessionToken:    "token",
		Region:          "eu-central-1",
	}, creds)
}

func TestExportSQL(t *testing.T) {
	tests := []struct {
		name string
		req  ExportRequest
		want string
	}{
		{
			name: "parquet by default",
			req:  ExportRequest{Query: "SELECT 1", Destination: "s3://lake/out.parquet", Compression: "zstd"},
			want: "COPY (SELECT 1) TO 's3://lake/out.parquet' (FORMAT parquet, COMPRESSION 'zstd')",
		},
		{
			name: "partitioned csv",
			req: ExportRequest{
				Query:       "SELECT * FROM t",
				Destination: "out",
				Format:      FormatCSV,
				Header:      boolPtr(false),
				PartitionBy: []string{"year", "month"},
				Overwrite:   true,
			},
			want: `COPY (SELECT * FROM t) TO 'out' (FORMAT csv, HEADER false, PARTITION_BY ("year", "month"), OVERWRITE_OR_IGNORE true)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.SQL()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []ExportRequest{
		{Destination: "x"},
		{Query: "SELECT 1"},
		{Query: "SELECT 1", Destination: "x", Format: "xml"},
		{Query: "SELECT 1", Destination: "x", Compression: "zstd'"},
	} {
		_, err := bad.SQL()
		assert.True(t, tabulaerrors.IsKind(err, tabulaerrors.KindValidation))
	}
}
