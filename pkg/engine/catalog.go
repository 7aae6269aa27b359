package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/models"
	"github.com/ajitpratap0/tabula/pkg/source"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// TableSchema describes the columns of a table or view. Dotted names are
// treated as catalog.schema.table.
func (e *Engine) TableSchema(ctx context.Context, table string) ([]models.Column, error) {
	if strings.TrimSpace(table) == "" {
		return nil, tabulaerrors.New(tabulaerrors.KindValidation, "table name is required")
	}
	res, err := e.Query(ctx, "DESCRIBE "+sqlutil.QuoteIdent(strings.Split(table, ".")...))
	if err != nil {
		return nil, err
	}

	columns := make([]models.Column, 0, res.RowCount)
	for _, row := range res.Rows {
		columns = append(columns, models.Column{
			Name:     fmt.Sprint(row["column_name"]),
			Type:     fmt.Sprint(row["column_type"]),
			Nullable: fmt.Sprint(row["null"]) != "NO",
		})
	}
	return columns, nil
}

// CreateTableFrom creates table name holding every row of src. Dotted names
// are treated as catalog.schema.table. An existing table is an error.
func (e *Engine) CreateTableFrom(ctx context.Context, name string, src source.Source) error {
	if strings.TrimSpace(name) == "" {
		return tabulaerrors.New(tabulaerrors.KindValidation, "table name is required")
	}
	from, err := source.Build(src)
	if err != nil {
		return err
	}
	_, err = e.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", sqlutil.QuoteIdent(strings.Split(name, ".")...), from))
	return err
}

// ReadSource returns every row of src.
func (e *Engine) ReadSource(ctx context.Context, src source.Source) (*models.QueryResult, error) {
	from, err := source.Build(src)
	if err != nil {
		return nil, err
	}
	return e.Query(ctx, from)
}

// ListTables returns the names of user tables and views in every attached
// database, sorted.
func (e *Engine) ListTables(ctx context.Context) ([]string, error) {
	return e.names(ctx, `SELECT table_name AS name FROM duckdb_tables() WHERE NOT internal
UNION SELECT view_name AS name FROM duckdb_views() WHERE NOT internal
ORDER BY name`)
}

// TempObjects returns the names of temporary tables and views on the
// connection, sorted.
func (e *Engine) TempObjects(ctx context.Context) ([]string, error) {
	return e.names(ctx, `SELECT table_name AS name FROM duckdb_tables() WHERE temporary
UNION SELECT view_name AS name FROM duckdb_views() WHERE temporary AND NOT internal
ORDER BY name`)
}

func (e *Engine) names(ctx context.Context, query string) ([]string, error) {
	res, err := e.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, res.RowCount)
	for _, row := range res.Rows {
		names = append(names, fmt.Sprint(row["name"]))
	}
	return names, nil
}

// SecretInfo describes a registered engine secret. Secret values are never
// read.
type SecretInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Provider string `json:"provider"`
}

// Info is a snapshot of the engine's runtime state.
type Info struct {
	Version         string            `json:"version"`
	Path            string            `json:"path"`
	State           string            `json:"state"`
	Settings        map[string]string `json:"settings"`
	Extensions      []string          `json:"extensions"`
	Secrets         []SecretInfo      `json:"secrets"`
	Databases       []string          `json:"databases"`
	RelationalAlias string            `json:"relational_alias,omitempty"`
}

// Info reports version, selected settings, loaded extensions, secrets and
// attached databases.
func (e *Engine) Info(ctx context.Context) (*Info, error) {
	info := &Info{
		Path:     displayPath(e.cfg.Database.Path),
		State:    e.State().String(),
		Settings: map[string]string{},
	}
	info.RelationalAlias, _ = e.RelationalAlias()

	res, err := e.Query(ctx, "SELECT version() AS version")
	if err != nil {
		return nil, err
	}
	if res.RowCount > 0 {
		info.Version = fmt.Sprint(res.Rows[0]["version"])
	}

	res, err = e.Query(ctx, `SELECT name, value FROM duckdb_settings()
WHERE name IN ('threads', 'memory_limit', 'temp_directory', 'max_memory')`)
	if err != nil {
		return nil, err
	}
	for _, row := range res.Rows {
		info.Settings[fmt.Sprint(row["name"])] = fmt.Sprint(row["value"])
	}

	if info.Extensions, err = e.names(ctx,
		"SELECT extension_name AS name FROM duckdb_extensions() WHERE loaded ORDER BY name"); err != nil {
		return nil, err
	}
	if info.Databases, err = e.names(ctx,
		"SELECT database_name AS name FROM duckdb_databases() WHERE NOT internal ORDER BY name"); err != nil {
		return nil, err
	}

	res, err = e.Query(ctx, "SELECT name, type, provider FROM duckdb_secrets() ORDER BY name")
	if err != nil {
		return nil, err
	}
	for _, row := range res.Rows {
		info.Secrets = append(info.Secrets, SecretInfo{
			Name:     fmt.Sprint(row["name"]),
			Type:     fmt.Sprint(row["type"]),
			Provider: fmt.Sprint(row["provider"]),
		})
	}
	return info, nil
}
