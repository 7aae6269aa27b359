// Package keystore looks up existing transaction keys directly in the
// relational store over a pgx connection pool. The duplicate detector uses it
// when the engine has no relational attachment.
package keystore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

const (
	// UserColumn scopes every lookup to one owner.
	UserColumn = "user_id"
	// ActiveColumn excludes soft-deleted rows.
	ActiveColumn = "is_active"
)

// Query selects the keys of Keys that already exist for a scope.
type Query struct {
	Table     string
	KeyColumn string
	IDColumn  string
	UserID    string
	// Filters are extra equality conditions, such as the bank account
	Filters map[string]interface{}
	Keys    []string
}

// SQL renders the lookup with numbered parameters:
//
//	SELECT "key", MIN(CAST("id" AS TEXT)) FROM "transactions"
//	WHERE "user_id" = $1 AND "is_active" = true AND "key" = ANY($2) GROUP BY "key"
func (q Query) SQL() (string, []interface{}, error) {
	if q.Table == "" || q.KeyColumn == "" || q.IDColumn == "" {
		return "", nil, tabulaerrors.New(tabulaerrors.KindValidation, "table, key column and id column are required")
	}
	if q.UserID == "" {
		return "", nil, tabulaerrors.New(tabulaerrors.KindValidation, "user id is required")
	}

	key := sqlutil.QuoteIdent(q.KeyColumn)
	args := []interface{}{q.UserID}
	where := []string{
		sqlutil.QuoteIdent(UserColumn) + " = $1",
		sqlutil.QuoteIdent(ActiveColumn) + " = true",
	}
	for _, col := range sortedKeys(q.Filters) {
		args = append(args, q.Filters[col])
		where = append(where, fmt.Sprintf("%s = $%d", sqlutil.QuoteIdent(col), len(args)))
	}
	args = append(args, q.Keys)
	where = append(where, fmt.Sprintf("%s = ANY($%d)", key, len(args)))

	stmt := fmt.Sprintf("SELECT %s, MIN(CAST(%s AS TEXT)) FROM %s WHERE %s GROUP BY %s",
		key, sqlutil.QuoteIdent(q.IDColumn),
		sqlutil.QuoteIdent(strings.Split(q.Table, ".")...),
		strings.Join(where, " AND "), key)
	return stmt, args, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns, for each key of q that exists, the id of its row.
type Lookup interface {
	ExistingKeys(ctx context.Context, q Query) (map[string]string, error)
}

// PostgresStore is a Lookup over a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects a pool to the store described by cfg.
func Open(ctx context.Context, cfg *config.RelationalConfig, log *zap.Logger) (*PostgresStore, error) {
	if log == nil {
		log = logger.Named("keystore")
	}
	if cfg == nil || cfg.DSN() == "" {
		return nil, tabulaerrors.New(tabulaerrors.KindConfig, "relational connection string is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindConfig, "failed to parse relational connection string")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindConnection, "failed to create relational pool")
	}
	log.Info("key store pool created",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns))
	return &PostgresStore{pool: pool, logger: log}, nil
}

// ExistingKeys implements Lookup.
func (s *PostgresStore) ExistingKeys(ctx context.Context, q Query) (map[string]string, error) {
	found := make(map[string]string)
	if len(q.Keys) == 0 {
		return found, nil
	}
	stmt, args, err := q.SQL()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "key lookup failed").WithQuery(stmt)
	}
	defer rows.Close()

	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "key lookup scan failed").WithQuery(stmt)
		}
		found[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, tabulaerrors.Wrap(err, tabulaerrors.KindQuery, "key lookup failed").WithQuery(stmt)
	}
	s.logger.Debug("keys looked up", zap.Int("keys", len(q.Keys)), zap.Int("found", len(found)))
	return found, nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return tabulaerrors.Wrap(err, tabulaerrors.KindConnection, "relational store unreachable")
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
