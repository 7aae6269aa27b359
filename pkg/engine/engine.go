// Package engine manages the lifecycle of the embedded DuckDB instance and the
// one connection every Tabula component runs its SQL on.
//
// # Overview
//
// An Engine moves through Uninitialized -> Initializing -> Ready -> Closed.
// Initialize opens the database, pins a single connection (temporary tables
// are connection scoped, so staging tables created by the loader must be seen
// by the statements that follow) and then sets up three optional capabilities,
// each gated by the presence of its configuration block:
//
//   - object storage: the httpfs extension and one named S3 secret built from
//     static keys or the ambient AWS credential chain
//   - spreadsheet reading: the excel extension
//   - an external PostgreSQL store attached under an alias (default "pg_db")
//
// Any failure during setup closes whatever was opened and returns a
// KindInitialization error; the handle can be initialized again later.
//
// # Concurrency
//
// Statements on one Engine are serialized by the pinned connection. Use a
// Provider to share one Engine between goroutines that may race to create it.
//
//	eng := engine.New(cfg, engine.WithLogger(log))
//	if err := eng.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	res, err := eng.Query(ctx, "SELECT 42 AS answer")
package engine

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2" // registers the "duckdb" driver
	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/logger"
	"github.com/ajitpratap0/tabula/pkg/metrics"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

const driverName = "duckdb"

// State is the lifecycle state of an Engine.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Engine is a handle to one DuckDB database and its pinned connection.
type Engine struct {
	cfg         *config.EngineConfig
	logger      *zap.Logger
	credentials CredentialsResolver

	// mu serializes lifecycle transitions; state is readable without it
	mu    sync.Mutex
	state atomic.Int32
	db    *sql.DB
	conn  *sql.Conn
	alias string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCredentialsResolver replaces the AWS credential chain used when object
// storage is configured without static keys.
func WithCredentialsResolver(r CredentialsResolver) Option {
	return func(e *Engine) {
		if r != nil {
			e.credentials = r
		}
	}
}

// New returns an uninitialized Engine. A nil cfg selects the defaults of
// config.NewEngineConfig (an in-memory database with no optional capabilities).
func New(cfg *config.EngineConfig, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.NewEngineConfig()
	}
	e := &Engine{
		cfg:         cfg,
		logger:      logger.Named("engine"),
		credentials: AWSCredentials{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsInitialized reports whether the engine is Ready.
func (e *Engine) IsInitialized() bool {
	return e.State() == StateReady
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.EngineConfig {
	return e.cfg
}

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// RelationalAlias returns the catalog alias of the attached relational store
// and whether an attachment exists.
func (e *Engine) RelationalAlias() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alias, e.alias != ""
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	metrics.EngineState.Set(float64(s))
}

// Initialize opens the database and sets up the configured capabilities. It is
// a no-op on a Ready engine. Concurrent calls wait for the one in progress.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() == StateReady {
		return nil
	}
	if err := e.cfg.Validate(); err != nil {
		return tabulaerrors.Wrap(err, tabulaerrors.KindConfig, "invalid engine configuration")
	}

	e.setState(StateInitializing)
	start := time.Now()

	if timeout := e.cfg.Database.InitTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := e.open(ctx); err != nil {
		if cerr := e.closeLocked(); cerr != nil {
			e.logger.Warn("cleanup after failed initialization", zap.Error(cerr))
		}
		e.setState(StateUninitialized)
		return tabulaerrors.Wrap(err, tabulaerrors.KindInitialization, "failed to initialize engine")
	}

	e.setState(StateReady)
	e.logger.Info("engine initialized",
		zap.String("path", displayPath(e.cfg.Database.Path)),
		zap.Bool("object_storage", e.cfg.ObjectStorageEnabled()),
		zap.Bool("spreadsheet", e.cfg.SpreadsheetEnabled()),
		zap.String("relational_alias", e.alias),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (e *Engine) open(ctx context.Context) error {
	path := e.cfg.Database.Path
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return tabulaerrors.Wrap(err, tabulaerrors.KindInitialization, "failed to open database")
	}
	e.db = db

	conn, err := db.Conn(ctx)
	if err != nil {
		return tabulaerrors.Wrap(err, tabulaerrors.KindInitialization, "failed to connect")
	}
	e.conn = conn

	return e.setup(ctx)
}

// Close releases the connection and the database. It is safe to call more
// than once and on an engine that was never initialized.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil && e.db == nil {
		if e.State() == StateReady {
			e.setState(StateClosed)
		}
		return nil
	}
	err := e.closeLocked()
	e.setState(StateClosed)
	e.logger.Info("engine closed")
	return err
}

func (e *Engine) closeLocked() error {
	var first error
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			first = err
		}
		e.conn = nil
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil && first == nil {
			first = err
		}
		e.db = nil
	}
	e.alias = ""
	if first != nil {
		return tabulaerrors.Wrap(first, tabulaerrors.KindConnection, "failed to close engine")
	}
	return nil
}

// connection returns the pinned connection or a KindConnection error when the
// engine is not Ready.
func (e *Engine) connection() (*sql.Conn, error) {
	if e.State() != StateReady {
		return nil, tabulaerrors.Newf(tabulaerrors.KindConnection,
			"engine not initialized (state %s)", e.State())
	}
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return nil, tabulaerrors.New(tabulaerrors.KindConnection, "engine not initialized")
	}
	return conn, nil
}

func displayPath(p string) string {
	if p == "" {
		return ":memory:"
	}
	return p
}
