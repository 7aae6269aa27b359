// Package testutil provides testing utilities for Tabula
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/engine"
)

// NewEngine returns an initialized engine logging to the test output.
// A nil cfg means an in-memory database with default settings.
// The engine is closed when the test completes.
func NewEngine(t *testing.T, cfg *config.EngineConfig) *engine.Engine {
	t.Helper()
	e := engine.New(cfg, engine.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, e.Initialize(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// WriteFile writes content to name inside dir and returns the path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// RequireNoTempObjects fails the test when e still holds temporary tables
// or views.
func RequireNoTempObjects(t *testing.T, e *engine.Engine) {
	t.Helper()
	temps, err := e.TempObjects(context.Background())
	require.NoError(t, err)
	require.Empty(t, temps, "temporary objects left behind")
}

// AttachMemory attaches an empty in-memory catalog under alias so tests can
// stand in for the relational store.
func AttachMemory(t *testing.T, e *engine.Engine, alias string, stmts ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.Exec(ctx, "ATTACH ':memory:' AS "+alias)
	require.NoError(t, err)
	for _, s := range stmts {
		_, err := e.Exec(ctx, s)
		require.NoError(t, err)
	}
}
