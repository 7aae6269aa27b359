package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewDefaults(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestGetReturnsLogger(t *testing.T) {
	assert.NotNil(t, Get())
	assert.NotNil(t, Named("engine"))
}

func TestFromContextAddsIDs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := ContextWithImportID(context.Background(), "imp-1")
	ctx = ContextWithUserID(ctx, "user-7")
	ctx = ContextWithJobID(ctx, "job-3")

	FromContext(ctx, base).Info("loaded")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "imp-1", fields["import_id"])
	assert.Equal(t, "user-7", fields["user_id"])
	assert.Equal(t, "job-3", fields["job_id"])
}
