package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	require.NoError(t, Init(ctx, Config{
		ServiceName:  "tabula-test",
		SamplingRate: 1,
		Writer:       &buf,
		Synchronous:  true,
	}))
	defer func() { _ = Shutdown(ctx) }()

	err := Trace(ctx, "engine", "query", func(ctx context.Context) error {
		_, span := StartSpan(ctx, "loader", "inline")
		span.SetAttribute("rows", 3)
		span.SetAttribute("table", "staging")
		span.End(nil)
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")

	out := buf.String()
	assert.Contains(t, out, "engine.query")
	assert.Contains(t, out, "loader.inline")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "staging")
}

func TestSpansWithoutInitAreNoops(t *testing.T) {
	require.NoError(t, Shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "engine", "exec")
	span.SetAttribute("k", struct{}{})
	span.End(nil)
	assert.NotNil(t, ctx)
	assert.GreaterOrEqual(t, int64(span.Duration()), int64(0))
}

func TestNeverSample(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	require.NoError(t, Init(ctx, Config{Writer: &buf, Synchronous: true}))

	_, span := StartSpan(ctx, "engine", "exec")
	span.End(nil)
	require.NoError(t, Shutdown(ctx))

	assert.Empty(t, buf.String())
}
