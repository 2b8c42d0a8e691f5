package zaplog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/deepaksharma/agenttrace/tracer"
)

func newObservedSink(t *testing.T) (*Sink, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return New(zap.New(core)), logs
}

func traceContext(t *testing.T, entry observer.LoggedEntry) map[string]any {
	t.Helper()
	fields := entry.ContextMap()
	tctx, ok := fields["trace"].(map[string]any)
	require.True(t, ok, "entry must carry a trace object field")
	return tctx
}

func TestCompletedSpanLoggedAtInfo(t *testing.T) {
	sink, logs := newObservedSink(t)
	tr := tracer.New(sink)

	err := tr.Trace(context.Background(), "plan-step", func(ctx context.Context, span *tracer.Span) error {
		span.SetAttr(tracer.AttrToolInput, "ls -la")
		return nil
	}, tracer.WithKind(tracer.KindServer))
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "span completed", entries[0].Message)

	tctx := traceContext(t, entries[0])
	assert.Equal(t, "plan-step", tctx["span_name"])
	assert.Equal(t, "SERVER", tctx["span_kind"])
	assert.Equal(t, "OK", tctx["span_status"])
	assert.NotEmpty(t, tctx["trace_id"])
	assert.NotEmpty(t, tctx["span_id"])
	assert.NotContains(t, tctx, "parent_span_id", "roots omit the parent field")

	attrs, ok := tctx["attributes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ls -la", attrs[tracer.AttrToolInput])
}

func TestStableFieldSchema(t *testing.T) {
	sink, logs := newObservedSink(t)
	tr := tracer.New(sink, tracer.WithResource(tracer.NewResource(
		tracer.Attr{Key: "service.name", Value: "agent"},
	)))

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *tracer.Span) error {
		return nil
	}))

	tctx := traceContext(t, logs.All()[0])
	for _, field := range []string{
		"span_name", "span_kind", "span_status", "trace_id", "span_id",
		"started_at", "ended_at", "attributes", "resource_attributes", "scope",
	} {
		assert.Contains(t, tctx, field, "downstream log parsers rely on %q", field)
	}

	res, ok := tctx["resource_attributes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "agent", res["service.name"])
}

func TestResourceAttributesEmittedWhenEmpty(t *testing.T) {
	sink, logs := newObservedSink(t)
	tr := tracer.New(sink)

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *tracer.Span) error {
		return nil
	}))

	tctx := traceContext(t, logs.All()[0])
	res, ok := tctx["resource_attributes"].(map[string]any)
	require.True(t, ok, "the field stays present with no resource configured")
	assert.Empty(t, res)
}

func TestFailedSpanLoggedAtError(t *testing.T) {
	sink, logs := newObservedSink(t)
	tr := tracer.New(sink)

	boom := errors.New("model unavailable")
	err := tr.Trace(context.Background(), "completion", func(ctx context.Context, span *tracer.Span) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)

	tctx := traceContext(t, entries[0])
	assert.Equal(t, "ERROR", tctx["span_status"])
	attrs := tctx["attributes"].(map[string]any)
	assert.Equal(t, "model unavailable", attrs[tracer.AttrError])
}

func TestChildCarriesParentSpanID(t *testing.T) {
	sink, logs := newObservedSink(t)
	tr := tracer.New(sink)

	err := tr.Trace(context.Background(), "parent", func(ctx context.Context, span *tracer.Span) error {
		return tr.Trace(ctx, "child", func(ctx context.Context, span *tracer.Span) error {
			return nil
		})
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	child := traceContext(t, entries[0])
	parent := traceContext(t, entries[1])
	assert.Equal(t, "child", child["span_name"])
	assert.Equal(t, parent["span_id"], child["parent_span_id"])
	assert.Equal(t, parent["trace_id"], child["trace_id"])
}

func TestSnapshotsLoggedAtDebugWhenEnabled(t *testing.T) {
	sink, logs := newObservedSink(t)
	sink.EnableSnapshots()
	tr := tracer.New(sink)

	err := tr.Trace(context.Background(), "stream", func(ctx context.Context, span *tracer.Span) error {
		span.Snapshot()
		return nil
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "span snapshot", entries[0].Message)
	tctx := traceContext(t, entries[0])
	assert.NotContains(t, tctx, "ended_at", "snapshots have no end time")
	assert.Equal(t, "span completed", entries[1].Message)
}

func TestSnapshotsOffByDefault(t *testing.T) {
	sink, logs := newObservedSink(t)
	assert.False(t, sink.SnapshotsEnabled())
	tr := tracer.New(sink)

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *tracer.Span) error {
		span.Snapshot()
		return nil
	}))
	assert.Len(t, logs.All(), 1, "only the completed record is logged")
}
