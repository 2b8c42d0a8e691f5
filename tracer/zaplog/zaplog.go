// Package zaplog persists spans as structured log entries with a stable field
// schema, useful for piping traces into log aggregation instead of (or next
// to) a trace store.
package zaplog

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/deepaksharma/agenttrace/tracer"
)

// Sink writes one log entry per completed span and, when enabled, per
// snapshot.
type Sink struct {
	logger    *zap.Logger
	snapshots bool
}

var (
	_ tracer.Persister         = (*Sink)(nil)
	_ tracer.SnapshotPersister = (*Sink)(nil)
)

// New creates a sink logging through the given logger.
func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

// EnableSnapshots turns on logging of in-progress snapshots. Returns the sink
// for chaining.
func (s *Sink) EnableSnapshots() *Sink {
	s.snapshots = true
	return s
}

// Persist logs the completed record at info level, or error level for failed
// spans.
func (s *Sink) Persist(tc *tracer.Trace) error {
	entry := s.logger.Info
	if tc.Status == tracer.StatusError {
		entry = s.logger.Error
	}
	entry("span completed",
		zap.Object("trace", traceField{tc}),
		zap.Duration("duration", tc.Duration()))
	return nil
}

// PersistSnapshot logs an in-progress copy at debug level.
func (s *Sink) PersistSnapshot(tc *tracer.Trace) error {
	s.logger.Debug("span snapshot", zap.Object("trace", traceField{tc}))
	return nil
}

// SnapshotsEnabled reports whether snapshot logging was enabled.
func (s *Sink) SnapshotsEnabled() bool {
	return s.snapshots
}

// traceField renders a record with a stable field layout.
type traceField struct {
	tc *tracer.Trace
}

func (f traceField) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	tc := f.tc
	enc.AddString("span_name", tc.Name)
	enc.AddString("span_kind", tc.Kind.String())
	enc.AddString("span_status", tc.Status.String())
	enc.AddString("trace_id", tc.TraceID)
	enc.AddString("span_id", tc.SpanID)
	if tc.ParentSpanID != "" {
		enc.AddString("parent_span_id", tc.ParentSpanID)
	}
	enc.AddTime("started_at", tc.StartedAt)
	if tc.Ended() {
		enc.AddTime("ended_at", tc.EndedAt)
	}
	if err := enc.AddObject("attributes", attrsField(tc.Attrs())); err != nil {
		return err
	}
	// Always present, empty or not: downstream log parsers key on the field.
	if err := enc.AddObject("resource_attributes", attrsField(tc.Resource.Attrs())); err != nil {
		return err
	}
	if tc.Scope.Name != "" {
		enc.AddString("scope", tc.Scope.Name+"/"+tc.Scope.Version)
	}
	return nil
}

type attrsField []tracer.Attr

func (a attrsField) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, attr := range a {
		switch v := attr.Value.(type) {
		case string:
			enc.AddString(attr.Key, v)
		case bool:
			enc.AddBool(attr.Key, v)
		case int:
			enc.AddInt(attr.Key, v)
		case int64:
			enc.AddInt64(attr.Key, v)
		case float64:
			enc.AddFloat64(attr.Key, v)
		case time.Duration:
			enc.AddDuration(attr.Key, v)
		default:
			enc.AddString(attr.Key, fmt.Sprint(v))
		}
	}
	return nil
}
