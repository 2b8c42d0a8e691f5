package tracer

import (
	"sync"

	"go.uber.org/zap"
)

// Span is the live handle to an open trace record. It serializes all
// mutation, snapshot emission and finalization, so a single Span may be
// shared across goroutines.
type Span struct {
	tracer *Tracer
	parent *Span

	mu    sync.Mutex
	tc    *Trace
	ended bool
}

// TraceID returns the identifier of the trace tree this span belongs to.
func (s *Span) TraceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tc.TraceID
}

// SpanID returns the span's own identifier.
func (s *Span) SpanID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tc.SpanID
}

// ParentSpanID returns the enclosing span's identifier, or "" for roots.
func (s *Span) ParentSpanID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tc.ParentSpanID
}

// Name returns the span name.
func (s *Span) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tc.Name
}

// Status returns the span's current status.
func (s *Span) Status() SpanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tc.Status
}

// Attr looks up one of the span's attributes.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tc.Attr(key)
}

// SetAttr writes an attribute. Later writes for the same key overwrite the
// value in place; insertion order is preserved otherwise. Overwriting a key
// previously written with SetInheritable clears its inheritable flag. No-op
// once the span has ended.
func (s *Span) SetAttr(key string, value any) {
	s.setAttr(key, value, false)
}

// SetInheritable writes an attribute and flags it inheritable: descendant
// spans created from this point on are initialized with it. Already-created
// descendants are not retroactively updated.
func (s *Span) SetInheritable(key string, value any) {
	s.setAttr(key, value, true)
}

func (s *Span) setAttr(key string, value any, inherit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.tc.attrs.set(key, value, inherit)
}

// SetStatus sets the span status. No-op once the span has ended.
func (s *Span) SetStatus(status SpanStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.tc.Status = status
}

// RecordError marks the span failed and records the error message.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.tc.Status = StatusError
	s.tc.attrs.set(AttrError, err.Error(), false)
}

// Snapshot delivers a copy of the span's current state, with no end time, to
// the backend. A no-op when the backend does not advertise snapshot support
// or once the span has ended. Snapshots for one span reach the backend in
// call order and always before the completed record.
func (s *Span) Snapshot() {
	sp, ok := s.tracer.backend.(SnapshotPersister)
	if !ok || !sp.SnapshotsEnabled() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	// Dispatch under the span lock so a snapshot can never trail the
	// completed record.
	if err := sp.PersistSnapshot(s.tc.clone()); err != nil {
		s.tracer.logger.Error("snapshot persistence failed",
			zap.String("trace_id", s.tc.TraceID),
			zap.String("span_id", s.tc.SpanID),
			zap.Error(err))
	}
}

// End finalizes the span and hands the completed record to the backend
// exactly once. Safe to call multiple times; only the first call takes
// effect.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	now := s.tracer.clock.Now()
	if now.Before(s.tc.StartedAt) {
		now = s.tc.StartedAt
	}
	s.tc.EndedAt = now

	// The record is immutable from here on; dispatch under the span lock so
	// persistence never overlaps mutation of the same record.
	if err := s.tracer.backend.Persist(s.tc); err != nil {
		s.tracer.logger.Error("span persistence failed",
			zap.String("trace_id", s.tc.TraceID),
			zap.String("span_id", s.tc.SpanID),
			zap.String("span_name", s.tc.Name),
			zap.Error(err))
	}
}

// inheritedAttrs computes the union of inheritable attributes over the full
// ancestor chain, root first so nearer ancestors overwrite farther ones.
func inheritedAttrs(parent *Span) []Attr {
	var chain []*Span
	for s := parent; s != nil; s = s.parent {
		chain = append(chain, s)
	}

	var out []Attr
	for i := len(chain) - 1; i >= 0; i-- {
		s := chain[i]
		s.mu.Lock()
		attrs := s.tc.InheritableAttrs()
		s.mu.Unlock()
		out = append(out, attrs...)
	}
	return out
}
