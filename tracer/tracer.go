package tracer

import (
	"context"
	"fmt"
	"sync"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Version of the agenttrace library, reported in every span's scope.
const Version = "0.1.0"

const scopeName = "github.com/deepaksharma/agenttrace"

// Persister is the single method a storage or export backend must implement.
// Persist is called exactly once per span, after finalization, with the
// now-immutable completed record.
type Persister interface {
	Persist(tc *Trace) error
}

// SnapshotPersister is the optional capability of accepting intermediate
// copies of still-open spans. PersistSnapshot may be called repeatedly for
// the same span ID with evolving attribute sets; records have no end time.
type SnapshotPersister interface {
	Persister
	PersistSnapshot(tc *Trace) error
	SnapshotsEnabled() bool
}

// Retriever is the optional capability of reading back persisted records.
type Retriever interface {
	// Traces returns previously persisted records, in insertion order, whose
	// attributes match every key/value pair of the filter. A nil filter
	// matches everything.
	Traces(filter Filter) ([]*Trace, error)
}

// Filter selects traces whose attribute map contains all given key/value
// pairs.
type Filter map[string]any

// Tracer drives the span lifecycle: linkage, attribute inheritance, context
// propagation and dispatch to one backend. Safe for concurrent use by
// multiple goroutines; per-path nesting state lives in the context, never in
// the Tracer.
type Tracer struct {
	backend Persister
	scope   Scope
	clock   clockz.Clock
	logger  *zap.Logger

	mu       sync.RWMutex
	resource *Resource
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithLogger sets the logger used to report backend failures.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracer) { t.logger = logger }
}

// WithClock injects a clock, enabling deterministic tests.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) { t.clock = clock }
}

// WithScope overrides the producing-library scope stamped on every span.
func WithScope(scope Scope) Option {
	return func(t *Tracer) { t.scope = scope }
}

// WithResource sets the initial resource attributes.
func WithResource(r *Resource) Option {
	return func(t *Tracer) { t.resource = r }
}

// New creates a Tracer dispatching to the given backend.
func New(backend Persister, opts ...Option) *Tracer {
	t := &Tracer{
		backend: backend,
		scope:   Scope{Name: scopeName, Version: Version},
		clock:   clockz.RealClock,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Backend returns the persistence backend this tracer dispatches to.
func (t *Tracer) Backend() Persister {
	return t.backend
}

// SnapshotsEnabled reports whether the backend accepts snapshots.
func (t *Tracer) SnapshotsEnabled() bool {
	sp, ok := t.backend.(SnapshotPersister)
	return ok && sp.SnapshotsEnabled()
}

// SetResource replaces the resource attributes stamped on subsequently
// created spans. Not retroactive to already-open spans.
func (t *Tracer) SetResource(r *Resource) {
	t.mu.Lock()
	t.resource = r
	t.mu.Unlock()
}

// SpanOption configures a single span at creation.
type SpanOption func(*spanSettings)

type spanSettings struct {
	kind  SpanKind
	attrs []Attr
}

// WithKind sets the span kind; the default is KindInternal.
func WithKind(kind SpanKind) SpanOption {
	return func(s *spanSettings) { s.kind = kind }
}

// WithAttrs writes initial attributes on the new span, after inherited ones.
func WithAttrs(attrs ...Attr) SpanOption {
	return func(s *spanSettings) { s.attrs = append(s.attrs, attrs...) }
}

// StartSpan opens a span. When the context already carries an open span, the
// new one joins its trace as a child and is initialized with the inheritable
// attributes of its full ancestor chain, as of this moment. The returned
// context carries the new span as current.
//
// The caller owns finalization: every exit path must call End on the handle,
// typically via defer. Trace does this bookkeeping automatically.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	settings := spanSettings{kind: KindInternal}
	for _, opt := range opts {
		opt(&settings)
	}

	t.mu.RLock()
	resource := t.resource
	t.mu.RUnlock()

	tc := &Trace{
		SpanID:    newSpanID(),
		Name:      name,
		Kind:      settings.kind,
		StartedAt: t.clock.Now(),
		Resource:  resource,
		Scope:     t.scope,
	}

	parent := spanFromContext(ctx)
	if parent != nil {
		tc.TraceID = parent.TraceID()
		tc.ParentSpanID = parent.SpanID()
		for _, a := range inheritedAttrs(parent) {
			tc.attrs.set(a.Key, a.Value, false)
		}
	} else {
		tc.TraceID = newTraceID()
	}
	for _, a := range settings.attrs {
		tc.attrs.set(a.Key, a.Value, false)
	}

	span := &Span{tracer: t, parent: parent, tc: tc}
	return ContextWithSpan(ctx, span), span
}

// Trace runs fn inside a span, finalizing it on every exit path. An error
// return or a panic marks the span StatusError before it is persisted; the
// fault then propagates to the caller unchanged. On a clean return the
// status becomes StatusOK unless fn set one explicitly.
func (t *Tracer) Trace(ctx context.Context, name string, fn func(ctx context.Context, span *Span) error, opts ...SpanOption) (err error) {
	ctx, span := t.StartSpan(ctx, name, opts...)
	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(StatusError)
			span.SetAttr(AttrError, fmt.Sprint(r))
			span.End()
			panic(r)
		}
		if err != nil {
			span.RecordError(err)
		} else if span.Status() == StatusUnset {
			span.SetStatus(StatusOK)
		}
		span.End()
	}()
	return fn(ctx, span)
}
