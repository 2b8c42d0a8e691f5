package tracer

import (
	"time"
)

// SpanKind classifies the relationship of a span to its surroundings.
type SpanKind int

const (
	KindInternal SpanKind = iota
	KindServer
	KindClient
	KindProducer
	KindConsumer
)

// String returns the canonical upper-case name of the kind.
func (k SpanKind) String() string {
	switch k {
	case KindServer:
		return "SERVER"
	case KindClient:
		return "CLIENT"
	case KindProducer:
		return "PRODUCER"
	case KindConsumer:
		return "CONSUMER"
	default:
		return "INTERNAL"
	}
}

// SpanStatus reports the outcome of a span.
type SpanStatus int

const (
	StatusUnset SpanStatus = iota
	StatusOK
	StatusError
)

// String returns the canonical upper-case name of the status.
func (s SpanStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	default:
		return "UNSET"
	}
}

// Attr is a single key/value attribute.
type Attr struct {
	Key   string
	Value any
}

// Scope identifies the library producing spans. Constant per tracer.
type Scope struct {
	Name    string
	Version string
}

// Resource describes the process or service emitting spans. It is built once
// per tracer and shared read-only by every span that tracer creates.
type Resource struct {
	attrs []Attr
}

// NewResource builds a resource from ordered attributes.
func NewResource(attrs ...Attr) *Resource {
	r := &Resource{attrs: make([]Attr, len(attrs))}
	copy(r.attrs, attrs)
	return r
}

// Attrs returns a copy of the resource attributes in order.
func (r *Resource) Attrs() []Attr {
	if r == nil {
		return nil
	}
	out := make([]Attr, len(r.attrs))
	copy(out, r.attrs)
	return out
}

// Attr looks up a resource attribute by key.
func (r *Resource) Attr(key string) (any, bool) {
	if r == nil {
		return nil, false
	}
	for _, a := range r.attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// Trace is one timed, named unit of work. A Trace is mutable only through its
// owning Span handle while open; once ended (or copied out as a snapshot) it
// must be treated as immutable by every consumer.
type Trace struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Name         string
	Kind         SpanKind
	Status       SpanStatus
	StartedAt    time.Time
	// EndedAt is the zero time while the span is open and on snapshot
	// records. It is set exactly once, at finalization.
	EndedAt  time.Time
	Resource *Resource
	Scope    Scope

	attrs attrMap
}

// Root reports whether this span started a new trace tree.
func (tc *Trace) Root() bool {
	return tc.ParentSpanID == ""
}

// Ended reports whether the record is a completed span rather than an open
// span or a snapshot.
func (tc *Trace) Ended() bool {
	return !tc.EndedAt.IsZero()
}

// Duration returns EndedAt-StartedAt, or zero for open spans and snapshots.
func (tc *Trace) Duration() time.Duration {
	if tc.EndedAt.IsZero() {
		return 0
	}
	return tc.EndedAt.Sub(tc.StartedAt)
}

// Attrs returns the span attributes in insertion order. Overwriting a key
// keeps its original position.
func (tc *Trace) Attrs() []Attr {
	return tc.attrs.list()
}

// Attr looks up a span attribute by key.
func (tc *Trace) Attr(key string) (any, bool) {
	return tc.attrs.get(key)
}

// InheritableAttrs returns, in insertion order, the attributes flagged
// inheritable on this span.
func (tc *Trace) InheritableAttrs() []Attr {
	return tc.attrs.inheritableList()
}

// RestoreAttrs replaces the record's attribute list. Intended for storage
// adapters rehydrating previously persisted records; never call it on a live
// span's record.
func (tc *Trace) RestoreAttrs(attrs []Attr) {
	tc.attrs = attrMap{}
	for _, a := range attrs {
		tc.attrs.set(a.Key, a.Value, false)
	}
}

// clone returns a deep copy of the record with EndedAt cleared, suitable for
// snapshot delivery. Attribute values are copied by reference.
func (tc *Trace) clone() *Trace {
	cp := &Trace{
		TraceID:      tc.TraceID,
		SpanID:       tc.SpanID,
		ParentSpanID: tc.ParentSpanID,
		Name:         tc.Name,
		Kind:         tc.Kind,
		Status:       tc.Status,
		StartedAt:    tc.StartedAt,
		Resource:     tc.Resource,
		Scope:        tc.Scope,
		attrs:        tc.attrs.clone(),
	}
	return cp
}

// attrMap is an insertion-ordered string-keyed attribute map with an
// inheritable marker per key. Not safe for concurrent use; the owning Span
// serializes access.
type attrMap struct {
	keys        []string
	vals        map[string]any
	inheritable map[string]struct{}
}

func (m *attrMap) set(key string, value any, inherit bool) {
	if m.vals == nil {
		m.vals = make(map[string]any)
	}
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = value
	if inherit {
		if m.inheritable == nil {
			m.inheritable = make(map[string]struct{})
		}
		m.inheritable[key] = struct{}{}
	} else {
		// The flag follows the latest write: a plain overwrite stops the key
		// from propagating to descendants created afterwards.
		delete(m.inheritable, key)
	}
}

func (m *attrMap) get(key string) (any, bool) {
	v, ok := m.vals[key]
	return v, ok
}

func (m *attrMap) list() []Attr {
	out := make([]Attr, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, Attr{Key: k, Value: m.vals[k]})
	}
	return out
}

func (m *attrMap) inheritableList() []Attr {
	out := make([]Attr, 0, len(m.inheritable))
	for _, k := range m.keys {
		if _, ok := m.inheritable[k]; ok {
			out = append(out, Attr{Key: k, Value: m.vals[k]})
		}
	}
	return out
}

func (m *attrMap) clone() attrMap {
	cp := attrMap{}
	if m.vals != nil {
		cp.keys = make([]string, len(m.keys))
		copy(cp.keys, m.keys)
		cp.vals = make(map[string]any, len(m.vals))
		for k, v := range m.vals {
			cp.vals[k] = v
		}
	}
	if m.inheritable != nil {
		cp.inheritable = make(map[string]struct{}, len(m.inheritable))
		for k := range m.inheritable {
			cp.inheritable[k] = struct{}{}
		}
	}
	return cp
}
