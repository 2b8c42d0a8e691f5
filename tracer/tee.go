package tracer

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Tee replicates the span stream to an ordered set of sub-tracers. Completed
// records go to every member; snapshots only to members that advertise
// snapshot capability; retrieval is delegated to the first member that
// supports it.
//
// A failing or panicking member never prevents delivery to the remaining
// members: failures are collected, logged and returned aggregated.
type Tee struct {
	logger *zap.Logger

	mu             sync.RWMutex
	subs           []Persister
	forceSnapshots bool
}

var (
	_ SnapshotPersister = (*Tee)(nil)
	_ Retriever         = (*Tee)(nil)
)

// NewTee creates a tee over the given sub-tracers, in order.
func NewTee(logger *zap.Logger, subs ...Persister) *Tee {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tee{logger: logger}
	t.subs = append(t.subs, subs...)
	return t
}

// AddTracer appends a sub-tracer. Chainable.
func (t *Tee) AddTracer(sub Persister) *Tee {
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return t
}

// ForceSnapshots makes the tee advertise snapshot capability regardless of
// its members. Forwarding still reaches only snapshot-capable members.
func (t *Tee) ForceSnapshots(force bool) *Tee {
	t.mu.Lock()
	t.forceSnapshots = force
	t.mu.Unlock()
	return t
}

// Persist delivers the completed record to every sub-tracer in registration
// order. Per-member failures are isolated and aggregated.
func (t *Tee) Persist(tc *Trace) error {
	var merr *multierror.Error
	for i, sub := range t.subTracers() {
		if err := safePersist(sub, tc); err != nil {
			t.logger.Error("tee sub-tracer persist failed",
				zap.Int("sub_tracer", i),
				zap.String("trace_id", tc.TraceID),
				zap.String("span_id", tc.SpanID),
				zap.Error(err))
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// PersistSnapshot delivers the snapshot to every snapshot-capable sub-tracer
// in registration order.
func (t *Tee) PersistSnapshot(tc *Trace) error {
	var merr *multierror.Error
	for i, sub := range t.subTracers() {
		sp, ok := sub.(SnapshotPersister)
		if !ok || !sp.SnapshotsEnabled() {
			continue
		}
		if err := safePersistSnapshot(sp, tc); err != nil {
			t.logger.Error("tee sub-tracer snapshot failed",
				zap.Int("sub_tracer", i),
				zap.String("trace_id", tc.TraceID),
				zap.String("span_id", tc.SpanID),
				zap.Error(err))
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// SnapshotsEnabled reports whether any member accepts snapshots, or true
// when force-enabled.
func (t *Tee) SnapshotsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.forceSnapshots {
		return true
	}
	for _, sub := range t.subs {
		if sp, ok := sub.(SnapshotPersister); ok && sp.SnapshotsEnabled() {
			return true
		}
	}
	return false
}

// Traces delegates retrieval to the first registered sub-tracer that
// implements it.
func (t *Tee) Traces(filter Filter) ([]*Trace, error) {
	for _, sub := range t.subTracers() {
		if r, ok := sub.(Retriever); ok {
			return r.Traces(filter)
		}
	}
	return nil, ErrRetrievalUnsupported
}

func (t *Tee) subTracers() []Persister {
	t.mu.RLock()
	defer t.mu.RUnlock()
	subs := make([]Persister, len(t.subs))
	copy(subs, t.subs)
	return subs
}

// safePersist shields the tee from a panicking member.
func safePersist(p Persister, tc *Trace) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("persist panicked: %v", r)
		}
	}()
	return p.Persist(tc)
}

func safePersistSnapshot(p SnapshotPersister, tc *Trace) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("persist snapshot panicked: %v", r)
		}
	}()
	return p.PersistSnapshot(tc)
}
