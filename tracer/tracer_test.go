package tracer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

// recordingSink captures persisted records in call order.
type recordingSink struct {
	mu          sync.Mutex
	completed   []*Trace
	snapshots   []*Trace
	snapshotsOn bool
	failWith    error
}

func (r *recordingSink) Persist(tc *Trace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.completed = append(r.completed, tc)
	return nil
}

func (r *recordingSink) PersistSnapshot(tc *Trace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.snapshots = append(r.snapshots, tc)
	return nil
}

func (r *recordingSink) SnapshotsEnabled() bool {
	return r.snapshotsOn
}

func (r *recordingSink) records() []*Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Trace, len(r.completed))
	copy(out, r.completed)
	return out
}

func (r *recordingSink) snapshotRecords() []*Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Trace, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}

// plainSink implements Persist only, no optional capabilities.
type plainSink struct {
	mu        sync.Mutex
	completed []*Trace
}

func (p *plainSink) Persist(tc *Trace) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, tc)
	return nil
}

func (p *plainSink) records() []*Trace {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Trace, len(p.completed))
	copy(out, p.completed)
	return out
}

func TestTraceParentChildLinkage(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	err := tr.Trace(context.Background(), "parent", func(ctx context.Context, parent *Span) error {
		return tr.Trace(ctx, "child", func(ctx context.Context, child *Span) error {
			assert.Equal(t, parent.TraceID(), child.TraceID(), "child must share the parent's trace ID")
			assert.Equal(t, parent.SpanID(), child.ParentSpanID(), "child must reference the parent span")
			return nil
		})
	})
	require.NoError(t, err)

	records := sink.records()
	require.Len(t, records, 2)
	assert.Equal(t, "child", records[0].Name, "child must be persisted before its parent")
	assert.Equal(t, "parent", records[1].Name)
	assert.True(t, records[1].Root())
	assert.False(t, records[0].Root())
	assert.Equal(t, records[1].SpanID, records[0].ParentSpanID)
}

func TestRootSpansGetDistinctTraceIDs(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	for i := 0; i < 2; i++ {
		require.NoError(t, tr.Trace(context.Background(), "root", func(ctx context.Context, span *Span) error {
			return nil
		}))
	}

	records := sink.records()
	require.Len(t, records, 2)
	assert.NotEqual(t, records[0].TraceID, records[1].TraceID)
	assert.Len(t, records[0].TraceID, 32, "trace IDs are 128-bit hex")
	assert.Len(t, records[0].SpanID, 16, "span IDs are 64-bit hex")
}

func TestAttributeInheritance(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	err := tr.Trace(context.Background(), "parent", func(ctx context.Context, parent *Span) error {
		parent.SetInheritable(AttrConversationID, "c-1")
		parent.SetAttr("local", "parent-only")

		return tr.Trace(ctx, "child", func(ctx context.Context, child *Span) error {
			v, ok := child.Attr(AttrConversationID)
			require.True(t, ok, "child must inherit attributes set before its creation")
			assert.Equal(t, "c-1", v)

			_, ok = child.Attr("local")
			assert.False(t, ok, "non-inheritable attributes must not propagate")

			// Set after the child exists: not retroactive.
			parent.SetInheritable("late", "too-late")
			_, ok = child.Attr("late")
			assert.False(t, ok, "inheritance is evaluated at creation time")

			// But a new descendant sees it, from anywhere in the chain.
			return tr.Trace(ctx, "grandchild", func(ctx context.Context, grand *Span) error {
				v, ok := grand.Attr("late")
				require.True(t, ok, "new descendants inherit from the full ancestor chain")
				assert.Equal(t, "too-late", v)
				v, ok = grand.Attr(AttrConversationID)
				require.True(t, ok)
				assert.Equal(t, "c-1", v)
				return nil
			})
		})
	})
	require.NoError(t, err)
}

func TestNearestAncestorWins(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	err := tr.Trace(context.Background(), "outer", func(ctx context.Context, outer *Span) error {
		outer.SetInheritable("env", "outer")
		return tr.Trace(ctx, "inner", func(ctx context.Context, inner *Span) error {
			inner.SetInheritable("env", "inner")
			return tr.Trace(ctx, "leaf", func(ctx context.Context, leaf *Span) error {
				v, _ := leaf.Attr("env")
				assert.Equal(t, "inner", v, "the nearest ancestor's value must win")
				return nil
			})
		})
	})
	require.NoError(t, err)
}

func TestAttributeOverwriteKeepsOrder(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		span.SetAttr("a", 1)
		span.SetAttr("b", 2)
		span.SetAttr("a", 3)
		return nil
	}))

	records := sink.records()
	require.Len(t, records, 1)
	attrs := records[0].Attrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, Attr{Key: "a", Value: 3}, attrs[0], "overwrite keeps the original position")
	assert.Equal(t, Attr{Key: "b", Value: 2}, attrs[1])
}

func TestPlainOverwriteClearsInheritableFlag(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	err := tr.Trace(context.Background(), "parent", func(ctx context.Context, parent *Span) error {
		parent.SetInheritable("tenant", "acme")
		parent.SetAttr("tenant", "acme-internal")

		return tr.Trace(ctx, "child", func(ctx context.Context, child *Span) error {
			_, ok := child.Attr("tenant")
			assert.False(t, ok, "the flag follows the latest write; a plain overwrite stops propagation")
			return nil
		})
	})
	require.NoError(t, err)

	records := sink.records()
	require.Len(t, records, 2)
	v, ok := records[1].Attr("tenant")
	require.True(t, ok, "the parent keeps the overwritten value")
	assert.Equal(t, "acme-internal", v)

	// Re-flagging makes the key inheritable again for later descendants.
	err = tr.Trace(context.Background(), "parent", func(ctx context.Context, parent *Span) error {
		parent.SetAttr("tenant", "plain")
		parent.SetInheritable("tenant", "acme")
		return tr.Trace(ctx, "child", func(ctx context.Context, child *Span) error {
			v, ok := child.Attr("tenant")
			require.True(t, ok)
			assert.Equal(t, "acme", v)
			return nil
		})
	})
	require.NoError(t, err)
}

func TestTraceStatusOnError(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	sentinel := errors.New("step failed")
	err := tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel, "the caller's error must propagate unchanged")

	records := sink.records()
	require.Len(t, records, 1)
	assert.Equal(t, StatusError, records[0].Status)
	msg, ok := records[0].Attr(AttrError)
	require.True(t, ok)
	assert.Equal(t, "step failed", msg)
}

func TestTraceStatusOnPanic(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	assert.PanicsWithValue(t, "boom", func() {
		_ = tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
			panic("boom")
		})
	})

	records := sink.records()
	require.Len(t, records, 1, "the span must be finalized even when the scope panics")
	assert.Equal(t, StatusError, records[0].Status)
	assert.True(t, records[0].Ended())
}

func TestTraceCleanExitStatusOK(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		return nil
	}))

	records := sink.records()
	require.Len(t, records, 1)
	assert.Equal(t, StatusOK, records[0].Status)
}

func TestTraceExplicitStatusKept(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		span.SetStatus(StatusError)
		return nil
	}))

	records := sink.records()
	require.Len(t, records, 1)
	assert.Equal(t, StatusError, records[0].Status, "an explicitly set status must not be overridden")
}

func TestFromContext(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveSpan)

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		current, err := FromContext(ctx)
		require.NoError(t, err)
		assert.Same(t, span, current)
		return nil
	}))
}

func TestEndIdempotent(t *testing.T) {
	sink := &recordingSink{}
	clock := clockz.NewFakeClock()
	tr := New(sink, WithClock(clock))

	_, span := tr.StartSpan(context.Background(), "op")
	clock.Advance(50 * time.Millisecond)
	span.End()
	first := sink.records()[0].EndedAt

	clock.Advance(time.Second)
	span.End()
	span.SetAttr("after", true)

	records := sink.records()
	require.Len(t, records, 1, "a span is persisted as completed at most once")
	assert.Equal(t, first, records[0].EndedAt, "EndedAt is set exactly once")
	_, ok := records[0].Attr("after")
	assert.False(t, ok, "attribute writes after End are dropped")
}

func TestSpanTiming(t *testing.T) {
	sink := &recordingSink{}
	clock := clockz.NewFakeClock()
	tr := New(sink, WithClock(clock))

	_, span := tr.StartSpan(context.Background(), "op")
	clock.Advance(120 * time.Millisecond)
	span.End()

	records := sink.records()
	require.Len(t, records, 1)
	assert.Equal(t, 120*time.Millisecond, records[0].Duration())
	assert.False(t, records[0].EndedAt.Before(records[0].StartedAt))
}

func TestSnapshotDelivery(t *testing.T) {
	sink := &recordingSink{snapshotsOn: true}
	tr := New(sink)
	require.True(t, tr.SnapshotsEnabled())

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		span.SetAttr("step", 1)
		span.Snapshot()
		span.SetAttr("step", 2)
		span.Snapshot()
		return nil
	}))

	snaps := sink.snapshotRecords()
	require.Len(t, snaps, 2)
	assert.False(t, snaps[0].Ended(), "snapshots carry no end time")
	v, _ := snaps[0].Attr("step")
	assert.Equal(t, 1, v, "snapshots are point-in-time copies")
	v, _ = snaps[1].Attr("step")
	assert.Equal(t, 2, v)

	records := sink.records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Ended())
}

func TestSnapshotNoopWithoutCapability(t *testing.T) {
	sink := &plainSink{}
	tr := New(sink)
	assert.False(t, tr.SnapshotsEnabled())

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		span.Snapshot()
		return nil
	}))
	require.Len(t, sink.records(), 1, "the completed record still arrives")
}

func TestSnapshotAfterEndIsNoop(t *testing.T) {
	sink := &recordingSink{snapshotsOn: true}
	tr := New(sink)

	_, span := tr.StartSpan(context.Background(), "op")
	span.End()
	span.Snapshot()
	assert.Empty(t, sink.snapshotRecords())
}

func TestSetResource(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)
	tr.SetResource(NewResource(Attr{Key: "service.name", Value: "agent"}))

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		return nil
	}))

	tr.SetResource(NewResource(Attr{Key: "service.name", Value: "agent-v2"}))
	require.NoError(t, tr.Trace(context.Background(), "op2", func(ctx context.Context, span *Span) error {
		return nil
	}))

	records := sink.records()
	require.Len(t, records, 2)
	v, ok := records[0].Resource.Attr("service.name")
	require.True(t, ok)
	assert.Equal(t, "agent", v, "already-created spans keep the resource they were created with")
	v, _ = records[1].Resource.Attr("service.name")
	assert.Equal(t, "agent-v2", v)
}

func TestBackendFailureDoesNotFaultScope(t *testing.T) {
	sink := &recordingSink{failWith: errors.New("backend down")}
	tr := New(sink)

	err := tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		return nil
	})
	assert.NoError(t, err, "a backend failure must not fault the traced scope")
}

func TestConcurrentTreesDoNotCross(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink)

	const goroutines = 16
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			_ = tr.Trace(context.Background(), fmt.Sprintf("root-%d", g), func(ctx context.Context, root *Span) error {
				return tr.Trace(ctx, fmt.Sprintf("leaf-%d", g), func(ctx context.Context, leaf *Span) error {
					assert.Equal(t, root.TraceID(), leaf.TraceID())
					assert.Equal(t, root.SpanID(), leaf.ParentSpanID())
					return nil
				})
			})
		}(g)
	}
	wg.Wait()

	records := sink.records()
	require.Len(t, records, 2*goroutines)

	trees := make(map[string][]*Trace)
	for _, tc := range records {
		trees[tc.TraceID] = append(trees[tc.TraceID], tc)
	}
	require.Len(t, trees, goroutines, "each goroutine must build its own tree")
	for _, spans := range trees {
		require.Len(t, spans, 2)
	}
}
