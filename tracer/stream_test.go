package tracer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func collectAll(s *Stream) []*Trace {
	var out []*Trace
	for tc := range s.C() {
		out = append(out, tc)
	}
	return out
}

func TestStreamDeliversAllThenTerminates(t *testing.T) {
	stream := NewStream(zap.NewNop())
	tr := New(stream)

	const n = 5
	persistN(t, tr, n)
	stream.Shutdown()

	records := collectAll(stream)
	require.Len(t, records, n, "shutdown must not drop records enqueued before it")
	for i, tc := range records {
		assert.Equal(t, fmt.Sprintf("op-%d", i), tc.Name, "delivery preserves persistence order")
	}
}

func TestStreamShutdownBeforeConsumption(t *testing.T) {
	stream := NewStream(zap.NewNop())
	tr := New(stream)

	persistN(t, tr, 3)
	stream.Shutdown()
	stream.Shutdown() // idempotent

	assert.Len(t, collectAll(stream), 3)
}

func TestStreamRejectsAfterShutdown(t *testing.T) {
	stream := NewStream(zap.NewNop())
	stream.Shutdown()

	err := stream.Persist(&Trace{TraceID: "t", SpanID: "s"})
	assert.ErrorIs(t, err, ErrStreamClosed)
	err = stream.PersistSnapshot(&Trace{TraceID: "t", SpanID: "s"})
	assert.ErrorIs(t, err, ErrStreamClosed)

	assert.Empty(t, collectAll(stream))
}

func TestStreamBlocksUntilRecordArrives(t *testing.T) {
	stream := NewStream(zap.NewNop())
	tr := New(stream)

	got := make(chan *Trace, 1)
	go func() {
		got <- <-stream.C()
	}()

	// Give the consumer a moment to park on the empty queue.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Trace(context.Background(), "late", func(ctx context.Context, span *Span) error {
		return nil
	}))

	select {
	case tc := <-got:
		assert.Equal(t, "late", tc.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked consumer was not woken by a new record")
	}
	stream.Shutdown()
}

func TestStreamCarriesSnapshotsBeforeCompletion(t *testing.T) {
	stream := NewStream(zap.NewNop())
	tr := New(stream)
	require.True(t, stream.SnapshotsEnabled())

	require.NoError(t, tr.Trace(context.Background(), "op", func(ctx context.Context, span *Span) error {
		span.SetAttr("phase", "thinking")
		span.Snapshot()
		span.SetAttr("phase", "done")
		return nil
	}))
	stream.Shutdown()

	records := collectAll(stream)
	require.Len(t, records, 2)
	assert.False(t, records[0].Ended(), "the snapshot precedes the completed record")
	v, _ := records[0].Attr("phase")
	assert.Equal(t, "thinking", v)
	assert.True(t, records[1].Ended())
	v, _ = records[1].Attr("phase")
	assert.Equal(t, "done", v)
}

func TestStreamConcurrentProducers(t *testing.T) {
	stream := NewStream(zap.NewNop())
	tr := New(stream)

	const producers = 8
	const perProducer = 20

	done := make(chan []*Trace)
	go func() { done <- collectAll(stream) }()

	var wg = make(chan struct{}, producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			for i := 0; i < perProducer; i++ {
				_ = tr.Trace(context.Background(), fmt.Sprintf("op-%d-%d", p, i), func(ctx context.Context, span *Span) error {
					return nil
				})
			}
			wg <- struct{}{}
		}(p)
	}
	for p := 0; p < producers; p++ {
		<-wg
	}
	stream.Shutdown()

	records := <-done
	assert.Len(t, records, producers*perProducer, "every record from every producer must be delivered")
}
