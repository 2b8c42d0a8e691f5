// Package tracer instruments multi-step, long-running agent executions with
// hierarchical spans, independent of where the spans end up being stored.
//
// A Tracer manages span lifecycle and hands completed records to a single
// Persister backend. Nesting is carried through context.Context, so
// concurrently built trace trees never share mutable state:
//
//	store := tracer.NewMemoryStore(100, logger)
//	tr := tracer.New(store, tracer.WithLogger(logger))
//
//	err := tr.Trace(ctx, "handle-request", func(ctx context.Context, span *tracer.Span) error {
//		span.SetInheritable(tracer.AttrConversationID, convID)
//		return step(ctx, tr)
//	}, tracer.WithKind(tracer.KindServer))
//
// Backends extend the core by implementing Persister; optional capabilities
// (SnapshotPersister, Retriever) are advertised through narrow interfaces
// and dispatched on by the Tee composite.
package tracer
