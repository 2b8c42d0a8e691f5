package tracer

import "context"

// spanKeyType is a private context key type to avoid collisions.
type spanKeyType struct{}

var spanKey spanKeyType

// ContextWithSpan returns a context carrying the given span as the current
// one. Child spans started from the returned context will use it as parent.
//
// Each execution path owns its own context chain, so concurrently built trace
// trees never share mutable stack state.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanKey, span)
}

// FromContext returns the current span for this execution path, or
// ErrNoActiveSpan when called outside any open span.
func FromContext(ctx context.Context) (*Span, error) {
	if span := spanFromContext(ctx); span != nil {
		return span, nil
	}
	return nil, ErrNoActiveSpan
}

func spanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	if span, ok := ctx.Value(spanKey).(*Span); ok {
		return span
	}
	return nil
}
