// Package tracefn wraps plain functions so every call runs inside a span,
// without touching the function body.
package tracefn

import (
	"context"
	"reflect"
	"runtime"
	"strings"

	"github.com/deepaksharma/agenttrace/tracer"
)

// TracerHolder lets a value carry its own tracer, so wrapped methods pick it
// up from their receiver-like first argument instead of a package global.
type TracerHolder interface {
	Tracer() *tracer.Tracer
}

// Fn is the shape tracefn wraps: one input, one output, an error.
type Fn[In, Out any] func(ctx context.Context, in In) (Out, error)

// Option configures a wrapped function.
type Option func(*settings)

type settings struct {
	name  string
	kind  tracer.SpanKind
	attrs []tracer.Attr
}

// WithName overrides the span name; the default is derived from the wrapped
// function's symbol name.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithKind sets the span kind for every call of the wrapped function.
func WithKind(kind tracer.SpanKind) Option {
	return func(s *settings) { s.kind = kind }
}

// WithAttrs adds fixed attributes to every span the wrapper opens.
func WithAttrs(attrs ...tracer.Attr) Option {
	return func(s *settings) { s.attrs = append(s.attrs, attrs...) }
}

// Traced wraps fn so each call runs inside a span on tr. The span joins the
// caller's trace through ctx, fails on error or panic, and otherwise closes
// StatusOK.
func Traced[In, Out any](tr *tracer.Tracer, fn Fn[In, Out], opts ...Option) Fn[In, Out] {
	s := settings{name: funcName(fn), kind: tracer.KindInternal}
	for _, opt := range opts {
		opt(&s)
	}

	return func(ctx context.Context, in In) (out Out, err error) {
		err = tr.Trace(ctx, s.name, func(ctx context.Context, span *tracer.Span) error {
			var innerErr error
			out, innerErr = fn(ctx, in)
			return innerErr
		}, tracer.WithKind(s.kind), tracer.WithAttrs(s.attrs...))
		return out, err
	}
}

// TracedSelf wraps fn, resolving the tracer per call from the input when it
// implements TracerHolder. Calls whose input carries no tracer run fn
// untraced.
func TracedSelf[In, Out any](fn Fn[In, Out], opts ...Option) Fn[In, Out] {
	s := settings{name: funcName(fn), kind: tracer.KindInternal}
	for _, opt := range opts {
		opt(&s)
	}

	return func(ctx context.Context, in In) (out Out, err error) {
		holder, ok := any(in).(TracerHolder)
		if !ok || holder.Tracer() == nil {
			return fn(ctx, in)
		}
		err = holder.Tracer().Trace(ctx, s.name, func(ctx context.Context, span *tracer.Span) error {
			var innerErr error
			out, innerErr = fn(ctx, in)
			return innerErr
		}, tracer.WithKind(s.kind), tracer.WithAttrs(s.attrs...))
		return out, err
	}
}

// funcName derives a short span name from the function symbol, e.g.
// "github.com/acme/agent.(*Planner).Plan-fm" becomes "Planner.Plan".
func funcName(fn any) string {
	pc := reflect.ValueOf(fn).Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "anonymous"
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	name = strings.NewReplacer("(", "", ")", "", "*", "").Replace(name)
	if name == "" {
		return "anonymous"
	}
	return name
}
