package otlphttp

import (
	"encoding/hex"
	"fmt"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/deepaksharma/agenttrace/tracer"
)

// toTraces maps one completed record onto the OTLP data model. Records from
// one batch could share resource and scope entries; exports here are
// per-span, so each carries its own.
func toTraces(tc *tracer.Trace) ptrace.Traces {
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	for _, a := range tc.Resource.Attrs() {
		setAttributeValue(rs.Resource().Attributes(), a.Key, a.Value)
	}

	ss := rs.ScopeSpans().AppendEmpty()
	ss.Scope().SetName(tc.Scope.Name)
	ss.Scope().SetVersion(tc.Scope.Version)

	span := ss.Spans().AppendEmpty()
	span.SetTraceID(toTraceID(tc.TraceID))
	span.SetSpanID(toSpanID(tc.SpanID))
	if tc.ParentSpanID != "" {
		span.SetParentSpanID(toSpanID(tc.ParentSpanID))
	}
	span.SetName(tc.Name)
	span.SetKind(toSpanKind(tc.Kind))
	span.SetStartTimestamp(pcommon.NewTimestampFromTime(tc.StartedAt))
	if tc.Ended() {
		span.SetEndTimestamp(pcommon.NewTimestampFromTime(tc.EndedAt))
	}
	span.Status().SetCode(toStatusCode(tc.Status))
	if tc.Status == tracer.StatusError {
		if msg, ok := tc.Attr(tracer.AttrError); ok {
			span.Status().SetMessage(fmt.Sprint(msg))
		}
	}
	for _, a := range tc.Attrs() {
		setAttributeValue(span.Attributes(), a.Key, a.Value)
	}
	return td
}

func toTraceID(id string) pcommon.TraceID {
	var out [16]byte
	decoded, err := hex.DecodeString(id)
	if err != nil || len(decoded) != len(out) {
		return pcommon.NewTraceIDEmpty()
	}
	copy(out[:], decoded)
	return pcommon.TraceID(out)
}

func toSpanID(id string) pcommon.SpanID {
	var out [8]byte
	decoded, err := hex.DecodeString(id)
	if err != nil || len(decoded) != len(out) {
		return pcommon.NewSpanIDEmpty()
	}
	copy(out[:], decoded)
	return pcommon.SpanID(out)
}

func toSpanKind(kind tracer.SpanKind) ptrace.SpanKind {
	switch kind {
	case tracer.KindServer:
		return ptrace.SpanKindServer
	case tracer.KindClient:
		return ptrace.SpanKindClient
	case tracer.KindProducer:
		return ptrace.SpanKindProducer
	case tracer.KindConsumer:
		return ptrace.SpanKindConsumer
	default:
		return ptrace.SpanKindInternal
	}
}

func toStatusCode(status tracer.SpanStatus) ptrace.StatusCode {
	switch status {
	case tracer.StatusOK:
		return ptrace.StatusCodeOk
	case tracer.StatusError:
		return ptrace.StatusCodeError
	default:
		return ptrace.StatusCodeUnset
	}
}

func setAttributeValue(attrs pcommon.Map, key string, value any) {
	switch v := value.(type) {
	case string:
		attrs.PutStr(key, v)
	case bool:
		attrs.PutBool(key, v)
	case int:
		attrs.PutInt(key, int64(v))
	case int32:
		attrs.PutInt(key, int64(v))
	case int64:
		attrs.PutInt(key, v)
	case float32:
		attrs.PutDouble(key, float64(v))
	case float64:
		attrs.PutDouble(key, v)
	case []byte:
		attrs.PutEmptyBytes(key).FromRaw(v)
	default:
		attrs.PutStr(key, fmt.Sprint(v))
	}
}
