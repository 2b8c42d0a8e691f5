// Package otlphttp exports completed spans to an OTLP/HTTP collector, one
// protobuf-encoded export request per record.
package otlphttp

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/deepaksharma/agenttrace/tracer"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
)

// Exporter ships completed spans to a collector over OTLP/HTTP. It does not
// accept snapshots: open-span records have no place in the OTLP trace model.
type Exporter struct {
	cfg    Config
	client *resty.Client
	logger *zap.Logger

	exported atomic.Int64
	failed   atomic.Int64
}

var _ tracer.Persister = (*Exporter)(nil)

// New creates an exporter from the given configuration.
func New(cfg Config, logger *zap.Logger) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid otlphttp config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.endpoint()).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Content-Type", "application/x-protobuf").
		SetHeaders(cfg.Headers)

	return &Exporter{cfg: cfg, client: client, logger: logger}, nil
}

// Persist encodes the completed record as an OTLP export request and posts it
// to the collector's traces endpoint.
func (e *Exporter) Persist(tc *tracer.Trace) error {
	req := ptraceotlp.NewExportRequestFromTraces(toTraces(tc))
	body, err := req.MarshalProto()
	if err != nil {
		e.failed.Inc()
		return fmt.Errorf("failed to encode export request: %w", err)
	}

	resp, err := e.client.R().SetBody(body).Post(tracesPath)
	if err != nil {
		e.failed.Inc()
		return fmt.Errorf("failed to export span: %w", err)
	}
	if !resp.IsSuccess() {
		e.failed.Inc()
		return fmt.Errorf("collector rejected export: %s", resp.Status())
	}

	e.exported.Inc()
	e.logger.Debug("span exported",
		zap.String("trace_id", tc.TraceID),
		zap.String("span_id", tc.SpanID),
		zap.String("span_name", tc.Name))
	return nil
}

// Exported returns the number of successfully exported spans.
func (e *Exporter) Exported() int64 {
	return e.exported.Load()
}

// Failed returns the number of failed export attempts.
func (e *Exporter) Failed() int64 {
	return e.failed.Load()
}
