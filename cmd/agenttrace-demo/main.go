// Command agenttrace-demo runs a small scripted agent workflow and fans its
// spans out to every bundled backend: in-memory buffer, bolt store, OTLP/HTTP
// exporter, structured logs and a live console stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/deepaksharma/agenttrace/tracer"
	"github.com/deepaksharma/agenttrace/tracer/boltstore"
	"github.com/deepaksharma/agenttrace/tracer/otlphttp"
	"github.com/deepaksharma/agenttrace/tracer/pretty"
	"github.com/deepaksharma/agenttrace/tracer/zaplog"
)

// config is read from the environment with the AGENTTRACE prefix, e.g.
// AGENTTRACE_DB_PATH or AGENTTRACE_OTLP_ENDPOINT.
type config struct {
	DBPath        string        `envconfig:"DB_PATH" default:"agenttrace.db"`
	OTLPEndpoint  string        `envconfig:"OTLP_ENDPOINT"`
	OTLPTimeout   time.Duration `envconfig:"OTLP_TIMEOUT" default:"5s"`
	MemorySize    int           `envconfig:"MEMORY_SIZE" default:"100"`
	Verbose       bool          `envconfig:"VERBOSE" default:"false"`
	Colors        bool          `envconfig:"COLORS" default:"true"`
	ServiceName   string        `envconfig:"SERVICE_NAME" default:"agenttrace-demo"`
	SnapshotEvery time.Duration `envconfig:"SNAPSHOT_EVERY" default:"200ms"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agenttrace-demo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := envconfig.Process("AGENTTRACE", &cfg); err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	var logger *zap.Logger
	var err error
	if cfg.Verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	store, err := boltstore.Open(boltstore.Config{
		Path:             cfg.DBPath,
		SnapshotsEnabled: true,
		Retention:        24 * time.Hour,
	}, logger.Named("boltstore"))
	if err != nil {
		return err
	}
	defer store.Close()

	memory := tracer.NewMemoryStore(cfg.MemorySize, logger.Named("memory"))
	logs := zaplog.New(logger.Named("spans"))
	stream := tracer.NewStream(logger.Named("stream"))

	tee := tracer.NewTee(logger.Named("tee"), memory, store, logs, stream)
	if cfg.OTLPEndpoint != "" {
		exporter, err := otlphttp.New(otlphttp.Config{
			Endpoint:   cfg.OTLPEndpoint,
			Timeout:    cfg.OTLPTimeout,
			RetryCount: 2,
		}, logger.Named("otlphttp"))
		if err != nil {
			return err
		}
		tee.AddTracer(exporter)
	}

	// The console view consumes the live stream rather than joining the tee,
	// so rendering never delays span finalization.
	printer := pretty.New(os.Stdout).WithColors(cfg.Colors).WithIDs(false)
	var consumer sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		for tc := range stream.C() {
			if !tc.Ended() {
				continue
			}
			if err := printer.Persist(tc); err != nil {
				logger.Warn("console rendering failed", zap.Error(err))
			}
		}
	}()

	tr := tracer.New(tee,
		tracer.WithLogger(logger.Named("tracer")),
		tracer.WithResource(tracer.NewResource(
			tracer.Attr{Key: "service.name", Value: cfg.ServiceName},
			tracer.Attr{Key: "service.version", Value: tracer.Version},
		)))

	if err := runConversation(tr, cfg.SnapshotEvery); err != nil {
		logger.Warn("conversation finished with errors", zap.Error(err))
	}

	stream.Shutdown()
	consumer.Wait()

	traces, err := memory.Traces(nil)
	if err != nil {
		return err
	}
	logger.Info("demo finished",
		zap.Int("spans", len(traces)),
		zap.Int64("pruned", store.Pruned()),
		zap.String("db_path", cfg.DBPath))
	return nil
}

// runConversation plays a two-turn agent conversation: a planning step, two
// tool calls (one slow and snapshotted, one failing) and a final answer.
func runConversation(tr *tracer.Tracer, snapshotEvery time.Duration) error {
	ctx := context.Background()
	convID := tracer.NewConversationID()

	return tr.Trace(ctx, "conversation", func(ctx context.Context, span *tracer.Span) error {
		span.SetInheritable(tracer.AttrConversationID, convID)

		err := tr.Trace(ctx, "plan", func(ctx context.Context, span *tracer.Span) error {
			span.SetAttr(tracer.AttrToolInput, "how many Go files are in this repo?")
			time.Sleep(30 * time.Millisecond)
			span.SetAttr(tracer.AttrToolOutput, "count files, then answer")
			return nil
		})
		if err != nil {
			return err
		}

		err = tr.Trace(ctx, "count-files", func(ctx context.Context, span *tracer.Span) error {
			span.SetAttr(tracer.AttrToolInput, "**/*.go")
			for i := 1; i <= 3; i++ {
				time.Sleep(snapshotEvery)
				span.SetAttr("files_seen", i*40)
				span.Snapshot()
			}
			span.SetAttr(tracer.AttrToolOutput, "120 files")
			return nil
		}, tracer.WithKind(tracer.KindClient))
		if err != nil {
			return err
		}

		err = tr.Trace(ctx, "fetch-docs", func(ctx context.Context, span *tracer.Span) error {
			span.SetAttr(tracer.AttrToolInput, "https://example.invalid/docs")
			return errors.New("host unreachable")
		}, tracer.WithKind(tracer.KindClient))
		// The failed fetch is recorded on its own span; the conversation
		// continues without it.
		_ = err

		return tr.Trace(ctx, "answer", func(ctx context.Context, span *tracer.Span) error {
			span.SetAttr(tracer.AttrToolOutput, "the repository contains 120 Go files")
			return nil
		})
	}, tracer.WithKind(tracer.KindServer))
}
