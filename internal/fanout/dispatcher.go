// Package fanout runs one platform-homogeneous batch of delivery attempts
// concurrently and folds the outcomes into a BatchResult.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

const tracerName = "github.com/tinywideclouds/go-push-service/internal/fanout"

// Recorder receives per-attempt and per-batch observations.
type Recorder interface {
	ObserveAttempt(platform dispatch.Platform, outcome dispatch.Outcome)
	ObserveBatch(platform dispatch.Platform, size int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(dispatch.Platform, dispatch.Outcome) {}
func (nopRecorder) ObserveBatch(dispatch.Platform, int, time.Duration) {}

type Dispatcher struct {
	recorder Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
}

type Option func(*Dispatcher)

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With("component", "BatchDispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch issues one Attempt per token, all at once, and returns only after
// every attempt has settled. A failing or panicking attempt never affects its
// siblings. All tokens must belong to adapter's platform.
//
// An unavailable adapter is rejected with dispatch.ErrServiceUnavailable
// before any attempt is made. Cancellation is the caller's concern: ctx is
// handed to every attempt unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, adapter dispatch.Adapter, tokens []string, payload *dispatch.Payload) (*dispatch.BatchResult, error) {
	platform := adapter.Platform()
	if !adapter.Available() {
		return nil, dispatch.Unavailable(platform)
	}

	result := dispatch.NewBatchResult()
	if len(tokens) == 0 {
		return result, nil
	}

	ctx, span := d.tracer.Start(ctx, "fanout.Dispatch", trace.WithAttributes(
		attribute.String("push.platform", platform.String()),
		attribute.Int("push.recipients", len(tokens)),
	))
	defer span.End()

	start := time.Now()

	// Each goroutine owns exactly one slot.
	outcomes := make([]dispatch.Outcome, len(tokens))
	var wg sync.WaitGroup
	wg.Add(len(tokens))
	for i, token := range tokens {
		go func() {
			defer wg.Done()
			outcomes[i] = d.attempt(ctx, adapter, token, payload)
		}()
	}
	wg.Wait()

	for i, outcome := range outcomes {
		result.Record(tokens[i], outcome)
		d.recorder.ObserveAttempt(platform, outcome)
	}

	elapsed := time.Since(start)
	d.recorder.ObserveBatch(platform, len(tokens), elapsed)
	span.SetAttributes(
		attribute.Int("push.success", result.Success),
		attribute.Int("push.failed", result.Failed),
	)
	d.logger.Debug("Batch settled",
		"platform", platform,
		"recipients", len(tokens),
		"success", result.Success,
		"failed", result.Failed,
		"elapsed", elapsed,
	)
	return result, nil
}

// attempt converts a panic inside the adapter into a transient failure for
// that recipient only.
func (d *Dispatcher) attempt(ctx context.Context, adapter dispatch.Adapter, token string, payload *dispatch.Payload) (outcome dispatch.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Adapter panicked during attempt", "platform", adapter.Platform(), "panic", r)
			outcome = dispatch.Failed(fmt.Sprintf("internal error: %v", r), false)
		}
	}()
	return adapter.Attempt(ctx, token, payload)
}
