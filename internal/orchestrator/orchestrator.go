// Package orchestrator turns a SendRequest into platform partitions, runs each
// partition through the batch dispatcher and merges the results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

const tracerName = "github.com/tinywideclouds/go-push-service/internal/orchestrator"

// SuccessPolicy decides the overall Success flag of a merged response.
type SuccessPolicy string

const (
	// PolicyStrict requires at least one delivery and zero failures.
	PolicyStrict SuccessPolicy = "strict"
	// PolicyAnySuccess requires at least one delivery.
	PolicyAnySuccess SuccessPolicy = "any"
)

func ParseSuccessPolicy(s string) (SuccessPolicy, error) {
	switch p := SuccessPolicy(s); p {
	case PolicyStrict, PolicyAnySuccess:
		return p, nil
	case "":
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown success policy %q (want %q or %q)", s, PolicyStrict, PolicyAnySuccess)
	}
}

func (p SuccessPolicy) succeeded(r *dispatch.BatchResult) bool {
	if p == PolicyAnySuccess {
		return r.Success > 0
	}
	return r.Success > 0 && r.Failed == 0
}

// BatchDispatcher runs a single-platform batch.
type BatchDispatcher interface {
	Dispatch(ctx context.Context, adapter dispatch.Adapter, tokens []string, payload *dispatch.Payload) (*dispatch.BatchResult, error)
}

type Orchestrator struct {
	adapters map[dispatch.Platform]dispatch.Adapter
	batches  BatchDispatcher
	store    dispatch.TokenStore
	policy   SuccessPolicy
	tracer   trace.Tracer
	logger   *slog.Logger
}

type Option func(*Orchestrator)

// WithTokenStore enables user-targeted sends.
func WithTokenStore(store dispatch.TokenStore) Option {
	return func(o *Orchestrator) { o.store = store }
}

func WithSuccessPolicy(p SuccessPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func New(adapters []dispatch.Adapter, batches BatchDispatcher, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapters: make(map[dispatch.Platform]dispatch.Adapter, len(adapters)),
		batches:  batches,
		policy:   PolicyStrict,
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With("component", "Orchestrator"),
	}
	for _, a := range adapters {
		o.adapters[a.Platform()] = a
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Status reports adapter availability for every concrete platform.
func (o *Orchestrator) Status() map[dispatch.Platform]bool {
	out := make(map[dispatch.Platform]bool, len(dispatch.ConcretePlatforms))
	for _, p := range dispatch.ConcretePlatforms {
		out[p] = o.available(p)
	}
	return out
}

func (o *Orchestrator) Policy() SuccessPolicy { return o.policy }

func (o *Orchestrator) available(p dispatch.Platform) bool {
	a, ok := o.adapters[p]
	return ok && a.Available()
}

// partition is one platform's share of a request.
type partition struct {
	platform dispatch.Platform
	tokens   []string
	result   *dispatch.BatchResult
	err      error
}

// Dispatch validates req, dispatches every partition concurrently and merges
// the outcomes. Validation and availability problems are returned as errors
// wrapping dispatch.ErrInvalidRequest or dispatch.ErrServiceUnavailable, and
// in both cases no attempt has been made.
//
// With dispatch.PlatformAll the full token list is offered to every available
// adapter; tokens of the wrong shape fail inside that adapter's partition.
// Unavailable adapters are skipped and noted in Response.Errors.
func (o *Orchestrator) Dispatch(ctx context.Context, req *dispatch.SendRequest) (*dispatch.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload, err := req.Payload()
	if err != nil {
		return nil, err
	}

	if req.Platform.Concrete() && !o.available(req.Platform) {
		return nil, dispatch.Unavailable(req.Platform)
	}
	if len(req.UserIDs) > 0 && o.store == nil {
		return nil, dispatch.Invalid("userIds are not supported without a token registry")
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.Dispatch", trace.WithAttributes(
		attribute.String("push.platform", req.Platform.String()),
		attribute.Int("push.tokens", len(req.Tokens)),
		attribute.Int("push.users", len(req.UserIDs)),
	))
	defer span.End()

	tokensByPlatform, err := o.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token resolution failed")
		return nil, err
	}

	var notes []string
	var parts []*partition
	for _, p := range dispatch.ConcretePlatforms {
		tokens, wanted := tokensByPlatform[p]
		if !wanted {
			continue
		}
		if !o.available(p) {
			notes = append(notes, fmt.Sprintf("%s push is not configured", p))
			continue
		}
		parts = append(parts, &partition{platform: p, tokens: tokens})
	}
	if len(parts) == 0 && len(notes) > 0 {
		return nil, fmt.Errorf("%w: no configured adapter for platform %s", dispatch.ErrServiceUnavailable, req.Platform)
	}

	var wg sync.WaitGroup
	for _, part := range parts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			part.result, part.err = o.batches.Dispatch(ctx, o.adapters[part.platform], part.tokens, payload)
		}()
	}
	wg.Wait()

	merged := dispatch.NewBatchResult()
	summaries := make(map[dispatch.Platform]dispatch.PlatformSummary, len(parts))
	for _, part := range parts {
		if part.err != nil {
			if !errors.Is(part.err, dispatch.ErrServiceUnavailable) {
				return nil, fmt.Errorf("dispatching %s partition: %w", part.platform, part.err)
			}
			notes = append(notes, part.err.Error())
			continue
		}
		merged.Merge(part.result)
		summaries[part.platform] = dispatch.PlatformSummary{Success: part.result.Success, Failed: part.result.Failed}
	}

	if len(req.UserIDs) > 0 && merged.Total() == 0 && len(req.Tokens) == 0 {
		notes = append(notes, "no registered tokens for the requested users")
	}

	resp := &dispatch.Response{
		Success:   o.policy.succeeded(merged),
		Message:   dispatch.SummaryMessage(merged.Success, merged.Failed),
		Results:   merged,
		Platforms: summaries,
		Errors:    notes,
	}

	span.SetAttributes(
		attribute.Int("push.success", merged.Success),
		attribute.Int("push.failed", merged.Failed),
		attribute.Bool("push.overall_success", resp.Success),
	)
	o.logger.Info("Dispatch complete",
		"platform", req.Platform,
		"success", merged.Success,
		"failed", merged.Failed,
		"overall", resp.Success,
		"policy", o.policy,
	)
	return resp, nil
}

// resolve maps the request onto per-platform token lists. Explicit tokens
// keep their order and duplicates; tokens resolved from users are appended
// once each.
func (o *Orchestrator) resolve(ctx context.Context, req *dispatch.SendRequest) (map[dispatch.Platform][]string, error) {
	out := make(map[dispatch.Platform][]string)
	if len(req.Tokens) > 0 {
		if req.Platform.Concrete() {
			out[req.Platform] = append([]string(nil), req.Tokens...)
		} else {
			for _, p := range dispatch.ConcretePlatforms {
				out[p] = append([]string(nil), req.Tokens...)
			}
		}
	}

	if len(req.UserIDs) == 0 {
		return out, nil
	}

	seen := make(map[dispatch.Platform]map[string]bool)
	for p, tokens := range out {
		seen[p] = make(map[string]bool, len(tokens))
		for _, t := range tokens {
			seen[p][t] = true
		}
	}
	for _, userID := range req.UserIDs {
		records, err := o.store.ListByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve tokens for user %s: %w", userID, err)
		}
		for _, rec := range records {
			if req.Platform.Concrete() && rec.Platform != req.Platform {
				continue
			}
			if seen[rec.Platform] == nil {
				seen[rec.Platform] = make(map[string]bool)
			}
			if seen[rec.Platform][rec.Token] {
				continue
			}
			seen[rec.Platform][rec.Token] = true
			out[rec.Platform] = append(out[rec.Platform], rec.Token)
		}
	}
	return out, nil
}
