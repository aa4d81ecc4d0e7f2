package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// Dispatcher is the orchestrator entry point the processor drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.SendRequest) (*dispatch.Response, error)
}

// NewProcessor runs each decoded request through the orchestrator.
//
// Requests that are invalid or target an unconfigured platform will never
// succeed on redelivery, so they are logged and acknowledged. Any other
// error is returned and the message is redelivered.
func NewProcessor(dispatcher Dispatcher, logger *slog.Logger) messagepipeline.StreamProcessor[dispatch.SendRequest] {
	return func(ctx context.Context, original messagepipeline.Message, req *dispatch.SendRequest) error {
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"platform", req.Platform,
		)

		resp, err := dispatcher.Dispatch(ctx, req)
		switch {
		case errors.Is(err, dispatch.ErrInvalidRequest):
			procLogger.Warn("Dropping invalid send request", "err", err)
			return nil
		case errors.Is(err, dispatch.ErrServiceUnavailable):
			procLogger.Warn("Dropping send request for unconfigured platform", "err", err)
			return nil
		case err != nil:
			procLogger.Error("Dispatch failed", "err", err)
			return err
		}

		procLogger.Info("Send request dispatched",
			"success", resp.Results.Success,
			"failed", resp.Results.Failed,
			"overall", resp.Success,
		)
		if permanent := resp.Results.PermanentTokens(); len(permanent) > 0 {
			procLogger.Info("Permanently failed tokens reported", "count", len(permanent))
		}
		return nil
	}
}
