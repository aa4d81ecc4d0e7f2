// Package pushservice assembles the push dispatch service on top of the
// shared microservice base server.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/internal/fanout"
	"github.com/tinywideclouds/go-push-service/internal/observability/metrics"
	"github.com/tinywideclouds/go-push-service/internal/orchestrator"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	orchestrator    *orchestrator.Orchestrator
	pipelineService *messagepipeline.StreamingService[dispatch.SendRequest]
	logger          *slog.Logger
}

// New assembles the service. consumer may be nil, in which case only the
// HTTP surface runs. authMiddleware may be nil for unauthenticated routes.
func New(
	cfg *config.Config,
	adapters []dispatch.Adapter,
	webKeys api.KeySource,
	tokenStore dispatch.TokenStore,
	consumer messagepipeline.MessageConsumer,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Dispatch core
	collector := metrics.NewCollector()
	batches := fanout.NewDispatcher(logger, fanout.WithRecorder(collector))
	orch := orchestrator.New(adapters, batches, logger,
		orchestrator.WithTokenStore(tokenStore),
		orchestrator.WithSuccessPolicy(cfg.SuccessPolicy),
	)

	// 3. Optional ingestion pipeline
	var streamingService *messagepipeline.StreamingService[dispatch.SendRequest]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.Ingestion.NumPipelineWorkers},
			consumer,
			pipeline.SendRequestTransformer,
			pipeline.NewProcessor(orch, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 4. HTTP surface
	pushAPI := api.NewPushAPI(orch, webKeys, cfg.Production(), logger)
	tokenAPI := api.NewTokenAPI(tokenStore, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	if authMiddleware == nil {
		authMiddleware = func(h http.Handler) http.Handler { return h }
	}

	api.RegisterRoutes(mux, pushAPI, tokenAPI, func(h http.Handler) http.Handler {
		return corsMiddleware(authMiddleware(h))
	})
	mux.Handle("GET "+api.Prefix+"/metrics", collector.Handler())

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS "+api.Prefix+"/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	logger.Info("Push service assembled",
		"status", orch.Status(),
		"policy", orch.Policy(),
		"ingestion", streamingService != nil,
	)

	return &Wrapper{
		BaseServer:      baseServer,
		orchestrator:    orch,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Orchestrator() *orchestrator.Orchestrator {
	return w.orchestrator
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
