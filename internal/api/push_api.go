package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// Sender is the orchestrator as seen by the HTTP layer.
type Sender interface {
	Dispatch(ctx context.Context, req *dispatch.SendRequest) (*dispatch.Response, error)
	Status() map[dispatch.Platform]bool
}

// KeySource exposes the VAPID public key browsers subscribe with.
type KeySource interface {
	Available() bool
	PublicKey() string
}

type PushAPI struct {
	Sender     Sender
	Keys       KeySource
	Production bool
	Logger     *slog.Logger
}

func NewPushAPI(sender Sender, keys KeySource, production bool, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Sender:     sender,
		Keys:       keys,
		Production: production,
		Logger:     logger.With("component", "PushAPI"),
	}
}

// Status reports adapter availability as a flat platform map.
func (api *PushAPI) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.Sender.Status())
}

type publicKeyResponse struct {
	Success   bool   `json:"success"`
	PublicKey string `json:"publicKey"`
}

func (api *PushAPI) PublicKey(w http.ResponseWriter, _ *http.Request) {
	if api.Keys == nil || !api.Keys.Available() {
		response.WriteJSONError(w, http.StatusServiceUnavailable, "Web push service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, publicKeyResponse{Success: true, PublicKey: api.Keys.PublicKey()})
}

func (api *PushAPI) Send(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req dispatch.SendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		api.Logger.Warn("Send: JSON decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := api.Sender.Dispatch(ctx, &req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, dispatch.ErrInvalidRequest):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrServiceUnavailable):
		api.Logger.Warn("Send: platform unavailable", "platform", req.Platform, "err", err)
		response.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		api.Logger.Error("Send: dispatch failed", "platform", req.Platform, "err", err)
		msg := err.Error()
		if api.Production {
			msg = "internal server error"
		}
		response.WriteJSONError(w, http.StatusInternalServerError, msg)
	}
}
