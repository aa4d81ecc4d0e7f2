package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger.With("component", "TokenAPI"),
	}
}

type RegisterTokenRequest struct {
	UserID   string `json:"userId,omitempty"`
	Platform string `json:"platform"`
	Token    string `json:"token"`
}

type tokenResponse struct {
	Success bool                  `json:"success"`
	Token   *dispatch.DeviceToken `json:"token"`
}

type tokenListResponse struct {
	Success bool                   `json:"success"`
	Count   int                    `json:"count"`
	Tokens  []dispatch.DeviceToken `json:"tokens"`
}

type deleteResponse struct {
	Success bool `json:"success"`
	Deleted any  `json:"deleted"`
}

// Register upserts a token. Without an explicit userId the authenticated
// user handle, if any, owns the token.
func (api *TokenAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}
	platform, err := dispatch.ParsePlatform(req.Platform)
	if err != nil || !platform.Concrete() {
		response.WriteJSONError(w, http.StatusBadRequest, "platform must be one of web, android, ios, fcm-web")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID, _ = middleware.GetUserHandleFromContext(ctx)
	}

	rec, err := api.Store.Register(ctx, userID, platform, req.Token)
	if err != nil {
		api.writeStoreError(w, "register", err)
		return
	}
	api.Logger.Info("Token registered", "id", rec.ID, "platform", rec.Platform, "user", rec.UserID)

	writeJSON(w, http.StatusCreated, tokenResponse{Success: true, Token: rec})
}

func (api *TokenAPI) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := dispatch.TokenFilter{UserID: q.Get("userId")}
	if p := q.Get("platform"); p != "" {
		platform, err := dispatch.ParsePlatform(p)
		if err != nil || !platform.Concrete() {
			response.WriteJSONError(w, http.StatusBadRequest, "unknown platform filter")
			return
		}
		filter.Platform = platform
	}

	tokens, err := api.Store.List(r.Context(), filter)
	if err != nil {
		api.writeStoreError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenListResponse{Success: true, Count: len(tokens), Tokens: tokens})
}

func (api *TokenAPI) ListByUser(w http.ResponseWriter, r *http.Request) {
	tokens, err := api.Store.ListByUser(r.Context(), r.PathValue("userId"))
	if err != nil {
		api.writeStoreError(w, "list by user", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenListResponse{Success: true, Count: len(tokens), Tokens: tokens})
}

func (api *TokenAPI) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := api.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeStoreError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Success: true, Token: rec})
}

func (api *TokenAPI) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.Store.Stats(r.Context())
	if err != nil {
		api.writeStoreError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

func (api *TokenAPI) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := api.Store.Delete(r.Context(), id)
	if err != nil {
		api.writeStoreError(w, "delete", err)
		return
	}
	if ok {
		api.Logger.Info("Token deleted", "id", id)
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, Deleted: ok})
}

func (api *TokenAPI) DeleteByUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	n, err := api.Store.DeleteByUser(r.Context(), userID)
	if err != nil {
		api.writeStoreError(w, "delete by user", err)
		return
	}
	api.Logger.Info("User tokens deleted", "user", userID, "count", n)
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, Deleted: n})
}

func (api *TokenAPI) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, dispatch.ErrTokenNotFound):
		response.WriteJSONError(w, http.StatusNotFound, "token not found")
	case errors.Is(err, dispatch.ErrInvalidRequest):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
	default:
		api.Logger.Error("Token store operation failed", "op", op, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
	}
}
