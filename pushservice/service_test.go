package pushservice_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/orchestrator"
	"github.com/tinywideclouds/go-push-service/internal/storage/memory"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubAdapter struct {
	platform  dispatch.Platform
	available bool
}

func (s stubAdapter) Platform() dispatch.Platform { return s.platform }
func (s stubAdapter) Available() bool             { return s.available }
func (s stubAdapter) Attempt(_ context.Context, token string, _ *dispatch.Payload) dispatch.Outcome {
	if token == "dead" {
		return dispatch.Failed("invalid or unregistered token", true)
	}
	return dispatch.Delivered()
}

type noKeys struct{}

func (noKeys) Available() bool   { return false }
func (noKeys) PublicKey() string { return "" }

func TestNew_WiresDispatchCore(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{ListenAddr: ":0", SuccessPolicy: orchestrator.PolicyAnySuccess}
	store := memory.NewStore()
	_, err := store.Register(ctx, "u1", dispatch.PlatformAndroid, "registered")
	require.NoError(t, err)

	svc, err := pushservice.New(cfg,
		[]dispatch.Adapter{
			stubAdapter{platform: dispatch.PlatformAndroid, available: true},
			stubAdapter{platform: dispatch.PlatformIOS, available: false},
		},
		noKeys{},
		store,
		nil,
		nil,
		newTestLogger(),
	)
	require.NoError(t, err)

	t.Run("Orchestrator Uses Registry And Policy", func(t *testing.T) {
		resp, err := svc.Orchestrator().Dispatch(ctx, &dispatch.SendRequest{
			Title: "T", Body: "B", Platform: dispatch.PlatformAndroid,
			Tokens: []string{"dead"}, UserIDs: []string{"u1"},
		})
		require.NoError(t, err)
		assert.True(t, resp.Success, "any-success policy from config")
		assert.Equal(t, 1, resp.Results.Success)
		assert.Equal(t, 1, resp.Results.Failed)

		status := svc.Orchestrator().Status()
		assert.True(t, status[dispatch.PlatformAndroid])
		assert.False(t, status[dispatch.PlatformIOS])
		assert.False(t, status[dispatch.PlatformWeb])
	})

	t.Run("Metrics Reflect Attempts", func(t *testing.T) {
		w := httptest.NewRecorder()
		svc.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/push/metrics", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `push_dispatch_attempts_total{outcome="delivered",platform="android"} 1`)
		assert.Contains(t, w.Body.String(), `push_dispatch_attempts_total{outcome="failed_permanent",platform="android"} 1`)
	})
}
