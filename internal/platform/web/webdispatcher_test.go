package web_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/platform/web"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSubscriptionToken builds a serialized subscription with real browser-side keys.
func newSubscriptionToken(t *testing.T, endpoint string) string {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]any{
		"endpoint": endpoint,
		"keys": map[string]string{
			"p256dh": base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
			"auth":   base64.RawURLEncoding.EncodeToString(auth),
		},
	})
	require.NoError(t, err)
	return string(raw)
}

func newVapidConfig(t *testing.T) config.VapidConfig {
	t.Helper()
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return config.VapidConfig{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    "mailto:test-runner@tinywideclouds.com",
	}
}

func TestAttempt_Lifecycle(t *testing.T) {
	var hits atomic.Int32

	// Simulates a browser vendor's push service.
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("TTL"))

		switch r.URL.Path {
		case "/success":
			w.WriteHeader(http.StatusCreated)
		case "/expired":
			w.WriteHeader(http.StatusGone)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer mockServer.Close()

	dispatcher := web.NewDispatcher(newVapidConfig(t), newTestLogger(), web.WithHTTPClient(mockServer.Client()))
	ctx := context.Background()
	payload := &dispatch.Payload{Title: "Test", Body: "Body", Priority: dispatch.PriorityHigh}

	t.Run("Happy Path - Delivered", func(t *testing.T) {
		outcome := dispatcher.Attempt(ctx, newSubscriptionToken(t, mockServer.URL+"/success"), payload)
		assert.True(t, outcome.Delivered())
	})

	t.Run("Gone - Permanent Failure", func(t *testing.T) {
		outcome := dispatcher.Attempt(ctx, newSubscriptionToken(t, mockServer.URL+"/expired"), payload)
		assert.False(t, outcome.Delivered())
		assert.True(t, outcome.Permanent())
		assert.Equal(t, "subscription expired or invalid", outcome.Reason())
	})

	t.Run("Not Found - Permanent Failure", func(t *testing.T) {
		outcome := dispatcher.Attempt(ctx, newSubscriptionToken(t, mockServer.URL+"/missing"), payload)
		assert.True(t, outcome.Permanent())
	})

	t.Run("Server Error - Transient Failure", func(t *testing.T) {
		outcome := dispatcher.Attempt(ctx, newSubscriptionToken(t, mockServer.URL+"/error"), payload)
		assert.False(t, outcome.Delivered())
		assert.False(t, outcome.Permanent())
		assert.Contains(t, outcome.Reason(), "500")
	})

	t.Run("Malformed Token - Permanent Format Failure Without Network Call", func(t *testing.T) {
		before := hits.Load()

		for _, token := range []string{
			"not-json",
			`{"keys":{"p256dh":"x","auth":"y"}}`,
			`{"endpoint":"https://push.example","keys":{"p256dh":"short","auth":"short"}}`,
		} {
			outcome := dispatcher.Attempt(ctx, token, payload)
			assert.False(t, outcome.Delivered())
			assert.True(t, outcome.Permanent())
			assert.True(t, strings.HasPrefix(outcome.Reason(), "invalid subscription format"), outcome.Reason())
		}

		assert.Equal(t, before, hits.Load())
	})
}

func TestAttempt_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL + "/success"
	server.Close()

	dispatcher := web.NewDispatcher(newVapidConfig(t), newTestLogger())
	outcome := dispatcher.Attempt(context.Background(), newSubscriptionToken(t, endpoint), &dispatch.Payload{Title: "T", Body: "B"})

	assert.False(t, outcome.Delivered())
	assert.False(t, outcome.Permanent())
	assert.Contains(t, outcome.Reason(), "push transport error")
}

func TestAvailability(t *testing.T) {
	t.Run("Configured", func(t *testing.T) {
		cfg := newVapidConfig(t)
		dispatcher := web.NewDispatcher(cfg, newTestLogger())
		assert.True(t, dispatcher.Available())
		assert.Equal(t, cfg.PublicKey, dispatcher.PublicKey())
		assert.Equal(t, dispatch.PlatformWeb, dispatcher.Platform())
	})

	t.Run("Missing Private Key", func(t *testing.T) {
		dispatcher := web.NewDispatcher(config.VapidConfig{PublicKey: "pub"}, newTestLogger())
		assert.False(t, dispatcher.Available())
	})
}

func TestParseSubscription(t *testing.T) {
	token := newSubscriptionToken(t, "https://push.example/abc")
	sub, err := web.ParseSubscription(token)
	require.NoError(t, err)
	assert.Equal(t, "https://push.example/abc", sub.Endpoint)

	_, err = web.ParseSubscription(`{"endpoint":""}`)
	assert.Error(t, err)
}

func TestAttempt_Unconfigured(t *testing.T) {
	var hits atomic.Int32
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer mockServer.Close()

	dispatcher := web.NewDispatcher(config.VapidConfig{}, newTestLogger())

	outcome := dispatcher.Attempt(context.Background(), newSubscriptionToken(t, mockServer.URL+"/success"), &dispatch.Payload{Title: "T", Body: "B"})

	assert.False(t, outcome.Delivered())
	assert.False(t, outcome.Permanent())
	assert.Contains(t, outcome.Reason(), "web push is not configured")
	assert.Equal(t, int32(0), hits.Load())
}
