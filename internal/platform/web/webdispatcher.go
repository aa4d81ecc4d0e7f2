// Package web delivers notifications through the W3C Web Push protocol with
// VAPID authentication.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

const defaultTTL = time.Hour

// Subscription is the browser PushSubscription a web token deserializes into.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient webpush.HTTPClient
}

type Option func(*Dispatcher)

// WithHTTPClient overrides the client used to reach push services.
func WithHTTPClient(c webpush.HTTPClient) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		// webpush-go adds the mailto: scheme itself.
		subscriber: strings.TrimPrefix(cfg.Subject, "mailto:"),
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Platform() dispatch.Platform { return dispatch.PlatformWeb }

func (d *Dispatcher) Available() bool {
	return d.publicKey != "" && d.privateKey != ""
}

// PublicKey is the VAPID application server key handed to browsers.
func (d *Dispatcher) PublicKey() string {
	return d.publicKey
}

// Attempt deserializes token into a subscription and pushes one message to it.
func (d *Dispatcher) Attempt(ctx context.Context, token string, p *dispatch.Payload) dispatch.Outcome {
	if !d.Available() {
		return dispatch.Failed(dispatch.Unavailable(dispatch.PlatformWeb).Error(), false)
	}

	sub, err := ParseSubscription(token)
	if err != nil {
		return dispatch.Failed(fmt.Sprintf("invalid subscription format: %v", err), true)
	}

	body, err := encodePayload(p)
	if err != nil {
		return dispatch.Failed(fmt.Sprintf("failed to encode payload: %v", err), false)
	}

	ttl := p.TTL
	if ttl == 0 {
		ttl = defaultTTL
	}
	urgency := webpush.UrgencyNormal
	if p.IsHighPriority() {
		urgency = webpush.UrgencyHigh
	}

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, body, s, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             int(ttl.Seconds()),
		Urgency:         urgency,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		return dispatch.Failed(fmt.Sprintf("push transport error: %v", err), false)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return dispatch.Delivered()
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
		d.logger.Info("WebPush subscription gone", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return dispatch.Failed("subscription expired or invalid", true)
	default:
		d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return dispatch.Failed(fmt.Sprintf("push service responded with status %d", resp.StatusCode), false)
	}
}

// ParseSubscription decodes and checks a serialized PushSubscription.
func ParseSubscription(token string) (*Subscription, error) {
	var sub Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return nil, fmt.Errorf("not a subscription object: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, errors.New("missing endpoint")
	}
	p256dh, err := decodeKey(sub.Keys.P256dh)
	if err != nil || len(p256dh) != 65 || p256dh[0] != 0x04 {
		return nil, errors.New("keys.p256dh is not an uncompressed P-256 point")
	}
	auth, err := decodeKey(sub.Keys.Auth)
	if err != nil || len(auth) != 16 {
		return nil, errors.New("keys.auth must be 16 bytes")
	}
	return &sub, nil
}

// decodeKey accepts the URL-safe and standard base64 alphabets, padded or not.
func decodeKey(key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	encodings := []*base64.Encoding{
		base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.StdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(key)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

type webPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Badge string         `json:"badge,omitempty"`
	Image string         `json:"image,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

func encodePayload(p *dispatch.Payload) ([]byte, error) {
	data := p.Data.Native()
	if _, set := data["url"]; !set && p.URL != "" {
		data["url"] = p.URL
	}
	if len(data) == 0 {
		data = nil
	}
	return json.Marshal(webPayload{
		Title: p.Title,
		Body:  p.Body,
		Icon:  p.Icon,
		Badge: p.Badge,
		Image: p.Image,
		Data:  data,
	})
}
