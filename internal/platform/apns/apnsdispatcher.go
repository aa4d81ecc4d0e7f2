// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

const (
	defaultExpiry = time.Hour
	apsKey        = "aps"
	defaultSound  = "default"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	now    func() time.Time
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
	// P8KeyPath is used when P8KeyContent is empty.
	P8KeyPath  string
	Production bool
}

// Configured reports whether enough credentials were supplied to build a client.
func (c Config) Configured() bool {
	return c.KeyID != "" && c.TeamID != "" && c.BundleID != "" &&
		(c.P8KeyContent != "" || c.P8KeyPath != "")
}

// NewDispatcher creates an APNs dispatcher. Missing credentials produce an
// unavailable dispatcher; credentials that fail to parse are an error so a
// bad deployment fails fast.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		topic:  cfg.BundleID,
		now:    time.Now,
		logger: logger.With("component", "APNSDispatcher"),
	}
	if !cfg.Configured() {
		return d, nil
	}

	authKey, err := loadAuthKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	d.client = client
	return d, nil
}

func loadAuthKey(cfg Config) (*ecdsa.PrivateKey, error) {
	if cfg.P8KeyContent != "" {
		return token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	}
	return token.AuthKeyFromFile(cfg.P8KeyPath)
}

func (d *Dispatcher) Platform() dispatch.Platform { return dispatch.PlatformIOS }

func (d *Dispatcher) Available() bool { return d.client != nil }

// Attempt sends one notification. The APNs HTTP/2 API is unary, one request per token.
func (d *Dispatcher) Attempt(ctx context.Context, deviceToken string, p *dispatch.Payload) dispatch.Outcome {
	if !d.Available() {
		return dispatch.Failed(dispatch.Unavailable(d.Platform()).Error(), false)
	}

	expiry := p.TTL
	if expiry == 0 {
		expiry = defaultExpiry
	}
	priority := apns2.PriorityLow
	if p.IsHighPriority() {
		priority = apns2.PriorityHigh
	}

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       d.topic,
		Payload:     buildPayload(p),
		Priority:    priority,
		Expiration:  d.now().Add(expiry),
		PushType:    apns2.PushTypeAlert,
	}

	res, err := d.client.PushWithContext(ctx, notification)
	if err != nil {
		d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
		return dispatch.Failed(fmt.Sprintf("apns transport failed: %v", err), false)
	}

	if res.Sent() {
		return dispatch.Delivered()
	}

	// See: https://developer.apple.com/documentation/usernotifications/setting_up_a_remote_notification_server/handling_notification_responses_from_apns
	switch {
	case res.Reason == apns2.ReasonBadDeviceToken,
		res.Reason == apns2.ReasonUnregistered,
		res.Reason == apns2.ReasonDeviceTokenNotForTopic,
		res.StatusCode == http.StatusGone:
		d.logger.Info("APNs reported dead token", "reason", res.Reason, "status", res.StatusCode)
		return dispatch.Failed(fmt.Sprintf("invalid or unregistered token: %s", res.Reason), true)
	default:
		// TopicDisallowed, PayloadTooLarge and friends point at our configuration, not the token.
		d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		return dispatch.Failed(fmt.Sprintf("apns rejected notification: %s (status %d)", res.Reason, res.StatusCode), false)
	}
}

func buildPayload(p *dispatch.Payload) *payload.Payload {
	sound := p.Sound
	if sound == "" {
		sound = defaultSound
	}

	builder := payload.NewPayload().
		AlertTitle(p.Title).
		AlertBody(p.Body).
		Sound(sound)

	// Web-style badge URLs are ignored; APNs badges are counts.
	if n, err := strconv.Atoi(p.Badge); err == nil && n >= 0 {
		builder.Badge(n)
	}
	if p.Image != "" {
		builder.MutableContent()
		builder.Custom("image", p.Image)
	}
	if _, set := p.Data["url"]; !set && p.URL != "" {
		builder.Custom("url", p.URL)
	}
	for k, v := range p.Data {
		// "aps" is Apple's reserved dictionary.
		if k == apsKey {
			continue
		}
		builder.Custom(k, v.Interface())
	}
	return builder
}
