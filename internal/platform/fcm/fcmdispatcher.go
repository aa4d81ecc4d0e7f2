package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

const (
	defaultSound     = "default"
	defaultChannelID = "default"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Dispatcher sends single-token FCM messages. One instance serves either
// native Android devices or browsers registered through the FCM web SDK.
type Dispatcher struct {
	client      MessagingClient
	platform    dispatch.Platform
	isPermanent func(error) bool
	logger      *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// A nil client yields an unavailable dispatcher. platform must be
// dispatch.PlatformAndroid or dispatch.PlatformFCMWeb.
func NewDispatcher(client MessagingClient, platform dispatch.Platform, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client:      client,
		platform:    platform,
		isPermanent: isPermanentError,
		logger:      logger.With("component", "FCMDispatcher", "platform", platform),
	}
}

func (d *Dispatcher) Platform() dispatch.Platform { return d.platform }

func (d *Dispatcher) Available() bool { return d.client != nil }

func (d *Dispatcher) Attempt(ctx context.Context, token string, p *dispatch.Payload) dispatch.Outcome {
	if !d.Available() {
		return dispatch.Failed(dispatch.Unavailable(d.platform).Error(), false)
	}

	msg := d.buildMessage(token, p)

	id, err := d.client.Send(ctx, msg)
	if err != nil {
		if d.isPermanent(err) {
			d.logger.Info("FCM reported dead token", "err", err)
			return dispatch.Failed("invalid or unregistered token", true)
		}
		d.logger.Warn("FCM send failed", "err", err)
		return dispatch.Failed(fmt.Sprintf("fcm send failed: %v", err), false)
	}

	d.logger.Debug("FCM accepted message", "message_id", id)
	return dispatch.Delivered()
}

func (d *Dispatcher) buildMessage(token string, p *dispatch.Payload) *messaging.Message {
	var data map[string]string
	if len(p.Data) > 0 {
		data = p.Data.Strings()
	}

	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title:    p.Title,
			Body:     p.Body,
			ImageURL: p.Image,
		},
	}

	if d.platform == dispatch.PlatformFCMWeb {
		msg.Webpush = webpushConfig(p)
		return msg
	}

	sound := p.Sound
	if sound == "" {
		sound = defaultSound
	}
	priority := "normal"
	if p.IsHighPriority() {
		priority = "high"
	}
	msg.Android = &messaging.AndroidConfig{
		Priority: priority,
		Notification: &messaging.AndroidNotification{
			Sound:     sound,
			Icon:      p.Icon,
			ChannelID: defaultChannelID,
			ImageURL:  p.Image,
		},
	}
	if p.TTL > 0 {
		ttl := p.TTL
		msg.Android.TTL = &ttl
	}
	return msg
}

func webpushConfig(p *dispatch.Payload) *messaging.WebpushConfig {
	urgency := "normal"
	if p.IsHighPriority() {
		urgency = "high"
	}
	headers := map[string]string{"Urgency": urgency}
	if p.TTL > 0 {
		headers["TTL"] = strconv.Itoa(int(p.TTL.Seconds()))
	}

	cfg := &messaging.WebpushConfig{
		Headers: headers,
		Notification: &messaging.WebpushNotification{
			Title: p.Title,
			Body:  p.Body,
			Icon:  p.Icon,
			Badge: p.Badge,
			Image: p.Image,
		},
	}
	// FCM only accepts HTTPS links.
	if strings.HasPrefix(p.URL, "https://") {
		cfg.FCMOptions = &messaging.WebpushFCMOptions{Link: p.URL}
	}
	return cfg
}

func isPermanentError(err error) bool {
	return messaging.IsRegistrationTokenNotRegistered(err) ||
		messaging.IsUnregistered(err) ||
		messaging.IsSenderIDMismatch(err) ||
		messaging.IsInvalidArgument(err)
}
