package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// MaxTTL is the longest message lifetime every provider accepts. FCM caps
// time-to-live at 28 days.
const MaxTTL = 28 * 24 * time.Hour

// SendRequest is the inbound shape of a send, shared by the HTTP API and the
// Pub/Sub ingestion path.
type SendRequest struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Platform Platform `json:"platform"`
	Tokens   []string `json:"tokens"`
	// UserIDs are resolved to registered tokens by the orchestrator.
	UserIDs  []string `json:"userIds,omitempty"`
	Icon     string   `json:"icon,omitempty"`
	Badge    string   `json:"badge,omitempty"`
	Image    string   `json:"image,omitempty"`
	URL      string   `json:"url,omitempty"`
	Sound    string   `json:"sound,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	// TTL in seconds.
	TTL  int  `json:"ttl,omitempty"`
	Data Data `json:"data,omitempty"`
}

// Validate rejects a request before any dispatch work happens.
func (r *SendRequest) Validate() error {
	if _, err := r.Payload(); err != nil {
		return err
	}
	if r.Platform == "" {
		return Invalid("platform is required")
	}
	if _, err := ParsePlatform(string(r.Platform)); err != nil {
		return err
	}
	if len(r.Tokens) == 0 && len(r.UserIDs) == 0 {
		return Invalid("tokens must be a non-empty list")
	}
	for i, t := range r.Tokens {
		if strings.TrimSpace(t) == "" {
			return Invalid("tokens[%d] is empty", i)
		}
	}
	for i, u := range r.UserIDs {
		if strings.TrimSpace(u) == "" {
			return Invalid("userIds[%d] is empty", i)
		}
	}
	return nil
}

// Payload builds the validated, provider-neutral payload for this request.
func (r *SendRequest) Payload() (*Payload, error) {
	if r.TTL > int(MaxTTL/time.Second) {
		return nil, Invalid("ttl must not exceed %d seconds", int(MaxTTL/time.Second))
	}
	priority := r.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	p := &Payload{
		Title:    r.Title,
		Body:     r.Body,
		Icon:     r.Icon,
		Badge:    r.Badge,
		Image:    r.Image,
		URL:      r.URL,
		Sound:    r.Sound,
		Priority: priority,
		TTL:      time.Duration(r.TTL) * time.Second,
		Data:     r.Data.Clone(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// PlatformSummary is the per-partition count pair.
type PlatformSummary struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Response is the aggregated answer to a SendRequest.
type Response struct {
	Success   bool                         `json:"success"`
	Message   string                       `json:"message"`
	Results   *BatchResult                 `json:"results"`
	Platforms map[Platform]PlatformSummary `json:"platforms,omitempty"`
	Errors    []string                     `json:"errors,omitempty"`
}

func SummaryMessage(success, failed int) string {
	return fmt.Sprintf("Sent %d notifications, %d failed", success, failed)
}
