// Package notify delivers operator alerts to external channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrDeliveryFailed wraps transport-level delivery errors.
var ErrDeliveryFailed = errors.New("alert delivery failed")

// Severity classifies an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single operator-facing notification. Message and Fields
// must already be redacted by the caller; sinks do not scrub.
type Alert struct {
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Severity  Severity          `json:"severity"`
	Status    string            `json:"status,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sink delivers alerts to one destination.
type Sink interface {
	Post(ctx context.Context, alert Alert) error
}

// Multi fans an alert out to several sinks. Delivery failures are
// collected; one slow or broken sink does not stop the others.
type Multi []Sink

// Post implements Sink.
func (m Multi) Post(ctx context.Context, alert Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Post(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WebhookSink posts the alert as JSON to a configured URL.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url string, headers map[string]string) *WebhookSink {
	return &WebhookSink{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Post implements Sink.
func (s *WebhookSink) Post(ctx context.Context, alert Alert) error {
	return postJSON(ctx, s.client, s.url, s.headers, alert)
}

// SlackSink posts alerts to a Slack incoming webhook.
type SlackSink struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackSink creates a Slack sink. channel overrides the webhook's
// default channel when non-empty.
func NewSlackSink(webhookURL, channel string) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Post implements Sink.
func (s *SlackSink) Post(ctx context.Context, alert Alert) error {
	payload := map[string]interface{}{
		"text": alert.Title,
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": alert.Title,
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": alert.Message,
				},
			},
			{
				"type": "context",
				"elements": []map[string]string{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("*Status:* %s | *Severity:* %s", alert.Status, alert.Severity),
					},
				},
			},
		},
	}
	if s.channel != "" {
		payload["channel"] = s.channel
	}
	return postJSON(ctx, s.client, s.webhookURL, nil, payload)
}

// MemorySink records alerts in memory. Used in tests and as a default
// when no external channel is configured.
type MemorySink struct {
	mu     sync.Mutex
	alerts []Alert
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Post implements Sink.
func (s *MemorySink) Post(_ context.Context, alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

// Alerts returns a copy of everything posted so far.
func (s *MemorySink) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Reset clears recorded alerts.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = nil
}

// postJSON posts a JSON payload and treats any 4xx/5xx as failure.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return nil
}
