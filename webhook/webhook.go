package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/use-agent/pbiprobe/report"
)

// SignatureHeader carries "sha256=<hex>" of the body when a secret is set.
const SignatureHeader = "X-Pbiprobe-Signature"

// EventRunCompleted is sent once after a run's notifications.
const EventRunCompleted = "run.completed"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string     `json:"type"`
	RunID     string     `json:"run_id"`
	Timestamp int64      `json:"timestamp"`
	Data      RunSummary `json:"data"`
}

// RunSummary is the body of a run.completed event.
type RunSummary struct {
	Pages      int                  `json:"pages"`
	Errors     int                  `json:"errors"`
	Fatal      int                  `json:"fatal"`
	HadErrors  bool                 `json:"had_errors"`
	ResultPath string               `json:"result_path,omitempty"`
	Areas      []report.AreaSummary `json:"areas"`
}

// NewRunCompleted builds a run.completed event.
func NewRunCompleted(runID string, summary RunSummary) *Event {
	return &Event{
		Type:      EventRunCompleted,
		RunID:     runID,
		Timestamp: time.Now().Unix(),
		Data:      summary,
	}
}

// Client delivers events to one endpoint.
type Client struct {
	URL         string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int
	RetryDelay  time.Duration
}

// New creates a Client with a 10s request timeout and 3 attempts.
func New(url, secret string) *Client {
	return &Client{
		URL:         url,
		Secret:      secret,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		MaxAttempts: 3,
		RetryDelay:  time.Second,
	}
}

// Deliver sends a webhook event synchronously.
// The request body is signed with HMAC-SHA256 if Secret is non-empty.
func (c *Client) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pbiprobe-webhook/1.0")
	if c.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(c.Secret, body))
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode))
	}
	return nil
}

// Send delivers event with bounded exponential retry. 4xx answers other than
// 429 are not retried.
func (c *Client) Send(ctx context.Context, event *Event) error {
	attempts := max(c.MaxAttempts, 1)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryDelay
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := c.Deliver(ctx, event)
		if err != nil {
			slog.Warn("webhook delivery failed",
				"url", c.URL,
				"event", event.Type,
				"run_id", event.RunID,
				"attempt", attempt,
				"error", err,
			)
		}
		return err
	}, bo)
	if err != nil {
		slog.Error("webhook delivery gave up",
			"url", c.URL,
			"event", event.Type,
			"run_id", event.RunID,
			"attempts", attempt,
		)
		return err
	}
	slog.Info("webhook delivered",
		"url", c.URL,
		"event", event.Type,
		"run_id", event.RunID,
		"attempt", attempt,
	)
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
