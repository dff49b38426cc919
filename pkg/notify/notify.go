// Package notify forwards alert transitions to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/aion/internal/health"
	"github.com/invisible-tech/aion/internal/version"
)

// Config for the alert forwarder
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	BufferSize int
}

// Payload is the JSON body posted for each alert.
type Payload struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Tick      uint64    `json:"tick"`
	Subject   string    `json:"subject"`
	Severity  string    `json:"severity"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Label     string    `json:"label"`
	Value     float64   `json:"value"`
	Resolved  bool      `json:"resolved"`
}

// NewPayload converts an alert transition.
func NewPayload(a health.Alert) Payload {
	severity := strings.ToUpper(a.To.String())
	if a.Recovered() {
		severity = "RESOLVED"
	}
	return Payload{
		ID:        a.ID,
		Timestamp: a.Timestamp,
		Tick:      a.Tick,
		Subject:   a.Subject,
		Severity:  severity,
		From:      a.From.String(),
		To:        a.To.String(),
		Label:     a.Label,
		Value:     a.Value,
		Resolved:  a.Recovered(),
	}
}

// Forwarder queues alerts from the scheduler and posts them from its own
// goroutine so the tick loop never waits on the network.
type Forwarder struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *logrus.Logger

	queue   chan health.Alert
	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewForwarder creates a forwarder for cfg.Endpoint.
func NewForwarder(cfg Config, log *logrus.Logger) *Forwarder {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Forwarder{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log:   log,
		queue: make(chan health.Alert, cfg.BufferSize),
	}
}

// Notify queues a for delivery. It never blocks; alerts are dropped when
// the queue is full.
func (f *Forwarder) Notify(a health.Alert) {
	select {
	case f.queue <- a:
	default:
		f.dropped.Add(1)
		f.log.WithField("subject", a.Subject).Debug("Alert queue full, dropping alert")
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	f.log.WithField("endpoint", f.endpoint).Info("Starting alert forwarder")
	for {
		select {
		case <-ctx.Done():
			f.log.WithFields(logrus.Fields{
				"sent":    f.sent.Load(),
				"failed":  f.failed.Load(),
				"dropped": f.dropped.Load(),
			}).Info("Alert forwarder stopping")
			return
		case a := <-f.queue:
			if err := f.SendAlert(ctx, a); err != nil {
				f.failed.Add(1)
				f.log.WithError(err).WithField("subject", a.Subject).Warn("Failed to forward alert")
				continue
			}
			f.sent.Add(1)
		}
	}
}

// Stats returns delivered, failed and dropped counts.
func (f *Forwarder) Stats() (sent, failed, dropped uint64) {
	return f.sent.Load(), f.failed.Load(), f.dropped.Load()
}

// SendAlert posts a single alert.
func (f *Forwarder) SendAlert(ctx context.Context, a health.Alert) error {
	if f.endpoint == "" {
		return fmt.Errorf("alert forwarder not configured")
	}
	return f.sendJSON(ctx, f.endpoint+"/api/v1/alerts", NewPayload(a))
}

// sendJSON sends a JSON payload to the webhook
func (f *Forwarder) sendJSON(ctx context.Context, url string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", f.apiKey))
	}
	req.Header.Set("User-Agent", "aiond/"+version.Version)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	f.log.WithFields(logrus.Fields{
		"url":    url,
		"status": resp.StatusCode,
	}).Debug("Alert forwarded")

	return nil
}

// HealthCheck checks if the webhook is reachable
func (f *Forwarder) HealthCheck(ctx context.Context) error {
	if f.endpoint == "" {
		return fmt.Errorf("alert forwarder not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", f.apiKey))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}

	return nil
}
