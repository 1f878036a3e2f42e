// Package pagerduty triggers PagerDuty Events API v2 incidents for failed jobs.
package pagerduty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/target/mmk-autoingest/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// Endpoint overrides APIEndpoint.
	Endpoint string
}

// Client publishes events via PagerDuty's Events API v2.
type Client struct {
	routingKey string
	source     string
	component  string
	retryLimit int
	endpoint   string
	client     *http.Client
}

// NewClient constructs a PagerDuty events client from config. Callers must provide a routing key.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		routingKey: key,
		source:     notify.Fallback(strings.TrimSpace(cfg.Source), "autoingest"),
		component:  notify.Fallback(strings.TrimSpace(cfg.Component), "autoingest"),
		retryLimit: max(cfg.RetryLimit, 0),
		endpoint:   notify.Fallback(strings.TrimSpace(cfg.Endpoint), APIEndpoint),
		client:     hc,
	}, nil
}

// SendJobFailure submits a trigger event to PagerDuty.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	body, err := json.Marshal(c.buildEvent(payload))
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}
	return notify.PostJSON(ctx, c.client, "pagerduty api", c.endpoint, body, c.retryLimit)
}

func (c *Client) buildEvent(payload notify.JobFailurePayload) map[string]any {
	severity := notify.Fallback(strings.ToLower(payload.Severity), notify.SeverityCritical)

	occurredAt := payload.OccurredAt.UTC()
	if payload.OccurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	custom := map[string]any{
		"event":       payload.Event,
		"job_id":      payload.JobID,
		"case_name":   payload.CaseName,
		"data_source": payload.DataSource,
		"host_name":   payload.HostName,
		"stage":       payload.Stage,
		"status_kind": payload.StatusKind,
		"message":     payload.Message,
		"error_class": payload.ErrorClass,
	}
	for k, v := range payload.Metadata {
		if _, exists := custom[k]; !exists {
			custom[k] = v
		}
	}

	// One incident per job run: the ID changes when a key is re-enqueued.
	dedupKey := strings.Trim(fmt.Sprintf("%s:%s", payload.Subject(), payload.JobID), ":")

	return map[string]any{
		"routing_key":  c.routingKey,
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload": map[string]any{
			"summary":        summary(payload),
			"severity":       severity,
			"source":         notify.Fallback(payload.HostName, c.source),
			"component":      c.component,
			"timestamp":      occurredAt.Format(time.RFC3339),
			"custom_details": custom,
		},
	}
}

func summary(payload notify.JobFailurePayload) string {
	subject := notify.Fallback(payload.Subject(), "unknown job")
	if payload.Event == notify.EventJobReclaimed {
		return fmt.Sprintf("Ingest job %s reclaimed from %s", subject, notify.Fallback(payload.HostName, "unknown host"))
	}
	return fmt.Sprintf("Ingest job %s failed (%s)", subject, notify.Fallback(payload.StatusKind, "unknown"))
}
