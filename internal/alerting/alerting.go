// Package alerting posts budget- and queue-depth-threshold alerts to a
// configured webhook URL. It follows the teacher's Slack notifier shape:
// an IsEnabled() gate so the whole package is a no-op when unconfigured,
// logged once at startup rather than treated as an error.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier posts alert payloads to a webhook URL.
type Notifier struct {
	httpClient *http.Client
	webhookURL string
	logger     *slog.Logger
}

// NewNotifier creates a Notifier. If webhookURL is empty, the notifier is
// a no-op.
func NewNotifier(webhookURL string, logger *slog.Logger) *Notifier {
	n := &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
		logger:     logger,
	}
	if n.IsEnabled() {
		logger.Info("alert webhook configured")
	} else {
		logger.Info("alert webhook not configured, alerting disabled")
	}
	return n
}

// IsEnabled reports whether a webhook URL is configured.
func (n *Notifier) IsEnabled() bool {
	return n.webhookURL != ""
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Kind    string  `json:"kind"` // "budget", "queue_depth", "takedown_sla_violation" or "takedown_sla_warning"
	Service string  `json:"service"`
	Message string  `json:"message"`
	Ratio   float64 `json:"ratio,omitempty"`
	Depth   int     `json:"depth,omitempty"`
}

// Post sends payload to the configured webhook. A no-op (returns nil
// immediately) when no webhook URL is configured.
func (n *Notifier) Post(ctx context.Context, payload Payload) error {
	if !n.IsEnabled() {
		n.logger.Debug("alert webhook disabled, skipping", "kind", payload.Kind, "service", payload.Service)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building alert webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting alert webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("alert webhook returned non-2xx", "status", resp.StatusCode, "kind", payload.Kind)
	}
	return nil
}

// BudgetCrossing posts a budget-threshold alert.
func (n *Notifier) BudgetCrossing(ctx context.Context, service string, ratio float64) error {
	return n.Post(ctx, Payload{
		Kind:    "budget",
		Service: service,
		Ratio:   ratio,
		Message: fmt.Sprintf("%s daily quota at %.0f%%", service, ratio*100),
	})
}

// QueueDepth posts a queue-depth-threshold alert.
func (n *Notifier) QueueDepth(ctx context.Context, stage string, depth int) error {
	return n.Post(ctx, Payload{
		Kind:    "queue_depth",
		Service: stage,
		Depth:   depth,
		Message: fmt.Sprintf("%s queue depth is %d", stage, depth),
	})
}
