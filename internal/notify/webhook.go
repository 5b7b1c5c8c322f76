// Package notify delivers job completion events to callers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/NofaBC/prospector-api/internal/prospector"
)

// Webhook posts completion events to the job's caller-supplied URL.
// Delivery is best effort: failures are logged and absorbed so a dead
// webhook can never fail a job.
type Webhook struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhook builds a Webhook notifier.
func NewWebhook(timeout time.Duration, logger *zap.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Notify posts the event as JSON. Jobs without a webhook are a no-op.
func (w *Webhook) Notify(ctx context.Context, targetURL string, event prospector.CompletionEvent) error {
	if targetURL == "" {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		w.logger.Error("encoding webhook payload failed", zap.Error(err))
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		w.logger.Warn("building webhook request failed",
			zap.String("job_id", event.JobID),
			zap.Error(err),
		)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Warn("webhook delivery failed",
			zap.String("job_id", event.JobID),
			zap.Error(err),
		)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Warn("webhook returned non-success status",
			zap.String("job_id", event.JobID),
			zap.Int("status", resp.StatusCode),
		)
		return nil
	}
	w.logger.Info("webhook delivered",
		zap.String("job_id", event.JobID),
		zap.String("status", event.Status),
	)
	return nil
}

var _ prospector.Notifier = (*Webhook)(nil)
