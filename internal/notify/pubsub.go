package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/NofaBC/prospector-api/internal/prospector"
)

// PubSub publishes completion events to a Pub/Sub topic for downstream
// consumers. The per-job webhook URL is ignored; subscribers decide
// routing. Publish failures are logged and absorbed.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSub builds a PubSub notifier for the given project and topic.
func NewPubSub(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSub, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	return &PubSub{
		client: client,
		topic:  client.Topic(topicID),
		logger: logger,
	}, nil
}

// Notify publishes the event as a JSON message with the job id as an
// attribute.
func (p *PubSub) Notify(ctx context.Context, _ string, event prospector.CompletionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("encoding completion event failed", zap.Error(err))
		return nil
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"job_id": event.JobID,
			"status": event.Status,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		p.logger.Warn("publishing completion event failed",
			zap.String("job_id", event.JobID),
			zap.Error(err),
		)
		return nil
	}
	p.logger.Info("completion event published",
		zap.String("job_id", event.JobID),
		zap.String("status", event.Status),
	)
	return nil
}

// Close releases the underlying Pub/Sub client.
func (p *PubSub) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

var _ prospector.Notifier = (*PubSub)(nil)
