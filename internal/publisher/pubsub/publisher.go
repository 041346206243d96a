// Package pubsub publishes processing handoffs to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
)

// Config names the destination topic.
type Config struct {
	ProjectID string
	TopicID   string
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects to Pub/Sub and binds the configured topic.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("handoff.project_id is required")
	}
	if cfg.TopicID == "" {
		return nil, fmt.Errorf("handoff.topic is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, topic: client.Topic(cfg.TopicID)}, nil
}

// Publish marshals the handoff to JSON and waits for the server id.
func (p *Publisher) Publish(ctx context.Context, h acquisition.Handoff) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal handoff: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"item_id":      strconv.Itoa(h.ID),
			"content_kind": string(h.ContentKind),
		},
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish handoff %d: %w", h.ID, err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
