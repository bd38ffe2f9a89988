package notification

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Prosniperv2/V2.0/internal/platform/observability"
)

// TopicPublisher publishes a JSON message with string attributes to a topic.
// *aws.SNSClient implements it.
type TopicPublisher interface {
	Publish(ctx context.Context, topicARN string, message any, attributes map[string]string) error
}

// Publisher publishes trade events to SNS for the trade journal
type Publisher struct {
	client   TopicPublisher
	topicARN string
	logger   *observability.Logger
	tracer   observability.Tracer
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	Client   TopicPublisher
	TopicARN string
	Logger   *observability.Logger
	Tracer   observability.Tracer
}

// NewPublisher creates a new trade event publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Publisher{
		client:   cfg.Client,
		topicARN: cfg.TopicARN,
		logger:   cfg.Logger.Named("sns-publisher"),
		tracer:   cfg.Tracer,
	}, nil
}

// Notify publishes event. Message attributes allow subscription filtering by
// kind and status.
func (p *Publisher) Notify(ctx context.Context, event TradeEvent) error {
	ctx, span := p.tracer.StartSpan(ctx, "Publisher.Notify",
		attribute.String("event_id", event.ID),
		attribute.String("kind", string(event.Kind)),
		attribute.String("topic_arn", p.topicARN),
	)
	defer span.End()

	attributes := map[string]string{
		"kind":  string(event.Kind),
		"token": event.Token,
	}
	if event.Status != "" {
		attributes["status"] = event.Status
	}
	if event.DEX != "" {
		attributes["dex"] = event.DEX
	}

	if err := p.client.Publish(ctx, p.topicARN, event, attributes); err != nil {
		span.NoticeError(err)
		return fmt.Errorf("failed to publish trade event: %w", err)
	}

	p.logger.Debug("published trade event",
		slog.String("event_id", event.ID),
		slog.String("kind", string(event.Kind)),
	)
	return nil
}
