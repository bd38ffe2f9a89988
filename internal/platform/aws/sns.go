package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
)

// SNSAPI is the subset of the SNS client used here
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient publishes JSON messages with retry behind a circuit breaker
type SNSClient struct {
	api            SNSAPI
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    resilience.RetryConfig
	logger         *observability.Logger
	metrics        *observability.Metrics
}

// SNSClientConfig holds SNS client configuration
type SNSClientConfig struct {
	AWSConfig   aws.Config
	API         SNSAPI // overrides the client built from AWSConfig
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	RetryConfig *resilience.RetryConfig
}

// NewSNSClient creates a new SNS client
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}

	api := cfg.API
	if api == nil {
		api = sns.NewFromConfig(cfg.AWSConfig)
	}

	retryConfig := resilience.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retryConfig = *cfg.RetryConfig
	}

	circuitBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "sns",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		OnStateChange: func(from, to resilience.State) {
			logger.Info("SNS circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.SetCircuitBreakerState(context.Background(), "sns", int64(to))
		},
	})

	return &SNSClient{
		api:            api,
		circuitBreaker: circuitBreaker,
		retryConfig:    retryConfig,
		logger:         logger,
		metrics:        metrics,
	}
}

// Publish marshals message to JSON and publishes it with string attributes
func (s *SNSClient) Publish(ctx context.Context, topicARN string, message any, attributes map[string]string) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: make(map[string]types.MessageAttributeValue, len(attributes)),
	}
	for k, v := range attributes {
		input.MessageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	start := time.Now()
	err = s.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.RetryIf(ctx, s.retryConfig, resilience.IsRetryable, func(ctx context.Context) error {
			if _, err := s.api.Publish(ctx, input); err != nil {
				return fmt.Errorf("SNS publish failed: %w", err)
			}
			return nil
		})
	})

	s.metrics.RecordNotification(ctx, "sns", err == nil)
	if err != nil {
		s.logger.LogError(ctx, "SNS publish failed", err,
			slog.String("topic_arn", topicARN),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}

	return err
}

// CircuitBreakerState returns current circuit breaker state
func (s *SNSClient) CircuitBreakerState() resilience.State {
	return s.circuitBreaker.State()
}

// ResetCircuitBreaker closes the circuit breaker
func (s *SNSClient) ResetCircuitBreaker() {
	s.circuitBreaker.Reset()
}
