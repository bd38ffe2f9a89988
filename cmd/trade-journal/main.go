// Command trade-journal is an SQS-triggered Lambda that persists trade events
// published by the sniper to a DynamoDB table.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/Prosniperv2/V2.0/internal/notification"
	awsplatform "github.com/Prosniperv2/V2.0/internal/platform/aws"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
)

const (
	defaultTable = "sniper-trades"
	recordTTL    = 7 * 24 * time.Hour
)

// ItemWriter is the subset of the DynamoDB client the journal needs
type ItemWriter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// TradeRecord is a journal row. Rows expire after seven days.
type TradeRecord struct {
	notification.TradeEvent
	TTL int64 `dynamodbav:"ttl" json:"ttl"`
}

// Journal writes trade events delivered through SQS
type Journal struct {
	writer ItemWriter
	table  string
	logger *observability.Logger
	now    func() time.Time
}

// NewJournal creates a journal writing to table
func NewJournal(writer ItemWriter, table string, logger *observability.Logger) *Journal {
	if table == "" {
		table = defaultTable
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Journal{writer: writer, table: table, logger: logger, now: time.Now}
}

// Handle processes an SQS batch. Records that fail to parse or persist are
// reported back so SQS retries only those.
func (j *Journal) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var failures []events.SQSBatchItemFailure
	persisted := 0

	for _, record := range sqsEvent.Records {
		event, err := parseRecord(record.Body)
		if err != nil {
			j.logger.LogError(ctx, "failed to parse record", err, slog.String("message_id", record.MessageId))
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		row := TradeRecord{
			TradeEvent: event,
			TTL:        j.now().Add(recordTTL).Unix(),
		}
		if err := j.write(ctx, row); err != nil {
			j.logger.LogError(ctx, "failed to persist trade event", err,
				slog.String("message_id", record.MessageId),
				slog.String("event_id", event.ID),
			)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		persisted++
		j.logger.LogDebug(ctx, "trade event persisted",
			slog.String("event_id", event.ID),
			slog.String("kind", string(event.Kind)),
			slog.String("token", event.Token),
		)
	}

	j.logger.LogInfo(ctx, "batch processed",
		slog.Int("records", len(sqsEvent.Records)),
		slog.Int("persisted", persisted),
		slog.Int("failed", len(failures)),
	)

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

// parseRecord unwraps the SNS envelope carried in an SQS body
func parseRecord(body string) (notification.TradeEvent, error) {
	var envelope struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return notification.TradeEvent{}, fmt.Errorf("failed to parse SQS body: %w", err)
	}

	var event notification.TradeEvent
	if err := json.Unmarshal([]byte(envelope.Message), &event); err != nil {
		return notification.TradeEvent{}, fmt.Errorf("failed to parse trade event: %w", err)
	}
	if event.ID == "" {
		return notification.TradeEvent{}, fmt.Errorf("trade event has no id")
	}
	return event, nil
}

func (j *Journal) write(ctx context.Context, row TradeRecord) error {
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = j.writer.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(j.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

func main() {
	ctx := context.Background()
	logger := observability.NewLogger(os.Getenv("LOG_LEVEL"), "json").Named("trade-journal")

	awsCfg, err := awsplatform.LoadAWSConfig(ctx, awsplatform.Config{
		Region:   os.Getenv("AWS_REGION"),
		Endpoint: os.Getenv("AWS_ENDPOINT_URL"),
	})
	if err != nil {
		logger.LogError(ctx, "failed to load AWS config", err)
		os.Exit(1)
	}

	table := os.Getenv("TRADE_JOURNAL_TABLE")
	journal := NewJournal(dynamodb.NewFromConfig(awsCfg), table, logger)
	logger.LogInfo(ctx, "trade journal initialized", slog.String("table", journal.table))

	lambda.Start(journal.Handle)
}
