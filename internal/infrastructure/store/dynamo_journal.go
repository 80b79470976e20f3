package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/example/ec-checkout-saga/internal/domain/checkout"
)

// DynamoAPI is the subset of the DynamoDB client the journal uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoJournal keeps the saga transition history in a table keyed by
// saga_id (partition) and seq (sort).
type DynamoJournal struct {
	client    DynamoAPI
	tableName string
}

// dynamoJournalEntry represents the DynamoDB item structure
type dynamoJournalEntry struct {
	SagaID     string `dynamodbav:"saga_id"`
	Seq        int64  `dynamodbav:"seq"`
	MessageID  string `dynamodbav:"message_id"`
	Event      string `dynamodbav:"event"`
	From       string `dynamodbav:"from_state"`
	To         string `dynamodbav:"to_state"`
	Commands   string `dynamodbav:"commands"`
	RecordedAt string `dynamodbav:"recorded_at"`
}

func NewDynamoJournal(client DynamoAPI, tableName string) *DynamoJournal {
	return &DynamoJournal{client: client, tableName: tableName}
}

// Record stores the entry once. A redelivered transition that maps to an
// existing (saga_id, seq) is treated as already recorded.
func (j *DynamoJournal) Record(ctx context.Context, e checkout.JournalEntry) error {
	item := dynamoJournalEntry{
		SagaID:     e.SagaID,
		Seq:        e.Seq,
		MessageID:  e.MessageID,
		Event:      e.Event,
		From:       string(e.From),
		To:         string(e.To),
		Commands:   strings.Join(e.Commands, ","),
		RecordedAt: e.RecordedAt.Format(time.RFC3339Nano),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	_, err = j.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(j.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(saga_id) AND attribute_not_exists(seq)"),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to put journal entry: %w", err)
	}
	return nil
}

// History returns the entries of one saga in sequence order.
func (j *DynamoJournal) History(ctx context.Context, sagaID string) ([]checkout.JournalEntry, error) {
	var entries []checkout.JournalEntry
	var startKey map[string]types.AttributeValue
	for {
		result, err := j.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(j.tableName),
			KeyConditionExpression: aws.String("saga_id = :sid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sid": &types.AttributeValueMemberS{Value: sagaID},
			},
			ScanIndexForward:  aws.Bool(true), // Ascending order by seq
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query journal: %w", err)
		}

		for _, item := range result.Items {
			var de dynamoJournalEntry
			if err := attributevalue.UnmarshalMap(item, &de); err != nil {
				return nil, fmt.Errorf("failed to unmarshal journal entry: %w", err)
			}
			recordedAt, _ := time.Parse(time.RFC3339Nano, de.RecordedAt)
			var commands []string
			if de.Commands != "" {
				commands = strings.Split(de.Commands, ",")
			}
			entries = append(entries, checkout.JournalEntry{
				SagaID:     de.SagaID,
				Seq:        de.Seq,
				MessageID:  de.MessageID,
				Event:      de.Event,
				From:       checkout.State(de.From),
				To:         checkout.State(de.To),
				Commands:   commands,
				RecordedAt: recordedAt,
			})
		}

		if len(result.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		startKey = result.LastEvaluatedKey
	}
}
