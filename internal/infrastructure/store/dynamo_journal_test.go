package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/example/ec-checkout-saga/internal/domain/checkout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo honours the journal's condition expression and pages query
// results two items at a time.
type fakeDynamo struct {
	items    map[string]map[string]types.AttributeValue
	putCalls int
	putErr   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(item map[string]types.AttributeValue) (string, int64) {
	sid := item["saga_id"].(*types.AttributeValueMemberS).Value
	seq, _ := strconv.ParseInt(item["seq"].(*types.AttributeValueMemberN).Value, 10, 64)
	return sid, seq
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putCalls++
	if f.putErr != nil {
		return nil, f.putErr
	}
	sid, seq := keyOf(in.Item)
	k := fmt.Sprintf("%s|%d", sid, seq)
	if _, ok := f.items[k]; ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	sid := in.ExpressionAttributeValues[":sid"].(*types.AttributeValueMemberS).Value
	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if s, _ := keyOf(item); s == sid {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		_, a := keyOf(matched[i])
		_, b := keyOf(matched[j])
		return a < b
	})

	start := 0
	if in.ExclusiveStartKey != nil {
		_, after := keyOf(in.ExclusiveStartKey)
		for start < len(matched) {
			if _, seq := keyOf(matched[start]); seq > after {
				break
			}
			start++
		}
	}
	end := start + 2
	if end > len(matched) {
		end = len(matched)
	}
	out := &dynamodb.QueryOutput{Items: matched[start:end]}
	if end < len(matched) {
		out.LastEvaluatedKey = matched[end-1]
	}
	return out, nil
}

func entry(seq int64, from, to checkout.State) checkout.JournalEntry {
	return checkout.JournalEntry{
		SagaID:     "order-1",
		Seq:        seq,
		MessageID:  fmt.Sprintf("msg-%d", seq),
		Event:      "Event",
		From:       from,
		To:         to,
		RecordedAt: time.Date(2026, 3, 1, 12, 0, int(seq), 0, time.UTC),
	}
}

// ============================================
// DynamoJournal Tests
// ============================================

func TestDynamoJournal_RecordAndHistory(t *testing.T) {
	client := newFakeDynamo()
	journal := NewDynamoJournal(client, "saga-journal")
	ctx := context.Background()

	started := entry(1, checkout.StateNone, checkout.StateSubmitted)
	started.Commands = []string{"ReserveStockForOrder"}
	require.NoError(t, journal.Record(ctx, started))
	require.NoError(t, journal.Record(ctx, entry(2, checkout.StateSubmitted, checkout.StateStockReserved)))
	require.NoError(t, journal.Record(ctx, entry(3, checkout.StateStockReserved, checkout.StateConfirmed)))

	history, err := journal.History(ctx, "order-1")

	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"ReserveStockForOrder"}, history[0].Commands)
	assert.Equal(t, checkout.StateConfirmed, history[2].To)
	assert.Equal(t, started.RecordedAt, history[0].RecordedAt)
	assert.Nil(t, history[1].Commands)
}

func TestDynamoJournal_RecordTwiceKeepsFirst(t *testing.T) {
	client := newFakeDynamo()
	journal := NewDynamoJournal(client, "saga-journal")
	ctx := context.Background()

	require.NoError(t, journal.Record(ctx, entry(1, checkout.StateNone, checkout.StateSubmitted)))
	dup := entry(1, checkout.StateNone, checkout.StateFailed)
	require.NoError(t, journal.Record(ctx, dup))

	history, err := journal.History(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, checkout.StateSubmitted, history[0].To)
	assert.Equal(t, 2, client.putCalls)
}

func TestDynamoJournal_RecordError(t *testing.T) {
	client := newFakeDynamo()
	client.putErr = errors.New("throttled")
	journal := NewDynamoJournal(client, "saga-journal")

	err := journal.Record(context.Background(), entry(1, checkout.StateNone, checkout.StateSubmitted))

	assert.ErrorContains(t, err, "throttled")
}
