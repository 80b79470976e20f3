package kafka

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/example/ec-checkout-saga/internal/messaging"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves msgs in order and then reports io.EOF.
type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	commitErr error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type dlqRecord struct {
	topic   string
	key     string
	headers map[string]string
}

type fakeDLQ struct {
	records []dlqRecord
	err     error
}

func (d *fakeDLQ) Publish(_ context.Context, topic, key string, _ []byte, headers ...kafka.Header) error {
	if d.err != nil {
		return d.err
	}
	h := make(map[string]string)
	for _, hd := range headers {
		h[hd.Key] = string(hd.Value)
	}
	d.records = append(d.records, dlqRecord{topic: topic, key: key, headers: h})
	return nil
}

func fastRetry() messaging.RetryPolicy {
	return messaging.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func message(offset int64) kafka.Message {
	return kafka.Message{Topic: "inventory-commands", Partition: 0, Offset: offset, Key: []byte("order-1"), Value: []byte(`{}`)}
}

// ============================================
// Consumer Tests
// ============================================

func TestConsumer_CommitsHandledMessages(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{message(1), message(2)}}
	c := newConsumer(reader, "test", WithRetryPolicy(fastRetry()))

	var seen []string
	err := c.Consume(context.Background(), func(_ context.Context, key, _ []byte) error {
		seen = append(seen, string(key))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"order-1", "order-1"}, seen)
	assert.Equal(t, []int64{1, 2}, reader.committed)
}

func TestConsumer_RetriesTransientFailure(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{message(7)}}
	c := newConsumer(reader, "test", WithRetryPolicy(fastRetry()))

	calls := 0
	err := c.Consume(context.Background(), func(context.Context, []byte, []byte) error {
		calls++
		if calls < 3 {
			return errors.New("db timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, reader.committed)
}

func TestConsumer_PermanentFailureGoesToDeadLetter(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{message(3), message(4)}}
	dlq := &fakeDLQ{}
	c := newConsumer(reader, "test", WithRetryPolicy(fastRetry()), WithDeadLetter(dlq))

	calls := 0
	err := c.Consume(context.Background(), func(context.Context, []byte, []byte) error {
		calls++
		if calls == 1 {
			return messaging.Permanent(errors.New("malformed payload"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, dlq.records, 1)
	assert.Equal(t, "inventory-commands.dlq", dlq.records[0].topic)
	assert.Equal(t, "order-1", dlq.records[0].key)
	assert.Equal(t, "malformed payload", dlq.records[0].headers[HeaderDeadLetterError])
	assert.Equal(t, "3", dlq.records[0].headers[HeaderDeadLetterOffset])
	assert.Equal(t, []int64{3, 4}, reader.committed)
}

func TestConsumer_ExhaustedRetriesGoToDeadLetter(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{message(5)}}
	dlq := &fakeDLQ{}
	c := newConsumer(reader, "test", WithRetryPolicy(fastRetry()), WithDeadLetter(dlq))

	calls := 0
	err := c.Consume(context.Background(), func(context.Context, []byte, []byte) error {
		calls++
		return errors.New("broker down")
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, dlq.records, 1)
	assert.Equal(t, []int64{5}, reader.committed)
}

func TestConsumer_StopsWhenDeadLetterFails(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{message(9)}}
	dlq := &fakeDLQ{err: errors.New("dlq unavailable")}
	c := newConsumer(reader, "test", WithRetryPolicy(fastRetry()), WithDeadLetter(dlq))

	err := c.Consume(context.Background(), func(context.Context, []byte, []byte) error {
		return messaging.Permanent(errors.New("bad"))
	})

	assert.ErrorContains(t, err, "dlq unavailable")
	assert.Empty(t, reader.committed)
}

func TestConsumer_StopsWithoutDeadLetterTopic(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{message(2)}}
	c := newConsumer(reader, "test", WithRetryPolicy(fastRetry()))

	err := c.Consume(context.Background(), func(context.Context, []byte, []byte) error {
		return messaging.Permanent(errors.New("bad"))
	})

	assert.ErrorContains(t, err, "bad")
	assert.Empty(t, reader.committed)
}

func TestConsumer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newConsumer(&fakeReader{msgs: []kafka.Message{message(1)}}, "test")

	err := c.Consume(ctx, func(context.Context, []byte, []byte) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}
