package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDLQProducer_Publish_AddsDiagnosticHeaders(t *testing.T) {
	w := &fakeWriter{}
	failedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := &DLQProducer{writer: w, logger: testLogger(), now: func() time.Time { return failedAt }}

	original := kafka.Message{
		Topic:     "loyalty.voucher.credit_pending",
		Partition: 2,
		Offset:    41,
		Key:       []byte("v-1"),
		Value:     []byte(`{"event_id":"e-1"}`),
		Headers:   []kafka.Header{{Key: "event_type", Value: []byte("voucher.credit_pending")}},
	}

	require.NoError(t, d.Publish(context.Background(), original, errors.New("ledger timeout"), "voucher-service"))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "loyalty.dlq.loyalty.voucher.credit_pending", msg.Topic)
	assert.Equal(t, original.Value, msg.Value)
	assert.Equal(t, "voucher.credit_pending", headerValue(msg, "event_type"))
	assert.Equal(t, "2", headerValue(msg, "dlq.original_partition"))
	assert.Equal(t, "41", headerValue(msg, "dlq.original_offset"))
	assert.Equal(t, "voucher-service", headerValue(msg, "dlq.consumer_group"))
	assert.Equal(t, "ledger timeout", headerValue(msg, "dlq.error"))
	assert.Equal(t, "2026-03-01T12:00:00Z", headerValue(msg, HeaderDLQFailedAt))
	assert.Equal(t, original.Key, msg.Key)
}

func TestDLQProducer_Publish_WriteError(t *testing.T) {
	d := &DLQProducer{writer: &fakeWriter{err: errors.New("broker down")}, logger: testLogger()}

	err := d.Publish(context.Background(), kafka.Message{Topic: "t"}, nil, "g")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to DLQ loyalty.dlq.t")
}
