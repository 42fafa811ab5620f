package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
)

func TestOutboxPublisher_PublishWrapsEnvelope(t *testing.T) {
	t.Parallel()

	producer, mockProducer := mockedProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicSequenceEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "submasters/metal" {
			return errors.New("unexpected key " + string(key))
		}
		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		if headers[HeaderEventType] != "scope.resequenced" || headers[HeaderMessageID] != "outbox-1" {
			return errors.New("required headers are missing")
		}

		value, _ := msg.Value.Encode()
		envelope, event, err := ParseSequenceEvent(value)
		if err != nil {
			return err
		}
		if envelope.ID != "outbox-1" || event.Kind != "submasters" || len(event.Items) != 2 {
			return errors.New("unexpected envelope contents")
		}
		return nil
	})

	message, err := NewSequenceEvent(domain.HistoryEvent{
		Scope: domain.Scope{Kind: domain.KindSubmaster, ParentID: "metal"},
		Type:  domain.HistoryScopeResequence,
		Order: []domain.SequencePair{{ID: "b", Sequence: 1}, {ID: "a", Sequence: 2}},
	}).OutboxMessage()
	require.NoError(t, err)
	message.ID = "outbox-1"

	publisher := NewOutboxPublisher(producer, "")
	require.Equal(t, TopicSequenceEvents, publisher.Topic())
	require.NoError(t, publisher.Publish(message))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	producer, mockProducer := mockedProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(producer, TopicDeadLetterQueue)
	err := publisher.Publish(domain.OutboxMessage{ID: "outbox-2", Payload: []byte(`{}`)})
	require.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicSequenceEvents)
	require.Error(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}))
}

func TestSequenceEvent_OutboxMessage(t *testing.T) {
	t.Parallel()

	event := NewSequenceEvent(domain.HistoryEvent{
		Scope:  domain.Scope{Kind: domain.KindMaster},
		Type:   domain.HistoryItemDeleted,
		ItemID: "m-2",
	})
	require.False(t, event.Timestamp.IsZero())
	require.NotNil(t, event.Items)

	msg, err := event.OutboxMessage()
	require.NoError(t, err)
	require.Equal(t, "masters", msg.AggregateType)
	require.Equal(t, "masters/", msg.AggregateID)
	require.Equal(t, "item.deleted", msg.EventType)

	var decoded SequenceEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	require.Equal(t, "m-2", decoded.ItemID)
	require.Empty(t, decoded.Items)
}

func TestPartitionKeyFallsBackToMessageID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "masters/", partitionKey(domain.OutboxMessage{ID: "m-1", AggregateID: "masters/"}))
	require.Equal(t, "m-1", partitionKey(domain.OutboxMessage{ID: "m-1"}))
}

func TestOutboxPublisher_EnvelopeKeepsEnqueueTime(t *testing.T) {
	t.Parallel()

	enqueued := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	published := enqueued.Add(time.Second)
	publisher := NewOutboxPublisher(nil, "")
	publisher.now = func() time.Time { return published }

	envelope := publisher.envelope(domain.OutboxMessage{ID: "m-1", CreatedAt: enqueued})
	require.Equal(t, enqueued, envelope.EnqueuedAt)
	require.Equal(t, published, envelope.PublishedAt)
	require.JSONEq(t, `null`, string(envelope.Payload))
}
