package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
)

// EventType определяет тип события изменения справочника.
type EventType string

const (
	EventTypeItemCreated     EventType = EventType(domain.HistoryItemCreated)
	EventTypeItemUpdated     EventType = EventType(domain.HistoryItemUpdated)
	EventTypeItemDeleted     EventType = EventType(domain.HistoryItemDeleted)
	EventTypeScopeResequence EventType = EventType(domain.HistoryScopeResequence)
)

// Topics для Kafka
const (
	TopicSequenceEvents  = "catalog.sequence.events"
	TopicDeadLetterQueue = "catalog.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderMessageID     = "x-message-id"
)

// SequenceEvent: полезная нагрузка outbox-сообщения: группа и её порядок после изменения.
type SequenceEvent struct {
	EventType EventType             `json:"event_type"`
	Kind      string                `json:"kind"`
	ParentID  string                `json:"parent_id,omitempty"`
	ItemID    string                `json:"item_id,omitempty"`
	Items     []domain.SequencePair `json:"items"`
	Timestamp time.Time             `json:"timestamp"`
}

// NewSequenceEvent строит событие из записи журнала.
func NewSequenceEvent(event domain.HistoryEvent) SequenceEvent {
	items := event.Order
	if items == nil {
		items = []domain.SequencePair{}
	}
	ts := event.Occurred
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return SequenceEvent{
		EventType: EventType(event.Type),
		Kind:      string(event.Scope.Kind),
		ParentID:  event.Scope.ParentID,
		ItemID:    event.ItemID,
		Items:     items,
		Timestamp: ts,
	}
}

// OutboxMessage упаковывает событие в outbox-сообщение (aggregate: группа).
func (e SequenceEvent) OutboxMessage() (domain.OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal sequence event: %w", err)
	}
	scope := domain.Scope{Kind: domain.Kind(e.Kind), ParentID: e.ParentID}
	return domain.OutboxMessage{
		AggregateType: e.Kind,
		AggregateID:   scope.Key(),
		EventType:     string(e.EventType),
		Payload:       payload,
	}, nil
}

// Envelope: формат сообщения в topic: метаданные outbox и исходный payload.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at,omitzero"`
	PublishedAt   time.Time       `json:"published_at"`
}

// ParseSequenceEvent разбирает сообщение из TopicSequenceEvents.
func ParseSequenceEvent(value []byte) (Envelope, SequenceEvent, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return Envelope{}, SequenceEvent{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var event SequenceEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return envelope, SequenceEvent{}, fmt.Errorf("unmarshal sequence event: %w", err)
	}
	return envelope, event, nil
}
