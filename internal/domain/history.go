package domain

import "time"

// HistoryEventType классифицирует изменения порядка в группе.
type HistoryEventType string

const (
	HistoryItemCreated     HistoryEventType = "item.created"
	HistoryItemUpdated     HistoryEventType = "item.updated"
	HistoryItemDeleted     HistoryEventType = "item.deleted"
	HistoryScopeResequence HistoryEventType = "scope.resequenced"
)

// HistoryEvent описывает одно изменение группы: кто сдвинулся и каким стал порядок.
type HistoryEvent struct {
	Scope    Scope
	Type     HistoryEventType
	ItemID   string
	Order    []SequencePair
	Occurred time.Time
}
