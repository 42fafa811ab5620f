package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
)

// historyRepositoryInMemory хранит журнал изменений порядка в памяти (для разработки/тестов).
type historyRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[domain.Scope][]domain.HistoryEvent
}

// NewHistoryRepository создаёт in-memory реализацию HistoryRepository.
func NewHistoryRepository() domain.HistoryRepository {
	return &historyRepositoryInMemory{events: make(map[domain.Scope][]domain.HistoryEvent)}
}

// Append добавляет событие в конец журнала группы.
func (r *historyRepositoryInMemory) Append(_ context.Context, event domain.HistoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	event.Order = append([]domain.SequencePair(nil), event.Order...)
	r.events[event.Scope] = append(r.events[event.Scope], event)
	return nil
}

// List возвращает последние limit событий группы в хронологическом порядке.
func (r *historyRepositoryInMemory) List(_ context.Context, scope domain.Scope, limit int) ([]domain.HistoryEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[scope]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	result := make([]domain.HistoryEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.HistoryRepository = (*historyRepositoryInMemory)(nil)
