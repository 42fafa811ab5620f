package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
)

const defaultOutboxBatch = 100

type outboxEntry struct {
	msg      domain.OutboxMessage
	status   domain.OutboxStatus
	attempts int
	order    uint64
}

// OutboxRepository держит очередь событий порядка в памяти процесса.
// Сообщения не переживают рестарт.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries map[string]*outboxEntry
	counter uint64
	now     func() time.Time
}

// NewOutboxRepository создаёт пустую очередь.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		entries: make(map[string]*outboxEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := r.entries[msg.ID]; exists {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message %s: duplicate id", msg.ID)
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	msg.CreatedAt = r.now()

	r.counter++
	r.entries[msg.ID] = &outboxEntry{msg: msg, status: domain.OutboxStatusPending, order: r.counter}
	return msg, nil
}

// PullPending отдаёт не больше limit сообщений в порядке постановки.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pending()
	out := make([]domain.OutboxMessage, 0, min(limit, len(pending)))
	for _, entry := range pending {
		if len(out) == limit {
			break
		}
		out = append(out, entry.msg)
	}
	return out, nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pending()
	if len(pending) == 0 {
		return domain.OutboxStats{}, nil
	}
	return domain.OutboxStats{PendingCount: len(pending), OldestPendingAt: pending[0].msg.CreatedAt}, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.transition(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.transition(id, domain.OutboxStatusFailed)
}

// AllPending возвращает все неотправленные сообщения (для тестов).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pending()
	out := make([]domain.OutboxMessage, len(pending))
	for i, entry := range pending {
		out[i] = entry.msg
	}
	return out
}

// Attempts возвращает число попыток публикации сообщения.
func (r *OutboxRepository) Attempts(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.entries[id]; ok {
		return entry.attempts
	}
	return 0
}

func (r *OutboxRepository) transition(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: message %s not found", domain.ErrOutboxPublish, id)
	}
	entry.status = status
	entry.attempts++
	return nil
}

// pending вызывается под блокировкой.
func (r *OutboxRepository) pending() []*outboxEntry {
	out := make([]*outboxEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.status == domain.OutboxStatusPending {
			out = append(out, entry)
		}
	}
	slices.SortFunc(out, func(a, b *outboxEntry) int {
		switch {
		case a.order < b.order:
			return -1
		case a.order > b.order:
			return 1
		default:
			return 0
		}
	})
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
