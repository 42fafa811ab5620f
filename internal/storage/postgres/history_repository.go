package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
)

const defaultHistoryLimit = 100

type historyRepository struct {
	db *sql.DB
}

// NewHistoryRepository создаёт PostgreSQL-реализацию HistoryRepository.
func NewHistoryRepository(store *Store) domain.HistoryRepository {
	return &historyRepository{db: store.DB()}
}

func (r *historyRepository) Append(ctx context.Context, event domain.HistoryEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	order := event.Order
	if order == nil {
		order = []domain.SequencePair{}
	}
	encoded, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal history order: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO history_events (kind, parent_id, event_type, item_id, sequence_order, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		string(event.Scope.Kind),
		event.Scope.ParentID,
		string(event.Type),
		event.ItemID,
		string(encoded),
		event.Occurred.UTC(),
	); err != nil {
		return fmt.Errorf("append history event: %w", err)
	}

	return nil
}

func (r *historyRepository) List(ctx context.Context, scope domain.Scope, limit int) ([]domain.HistoryEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, item_id, sequence_order, occurred_at
		FROM history_events
		WHERE kind = $1 AND parent_id = $2
		ORDER BY id DESC
		LIMIT $3
	`, string(scope.Kind), scope.ParentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.HistoryEvent, 0, limit)
	for rows.Next() {
		var (
			event   domain.HistoryEvent
			typeRaw string
			order   []byte
		)
		if err := rows.Scan(&typeRaw, &event.ItemID, &order, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan history event: %w", err)
		}
		if err := json.Unmarshal(order, &event.Order); err != nil {
			return nil, fmt.Errorf("decode history order: %w", err)
		}
		event.Scope = scope
		event.Type = domain.HistoryEventType(typeRaw)
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history events: %w", err)
	}

	// Выборка идёт от новых к старым, наружу отдаём хронологический порядок.
	slices.Reverse(events)
	return events, nil
}

var _ domain.HistoryRepository = (*historyRepository)(nil)
