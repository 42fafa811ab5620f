// Package catalog реализует операции над упорядоченными справочниками:
// CRUD, перестановку элементов и пакетное обновление порядка.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/jewelry/internal/metrics"
	"github.com/vladislavdragonenkov/jewelry/internal/ordering"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500

	defaultHistoryLimit = 100
)

// Названия операций для метрик.
const (
	opCreate     = "create"
	opGet        = "get"
	opList       = "list"
	opUpdate     = "update"
	opDelete     = "delete"
	opMove       = "move"
	opResequence = "resequence"
	opHistory    = "history"
)

// Service: прикладной сервис справочников.
type Service struct {
	items   domain.ItemRepository
	history domain.HistoryRepository
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.CatalogMetrics
	now     func() time.Time
	newID   func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает запись метрик.
func WithMetrics(m *metrics.CatalogMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов новых элементов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewService создаёт сервис. history и outbox могут быть nil: тогда журнал и события не пишутся.
func NewService(items domain.ItemRepository, history domain.HistoryRepository, outbox domain.OutboxRepository, opts ...Option) *Service {
	s := &Service{
		items:   items,
		history: history,
		outbox:  outbox,
		logger:  log.WithField("component", "catalog-service"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput: поля нового элемента; sequence назначается сервером.
type CreateInput struct {
	Kind       domain.Kind
	ParentID   string
	Name       string
	Attributes []byte
}

// UpdateInput: изменяемые поля элемента и ожидаемая версия.
type UpdateInput struct {
	Kind       domain.Kind
	ID         string
	Name       string
	Attributes []byte
	Version    int64
}

// Create добавляет элемент в конец группы.
func (s *Service) Create(ctx context.Context, in CreateInput) (created domain.Item, err error) {
	defer s.observe(in.Kind, opCreate, time.Now(), &err)

	now := s.now()
	item := domain.Item{
		ID:         s.newID(),
		Kind:       in.Kind,
		ParentID:   strings.TrimSpace(in.ParentID),
		Name:       strings.TrimSpace(in.Name),
		Attributes: in.Attributes,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if errs := item.Validate(); len(errs) > 0 {
		return domain.Item{}, errors.Join(errs...)
	}

	created, err = s.items.Insert(ctx, item)
	if err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}

	s.recordScope(ctx, created.Scope(), domain.HistoryItemCreated, created.ID)
	return created, nil
}

// Get возвращает элемент справочника.
func (s *Service) Get(ctx context.Context, kind domain.Kind, id string) (item domain.Item, err error) {
	defer s.observe(kind, opGet, time.Now(), &err)

	if !kind.Valid() {
		return domain.Item{}, domain.ErrKindUnsupported
	}
	return s.items.Get(ctx, kind, id)
}

// List возвращает страницу элементов, упорядоченную по (parent_id, sequence).
func (s *Service) List(ctx context.Context, filter domain.ListFilter) (page domain.ItemPage, err error) {
	defer s.observe(filter.Kind, opList, time.Now(), &err)

	if !filter.Kind.Valid() {
		return domain.ItemPage{}, domain.ErrKindUnsupported
	}
	filter = NormalizeFilter(filter)
	return s.items.Find(ctx, filter)
}

// NormalizeFilter подставляет значения по умолчанию для page/limit.
func NormalizeFilter(filter domain.ListFilter) domain.ListFilter {
	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultPageLimit
	case filter.Limit > MaxPageLimit:
		filter.Limit = MaxPageLimit
	}
	filter.Query = strings.TrimSpace(filter.Query)
	return filter
}

// Update меняет name/attributes; sequence и группа не меняются.
func (s *Service) Update(ctx context.Context, in UpdateInput) (updated domain.Item, err error) {
	defer s.observe(in.Kind, opUpdate, time.Now(), &err)

	if !in.Kind.Valid() {
		return domain.Item{}, domain.ErrKindUnsupported
	}
	current, err := s.items.Get(ctx, in.Kind, in.ID)
	if err != nil {
		return domain.Item{}, err
	}

	next := current
	next.Name = strings.TrimSpace(in.Name)
	next.Attributes = in.Attributes
	next.Version = in.Version
	next.UpdatedAt = s.now()
	if errs := next.Validate(); len(errs) > 0 {
		return domain.Item{}, errors.Join(errs...)
	}

	updated, err = s.items.Update(ctx, next)
	if err != nil {
		return domain.Item{}, err
	}

	s.recordScope(ctx, updated.Scope(), domain.HistoryItemUpdated, updated.ID)
	return updated, nil
}

// Delete удаляет элемент и перенумеровывает остаток группы.
// Master с дочерними submaster удалить нельзя.
func (s *Service) Delete(ctx context.Context, kind domain.Kind, id string) (err error) {
	defer s.observe(kind, opDelete, time.Now(), &err)

	if !kind.Valid() {
		return domain.ErrKindUnsupported
	}
	deleted, remaining, err := s.items.Delete(ctx, kind, id)
	if err != nil {
		return err
	}

	s.record(ctx, deleted.Scope(), domain.HistoryItemDeleted, deleted.ID, remaining)
	return nil
}

// Move переносит элемент группы с позиции from на позицию to и возвращает новый порядок.
func (s *Service) Move(ctx context.Context, scope domain.Scope, from, to int) (items []domain.Item, err error) {
	defer s.observe(scope.Kind, opMove, time.Now(), &err)

	if !scope.Kind.Valid() {
		return nil, domain.ErrKindUnsupported
	}

	current, err := s.items.ListScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list scope: %w", err)
	}

	moved, err := ordering.Move(current, from, to)
	if err != nil {
		s.metrics.RecordRejectedSequence(string(scope.Kind))
		return nil, err
	}
	if from == to {
		return moved, nil
	}

	updated, err := s.items.ApplySequences(ctx, scope.Kind, ordering.Pairs(moved))
	if err != nil {
		if domain.IsInvalidSequence(err) {
			s.metrics.RecordRejectedSequence(string(scope.Kind))
		}
		return nil, err
	}

	items = updated[scope]
	movedID := current[from].ID
	s.record(ctx, scope, domain.HistoryScopeResequence, movedID, items)
	return items, nil
}

// Resequence применяет пакет {id, sequence}. Пакет может затрагивать несколько групп
// одного справочника; каждая группа после применения должна образовывать 1..N.
// Возвращает количество обработанных пар.
func (s *Service) Resequence(ctx context.Context, kind domain.Kind, pairs []domain.SequencePair) (updated int, err error) {
	defer s.observe(kind, opResequence, time.Now(), &err)

	if !kind.Valid() {
		return 0, domain.ErrKindUnsupported
	}
	if len(pairs) == 0 {
		return 0, domain.ErrSequenceItemsRequired
	}
	s.metrics.RecordResequenceBatch(len(pairs))

	scopes, err := s.items.ApplySequences(ctx, kind, pairs)
	if err != nil {
		if domain.IsInvalidSequence(err) {
			s.metrics.RecordRejectedSequence(string(kind))
		}
		return 0, err
	}

	keys := make([]domain.Scope, 0, len(scopes))
	for scope := range scopes {
		keys = append(keys, scope)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Key() < keys[j].Key() })
	for _, scope := range keys {
		s.record(ctx, scope, domain.HistoryScopeResequence, "", scopes[scope])
	}

	return len(pairs), nil
}

// History возвращает последние изменения порядка в группе.
func (s *Service) History(ctx context.Context, scope domain.Scope, limit int) (events []domain.HistoryEvent, err error) {
	defer s.observe(scope.Kind, opHistory, time.Now(), &err)

	if !scope.Kind.Valid() {
		return nil, domain.ErrKindUnsupported
	}
	if s.history == nil {
		return []domain.HistoryEvent{}, nil
	}
	if limit <= 0 || limit > MaxPageLimit {
		limit = defaultHistoryLimit
	}
	return s.history.List(ctx, scope, limit)
}

// recordScope перечитывает группу и фиксирует её порядок в журнале.
func (s *Service) recordScope(ctx context.Context, scope domain.Scope, eventType domain.HistoryEventType, itemID string) {
	items, err := s.items.ListScope(ctx, scope)
	if err != nil {
		s.logger.WithError(err).WithField("scope", scope.Key()).Warn("failed to read scope for history")
		return
	}
	s.record(ctx, scope, eventType, itemID, items)
}

// record пишет событие в журнал и outbox. Мутация уже зафиксирована,
// поэтому ошибки только логируются.
func (s *Service) record(ctx context.Context, scope domain.Scope, eventType domain.HistoryEventType, itemID string, items []domain.Item) {
	event := domain.HistoryEvent{
		Scope:    scope,
		Type:     eventType,
		ItemID:   itemID,
		Order:    ordering.Pairs(items),
		Occurred: s.now(),
	}
	entry := s.logger.WithFields(log.Fields{
		"scope":      scope.Key(),
		"event_type": eventType,
		"item_id":    itemID,
	})

	if s.history != nil {
		if err := s.history.Append(ctx, event); err != nil {
			entry.WithError(err).Warn("failed to append history event")
		} else {
			s.metrics.RecordHistoryEvent()
		}
	}

	if s.outbox == nil {
		return
	}
	msg, err := kafka.NewSequenceEvent(event).OutboxMessage()
	if err != nil {
		entry.WithError(err).Warn("failed to build outbox message")
		return
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		entry.WithError(err).Warn("failed to enqueue outbox message")
		return
	}
	s.metrics.RecordOutboxEvent(string(eventType))
	entry.Debug("sequence event recorded")
}

func (s *Service) observe(kind domain.Kind, operation string, start time.Time, err *error) {
	s.metrics.RecordOperation(string(kind), operation, time.Since(start), *err)
}
