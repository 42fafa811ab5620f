package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/ordering"
)

// itemRepositoryInMemory: in-memory реализация ItemRepository.
// Каждая группа хранится срезом в порядке sequence; один мьютекс сериализует все мутации.
type itemRepositoryInMemory struct {
	mu     sync.RWMutex
	scopes map[domain.Scope][]domain.Item
	index  map[string]domain.Scope
	now    func() time.Time
}

// NewItemRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewItemRepository() domain.ItemRepository {
	return &itemRepositoryInMemory{
		scopes: make(map[domain.Scope][]domain.Item),
		index:  make(map[string]domain.Scope),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Insert добавляет элемент в конец группы.
func (r *itemRepositoryInMemory) Insert(_ context.Context, item domain.Item) (domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[item.ID]; exists {
		return domain.Item{}, domain.ErrItemAlreadyExists
	}
	if parentKind, nested := item.Kind.ParentKind(); nested {
		if _, _, ok := r.locate(parentKind, item.ParentID); !ok {
			return domain.Item{}, fmt.Errorf("%w: %s %s", domain.ErrParentNotFound, parentKind, item.ParentID)
		}
	}

	scope := item.Scope()
	updated := ordering.Append(r.scopes[scope], cloneItem(item))
	r.scopes[scope] = updated
	r.index[item.ID] = scope

	return cloneItem(updated[len(updated)-1]), nil
}

// Get возвращает элемент или ErrItemNotFound.
func (r *itemRepositoryInMemory) Get(_ context.Context, kind domain.Kind, id string) (domain.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, idx, ok := r.locate(kind, id)
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	scope := r.index[id]
	return cloneItem(r.scopes[scope][idx]), nil
}

// ListScope возвращает копию группы в порядке sequence.
func (r *itemRepositoryInMemory) ListScope(_ context.Context, scope domain.Scope) ([]domain.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return cloneItems(r.scopes[scope]), nil
}

// Find фильтрует элементы справочника и возвращает запрошенную страницу.
func (r *itemRepositoryInMemory) Find(_ context.Context, filter domain.ListFilter) (domain.ItemPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scopes := make([]domain.Scope, 0)
	for scope := range r.scopes {
		if scope.Kind != filter.Kind {
			continue
		}
		if filter.ParentID != "" && scope.ParentID != filter.ParentID {
			continue
		}
		scopes = append(scopes, scope)
	}
	slices.SortFunc(scopes, func(a, b domain.Scope) int {
		return cmp.Compare(a.ParentID, b.ParentID)
	})

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	matched := make([]domain.Item, 0)
	for _, scope := range scopes {
		for _, item := range r.scopes[scope] {
			if query != "" && !strings.Contains(strings.ToLower(item.Name), query) {
				continue
			}
			if !matchAttributes(item, filter.Attributes) {
				continue
			}
			matched = append(matched, item)
		}
	}

	page := domain.ItemPage{Total: len(matched)}
	offset := filter.Offset()
	if offset >= len(matched) {
		page.Items = []domain.Item{}
		return page, nil
	}
	end := len(matched)
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}
	page.Items = cloneItems(matched[offset:end])
	return page, nil
}

// Update перезаписывает name/attributes, проверяя версию (optimistic locking).
func (r *itemRepositoryInMemory) Update(_ context.Context, item domain.Item) (domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scope, idx, ok := r.locate(item.Kind, item.ID)
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}

	current := r.scopes[scope][idx]
	if current.Version != item.Version {
		return domain.Item{}, domain.ErrItemVersionConflict
	}

	current.Name = item.Name
	current.Attributes = append([]byte(nil), item.Attributes...)
	current.Version++
	current.UpdatedAt = r.now()
	r.scopes[scope][idx] = current

	return cloneItem(current), nil
}

// Delete удаляет элемент и закрывает пропуск в нумерации группы.
func (r *itemRepositoryInMemory) Delete(_ context.Context, kind domain.Kind, id string) (domain.Item, []domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scope, idx, ok := r.locate(kind, id)
	if !ok {
		return domain.Item{}, nil, domain.ErrItemNotFound
	}
	if childKind, ok := kind.ChildKind(); ok {
		if children := len(r.scopes[domain.Scope{Kind: childKind, ParentID: id}]); children > 0 {
			return domain.Item{}, nil, fmt.Errorf("%w: %d %s", domain.ErrHasChildren, children, childKind)
		}
	}

	current := r.scopes[scope]
	deleted := current[idx]
	remaining, err := ordering.Remove(current, id)
	if err != nil {
		return domain.Item{}, nil, err
	}

	r.store(scope, current, remaining)
	delete(r.index, id)

	return cloneItem(deleted), cloneItems(remaining), nil
}

// ApplySequences применяет пакет атомарно: либо все группы обновлены, либо ни одна.
func (r *itemRepositoryInMemory) ApplySequences(_ context.Context, kind domain.Kind, pairs []domain.SequencePair) (map[domain.Scope][]domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	grouped := make(map[domain.Scope][]domain.SequencePair)
	for _, pair := range pairs {
		scope, ok := r.index[pair.ID]
		if !ok {
			return nil, domain.ErrItemNotFound
		}
		if scope.Kind != kind {
			return nil, domain.ErrKindMismatch
		}
		grouped[scope] = append(grouped[scope], pair)
	}

	next := make(map[domain.Scope][]domain.Item, len(grouped))
	for scope, scopePairs := range grouped {
		updated, err := ordering.ApplyPairs(r.scopes[scope], scopePairs)
		if err != nil {
			return nil, err
		}
		next[scope] = updated
	}

	result := make(map[domain.Scope][]domain.Item, len(next))
	for scope, updated := range next {
		r.store(scope, r.scopes[scope], updated)
		result[scope] = cloneItems(r.scopes[scope])
	}

	return result, nil
}

// store сохраняет новую версию группы, обновляя updated_at у сдвинутых элементов.
func (r *itemRepositoryInMemory) store(scope domain.Scope, previous, updated []domain.Item) {
	before := make(map[string]int, len(previous))
	for _, item := range previous {
		before[item.ID] = item.Sequence
	}

	now := r.now()
	for i := range updated {
		if seq, ok := before[updated[i].ID]; ok && seq != updated[i].Sequence {
			updated[i].UpdatedAt = now
		}
	}

	if len(updated) == 0 {
		delete(r.scopes, scope)
		return
	}
	r.scopes[scope] = updated
}

func (r *itemRepositoryInMemory) locate(kind domain.Kind, id string) (domain.Scope, int, bool) {
	scope, ok := r.index[id]
	if !ok || scope.Kind != kind {
		return domain.Scope{}, -1, false
	}
	idx := ordering.IndexOf(r.scopes[scope], id)
	return scope, idx, idx >= 0
}

func matchAttributes(item domain.Item, attrs map[string]string) bool {
	for name, want := range attrs {
		got, ok := item.AttributeString(name)
		if !ok || !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}

func cloneItem(src domain.Item) domain.Item {
	dst := src
	if src.Attributes != nil {
		dst.Attributes = append([]byte(nil), src.Attributes...)
	}
	return dst
}

func cloneItems(src []domain.Item) []domain.Item {
	dst := make([]domain.Item, 0, len(src))
	for _, item := range src {
		dst = append(dst, cloneItem(item))
	}
	return dst
}

var _ domain.ItemRepository = (*itemRepositoryInMemory)(nil)
