package domain

import "context"

// ListFilter задаёт выборку элементов справочника для табличных экранов.
type ListFilter struct {
	Kind Kind
	// ParentID ограничивает выборку одной группой; пустое значение означает все группы справочника.
	ParentID string
	// Query: подстрока наименования без учёта регистра.
	Query string
	// Attributes: точные совпадения по атрибутам верхнего уровня.
	Attributes map[string]string
	Page       int
	Limit      int
}

// Offset вычисляет смещение для постраничной выборки (page начинается с 1).
func (f ListFilter) Offset() int {
	if f.Page <= 1 || f.Limit <= 0 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// ItemPage: страница результата и общее количество подходящих элементов.
type ItemPage struct {
	Items []Item
	Total int
}

// ItemRepository описывает требования к хранилищу справочников.
// Все мутации группы сохраняют инвариант: sequence образует ровно 1..N.
type ItemRepository interface {
	// Insert добавляет элемент в конец группы (sequence = max + 1) и возвращает сохранённую копию.
	// Для вложенного справочника родитель проверяется в той же транзакции (ErrParentNotFound).
	Insert(ctx context.Context, item Item) (Item, error)
	// Get возвращает элемент или ErrItemNotFound.
	Get(ctx context.Context, kind Kind, id string) (Item, error)
	// ListScope возвращает всю группу в порядке sequence.
	ListScope(ctx context.Context, scope Scope) ([]Item, error)
	// Find возвращает страницу элементов по фильтру, упорядоченную по (parent_id, sequence).
	Find(ctx context.Context, filter ListFilter) (ItemPage, error)
	// Update сохраняет name/attributes с учётом optimistic locking; sequence не меняется.
	Update(ctx context.Context, item Item) (Item, error)
	// Delete удаляет элемент и перенумеровывает оставшиеся элементы группы.
	// Элемент, на который ссылаются дочерние записи, не удаляется (ErrHasChildren).
	Delete(ctx context.Context, kind Kind, id string) (Item, []Item, error)
	// ApplySequences атомарно применяет пакет {id, sequence}; для каждой затронутой группы
	// результат обязан остаться плотным. Возвращает обновлённые группы.
	// Версии не проверяются: последний зафиксированный пакет определяет порядок.
	ApplySequences(ctx context.Context, kind Kind, pairs []SequencePair) (map[Scope][]Item, error)
}
