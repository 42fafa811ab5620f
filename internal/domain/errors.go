package domain

import (
	"errors"

	"github.com/vladislavdragonenkov/jewelry/internal/ordering"
)

var (
	// Ошибка неподдерживаемого типа справочника.
	ErrKindUnsupported = errors.New("unsupported kind")
	// Ошибка пустого наименования.
	ErrNameRequired = errors.New("name is required")
	// Ошибка отсутствующего parent_id для вложенного справочника.
	ErrParentRequired = errors.New("parent_id is required")
	// Ошибка parent_id у справочника без вложенности.
	ErrParentNotAllowed = errors.New("parent_id is not allowed for this kind")
	// Ошибка ссылки на несуществующего родителя.
	ErrParentNotFound = errors.New("parent not found")
	// Ошибка атрибутов, не являющихся JSON-объектом.
	ErrAttributesInvalid = errors.New("attributes must be a JSON object")
	// Ошибка пустого пакета resequence.
	ErrSequenceItemsRequired = errors.New("sequence items are required")
	// Ошибка пакета, затрагивающего элементы разных справочников.
	ErrKindMismatch = errors.New("item belongs to another kind")
	// ErrItemNotFound возвращается, если элемент не найден в репозитории.
	ErrItemNotFound = errors.New("item not found")
	// ErrItemVersionConflict сигнализирует о конфликте версий при обновлении полей.
	ErrItemVersionConflict = errors.New("item version conflict")
	// ErrItemAlreadyExists возвращается при повторном создании элемента с тем же ID.
	ErrItemAlreadyExists = errors.New("item already exists")
	// ErrSequenceConflict: параллельная транзакция нарушила уникальность sequence в группе.
	ErrSequenceConflict = errors.New("concurrent sequence update")
	// ErrHasChildren: удаление master, у которого остались submaster-элементы.
	ErrHasChildren = errors.New("item has children")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyAlreadyExists: ключ уже принят и ещё обрабатывается.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound: запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyRequired: пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой hash тела запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrItemVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности нельзя использовать для запроса.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsInvalidSequence проверяет, что ошибка вызвана некорректным порядком или индексом.
func IsInvalidSequence(err error) bool {
	return errors.Is(err, ordering.ErrInvalidIndex) ||
		errors.Is(err, ordering.ErrSequenceGap) ||
		errors.Is(err, ordering.ErrSequenceDuplicate) ||
		errors.Is(err, ordering.ErrDuplicatePair)
}

// IsNotFound объединяет отсутствие элемента в хранилище и в упорядоченном списке.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) || errors.Is(err, ordering.ErrItemNotFound)
}
