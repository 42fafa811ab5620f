package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/jewelry/internal/ordering"
)

// Kind: тип справочника, элементы которого упорядочиваются через sequence.
type Kind string

const (
	// KindMaster: верхний уровень классификации материалов (Metal, Diamond, ...).
	KindMaster Kind = "masters"
	// KindSubmaster: подкатегория, принадлежащая ровно одному master (Gold, Round-cut, ...).
	KindSubmaster Kind = "submasters"
	// KindRawMaterial: позиции склада сырья.
	KindRawMaterial Kind = "raw_materials"
	// KindRejection: причины отбраковки в производстве.
	KindRejection Kind = "rejections"
	// KindProductionStage: этапы производственного трекера.
	KindProductionStage Kind = "production_stages"
)

// Kinds перечисляет все поддерживаемые справочники.
func Kinds() []Kind {
	return []Kind{KindMaster, KindSubmaster, KindRawMaterial, KindRejection, KindProductionStage}
}

// Valid проверяет, что тип справочника поддерживается.
func (k Kind) Valid() bool {
	switch k {
	case KindMaster, KindSubmaster, KindRawMaterial, KindRejection, KindProductionStage:
		return true
	default:
		return false
	}
}

// ParentKind возвращает тип родителя, если элементы справочника группируются по parent_id.
func (k Kind) ParentKind() (Kind, bool) {
	if k == KindSubmaster {
		return KindMaster, true
	}
	return "", false
}

// ChildKind возвращает тип справочника, элементы которого ссылаются на элементы k.
func (k Kind) ChildKind() (Kind, bool) {
	if k == KindMaster {
		return KindSubmaster, true
	}
	return "", false
}

// Scope: группа соседних записей с независимой нумерацией.
type Scope struct {
	Kind     Kind
	ParentID string
}

// Key возвращает стабильный строковый ключ группы (используется как aggregate_id и ключ блокировки).
func (s Scope) Key() string {
	return string(s.Kind) + "/" + s.ParentID
}

// SequencePair: элемент пакетного обновления порядка.
type SequencePair = ordering.Pair

// Item: элемент справочника.
type Item struct {
	ID       string
	Kind     Kind
	ParentID string
	Sequence int
	Name     string
	// Attributes: непрозрачный JSON-объект с бизнес-полями конкретного справочника.
	Attributes json.RawMessage
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Scope возвращает группу, к которой относится элемент.
func (i Item) Scope() Scope {
	return Scope{Kind: i.Kind, ParentID: i.ParentID}
}

// SequenceKey реализует ordering.Sequenced.
func (i Item) SequenceKey() string { return i.ID }

// SequenceValue реализует ordering.Sequenced.
func (i Item) SequenceValue() int { return i.Sequence }

// WithSequence реализует ordering.Sequenced.
func (i Item) WithSequence(seq int) Item {
	i.Sequence = seq
	return i
}

// Validate проверяет обязательные поля элемента и возвращает список замечаний.
func (i *Item) Validate() []error {
	var errs []error

	if !i.Kind.Valid() {
		errs = append(errs, ErrKindUnsupported)
	}
	if strings.TrimSpace(i.Name) == "" {
		errs = append(errs, ErrNameRequired)
	}
	_, needsParent := i.Kind.ParentKind()
	switch {
	case needsParent && i.ParentID == "":
		errs = append(errs, ErrParentRequired)
	case !needsParent && i.ParentID != "":
		errs = append(errs, ErrParentNotAllowed)
	}
	if len(i.Attributes) > 0 {
		trimmed := bytes.TrimSpace(i.Attributes)
		if !json.Valid(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
			errs = append(errs, ErrAttributesInvalid)
		}
	}

	return errs
}

// AttributeString возвращает строковое представление атрибута верхнего уровня.
// Используется фильтрами списков; вложенные объекты не поддерживаются.
func (i Item) AttributeString(name string) (string, bool) {
	if len(i.Attributes) == 0 {
		return "", false
	}
	var attrs map[string]any
	if err := json.Unmarshal(i.Attributes, &attrs); err != nil {
		return "", false
	}
	raw, ok := attrs[name]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case bool, float64:
		encoded, _ := json.Marshal(v)
		return string(encoded), true
	default:
		return "", false
	}
}

var _ ordering.Sequenced[Item] = Item{}
