// Package ordering содержит чистые операции над упорядоченными списками записей
// с плотной нумерацией sequence (1..N) внутри одной группы.
package ordering

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInvalidIndex возвращается, если индекс перемещения вне диапазона [0, len).
	ErrInvalidIndex = errors.New("invalid index")
	// ErrItemNotFound возвращается, если запись с указанным ключом отсутствует в списке.
	ErrItemNotFound = errors.New("item not found in ordered list")
	// ErrSequenceGap сигнализирует о значении sequence вне диапазона 1..N.
	ErrSequenceGap = errors.New("sequence is not contiguous")
	// ErrSequenceDuplicate сигнализирует о повторяющемся значении sequence.
	ErrSequenceDuplicate = errors.New("sequence is duplicated")
	// ErrDuplicatePair возвращается, если один и тот же id встречается в пакете дважды.
	ErrDuplicatePair = errors.New("duplicate id in sequence pairs")
)

// Sequenced описывает запись, которой можно переназначить порядковый номер.
// WithSequence обязан возвращать копию и не трогать остальные поля.
type Sequenced[T any] interface {
	SequenceKey() string
	SequenceValue() int
	WithSequence(seq int) T
}

// Pair: пара {id, sequence}, из которых состоит пакетное обновление порядка.
type Pair struct {
	ID       string `json:"id"`
	Sequence int    `json:"sequence"`
}

// Move перемещает элемент с позиции from на позицию to (семантика move, не swap)
// и перенумеровывает результат с 1. Входной срез не изменяется.
// При выходе любого индекса за границы возвращается исходный срез и ErrInvalidIndex.
func Move[T Sequenced[T]](items []T, from, to int) ([]T, error) {
	if err := checkIndex("from_index", from, len(items)); err != nil {
		return items, err
	}
	if err := checkIndex("to_index", to, len(items)); err != nil {
		return items, err
	}
	if from == to {
		return slices.Clone(items), nil
	}

	moved := items[from]
	result := make([]T, 0, len(items))
	result = append(result, items[:from]...)
	result = append(result, items[from+1:]...)
	result = slices.Insert(result, to, moved)

	return renumberInPlace(result), nil
}

// Renumber возвращает копию списка, где sequence = позиция + 1.
func Renumber[T Sequenced[T]](items []T) []T {
	return renumberInPlace(slices.Clone(items))
}

// NextSequence возвращает номер для новой записи: max + 1 или 1 для пустой группы.
func NextSequence[T Sequenced[T]](items []T) int {
	maxSeq := 0
	for _, item := range items {
		maxSeq = max(maxSeq, item.SequenceValue())
	}
	return maxSeq + 1
}

// Append добавляет запись в конец списка с sequence = max + 1.
func Append[T Sequenced[T]](items []T, item T) []T {
	result := make([]T, 0, len(items)+1)
	result = append(result, items...)
	return append(result, item.WithSequence(NextSequence(items)))
}

// Remove удаляет запись по ключу и закрывает образовавшийся пропуск перенумерацией.
func Remove[T Sequenced[T]](items []T, key string) ([]T, error) {
	idx := IndexOf(items, key)
	if idx < 0 {
		return items, fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}

	result := make([]T, 0, len(items)-1)
	result = append(result, items[:idx]...)
	result = append(result, items[idx+1:]...)
	return renumberInPlace(result), nil
}

// IndexOf возвращает позицию записи с ключом key или -1.
func IndexOf[T Sequenced[T]](items []T, key string) int {
	return slices.IndexFunc(items, func(item T) bool {
		return item.SequenceKey() == key
	})
}

// Validate проверяет, что значения sequence образуют ровно 1..N без дублей.
func Validate[T Sequenced[T]](items []T) error {
	seen := make(map[int]string, len(items))
	for _, item := range items {
		seq := item.SequenceValue()
		if other, ok := seen[seq]; ok {
			return fmt.Errorf("%w: %d used by %s and %s", ErrSequenceDuplicate, seq, other, item.SequenceKey())
		}
		if seq < 1 || seq > len(items) {
			return fmt.Errorf("%w: %s has sequence %d outside 1..%d", ErrSequenceGap, item.SequenceKey(), seq, len(items))
		}
		seen[seq] = item.SequenceKey()
	}
	return nil
}

// SortBySequence возвращает копию, упорядоченную по sequence (стабильно).
func SortBySequence[T Sequenced[T]](items []T) []T {
	result := slices.Clone(items)
	slices.SortStableFunc(result, func(a, b T) int {
		return cmp.Compare(a.SequenceValue(), b.SequenceValue())
	})
	return result
}

// Pairs собирает пары {id, sequence} для всех записей, а не только сдвинутых.
func Pairs[T Sequenced[T]](items []T) []Pair {
	pairs := make([]Pair, 0, len(items))
	for _, item := range items {
		pairs = append(pairs, Pair{ID: item.SequenceKey(), Sequence: item.SequenceValue()})
	}
	return pairs
}

// ApplyPairs применяет пакет {id, sequence} к группе записей.
// Записи, не упомянутые в пакете, сохраняют текущий номер; результат обязан
// остаться плотным 1..N, иначе возвращается ошибка и исходный список.
func ApplyPairs[T Sequenced[T]](items []T, pairs []Pair) ([]T, error) {
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.SequenceKey()] = i
	}

	result := slices.Clone(items)
	applied := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		if _, dup := applied[pair.ID]; dup {
			return items, fmt.Errorf("%w: %s", ErrDuplicatePair, pair.ID)
		}
		applied[pair.ID] = struct{}{}

		i, ok := index[pair.ID]
		if !ok {
			return items, fmt.Errorf("%w: %s", ErrItemNotFound, pair.ID)
		}
		result[i] = result[i].WithSequence(pair.Sequence)
	}

	if err := Validate(result); err != nil {
		return items, err
	}
	return SortBySequence(result), nil
}

func renumberInPlace[T Sequenced[T]](items []T) []T {
	for i := range items {
		items[i] = items[i].WithSequence(i + 1)
	}
	return items
}

func checkIndex(name string, idx, n int) error {
	if idx < 0 || idx >= n {
		return fmt.Errorf("%w: %s %d out of range [0,%d)", ErrInvalidIndex, name, idx, n)
	}
	return nil
}
