package ordering

import "slices"

// Collection: неизменяемый упорядоченный список одной группы.
// Каждая мутация возвращает новую коллекцию, поэтому читатели никогда
// не видят частично перенумерованное состояние.
type Collection[T Sequenced[T]] struct {
	items []T
}

// NewCollection строит коллекцию в порядке отображения (по sequence).
func NewCollection[T Sequenced[T]](items []T) Collection[T] {
	return Collection[T]{items: SortBySequence(items)}
}

// Items возвращает копию записей в порядке отображения.
func (c Collection[T]) Items() []T {
	return slices.Clone(c.items)
}

// Len возвращает число записей.
func (c Collection[T]) Len() int {
	return len(c.items)
}

// IndexOf возвращает позицию записи или -1.
func (c Collection[T]) IndexOf(key string) int {
	return IndexOf(c.items, key)
}

// Pairs возвращает пары {id, sequence} всей коллекции.
func (c Collection[T]) Pairs() []Pair {
	return Pairs(c.items)
}

// Reorder перемещает запись и возвращает новую коллекцию.
func (c Collection[T]) Reorder(from, to int) (Collection[T], error) {
	items, err := Move(c.items, from, to)
	if err != nil {
		return c, err
	}
	return Collection[T]{items: items}, nil
}

// Append добавляет запись в конец.
func (c Collection[T]) Append(item T) Collection[T] {
	return Collection[T]{items: Append(c.items, item)}
}

// Remove удаляет запись и перенумеровывает хвост.
func (c Collection[T]) Remove(key string) (Collection[T], error) {
	items, err := Remove(c.items, key)
	if err != nil {
		return c, err
	}
	return Collection[T]{items: items}, nil
}
