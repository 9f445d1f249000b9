package identity

import (
	"cmp"
	"slices"
	"sort"
)

// SortedList is a multiset kept in ascending order by its comparator.
// Equal elements are kept side by side in insertion order.
type SortedList[T any] struct {
	items   []T
	compare func(a, b T) int
}

// NewSortedList creates a list ordered by compare and seeded with items
func NewSortedList[T any](compare func(a, b T) int, items ...T) *SortedList[T] {
	l := &SortedList[T]{compare: compare}
	for _, item := range items {
		l.Add(item)
	}
	return l
}

// Add inserts v after any elements that compare equal to it
func (l *SortedList[T]) Add(v T) {
	i := sort.Search(len(l.items), func(i int) bool {
		return l.compare(l.items[i], v) > 0
	})
	l.items = slices.Insert(l.items, i, v)
}

// AddUnique inserts v unless an equal element is already present
func (l *SortedList[T]) AddUnique(v T) bool {
	i, found := slices.BinarySearchFunc(l.items, v, l.compare)
	if found {
		return false
	}
	l.items = slices.Insert(l.items, i, v)
	return true
}

// Len returns the number of elements, counting duplicates
func (l *SortedList[T]) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// At returns the i'th element in sorted order
func (l *SortedList[T]) At(i int) T {
	return l.items[i]
}

// Items returns a copy of the elements in sorted order
func (l *SortedList[T]) Items() []T {
	if l == nil {
		return nil
	}
	return slices.Clone(l.items)
}

// Contains reports whether an element equal to v is present
func (l *SortedList[T]) Contains(v T) bool {
	if l == nil {
		return false
	}
	_, found := slices.BinarySearchFunc(l.items, v, l.compare)
	return found
}

// ContainsAll reports whether every element of other is present in l,
// ignoring how many times each occurs
func (l *SortedList[T]) ContainsAll(other *SortedList[T]) bool {
	for i := 0; i < other.Len(); i++ {
		if !l.Contains(other.items[i]) {
			return false
		}
	}
	return true
}

// CompareListContents compares two lists element by element in sorted order.
// The first unequal element decides; otherwise the shorter list sorts first.
func CompareListContents[T any](a, b *SortedList[T]) int {
	n := min(a.Len(), b.Len())
	for i := 0; i < n; i++ {
		if c := a.compare(a.items[i], b.items[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.Len(), b.Len())
}
