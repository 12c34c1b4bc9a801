package container

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Set[T comparable] map[T]struct{}

func NewSet[T comparable]() Set[T] {
	return make(Set[T])
}

func (set Set[T]) Add(v T) {
	set[v] = struct{}{}
}

func (set Set[T]) Delete(v T) {
	delete(set, v)
}

func (set Set[T]) Contains(v T) bool {
	_, ok := set[v]
	return ok
}

// Sorted returns the set's elements in ascending order.
func Sorted[T constraints.Ordered](set Set[T]) []T {
	out := maps.Keys(set)
	slices.Sort(out)
	return out
}
