// Package set implements a generic set type along with the handful of
// set algebra operations needed for format negotiation.
package set

import (
	"golang.org/x/exp/maps"
)

type Set[T comparable] map[T]struct{}

func New[T comparable](vals ...T) Set[T] {
	s := make(Set[T], len(vals))
	for _, v := range vals {
		s.Add(v)
	}
	return s
}

func (s Set[T]) Add(v T) {
	s[v] = struct{}{}
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

func (s Set[T]) Delete(v T) {
	delete(s, v)
}

func (s Set[T]) Len() int {
	return len(s)
}

// Clone returns a copy of s. The copy of a nil set is an empty, non-nil
// set.
func (s Set[T]) Clone() Set[T] {
	if s == nil {
		return make(Set[T])
	}
	return maps.Clone(s)
}

// SubsetOf reports whether every element of s is also in o.
func (s Set[T]) SubsetOf(o Set[T]) bool {
	for v := range s {
		if !o.Has(v) {
			return false
		}
	}
	return true
}

// Slice returns the elements of s in no particular order.
func (s Set[T]) Slice() []T {
	r := make([]T, 0, len(s))
	for v := range s {
		r = append(r, v)
	}
	return r
}

func Union[T comparable](sets ...Set[T]) Set[T] {
	r := make(Set[T])
	for _, s := range sets {
		for v := range s {
			r.Add(v)
		}
	}
	return r
}

func Intersect[T comparable](a, b Set[T]) Set[T] {
	if len(b) < len(a) {
		a, b = b, a
	}

	r := make(Set[T])
	for v := range a {
		if b.Has(v) {
			r.Add(v)
		}
	}
	return r
}

// Difference returns the elements of a that are not in b.
func Difference[T comparable](a, b Set[T]) Set[T] {
	r := make(Set[T])
	for v := range a {
		if !b.Has(v) {
			r.Add(v)
		}
	}
	return r
}
