// Package objstore implements a keyed arena. Values are owned by the
// store and addressed by key, so that related records can refer to each
// other without holding pointers into one another.
package objstore

type Store[K comparable, V any] struct {
	objects map[K]V
	order   []K
}

func New[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{
		objects: make(map[K]V),
	}
}

// Add inserts v under k. It returns false without modifying the store
// if k is already present.
func (s *Store[K, V]) Add(k K, v V) bool {
	if _, ok := s.objects[k]; ok {
		return false
	}

	s.objects[k] = v
	s.order = append(s.order, k)
	return true
}

func (s *Store[K, V]) Get(k K) (V, bool) {
	v, ok := s.objects[k]
	return v, ok
}

func (s *Store[K, V]) Delete(k K) (V, bool) {
	v, ok := s.objects[k]
	if !ok {
		return v, false
	}

	delete(s.objects, k)
	for i, o := range s.order {
		if o == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return v, true
}

func (s *Store[K, V]) Len() int {
	return len(s.objects)
}

// Keys returns a snapshot of the keys in insertion order. The store may
// be modified while iterating over the result.
func (s *Store[K, V]) Keys() []K {
	return append([]K(nil), s.order...)
}

// Values returns a snapshot of the values in key insertion order.
func (s *Store[K, V]) Values() []V {
	r := make([]V, 0, len(s.order))
	for _, k := range s.order {
		r = append(r, s.objects[k])
	}
	return r
}
