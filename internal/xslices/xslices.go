package xslices

func Filter[T any, S ~[]T](s S, f func(T) bool) (r S) {
	r = make(S, 0, len(s))
	for _, v := range s {
		if f(v) {
			r = append(r, v)
		}
	}
	return r
}

// Find returns the first element of s for which f is true.
func Find[T any, S ~[]T](s S, f func(T) bool) (v T, ok bool) {
	for _, v := range s {
		if f(v) {
			return v, true
		}
	}
	return v, false
}

func Map[T, R any, S ~[]T](s S, f func(T) R) []R {
	r := make([]R, 0, len(s))
	for _, v := range s {
		r = append(r, f(v))
	}
	return r
}
