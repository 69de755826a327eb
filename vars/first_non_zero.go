package vars

// FirstNonZero returns the first value that is not the zero value, so flag,
// config file and default can be listed in priority order.
func FirstNonZero[T comparable](values ...T) T {
	var zero T
	for _, value := range values {
		if value != zero {
			return value
		}
	}
	return zero
}

// FirstNonEmpty is FirstNonZero for slices.
func FirstNonEmpty[S ~[]E, E any](values ...S) S {
	for _, value := range values {
		if len(value) > 0 {
			return value
		}
	}
	return nil
}
