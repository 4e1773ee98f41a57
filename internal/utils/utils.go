package utils

// Ptr returns a pointer to v, useful for optional fields.
func Ptr[T any](v T) *T {
	return &v
}
