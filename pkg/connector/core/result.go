package core

// Result is the tagged outcome of a fetch: a (possibly empty) row set, or
// the marker that the connector does not support the operation at all.
// Fetch failures are errors and never reach a Result.
type Result[T any] struct {
	rows        []T
	unsupported bool
}

// Rows wraps fetched rows. A nil or empty slice is an empty result.
func Rows[T any](rows []T) Result[T] {
	return Result[T]{rows: rows}
}

// Empty is a supported fetch that found nothing.
func Empty[T any]() Result[T] {
	return Result[T]{}
}

// NotSupported marks an operation the connector cannot perform.
func NotSupported[T any]() Result[T] {
	return Result[T]{unsupported: true}
}

// Rows returns the fetched rows.
func (r Result[T]) Rows() []T { return r.rows }

// Len returns the number of rows.
func (r Result[T]) Len() int { return len(r.rows) }

// IsEmpty reports whether no rows were fetched, including when unsupported.
func (r Result[T]) IsEmpty() bool { return len(r.rows) == 0 }

// Supported reports whether the connector performed the operation.
func (r Result[T]) Supported() bool { return !r.unsupported }
