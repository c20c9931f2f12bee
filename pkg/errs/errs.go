// Package errs defines the closed set of sentinel errors brainy's
// components return, so callers can classify failures with errors.Is
// instead of string-matching.
package errs

import "errors"

var (
	// NotFound is returned when a noun, verb, or key does not exist.
	NotFound = errors.New("brainy: not found")

	// DimensionMismatch is returned when a query or insert vector's
	// length does not match the configured index dimension.
	DimensionMismatch = errors.New("brainy: dimension mismatch")

	// InvalidArgument is returned for malformed input that is never
	// valid regardless of current state.
	InvalidArgument = errors.New("brainy: invalid argument")

	// RoleViolation is returned when an instance attempts an operation
	// its configured role does not permit (e.g. a reader attempting a
	// write).
	RoleViolation = errors.New("brainy: role violation")

	// Conflict is returned when an optimistic precondition fails, such
	// as PutIfAbsent finding an existing key or a lock already held by
	// another owner.
	Conflict = errors.New("brainy: conflict")

	// Transient marks an error the caller should retry; wrap it with
	// fmt.Errorf("...: %w", errs.Transient) to preserve the underlying
	// cause while still satisfying errors.Is(err, errs.Transient).
	Transient = errors.New("brainy: transient error")

	// Corruption is returned when a stored blob fails to parse or
	// checksum. The blob is left where it is; nothing moves it aside.
	Corruption = errors.New("brainy: corrupted data")

	// Cancelled is returned when a context is cancelled or its deadline
	// is exceeded mid-operation.
	Cancelled = errors.New("brainy: cancelled")

	// Unavailable is returned when a dependency (storage backend,
	// coordinator manifest) cannot be reached at all.
	Unavailable = errors.New("brainy: unavailable")
)

// Retryable reports whether err (or any error it wraps) should be
// retried by the caller.
func Retryable(err error) bool {
	return errors.Is(err, Transient) || errors.Is(err, Unavailable)
}
