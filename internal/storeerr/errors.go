// Package storeerr defines the error kinds the capture store surfaces to
// callers, wrapped the way askflow's internal packages wrap driver errors
// with fmt.Errorf("...: %w", err) rather than exposing raw *sql.Error.
package storeerr

import "errors"

// Sentinel kinds. Use errors.Is against these, not string matching.
var (
	// ErrStoreUnavailable reports a pool-acquisition or low-level I/O failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTimeout reports a bounded operation that exceeded its budget.
	ErrTimeout = errors.New("operation timed out")
	// ErrNotFound reports a required row that is absent.
	ErrNotFound = errors.New("not found")
	// ErrIntegrityViolation reports a rejected uniqueness or foreign-key write.
	ErrIntegrityViolation = errors.New("integrity violation")
	// ErrCorruption reports a post-repair quick_check failure.
	ErrCorruption = errors.New("database corruption")
	// ErrMalformedInput reports a parse failure returned to the caller
	// (text_json during position extraction is the exception: it degrades
	// silently to empty positions).
	ErrMalformedInput = errors.New("malformed input")
)

// Wrap attaches kind to err so errors.Is(wrapped, kind) succeeds
// while the original error's text and chain are preserved.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: kind, err: err}
}

type wrapped struct {
	kind error
	err  error
}

func (w *wrapped) Error() string {
	return w.kind.Error() + ": " + w.err.Error()
}

func (w *wrapped) Unwrap() []error {
	return []error{w.kind, w.err}
}

// CorruptionError carries the raw PRAGMA quick_check result string.
type CorruptionError struct {
	Result string
}

func (e *CorruptionError) Error() string {
	return "database still corrupted after repair: " + e.Result
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorruption
}
