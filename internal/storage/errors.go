package storage

import "fmt"

// PersistenceError represents a failure reading or writing the download history.
type PersistenceError struct {
	Operation string // The operation that failed (e.g., "read", "write")
	Path      string // Backing file or database path
	Err       error  // Underlying error, if any
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s failed for %s: %v", e.Operation, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
