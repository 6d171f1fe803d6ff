package store

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested chapter or subchapter does not exist.
var ErrNotFound = errors.New("chapter not found")

// ErrSchemaMismatch indicates the database schema version doesn't match the
// expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// VersionConflictError is returned by Update when the stored version does not
// match the expected one. It carries the current version so the caller can
// re-fetch and retry on its own - the store never retries automatically.
type VersionConflictError struct {
	ID      string
	Current int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %q: current version is %d", e.ID, e.Current)
}
