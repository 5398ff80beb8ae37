package audit

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by a lookup query (GetSubmit, GetJobLog) when no
// row matches the requested identifier.
var ErrNotFound = errors.New("audit: not found")

// DbError wraps a failure talking to the Postgres-backed store, naming the
// operation that failed so callers and logs can tell a schema problem from
// a transient connection failure without parsing the driver's message.
type DbError struct {
	Op  string
	Err error
}

func (e *DbError) Error() string {
	return fmt.Sprintf("audit: %s: %v", e.Op, e.Err)
}

func (e *DbError) Unwrap() error { return e.Err }
