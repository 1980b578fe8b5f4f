// Package errs defines the error kinds shared across Tabula's internal
// packages and re-exported at the root. Errors wrap the original driver
// message so callers can diagnose failures while still matching the kind
// with errors.Is.
package errs

import "errors"

// Predefined errors returned by Tabula database operations.
var (
	// ErrConnection is returned when opening, closing, or checking a
	// database connection fails.
	ErrConnection = errors.New("connection error")
	// ErrQuery is returned when a query still fails after all retries
	// have been exhausted.
	ErrQuery = errors.New("query failed")
	// ErrValidation is returned for malformed input, such as an empty
	// insert payload.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidQueryState is returned when a builder operation is invoked
	// in the wrong statement mode (e.g. fetching rows from a DELETE).
	ErrInvalidQueryState = errors.New("invalid query state")
	// ErrSchema is returned for schema definition or migration problems,
	// such as an unsupported default value type.
	ErrSchema = errors.New("schema error")
	// ErrNotFound is returned when a lookup by id or criteria yields no
	// row. It signals an absent result, not a failure.
	ErrNotFound = errors.New("record not found")
	// ErrPoolClosed is returned when acquiring from a closed pool.
	ErrPoolClosed = errors.New("connection pool is closed")
)

// Wrap attaches a sentinel kind and a context message to err.
// The result matches both the kind and the original error with errors.Is.
func Wrap(kind error, err error, message string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, msg: message, err: err}
}

// New creates an error of the given kind with a message and no cause.
func New(kind error, message string) error {
	return &kindError{kind: kind, msg: message}
}

type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	s := e.kind.Error() + ": " + e.msg
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func (e *kindError) Unwrap() error {
	return e.err
}
