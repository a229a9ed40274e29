package sheets

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLocator is returned when a locator does not resolve to a spreadsheet
	ErrInvalidLocator = errors.New("invalid source locator")
	// ErrSourceUnavailable is returned for transport, auth and server failures talking to the source
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrSchemaMismatch is returned when the sheet cannot be shaped by the column schema
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// SourceError wraps a failure talking to the spreadsheet with the operation that caused it.
// Kind is one of the sentinel errors above, so callers can use errors.Is.
type SourceError struct {
	Op   string
	Kind error
	Err  error
}

// Error implements the error interface
func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns both the classification and the underlying cause
func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
