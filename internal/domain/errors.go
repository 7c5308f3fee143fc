package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Structured errors below unwrap to one of these so callers can
// classify failures with errors.Is.
var (
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidNumber     = errors.New("invalid number")
	ErrSchemaViolation   = errors.New("schema violation")
	ErrSequenceInvariant = errors.New("sequence invariant violation")
	ErrTransport         = errors.New("transport failure")
)

// SequenceError reports a place whose normalized series is not strictly
// increasing by exactly one calendar day at Index.
type SequenceError struct {
	Place string
	Index int
	Prev  time.Time
	Got   time.Time
}

func (e *SequenceError) Error() string {
	reason := "not exactly one day after previous"
	if !e.Got.After(e.Prev) {
		reason = "not after previous"
	}
	return fmt.Sprintf("%s: place %q index %d: date %s %s (%s)",
		ErrSequenceInvariant, e.Place, e.Index,
		FormatDate(DateISO, e.Got), reason, FormatDate(DateISO, e.Prev))
}

func (e *SequenceError) Unwrap() error { return ErrSequenceInvariant }

// TransportError wraps a failed or unusable fetch of a source.
type TransportError struct {
	Source string
	URL    string
	Status int // zero when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: fetch %s (%s): status %d", ErrTransport, e.Source, e.URL, e.Status)
	}
	return fmt.Sprintf("%s: fetch %s (%s): %v", ErrTransport, e.Source, e.URL, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}
