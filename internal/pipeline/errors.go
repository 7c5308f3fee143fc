package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

// SourceError is the failure of one source: its fetch or its decode.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// LoadError aggregates every source that failed in one invocation. When any
// source fails the pipeline returns a LoadError and merges nothing.
type LoadError struct {
	Failures []*SourceError
	Total    int
}

func (e *LoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "load failed: %d of %d sources failed", len(e.Failures), e.Total)
	for _, f := range e.Failures {
		b.WriteString("\n")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// errorKind classifies err for the source_failures_total metric.
func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrTransport):
		return "transport"
	case errors.Is(err, domain.ErrInvalidDate):
		return "invalid_date"
	case errors.Is(err, domain.ErrInvalidNumber):
		return "invalid_number"
	case errors.Is(err, domain.ErrSchemaViolation):
		return "schema"
	default:
		return "other"
	}
}
