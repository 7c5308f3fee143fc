package domain

import (
	"fmt"
	"strings"
)

// Violation is a single field-level decode failure.
type Violation struct {
	Path    string // e.g. `Finland[3].deaths` or `row 12.date`
	Kind    error  // one of the Err* kinds
	Message string
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// Report collects every violation found while decoding one value.
// Error renders one line per violation.
type Report struct {
	Violations []Violation
}

func (r *Report) Error() string {
	lines := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		lines[i] = v.String()
	}
	return strings.Join(lines, "\n")
}

// Unwrap exposes the distinct kinds so errors.Is(report, ErrInvalidDate) works.
func (r *Report) Unwrap() []error {
	seen := make(map[error]bool, len(r.Violations))
	kinds := make([]error, 0, 2)
	for _, v := range r.Violations {
		if v.Kind == nil || seen[v.Kind] {
			continue
		}
		seen[v.Kind] = true
		kinds = append(kinds, v.Kind)
	}
	return kinds
}

// Decoder turns an unvalidated I into a T. path is the field path of in,
// used to qualify violations. A decoder returns no violations on success.
type Decoder[I, T any] func(in I, path string) (T, []Violation)

// Result is the explicit success/failure value returned at boundaries that
// must not abort their caller.
type Result[T any] struct {
	value  T
	report *Report
}

func (r Result[T]) OK() bool { return r.report == nil }

// Value returns the decoded value; it is the zero T when !OK().
func (r Result[T]) Value() T { return r.value }

// Err returns the report as an error, or nil on success.
func (r Result[T]) Err() error {
	if r.report == nil {
		return nil
	}
	return r.report
}

// Unpack returns the usual Go (value, error) pair.
func (r Result[T]) Unpack() (T, error) {
	return r.value, r.Err()
}

// Validate runs dec on in and wraps the outcome in a Result.
func Validate[I, T any](dec Decoder[I, T], in I) Result[T] {
	v, violations := dec(in, "")
	if len(violations) > 0 {
		var zero T
		return Result[T]{value: zero, report: &Report{Violations: violations}}
	}
	return Result[T]{value: v}
}

// Decode is Validate in (value, error) form.
func Decode[I, T any](dec Decoder[I, T], in I) (T, error) {
	return Validate(dec, in).Unpack()
}

// MustDecode panics with the report when in does not decode. Only for
// callers that treat bad input as a programming error, such as fixtures.
func MustDecode[I, T any](dec Decoder[I, T], in I) T {
	v, err := Decode(dec, in)
	if err != nil {
		panic(fmt.Sprintf("decode: %v", err))
	}
	return v
}

// FieldPath appends a field name to a path.
func FieldPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// IndexPath appends an element index to a path.
func IndexPath(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}
