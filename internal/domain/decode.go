package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is a Go reference layout for a source's date column.
type DateLayout string

const (
	// DateISO is strict YYYY-MM-DD.
	DateISO DateLayout = "2006-01-02"
	// DateFlexible is YYYY-M-D; zero-padded months and days are accepted too.
	DateFlexible DateLayout = "2006-1-2"
)

// String returns the human form of the layout used in error messages.
func (l DateLayout) String() string {
	switch l {
	case DateISO:
		return "YYYY-MM-DD"
	case DateFlexible:
		return "YYYY-M-D"
	default:
		return string(l)
	}
}

// ParseDateLayout maps a configuration value ("iso" or "flexible") to a layout.
func ParseDateLayout(s string) (DateLayout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iso", "":
		return DateISO, nil
	case "flexible":
		return DateFlexible, nil
	default:
		return "", fmt.Errorf("unknown date layout %q (want iso or flexible)", s)
	}
}

// DecodeDate parses s as a calendar date in UTC. time.Parse rejects
// impossible dates such as 2020-02-30, which surface as ErrInvalidDate.
func DecodeDate(layout DateLayout, s string) (time.Time, error) {
	t, err := time.Parse(string(layout), s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a %s date", ErrInvalidDate, s, layout)
	}
	return t, nil
}

// FormatDate is the inverse of DecodeDate for the same layout.
func FormatDate(layout DateLayout, t time.Time) string {
	return t.Format(string(layout))
}

// DecodeNumber parses a trimmed non-negative integer count. Integral floats
// such as "12.0" are accepted since some feeds emit them.
func DecodeNumber(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidNumber)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidNumber, s)
		}
		if f < 0 {
			return 0, fmt.Errorf("%w: %q is negative", ErrInvalidNumber, s)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if f >= math.MaxInt64 {
			return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidNumber, s)
		}
		n = int64(f)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidNumber, s)
	}
	return n, nil
}

// DecodeCount is the adapter-level form of DecodeNumber: a cell that does not
// hold a count means no data was reported and decodes to nil, never zero.
func DecodeCount(s string) *int64 {
	n, err := DecodeNumber(s)
	if err != nil {
		return nil
	}
	return &n
}

// DateDecoder adapts DecodeDate to the validation layer.
func DateDecoder(layout DateLayout) Decoder[string, time.Time] {
	return func(s, path string) (time.Time, []Violation) {
		t, err := DecodeDate(layout, s)
		if err != nil {
			return time.Time{}, []Violation{{Path: path, Kind: ErrInvalidDate, Message: err.Error()}}
		}
		return t, nil
	}
}

// NumberDecoder adapts DecodeNumber to the validation layer.
func NumberDecoder(s, path string) (int64, []Violation) {
	n, err := DecodeNumber(s)
	if err != nil {
		return 0, []Violation{{Path: path, Kind: ErrInvalidNumber, Message: err.Error()}}
	}
	return n, nil
}
