// Package source decodes the raw payloads of the upstream feeds into
// place-keyed raw entries. Every adapter is a pure function of its payload
// and either decodes all of it or fails with a *domain.Report.
package source

import (
	"fmt"
	"sort"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

// Kind selects the adapter used for a feed.
type Kind string

const (
	KindCountries Kind = "countries"
	KindStates    Kind = "states"
	KindCounties  Kind = "counties"
)

// Source describes one upstream feed.
type Source struct {
	Name       string
	Kind       Kind
	URL        string
	DateLayout domain.DateLayout
}

// Decode runs the adapter matching s.Kind on payload.
func (s Source) Decode(payload []byte) (domain.RawData, error) {
	switch s.Kind {
	case KindCountries:
		return DecodeCountries(payload, s.DateLayout)
	case KindStates:
		return DecodeStates(payload, s.DateLayout)
	case KindCounties:
		return DecodeCounties(payload, s.DateLayout)
	default:
		return nil, fmt.Errorf("source %s: unknown kind %q", s.Name, s.Kind)
	}
}

// maxViolations bounds a report so one systemic problem in a large feed does
// not produce hundreds of thousands of lines.
const maxViolations = 100

// collector accumulates violations up to maxViolations and counts the rest.
type collector struct {
	violations []domain.Violation
	dropped    int
}

func (c *collector) add(vs ...domain.Violation) {
	for _, v := range vs {
		if len(c.violations) >= maxViolations {
			c.dropped++
			continue
		}
		c.violations = append(c.violations, v)
	}
}

func (c *collector) schema(path, format string, args ...any) {
	c.add(domain.Violation{
		Path:    path,
		Kind:    domain.ErrSchemaViolation,
		Message: fmt.Sprintf("%s: %s", domain.ErrSchemaViolation, fmt.Sprintf(format, args...)),
	})
}

func (c *collector) result() []domain.Violation {
	if c.dropped > 0 {
		return append(c.violations, domain.Violation{Message: fmt.Sprintf("... and %d more violations", c.dropped)})
	}
	return c.violations
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
