package source

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

// countryFields are exactly the keys a country day entry must carry.
var countryFields = []string{"date", "confirmed", "deaths", "recovered"}

// DecodeCountries decodes the country feed:
//
//	{ "<place>": [ {"date": "...", "confirmed": n|null, "deaths": n|null, "recovered": n|null}, ... ] }
//
// Entries must have exactly these fields; unknown or missing fields are
// schema violations.
func DecodeCountries(payload []byte, layout domain.DateLayout) (domain.RawData, error) {
	return domain.Decode(CountriesDecoder(layout), payload)
}

// CountriesDecoder is DecodeCountries as a validation-layer decoder.
func CountriesDecoder(layout domain.DateLayout) domain.Decoder[[]byte, domain.RawData] {
	decodeDate := domain.DateDecoder(layout)

	return func(payload []byte, path string) (domain.RawData, []domain.Violation) {
		var c collector

		var places map[string]json.RawMessage
		if err := json.Unmarshal(payload, &places); err != nil || places == nil {
			c.schema(path, "expected an object of place to entries: %v", errOrNull(err))
			return nil, c.result()
		}

		out := make(domain.RawData, len(places))
		for _, place := range sortedKeys(places) {
			placePath := domain.FieldPath(path, place)

			var items []json.RawMessage
			if err := json.Unmarshal(places[place], &items); err != nil || items == nil {
				c.schema(placePath, "expected an array of entries")
				continue
			}

			entries := make([]domain.RawEntry, 0, len(items))
			for i, item := range items {
				e, vs := decodeCountryEntry(item, domain.IndexPath(placePath, i), decodeDate)
				c.add(vs...)
				entries = append(entries, e)
			}
			out[place] = entries
		}

		if vs := c.result(); len(vs) > 0 {
			return nil, vs
		}
		return out, nil
	}
}

func decodeCountryEntry(item json.RawMessage, path string, decodeDate domain.Decoder[string, time.Time]) (domain.RawEntry, []domain.Violation) {
	var c collector

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		c.schema(path, "expected an entry object")
		return domain.RawEntry{}, c.result()
	}

	for _, key := range sortedKeys(fields) {
		if !slices.Contains(countryFields, key) {
			c.schema(domain.FieldPath(path, key), "unexpected field")
		}
	}
	for _, key := range countryFields {
		if _, ok := fields[key]; !ok {
			c.schema(domain.FieldPath(path, key), "missing field")
		}
	}
	if len(c.violations) > 0 {
		return domain.RawEntry{}, c.result()
	}

	var e domain.RawEntry
	datePath := domain.FieldPath(path, "date")
	var dateStr string
	if err := json.Unmarshal(fields["date"], &dateStr); err != nil {
		c.schema(datePath, "expected a string, got %s", fields["date"])
	} else {
		d, vs := decodeDate(dateStr, datePath)
		c.add(vs...)
		e.Date = d
	}

	var vs []domain.Violation
	e.Confirmed, vs = decodeJSONCount(fields["confirmed"], domain.FieldPath(path, "confirmed"))
	c.add(vs...)
	e.Deaths, vs = decodeJSONCount(fields["deaths"], domain.FieldPath(path, "deaths"))
	c.add(vs...)
	e.Recovered, vs = decodeJSONCount(fields["recovered"], domain.FieldPath(path, "recovered"))
	c.add(vs...)

	return e, c.result()
}

// decodeJSONCount accepts a JSON number holding a non-negative integer, or null.
func decodeJSONCount(raw json.RawMessage, path string) (*int64, []domain.Violation) {
	var c collector
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if len(raw) == 0 || !(raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9')) {
		c.schema(path, "expected number|null, got %s", raw)
		return nil, c.result()
	}
	n, vs := domain.NumberDecoder(string(raw), path)
	if len(vs) > 0 {
		return nil, vs
	}
	return &n, nil
}

func errOrNull(err error) any {
	if err == nil {
		return "got null"
	}
	return err
}
