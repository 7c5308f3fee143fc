package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

// csvLayout describes a cumulative-count CSV feed: which column holds which
// value and how the place key is built from the row.
type csvLayout struct {
	columns   []string
	date      int
	cases     int
	deaths    int
	placeKey  func(row []string) string
	placeCols []int // columns that must be non-empty to build the key
}

// stateLayout is `date,state,fips,cases,deaths`.
var stateLayout = csvLayout{
	columns:   []string{"date", "state", "fips", "cases", "deaths"},
	date:      0,
	cases:     3,
	deaths:    4,
	placeKey:  func(row []string) string { return domain.StatePlace(row[1]) },
	placeCols: []int{1},
}

// countyLayout is `date,county,state,fips,cases,deaths`.
var countyLayout = csvLayout{
	columns:   []string{"date", "county", "state", "fips", "cases", "deaths"},
	date:      0,
	cases:     4,
	deaths:    5,
	placeKey:  func(row []string) string { return domain.CountyPlace(row[2], row[1]) },
	placeCols: []int{1, 2},
}

// DecodeStates decodes the US state CSV feed. Places are keyed "US-<state>"
// and recoveries are not tracked at this granularity.
func DecodeStates(payload []byte, layout domain.DateLayout) (domain.RawData, error) {
	return domain.Decode(csvDecoder(stateLayout, layout), payload)
}

// DecodeCounties decodes the US county CSV feed. Places are keyed
// "US-<state>-<county>".
func DecodeCounties(payload []byte, layout domain.DateLayout) (domain.RawData, error) {
	return domain.Decode(csvDecoder(countyLayout, layout), payload)
}

// csvDecoder drops the first row unconditionally (it is the header) and
// appends every following row to its place in file order. Count cells that do
// not hold a number decode to nil.
func csvDecoder(cl csvLayout, layout domain.DateLayout) domain.Decoder[[]byte, domain.RawData] {
	decodeDate := domain.DateDecoder(layout)

	return func(payload []byte, _ string) (domain.RawData, []domain.Violation) {
		var c collector
		out := make(domain.RawData)

		r := csv.NewReader(bytes.NewReader(payload))
		r.FieldsPerRecord = -1
		r.ReuseRecord = true

		header := true
		for {
			row, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				c.schema(csvErrorPath(err), "malformed csv: %v", err)
				break
			}
			if header {
				header = false
				continue
			}

			line, _ := r.FieldPos(0)
			path := fmt.Sprintf("row %d", line)
			if len(row) != len(cl.columns) {
				c.schema(path, "expected %d columns (%s), got %d", len(cl.columns), strings.Join(cl.columns, ","), len(row))
				continue
			}
			if !placeColsPresent(cl, row, path, &c) {
				continue
			}

			d, vs := decodeDate(row[cl.date], domain.FieldPath(path, cl.columns[cl.date]))
			if len(vs) > 0 {
				c.add(vs...)
				continue
			}

			place := cl.placeKey(row)
			out[place] = append(out[place], domain.RawEntry{
				Date:      d,
				Confirmed: domain.DecodeCount(row[cl.cases]),
				Deaths:    domain.DecodeCount(row[cl.deaths]),
			})
		}

		if vs := c.result(); len(vs) > 0 {
			return nil, vs
		}
		return out, nil
	}
}

func placeColsPresent(cl csvLayout, row []string, path string, c *collector) bool {
	ok := true
	for _, col := range cl.placeCols {
		if strings.TrimSpace(row[col]) == "" {
			c.schema(domain.FieldPath(path, cl.columns[col]), "empty place name")
			ok = false
		}
	}
	return ok
}

func csvErrorPath(err error) string {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return fmt.Sprintf("row %d", perr.Line)
	}
	return ""
}
