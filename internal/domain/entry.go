package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawEntry is one decoded day as reported by a single source, before
// sorting, gap-filling and delta derivation.
type RawEntry struct {
	Date      time.Time
	Confirmed *int64
	Deaths    *int64
	Recovered *int64 // nil when the source does not track recoveries
}

// RawData maps a place key to its raw entries in source order.
type RawData map[string][]RawEntry

// DailyEntry is one calendar day of a normalized place series.
type DailyEntry struct {
	Date      time.Time
	Confirmed *int64
	Deaths    *int64
	Recovered *int64
	NewCases  int64
	NewDeaths int64
}

// PlaceSeries is a gap-free, strictly day-by-day sequence for one place.
type PlaceSeries []DailyEntry

// Dataset maps place keys to normalized series. It is the pipeline's only
// output and is treated as read-only by every consumer.
type Dataset map[string]PlaceSeries

type dailyEntryJSON struct {
	Date      string `json:"date"`
	Confirmed *int64 `json:"confirmed"`
	Deaths    *int64 `json:"deaths"`
	Recovered *int64 `json:"recovered"`
	NewCases  int64  `json:"newCases"`
	NewDeaths int64  `json:"newDeaths"`
}

// MarshalJSON encodes the date in ISO calendar form and keeps unknown
// cumulative values as null.
func (e DailyEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(dailyEntryJSON{
		Date:      FormatDate(DateISO, e.Date),
		Confirmed: e.Confirmed,
		Deaths:    e.Deaths,
		Recovered: e.Recovered,
		NewCases:  e.NewCases,
		NewDeaths: e.NewDeaths,
	})
}

func (e *DailyEntry) UnmarshalJSON(data []byte) error {
	var v dailyEntryJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	d, err := DecodeDate(DateISO, v.Date)
	if err != nil {
		return fmt.Errorf("decode daily entry: %w", err)
	}
	*e = DailyEntry{
		Date:      d,
		Confirmed: v.Confirmed,
		Deaths:    v.Deaths,
		Recovered: v.Recovered,
		NewCases:  v.NewCases,
		NewDeaths: v.NewDeaths,
	}
	return nil
}

// Last returns the most recent entry of the series.
func (s PlaceSeries) Last() (DailyEntry, bool) {
	if len(s) == 0 {
		return DailyEntry{}, false
	}
	return s[len(s)-1], true
}

// StatePlace builds the place key for a US state, e.g. "US-Ohio".
func StatePlace(state string) string {
	return "US-" + state
}

// CountyPlace builds the place key for a US county, e.g. "US-Ohio-Franklin".
func CountyPlace(state, county string) string {
	return "US-" + state + "-" + county
}

// Int64 returns a pointer to v. Convenient for building entries by hand.
func Int64(v int64) *int64 {
	return &v
}

func valueOrZero(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
