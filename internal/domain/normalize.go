package domain

import (
	"cmp"
	"slices"
	"time"
)

// NamedRaw is one source adapter's output, labeled for collision reporting.
type NamedRaw struct {
	Source string
	Data   RawData
}

// Collision records a place key produced by more than one source.
// Winner is the source whose entries were kept.
type Collision struct {
	Place  string
	Loser  string
	Winner string
}

// Stats summarizes one Normalize pass.
type Stats struct {
	Places        int
	Entries       int
	FilledDays    int
	ClampedDeltas int
}

// Merge unions the parts into one mapping. A place produced by several parts
// takes the entries of the last part in argument order.
func Merge(parts ...NamedRaw) (RawData, []Collision) {
	merged := make(RawData)
	owner := make(map[string]string)
	var collisions []Collision
	for _, part := range parts {
		for place, entries := range part.Data {
			if prev, ok := owner[place]; ok {
				collisions = append(collisions, Collision{Place: place, Loser: prev, Winner: part.Source})
			}
			merged[place] = entries
			owner[place] = part.Source
		}
	}
	slices.SortFunc(collisions, func(a, b Collision) int {
		return cmp.Or(cmp.Compare(a.Place, b.Place), cmp.Compare(a.Winner, b.Winner))
	})
	return merged, collisions
}

// SortEntries returns a copy of entries ordered by ascending date. Entries
// with equal dates keep their source order.
func SortEntries(entries []RawEntry) []RawEntry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b RawEntry) int {
		return a.Date.Compare(b.Date)
	})
	return sorted
}

// FillGaps inserts a carried-forward entry for every calendar day missing
// between consecutive entries. A synthesized day repeats the cumulative
// values of the day before it, so "no report" reads as "no change".
// It returns the filled series and the number of synthesized days.
func FillGaps(series PlaceSeries) (PlaceSeries, int) {
	if len(series) == 0 {
		return PlaceSeries{}, 0
	}
	out := make(PlaceSeries, 0, len(series))
	filled := 0
	for i, e := range series {
		if i > 0 {
			prev := out[len(out)-1]
			for d := nextDay(prev.Date); d.Before(e.Date); d = nextDay(d) {
				out = append(out, DailyEntry{
					Date:      d,
					Confirmed: clonePtr(prev.Confirmed),
					Deaths:    clonePtr(prev.Deaths),
					Recovered: clonePtr(prev.Recovered),
				})
				filled++
			}
		}
		out = append(out, e)
	}
	return out, filled
}

// DeriveDeltas sets NewCases and NewDeaths in place as the day-over-day
// increase of the cumulative values. Unknown values count as zero, the first
// day has no deltas, and negative deltas (upstream revisions) are clamped to
// zero. It returns how many deltas were clamped.
func DeriveDeltas(series PlaceSeries) int {
	clamped := 0
	for i := range series {
		if i == 0 {
			series[i].NewCases, series[i].NewDeaths = 0, 0
			continue
		}
		prev, cur := series[i-1], series[i]
		cases := valueOrZero(cur.Confirmed) - valueOrZero(prev.Confirmed)
		deaths := valueOrZero(cur.Deaths) - valueOrZero(prev.Deaths)
		if cases < 0 {
			cases = 0
			clamped++
		}
		if deaths < 0 {
			deaths = 0
			clamped++
		}
		series[i].NewCases, series[i].NewDeaths = cases, deaths
	}
	return clamped
}

// ValidateSeries checks that every date is exactly one calendar day after the
// one before it. The first offending index is reported as a *SequenceError.
func ValidateSeries(place string, series PlaceSeries) error {
	for i := 1; i < len(series); i++ {
		prev, got := series[i-1].Date, series[i].Date
		if !got.Equal(nextDay(prev)) {
			return &SequenceError{Place: place, Index: i, Prev: prev, Got: got}
		}
	}
	return nil
}

// Normalize sorts, gap-fills, derives deltas for and validates every place
// in raw, in that order. Places are processed in key order so the first
// failure reported is deterministic. raw is not modified.
func Normalize(raw RawData) (Dataset, Stats, error) {
	places := make([]string, 0, len(raw))
	for place := range raw {
		places = append(places, place)
	}
	slices.Sort(places)

	ds := make(Dataset, len(raw))
	var stats Stats
	for _, place := range places {
		sorted := SortEntries(raw[place])
		series := make(PlaceSeries, len(sorted))
		for i, e := range sorted {
			series[i] = DailyEntry{
				Date:      dayOf(e.Date),
				Confirmed: clonePtr(e.Confirmed),
				Deaths:    clonePtr(e.Deaths),
				Recovered: clonePtr(e.Recovered),
			}
		}

		series, filled := FillGaps(series)
		clamped := DeriveDeltas(series)
		if err := ValidateSeries(place, series); err != nil {
			return nil, stats, err
		}

		ds[place] = series
		stats.Places++
		stats.Entries += len(series)
		stats.FilledDays += filled
		stats.ClampedDeltas += clamped
	}
	return ds, stats, nil
}

func nextDay(t time.Time) time.Time {
	return t.AddDate(0, 0, 1)
}

// dayOf drops the time of day, keeping the calendar date in UTC.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func clonePtr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
