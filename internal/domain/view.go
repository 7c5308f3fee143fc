package domain

import (
	"cmp"
	"encoding/json"
	"slices"
	"time"
)

// The helpers in this file derive new values from a Dataset and never
// modify it.

// Range is an inclusive span of calendar days.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"start": FormatDate(DateISO, r.Start),
		"end":   FormatDate(DateISO, r.End),
		"days":  r.Days(),
	})
}

// Days is the number of calendar days covered by r.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// DateRange returns the earliest and latest date over all places. ok is
// false when the dataset holds no entries.
func DateRange(ds Dataset) (r Range, ok bool) {
	for _, series := range ds {
		if len(series) == 0 {
			continue
		}
		first, last := series[0].Date, series[len(series)-1].Date
		if !ok || first.Before(r.Start) {
			r.Start = first
		}
		if !ok || last.After(r.End) {
			r.End = last
		}
		ok = true
	}
	return r, ok
}

// Ranked is a place with its latest cumulative death count.
type Ranked struct {
	Place  string `json:"place"`
	Deaths int64  `json:"deaths"`
}

// SortByDeaths orders places by their most recent cumulative deaths,
// highest first. Unknown counts rank as zero; ties are broken by name.
func SortByDeaths(ds Dataset) []Ranked {
	ranked := make([]Ranked, 0, len(ds))
	for place, series := range ds {
		var deaths int64
		if last, ok := series.Last(); ok {
			deaths = valueOrZero(last.Deaths)
		}
		ranked = append(ranked, Ranked{Place: place, Deaths: deaths})
	}
	slices.SortFunc(ranked, func(a, b Ranked) int {
		return cmp.Or(cmp.Compare(b.Deaths, a.Deaths), cmp.Compare(a.Place, b.Place))
	})
	return ranked
}

// TopByDeaths returns the names of the n places with the most deaths.
func TopByDeaths(ds Dataset, n int) []string {
	ranked := SortByDeaths(ds)
	if n < len(ranked) {
		ranked = ranked[:max(n, 0)]
	}
	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.Place
	}
	return names
}

// Select returns a dataset with only the named places. Unknown names are
// ignored.
func (ds Dataset) Select(places ...string) Dataset {
	out := make(Dataset, len(places))
	for _, p := range places {
		if series, ok := ds[p]; ok {
			out[p] = slices.Clone(series)
		}
	}
	return out
}

// Window returns a dataset restricted to entries dated within [from, to].
// A zero bound is open. Places with no entries in the window are dropped.
func (ds Dataset) Window(from, to time.Time) Dataset {
	out := make(Dataset, len(ds))
	for place, series := range ds {
		var kept PlaceSeries
		for _, e := range series {
			if !from.IsZero() && e.Date.Before(from) {
				continue
			}
			if !to.IsZero() && e.Date.After(to) {
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) > 0 {
			out[place] = kept
		}
	}
	return out
}
