// Package domain models epidemiological time series and the rules that turn
// raw per-source reports into one uniform per-place daily dataset.
//
// # Places
//
// Every series is keyed by a place name:
//
//	"Italy"             country, as named by the country feed
//	"US-Ohio"           US state, synthesized by the state adapter
//	"US-Ohio-Franklin"  US county, synthesized by the county adapter
//
// The three namespaces are disjoint by construction, so merge collisions are
// not expected. When one does occur the last merged source wins and the
// caller is told about it (see [Merge]).
//
// # Cumulative values
//
// Feeds report running totals (confirmed, deaths, recovered). A nil value
// means the source reported nothing for that cell. It is never read as zero
// when stored, only when computing deltas.
//
// # Normalization
//
// [Normalize] runs, per place and in this order:
//
//  1. sort entries by date (stable)
//  2. fill missing calendar days by carrying the previous cumulative values
//     forward (see [FillGaps])
//  3. derive NewCases and NewDeaths as day-over-day increases, clamped at
//     zero because upstream revisions sometimes lower a running total
//     (see [DeriveDeltas])
//  4. check that every date is exactly one day after the previous one
//     (see [ValidateSeries])
//
// # Decoding
//
// Field decoders ([DecodeDate], [DecodeNumber]) fail with [ErrInvalidDate]
// and [ErrInvalidNumber]. Structural decoders report every problem they find
// as a [Violation] with a field path; the validation layer ([Validate],
// [Decode], [MustDecode]) folds them into a [Report].
package domain
