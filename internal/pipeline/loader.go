package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
	"github.com/couchcryptid/corona-data-etl/internal/observability"
	"github.com/couchcryptid/corona-data-etl/internal/source"
)

// Fetcher retrieves the raw payload of a source.
type Fetcher interface {
	Fetch(ctx context.Context, src source.Source) ([]byte, error)
}

// Loader is the pipeline entry point: fetch every source, decode, merge,
// normalize and validate.
type Loader struct {
	sources []source.Source
	fetcher Fetcher
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewLoader creates a Loader. sources are merged in slice order, so a place
// produced by several sources keeps the entries of the last one.
func NewLoader(sources []source.Source, fetcher Fetcher, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	return &Loader{
		sources: sources,
		fetcher: fetcher,
		logger:  logger,
		metrics: metrics,
	}
}

type sourceResult struct {
	data domain.RawData
	err  error
}

// Load runs one invocation. All sources are fetched concurrently; if any of
// them fails, a *LoadError naming every failed source is returned and no
// merge happens. A normalized series that breaks the day-by-day invariant
// fails the whole load with a *domain.SequenceError.
func (l *Loader) Load(ctx context.Context) (domain.Dataset, domain.Stats, error) {
	results := make([]sourceResult, len(l.sources))

	// Each goroutine owns its slot; failures are collected rather than
	// cancelling the others so the aggregate error is complete.
	var g errgroup.Group
	for i, src := range l.sources {
		g.Go(func() error {
			data, err := l.loadSource(ctx, src)
			results[i] = sourceResult{data: data, err: err}
			return nil
		})
	}
	_ = g.Wait()

	loadErr := &LoadError{Total: len(l.sources)}
	parts := make([]domain.NamedRaw, 0, len(l.sources))
	for i, res := range results {
		if res.err != nil {
			loadErr.Failures = append(loadErr.Failures, &SourceError{Source: l.sources[i].Name, Err: res.err})
			continue
		}
		parts = append(parts, domain.NamedRaw{Source: l.sources[i].Name, Data: res.data})
	}
	if len(loadErr.Failures) > 0 {
		return nil, domain.Stats{}, loadErr
	}

	merged, collisions := domain.Merge(parts...)
	for _, c := range collisions {
		l.logger.Warn("place produced by more than one source, keeping last",
			"place", c.Place,
			"dropped", c.Loser,
			"kept", c.Winner,
		)
	}
	l.metrics.MergeCollisions.Add(float64(len(collisions)))

	ds, stats, err := domain.Normalize(merged)
	if err != nil {
		return nil, domain.Stats{}, fmt.Errorf("normalize: %w", err)
	}
	return ds, stats, nil
}

func (l *Loader) loadSource(ctx context.Context, src source.Source) (domain.RawData, error) {
	start := time.Now()
	defer func() {
		l.metrics.SourceFetch.WithLabelValues(src.Name).Observe(time.Since(start).Seconds())
	}()

	payload, err := l.fetcher.Fetch(ctx, src)
	if err != nil {
		l.sourceFailed(src, err)
		return nil, err
	}

	data, err := src.Decode(payload)
	if err != nil {
		l.sourceFailed(src, err)
		return nil, err
	}

	entries := 0
	for _, e := range data {
		entries += len(e)
	}
	l.metrics.SourceRows.WithLabelValues(src.Name).Set(float64(entries))
	l.logger.Info("source decoded", "source", src.Name, "places", len(data), "entries", entries)
	return data, nil
}

func (l *Loader) sourceFailed(src source.Source, err error) {
	kind := errorKind(err)
	l.metrics.SourceFailures.WithLabelValues(src.Name, kind).Inc()
	l.logger.Error("source failed", "source", src.Name, "kind", kind, "error", err)
}
