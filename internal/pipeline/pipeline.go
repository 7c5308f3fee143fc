package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
	"github.com/couchcryptid/corona-data-etl/internal/observability"
)

// ErrSuperseded is returned by Refresh when a newer invocation resolved
// first and this invocation's outcome was discarded.
var ErrSuperseded = errors.New("result superseded by a newer invocation")

// DatasetLoader produces a normalized dataset.
type DatasetLoader interface {
	Load(ctx context.Context) (domain.Dataset, domain.Stats, error)
}

// Sink receives every applied snapshot.
type Sink interface {
	Name() string
	Publish(ctx context.Context, snap domain.Snapshot) error
}

// Runner refreshes the dataset on a schedule and on demand, and hands
// applied snapshots to the configured sinks.
type Runner struct {
	loader   DatasetLoader
	snaps    *Snapshots
	sinks    []Sink
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics

	trigger   chan struct{}
	inflight  sync.WaitGroup
	publishMu sync.Mutex
}

// NewRunner creates a Runner. An interval of zero disables scheduled
// refreshes; the dataset is then loaded once at start and on Trigger.
func NewRunner(loader DatasetLoader, snaps *Snapshots, sinks []Sink, clock clockwork.Clock, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		loader:   loader,
		snaps:    snaps,
		sinks:    sinks,
		clock:    clock,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		trigger:  make(chan struct{}, 1),
	}
}

// CheckReadiness returns nil once the first dataset has been applied.
func (r *Runner) CheckReadiness(ctx context.Context) error {
	return r.snaps.CheckReadiness(ctx)
}

// Trigger requests an immediate refresh. It never blocks; requests made
// while one is already pending are coalesced and Trigger reports false.
func (r *Runner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run loads the dataset immediately and then on every tick or trigger until
// ctx is cancelled. Each refresh runs in its own goroutine so a slow load
// does not delay a requested one; Snapshots decides which outcome wins.
// Run waits for in-flight refreshes before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("refresh loop started", "interval", r.interval)
	r.metrics.PipelineRunning.Set(1)
	defer r.metrics.PipelineRunning.Set(0)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := r.clock.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	r.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresh loop stopping", "reason", ctx.Err())
			r.inflight.Wait()
			return nil
		case <-tick:
			r.spawn(ctx)
		case <-r.trigger:
			r.spawn(ctx)
		}
	}
}

func (r *Runner) spawn(ctx context.Context) {
	r.inflight.Go(func() {
		_ = r.Refresh(ctx)
	})
}

// Refresh performs one invocation synchronously: load, apply if still
// current, then publish. It returns the load error, ErrSuperseded when the
// outcome was discarded, or nil.
func (r *Runner) Refresh(ctx context.Context) error {
	gen := r.snaps.Begin()
	start := r.clock.Now()

	ds, stats, err := r.loader.Load(ctx)
	r.metrics.LoadDuration.Observe(r.clock.Since(start).Seconds())
	if err != nil {
		r.metrics.Loads.WithLabelValues("failure").Inc()
		if !r.snaps.Fail(gen, err, r.clock.Now()) {
			r.metrics.StaleDiscarded.Inc()
			r.logger.Debug("discarding stale failure", "generation", gen, "error", err)
			return ErrSuperseded
		}
		r.logger.Error("load failed", "generation", gen, "error", err)
		return err
	}
	r.metrics.Loads.WithLabelValues("success").Inc()

	snap := domain.Snapshot{
		RunID:       uuid.NewString(),
		Generation:  gen,
		GeneratedAt: r.clock.Now().UTC(),
		Dataset:     ds,
		Stats:       stats,
	}
	if !r.snaps.Offer(snap) {
		r.metrics.StaleDiscarded.Inc()
		r.logger.Info("discarding stale dataset", "generation", gen, "run_id", snap.RunID)
		return ErrSuperseded
	}

	r.metrics.Places.Set(float64(stats.Places))
	r.metrics.Entries.Set(float64(stats.Entries))
	r.metrics.FilledDays.Set(float64(stats.FilledDays))
	r.metrics.ClampedDeltas.Set(float64(stats.ClampedDeltas))
	r.metrics.LastSuccess.Set(float64(snap.GeneratedAt.Unix()))
	r.logger.Info("dataset applied",
		"generation", gen,
		"run_id", snap.RunID,
		"places", stats.Places,
		"entries", stats.Entries,
		"filled_days", stats.FilledDays,
		"clamped_deltas", stats.ClampedDeltas,
	)

	r.publish(ctx, snap)
	return nil
}

// publish hands snap to every sink. Sinks see snapshots in generation order:
// a snapshot replaced while waiting for the lock is skipped.
func (r *Runner) publish(ctx context.Context, snap domain.Snapshot) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	if !r.snaps.Current(snap.Generation) {
		r.logger.Debug("skipping publish of replaced snapshot", "generation", snap.Generation)
		return
	}
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, snap); err != nil {
			r.metrics.SinkWrites.WithLabelValues(sink.Name(), "error").Inc()
			r.logger.Error("sink publish failed", "sink", sink.Name(), "run_id", snap.RunID, "error", err)
			continue
		}
		r.metrics.SinkWrites.WithLabelValues(sink.Name(), "success").Inc()
	}
}
