package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
	"github.com/couchcryptid/corona-data-etl/internal/observability"
	"github.com/couchcryptid/corona-data-etl/internal/pipeline"
	"github.com/couchcryptid/corona-data-etl/internal/source"
)

const (
	statesCSV = "date,state,fips,cases,deaths\n" +
		"2020-03-03,Ohio,39,9,1\n" +
		"2020-03-01,Ohio,39,5,0\n"
	countiesCSV = "date,county,state,fips,cases,deaths\n" +
		"2020-03-01,Franklin,Ohio,39049,2,0\n"
	countriesJSON = `{"Italy":[
		{"date":"2020-3-1","confirmed":1694,"deaths":34,"recovered":83},
		{"date":"2020-3-2","confirmed":2036,"deaths":52,"recovered":149}
	]}`
)

type fakeFetcher struct {
	payloads map[string]string
	errs     map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, src source.Source) ([]byte, error) {
	if err := f.errs[src.Name]; err != nil {
		return nil, err
	}
	return []byte(f.payloads[src.Name]), nil
}

func testSources() []source.Source {
	return []source.Source{
		{Name: "states", Kind: source.KindStates, DateLayout: domain.DateISO},
		{Name: "counties", Kind: source.KindCounties, DateLayout: domain.DateISO},
		{Name: "countries", Kind: source.KindCountries, DateLayout: domain.DateFlexible},
	}
}

func goodPayloads() map[string]string {
	return map[string]string{
		"states":    statesCSV,
		"counties":  countiesCSV,
		"countries": countriesJSON,
	}
}

func TestLoader_Load(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	l := pipeline.NewLoader(testSources(), &fakeFetcher{payloads: goodPayloads()}, slog.Default(), metrics)

	ds, stats, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"US-Ohio", "US-Ohio-Franklin", "Italy"}, keys(ds))
	assert.Equal(t, domain.Stats{Places: 3, Entries: 6, FilledDays: 1}, stats)

	ohio := ds["US-Ohio"]
	require.Len(t, ohio, 3)
	assert.Equal(t, int64(5), *ohio[1].Confirmed, "gap day carries the previous value forward")
	assert.Equal(t, int64(4), ohio[2].NewCases)
	assert.Equal(t, int64(1), ohio[2].NewDeaths)

	italy := ds["Italy"]
	require.Len(t, italy, 2)
	assert.Equal(t, int64(342), italy[1].NewCases)
	assert.Equal(t, int64(149), *italy[1].Recovered)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.SourceRows.WithLabelValues("states")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.MergeCollisions))
}

func TestLoader_Load_CountriesWinCollisions(t *testing.T) {
	payloads := goodPayloads()
	payloads["countries"] = `{"US-Ohio":[{"date":"2020-3-1","confirmed":50,"deaths":1,"recovered":null}]}`
	metrics := observability.NewMetricsForTesting()
	l := pipeline.NewLoader(testSources(), &fakeFetcher{payloads: payloads}, slog.Default(), metrics)

	ds, _, err := l.Load(context.Background())
	require.NoError(t, err)

	ohio := ds["US-Ohio"]
	require.Len(t, ohio, 1)
	assert.Equal(t, int64(50), *ohio[0].Confirmed)
	assert.Nil(t, ohio[0].Recovered)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MergeCollisions))
}

func TestLoader_Load_AggregatesEveryFailure(t *testing.T) {
	payloads := goodPayloads()
	payloads["countries"] = `{"Italy":[{"date":"March 1","confirmed":1,"deaths":0,"recovered":0}]}`
	fetcher := &fakeFetcher{
		payloads: payloads,
		errs: map[string]error{
			"states": &domain.TransportError{Source: "states", URL: "http://feed.test/states.csv", Status: 503},
		},
	}
	metrics := observability.NewMetricsForTesting()
	l := pipeline.NewLoader(testSources(), fetcher, slog.Default(), metrics)

	ds, _, err := l.Load(context.Background())
	require.Error(t, err)
	assert.Nil(t, ds)

	var loadErr *pipeline.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, 3, loadErr.Total)
	require.Len(t, loadErr.Failures, 2)
	assert.Equal(t, "states", loadErr.Failures[0].Source)
	assert.Equal(t, "countries", loadErr.Failures[1].Source)

	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.ErrorIs(t, err, domain.ErrInvalidDate)
	assert.NotErrorIs(t, err, domain.ErrSchemaViolation)
	assert.Contains(t, err.Error(), "2 of 3 sources failed")
	assert.Contains(t, err.Error(), `Italy[0].date`)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SourceFailures.WithLabelValues("states", "transport")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SourceFailures.WithLabelValues("countries", "invalid_date")))
}

func TestLoader_Load_SequenceFailureIsFatal(t *testing.T) {
	// the county key collides with nothing, but a duplicate date survives the
	// merge and the series can not be stepped day by day
	payloads := goodPayloads()
	payloads["counties"] = "date,county,state,fips,cases,deaths\n" +
		"2020-03-01,Franklin,Ohio,39049,2,0\n" +
		"2020-03-01,Franklin,Ohio,39049,3,0\n"
	l := pipeline.NewLoader(testSources(), &fakeFetcher{payloads: payloads}, slog.Default(), observability.NewMetricsForTesting())

	_, _, err := l.Load(context.Background())
	require.Error(t, err)

	var seqErr *domain.SequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, "US-Ohio-Franklin", seqErr.Place)
	assert.Equal(t, 1, seqErr.Index)
	assert.ErrorIs(t, err, domain.ErrSequenceInvariant)
}

// barrierFetcher only returns once every source has been requested, so Load
// can only finish if the fetches run concurrently.
type barrierFetcher struct {
	fakeFetcher
	wg sync.WaitGroup
}

func (b *barrierFetcher) Fetch(ctx context.Context, src source.Source) ([]byte, error) {
	b.wg.Done()
	waited := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return b.fakeFetcher.Fetch(ctx, src)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestLoader_Load_FetchesConcurrently(t *testing.T) {
	b := &barrierFetcher{fakeFetcher: fakeFetcher{payloads: goodPayloads()}}
	b.wg.Add(3)
	l := pipeline.NewLoader(testSources(), b, slog.Default(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ds, _, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, ds, 3)
}

func TestLoader_Load_ContextCancelled(t *testing.T) {
	b := &barrierFetcher{fakeFetcher: fakeFetcher{payloads: goodPayloads()}}
	b.wg.Add(4) // never released
	l := pipeline.NewLoader(testSources(), b, slog.Default(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := l.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	// release the barrier goroutines before the leak check
	b.wg.Done()
}

func keys(ds domain.Dataset) []string {
	out := make([]string, 0, len(ds))
	for k := range ds {
		out = append(out, k)
	}
	return out
}
