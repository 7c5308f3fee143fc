//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/couchcryptid/corona-data-etl/internal/adapter/postgres"
	"github.com/couchcryptid/corona-data-etl/internal/adapter/redis"
	"github.com/couchcryptid/corona-data-etl/internal/config"
	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

func count(n int64) *int64 { return &n }

func day(d int) time.Time { return time.Date(2020, 3, d, 0, 0, 0, 0, time.UTC) }

// firstRun holds three places; secondRun revises Italy and Ohio, adds a day
// to Italy and drops Texas.
func firstRun() domain.Snapshot {
	return domain.Snapshot{
		RunID:       uuid.NewString(),
		Generation:  1,
		GeneratedAt: time.Date(2020, 3, 3, 6, 0, 0, 0, time.UTC),
		Dataset: domain.Dataset{
			"Italy": {
				{Date: day(1), Confirmed: count(1694), Deaths: count(34), Recovered: count(83), NewCases: 1694, NewDeaths: 34},
				{Date: day(2), Confirmed: count(2036), Deaths: count(52), Recovered: count(149), NewCases: 342, NewDeaths: 18},
			},
			"US-Ohio": {
				{Date: day(1), Confirmed: count(5), Deaths: count(0), NewCases: 5},
			},
			"US-Texas": {
				{Date: day(1), Confirmed: count(90), Deaths: count(8), NewCases: 90, NewDeaths: 8},
			},
		},
		Stats: domain.Stats{Places: 3, Entries: 4},
	}
}

func secondRun() domain.Snapshot {
	return domain.Snapshot{
		RunID:       uuid.NewString(),
		Generation:  2,
		GeneratedAt: time.Date(2020, 3, 4, 6, 0, 0, 0, time.UTC),
		Dataset: domain.Dataset{
			"Italy": {
				{Date: day(1), Confirmed: count(1700), Deaths: count(34), Recovered: count(83), NewCases: 1700, NewDeaths: 34},
				{Date: day(2), Confirmed: count(2036), Deaths: count(52), Recovered: count(149), NewCases: 336, NewDeaths: 18},
				{Date: day(3), Confirmed: count(2502), Deaths: count(79), Recovered: count(160), NewCases: 466, NewDeaths: 27},
			},
			"US-Ohio": {
				{Date: day(1), Confirmed: count(6), Deaths: count(1), NewCases: 6, NewDeaths: 1},
			},
		},
		Stats: domain.Stats{Places: 2, Entries: 4, FilledDays: 1},
	}
}

// startPostgres runs a throwaway database and returns its DSN.
func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("corona"),
		tcpostgres.WithUsername("corona"),
		tcpostgres.WithPassword("corona"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// startRedis runs a throwaway server and returns its host:port.
func startRedis(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start redis container")

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(uri)
	require.NoError(t, err)
	return opts.Addr
}

type entryRow struct {
	Confirmed sql.NullInt64
	Deaths    sql.NullInt64
	Recovered sql.NullInt64
	NewCases  int64
	RunID     string
}

func TestPostgresStore_PublishReplacesPreviousRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := startPostgres(ctx, t)
	store, err := postgres.Open(ctx, dsn, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema is idempotent")

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	first, second := firstRun(), secondRun()
	require.NoError(t, store.Publish(ctx, first))

	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM daily_entries`).Scan(&rows))
	assert.Equal(t, 4, rows)

	require.NoError(t, store.Publish(ctx, second))

	read := func(place string, d time.Time) (entryRow, error) {
		var r entryRow
		err := db.QueryRowContext(ctx, `
			SELECT confirmed, deaths, recovered, new_cases, run_id::text
			FROM daily_entries WHERE place = $1 AND date = $2`,
			place, domain.FormatDate(domain.DateISO, d),
		).Scan(&r.Confirmed, &r.Deaths, &r.Recovered, &r.NewCases, &r.RunID)
		return r, err
	}

	italy, err := read("Italy", day(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1700), italy.Confirmed.Int64, "existing row is upserted")
	assert.Equal(t, int64(1700), italy.NewCases)
	assert.Equal(t, second.RunID, italy.RunID)

	added, err := read("Italy", day(3))
	require.NoError(t, err)
	assert.Equal(t, int64(79), added.Deaths.Int64)

	ohio, err := read("US-Ohio", day(1))
	require.NoError(t, err)
	assert.Equal(t, int64(6), ohio.Confirmed.Int64)
	assert.False(t, ohio.Recovered.Valid, "unknown recoveries stay NULL")

	_, err = read("US-Texas", day(1))
	require.ErrorIs(t, err, sql.ErrNoRows, "rows of the older run are deleted")

	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM daily_entries`).Scan(&rows))
	assert.Equal(t, 4, rows)
	var foreign int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM daily_entries WHERE run_id <> $1`, second.RunID).Scan(&foreign))
	assert.Zero(t, foreign)

	var places, filled int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT places, filled_days FROM snapshots WHERE run_id = $1`, second.RunID).Scan(&places, &filled))
	assert.Equal(t, 2, places)
	assert.Equal(t, 1, filled)
	var snapshots int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM snapshots`).Scan(&snapshots))
	assert.Equal(t, 2, snapshots)
}

func TestRedisStore_PublishReplacesPreviousRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	addr := startRedis(ctx, t)
	ttl := 10 * time.Minute
	store := redis.NewStore(&config.Config{RedisAddr: addr, RedisTTL: ttl}, discardLogger())
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping(ctx))

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	first, second := firstRun(), secondRun()
	require.NoError(t, store.Publish(ctx, first))
	exists, err := client.Exists(ctx, redis.PlaceKey("US-Texas")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	require.NoError(t, store.Publish(ctx, second))

	raw, err := client.Get(ctx, redis.PlaceKey("Italy")).Bytes()
	require.NoError(t, err)
	var italy domain.PlaceSeries
	require.NoError(t, json.Unmarshal(raw, &italy))
	require.Len(t, italy, 3)
	assert.Equal(t, int64(1700), *italy[0].Confirmed, "existing key is overwritten")

	ohio, err := client.Get(ctx, redis.PlaceKey("US-Ohio")).Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(ohio), `"recovered":null`)

	_, err = client.Get(ctx, redis.PlaceKey("US-Texas")).Result()
	require.ErrorIs(t, err, goredis.Nil, "keys of places dropped by the newer run are deleted")

	placeTTL, err := client.TTL(ctx, redis.PlaceKey("Italy")).Result()
	require.NoError(t, err)
	assert.Positive(t, placeTTL)
	assert.LessOrEqual(t, placeTTL, ttl)

	ranking, err := client.ZRevRangeWithScores(ctx, "corona:ranking:deaths", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, ranking, 2)
	assert.Equal(t, "Italy", ranking[0].Member)
	assert.Equal(t, float64(79), ranking[0].Score)
	assert.Equal(t, "US-Ohio", ranking[1].Member)
	assert.Equal(t, float64(1), ranking[1].Score)

	meta, err := client.HGetAll(ctx, "corona:snapshot").Result()
	require.NoError(t, err)
	assert.Equal(t, second.RunID, meta["run_id"])
	assert.Equal(t, "2020-03-04T06:00:00Z", meta["generated_at"])
	assert.Equal(t, "2", meta["places"])
	assert.Equal(t, "4", meta["entries"])

	snapTTL, err := client.TTL(ctx, "corona:snapshot").Result()
	require.NoError(t, err)
	assert.Positive(t, snapTTL)

	index, err := client.SMembers(ctx, "corona:places").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Italy", "US-Ohio"}, index)
}
