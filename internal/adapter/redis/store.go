// Package redis caches the latest dataset in Redis for read-heavy consumers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/corona-data-etl/internal/config"
	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

const (
	keyPrefix   = "corona:"
	snapshotKey = keyPrefix + "snapshot"
	rankingKey  = keyPrefix + "ranking:deaths"
	placesKey   = keyPrefix + "places"
)

// PlaceKey is the key holding the series JSON of place.
func PlaceKey(place string) string {
	return keyPrefix + "place:" + place
}

// Store writes snapshots to Redis. It implements pipeline.Sink.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a Redis client from the configuration.
func NewStore(cfg *config.Config, logger *slog.Logger) *Store {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Store{client: client, ttl: cfg.RedisTTL, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (s *Store) Name() string { return "redis" }

// Publish writes one key per place, a ranking of places by latest deaths and
// the snapshot metadata hash in a single MULTI/EXEC, all expiring after the
// configured TTL. Keys of places missing from snap are deleted in the same
// transaction. Publishes must not run concurrently.
func (s *Store) Publish(ctx context.Context, snap domain.Snapshot) error {
	previous, err := s.client.SMembers(ctx, placesKey).Result()
	if err != nil {
		return fmt.Errorf("read place index: %w", err)
	}
	stale := staleKeys(previous, snap.Dataset)

	values := make(map[string][]byte, len(snap.Dataset))
	for place, series := range snap.Dataset {
		data, err := json.Marshal(series)
		if err != nil {
			return fmt.Errorf("serialize series %q: %w", place, err)
		}
		values[place] = data
	}
	ranking := domain.SortByDeaths(snap.Dataset)

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		pipe.Del(ctx, placesKey)
		if len(values) > 0 {
			members := make([]any, 0, len(values))
			for place, data := range values {
				pipe.Set(ctx, PlaceKey(place), data, s.ttl)
				members = append(members, place)
			}
			pipe.SAdd(ctx, placesKey, members...)
			pipe.Expire(ctx, placesKey, s.ttl)
		}
		pipe.Del(ctx, rankingKey)
		if len(ranking) > 0 {
			members := make([]goredis.Z, len(ranking))
			for i, r := range ranking {
				members[i] = goredis.Z{Score: float64(r.Deaths), Member: r.Place}
			}
			pipe.ZAdd(ctx, rankingKey, members...)
			pipe.Expire(ctx, rankingKey, s.ttl)
		}
		pipe.HSet(ctx, snapshotKey, snapshotFields(snap))
		pipe.Expire(ctx, snapshotKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	s.logger.Debug("snapshot written to redis",
		"run_id", snap.RunID,
		"places", len(values),
		"removed", len(stale),
	)
	return nil
}

// staleKeys returns the sorted place keys of previous that ds no longer holds.
func staleKeys(previous []string, ds domain.Dataset) []string {
	var keys []string
	for _, place := range previous {
		if _, ok := ds[place]; !ok {
			keys = append(keys, PlaceKey(place))
		}
	}
	slices.Sort(keys)
	return keys
}

// snapshotFields is the content of the snapshot metadata hash.
func snapshotFields(snap domain.Snapshot) map[string]any {
	return map[string]any{
		"run_id":       snap.RunID,
		"generated_at": snap.GeneratedAt.UTC().Format(time.RFC3339),
		"places":       strconv.Itoa(snap.Stats.Places),
		"entries":      strconv.Itoa(snap.Stats.Entries),
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
