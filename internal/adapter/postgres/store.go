// Package postgres mirrors the latest dataset into a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lib/pq"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

//go:embed schema.sql
var schema string

var stageColumns = []string{
	"place", "date", "confirmed", "deaths", "recovered", "new_cases", "new_deaths", "run_id",
}

const (
	createStage = `CREATE TEMP TABLE daily_entries_stage (LIKE daily_entries) ON COMMIT DROP`

	upsertFromStage = `
		INSERT INTO daily_entries (place, date, confirmed, deaths, recovered, new_cases, new_deaths, run_id)
		SELECT place, date, confirmed, deaths, recovered, new_cases, new_deaths, run_id
		FROM daily_entries_stage
		ON CONFLICT (place, date) DO UPDATE
		SET confirmed = EXCLUDED.confirmed,
		    deaths = EXCLUDED.deaths,
		    recovered = EXCLUDED.recovered,
		    new_cases = EXCLUDED.new_cases,
		    new_deaths = EXCLUDED.new_deaths,
		    run_id = EXCLUDED.run_id
	`

	deleteStale = `DELETE FROM daily_entries WHERE run_id <> $1`

	insertSnapshot = `
		INSERT INTO snapshots (run_id, generated_at, places, entries, filled_days, clamped_deltas)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
)

// Store writes snapshots to PostgreSQL. It implements pipeline.Sink.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db, logger: logger}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Name identifies the sink in logs and metrics.
func (s *Store) Name() string { return "postgres" }

// Publish replaces the table contents with snap in one transaction: rows are
// bulk-copied into a staging table, upserted on (place, date), and rows left
// over from earlier runs are removed. Readers see either the previous
// dataset or the new one.
func (s *Store) Publish(ctx context.Context, snap domain.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, createStage); err != nil {
		return fmt.Errorf("create stage: %w", err)
	}
	if err = copyEntries(ctx, tx, snap); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, upsertFromStage)
	if err != nil {
		return fmt.Errorf("upsert entries: %w", err)
	}
	upserted, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, deleteStale, snap.RunID)
	if err != nil {
		return fmt.Errorf("delete stale entries: %w", err)
	}
	deleted, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, insertSnapshot,
		snap.RunID, snap.GeneratedAt,
		snap.Stats.Places, snap.Stats.Entries, snap.Stats.FilledDays, snap.Stats.ClampedDeltas,
	)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("snapshot written to postgres", "run_id", snap.RunID, "upserted", upserted, "deleted", deleted)
	return nil
}

func copyEntries(ctx context.Context, tx *sql.Tx, snap domain.Snapshot) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("daily_entries_stage", stageColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	defer stmt.Close()

	places := make([]string, 0, len(snap.Dataset))
	for place := range snap.Dataset {
		places = append(places, place)
	}
	slices.Sort(places)

	for _, place := range places {
		for _, e := range snap.Dataset[place] {
			if _, err := stmt.ExecContext(ctx, entryValues(place, e, snap.RunID)...); err != nil {
				return fmt.Errorf("copy %q: %w", place, err)
			}
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("flush copy: %w", err)
	}
	return nil
}

// entryValues returns one staging row in stageColumns order.
func entryValues(place string, e domain.DailyEntry, runID string) []any {
	return []any{
		place,
		domain.FormatDate(domain.DateISO, e.Date),
		nullInt64(e.Confirmed),
		nullInt64(e.Deaths),
		nullInt64(e.Recovered),
		e.NewCases,
		e.NewDeaths,
		runID,
	}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
