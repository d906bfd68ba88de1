package repository

import (
	"clash-tracker/internal/constants"
	"clash-tracker/internal/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	observationColumns      = 9
	observationPlaceholders = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
)

// SQLiteRepository stores the tracker document across the players,
// observations and tracker_state tables. A save replaces all rows in one
// transaction guarded by the version column.
type SQLiteRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSQLiteRepository(sqlDB *sql.DB, logger zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{db: sqlDB, logger: logger}
}

func (r *SQLiteRepository) Load(ctx context.Context) (*domain.State, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	state := domain.NewState()

	var lastAutoUpdate, apiKey sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT last_auto_update, api_key, version FROM tracker_state WHERE id = 1`,
	).Scan(&lastAutoUpdate, &apiKey, &state.Version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: load tracker state: %w", domain.ErrPersistence, err)
	}
	if lastAutoUpdate.Valid {
		ts, err := ParseTimestamp(lastAutoUpdate.String)
		if err != nil {
			r.logger.Warn().Err(err).Msg("last_auto_update unreadable, treating as never refreshed")
		} else {
			state.LastAutoRefresh = ts
		}
	}
	state.APIKey = apiKey.String

	if err := r.loadPlayers(ctx, state); err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (r *SQLiteRepository) loadPlayers(ctx context.Context, state *domain.State) error {
	rows, err := r.db.QueryContext(ctx, `SELECT tag, name FROM players`)
	if err != nil {
		return fmt.Errorf("%w: load players: %w", domain.ErrPersistence, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Player
		if err := rows.Scan(&p.Tag, &p.Name); err != nil {
			return fmt.Errorf("%w: scan player: %w", domain.ErrPersistence, err)
		}
		state.Players[p.Tag] = p
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: load players: %w", domain.ErrPersistence, err)
	}
	return nil
}

func (r *SQLiteRepository) loadHistory(ctx context.Context, state *domain.State) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tag, name, observed_at, trophies, level, wins, losses
		FROM observations
		ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("%w: load history: %w", domain.ErrPersistence, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o       domain.Observation
			rawTime string
		)
		if err := rows.Scan(&o.Tag, &o.Name, &rawTime, &o.Trophies, &o.Level, &o.Wins, &o.Losses); err != nil {
			return fmt.Errorf("%w: scan observation: %w", domain.ErrPersistence, err)
		}
		ts, err := ParseTimestamp(rawTime)
		if err != nil {
			r.logger.Warn().Err(err).Str("tag", o.Tag).Msg("observation has unreadable timestamp, keeping it as stored")
			o.RawTimestamp = rawTime
		}
		o.Timestamp = ts
		state.History = append(state.History, o)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: load history: %w", domain.ErrPersistence, err)
	}
	return nil
}

func (r *SQLiteRepository) Save(ctx context.Context, state *domain.State) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	var storedVersion int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM tracker_state WHERE id = 1`).Scan(&storedVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: read version: %w", domain.ErrPersistence, err)
	}
	if storedVersion != state.Version {
		r.logger.Warn().
			Int64("stored_version", storedVersion).
			Int64("loaded_version", state.Version).
			Msg("refusing to overwrite newer tracker state")
		return fmt.Errorf("%w: stored version %d, loaded version %d", domain.ErrConflict, storedVersion, state.Version)
	}

	now := time.Now()
	if err := r.replacePlayers(ctx, tx, state, now); err != nil {
		return err
	}
	if err := r.replaceHistory(ctx, tx, state.History); err != nil {
		return err
	}

	var lastAutoUpdate, apiKey sql.NullString
	if !state.LastAutoRefresh.IsZero() {
		lastAutoUpdate = sql.NullString{String: FormatTimestamp(state.LastAutoRefresh), Valid: true}
	}
	if state.APIKey != "" {
		apiKey = sql.NullString{String: state.APIKey, Valid: true}
	}
	next := state.Version + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tracker_state (id, last_auto_update, api_key, version, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_auto_update = excluded.last_auto_update,
			api_key = excluded.api_key,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		lastAutoUpdate, apiKey, next, now)
	if err != nil {
		return fmt.Errorf("%w: write tracker state: %w", domain.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrPersistence, err)
	}
	state.Version = next

	r.logger.Debug().
		Int64("version", next).
		Int("players", len(state.Players)).
		Int("history", len(state.History)).
		Msg("tracker state saved")
	return nil
}

func (r *SQLiteRepository) replacePlayers(ctx context.Context, tx *sql.Tx, state *domain.State, now time.Time) error {
	created := make(map[string]time.Time)
	rows, err := tx.QueryContext(ctx, `SELECT tag, created_at FROM players`)
	if err != nil {
		return fmt.Errorf("%w: read players: %w", domain.ErrPersistence, err)
	}
	for rows.Next() {
		var (
			tag string
			at  time.Time
		)
		if err := rows.Scan(&tag, &at); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scan player: %w", domain.ErrPersistence, err)
		}
		created[tag] = at
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: read players: %w", domain.ErrPersistence, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM players`); err != nil {
		return fmt.Errorf("%w: clear players: %w", domain.ErrPersistence, err)
	}

	tags := make([]string, 0, len(state.Players))
	for tag := range state.Players {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO players (tag, name, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare player insert: %w", domain.ErrPersistence, err)
	}
	defer stmt.Close()

	for _, tag := range tags {
		at, ok := created[tag]
		if !ok {
			at = now
		}
		if _, err := stmt.ExecContext(ctx, tag, state.Players[tag].Name, at); err != nil {
			return fmt.Errorf("%w: insert player %s: %w", domain.ErrPersistence, tag, err)
		}
	}
	return nil
}

// replaceHistory rewrites the observations table, inserting up to
// DBBatchSize rows per statement.
func (r *SQLiteRepository) replaceHistory(ctx context.Context, tx *sql.Tx, history []domain.Observation) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM observations`); err != nil {
		return fmt.Errorf("%w: clear history: %w", domain.ErrPersistence, err)
	}

	for i := 0; i < len(history); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(history))

		var query strings.Builder
		query.WriteString(`INSERT INTO observations (id, seq, tag, name, observed_at, trophies, level, wins, losses) VALUES `)
		args := make([]any, 0, (end-i)*observationColumns)
		for seq := i; seq < end; seq++ {
			if seq > i {
				query.WriteString(", ")
			}
			query.WriteString(observationPlaceholders)

			o := history[seq]
			id, err := gonanoid.New()
			if err != nil {
				return fmt.Errorf("failed to generate nanoid: %w", err)
			}
			args = append(args, id, seq, o.Tag, o.Name, observedAt(o), o.Trophies, o.Level, o.Wins, o.Losses)
		}

		if _, err := tx.ExecContext(ctx, query.String(), args...); err != nil {
			return fmt.Errorf("%w: insert observations %d-%d: %w", domain.ErrPersistence, i, end-1, err)
		}
	}
	return nil
}
