// Package postgres provides the PostgreSQL-backed board store for
// deployments that outgrow the embedded SQLite file.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/louisbranch/podium.live/internal/services/board/storage"
	"github.com/louisbranch/podium.live/internal/services/board/storage/integrity"
)

// Store provides PostgreSQL-backed persistence for board state.
type Store struct {
	sqlDB   *sql.DB
	keyring *integrity.Keyring
}

// Open connects to the PostgreSQL database named by the connection string
// and ensures the board schema exists. The keyring signs every appended
// history entry.
func Open(dsn string, keyring *integrity.Keyring) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres connection string is required")
	}
	if keyring == nil {
		return nil, fmt.Errorf("history integrity keyring is required")
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, keyring: keyring}
	if err := ensureSchema(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func ensureSchema(sqlDB *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS scores (
			user_id TEXT PRIMARY KEY,
			score BIGINT NOT NULL DEFAULT 0,
			actions_completed BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			version BIGINT NOT NULL DEFAULT 0,
			score_achieved_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS score_history (
			global_seq BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			previous_score BIGINT NOT NULL,
			new_score BIGINT NOT NULL,
			increment BIGINT NOT NULL,
			action_type TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '',
			entry_hash TEXT NOT NULL,
			prev_hash TEXT NOT NULL DEFAULT '',
			chain_hash TEXT NOT NULL,
			signature_key_id TEXT NOT NULL,
			signature TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS admissions (
			request_id TEXT PRIMARY KEY,
			action_hash TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_admissions_expires_at ON admissions (expires_at)`,
		`CREATE TABLE IF NOT EXISTS telemetry_events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			event_name TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'INFO',
			user_id TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			attributes_json TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_events_ts ON telemetry_events (ts)`,
	}
	for _, statement := range statements {
		if _, err := sqlDB.Exec(statement); err != nil {
			return err
		}
	}
	return nil
}

// GetScore returns the standing row for a user.
func (s *Store) GetScore(ctx context.Context, userID string) (storage.ScoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ScoreRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ScoreRecord{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.ScoreRecord{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT user_id, score, actions_completed, status, version, score_achieved_at, created_at, updated_at
FROM scores
WHERE user_id = $1
`, userID)
	record, err := scanScore(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ScoreRecord{}, storage.ErrNotFound
		}
		return storage.ScoreRecord{}, fmt.Errorf("get score: %w", err)
	}
	return record, nil
}

// CreateScore inserts the initial standing row for a user.
func (s *Store) CreateScore(ctx context.Context, record storage.ScoreRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := storage.NormalizeScoreRecord(record)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO scores (user_id, score, actions_completed, status, version, score_achieved_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`,
		normalized.UserID,
		normalized.Score,
		normalized.ActionsCompleted,
		string(normalized.Status),
		int64(normalized.Version),
		normalized.ScoreAchievedAt,
		normalized.CreatedAt,
		normalized.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("create score: %w", err)
	}
	return nil
}

// SetUserStatus updates the moderation state for a user.
func (s *Store) SetUserStatus(ctx context.Context, userID string, status storage.UserStatus, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if _, ok := storage.ParseUserStatus(string(status)); !ok {
		return fmt.Errorf("user status %q is unknown", status)
	}
	if updatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE scores
SET status = $1, updated_at = $2
WHERE user_id = $3
`, string(status), updatedAt.UTC(), userID)
	if err != nil {
		return fmt.Errorf("set user status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user status rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type scanner func(dest ...any) error

func scanScore(scan scanner) (storage.ScoreRecord, error) {
	var record storage.ScoreRecord
	var status string
	if err := scan(
		&record.UserID,
		&record.Score,
		&record.ActionsCompleted,
		&status,
		&record.Version,
		&record.ScoreAchievedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return storage.ScoreRecord{}, err
	}
	record.Status = storage.UserStatus(status)
	record.ScoreAchievedAt = record.ScoreAchievedAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
