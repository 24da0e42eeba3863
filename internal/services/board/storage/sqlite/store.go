package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/podium.live/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/podium.live/internal/services/board/storage"
	"github.com/louisbranch/podium.live/internal/services/board/storage/integrity"
	"github.com/louisbranch/podium.live/internal/services/board/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for board state.
type Store struct {
	sqlDB   *sql.DB
	keyring *integrity.Keyring
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a board SQLite store at the provided path. The keyring signs
// every appended history entry.
func Open(path string, keyring *integrity.Keyring) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if keyring == nil {
		return nil, fmt.Errorf("history integrity keyring is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, keyring: keyring}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
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
WHERE user_id = ?
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		normalized.UserID,
		normalized.Score,
		normalized.ActionsCompleted,
		string(normalized.Status),
		normalized.Version,
		toMillis(normalized.ScoreAchievedAt),
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
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
SET status = ?, updated_at = ?
WHERE user_id = ?
`, string(status), toMillis(updatedAt), userID)
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
	var achievedAt int64
	var createdAt int64
	var updatedAt int64
	if err := scan(
		&record.UserID,
		&record.Score,
		&record.ActionsCompleted,
		&status,
		&record.Version,
		&achievedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.ScoreRecord{}, err
	}
	record.Status = storage.UserStatus(status)
	record.ScoreAchievedAt = fromMillis(achievedAt)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed")
}
