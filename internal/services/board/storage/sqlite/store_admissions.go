package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/podium.live/internal/services/board/storage"
)

// InsertAdmission atomically records a claim admission. Expired rows holding
// the same request id or action hash are cleared in the same transaction so a
// stale record never shadows a fresh claim.
func (s *Store) InsertAdmission(ctx context.Context, record storage.AdmissionRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	normalized, err := storage.NormalizeAdmissionRecord(record)
	if err != nil {
		return false, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin admission write: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback admission write: %v", cause, rollbackErr)
		}
		return cause
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM admissions
WHERE (request_id = ? OR action_hash = ?) AND expires_at <= ?
`, normalized.RequestID, normalized.ActionHash, toMillis(normalized.CreatedAt)); err != nil {
		return false, rollbackWith(fmt.Errorf("expire stale admissions: %w", err))
	}

	result, err := tx.ExecContext(ctx, `
INSERT INTO admissions (request_id, action_hash, user_id, expires_at, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING
`,
		normalized.RequestID,
		normalized.ActionHash,
		normalized.UserID,
		toMillis(normalized.ExpiresAt),
		toMillis(normalized.CreatedAt),
	)
	if err != nil {
		return false, rollbackWith(fmt.Errorf("insert admission: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, rollbackWith(fmt.Errorf("insert admission rows affected: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit admission write: %w", err)
	}
	return affected > 0, nil
}

// FindAdmission returns the live record holding the request id or action
// hash at the given instant.
func (s *Store) FindAdmission(ctx context.Context, requestID, actionHash string, now time.Time) (storage.AdmissionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.AdmissionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AdmissionRecord{}, fmt.Errorf("storage is not configured")
	}
	requestID = strings.TrimSpace(requestID)
	actionHash = strings.TrimSpace(actionHash)
	if requestID == "" && actionHash == "" {
		return storage.AdmissionRecord{}, fmt.Errorf("request id or action hash is required")
	}
	if now.IsZero() {
		return storage.AdmissionRecord{}, fmt.Errorf("now is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT request_id, action_hash, user_id, expires_at, created_at
FROM admissions
WHERE (request_id = ? OR action_hash = ?) AND expires_at > ?
LIMIT 1
`, requestID, actionHash, toMillis(now))

	var record storage.AdmissionRecord
	var expiresAt int64
	var createdAt int64
	if err := row.Scan(&record.RequestID, &record.ActionHash, &record.UserID, &expiresAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AdmissionRecord{}, storage.ErrNotFound
		}
		return storage.AdmissionRecord{}, fmt.Errorf("find admission: %w", err)
	}
	record.ExpiresAt = fromMillis(expiresAt)
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// DeleteExpiredAdmissions removes admission rows whose TTL has passed.
func (s *Store) DeleteExpiredAdmissions(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if now.IsZero() {
		return 0, fmt.Errorf("now is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM admissions
WHERE expires_at <= ?
`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired admissions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired admissions rows affected: %w", err)
	}
	return affected, nil
}
