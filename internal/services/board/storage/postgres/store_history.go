package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/podium.live/internal/services/board/storage"
)

// ListUserHistory returns a user's entries ordered by seq ascending, starting
// after afterSeq.
func (s *Store) ListUserHistory(ctx context.Context, userID string, afterSeq uint64, limit int) ([]storage.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT global_seq, user_id, seq, previous_score, new_score, increment, action_type, request_id, metadata_json,
       entry_hash, prev_hash, chain_hash, signature_key_id, signature, created_at
FROM score_history
WHERE user_id = $1 AND seq > $2
ORDER BY seq ASC
LIMIT $3
`, userID, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("list user history: %w", err)
	}
	defer rows.Close()
	return collectHistoryEntries(rows, limit)
}

// ListHistory returns entries across all users in commit order, starting
// after afterGlobalSeq.
func (s *Store) ListHistory(ctx context.Context, afterGlobalSeq uint64, limit int) ([]storage.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT global_seq, user_id, seq, previous_score, new_score, increment, action_type, request_id, metadata_json,
       entry_hash, prev_hash, chain_hash, signature_key_id, signature, created_at
FROM score_history
WHERE global_seq > $1
ORDER BY global_seq ASC
LIMIT $2
`, int64(afterGlobalSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	return collectHistoryEntries(rows, limit)
}

// GetLatestUserSeq returns the newest per-user sequence, 0 when none exist.
func (s *Store) GetLatestUserSeq(ctx context.Context, userID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}

	var seq sql.NullInt64
	if err := s.sqlDB.QueryRowContext(ctx, `
SELECT MAX(seq)
FROM score_history
WHERE user_id = $1
`, userID).Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get latest user seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

func collectHistoryEntries(rows *sql.Rows, limit int) ([]storage.HistoryEntry, error) {
	entries := make([]storage.HistoryEntry, 0, limit)
	for rows.Next() {
		entry, err := scanHistoryEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return entries, nil
}

func scanHistoryEntry(scan scanner) (storage.HistoryEntry, error) {
	var entry storage.HistoryEntry
	if err := scan(
		&entry.GlobalSeq,
		&entry.UserID,
		&entry.Seq,
		&entry.PreviousScore,
		&entry.NewScore,
		&entry.Increment,
		&entry.ActionType,
		&entry.RequestID,
		&entry.MetadataJSON,
		&entry.EntryHash,
		&entry.PrevHash,
		&entry.ChainHash,
		&entry.SignatureKeyID,
		&entry.Signature,
		&entry.CreatedAt,
	); err != nil {
		return storage.HistoryEntry{}, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}
