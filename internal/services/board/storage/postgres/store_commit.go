package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/podium.live/internal/services/board/storage"
	"github.com/louisbranch/podium.live/internal/services/board/storage/integrity"
)

// CommitScore applies one version-guarded score update together with its
// audit history entry in a single transaction.
//
// The guarded UPDATE serializes writers per user: the transaction that loses
// the version race rolls back with ErrVersionConflict and never appends
// history. The entry's per-user sequence is derived from the expected version
// so the history chain stays contiguous with the score row.
func (s *Store) CommitScore(ctx context.Context, record storage.ScoreRecord, expectVersion uint64, entry storage.HistoryEntry) (storage.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return storage.HistoryEntry{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.HistoryEntry{}, fmt.Errorf("storage is not configured")
	}
	if s.keyring == nil {
		return storage.HistoryEntry{}, fmt.Errorf("history integrity keyring is required")
	}

	normalizedRecord, err := storage.NormalizeScoreRecord(record)
	if err != nil {
		return storage.HistoryEntry{}, err
	}
	normalizedEntry, err := storage.NormalizeCommitEntry(normalizedRecord, expectVersion, entry)
	if err != nil {
		return storage.HistoryEntry{}, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.HistoryEntry{}, fmt.Errorf("begin score commit: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback score commit: %v", cause, rollbackErr)
		}
		return cause
	}

	result, err := tx.ExecContext(ctx, `
UPDATE scores
SET score = $1, actions_completed = $2, score_achieved_at = $3, updated_at = $4, version = version + 1
WHERE user_id = $5 AND version = $6
`,
		normalizedRecord.Score,
		normalizedRecord.ActionsCompleted,
		normalizedRecord.ScoreAchievedAt,
		normalizedRecord.UpdatedAt,
		normalizedRecord.UserID,
		int64(expectVersion),
	)
	if err != nil {
		return storage.HistoryEntry{}, rollbackWith(fmt.Errorf("update score: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.HistoryEntry{}, rollbackWith(fmt.Errorf("update score rows affected: %w", err))
	}
	if affected == 0 {
		return storage.HistoryEntry{}, rollbackWith(storage.ErrVersionConflict)
	}

	stored, err := appendHistoryTx(ctx, tx, s.keyring, normalizedEntry)
	if err != nil {
		return storage.HistoryEntry{}, rollbackWith(err)
	}

	if err := tx.Commit(); err != nil {
		return storage.HistoryEntry{}, fmt.Errorf("commit score commit: %w", err)
	}
	return stored, nil
}

// appendHistoryTx hashes, chains, signs, and inserts one history entry inside
// an open transaction.
func appendHistoryTx(ctx context.Context, tx *sql.Tx, keyring *integrity.Keyring, entry storage.HistoryEntry) (storage.HistoryEntry, error) {
	hash, err := integrity.EntryHash(entry)
	if err != nil {
		return storage.HistoryEntry{}, fmt.Errorf("compute entry hash: %w", err)
	}
	entry.EntryHash = hash

	prevChainHash := ""
	if entry.Seq > 1 {
		row := tx.QueryRowContext(ctx, `
SELECT chain_hash
FROM score_history
WHERE user_id = $1 AND seq = $2
`, entry.UserID, int64(entry.Seq-1))
		if err := row.Scan(&prevChainHash); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.HistoryEntry{}, fmt.Errorf("history chain is missing entry %d for user %s", entry.Seq-1, entry.UserID)
			}
			return storage.HistoryEntry{}, fmt.Errorf("load previous history entry: %w", err)
		}
	}

	chainHash, err := integrity.ChainHash(hash, prevChainHash)
	if err != nil {
		return storage.HistoryEntry{}, fmt.Errorf("compute chain hash: %w", err)
	}

	signature, keyID, err := keyring.SignChainHash(entry.UserID, chainHash)
	if err != nil {
		return storage.HistoryEntry{}, fmt.Errorf("sign chain hash: %w", err)
	}

	entry.PrevHash = prevChainHash
	entry.ChainHash = chainHash
	entry.Signature = signature
	entry.SignatureKeyID = keyID

	var globalSeq int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO score_history (
	user_id, seq, previous_score, new_score, increment, action_type, request_id, metadata_json,
	entry_hash, prev_hash, chain_hash, signature_key_id, signature, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING global_seq
`,
		entry.UserID,
		int64(entry.Seq),
		entry.PreviousScore,
		entry.NewScore,
		entry.Increment,
		entry.ActionType,
		entry.RequestID,
		entry.MetadataJSON,
		entry.EntryHash,
		entry.PrevHash,
		entry.ChainHash,
		entry.SignatureKeyID,
		entry.Signature,
		entry.CreatedAt,
	).Scan(&globalSeq)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.HistoryEntry{}, storage.ErrConflict
		}
		return storage.HistoryEntry{}, fmt.Errorf("append history entry: %w", err)
	}
	entry.GlobalSeq = uint64(globalSeq)
	return entry, nil
}
