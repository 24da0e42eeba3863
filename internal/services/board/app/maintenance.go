package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/podium.live/internal/platform/errors"
	"github.com/louisbranch/podium.live/internal/services/board/domain/standings"
	"github.com/louisbranch/podium.live/internal/services/board/observability/audit"
	"github.com/louisbranch/podium.live/internal/services/board/observability/audit/events"
	"github.com/louisbranch/podium.live/internal/services/board/storage"
	"github.com/louisbranch/podium.live/internal/services/board/storage/integrity"
)

const (
	// DefaultSweepInterval paces the background maintenance loop.
	DefaultSweepInterval = time.Minute

	// limiterIdleAfter keeps rate windows past the hour ceiling they bound.
	limiterIdleAfter = 2 * time.Hour

	historyPageSize = 256
)

// RebuildIndex replaces the standings index with one replayed from the
// history log in global commit order. Live commits block on the swap, so
// the rebuilt index never misses an entry.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()

	fresh := standings.NewIndex(e.indexCfg)
	var after uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := e.store.ListHistory(ctx, after, historyPageSize)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeStorageFailure, "scan history for rebuild", err)
		}
		for _, entry := range entries {
			fresh.Update(entry.UserID, entry.PreviousScore, entry.NewScore, entry.Seq, entry.CreatedAt)
			after = entry.GlobalSeq
		}
		if len(entries) < historyPageSize {
			break
		}
	}
	e.index = fresh

	_ = e.audit.Emit(ctx, storage.TelemetryEvent{
		EventName:  events.StandingsRebuilt,
		Severity:   string(audit.SeverityInfo),
		Attributes: map[string]any{"tracked": fresh.Size(), "last_global_seq": after},
	})
	log.Printf("standings rebuilt tracked=%d last_global_seq=%d", fresh.Size(), after)
	return nil
}

// VerifyUserHistory walks a user's history chain and cross-checks the score
// row against its tail. Any break reports HISTORY_TAMPERED.
func (e *Engine) VerifyUserHistory(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	var (
		lastSeq   uint64
		prevChain string
		prevScore int64
	)
	for {
		entries, err := e.store.ListUserHistory(ctx, userID, lastSeq, historyPageSize)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeStorageFailure, "scan user history", err)
		}
		for _, entry := range entries {
			if err := e.verifyHistoryEntry(entry, lastSeq, prevChain, prevScore); err != nil {
				return e.reportTampering(ctx, userID, entry.Seq, err)
			}
			lastSeq = entry.Seq
			prevChain = entry.ChainHash
			prevScore = entry.NewScore
		}
		if len(entries) < historyPageSize {
			break
		}
	}

	record, err := e.store.GetScore(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		if lastSeq != 0 {
			return e.reportTampering(ctx, userID, lastSeq, fmt.Errorf("history exists but the score record is missing"))
		}
		return nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "load score record", err)
	}
	if record.Version != lastSeq {
		return e.reportTampering(ctx, userID, lastSeq,
			fmt.Errorf("score version %d does not match last history seq %d", record.Version, lastSeq))
	}
	if lastSeq > 0 && record.Score != prevScore {
		return e.reportTampering(ctx, userID, lastSeq,
			fmt.Errorf("score %d does not match history tail %d", record.Score, prevScore))
	}
	return nil
}

func (e *Engine) verifyHistoryEntry(entry storage.HistoryEntry, lastSeq uint64, prevChain string, prevScore int64) error {
	if entry.Seq != lastSeq+1 {
		return fmt.Errorf("sequence gap: entry %d follows %d", entry.Seq, lastSeq)
	}
	if entry.PrevHash != prevChain {
		return fmt.Errorf("previous hash does not match the chain tail")
	}
	if entry.PreviousScore != prevScore {
		return fmt.Errorf("previous score %d does not match running score %d", entry.PreviousScore, prevScore)
	}
	if entry.NewScore != entry.PreviousScore+entry.Increment {
		return fmt.Errorf("score delta does not add up")
	}
	entryHash, err := integrity.EntryHash(entry)
	if err != nil {
		return fmt.Errorf("recompute entry hash: %w", err)
	}
	if entryHash != entry.EntryHash {
		return fmt.Errorf("entry hash does not match contents")
	}
	chainHash, err := integrity.ChainHash(entryHash, prevChain)
	if err != nil {
		return fmt.Errorf("recompute chain hash: %w", err)
	}
	if chainHash != entry.ChainHash {
		return fmt.Errorf("chain hash does not match link")
	}
	if err := e.keyring.VerifyChainHash(entry.UserID, entry.ChainHash, entry.Signature, entry.SignatureKeyID); err != nil {
		return fmt.Errorf("verify chain signature: %w", err)
	}
	return nil
}

func (e *Engine) reportTampering(ctx context.Context, userID string, seq uint64, cause error) error {
	_ = e.audit.Emit(ctx, storage.TelemetryEvent{
		EventName:  events.HistoryTampered,
		Severity:   string(audit.SeverityError),
		UserID:     userID,
		Attributes: map[string]any{"seq": seq, "reason": cause.Error()},
	})
	log.Printf("history verification failed user=%s seq=%d: %v", userID, seq, cause)
	return apperrors.WrapWithMetadata(
		apperrors.CodeHistoryTampered,
		"score history failed integrity verification",
		map[string]string{"user_id": userID, "seq": strconv.FormatUint(seq, 10)},
		cause,
	)
}

// SweepExpired reclaims expired admission guards and idle throttle state.
// It returns the number of admission rows removed.
func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	now := e.now().UTC()

	removed, err := e.store.DeleteExpiredAdmissions(ctx, now)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageFailure, "delete expired admissions", err)
	}
	windows := e.limiter.EvictIdle(now, limiterIdleAfter)
	trackers := e.tracker.Sweep(now)

	_ = e.audit.Emit(ctx, storage.TelemetryEvent{
		EventName: events.SweepCompleted,
		Severity:  string(audit.SeverityInfo),
		Attributes: map[string]any{
			"admissions_removed": removed,
			"windows_evicted":    windows,
			"trackers_evicted":   trackers,
		},
	})
	if removed > 0 || windows > 0 || trackers > 0 {
		log.Printf("maintenance sweep admissions=%d windows=%d trackers=%d", removed, windows, trackers)
	}
	return removed, nil
}

// SetUserStatus flags an account's moderation state. Score rows are never
// deleted; standing changes gate future submissions instead.
func (e *Engine) SetUserStatus(ctx context.Context, userID string, status storage.UserStatus) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if _, ok := storage.ParseUserStatus(string(status)); !ok {
		return fmt.Errorf("unknown user status %q", status)
	}
	if err := e.store.SetUserStatus(ctx, userID, status, e.now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return apperrors.Wrap(apperrors.CodeStorageFailure, "update user status", err)
	}
	log.Printf("user status updated user=%s status=%s", userID, status)
	return nil
}

// RunMaintenance sweeps expired admission state on a fixed cadence until
// ctx is cancelled.
func (e *Engine) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SweepExpired(ctx); err != nil {
				log.Printf("admission sweep failed: %v", err)
			}
		}
	}
}
