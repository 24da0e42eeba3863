// Package ledger owns durable score state: it applies admitted increments
// through optimistic version-guarded commits, seeds missing score rows, and
// enforces account standing before any write.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/podium.live/internal/platform/errors"
	"github.com/louisbranch/podium.live/internal/services/board/storage"
)

// DefaultMaxRetries bounds how many times a commit is retried after losing
// the version race.
const DefaultMaxRetries = 3

const (
	retryInitialInterval = 10 * time.Millisecond
	retryMaxInterval     = 250 * time.Millisecond
)

// ScoreStore is the slice of the storage API the ledger uses.
type ScoreStore interface {
	GetScore(ctx context.Context, userID string) (storage.ScoreRecord, error)
	CreateScore(ctx context.Context, record storage.ScoreRecord) error
	CommitScore(ctx context.Context, record storage.ScoreRecord, expectVersion uint64, entry storage.HistoryEntry) (storage.HistoryEntry, error)
}

// ActionMeta carries the audit context recorded with a committed increment.
type ActionMeta struct {
	ActionType string
	RequestID  string
	// MetadataJSON is the opaque action payload stored on the history row.
	MetadataJSON string
}

// Commit reports one applied increment.
type Commit struct {
	UserID        string
	PreviousScore int64
	NewScore      int64
	Increment     int64
	// Seq is the per-user commit sequence, contiguous from 1.
	Seq uint64
	// GlobalSeq totals commits across users in commit order.
	GlobalSeq uint64
	CreatedAt time.Time
}

// Config tunes the ledger. Zero values fall back to defaults.
type Config struct {
	MaxRetries int
	// Now overrides the clock, for tests.
	Now func() time.Time
	// OnCommit observes each successful commit while the user's lock is
	// still held, so consumers see one user's commits in order. Keep it
	// fast and off any I/O wait.
	OnCommit func(Commit)
}

// Ledger is the sole writer of current scores. Writers for the same user
// serialize on an in-process lock; the version-guarded commit remains the
// authoritative race arbiter so a second process sharing the store stays
// correct.
type Ledger struct {
	store      ScoreStore
	maxRetries int
	now        func() time.Time
	onCommit   func(Commit)
	locks      *userLocks
}

// NewLedger creates a score ledger.
func NewLedger(store ScoreStore, cfg Config) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("score store is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		store:      store,
		maxRetries: cfg.MaxRetries,
		now:        cfg.Now,
		onCommit:   cfg.OnCommit,
		locks:      newUserLocks(),
	}, nil
}

// ApplyIncrement adds the increment to the user's score and appends the audit
// history entry in the same transaction. Missing score rows are seeded at
// zero. A commit that keeps losing the version race after the configured
// retries surfaces CONTENTION, as does timing out on the per-user lock.
func (l *Ledger) ApplyIncrement(ctx context.Context, userID string, increment int64, meta ActionMeta) (Commit, error) {
	if err := ctx.Err(); err != nil {
		return Commit{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Commit{}, fmt.Errorf("ledger user id is required")
	}
	if increment <= 0 {
		return Commit{}, fmt.Errorf("ledger increment must be positive")
	}

	release, err := l.locks.acquire(ctx, userID)
	if err != nil {
		return Commit{}, apperrors.Wrap(apperrors.CodeContention, "timed out waiting for the user score lock", err)
	}
	defer release()

	operation := func() (storage.HistoryEntry, error) {
		return l.commitOnce(ctx, userID, increment, meta)
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = retryInitialInterval
	expo.MaxInterval = retryMaxInterval

	stored, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(l.maxRetries)+1),
	)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return Commit{}, apperrors.WithMetadata(
				apperrors.CodeContention,
				"score update kept losing the version race",
				map[string]string{"retries": strconv.Itoa(l.maxRetries)},
			)
		}
		return Commit{}, err
	}

	commit := Commit{
		UserID:        stored.UserID,
		PreviousScore: stored.PreviousScore,
		NewScore:      stored.NewScore,
		Increment:     stored.Increment,
		Seq:           stored.Seq,
		GlobalSeq:     stored.GlobalSeq,
		CreatedAt:     stored.CreatedAt,
	}
	if l.onCommit != nil {
		l.onCommit(commit)
	}
	return commit, nil
}

// commitOnce runs one optimistic attempt. Version conflicts come back bare so
// the retry loop can distinguish them; every other failure is permanent.
func (l *Ledger) commitOnce(ctx context.Context, userID string, increment int64, meta ActionMeta) (storage.HistoryEntry, error) {
	now := l.now().UTC()

	record, err := l.loadScore(ctx, userID, now)
	if err != nil {
		return storage.HistoryEntry{}, backoff.Permanent(err)
	}
	if record.Status != storage.UserStatusActive {
		return storage.HistoryEntry{}, backoff.Permanent(apperrors.WithMetadata(
			apperrors.CodeAccountSuspended,
			"account is not eligible for score submission",
			map[string]string{"status": string(record.Status)},
		))
	}

	updated := record
	updated.Score = record.Score + increment
	updated.ActionsCompleted = record.ActionsCompleted + 1
	updated.ScoreAchievedAt = now
	updated.UpdatedAt = now

	entry := storage.HistoryEntry{
		UserID:        userID,
		PreviousScore: record.Score,
		NewScore:      updated.Score,
		Increment:     increment,
		ActionType:    meta.ActionType,
		RequestID:     meta.RequestID,
		MetadataJSON:  meta.MetadataJSON,
		CreatedAt:     now,
	}

	stored, err := l.store.CommitScore(ctx, updated, record.Version, entry)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return storage.HistoryEntry{}, err
		}
		return storage.HistoryEntry{}, backoff.Permanent(apperrors.Wrap(apperrors.CodeStorageFailure, "commit score update", err))
	}
	return stored, nil
}

// loadScore returns the user's score row, seeding a zero row on first sight.
// A concurrent seeder winning the insert is fine; the reload picks up its row.
func (l *Ledger) loadScore(ctx context.Context, userID string, now time.Time) (storage.ScoreRecord, error) {
	record, err := l.store.GetScore(ctx, userID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.ScoreRecord{}, apperrors.Wrap(apperrors.CodeStorageFailure, "load score record", err)
	}

	seed := storage.ScoreRecord{
		UserID:          userID,
		Status:          storage.UserStatusActive,
		ScoreAchievedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if createErr := l.store.CreateScore(ctx, seed); createErr != nil && !errors.Is(createErr, storage.ErrConflict) {
		return storage.ScoreRecord{}, apperrors.Wrap(apperrors.CodeStorageFailure, "seed score record", createErr)
	}
	record, err = l.store.GetScore(ctx, userID)
	if err != nil {
		return storage.ScoreRecord{}, apperrors.Wrap(apperrors.CodeStorageFailure, "reload score record", err)
	}
	return record, nil
}
