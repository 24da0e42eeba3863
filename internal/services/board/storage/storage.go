package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested persistence record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
	// ErrVersionConflict indicates a guarded score write lost the version race
	// and should be retried against fresh state.
	ErrVersionConflict = errors.New("score version conflict")
)

// UserStatus identifies one account moderation state.
type UserStatus string

const (
	// UserStatusActive means the account may submit score claims.
	UserStatusActive UserStatus = "active"
	// UserStatusSuspended means submissions are rejected pending review.
	UserStatusSuspended UserStatus = "suspended"
	// UserStatusBanned means submissions are rejected permanently.
	UserStatusBanned UserStatus = "banned"
)

// ParseUserStatus maps a raw string to a known moderation state.
func ParseUserStatus(value string) (UserStatus, bool) {
	switch UserStatus(value) {
	case UserStatusActive, UserStatusSuspended, UserStatusBanned:
		return UserStatus(value), true
	default:
		return "", false
	}
}

// ScoreRecord stores one user's current standing. The score ledger is the
// sole writer of score, version, and achievement time; moderation flows own
// the status column.
type ScoreRecord struct {
	UserID           string
	Score            int64
	ActionsCompleted int64
	Status           UserStatus
	// Version counts committed score updates and guards optimistic writes.
	Version uint64
	// ScoreAchievedAt is when the current score value was first reached.
	// Ties on the leaderboard rank the earlier achiever higher.
	ScoreAchievedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HistoryEntry stores one append-only audit row for a committed score update.
// Entries are hash-chained per user and HMAC-signed so history rewrites are
// detectable after the fact.
type HistoryEntry struct {
	// GlobalSeq is assigned by the store and totals all commits across users.
	GlobalSeq uint64
	UserID    string
	// Seq is the per-user commit sequence, contiguous from 1.
	Seq           uint64
	PreviousScore int64
	NewScore      int64
	Increment     int64
	ActionType    string
	RequestID     string
	MetadataJSON  string
	// EntryHash is the content hash of the entry envelope.
	EntryHash string
	// PrevHash is the previous entry's chain hash, empty for seq 1.
	PrevHash string
	// ChainHash links this entry to the whole prior history of the user.
	ChainHash      string
	SignatureKeyID string
	Signature      string
	CreatedAt      time.Time
}

// AdmissionRecord stores one accepted claim so duplicates are rejected while
// the record lives. Rows expire after the claim token itself could no longer
// pass verification.
type AdmissionRecord struct {
	RequestID  string
	ActionHash string
	UserID     string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// TelemetryEvent captures operational observations emitted during claim processing.
type TelemetryEvent struct {
	Timestamp      time.Time
	EventName      string
	Severity       string
	UserID         string
	RequestID      string
	Attributes     map[string]any
	AttributesJSON []byte
}

// ScoreStore owns the current-standing row per user.
type ScoreStore interface {
	// GetScore returns the standing row for a user.
	GetScore(ctx context.Context, userID string) (ScoreRecord, error)
	// CreateScore inserts the initial standing row for a user.
	// Returns ErrConflict when the row already exists.
	CreateScore(ctx context.Context, record ScoreRecord) error
	// CommitScore applies one version-guarded score update together with its
	// audit history entry in a single transaction, so no score change lands
	// without its history row. The stored entry is returned with GlobalSeq
	// and integrity fields assigned.
	// Returns ErrVersionConflict when expectVersion no longer matches.
	CommitScore(ctx context.Context, record ScoreRecord, expectVersion uint64, entry HistoryEntry) (HistoryEntry, error)
	// SetUserStatus updates the moderation state for a user.
	SetUserStatus(ctx context.Context, userID string, status UserStatus, updatedAt time.Time) error
}

// HistoryStore owns the append-only audit trail read paths used by index
// rebuilds and chain verification.
type HistoryStore interface {
	// ListUserHistory returns a user's entries ordered by seq ascending,
	// starting after afterSeq.
	ListUserHistory(ctx context.Context, userID string, afterSeq uint64, limit int) ([]HistoryEntry, error)
	// ListHistory returns entries across all users ordered by global seq
	// ascending, starting after afterGlobalSeq. This is the commit-order feed
	// that index rebuilds replay.
	ListHistory(ctx context.Context, afterGlobalSeq uint64, limit int) ([]HistoryEntry, error)
	// GetLatestUserSeq returns the newest per-user sequence, 0 when none exist.
	GetLatestUserSeq(ctx context.Context, userID string) (uint64, error)
}

// AdmissionStore owns replay-protection records.
type AdmissionStore interface {
	// InsertAdmission atomically records a claim admission when neither the
	// request id nor the action hash is currently held by a live record.
	// The boolean reports whether this call won the insert; false means a
	// duplicate admission exists. Expired rows for the same keys are cleared
	// as part of the same write.
	InsertAdmission(ctx context.Context, record AdmissionRecord) (bool, error)
	// FindAdmission returns the live record holding the request id or action
	// hash at the given instant. Returns ErrNotFound when neither key is held
	// by an unexpired record.
	FindAdmission(ctx context.Context, requestID, actionHash string, now time.Time) (AdmissionRecord, error)
	// DeleteExpiredAdmissions removes admission rows whose TTL has passed and
	// reports how many were removed.
	DeleteExpiredAdmissions(ctx context.Context, now time.Time) (int64, error)
}

// TelemetryStore persists operational telemetry records for audits and incident analysis.
type TelemetryStore interface {
	AppendTelemetryEvent(ctx context.Context, evt TelemetryEvent) error
}

// Store is a composite interface for all persistence concerns used across
// claim admission, the score ledger, and index rebuilds.
type Store interface {
	ScoreStore
	HistoryStore
	AdmissionStore
	TelemetryStore
	Close() error
}
