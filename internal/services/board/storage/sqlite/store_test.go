package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/podium.live/internal/services/board/storage"
	"github.com/louisbranch/podium.live/internal/services/board/storage/integrity"
)

func testKeyring(t *testing.T) *integrity.Keyring {
	t.Helper()
	ring, err := integrity.NewKeyring(map[string][]byte{"v1": []byte("test-secret")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	return ring
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	storePath := filepath.Join(t.TempDir(), "board.db")
	store, err := Open(storePath, testKeyring(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := store.Close(); closeErr != nil {
			t.Fatalf("close store: %v", closeErr)
		}
	})
	return store
}

func seedScore(t *testing.T, store *Store, userID string, now time.Time) {
	t.Helper()
	err := store.CreateScore(context.Background(), storage.ScoreRecord{
		UserID:          userID,
		Score:           0,
		Status:          storage.UserStatusActive,
		ScoreAchievedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("seed score for %s: %v", userID, err)
	}
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	if _, err := Open("", testKeyring(t)); err == nil {
		t.Fatal("expected empty path error")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "board.db"), nil); err == nil {
		t.Fatal("expected missing keyring error")
	}
}

func TestCreateAndGetScore(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedScore(t, store, "user-1", now)

	record, err := store.GetScore(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if record.Score != 0 || record.Version != 0 {
		t.Fatalf("expected fresh row, got score=%d version=%d", record.Score, record.Version)
	}
	if record.Status != storage.UserStatusActive {
		t.Fatalf("expected active status, got %s", record.Status)
	}

	err = store.CreateScore(context.Background(), storage.ScoreRecord{
		UserID:          "user-1",
		ScoreAchievedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict for duplicate create, got %v", err)
	}

	if _, err := store.GetScore(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommitScoreAppendsChainedHistory(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedScore(t, store, "user-1", now)

	first, err := store.CommitScore(context.Background(), storage.ScoreRecord{
		UserID:           "user-1",
		Score:            50,
		ActionsCompleted: 1,
		Status:           storage.UserStatusActive,
		ScoreAchievedAt:  now.Add(time.Minute),
		CreatedAt:        now,
		UpdatedAt:        now.Add(time.Minute),
	}, 0, storage.HistoryEntry{
		UserID:        "user-1",
		PreviousScore: 0,
		NewScore:      50,
		Increment:     50,
		ActionType:    "puzzle.solved",
		RequestID:     "req-1",
		CreatedAt:     now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("commit first score: %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", first.Seq)
	}
	if first.GlobalSeq == 0 {
		t.Fatal("expected global seq to be assigned")
	}
	if first.EntryHash == "" || first.ChainHash == "" || first.Signature == "" {
		t.Fatal("expected integrity fields to be populated")
	}
	if first.PrevHash != "" {
		t.Fatalf("expected empty prev hash for first entry, got %s", first.PrevHash)
	}

	second, err := store.CommitScore(context.Background(), storage.ScoreRecord{
		UserID:           "user-1",
		Score:            80,
		ActionsCompleted: 2,
		Status:           storage.UserStatusActive,
		ScoreAchievedAt:  now.Add(2 * time.Minute),
		CreatedAt:        now,
		UpdatedAt:        now.Add(2 * time.Minute),
	}, 1, storage.HistoryEntry{
		UserID:        "user-1",
		PreviousScore: 50,
		NewScore:      80,
		Increment:     30,
		ActionType:    "puzzle.solved",
		RequestID:     "req-2",
		CreatedAt:     now.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("commit second score: %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", second.Seq)
	}
	if second.PrevHash != first.ChainHash {
		t.Fatalf("expected second entry to link to first chain hash")
	}
	if second.GlobalSeq <= first.GlobalSeq {
		t.Fatalf("expected increasing global seq, got %d then %d", first.GlobalSeq, second.GlobalSeq)
	}

	ring := testKeyring(t)
	if err := ring.VerifyChainHash("user-1", second.ChainHash, second.Signature, second.SignatureKeyID); err != nil {
		t.Fatalf("verify stored signature: %v", err)
	}

	record, err := store.GetScore(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if record.Score != 80 || record.Version != 2 || record.ActionsCompleted != 2 {
		t.Fatalf("unexpected score row: score=%d version=%d actions=%d", record.Score, record.Version, record.ActionsCompleted)
	}
}

func TestCommitScoreStaleVersionConflicts(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedScore(t, store, "user-1", now)

	record := storage.ScoreRecord{
		UserID:          "user-1",
		Score:           10,
		Status:          storage.UserStatusActive,
		ScoreAchievedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	entry := storage.HistoryEntry{
		UserID:    "user-1",
		NewScore:  10,
		Increment: 10,
		RequestID: "req-1",
		CreatedAt: now,
	}
	if _, err := store.CommitScore(context.Background(), record, 0, entry); err != nil {
		t.Fatalf("commit score: %v", err)
	}

	// Replaying the same expected version must lose the race.
	entry.RequestID = "req-2"
	_, err := store.CommitScore(context.Background(), record, 0, entry)
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	entries, err := store.ListUserHistory(context.Background(), "user-1", 0, 10)
	if err != nil {
		t.Fatalf("list user history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one history entry after conflict, got %d", len(entries))
	}
}

func TestCommitScoreValidatesEntryReconciliation(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedScore(t, store, "user-1", now)

	record := storage.ScoreRecord{
		UserID:          "user-1",
		Score:           10,
		Status:          storage.UserStatusActive,
		ScoreAchievedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := store.CommitScore(context.Background(), record, 0, storage.HistoryEntry{
		UserID:        "user-1",
		PreviousScore: 0,
		NewScore:      11,
		Increment:     11,
		CreatedAt:     now,
	})
	if err == nil {
		t.Fatal("expected error when entry score does not match record")
	}

	_, err = store.CommitScore(context.Background(), record, 0, storage.HistoryEntry{
		UserID:        "user-1",
		PreviousScore: 0,
		NewScore:      10,
		Increment:     7,
		CreatedAt:     now,
	})
	if err == nil {
		t.Fatal("expected error when increment does not reconcile")
	}

	_, err = store.CommitScore(context.Background(), record, 0, storage.HistoryEntry{
		UserID:    "other-user",
		NewScore:  10,
		Increment: 10,
		CreatedAt: now,
	})
	if err == nil {
		t.Fatal("expected error when entry user does not match record")
	}
}

func TestSetUserStatus(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedScore(t, store, "user-1", now)

	if err := store.SetUserStatus(context.Background(), "user-1", storage.UserStatusSuspended, now.Add(time.Minute)); err != nil {
		t.Fatalf("set user status: %v", err)
	}
	record, err := store.GetScore(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if record.Status != storage.UserStatusSuspended {
		t.Fatalf("expected suspended status, got %s", record.Status)
	}

	if err := store.SetUserStatus(context.Background(), "missing", storage.UserStatusBanned, now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.SetUserStatus(context.Background(), "user-1", "weird", now); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestListHistoryAcrossUsersFollowsCommitOrder(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedScore(t, store, "user-1", now)
	seedScore(t, store, "user-2", now)

	commit := func(userID string, expectVersion uint64, prev, next int64, requestID string, at time.Time) {
		t.Helper()
		_, err := store.CommitScore(context.Background(), storage.ScoreRecord{
			UserID:          userID,
			Score:           next,
			Status:          storage.UserStatusActive,
			ScoreAchievedAt: at,
			CreatedAt:       now,
			UpdatedAt:       at,
		}, expectVersion, storage.HistoryEntry{
			UserID:        userID,
			PreviousScore: prev,
			NewScore:      next,
			Increment:     next - prev,
			RequestID:     requestID,
			CreatedAt:     at,
		})
		if err != nil {
			t.Fatalf("commit %s: %v", requestID, err)
		}
	}

	commit("user-1", 0, 0, 10, "req-1", now.Add(1*time.Minute))
	commit("user-2", 0, 0, 20, "req-2", now.Add(2*time.Minute))
	commit("user-1", 1, 10, 30, "req-3", now.Add(3*time.Minute))

	entries, err := store.ListHistory(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].GlobalSeq <= entries[i-1].GlobalSeq {
			t.Fatal("expected ascending global seq")
		}
	}
	if entries[0].RequestID != "req-1" || entries[2].RequestID != "req-3" {
		t.Fatalf("unexpected commit order: %s, %s, %s", entries[0].RequestID, entries[1].RequestID, entries[2].RequestID)
	}

	tail, err := store.ListHistory(context.Background(), entries[0].GlobalSeq, 10)
	if err != nil {
		t.Fatalf("list history after seq: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 entries after first global seq, got %d", len(tail))
	}

	latest, err := store.GetLatestUserSeq(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get latest user seq: %v", err)
	}
	if latest != 2 {
		t.Fatalf("expected latest seq 2 for user-1, got %d", latest)
	}
	latest, err = store.GetLatestUserSeq(context.Background(), "user-3")
	if err != nil {
		t.Fatalf("get latest user seq: %v", err)
	}
	if latest != 0 {
		t.Fatalf("expected latest seq 0 for unknown user, got %d", latest)
	}
}

func TestInsertAdmissionDeduplicates(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	won, err := store.InsertAdmission(context.Background(), storage.AdmissionRecord{
		RequestID:  "req-1",
		ActionHash: "hash-1",
		UserID:     "user-1",
		ExpiresAt:  now.Add(30 * time.Second),
		CreatedAt:  now,
	})
	if err != nil {
		t.Fatalf("insert admission: %v", err)
	}
	if !won {
		t.Fatal("expected first admission to win")
	}

	// Same request id replayed while the record is live.
	won, err = store.InsertAdmission(context.Background(), storage.AdmissionRecord{
		RequestID:  "req-1",
		ActionHash: "hash-other",
		UserID:     "user-1",
		ExpiresAt:  now.Add(40 * time.Second),
		CreatedAt:  now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("insert duplicate request id: %v", err)
	}
	if won {
		t.Fatal("expected duplicate request id to lose")
	}

	// Same action hash under a fresh request id.
	won, err = store.InsertAdmission(context.Background(), storage.AdmissionRecord{
		RequestID:  "req-2",
		ActionHash: "hash-1",
		UserID:     "user-1",
		ExpiresAt:  now.Add(40 * time.Second),
		CreatedAt:  now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("insert duplicate action hash: %v", err)
	}
	if won {
		t.Fatal("expected duplicate action hash to lose")
	}

	// After the record expires the same keys may be admitted again.
	won, err = store.InsertAdmission(context.Background(), storage.AdmissionRecord{
		RequestID:  "req-1",
		ActionHash: "hash-1",
		UserID:     "user-1",
		ExpiresAt:  now.Add(2 * time.Minute),
		CreatedAt:  now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("insert after expiry: %v", err)
	}
	if !won {
		t.Fatal("expected expired record to be cleared for a fresh claim")
	}
}

func TestFindAdmission(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.FindAdmission(context.Background(), "req-1", "hash-1", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found before insert, got %v", err)
	}

	won, err := store.InsertAdmission(context.Background(), storage.AdmissionRecord{
		RequestID:  "req-1",
		ActionHash: "hash-1",
		UserID:     "user-1",
		ExpiresAt:  now.Add(30 * time.Second),
		CreatedAt:  now,
	})
	if err != nil || !won {
		t.Fatalf("insert admission: won=%v err=%v", won, err)
	}

	record, err := store.FindAdmission(context.Background(), "req-1", "hash-other", now)
	if err != nil {
		t.Fatalf("find by request id: %v", err)
	}
	if record.UserID != "user-1" {
		t.Fatalf("unexpected record: %+v", record)
	}

	record, err = store.FindAdmission(context.Background(), "req-other", "hash-1", now)
	if err != nil {
		t.Fatalf("find by action hash: %v", err)
	}
	if record.RequestID != "req-1" {
		t.Fatalf("unexpected record: %+v", record)
	}

	// Expired records are invisible.
	if _, err := store.FindAdmission(context.Background(), "req-1", "hash-1", now.Add(time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after expiry, got %v", err)
	}
}

func TestDeleteExpiredAdmissions(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, expiry := range []time.Duration{10 * time.Second, 20 * time.Second, 5 * time.Minute} {
		won, err := store.InsertAdmission(context.Background(), storage.AdmissionRecord{
			RequestID:  "req-" + string(rune('a'+i)),
			ActionHash: "hash-" + string(rune('a'+i)),
			UserID:     "user-1",
			ExpiresAt:  now.Add(expiry),
			CreatedAt:  now,
		})
		if err != nil || !won {
			t.Fatalf("seed admission %d: won=%v err=%v", i, won, err)
		}
	}

	removed, err := store.DeleteExpiredAdmissions(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("delete expired admissions: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 expired rows removed, got %d", removed)
	}
}

func TestAppendTelemetryEvent(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.AppendTelemetryEvent(context.Background(), storage.TelemetryEvent{
		Timestamp: now,
		EventName: "claim.rejected",
		Severity:  "WARN",
		UserID:    "user-1",
		RequestID: "req-1",
		Attributes: map[string]any{
			"code": "REPLAY",
		},
	})
	if err != nil {
		t.Fatalf("append telemetry event: %v", err)
	}

	var count int
	if err := store.sqlDB.QueryRow("SELECT COUNT(1) FROM telemetry_events").Scan(&count); err != nil {
		t.Fatalf("count telemetry events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 telemetry row, got %d", count)
	}

	if err := store.AppendTelemetryEvent(context.Background(), storage.TelemetryEvent{Timestamp: now}); err == nil {
		t.Fatal("expected error for missing event name")
	}
}
