package storage

import (
	"testing"
	"time"
)

func validScoreRecord() ScoreRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return ScoreRecord{
		UserID:          "user-1",
		Score:           100,
		Status:          UserStatusActive,
		ScoreAchievedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestNormalizeScoreRecord(t *testing.T) {
	t.Parallel()

	record := validScoreRecord()
	record.UserID = "  user-1  "
	record.Status = ""
	normalized, err := NormalizeScoreRecord(record)
	if err != nil {
		t.Fatalf("normalize score record: %v", err)
	}
	if normalized.UserID != "user-1" {
		t.Fatalf("expected trimmed user id, got %q", normalized.UserID)
	}
	if normalized.Status != UserStatusActive {
		t.Fatalf("expected default active status, got %s", normalized.Status)
	}

	cases := []struct {
		name   string
		mutate func(*ScoreRecord)
	}{
		{"missing user", func(r *ScoreRecord) { r.UserID = " " }},
		{"negative score", func(r *ScoreRecord) { r.Score = -1 }},
		{"unknown status", func(r *ScoreRecord) { r.Status = "frozen" }},
		{"missing achieved at", func(r *ScoreRecord) { r.ScoreAchievedAt = time.Time{} }},
		{"missing created at", func(r *ScoreRecord) { r.CreatedAt = time.Time{} }},
		{"missing updated at", func(r *ScoreRecord) { r.UpdatedAt = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			record := validScoreRecord()
			tc.mutate(&record)
			if _, err := NormalizeScoreRecord(record); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNormalizeCommitEntryDerivesSeq(t *testing.T) {
	t.Parallel()

	record := validScoreRecord()
	entry := HistoryEntry{
		UserID:        "user-1",
		PreviousScore: 90,
		NewScore:      100,
		Increment:     10,
		CreatedAt:     record.UpdatedAt,
		Seq:           42,
		EntryHash:     "stale",
		ChainHash:     "stale",
		Signature:     "stale",
	}
	normalized, err := NormalizeCommitEntry(record, 3, entry)
	if err != nil {
		t.Fatalf("normalize commit entry: %v", err)
	}
	if normalized.Seq != 4 {
		t.Fatalf("expected seq derived from expected version, got %d", normalized.Seq)
	}
	if normalized.EntryHash != "" || normalized.ChainHash != "" || normalized.Signature != "" {
		t.Fatal("expected caller-supplied integrity fields to be cleared")
	}

	cases := []struct {
		name   string
		mutate func(*HistoryEntry)
	}{
		{"missing user", func(e *HistoryEntry) { e.UserID = "" }},
		{"user mismatch", func(e *HistoryEntry) { e.UserID = "user-2" }},
		{"score mismatch", func(e *HistoryEntry) { e.NewScore = 101 }},
		{"increment mismatch", func(e *HistoryEntry) { e.Increment = 9 }},
		{"missing created at", func(e *HistoryEntry) { e.CreatedAt = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			entry := HistoryEntry{
				UserID:        "user-1",
				PreviousScore: 90,
				NewScore:      100,
				Increment:     10,
				CreatedAt:     record.UpdatedAt,
			}
			tc.mutate(&entry)
			if _, err := NormalizeCommitEntry(record, 3, entry); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestNormalizeAdmissionRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := AdmissionRecord{
		RequestID:  " req-1 ",
		ActionHash: "hash-1",
		UserID:     "user-1",
		ExpiresAt:  now.Add(30 * time.Second),
		CreatedAt:  now,
	}
	normalized, err := NormalizeAdmissionRecord(record)
	if err != nil {
		t.Fatalf("normalize admission record: %v", err)
	}
	if normalized.RequestID != "req-1" {
		t.Fatalf("expected trimmed request id, got %q", normalized.RequestID)
	}

	record.ExpiresAt = now
	if _, err := NormalizeAdmissionRecord(record); err == nil {
		t.Fatal("expected error when record expires at creation")
	}
}

func TestNormalizeTelemetryEvent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	normalized, err := NormalizeTelemetryEvent(TelemetryEvent{
		Timestamp: now,
		EventName: "claim.accepted",
		Attributes: map[string]any{
			"score": 100,
		},
	})
	if err != nil {
		t.Fatalf("normalize telemetry event: %v", err)
	}
	if normalized.Severity != "INFO" {
		t.Fatalf("expected default severity, got %q", normalized.Severity)
	}
	if string(normalized.AttributesJSON) != `{"score":100}` {
		t.Fatalf("unexpected attributes json: %s", normalized.AttributesJSON)
	}

	normalized, err = NormalizeTelemetryEvent(TelemetryEvent{Timestamp: now, EventName: "sweep.completed"})
	if err != nil {
		t.Fatalf("normalize telemetry event: %v", err)
	}
	if string(normalized.AttributesJSON) != "{}" {
		t.Fatalf("expected empty attributes object, got %s", normalized.AttributesJSON)
	}

	if _, err := NormalizeTelemetryEvent(TelemetryEvent{Timestamp: now}); err == nil {
		t.Fatal("expected error for missing event name")
	}
}
