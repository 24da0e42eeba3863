package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeScoreRecord validates and canonicalizes a score record before it
// is written. Timestamps are normalized to UTC and the status defaults to
// active. Both storage backends share this so their write paths accept the
// same inputs.
func NormalizeScoreRecord(record ScoreRecord) (ScoreRecord, error) {
	record.UserID = strings.TrimSpace(record.UserID)
	if record.UserID == "" {
		return ScoreRecord{}, fmt.Errorf("user id is required")
	}
	if record.Score < 0 {
		return ScoreRecord{}, fmt.Errorf("score must be non-negative")
	}
	if record.Status == "" {
		record.Status = UserStatusActive
	}
	if _, ok := ParseUserStatus(string(record.Status)); !ok {
		return ScoreRecord{}, fmt.Errorf("user status %q is unknown", record.Status)
	}
	if record.ScoreAchievedAt.IsZero() {
		return ScoreRecord{}, fmt.Errorf("score_achieved_at is required")
	}
	if record.CreatedAt.IsZero() {
		return ScoreRecord{}, fmt.Errorf("created_at is required")
	}
	if record.UpdatedAt.IsZero() {
		return ScoreRecord{}, fmt.Errorf("updated_at is required")
	}
	record.ScoreAchievedAt = record.ScoreAchievedAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

// NormalizeCommitEntry validates that the audit entry describes exactly the
// score transition being committed. The sequence is derived from the expected
// version so per-user history stays gapless, and integrity fields are cleared
// because the store computes them inside the commit transaction.
func NormalizeCommitEntry(record ScoreRecord, expectVersion uint64, entry HistoryEntry) (HistoryEntry, error) {
	entry.UserID = strings.TrimSpace(entry.UserID)
	entry.ActionType = strings.TrimSpace(entry.ActionType)
	entry.RequestID = strings.TrimSpace(entry.RequestID)
	entry.MetadataJSON = strings.TrimSpace(entry.MetadataJSON)

	if entry.UserID == "" {
		return HistoryEntry{}, fmt.Errorf("entry user id is required")
	}
	if entry.UserID != record.UserID {
		return HistoryEntry{}, fmt.Errorf("entry user id does not match score record")
	}
	if entry.NewScore != record.Score {
		return HistoryEntry{}, fmt.Errorf("entry new score does not match score record")
	}
	if entry.PreviousScore+entry.Increment != entry.NewScore {
		return HistoryEntry{}, fmt.Errorf("entry increment does not reconcile previous and new score")
	}
	if entry.CreatedAt.IsZero() {
		return HistoryEntry{}, fmt.Errorf("entry created_at is required")
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	entry.Seq = expectVersion + 1
	entry.GlobalSeq = 0
	entry.EntryHash = ""
	entry.PrevHash = ""
	entry.ChainHash = ""
	entry.Signature = ""
	entry.SignatureKeyID = ""
	return entry, nil
}

// NormalizeAdmissionRecord validates and canonicalizes an admission record.
func NormalizeAdmissionRecord(record AdmissionRecord) (AdmissionRecord, error) {
	record.RequestID = strings.TrimSpace(record.RequestID)
	record.ActionHash = strings.TrimSpace(record.ActionHash)
	record.UserID = strings.TrimSpace(record.UserID)
	if record.RequestID == "" {
		return AdmissionRecord{}, fmt.Errorf("request id is required")
	}
	if record.ActionHash == "" {
		return AdmissionRecord{}, fmt.Errorf("action hash is required")
	}
	if record.UserID == "" {
		return AdmissionRecord{}, fmt.Errorf("user id is required")
	}
	if record.ExpiresAt.IsZero() {
		return AdmissionRecord{}, fmt.Errorf("expires_at is required")
	}
	if record.CreatedAt.IsZero() {
		return AdmissionRecord{}, fmt.Errorf("created_at is required")
	}
	if !record.ExpiresAt.After(record.CreatedAt) {
		return AdmissionRecord{}, fmt.Errorf("expires_at must be after created_at")
	}
	record.ExpiresAt = record.ExpiresAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

// NormalizeTelemetryEvent validates an event and guarantees AttributesJSON is
// populated, encoding the Attributes map when the caller did not pre-encode.
func NormalizeTelemetryEvent(evt TelemetryEvent) (TelemetryEvent, error) {
	evt.EventName = strings.TrimSpace(evt.EventName)
	if evt.EventName == "" {
		return TelemetryEvent{}, fmt.Errorf("event name is required")
	}
	if evt.Timestamp.IsZero() {
		return TelemetryEvent{}, fmt.Errorf("event timestamp is required")
	}
	if evt.Severity == "" {
		evt.Severity = "INFO"
	}
	evt.Timestamp = evt.Timestamp.UTC()

	if len(evt.AttributesJSON) == 0 {
		if len(evt.Attributes) == 0 {
			evt.AttributesJSON = []byte("{}")
		} else {
			encoded, err := json.Marshal(evt.Attributes)
			if err != nil {
				return TelemetryEvent{}, fmt.Errorf("marshal telemetry attributes: %w", err)
			}
			evt.AttributesJSON = encoded
		}
	}
	return evt, nil
}
