package ratelimit

import (
	"testing"
	"time"
)

type fakeFraudSink struct {
	userIDs []string
	marks   []int
}

func (s *fakeFraudSink) FlagUser(userID string, marks int, at time.Time) {
	s.userIDs = append(s.userIDs, userID)
	s.marks = append(s.marks, marks)
}

func TestTrackerFlagsAboveThreshold(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &fakeFraudSink{}
	tracker := NewTracker(sink, 5)

	for i := 0; i < 5; i++ {
		tracker.ReportSuspicion("user-1", ReasonThrottled, now.Add(time.Duration(i)*time.Minute))
	}
	if len(sink.userIDs) != 0 {
		t.Fatalf("expected no flag at threshold, got %v", sink.userIDs)
	}

	tracker.ReportSuspicion("user-1", ReasonThrottled, now.Add(5*time.Minute))
	if len(sink.userIDs) != 1 || sink.userIDs[0] != "user-1" {
		t.Fatalf("expected one flag for user-1, got %v", sink.userIDs)
	}
	if sink.marks[0] != 6 {
		t.Fatalf("expected 6 marks at flag time, got %d", sink.marks[0])
	}

	tracker.ReportSuspicion("user-1", ReasonThrottled, now.Add(6*time.Minute))
	if len(sink.userIDs) != 1 {
		t.Fatalf("expected one flag per window, got %d", len(sink.userIDs))
	}
}

func TestTrackerCountsPerUser(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &fakeFraudSink{}
	tracker := NewTracker(sink, 2)

	for i := 0; i < 2; i++ {
		tracker.ReportSuspicion("user-1", ReasonThrottled, now)
		tracker.ReportSuspicion("user-2", ReasonThrottled, now)
	}
	if len(sink.userIDs) != 0 {
		t.Fatalf("expected no flags, got %v", sink.userIDs)
	}

	tracker.ReportSuspicion("user-2", ReasonThrottled, now)
	if len(sink.userIDs) != 1 || sink.userIDs[0] != "user-2" {
		t.Fatalf("expected flag for user-2 only, got %v", sink.userIDs)
	}
}

func TestTrackerRollingWindowExpiresMarks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &fakeFraudSink{}
	tracker := NewTracker(sink, 2)

	tracker.ReportSuspicion("user-1", ReasonThrottled, now)
	tracker.ReportSuspicion("user-1", ReasonThrottled, now)

	later := now.Add(suspicionWindow + time.Minute)
	tracker.ReportSuspicion("user-1", ReasonThrottled, later)
	if len(sink.userIDs) != 0 {
		t.Fatalf("expected expired marks to reset the count, got %v", sink.userIDs)
	}

	tracker.ReportSuspicion("user-1", ReasonThrottled, later)
	tracker.ReportSuspicion("user-1", ReasonThrottled, later)
	if len(sink.userIDs) != 1 {
		t.Fatalf("expected one flag after threshold crossed again, got %d", len(sink.userIDs))
	}
}

func TestTrackerReflagsInNewWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &fakeFraudSink{}
	tracker := NewTracker(sink, 1)

	tracker.ReportSuspicion("user-1", ReasonThrottled, now)
	tracker.ReportSuspicion("user-1", ReasonThrottled, now)
	if len(sink.userIDs) != 1 {
		t.Fatalf("expected first flag, got %d", len(sink.userIDs))
	}

	later := now.Add(suspicionWindow + time.Minute)
	tracker.ReportSuspicion("user-1", ReasonThrottled, later)
	tracker.ReportSuspicion("user-1", ReasonThrottled, later)
	if len(sink.userIDs) != 2 {
		t.Fatalf("expected a second flag in the new window, got %d", len(sink.userIDs))
	}
}

func TestTrackerSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(nil, 5)

	tracker.ReportSuspicion("user-1", ReasonThrottled, now)
	tracker.ReportSuspicion("user-2", ReasonThrottled, now.Add(30*time.Minute))

	removed := tracker.Sweep(now.Add(suspicionWindow + time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 user evicted, got %d", removed)
	}
	if removed := tracker.Sweep(now.Add(2 * suspicionWindow)); removed != 1 {
		t.Fatalf("expected remaining user evicted, got %d", removed)
	}
}

func TestTrackerNilSafe(t *testing.T) {
	var tracker *Tracker
	tracker.ReportSuspicion("user-1", ReasonThrottled, time.Now())
	if removed := tracker.Sweep(time.Now()); removed != 0 {
		t.Fatalf("expected nil tracker sweep to report 0, got %d", removed)
	}
}
