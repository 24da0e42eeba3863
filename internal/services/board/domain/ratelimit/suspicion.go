package ratelimit

import (
	"sync"
	"time"
)

// DefaultSuspicionThreshold is how many suspicion marks within the rolling
// window a user may accumulate before the fraud sink is signaled.
const DefaultSuspicionThreshold = 5

// suspicionWindow is the rolling interval marks are counted over.
const suspicionWindow = time.Hour

// FraudSink receives the escalation signal for users whose suspicion marks
// exceeded the threshold. Signaling never blocks the submission path.
type FraudSink interface {
	FlagUser(userID string, marks int, at time.Time)
}

// Tracker accumulates suspicion marks per user over a rolling hour and
// signals the fraud sink at most once per user per window. Marks come from
// throttle rejections and from implausible-speed rejections upstream; the
// tracker does not itself block anyone.
type Tracker struct {
	sink      FraudSink
	threshold int

	mu       sync.Mutex
	marks    map[string][]time.Time
	lastFlag map[string]time.Time
}

// NewTracker creates a suspicion tracker. A threshold of zero or less falls
// back to the default.
func NewTracker(sink FraudSink, threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultSuspicionThreshold
	}
	return &Tracker{
		sink:      sink,
		threshold: threshold,
		marks:     make(map[string][]time.Time),
		lastFlag:  make(map[string]time.Time),
	}
}

// ReportSuspicion records one mark for the user. Crossing the threshold
// within the rolling window signals the fraud sink once; further marks inside
// the same window stay silent.
func (t *Tracker) ReportSuspicion(userID, reason string, at time.Time) {
	if t == nil || userID == "" {
		return
	}
	at = at.UTC()

	t.mu.Lock()
	kept := pruneMarks(t.marks[userID], at)
	kept = append(kept, at)
	t.marks[userID] = kept

	flag := false
	if len(kept) > t.threshold {
		last, flagged := t.lastFlag[userID]
		if !flagged || at.Sub(last) >= suspicionWindow {
			t.lastFlag[userID] = at
			flag = true
		}
	}
	markCount := len(kept)
	t.mu.Unlock()

	if flag && t.sink != nil {
		t.sink.FlagUser(userID, markCount, at)
	}
}

// Sweep drops users whose marks all fell out of the rolling window and
// reports how many users were evicted.
func (t *Tracker) Sweep(now time.Time) int {
	if t == nil {
		return 0
	}
	now = now.UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for userID, marks := range t.marks {
		kept := pruneMarks(marks, now)
		if len(kept) == 0 {
			delete(t.marks, userID)
			removed++
			continue
		}
		t.marks[userID] = kept
	}
	for userID, last := range t.lastFlag {
		if now.Sub(last) >= suspicionWindow {
			delete(t.lastFlag, userID)
		}
	}
	return removed
}

func pruneMarks(marks []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-suspicionWindow)
	kept := marks[:0]
	for _, mark := range marks {
		if mark.After(cutoff) {
			kept = append(kept, mark)
		}
	}
	return kept
}
