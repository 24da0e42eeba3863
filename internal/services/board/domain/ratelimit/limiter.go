// Package ratelimit throttles score submissions with fixed per-minute and
// per-hour windows keyed by user and endpoint, validates increment bounds,
// and escalates repeat offenders to a fraud-review sink.
package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/podium.live/internal/platform/errors"
)

const (
	// DefaultPerMinute is the per-minute admission ceiling.
	DefaultPerMinute = 10
	// DefaultPerHour is the per-hour admission ceiling.
	DefaultPerHour = 100
	// DefaultMaxIncrement is the largest score increment one action may claim.
	DefaultMaxIncrement = 100

	// ReasonThrottled marks a submission rejected for exceeding a window
	// ceiling.
	ReasonThrottled = "throttled"
)

// SuspicionReporter receives throttle marks for fraud review. Reporting never
// blocks or fails the admission decision.
type SuspicionReporter interface {
	ReportSuspicion(userID, reason string, at time.Time)
}

// Config tunes the window ceilings. Zero values fall back to defaults.
type Config struct {
	PerMinute    int
	PerHour      int
	MaxIncrement int64
}

// Decision reports the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Remaining is the headroom left in the tighter window after this
	// admission.
	Remaining int
	// RetryAfter is the wait until the nearest window boundary that restores
	// headroom. Zero unless throttled.
	RetryAfter time.Duration
}

type windowKey struct {
	userID   string
	endpoint string
}

type windowState struct {
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	lastSeen    time.Time
}

// Limiter admits or throttles submissions. The ceiling check and the counter
// increment happen in one critical section, so two concurrent submissions
// cannot both claim the last slot.
type Limiter struct {
	cfg       Config
	suspicion SuspicionReporter

	mu      sync.Mutex
	windows map[windowKey]*windowState
}

// NewLimiter creates a limiter. The suspicion reporter is optional.
func NewLimiter(suspicion SuspicionReporter, cfg Config) *Limiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = DefaultPerMinute
	}
	if cfg.PerHour <= 0 {
		cfg.PerHour = DefaultPerHour
	}
	if cfg.MaxIncrement <= 0 {
		cfg.MaxIncrement = DefaultMaxIncrement
	}
	return &Limiter{
		cfg:       cfg,
		suspicion: suspicion,
		windows:   make(map[windowKey]*windowState),
	}
}

// Admit checks the increment bounds and the window ceilings for one
// submission. Rejections never consume budget: an out-of-range increment
// touches no counter, and a throttled submission leaves both counters where
// they were.
func (l *Limiter) Admit(userID, endpoint string, increment int64, now time.Time) (Decision, error) {
	userID = strings.TrimSpace(userID)
	endpoint = strings.TrimSpace(endpoint)
	if userID == "" {
		return Decision{}, fmt.Errorf("rate limit user id is required")
	}
	if endpoint == "" {
		return Decision{}, fmt.Errorf("rate limit endpoint is required")
	}
	if increment <= 0 || increment > l.cfg.MaxIncrement {
		return Decision{}, apperrors.WithMetadata(
			apperrors.CodeInvalidIncrement,
			"score increment is out of range",
			map[string]string{
				"increment":     strconv.FormatInt(increment, 10),
				"max_increment": strconv.FormatInt(l.cfg.MaxIncrement, 10),
			},
		)
	}

	now = now.UTC()
	decision := l.admit(userID, endpoint, now)
	if decision.Allowed {
		return decision, nil
	}
	if l.suspicion != nil {
		l.suspicion.ReportSuspicion(userID, ReasonThrottled, now)
	}
	retrySeconds := int64((decision.RetryAfter + time.Second - 1) / time.Second)
	return decision, apperrors.WithMetadata(
		apperrors.CodeRateLimitExceeded,
		"submission rate limit exceeded",
		map[string]string{
			"endpoint":            endpoint,
			"retry_after_seconds": strconv.FormatInt(retrySeconds, 10),
		},
	)
}

func (l *Limiter) admit(userID, endpoint string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := windowKey{userID: userID, endpoint: endpoint}
	state, ok := l.windows[key]
	if !ok {
		state = &windowState{}
		l.windows[key] = state
	}

	minuteStart := now.Truncate(time.Minute)
	if !state.minuteStart.Equal(minuteStart) {
		state.minuteStart = minuteStart
		state.minuteCount = 0
	}
	hourStart := now.Truncate(time.Hour)
	if !state.hourStart.Equal(hourStart) {
		state.hourStart = hourStart
		state.hourCount = 0
	}
	state.lastSeen = now

	if state.hourCount+1 > l.cfg.PerHour {
		return Decision{RetryAfter: hourStart.Add(time.Hour).Sub(now)}
	}
	if state.minuteCount+1 > l.cfg.PerMinute {
		return Decision{RetryAfter: minuteStart.Add(time.Minute).Sub(now)}
	}

	state.minuteCount++
	state.hourCount++
	remaining := l.cfg.PerMinute - state.minuteCount
	if hourRemaining := l.cfg.PerHour - state.hourCount; hourRemaining < remaining {
		remaining = hourRemaining
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// EvictIdle drops window entries untouched since the cutoff and reports how
// many were removed. Counters are otherwise reclaimed lazily as windows roll
// over.
func (l *Limiter) EvictIdle(now time.Time, idleFor time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.UTC().Add(-idleFor)
	removed := 0
	for key, state := range l.windows {
		if state.lastSeen.Before(cutoff) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
