// Package claim implements the admission gate for score claims: replay
// protection, timestamp sanity, token freshness, and completion-speed
// plausibility, in that order, short-circuiting on the first failure.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/podium.live/internal/platform/errors"
	"github.com/louisbranch/podium.live/internal/services/board/storage"
)

const (
	// DefaultDriftTolerance bounds how far apart the client and server clocks
	// may report the same claim.
	DefaultDriftTolerance = 5 * time.Second
	// DefaultTokenExpiry bounds how old an action token may be at
	// verification time.
	DefaultTokenExpiry = 30 * time.Second

	// ReasonImplausibleSpeed marks a claim completed faster than the action's
	// configured minimum.
	ReasonImplausibleSpeed = "implausible_speed"
)

// AdmissionStore is the slice of the storage API the verifier uses.
type AdmissionStore interface {
	// FindAdmission returns the live record holding the request id or action
	// hash, or storage.ErrNotFound.
	FindAdmission(ctx context.Context, requestID, actionHash string, now time.Time) (storage.AdmissionRecord, error)
	// InsertAdmission atomically records the admission; false means a
	// concurrent duplicate won.
	InsertAdmission(ctx context.Context, record storage.AdmissionRecord) (bool, error)
}

// DifficultyRegistry supplies the per-action minimum completion time. The
// action catalog itself is owned by an external collaborator; actions without
// a registered minimum skip the speed check.
type DifficultyRegistry interface {
	MinCompletionFor(actionType string) (time.Duration, bool)
}

// StaticRegistry serves fixed minimum completion times keyed by action type.
type StaticRegistry map[string]time.Duration

// MinCompletionFor implements DifficultyRegistry.
func (r StaticRegistry) MinCompletionFor(actionType string) (time.Duration, bool) {
	min, ok := r[actionType]
	return min, ok
}

// SuspicionReporter receives suspicious-but-allowed marks for fraud review.
// Reporting never blocks a claim on its own.
type SuspicionReporter interface {
	ReportSuspicion(userID, reason string, at time.Time)
}

// Config tunes the admission checks. Zero values fall back to defaults.
type Config struct {
	DriftTolerance time.Duration
	TokenExpiry    time.Duration
}

// Claim is one score claim bound to an authenticated user. Identity and the
// token fields are established upstream; the verifier never re-derives them.
type Claim struct {
	UserID          string
	ActionType      string
	ActionHash      string
	RequestID       string
	ClientTimestamp time.Time
	// ServerTimestamp is when the server observed the claim. All freshness
	// checks measure against it.
	ServerTimestamp time.Time
	TokenIssuedAt   time.Time
	TokenStartedAt  time.Time
}

// Admission is a claim that passed every verifier gate.
type Admission struct {
	UserID     string
	ActionType string
	ActionHash string
	RequestID  string
	AdmittedAt time.Time
	// ExpiresAt is when the replay guard for this claim lapses.
	ExpiresAt time.Time
}

// Verifier applies the ordered admission checks.
type Verifier struct {
	store     AdmissionStore
	registry  DifficultyRegistry
	suspicion SuspicionReporter
	cfg       Config
}

// NewVerifier creates a claim verifier. The registry and suspicion reporter
// are optional.
func NewVerifier(store AdmissionStore, registry DifficultyRegistry, suspicion SuspicionReporter, cfg Config) (*Verifier, error) {
	if store == nil {
		return nil, errors.New("admission store is required")
	}
	if cfg.DriftTolerance <= 0 {
		cfg.DriftTolerance = DefaultDriftTolerance
	}
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = DefaultTokenExpiry
	}
	return &Verifier{
		store:     store,
		registry:  registry,
		suspicion: suspicion,
		cfg:       cfg,
	}, nil
}

// Verify runs the admission checks in order and records the admission when
// every gate passes. The final insert is the authoritative replay gate: of
// two concurrent identical claims at most one wins it.
func (v *Verifier) Verify(ctx context.Context, c Claim) (Admission, error) {
	if err := ctx.Err(); err != nil {
		return Admission{}, err
	}
	c, err := normalizeClaim(c)
	if err != nil {
		return Admission{}, err
	}

	_, err = v.store.FindAdmission(ctx, c.RequestID, c.ActionHash, c.ServerTimestamp)
	if err == nil {
		return Admission{}, apperrors.WithMetadata(
			apperrors.CodeReplay,
			"request was already admitted",
			map[string]string{"request_id": c.RequestID},
		)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Admission{}, apperrors.Wrap(apperrors.CodeStorageFailure, "check admission records", err)
	}

	drift := c.ServerTimestamp.Sub(c.ClientTimestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.cfg.DriftTolerance {
		return Admission{}, apperrors.WithMetadata(
			apperrors.CodeTimestampDrift,
			"client timestamp is outside the drift tolerance",
			map[string]string{
				"drift_ms":     strconv.FormatInt(drift.Milliseconds(), 10),
				"tolerance_ms": strconv.FormatInt(v.cfg.DriftTolerance.Milliseconds(), 10),
			},
		)
	}

	tokenAge := c.ServerTimestamp.Sub(c.TokenIssuedAt)
	if tokenAge > v.cfg.TokenExpiry {
		return Admission{}, apperrors.WithMetadata(
			apperrors.CodeTokenExpired,
			"action token has expired",
			map[string]string{
				"token_age_ms": strconv.FormatInt(tokenAge.Milliseconds(), 10),
				"expiry_ms":    strconv.FormatInt(v.cfg.TokenExpiry.Milliseconds(), 10),
			},
		)
	}

	if v.registry != nil {
		if minCompletion, ok := v.registry.MinCompletionFor(c.ActionType); ok {
			elapsed := c.ServerTimestamp.Sub(c.TokenStartedAt)
			if elapsed < minCompletion {
				log.Printf("implausible speed user=%s action=%s elapsed_ms=%d min_ms=%d",
					c.UserID, c.ActionType, elapsed.Milliseconds(), minCompletion.Milliseconds())
				if v.suspicion != nil {
					v.suspicion.ReportSuspicion(c.UserID, ReasonImplausibleSpeed, c.ServerTimestamp)
				}
				return Admission{}, apperrors.WithMetadata(
					apperrors.CodeImplausibleSpeed,
					"action completed faster than its minimum completion time",
					map[string]string{
						"elapsed_ms":        strconv.FormatInt(elapsed.Milliseconds(), 10),
						"min_completion_ms": strconv.FormatInt(minCompletion.Milliseconds(), 10),
					},
				)
			}
		}
	}

	ttl := v.cfg.TokenExpiry
	if v.cfg.DriftTolerance > ttl {
		ttl = v.cfg.DriftTolerance
	}
	expiresAt := c.ServerTimestamp.Add(ttl)
	won, err := v.store.InsertAdmission(ctx, storage.AdmissionRecord{
		RequestID:  c.RequestID,
		ActionHash: c.ActionHash,
		UserID:     c.UserID,
		ExpiresAt:  expiresAt,
		CreatedAt:  c.ServerTimestamp,
	})
	if err != nil {
		return Admission{}, apperrors.Wrap(apperrors.CodeStorageFailure, "record admission", err)
	}
	if !won {
		return Admission{}, apperrors.WithMetadata(
			apperrors.CodeReplay,
			"concurrent duplicate claim was admitted first",
			map[string]string{"request_id": c.RequestID},
		)
	}

	return Admission{
		UserID:     c.UserID,
		ActionType: c.ActionType,
		ActionHash: c.ActionHash,
		RequestID:  c.RequestID,
		AdmittedAt: c.ServerTimestamp,
		ExpiresAt:  expiresAt,
	}, nil
}

func normalizeClaim(c Claim) (Claim, error) {
	c.UserID = strings.TrimSpace(c.UserID)
	c.ActionType = strings.TrimSpace(c.ActionType)
	c.ActionHash = strings.TrimSpace(c.ActionHash)
	c.RequestID = strings.TrimSpace(c.RequestID)

	if c.UserID == "" {
		return Claim{}, fmt.Errorf("claim user id is required")
	}
	if c.ActionHash == "" {
		return Claim{}, fmt.Errorf("claim action hash is required")
	}
	if c.RequestID == "" {
		return Claim{}, fmt.Errorf("claim request id is required")
	}
	if c.ClientTimestamp.IsZero() {
		return Claim{}, fmt.Errorf("claim client timestamp is required")
	}
	if c.ServerTimestamp.IsZero() {
		return Claim{}, fmt.Errorf("claim server timestamp is required")
	}
	if c.TokenIssuedAt.IsZero() {
		return Claim{}, fmt.Errorf("claim token issuance time is required")
	}
	if c.TokenStartedAt.IsZero() {
		c.TokenStartedAt = c.TokenIssuedAt
	}
	c.ClientTimestamp = c.ClientTimestamp.UTC()
	c.ServerTimestamp = c.ServerTimestamp.UTC()
	c.TokenIssuedAt = c.TokenIssuedAt.UTC()
	c.TokenStartedAt = c.TokenStartedAt.UTC()
	return c, nil
}
