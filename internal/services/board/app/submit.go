package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	apperrors "github.com/louisbranch/podium.live/internal/platform/errors"
	"github.com/louisbranch/podium.live/internal/services/board/domain/claim"
	"github.com/louisbranch/podium.live/internal/services/board/domain/ledger"
	"github.com/louisbranch/podium.live/internal/services/board/domain/token"
	"github.com/louisbranch/podium.live/internal/services/board/observability/audit"
	"github.com/louisbranch/podium.live/internal/services/board/observability/audit/events"
	"github.com/louisbranch/podium.live/internal/services/board/storage"
)

// submitEndpoint keys the rate limit window for score submissions.
const submitEndpoint = "submit_score"

// SignedClaim is one score submission as it arrives from the transport
// layer. UserID is the authenticated caller; the action token must have
// been minted for the same user.
type SignedClaim struct {
	UserID          string
	ActionToken     string
	ActionHash      string
	RequestID       string
	Increment       int64
	ClientTimestamp time.Time
	// Metadata is carried verbatim into the history entry.
	Metadata map[string]any
}

// UpdateResult reports a committed score update.
type UpdateResult struct {
	UserID        string
	PreviousScore int64
	NewScore      int64
	Increment     int64
	Seq           uint64
	// Rank is the user's standing after the update, nil when the user is
	// outside the tracked working set.
	Rank      *int
	CreatedAt time.Time
}

// SubmitScoreClaim runs one claim through the full admission pipeline:
// action token, replay and freshness gates, account standing, rate limits,
// then the durable ledger commit. The standings index and the delta feed
// observe the commit before this returns.
func (e *Engine) SubmitScoreClaim(ctx context.Context, sc SignedClaim) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}
	serverNow := e.now().UTC()

	claims, err := token.Parse(sc.ActionToken, e.tokenCfg)
	if err != nil {
		return UpdateResult{}, e.rejectClaim(ctx, sc, err)
	}
	if claims.UserID != sc.UserID {
		return UpdateResult{}, e.rejectClaim(ctx, sc, apperrors.WithMetadata(
			apperrors.CodeTokenInvalid,
			"action token was issued to another user",
			map[string]string{"token_user_id": claims.UserID},
		))
	}

	if _, err := e.verifier.Verify(ctx, claim.Claim{
		UserID:          sc.UserID,
		ActionType:      claims.ActionType,
		ActionHash:      sc.ActionHash,
		RequestID:       sc.RequestID,
		ClientTimestamp: sc.ClientTimestamp,
		ServerTimestamp: serverNow,
		TokenIssuedAt:   claims.IssuedAt,
		TokenStartedAt:  claims.StartedAt,
	}); err != nil {
		return UpdateResult{}, e.rejectClaim(ctx, sc, err)
	}

	// Standing is checked before the limiter so a suspended account never
	// consumes rate budget. The ledger re-checks it under the user lock.
	if err := e.checkStanding(ctx, sc.UserID); err != nil {
		return UpdateResult{}, e.rejectClaim(ctx, sc, err)
	}

	if _, err := e.limiter.Admit(sc.UserID, submitEndpoint, sc.Increment, serverNow); err != nil {
		return UpdateResult{}, e.rejectClaim(ctx, sc, err)
	}

	metaJSON, err := encodeMetadata(sc.Metadata)
	if err != nil {
		return UpdateResult{}, e.rejectClaim(ctx, sc, err)
	}

	commit, err := e.ledger.ApplyIncrement(ctx, sc.UserID, sc.Increment, ledger.ActionMeta{
		ActionType:   claims.ActionType,
		RequestID:    sc.RequestID,
		MetadataJSON: metaJSON,
	})
	if err != nil {
		return UpdateResult{}, e.rejectClaim(ctx, sc, err)
	}

	_ = e.audit.Emit(ctx, storage.TelemetryEvent{
		EventName: events.ClaimAccepted,
		Severity:  string(audit.SeverityInfo),
		UserID:    sc.UserID,
		RequestID: sc.RequestID,
		Attributes: map[string]any{
			"increment": commit.Increment,
			"new_score": commit.NewScore,
			"seq":       commit.Seq,
		},
	})
	log.Printf("score claim accepted user=%s request=%s increment=%d score=%d seq=%d",
		sc.UserID, sc.RequestID, commit.Increment, commit.NewScore, commit.Seq)

	return UpdateResult{
		UserID:        commit.UserID,
		PreviousScore: commit.PreviousScore,
		NewScore:      commit.NewScore,
		Increment:     commit.Increment,
		Seq:           commit.Seq,
		Rank:          e.rankOf(commit.UserID),
		CreatedAt:     commit.CreatedAt,
	}, nil
}

// checkStanding rejects claims from accounts that are not in good standing.
// A missing score row means a first-time submitter and passes.
func (e *Engine) checkStanding(ctx context.Context, userID string) error {
	record, err := e.store.GetScore(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "load account standing", err)
	}
	if record.Status != storage.UserStatusActive {
		return apperrors.WithMetadata(
			apperrors.CodeAccountSuspended,
			"account is not eligible for score submission",
			map[string]string{"status": string(record.Status)},
		)
	}
	return nil
}

func (e *Engine) rejectClaim(ctx context.Context, sc SignedClaim, err error) error {
	code := apperrors.CodeOf(err)
	_ = e.audit.Emit(ctx, storage.TelemetryEvent{
		EventName:  events.ClaimRejected,
		Severity:   string(audit.SeverityWarn),
		UserID:     sc.UserID,
		RequestID:  sc.RequestID,
		Attributes: map[string]any{"code": string(code)},
	})
	log.Printf("score claim rejected user=%s request=%s code=%s", sc.UserID, sc.RequestID, code)
	return err
}

func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode action metadata: %w", err)
	}
	return string(raw), nil
}
