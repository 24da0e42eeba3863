// Package app wires the board's admission pipeline into a single engine:
// token verification, claim admission, throttling, the durable score ledger,
// the in-memory standings index, and the rank delta feed. The engine is the
// only place the pieces meet; each stays testable on its own.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/podium.live/internal/services/board/domain/claim"
	"github.com/louisbranch/podium.live/internal/services/board/domain/feed"
	"github.com/louisbranch/podium.live/internal/services/board/domain/ledger"
	"github.com/louisbranch/podium.live/internal/services/board/domain/ratelimit"
	"github.com/louisbranch/podium.live/internal/services/board/domain/standings"
	"github.com/louisbranch/podium.live/internal/services/board/domain/token"
	"github.com/louisbranch/podium.live/internal/services/board/observability/audit"
	"github.com/louisbranch/podium.live/internal/services/board/observability/audit/events"
	"github.com/louisbranch/podium.live/internal/services/board/storage"
	"github.com/louisbranch/podium.live/internal/services/board/storage/integrity"
)

// Config carries the engine's tunables. Zero values fall back to the
// defaults of the domain package that owns each knob.
type Config struct {
	// Token verifies the signed action tokens presented with each claim.
	Token token.Config
	// Keyring verifies history chain signatures during audits.
	Keyring *integrity.Keyring

	// Difficulty supplies per-action minimum completion times for the
	// implausible-speed gate. Nil skips that gate.
	Difficulty claim.DifficultyRegistry
	// FraudSink receives users flagged for repeated suspicious claims, in
	// addition to the audit trail. Nil keeps flags in the audit trail only.
	FraudSink ratelimit.FraudSink

	DriftTolerance time.Duration
	TokenExpiry    time.Duration

	PerMinute          int
	PerHour            int
	MaxIncrement       int64
	SuspicionThreshold int

	// MaxRetries bounds version-conflict retries on score commits.
	MaxRetries int

	TopK       int
	WorkingSet int
	FeedBuffer int

	Now func() time.Time
}

// Engine admits score claims end to end and serves leaderboard reads.
type Engine struct {
	store    storage.Store
	keyring  *integrity.Keyring
	tokenCfg token.Config

	verifier *claim.Verifier
	limiter  *ratelimit.Limiter
	tracker  *ratelimit.Tracker
	ledger   *ledger.Ledger
	hub      *feed.Hub
	audit    *audit.Emitter

	// indexMu orders live commit applies against full index swaps.
	indexMu  sync.RWMutex
	index    *standings.Index
	indexCfg standings.Config

	now func() time.Time
}

// NewEngine assembles the admission pipeline on top of store.
func NewEngine(store storage.Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if len(cfg.Token.Secret) == 0 {
		return nil, fmt.Errorf("action token secret is required")
	}
	if cfg.Keyring == nil {
		return nil, fmt.Errorf("integrity keyring is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		store:    store,
		keyring:  cfg.Keyring,
		tokenCfg: cfg.Token,
		audit:    audit.NewEmitter(store),
		indexCfg: standings.Config{K: cfg.TopK, WorkingSet: cfg.WorkingSet},
		now:      cfg.Now,
	}
	e.index = standings.NewIndex(e.indexCfg)
	e.hub = feed.NewHub(feed.Config{Buffer: cfg.FeedBuffer, OnDrop: e.reportDrop})
	e.tracker = ratelimit.NewTracker(fraudRelay{engine: e, next: cfg.FraudSink}, cfg.SuspicionThreshold)
	e.limiter = ratelimit.NewLimiter(e.tracker, ratelimit.Config{
		PerMinute:    cfg.PerMinute,
		PerHour:      cfg.PerHour,
		MaxIncrement: cfg.MaxIncrement,
	})

	verifier, err := claim.NewVerifier(store, cfg.Difficulty, e.tracker, claim.Config{
		DriftTolerance: cfg.DriftTolerance,
		TokenExpiry:    cfg.TokenExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("build claim verifier: %w", err)
	}
	e.verifier = verifier

	scores, err := ledger.NewLedger(store, ledger.Config{
		MaxRetries: cfg.MaxRetries,
		Now:        cfg.Now,
		OnCommit:   e.applyCommit,
	})
	if err != nil {
		return nil, fmt.Errorf("build score ledger: %w", err)
	}
	e.ledger = scores

	return e, nil
}

// applyCommit runs inside the committing user's ledger lock, so one user's
// deltas reach the index and the feed in commit order. Updates that never
// touch the tracked set stay silent.
func (e *Engine) applyCommit(c ledger.Commit) {
	e.indexMu.RLock()
	delta := e.index.Update(c.UserID, c.PreviousScore, c.NewScore, c.Seq, c.CreatedAt)
	e.indexMu.RUnlock()
	if delta.PreviousRank == nil && delta.NewRank == nil {
		return
	}
	e.hub.Publish(delta)
}

func (e *Engine) reportDrop(delta standings.Delta) {
	log.Printf("rank delta dropped user=%s seq=%d", delta.UserID, delta.Seq)
	go func() {
		_ = e.audit.Emit(context.Background(), storage.TelemetryEvent{
			EventName:  events.FeedDropped,
			Severity:   string(audit.SeverityWarn),
			UserID:     delta.UserID,
			Attributes: map[string]any{"seq": delta.Seq},
		})
	}()
}

// TopK snapshots the current top standings, capped at the tracked set.
func (e *Engine) TopK(k int) []standings.Entry {
	e.indexMu.RLock()
	defer e.indexMu.RUnlock()
	return e.index.TopK(k)
}

// SubscribeRankDeltas registers handler for committed rank changes and
// returns its cancel. Delivery is at-least-once and ordered per user; a
// subscriber that falls behind loses its oldest buffered deltas.
func (e *Engine) SubscribeRankDeltas(handler func(standings.Delta)) func() {
	return e.hub.Subscribe(handler)
}

// Close stops delta delivery. The storage handle stays open; its owner
// closes it.
func (e *Engine) Close() {
	e.hub.Close()
}

// fraudRelay copies suspicion flags into the audit trail before handing
// them to the external sink, when one is wired.
type fraudRelay struct {
	engine *Engine
	next   ratelimit.FraudSink
}

func (r fraudRelay) FlagUser(userID string, marks int, at time.Time) {
	log.Printf("suspicious activity flagged user=%s marks=%d", userID, marks)
	_ = r.engine.audit.Emit(context.Background(), storage.TelemetryEvent{
		Timestamp:  at,
		EventName:  events.SuspicionFlagged,
		Severity:   string(audit.SeverityWarn),
		UserID:     userID,
		Attributes: map[string]any{"marks": marks},
	})
	if r.next != nil {
		r.next.FlagUser(userID, marks, at)
	}
}

func (e *Engine) rankOf(userID string) *int {
	e.indexMu.RLock()
	defer e.indexMu.RUnlock()
	if rank, ok := e.index.Position(userID); ok {
		return &rank
	}
	return nil
}
