package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/podium.live/internal/services/board/domain/claim"
	"github.com/louisbranch/podium.live/internal/services/board/domain/standings"
	"github.com/louisbranch/podium.live/internal/services/board/domain/token"
	"github.com/louisbranch/podium.live/internal/services/board/storage"
	"github.com/louisbranch/podium.live/internal/services/board/storage/integrity"
	"github.com/louisbranch/podium.live/internal/services/board/storage/postgres"
	"github.com/louisbranch/podium.live/internal/services/board/storage/sqlite"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RuntimeConfig holds the process-level settings for the board runtime.
// Token and integrity key material come from the environment so secrets
// never travel through flags.
type RuntimeConfig struct {
	Driver      string
	DBPath      string
	PostgresDSN string

	SweepInterval time.Duration

	DriftTolerance time.Duration
	TokenExpiry    time.Duration

	PerMinute          int
	PerHour            int
	MaxIncrement       int64
	SuspicionThreshold int

	TopK       int
	WorkingSet int

	// MinCompletion maps action types to the fastest believable completion.
	MinCompletion map[string]time.Duration
}

// Run opens storage, warms the standings index from history, and keeps the
// admission engine and its maintenance sweep alive until ctx is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	ring, err := integrity.KeyringFromEnv()
	if err != nil {
		return fmt.Errorf("load integrity keyring: %w", err)
	}
	tokenCfg, err := token.LoadConfigFromEnv(time.Now)
	if err != nil {
		return fmt.Errorf("load action token config: %w", err)
	}

	store, err := openStore(cfg, ring)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close storage: %v", err)
		}
	}()

	var difficulty claim.DifficultyRegistry
	if len(cfg.MinCompletion) > 0 {
		difficulty = claim.StaticRegistry(cfg.MinCompletion)
	}

	engine, err := NewEngine(store, Config{
		Token:              tokenCfg,
		Keyring:            ring,
		Difficulty:         difficulty,
		DriftTolerance:     cfg.DriftTolerance,
		TokenExpiry:        cfg.TokenExpiry,
		PerMinute:          cfg.PerMinute,
		PerHour:            cfg.PerHour,
		MaxIncrement:       cfg.MaxIncrement,
		SuspicionThreshold: cfg.SuspicionThreshold,
		TopK:               cfg.TopK,
		WorkingSet:         cfg.WorkingSet,
	})
	if err != nil {
		return fmt.Errorf("build admission engine: %w", err)
	}
	defer engine.Close()

	if err := engine.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("warm standings index: %w", err)
	}

	cancelFeed := engine.SubscribeRankDeltas(logRankDelta)
	defer cancelFeed()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.RunMaintenance(ctx, cfg.SweepInterval)
	}()

	log.Printf("board engine ready driver=%s top_k=%d working_set=%d", cfg.Driver, cfg.TopK, cfg.WorkingSet)
	<-ctx.Done()
	wg.Wait()
	return nil
}

func openStore(cfg RuntimeConfig, ring *integrity.Keyring) (storage.Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		store, err := sqlite.Open(cfg.DBPath, ring)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return store, nil
	case DriverPostgres:
		store, err := postgres.Open(cfg.PostgresDSN, ring)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func logRankDelta(delta standings.Delta) {
	log.Printf("rank delta user=%s score=%d->%d rank=%s->%s seq=%d",
		delta.UserID, delta.PreviousScore, delta.NewScore,
		formatRank(delta.PreviousRank), formatRank(delta.NewRank), delta.Seq)
}

func formatRank(rank *int) string {
	if rank == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *rank)
}
