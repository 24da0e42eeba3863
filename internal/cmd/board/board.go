// Package board parses board command flags and launches the score admission runtime.
package board

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/podium.live/internal/platform/cmd"
	boardapp "github.com/louisbranch/podium.live/internal/services/board/app"
)

// Config holds board command configuration.
type Config struct {
	Driver             string        `env:"PODIUM_LIVE_BOARD_DB_DRIVER" envDefault:"sqlite"`
	DBPath             string        `env:"PODIUM_LIVE_BOARD_DB_PATH" envDefault:"board.db"`
	PostgresDSN        string        `env:"PODIUM_LIVE_BOARD_POSTGRES_DSN"`
	SweepInterval      time.Duration `env:"PODIUM_LIVE_BOARD_SWEEP_INTERVAL" envDefault:"1m"`
	DriftTolerance     time.Duration `env:"PODIUM_LIVE_BOARD_DRIFT_TOLERANCE" envDefault:"5s"`
	TokenExpiry        time.Duration `env:"PODIUM_LIVE_BOARD_TOKEN_EXPIRY" envDefault:"30s"`
	PerMinute          int           `env:"PODIUM_LIVE_BOARD_RATE_PER_MINUTE" envDefault:"10"`
	PerHour            int           `env:"PODIUM_LIVE_BOARD_RATE_PER_HOUR" envDefault:"100"`
	MaxIncrement       int64         `env:"PODIUM_LIVE_BOARD_MAX_INCREMENT" envDefault:"100"`
	SuspicionThreshold int           `env:"PODIUM_LIVE_BOARD_SUSPICION_THRESHOLD" envDefault:"5"`
	TopK               int           `env:"PODIUM_LIVE_BOARD_TOP_K" envDefault:"10"`
	WorkingSet         int           `env:"PODIUM_LIVE_BOARD_WORKING_SET" envDefault:"100"`
	// MinCompletion lists the fastest believable completion per action type,
	// e.g. "quest=15s,boss=60s". Empty disables the speed gate.
	MinCompletion string `env:"PODIUM_LIVE_BOARD_MIN_COMPLETION"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "The storage driver (sqlite or postgres)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The sqlite database path")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "The postgres connection string")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "The expired admission sweep cadence")
	fs.DurationVar(&cfg.DriftTolerance, "drift-tolerance", cfg.DriftTolerance, "The allowed client clock drift")
	fs.DurationVar(&cfg.TokenExpiry, "token-expiry", cfg.TokenExpiry, "The action token freshness window")
	fs.IntVar(&cfg.PerMinute, "rate-per-minute", cfg.PerMinute, "The per-user submissions allowed per minute")
	fs.IntVar(&cfg.PerHour, "rate-per-hour", cfg.PerHour, "The per-user submissions allowed per hour")
	fs.Int64Var(&cfg.MaxIncrement, "max-increment", cfg.MaxIncrement, "The largest accepted score increment")
	fs.IntVar(&cfg.SuspicionThreshold, "suspicion-threshold", cfg.SuspicionThreshold, "The hourly suspicion marks before a fraud flag")
	fs.IntVar(&cfg.TopK, "top-k", cfg.TopK, "The published leaderboard size")
	fs.IntVar(&cfg.WorkingSet, "working-set", cfg.WorkingSet, "The tracked standings size beyond top K")
	fs.StringVar(&cfg.MinCompletion, "min-completion", cfg.MinCompletion, "Per-action minimum completion times, e.g. quest=15s")

	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the board runtime.
func Run(ctx context.Context, cfg Config) error {
	minCompletion, err := parseMinCompletion(cfg.MinCompletion)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceBoard, func(context.Context) error {
		return boardapp.Run(ctx, boardapp.RuntimeConfig{
			Driver:             cfg.Driver,
			DBPath:             cfg.DBPath,
			PostgresDSN:        cfg.PostgresDSN,
			SweepInterval:      cfg.SweepInterval,
			DriftTolerance:     cfg.DriftTolerance,
			TokenExpiry:        cfg.TokenExpiry,
			PerMinute:          cfg.PerMinute,
			PerHour:            cfg.PerHour,
			MaxIncrement:       cfg.MaxIncrement,
			SuspicionThreshold: cfg.SuspicionThreshold,
			TopK:               cfg.TopK,
			WorkingSet:         cfg.WorkingSet,
			MinCompletion:      minCompletion,
		})
	})
}

// parseMinCompletion reads "action=duration" pairs separated by commas.
func parseMinCompletion(raw string) (map[string]time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	minimums := make(map[string]time.Duration)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("invalid min completion entry %q", pair)
		}
		min, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid min completion for %q: %w", name, err)
		}
		if min <= 0 {
			return nil, fmt.Errorf("min completion for %q must be positive", name)
		}
		minimums[name] = min
	}
	return minimums, nil
}
