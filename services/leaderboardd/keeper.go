package leaderboardd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	board "emojiboard/native/leaderboard"
)

// Keeper triggers the update once per period on behalf of a configured
// identity. A run that exceeds the resource ceiling is retried with double
// the ceiling until MaxCeiling.
type Keeper struct {
	gate       *board.Gate
	caller     common.Address
	interval   time.Duration
	base       uint64
	maxCeiling uint64
	logger     *slog.Logger
	attempts   metric.Int64Counter
}

// NewKeeper returns a keeper. base is the first ceiling tried.
func NewKeeper(gate *board.Gate, caller common.Address, interval time.Duration, base, maxCeiling uint64, logger *slog.Logger) *Keeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if base == 0 {
		base = board.DefaultResourceCeiling
	}
	if maxCeiling < base {
		maxCeiling = base
	}
	attempts, err := otel.Meter("emojiboard/services/leaderboardd").Int64Counter("leaderboard.keeper.attempts",
		metric.WithDescription("Keeper update attempts by outcome."))
	if err != nil {
		logger.Warn("keeper: metric unavailable", slog.Any("error", err))
	}
	return &Keeper{
		gate:       gate,
		caller:     caller,
		interval:   interval,
		base:       base,
		maxCeiling: maxCeiling,
		logger:     logger,
		attempts:   attempts,
	}
}

// Run polls until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.logger.Info("keeper started", slog.String("caller", k.caller.Hex()), slog.Duration("interval", k.interval))
	for {
		k.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one poll. It reports whether an update committed.
func (k *Keeper) Tick(ctx context.Context) bool {
	if !k.gate.CanUpdate() {
		return false
	}
	ceiling := k.base
	for {
		result, err := k.gate.UpdateLeaderboard(ctx, k.caller, ceiling)
		switch {
		case err == nil:
			k.record(ctx, "success")
			k.logger.Info("keeper updated leaderboard",
				slog.Int64("period", result.Period),
				slog.Uint64("ceiling", ceiling),
				slog.Uint64("cost", result.Cost))
			return true
		case errors.Is(err, board.ErrResourceExceeded) && ceiling < k.maxCeiling:
			k.record(ctx, "retry")
			next := ceiling * 2
			if next < ceiling || next > k.maxCeiling {
				next = k.maxCeiling
			}
			k.logger.Warn("keeper raising ceiling", slog.Uint64("from", ceiling), slog.Uint64("to", next))
			ceiling = next
		case errors.Is(err, board.ErrNotEligible):
			k.record(ctx, "not_eligible")
			return false
		default:
			k.record(ctx, "failed")
			k.logger.Error("keeper update failed", slog.Uint64("ceiling", ceiling), slog.Any("error", err))
			return false
		}
	}
}

func (k *Keeper) record(ctx context.Context, outcome string) {
	if k.attempts == nil {
		return
	}
	k.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
