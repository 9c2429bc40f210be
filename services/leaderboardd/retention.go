package leaderboardd

import (
	"context"
	"log/slog"
	"time"

	"emojiboard/core/events"
)

// ActivityPruner is the subset of the activity store the janitor needs.
type ActivityPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Janitor deletes activity records that have aged out of the scored window.
// It sweeps on a fixed interval and again after every committed update.
type Janitor struct {
	store     ActivityPruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	wake      chan struct{}
}

// NewJanitor returns a janitor keeping records younger than retention.
func NewJanitor(store ActivityPruner, retention, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Emit implements events.Emitter. The gate calls it while holding its lock,
// so it only schedules a sweep.
func (j *Janitor) Emit(evt events.Event) {
	if evt == nil || evt.EventType() != events.TypeLeaderboardUpdated {
		return
	}
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	j.logger.Info("activity janitor started",
		slog.Duration("retention", j.retention),
		slog.Duration("interval", j.interval))
	for {
		j.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-j.wake:
		}
	}
}

// Sweep prunes once and returns the number of records removed.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	if j.retention <= 0 {
		return 0
	}
	cutoff := j.now().Add(-j.retention)
	removed, err := j.store.Prune(ctx, cutoff)
	if err != nil {
		j.logger.Error("activity prune failed", slog.Time("cutoff", cutoff), slog.Any("error", err))
		return 0
	}
	if removed == 0 {
		return 0
	}
	attrs := []any{slog.Int64("removed", removed), slog.Time("cutoff", cutoff)}
	if remaining, err := j.store.Count(ctx); err == nil {
		attrs = append(attrs, slog.Int64("remaining", remaining))
	}
	j.logger.Info("activity records pruned", attrs...)
	return removed
}
