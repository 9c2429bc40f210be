package leaderboardd

import (
	"log/slog"

	"emojiboard/core/events"
)

// AuditLog writes one structured line per committed leaderboard update.
type AuditLog struct {
	logger *slog.Logger
}

// NewAuditLog returns an emitter logging through logger.
func NewAuditLog(logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{logger: logger}
}

// Emit implements events.Emitter.
func (a *AuditLog) Emit(evt events.Event) {
	update, ok := evt.(events.LeaderboardUpdated)
	if !ok {
		return
	}
	attrs := update.Attributes()
	a.logger.Info("leaderboard update recorded",
		slog.String("event", update.EventType()),
		slog.String("sequence", attrs["sequence"]),
		slog.String("updater", attrs["updater"]),
		slog.String("period", attrs["period"]),
		slog.String("reward", attrs["rewardAmount"]),
		slog.String("entries", attrs["entries"]),
		slog.String("digest", attrs["digest"]))
}
