package leaderboard

import (
	"context"
	"time"
)

// Window bounds the activity considered by one recomputation. A zero From
// means the full history.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	return !t.After(w.To)
}

// ActivitySource supplies participant activity. It is owned by an external
// collaborator; the gate only reads from it.
type ActivitySource interface {
	Activity(ctx context.Context, window Window) ([]ActivityRecord, error)
}

// StaticSource serves a fixed slice of records, filtered by window.
type StaticSource []ActivityRecord

// Activity implements ActivitySource.
func (s StaticSource) Activity(_ context.Context, window Window) ([]ActivityRecord, error) {
	out := make([]ActivityRecord, 0, len(s))
	for _, record := range s {
		if record.OccurredAt.IsZero() || window.Contains(record.OccurredAt) {
			out = append(out, record)
		}
	}
	return out, nil
}

// SourceFunc adapts a function to ActivitySource.
type SourceFunc func(ctx context.Context, window Window) ([]ActivityRecord, error)

// Activity implements ActivitySource.
func (f SourceFunc) Activity(ctx context.Context, window Window) ([]ActivityRecord, error) {
	return f(ctx, window)
}
