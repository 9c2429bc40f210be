package leaderboard

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"emojiboard/core/events"
)

const (
	defaultEventHistoryLimit = 2048
	subscriberBuffer         = 32
)

// EventLog keeps the append-only update history and fans new events out to
// subscribers. Slow subscribers miss events rather than blocking the gate;
// they can catch up with a cursor.
type EventLog struct {
	mu      sync.Mutex
	limit   int
	lastSeq uint64
	history []events.LeaderboardUpdated
	subs    map[uint64]chan events.LeaderboardUpdated
	nextID  uint64
}

// NewEventLog returns a log retaining at most limit events in memory.
func NewEventLog(limit int) *EventLog {
	if limit <= 0 {
		limit = defaultEventHistoryLimit
	}
	return &EventLog{
		limit: limit,
		subs:  make(map[uint64]chan events.LeaderboardUpdated),
	}
}

func (l *EventLog) restore(history []events.LeaderboardUpdated) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = l.history[:0]
	for _, evt := range history {
		l.history = append(l.history, evt.Clone())
		if evt.Sequence > l.lastSeq {
			l.lastSeq = evt.Sequence
		}
	}
	l.trimLocked()
}

func (l *EventLog) nextSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq + 1
}

func (l *EventLog) publish(update events.LeaderboardUpdated) {
	l.mu.Lock()
	if update.Sequence == 0 {
		update.Sequence = l.lastSeq + 1
	}
	if update.Sequence > l.lastSeq {
		l.lastSeq = update.Sequence
	}
	l.history = append(l.history, update.Clone())
	l.trimLocked()
	// Sends never block, so delivering under the lock keeps cancel from
	// closing a channel mid-send.
	for _, ch := range l.subs {
		select {
		case ch <- update.Clone():
		default:
		}
	}
	l.mu.Unlock()
}

func (l *EventLog) trimLocked() {
	if len(l.history) <= l.limit {
		return
	}
	excess := len(l.history) - l.limit
	trimmed := make([]events.LeaderboardUpdated, l.limit)
	copy(trimmed, l.history[excess:])
	l.history = trimmed
}

// Subscribe registers for events published after the call. When cursor holds
// a sequence number, retained events with a greater sequence are returned as
// backlog. The subscription ends when ctx is done or cancel is called.
func (l *EventLog) Subscribe(ctx context.Context, cursor string) (<-chan events.LeaderboardUpdated, func(), []events.LeaderboardUpdated) {
	updates := make(chan events.LeaderboardUpdated, subscriberBuffer)

	since, hasCursor := uint64(0), false
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since, hasCursor = parsed, true
		}
	}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = updates
	backlog := make([]events.LeaderboardUpdated, 0)
	if hasCursor {
		for _, evt := range l.history {
			if evt.Sequence > since {
				backlog = append(backlog, evt.Clone())
			}
		}
	}
	l.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			close(updates)
			l.mu.Unlock()
			close(done)
		})
	}
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return updates, cancel, backlog
}

// Recent returns retained events whose period is at or after sincePeriod,
// newest first, capped at limit when limit is positive.
func (l *EventLog) Recent(sincePeriod int64, limit int) []events.LeaderboardUpdated {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.LeaderboardUpdated, 0)
	for i := len(l.history) - 1; i >= 0; i-- {
		evt := l.history[i]
		if evt.Period < sincePeriod {
			continue
		}
		out = append(out, evt.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}
