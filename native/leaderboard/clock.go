package leaderboard

import (
	"errors"
	"time"
)

// Clock maps wall-clock time to a period index. It holds no state besides its
// configuration, so any observer with the same origin and length derives the
// same index for the same instant.
type Clock struct {
	origin time.Time
	length time.Duration
	now    func() time.Time
}

// NewClock builds a clock with fixed-length periods counted from origin. A
// nil now function defaults to time.Now.
func NewClock(origin time.Time, length time.Duration, now func() time.Time) (*Clock, error) {
	if length <= 0 {
		return nil, errors.New("leaderboard: period length must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Clock{origin: origin, length: length, now: now}, nil
}

// Now returns the authoritative current time.
func (c *Clock) Now() time.Time { return c.now() }

// Length returns the configured period length.
func (c *Clock) Length() time.Duration { return c.length }

// CurrentPeriod returns floor((now - origin) / length).
func (c *Clock) CurrentPeriod() int64 {
	return c.PeriodAt(c.now())
}

// PeriodAt returns the period containing t.
func (c *Clock) PeriodAt(t time.Time) int64 {
	elapsed := t.Sub(c.origin)
	period := int64(elapsed / c.length)
	if elapsed < 0 && elapsed%c.length != 0 {
		period--
	}
	return period
}

// PeriodStart returns the instant period p begins.
func (c *Clock) PeriodStart(p int64) time.Time {
	return c.origin.Add(time.Duration(p) * c.length)
}
