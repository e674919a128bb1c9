package epoch

import (
	"time"

	stakeerrors "licensestake/core/errors"
)

// FirstEpoch is the index of the epoch a fresh clock starts in. Epoch zero is
// never open, which keeps the accumulator value for it fixed at zero.
const FirstEpoch uint64 = 1

// Clock tracks the current epoch index and when it started. Times are unix
// seconds.
type Clock struct {
	Index     uint64
	StartedAt uint64
	Duration  uint64
}

// NewClock opens FirstEpoch at start.
func NewClock(cfg Config, start time.Time) Clock {
	return Clock{Index: FirstEpoch, StartedAt: Unix(start), Duration: cfg.DurationSeconds()}
}

// EndsAt returns the earliest instant at which the current epoch may close.
func (c Clock) EndsAt() uint64 {
	return c.StartedAt + c.Duration
}

// HasElapsed reports whether the current epoch's duration has passed at now.
func (c Clock) HasElapsed(now time.Time) bool {
	return Unix(now) >= c.EndsAt()
}

// Advance returns the clock for the following epoch, started at now. The
// receiver is left untouched when the current epoch has not elapsed.
func (c Clock) Advance(now time.Time) (Clock, error) {
	if !c.HasElapsed(now) {
		return c, stakeerrors.ErrEpochNotFinishedYet
	}
	return Clock{Index: c.Index + 1, StartedAt: Unix(now), Duration: c.Duration}, nil
}

// Unix converts t to unix seconds, clamping instants before the epoch to zero.
func Unix(t time.Time) uint64 {
	secs := t.Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs)
}
