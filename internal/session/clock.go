package session

import "time"

// Clock is the authoritative dual countdown of one session. It is
// written only by Session methods while the session mutex is held; the
// snapshots it produces are the single source of truth peers reconcile
// their local displays against.
type Clock struct {
	enabled     bool
	whiteMs     int64
	blackMs     int64
	incrementMs int64
	active      Color
	started     bool
	flagged     bool
	lastTick    time.Time
}

// ClockSnapshot is the broadcastable read-only view of a Clock.
type ClockSnapshot struct {
	WhiteMs int64 `json:"white_ms"`
	BlackMs int64 `json:"black_ms"`
	Active  Color `json:"active"`
}

func NewClock(tc TimeControl) *Clock {
	ms := tc.Initial.Milliseconds()
	return &Clock{
		enabled:     tc.Enabled,
		whiteMs:     ms,
		blackMs:     ms,
		incrementMs: tc.Increment.Milliseconds(),
		active:      White,
	}
}

func (c *Clock) Enabled() bool { return c.enabled }

// Started reports whether any move has been applied yet. Neither side
// loses time before the first move.
func (c *Clock) Started() bool { return c.started }

// Tick charges the active side for the wall-clock time elapsed since
// the previous tick. It reports a flag-fall at most once; after the
// flag has fallen (or before the first move) ticks are no-ops.
func (c *Clock) Tick(now time.Time) (flag bool, loser Color) {
	if !c.enabled || !c.started || c.flagged {
		return false, ""
	}
	elapsed := now.Sub(c.lastTick).Milliseconds()
	if elapsed <= 0 {
		return false, ""
	}
	c.lastTick = now

	rem := c.remaining(c.active) - elapsed
	if rem < 0 {
		rem = 0
	}
	c.setRemaining(c.active, rem)
	if rem == 0 {
		c.flagged = true
		return true, c.active
	}
	return false, ""
}

// ApplyIncrement credits the mover their Fischer increment immediately
// after an accepted move and flips the active side. The first applied
// move also starts the countdown.
func (c *Clock) ApplyIncrement(mover Color, now time.Time) {
	if c.enabled && !c.flagged {
		c.started = true
		c.setRemaining(mover, c.remaining(mover)+c.incrementMs)
		c.lastTick = now
	}
	c.active = mover.Other()
}

func (c *Clock) Snapshot() ClockSnapshot {
	return ClockSnapshot{
		WhiteMs: c.whiteMs,
		BlackMs: c.blackMs,
		Active:  c.active,
	}
}

func (c *Clock) remaining(col Color) int64 {
	if col == White {
		return c.whiteMs
	}
	return c.blackMs
}

func (c *Clock) setRemaining(col Color, v int64) {
	if col == White {
		c.whiteMs = v
	} else {
		c.blackMs = v
	}
}
