package session

import (
	"testing"
	"time"
)

func mustTC(t *testing.T, s string) TimeControl {
	t.Helper()
	tc, err := ParseTimeControl(s)
	if err != nil {
		t.Fatalf("ParseTimeControl(%q): %v", s, err)
	}
	return tc
}

func TestParseTimeControl(t *testing.T) {
	tc := mustTC(t, "3+2")
	if tc.Initial != 3*time.Minute || tc.Increment != 2*time.Second || !tc.Enabled {
		t.Fatalf("unexpected parse: %+v", tc)
	}
	if tc.String() != "3+2" {
		t.Fatalf("label = %q", tc.String())
	}

	tc = mustTC(t, "10")
	if tc.Initial != 10*time.Minute || tc.Increment != 0 {
		t.Fatalf("bare minutes parse: %+v", tc)
	}

	tc = mustTC(t, "none")
	if tc.Enabled {
		t.Fatalf("none should disable the clock")
	}

	for _, bad := range []string{"0+5", "-3+2", "3+x", "abc"} {
		if _, err := ParseTimeControl(bad); err == nil {
			t.Fatalf("ParseTimeControl(%q) should fail", bad)
		}
	}
}

func TestClockIdleBeforeFirstMove(t *testing.T) {
	c := NewClock(mustTC(t, "3+2"))
	now := time.Now()

	// No move yet, ticks must not charge anyone.
	if flag, _ := c.Tick(now.Add(10 * time.Second)); flag {
		t.Fatalf("flag before first move")
	}
	snap := c.Snapshot()
	if snap.WhiteMs != 180000 || snap.BlackMs != 180000 {
		t.Fatalf("clock moved while idle: %+v", snap)
	}
}

func TestClockIncrementOnEveryMove(t *testing.T) {
	c := NewClock(mustTC(t, "3+2"))
	now := time.Now()

	// First move credits the increment too.
	c.ApplyIncrement(White, now)
	snap := c.Snapshot()
	if snap.WhiteMs != 182000 {
		t.Fatalf("white after first move = %d, want 182000", snap.WhiteMs)
	}
	if snap.Active != Black {
		t.Fatalf("active = %s, want black", snap.Active)
	}

	// One second of thought, then black moves and earns the increment.
	c.Tick(now.Add(time.Second))
	c.ApplyIncrement(Black, now.Add(time.Second))
	snap = c.Snapshot()
	if snap.BlackMs != 181000 {
		t.Fatalf("black = %d, want 181000", snap.BlackMs)
	}
	if snap.Active != White {
		t.Fatalf("active = %s, want white", snap.Active)
	}
}

func TestClockTickChargesActiveSide(t *testing.T) {
	c := NewClock(mustTC(t, "3+2"))
	now := time.Now()
	c.ApplyIncrement(White, now)

	if flag, _ := c.Tick(now.Add(5 * time.Second)); flag {
		t.Fatalf("unexpected flag")
	}
	snap := c.Snapshot()
	if snap.BlackMs != 175000 {
		t.Fatalf("black = %d, want 175000", snap.BlackMs)
	}
	if snap.WhiteMs != 182000 {
		t.Fatalf("white charged while inactive: %d", snap.WhiteMs)
	}
}

func TestClockFlagFallOnce(t *testing.T) {
	c := NewClock(mustTC(t, "1+0"))
	now := time.Now()
	c.ApplyIncrement(White, now)

	flag, loser := c.Tick(now.Add(2 * time.Minute))
	if !flag || loser != Black {
		t.Fatalf("flag=%v loser=%s, want flag for black", flag, loser)
	}
	snap := c.Snapshot()
	if snap.BlackMs != 0 {
		t.Fatalf("black = %d, want clamp to 0", snap.BlackMs)
	}

	// A second tick past zero must not flag again.
	if flag, _ := c.Tick(now.Add(3 * time.Minute)); flag {
		t.Fatalf("flag reported twice")
	}
}

func TestClockDisabled(t *testing.T) {
	c := NewClock(mustTC(t, "none"))
	now := time.Now()
	c.ApplyIncrement(White, now)

	if flag, _ := c.Tick(now.Add(time.Hour)); flag {
		t.Fatalf("untimed game flagged")
	}
	if c.Started() {
		t.Fatalf("untimed clock should never start")
	}
	if c.Snapshot().Active != Black {
		t.Fatalf("turn should still flip when untimed")
	}
}
