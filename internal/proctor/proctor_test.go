package proctor

import (
	"testing"
	"time"
)

func TestWarningsFireOnce(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var warn5, warn1, expired int
	m := New(start, 20*time.Minute, 3, Hooks{
		OnWarning5m: func() { warn5++ },
		OnWarning1m: func() { warn1++ },
		OnExpire:    func() { expired++ },
	})

	// Repeated ticks at exactly the 5-minute mark.
	at5m := start.Add(15 * time.Minute)
	for i := 0; i < 4; i++ {
		m.Tick(at5m)
	}
	if warn5 != 1 {
		t.Fatalf("5-minute warning fired %d times, want 1", warn5)
	}
	if got := m.State(); got != StateWarning5m {
		t.Fatalf("state = %q, want %q", got, StateWarning5m)
	}

	at1m := start.Add(19 * time.Minute)
	m.Tick(at1m)
	m.Tick(at1m)
	if warn1 != 1 {
		t.Fatalf("1-minute warning fired %d times, want 1", warn1)
	}

	end := start.Add(20 * time.Minute)
	m.Tick(end)
	m.Tick(end.Add(time.Second))
	if expired != 1 {
		t.Fatalf("expiry fired %d times, want 1", expired)
	}
	if got := m.State(); got != StateExpired {
		t.Fatalf("state = %q, want %q", got, StateExpired)
	}
	if warn5 != 1 || warn1 != 1 {
		t.Fatalf("warnings re-fired after expiry: 5m=%d 1m=%d", warn5, warn1)
	}
}

func TestWarningsLatchAgainstBackwardClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var warn1 int
	m := New(start, 10*time.Minute, 3, Hooks{
		OnWarning1m: func() { warn1++ },
	})

	m.Tick(start.Add(9*time.Minute + 30*time.Second))
	// Clock observed earlier than the previous tick.
	m.Tick(start.Add(8 * time.Minute))
	m.Tick(start.Add(9*time.Minute + 30*time.Second))
	if warn1 != 1 {
		t.Fatalf("1-minute warning fired %d times, want 1", warn1)
	}
}

func TestSkipStraightToOneMinute(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var warn5, warn1 int
	m := New(start, 10*time.Minute, 3, Hooks{
		OnWarning5m: func() { warn5++ },
		OnWarning1m: func() { warn1++ },
	})

	// First tick is already inside the final minute: only the
	// 1-minute warning fires, the 5-minute one is skipped.
	m.Tick(start.Add(9*time.Minute + 30*time.Second))
	if warn1 != 1 || warn5 != 0 {
		t.Fatalf("warnings after late first tick: 5m=%d 1m=%d, want 0/1", warn5, warn1)
	}
}

func TestLeaveReturnCounting(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var leaves, limit int
	var durations []time.Duration
	m := New(start, 20*time.Minute, 3, Hooks{
		OnTabLeave:      func() { leaves++ },
		OnTabReturn:     func(d time.Duration) { durations = append(durations, d) },
		OnLimitExceeded: func() { limit++ },
	})

	// Three zero-duration leave/return pairs hit the limit.
	at := start
	for i := 0; i < 3; i++ {
		m.Leave(at)
		m.Return(at)
	}
	if got := m.LeaveCount(); got != 3 {
		t.Fatalf("LeaveCount = %d, want 3", got)
	}
	if limit != 1 {
		t.Fatalf("limit callback fired %d times, want 1", limit)
	}
	if !m.OverLimit() {
		t.Fatal("OverLimit = false after reaching the limit")
	}

	// A fourth pair still counts but must not re-fire the callback.
	m.Leave(at)
	m.Return(at.Add(2 * time.Second))
	if got := m.LeaveCount(); got != 4 {
		t.Fatalf("LeaveCount = %d, want 4", got)
	}
	if limit != 1 {
		t.Fatalf("limit callback fired %d times after fourth pair, want 1", limit)
	}

	if leaves != 4 {
		t.Fatalf("leave callback fired %d times, want 4", leaves)
	}
	if len(durations) != 4 {
		t.Fatalf("return callback fired %d times, want 4", len(durations))
	}
	if durations[3] != 2*time.Second {
		t.Fatalf("fourth leave duration = %v, want 2s", durations[3])
	}
}

func TestDuplicateLeaveKeepsOriginalTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var durations []time.Duration
	m := New(start, 20*time.Minute, 3, Hooks{
		OnTabReturn: func(d time.Duration) { durations = append(durations, d) },
	})

	m.Leave(start)
	m.Leave(start.Add(5 * time.Second)) // duplicate, ignored
	m.Return(start.Add(10 * time.Second))
	if len(durations) != 1 {
		t.Fatalf("return callback fired %d times, want 1", len(durations))
	}
	if durations[0] != 10*time.Second {
		t.Fatalf("leave duration = %v, want 10s", durations[0])
	}
	if got := m.LeaveCount(); got != 1 {
		t.Fatalf("LeaveCount = %d, want 1", got)
	}
}

func TestReturnWithoutLeaveIgnored(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var returns int
	m := New(start, 20*time.Minute, 3, Hooks{
		OnTabReturn: func(time.Duration) { returns++ },
	})

	m.Return(start.Add(time.Second))
	if returns != 0 {
		t.Fatalf("return callback fired %d times without a leave, want 0", returns)
	}
	if got := m.LeaveCount(); got != 0 {
		t.Fatalf("LeaveCount = %d, want 0", got)
	}
}

func TestNegativeLeaveDurationClamped(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var durations []time.Duration
	m := New(start, 20*time.Minute, 3, Hooks{
		OnTabReturn: func(d time.Duration) { durations = append(durations, d) },
	})

	m.Leave(start.Add(10 * time.Second))
	m.Return(start) // clock skew: return observed before leave
	if len(durations) != 1 {
		t.Fatalf("return callback fired %d times, want 1", len(durations))
	}
	if durations[0] != 0 {
		t.Fatalf("leave duration = %v, want 0", durations[0])
	}
}

func TestHookMayEnqueue(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var expired int
	var m *Monitor
	m = New(start, 10*time.Minute, 3, Hooks{
		OnWarning1m: func() {
			// Re-entrant enqueue from inside a hook must not deadlock.
			m.Tick(start.Add(10 * time.Minute))
		},
		OnExpire: func() { expired++ },
	})

	m.Tick(start.Add(9*time.Minute + 30*time.Second))
	if expired != 1 {
		t.Fatalf("expiry fired %d times via re-entrant tick, want 1", expired)
	}
}

func TestRemaining(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := New(start, 20*time.Minute, 3, Hooks{})

	if got := m.Remaining(start.Add(5 * time.Minute)); got != 15*time.Minute {
		t.Fatalf("Remaining = %v, want 15m", got)
	}
	if got := m.Remaining(start.Add(time.Hour)); got != 0 {
		t.Fatalf("Remaining past deadline = %v, want 0", got)
	}
}
