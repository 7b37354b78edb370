// Package proctor enforces the per-part countdown and tab-visibility
// integrity rules for a single exam attempt. All transitions run
// through one dispatcher consuming a typed event queue, so the one-shot
// guarantees (each warning, expiry, and the leave-limit breach fire at
// most once per session) live in one place instead of scattered flags.
package proctor

import (
	"log/slog"
	"sync"
	"time"
)

// EventType classifies a proctoring event.
type EventType string

const (
	// EventTick re-evaluates the countdown against the clock.
	EventTick EventType = "tick"
	// EventLeave records loss of page visibility.
	EventLeave EventType = "leave"
	// EventReturn records regained page visibility.
	EventReturn EventType = "return"
)

// Event is a single proctoring occurrence with its observation time.
type Event struct {
	Type EventType
	At   time.Time
}

// State is the countdown phase of the monitor.
type State string

const (
	StateRunning   State = "running"
	StateWarning5m State = "warning_5m"
	StateWarning1m State = "warning_1m"
	StateExpired   State = "expired"
)

const (
	warn5mThreshold = 5 * time.Minute
	warn1mThreshold = 1 * time.Minute
)

// Hooks are the callbacks invoked by the dispatcher. Any nil hook is
// skipped. Hooks run outside the monitor's lock, in event order, so a
// hook may enqueue further events without deadlocking.
type Hooks struct {
	OnWarning5m     func()
	OnWarning1m     func()
	OnExpire        func()
	OnTabLeave      func()
	OnTabReturn     func(leaveDuration time.Duration)
	OnLimitExceeded func()
}

// Monitor is the per-part proctoring state machine. It is safe for use
// from timer and handler goroutines; events are serialized internally.
type Monitor struct {
	mu          sync.Mutex
	deadline    time.Time
	state       State
	warned5m    bool
	warned1m    bool
	expired     bool
	leaveLimit  int
	leaveCount  int
	leftAt      time.Time
	left        bool
	limitFired  bool
	hooks       Hooks
	queue       []Event
	dispatching bool
}

// New creates a monitor for a part starting at start with the given
// duration. leaveLimit is the number of leave/return pairs at which the
// session becomes a suspected integrity violation.
func New(start time.Time, duration time.Duration, leaveLimit int, hooks Hooks) *Monitor {
	return &Monitor{
		deadline:   start.Add(duration),
		state:      StateRunning,
		leaveLimit: leaveLimit,
		hooks:      hooks,
	}
}

// Enqueue appends an event and, unless a dispatch is already running,
// drains the queue. Events enqueued from inside a hook are picked up by
// the running dispatcher, keeping handling strictly ordered.
func (m *Monitor) Enqueue(ev Event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		fired := m.transition(next)
		m.mu.Unlock()
		for _, f := range fired {
			f()
		}
		m.mu.Lock()
	}
	m.dispatching = false
	m.mu.Unlock()
}

// Tick evaluates the countdown at the given time.
func (m *Monitor) Tick(at time.Time) { m.Enqueue(Event{Type: EventTick, At: at}) }

// Leave records loss of visibility at the given time.
func (m *Monitor) Leave(at time.Time) { m.Enqueue(Event{Type: EventLeave, At: at}) }

// Return records regained visibility at the given time.
func (m *Monitor) Return(at time.Time) { m.Enqueue(Event{Type: EventReturn, At: at}) }

// transition applies one event with m.mu held and returns the hooks to
// invoke once the lock is released.
func (m *Monitor) transition(ev Event) []func() {
	switch ev.Type {
	case EventTick:
		return m.onTick(ev.At)
	case EventLeave:
		return m.onLeave(ev.At)
	case EventReturn:
		return m.onReturn(ev.At)
	}
	return nil
}

func (m *Monitor) onTick(at time.Time) []func() {
	remaining := m.deadline.Sub(at)

	// Thresholds latch: once a warning has fired it never re-fires,
	// even if the clock is later observed earlier.
	if remaining <= 0 {
		if m.expired {
			return nil
		}
		m.expired = true
		m.warned1m = true
		m.warned5m = true
		m.state = StateExpired
		slog.Info("part time expired")
		return fire(m.hooks.OnExpire)
	}
	if remaining <= warn1mThreshold && !m.warned1m {
		m.warned1m = true
		m.warned5m = true
		m.state = StateWarning1m
		return fire(m.hooks.OnWarning1m)
	}
	if remaining <= warn5mThreshold && !m.warned5m {
		m.warned5m = true
		m.state = StateWarning5m
		return fire(m.hooks.OnWarning5m)
	}
	return nil
}

func (m *Monitor) onLeave(at time.Time) []func() {
	if m.left {
		// Duplicate leave without an intervening return; keep the
		// original leave time so the duration is not undercounted.
		return nil
	}
	m.left = true
	m.leftAt = at
	return fire(m.hooks.OnTabLeave)
}

func (m *Monitor) onReturn(at time.Time) []func() {
	if !m.left {
		return nil
	}
	m.left = false
	dur := at.Sub(m.leftAt)
	if dur < 0 {
		dur = 0
	}
	// Each leave/return pair counts once, sub-second pairs included.
	m.leaveCount++
	slog.Info("tab leave recorded", "count", m.leaveCount, "duration", dur)

	var fired []func()
	if m.hooks.OnTabReturn != nil {
		h := m.hooks.OnTabReturn
		fired = append(fired, func() { h(dur) })
	}
	if m.leaveCount >= m.leaveLimit && !m.limitFired {
		m.limitFired = true
		slog.Warn("tab leave limit exceeded", "count", m.leaveCount, "limit", m.leaveLimit)
		fired = append(fired, fire(m.hooks.OnLimitExceeded)...)
	}
	return fired
}

// State returns the countdown phase.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining returns the time left on the countdown at the given time,
// never negative.
func (m *Monitor) Remaining(at time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.deadline.Sub(at)
	if r < 0 {
		return 0
	}
	return r
}

// LeaveCount returns the number of completed leave/return pairs. The
// counter only ever grows; a new session gets a new monitor.
func (m *Monitor) LeaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveCount
}

// OverLimit reports whether the leave limit has been reached.
func (m *Monitor) OverLimit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitFired
}

func fire(f func()) []func() {
	if f == nil {
		return nil
	}
	return []func(){f}
}
