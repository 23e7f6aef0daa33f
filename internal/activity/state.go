package activity

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	Stopped State = iota
	Active
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Active:
		return "active"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

const DefaultCooldown = 5 * time.Minute

type Transition struct {
	From   State
	To     State
	At     time.Time
	Reason string
	App    string
}

type Option func(*Machine)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(m *Machine) { m.now = fn }
}

// WithObserver registers a callback invoked after every transition.
// Observers run on the mutating goroutine and must not call back into the machine.
func WithObserver(fn func(Transition)) Option {
	return func(m *Machine) { m.observers = append(m.observers, fn) }
}

// Machine owns the process-wide agent state. All writes go through mu;
// readers use the atomic snapshot and never block on a writer.
type Machine struct {
	mu        sync.Mutex
	snapshot  atomic.Int32
	pausedAt  time.Time
	pausedBy  string
	cooldown  time.Duration
	blacklist map[string]struct{}
	now       func() time.Time
	logger    *slog.Logger
	observers []func(Transition)
}

func NewMachine(blacklist []string, cooldown time.Duration, logger *slog.Logger, opts ...Option) *Machine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	m := &Machine{
		cooldown:  cooldown,
		blacklist: make(map[string]struct{}, len(blacklist)),
		now:       time.Now,
		logger:    logger,
	}
	for _, name := range blacklist {
		if n := NormalizeApp(name); n != "" {
			m.blacklist[n] = struct{}{}
		}
	}
	for _, o := range opts {
		o(m)
	}
	m.snapshot.Store(int32(Stopped))
	return m
}

// NormalizeApp lower-cases an executable name and drops a trailing ".exe"
// so that "Steam.exe" and the X11 class "steam" match the same entry.
func NormalizeApp(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(n, ".exe")
}

func (m *Machine) State() State {
	return State(m.snapshot.Load())
}

func (m *Machine) Blacklisted(app string) bool {
	_, ok := m.blacklist[NormalizeApp(app)]
	return ok
}

// Start moves Stopped to Active. It is a no-op in any other state.
func (m *Machine) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Stopped {
		return false
	}
	m.setLocked(Active, "start", "")
	return true
}

// Stop moves any state to Stopped and discards a pending cooldown.
func (m *Machine) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() == Stopped {
		return false
	}
	m.pausedAt = time.Time{}
	m.pausedBy = ""
	m.setLocked(Stopped, "stop", "")
	return true
}

// Observe evaluates the foreground application for one tick and returns
// the resulting state.
func (m *Machine) Observe(app string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.State() {
	case Active:
		if m.Blacklisted(app) {
			m.pausedAt = m.now()
			m.pausedBy = app
			m.setLocked(Paused, "blacklisted foreground app", app)
		}
	case Paused:
		elapsed := m.now().Sub(m.pausedAt)
		if elapsed >= m.cooldown && !m.Blacklisted(app) {
			m.pausedAt = time.Time{}
			m.pausedBy = ""
			m.setLocked(Active, "cooldown elapsed", app)
		}
	}
	return m.State()
}

// PausedSince reports when the current pause began.
func (m *Machine) PausedSince() (time.Time, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != Paused {
		return time.Time{}, "", false
	}
	return m.pausedAt, m.pausedBy, true
}

func (m *Machine) setLocked(to State, reason, app string) {
	from := m.State()
	m.snapshot.Store(int32(to))
	tr := Transition{From: from, To: to, At: m.now(), Reason: reason, App: app}
	if m.logger != nil {
		m.logger.Info("agent state changed", "from", from.String(), "to", to.String(), "reason", reason, "app", app)
	}
	for _, fn := range m.observers {
		fn(tr)
	}
}
