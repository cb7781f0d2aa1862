package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/sensor"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
)

// Deps bundles the collaborators a tracker needs. HeartRate is optional;
// the rest get no-op or default implementations when left nil.
type Deps struct {
	Location  sensor.LocationSource
	HeartRate sensor.HeartRateSource
	Haptic    sensor.HapticSignal
	WakeLock  sensor.WakeLock
	Store     Store
	Log       *zap.Logger
	Tuning    Tuning
	Hint      sensor.AccuracyHint
	Now       func() time.Time

	// Observer, when set, is subscribed to every session at start. The
	// live-stream hub hangs off this.
	Observer func(session.Snapshot)

	// DisableTicker keeps the 1 Hz loop from starting; tests drive Tick
	// directly.
	DisableTicker bool
}

func (d Deps) withDefaults() Deps {
	if d.Haptic == nil {
		d.Haptic = sensor.NopHaptic{}
	}
	if d.WakeLock == nil {
		d.WakeLock = sensor.NopWakeLock{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Hint == "" {
		d.Hint = sensor.HintHigh
	}
	d.Tuning = d.Tuning.withDefaults()
	return d
}

// Manager enforces the single-session invariant: one device runs at most
// one active or paused session, which exclusively owns the wake-lock and
// the sensor streams.
type Manager struct {
	mu      sync.Mutex
	deps    Deps
	current *Tracker
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps.withDefaults()}
}

// Start creates a session and opens its resources. It returns before the
// first fix arrives; the session begins in acquiring_signal.
func (m *Manager) Start(cfg session.Config, ownerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		switch m.current.status() {
		case session.StatusActive, session.StatusPaused, session.StatusAcquiringSignal:
			return "", ErrAlreadyTracking
		}
	}

	if cfg.ActivityKind == "" {
		cfg.ActivityKind = session.KindRun
	}
	if cfg.DistanceUnit == "" {
		cfg.DistanceUnit = session.UnitKilometers
	}
	if cfg.WeightKg <= 0 {
		cfg.WeightKg = 70
	}

	t, err := startTracker(m.deps, cfg, ownerID)
	if err != nil {
		return "", err
	}
	m.current = t
	return t.SessionID(), nil
}

// Tracker returns the current tracker, completed or not, or nil.
func (m *Manager) Tracker() *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Pause forwards to the current tracker.
func (m *Manager) Pause() error {
	t := m.Tracker()
	if t == nil {
		return ErrNotTracking
	}
	return t.Pause()
}

// Resume forwards to the current tracker.
func (m *Manager) Resume() error {
	t := m.Tracker()
	if t == nil {
		return ErrNotTracking
	}
	return t.Resume()
}

// Stop finalizes the current session and returns the immutable result.
func (m *Manager) Stop(ctx context.Context) (*session.Session, error) {
	t := m.Tracker()
	if t == nil {
		return nil, ErrNotTracking
	}
	return t.Stop(ctx)
}

// CurrentMetrics is the pull side of the query API.
func (m *Manager) CurrentMetrics() (session.Snapshot, bool) {
	t := m.Tracker()
	if t == nil {
		return session.Snapshot{}, false
	}
	return t.Snapshot(), true
}

// Subscribe attaches an observer to the current tracker. The second
// return is false when no session exists.
func (m *Manager) Subscribe(fn func(session.Snapshot)) (func(), bool) {
	t := m.Tracker()
	if t == nil {
		return nil, false
	}
	return t.Subscribe(fn), true
}

func (t *Tracker) status() session.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess.Status
}
