// Package sensor defines the contracts between the tracking engine and
// the platform layer: location and heart-rate streams, haptic cues, and
// the wake-lock. The engine owns subscriptions, never raw callbacks, so
// stopping a session cannot leak a registration.
package sensor

import (
	"errors"
	"sync"
	"time"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
)

// ErrPermissionDenied is returned by Watch/StartSession when the host
// platform has not granted access to the underlying sensor.
var ErrPermissionDenied = errors.New("sensor: permission denied")

// AccuracyHint tells a location provider how it is being used. Providers
// that can only triangulate should report HintCoarse so the engine can
// apply a looser accuracy ceiling.
type AccuracyHint string

const (
	HintHigh   AccuracyHint = "high"
	HintCoarse AccuracyHint = "coarse"
)

// Fix is one raw location reading as delivered by a provider.
type Fix struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
	AccuracyM  float64   `json:"accuracy_m"`
	AltitudeM  *float64  `json:"altitude_m,omitempty"`
	SpeedMps   *float64  `json:"speed_mps,omitempty"`
	BearingDeg *float64  `json:"bearing_deg,omitempty"`
}

// Sample is one heart-rate reading.
type Sample struct {
	BPM        int       `json:"bpm"`
	RecordedAt time.Time `json:"recorded_at"`
}

// LocationSource is implemented by the platform location provider.
type LocationSource interface {
	Watch(hint AccuracyHint) (*LocationSubscription, error)
}

// HeartRateSource is implemented by an optional heart-rate provider.
type HeartRateSource interface {
	StartSession(kind session.ActivityKind) (*HeartRateSubscription, error)
}

// HapticSignal delivers fire-and-forget feedback pulses.
type HapticSignal interface {
	Pulse(intensity float64)
}

// WakeLock keeps the device awake while a session is tracked.
type WakeLock interface {
	Acquire() (*WakeLockHandle, error)
}

// LocationSubscription is an owned handle on a fix stream. Unwatch is
// idempotent and closes the stream.
type LocationSubscription struct {
	fixes chan Fix

	mu     sync.Mutex
	closed bool
	stop   func()
}

func NewLocationSubscription(buffer int, stop func()) *LocationSubscription {
	return &LocationSubscription{fixes: make(chan Fix, buffer), stop: stop}
}

func (s *LocationSubscription) Fixes() <-chan Fix { return s.fixes }

// Publish delivers a fix to the subscriber, dropping it when the buffer
// is full or the subscription is closed.
func (s *LocationSubscription) Publish(f Fix) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.fixes <- f:
		return true
	default:
		return false
	}
}

func (s *LocationSubscription) Unwatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
	}
	close(s.fixes)
}

// HeartRateSubscription is the owned handle on a heart-rate stream.
type HeartRateSubscription struct {
	samples chan Sample

	mu     sync.Mutex
	closed bool
	stop   func()
}

func NewHeartRateSubscription(buffer int, stop func()) *HeartRateSubscription {
	return &HeartRateSubscription{samples: make(chan Sample, buffer), stop: stop}
}

func (s *HeartRateSubscription) Samples() <-chan Sample { return s.samples }

func (s *HeartRateSubscription) Publish(sm Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.samples <- sm:
		return true
	default:
		return false
	}
}

func (s *HeartRateSubscription) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
	}
	close(s.samples)
}

// WakeLockHandle releases exactly once no matter how many times Release
// is called.
type WakeLockHandle struct {
	once    sync.Once
	release func()
}

func NewWakeLockHandle(release func()) *WakeLockHandle {
	return &WakeLockHandle{release: release}
}

func (h *WakeLockHandle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}
