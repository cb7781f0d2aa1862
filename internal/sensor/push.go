package sensor

import (
	"sync"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
)

// PushLocationSource adapts an external feed (HTTP ingest, replay files,
// tests) into a LocationSource. Fixes pushed while nothing is watching
// are dropped.
type PushLocationSource struct {
	mu      sync.Mutex
	sub     *LocationSubscription
	denied  bool
	Dropped int
}

func NewPushLocationSource() *PushLocationSource { return &PushLocationSource{} }

// DenyPermission makes subsequent Watch calls fail with ErrPermissionDenied.
func (p *PushLocationSource) DenyPermission(denied bool) {
	p.mu.Lock()
	p.denied = denied
	p.mu.Unlock()
}

func (p *PushLocationSource) Watch(_ AccuracyHint) (*LocationSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied {
		return nil, ErrPermissionDenied
	}
	sub := NewLocationSubscription(64, func() {
		p.mu.Lock()
		p.sub = nil
		p.mu.Unlock()
	})
	p.sub = sub
	return sub, nil
}

// Push delivers a fix to the current watcher, if any.
func (p *PushLocationSource) Push(f Fix) bool {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()
	if sub == nil || !sub.Publish(f) {
		p.mu.Lock()
		p.Dropped++
		p.mu.Unlock()
		return false
	}
	return true
}

// PushHeartRateSource is the heart-rate counterpart of PushLocationSource.
type PushHeartRateSource struct {
	mu     sync.Mutex
	sub    *HeartRateSubscription
	denied bool
}

func NewPushHeartRateSource() *PushHeartRateSource { return &PushHeartRateSource{} }

func (p *PushHeartRateSource) DenyPermission(denied bool) {
	p.mu.Lock()
	p.denied = denied
	p.mu.Unlock()
}

func (p *PushHeartRateSource) StartSession(_ session.ActivityKind) (*HeartRateSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied {
		return nil, ErrPermissionDenied
	}
	sub := NewHeartRateSubscription(16, func() {
		p.mu.Lock()
		p.sub = nil
		p.mu.Unlock()
	})
	p.sub = sub
	return sub, nil
}

func (p *PushHeartRateSource) Push(s Sample) bool {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()
	if sub == nil {
		return false
	}
	return sub.Publish(s)
}

// NopHaptic is the default haptic sink when the platform provides none.
type NopHaptic struct{}

func (NopHaptic) Pulse(float64) {}

// NopWakeLock hands out handles that release nothing.
type NopWakeLock struct{}

func (NopWakeLock) Acquire() (*WakeLockHandle, error) {
	return NewWakeLockHandle(nil), nil
}
