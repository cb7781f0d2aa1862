package engine

import (
	"time"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/sensor"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
)

// Tuning groups the engine thresholds. Zero values fall back to the
// defaults below so callers only override what they care about.
type Tuning struct {
	// Accuracy ceilings per provider hint. Fixes above the ceiling are
	// dropped before they can corrupt the track.
	AccuracyCeilingHighM   float64
	AccuracyCeilingCoarseM float64

	// Implied-speed sanity ceilings per activity kind. A delta that
	// implies a faster speed is treated as a stray fix.
	MaxSpeedRunMps  float64
	MaxSpeedRideMps float64

	// Auto-pause trailing window and hysteresis thresholds.
	AutoPauseWindow    int
	AutoPauseBelowMps  float64
	AutoResumeAboveMps float64

	// Altitude samples are smoothed over a trailing window before delta
	// gating; changes below the noise floor are ignored.
	ElevationWindow int
	ElevationNoiseM float64

	TickInterval       time.Duration
	CheckpointInterval time.Duration
	SignalLostAfter    time.Duration
}

// DefaultTuning returns the production thresholds.
func DefaultTuning() Tuning {
	return Tuning{
		AccuracyCeilingHighM:   50,
		AccuracyCeilingCoarseM: 150,
		MaxSpeedRunMps:         12.5,
		MaxSpeedRideMps:        28,
		AutoPauseWindow:        10,
		AutoPauseBelowMps:      0.5,
		AutoResumeAboveMps:     1.0,
		ElevationWindow:        5,
		ElevationNoiseM:        1.0,
		TickInterval:           time.Second,
		CheckpointInterval:     10 * time.Second,
		SignalLostAfter:        15 * time.Second,
	}
}

func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.AccuracyCeilingHighM <= 0 {
		t.AccuracyCeilingHighM = d.AccuracyCeilingHighM
	}
	if t.AccuracyCeilingCoarseM <= 0 {
		t.AccuracyCeilingCoarseM = d.AccuracyCeilingCoarseM
	}
	if t.MaxSpeedRunMps <= 0 {
		t.MaxSpeedRunMps = d.MaxSpeedRunMps
	}
	if t.MaxSpeedRideMps <= 0 {
		t.MaxSpeedRideMps = d.MaxSpeedRideMps
	}
	if t.AutoPauseWindow <= 0 {
		t.AutoPauseWindow = d.AutoPauseWindow
	}
	if t.AutoPauseBelowMps <= 0 {
		t.AutoPauseBelowMps = d.AutoPauseBelowMps
	}
	if t.AutoResumeAboveMps <= 0 {
		t.AutoResumeAboveMps = d.AutoResumeAboveMps
	}
	if t.ElevationWindow <= 0 {
		t.ElevationWindow = d.ElevationWindow
	}
	if t.ElevationNoiseM <= 0 {
		t.ElevationNoiseM = d.ElevationNoiseM
	}
	if t.TickInterval <= 0 {
		t.TickInterval = d.TickInterval
	}
	if t.CheckpointInterval <= 0 {
		t.CheckpointInterval = d.CheckpointInterval
	}
	if t.SignalLostAfter <= 0 {
		t.SignalLostAfter = d.SignalLostAfter
	}
	return t
}

func (t Tuning) accuracyCeiling(hint sensor.AccuracyHint) float64 {
	if hint == sensor.HintCoarse {
		return t.AccuracyCeilingCoarseM
	}
	return t.AccuracyCeilingHighM
}

func (t Tuning) maxSpeed(kind session.ActivityKind) float64 {
	if kind == session.KindRide {
		return t.MaxSpeedRideMps
	}
	return t.MaxSpeedRunMps
}
