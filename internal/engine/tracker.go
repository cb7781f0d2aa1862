package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/sensor"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/shared/geo"
)

// Store is the slice of the persistence gateway the engine depends on.
// Checkpoint failures are swallowed here; finalize failures surface
// through Stop.
type Store interface {
	Upsert(ctx context.Context, s *session.Session) error
	Finalize(ctx context.Context, s *session.Session) error
}

const maxHeartRateGapS = 10.0

// Tracker is the state machine driving one session. All session mutation
// is serialized behind mu; the location stream, the heart-rate stream and
// the ticker each feed it from their own goroutine.
type Tracker struct {
	mu sync.Mutex

	sess   *session.Session
	tuning Tuning
	hint   sensor.AccuracyHint
	store  Store
	haptic sensor.HapticSignal
	log    *zap.Logger
	now    func() time.Time

	locSub *sensor.LocationSubscription
	hrSub  *sensor.HeartRateSubscription
	wake   *sensor.WakeLockHandle
	done   chan struct{}

	// wall-clock anchors; elapsed time is always recomputed from these
	// rather than accumulated per tick
	startedAt        time.Time
	accumulatedPause time.Duration
	pauseStartedAt   time.Time
	lastTickAt       time.Time

	detector   *autoPauseDetector
	autoPaused bool

	currentSpeed     float64
	lastFixAt        time.Time
	lastHRAt         time.Time
	signalLost       bool
	movingAtSplit    float64
	rejectedAccuracy int
	rejectedJump     int

	// trailing altitude window; deltas are gated on the smoothed value
	// so barometric jitter never accrues as gain/loss
	altWindow    []float64
	smoothedAlt  float64
	hasSmoothAlt bool

	subs      map[int]func(session.Snapshot)
	nextSubID int
	dirty     bool
	notifyCh  chan notifyJob

	lastCheckpoint time.Time

	stopped      bool
	finalized    *session.Session
	finalizeErr  error
	finalizeDone chan struct{}
}

// notifyJob carries one snapshot to the serialized notifier goroutine.
type notifyJob struct {
	subs []func(session.Snapshot)
	snap session.Snapshot
}

func startTracker(deps Deps, cfg session.Config, ownerID string) (*Tracker, error) {
	now := deps.Now()

	t := &Tracker{
		tuning:       deps.Tuning,
		hint:         deps.Hint,
		store:        deps.Store,
		haptic:       deps.Haptic,
		log:          deps.Log,
		now:          deps.Now,
		done:         make(chan struct{}),
		subs:         map[int]func(session.Snapshot){},
		notifyCh:     make(chan notifyJob, 1),
		finalizeDone: make(chan struct{}),

		startedAt:      now,
		lastTickAt:     now,
		lastFixAt:      now,
		lastCheckpoint: now,
		detector: newAutoPauseDetector(
			deps.Tuning.AutoPauseWindow,
			deps.Tuning.AutoPauseBelowMps,
			deps.Tuning.AutoResumeAboveMps,
		),
	}

	if deps.Observer != nil {
		t.subs[t.nextSubID] = deps.Observer
		t.nextSubID++
	}

	t.sess = &session.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		StartedAt: now,
		Status:    session.StatusAcquiringSignal,
		Config:    cfg,
	}

	locSub, err := deps.Location.Watch(deps.Hint)
	if err != nil {
		return nil, fmt.Errorf("open location stream: %w", err)
	}
	t.locSub = locSub

	if deps.HeartRate != nil {
		hrSub, err := deps.HeartRate.StartSession(cfg.ActivityKind)
		if err != nil {
			locSub.Unwatch()
			return nil, fmt.Errorf("open heart-rate stream: %w", err)
		}
		t.hrSub = hrSub
	}

	wake, err := deps.WakeLock.Acquire()
	if err != nil {
		locSub.Unwatch()
		if t.hrSub != nil {
			t.hrSub.Stop()
		}
		return nil, fmt.Errorf("acquire wake lock: %w", err)
	}
	t.wake = wake

	go t.notifyLoop()
	go t.drainLocations(locSub)
	if t.hrSub != nil {
		go t.drainHeartRate(t.hrSub)
	}
	if !deps.DisableTicker {
		go t.tickLoop()
	}

	// idle->acquiring_signal is a state transition like any other; a crash
	// before the first interval tick must still leave a recoverable row
	go t.checkpoint(t.sess.Clone())

	t.log.Info("session started",
		zap.String("session_id", t.sess.ID),
		zap.String("owner_id", ownerID),
		zap.String("activity_kind", string(cfg.ActivityKind)))

	return t, nil
}

func (t *Tracker) drainLocations(sub *sensor.LocationSubscription) {
	for f := range sub.Fixes() {
		t.HandleLocation(f)
	}
}

func (t *Tracker) drainHeartRate(sub *sensor.HeartRateSubscription) {
	for s := range sub.Samples() {
		t.HandleHeartRate(s)
	}
}

func (t *Tracker) tickLoop() {
	ticker := time.NewTicker(t.tuning.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.Tick(t.now())
		}
	}
}

// SessionID returns the id of the tracked session.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess.ID
}

// HandleLocation ingests one raw fix. Fixes outside the accepting states,
// above the accuracy ceiling, or implying an impossible speed are dropped
// without advancing any counter.
func (t *Tracker) HandleLocation(f sensor.Fix) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.sess.Status
	if st != session.StatusAcquiringSignal && st != session.StatusActive {
		return
	}

	if f.AccuracyM > t.tuning.accuracyCeiling(t.hint) {
		t.rejectedAccuracy++
		t.dirty = true
		t.log.Debug("fix rejected: low accuracy",
			zap.String("session_id", t.sess.ID),
			zap.Float64("accuracy_m", f.AccuracyM))
		return
	}

	if f.RecordedAt.IsZero() {
		f.RecordedAt = t.now()
	}

	last := t.sess.LastPoint()
	if last != nil {
		dt := f.RecordedAt.Sub(last.RecordedAt).Seconds()
		if dt <= 0 {
			// duplicate or out-of-order timestamp; never rewind the track
			return
		}

		dist := geo.HaversineM(last.Lat, last.Lng, f.Lat, f.Lng)
		speed := dist / dt
		if speed > t.tuning.maxSpeed(t.sess.Config.ActivityKind) {
			t.rejectedJump++
			t.dirty = true
			t.log.Debug("fix rejected: implausible jump",
				zap.String("session_id", t.sess.ID),
				zap.Float64("implied_speed_mps", speed))
			return
		}

		t.sess.DistanceM += dist
		if f.SpeedMps != nil {
			speed = *f.SpeedMps
		}
		t.currentSpeed = speed
		if speed > t.sess.MaxSpeedMps {
			t.sess.MaxSpeedMps = speed
		}

		if t.sess.Config.AutoPause {
			t.autoPaused = t.detector.Observe(speed)
		}
		if !t.autoPaused {
			t.sess.Calories += geo.Calories(
				string(t.sess.Config.ActivityKind), t.sess.Config.WeightKg, speed, dt)
		}

		t.fireSplitsLocked(f.RecordedAt)
	} else if f.SpeedMps != nil {
		t.currentSpeed = *f.SpeedMps
	}

	if f.AltitudeM != nil {
		t.observeAltitudeLocked(*f.AltitudeM)
	}

	activated := st == session.StatusAcquiringSignal
	if activated {
		t.sess.Status = session.StatusActive
	}

	t.sess.Points = append(t.sess.Points, session.TrackPoint{
		Lat:        f.Lat,
		Lng:        f.Lng,
		RecordedAt: f.RecordedAt,
		AccuracyM:  f.AccuracyM,
		AltitudeM:  f.AltitudeM,
		SpeedMps:   f.SpeedMps,
		BearingDeg: f.BearingDeg,
	})
	t.lastFixAt = f.RecordedAt
	t.signalLost = false
	t.dirty = true

	if activated {
		go t.checkpoint(t.sess.Clone())
	}
}

// observeAltitudeLocked feeds one raw altitude through the trailing
// smoother. Gain/loss accrue against a deadband anchor: the anchor only
// moves once the smoothed value escapes the noise floor, so jitter never
// accumulates but a slow steady climb still counts in full.
func (t *Tracker) observeAltitudeLocked(altM float64) {
	t.altWindow = append(t.altWindow, altM)
	if len(t.altWindow) > t.tuning.ElevationWindow {
		t.altWindow = t.altWindow[1:]
	}
	smoothed := geo.SmoothElevation(t.altWindow, t.tuning.ElevationWindow)
	cur := smoothed[len(smoothed)-1]

	if !t.hasSmoothAlt {
		t.smoothedAlt = cur
		t.hasSmoothAlt = true
		return
	}
	gain, loss := geo.ElevationDelta(t.smoothedAlt, cur, t.tuning.ElevationNoiseM)
	if gain > 0 || loss > 0 {
		t.sess.ElevationGainM += gain
		t.sess.ElevationLossM += loss
		t.smoothedAlt = cur
	}
}

// fireSplitsLocked appends one split per unit-distance boundary crossed by
// the latest delta and emits a haptic cue for each.
func (t *Tracker) fireSplitsLocked(at time.Time) {
	unit := t.sess.Config.DistanceUnit.Meters()
	for len(t.sess.Splits) < int(t.sess.DistanceM/unit) {
		index := len(t.sess.Splits) + 1
		duration := t.sess.MovingTimeS - t.movingAtSplit
		t.movingAtSplit = t.sess.MovingTimeS

		split := session.Split{
			Index:      index,
			DistanceM:  float64(index) * unit,
			DurationS:  duration,
			PaceSecKm:  geo.PaceSecPerKm(unit, duration),
			SpeedMps:   geo.SpeedMps(unit, duration),
			RecordedAt: at,
		}
		t.sess.Splits = append(t.sess.Splits, split)

		t.log.Info("split fired",
			zap.String("session_id", t.sess.ID),
			zap.Int("index", index),
			zap.Float64("distance_m", split.DistanceM))
		if t.sess.Config.Coaching {
			t.haptic.Pulse(1.0)
		}
	}
}

// HandleHeartRate ingests one heart-rate sample. Samples are accepted in
// every non-terminal state so warm-up data is kept.
func (t *Tracker) HandleHeartRate(s sensor.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sess.Status == session.StatusCompleted {
		return
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = t.now()
	}

	hr := &t.sess.HeartRate
	hr.Samples = append(hr.Samples, session.HeartRateSample{BPM: s.BPM, RecordedAt: s.RecordedAt})
	n := float64(len(hr.Samples))
	hr.AvgBPM += (float64(s.BPM) - hr.AvgBPM) / n
	if s.BPM > hr.MaxBPM {
		hr.MaxBPM = s.BPM
	}

	if zone := t.sess.Config.TargetZone; zone != nil {
		status := zoneStatusFor(s.BPM, zone)
		if status == session.ZoneIn && !t.lastHRAt.IsZero() {
			dt := s.RecordedAt.Sub(t.lastHRAt).Seconds()
			if dt > 0 {
				if dt > maxHeartRateGapS {
					dt = maxHeartRateGapS
				}
				hr.TimeInZoneS += dt
			}
		}
		if t.sess.Config.Coaching && hr.ZoneStatus != "" && status != hr.ZoneStatus {
			t.haptic.Pulse(0.5)
		}
		hr.ZoneStatus = status
	}

	t.lastHRAt = s.RecordedAt
	t.dirty = true
}

func zoneStatusFor(bpm int, zone *session.Zone) session.ZoneStatus {
	switch {
	case bpm < zone.MinBPM:
		return session.ZoneBelow
	case bpm > zone.MaxBPM:
		return session.ZoneAbove
	default:
		return session.ZoneIn
	}
}

// Tick advances the clock-derived metrics. Elapsed time is recomputed
// from wall-clock anchors on every call, so the first tick after a device
// suspension lands on the correct value instead of drifting.
func (t *Tracker) Tick(now time.Time) {
	t.mu.Lock()

	if t.sess.Status == session.StatusCompleted {
		t.mu.Unlock()
		return
	}

	elapsed := now.Sub(t.startedAt) - t.accumulatedPause
	if t.sess.Status == session.StatusPaused && !t.pauseStartedAt.IsZero() {
		elapsed -= now.Sub(t.pauseStartedAt)
	}
	if s := elapsed.Seconds(); s > t.sess.ElapsedTimeS {
		t.sess.ElapsedTimeS = s
	}

	if t.sess.Config.AutoPause {
		if t.sess.Status == session.StatusActive && !t.autoPaused {
			t.sess.MovingTimeS += now.Sub(t.lastTickAt).Seconds()
		}
	} else {
		t.sess.MovingTimeS = t.sess.ElapsedTimeS
	}
	if t.sess.MovingTimeS > t.sess.ElapsedTimeS {
		t.sess.MovingTimeS = t.sess.ElapsedTimeS
	}
	t.lastTickAt = now

	if t.sess.Status == session.StatusActive &&
		now.Sub(t.lastFixAt) > t.tuning.SignalLostAfter && !t.signalLost {
		t.signalLost = true
		t.dirty = true
		t.log.Warn("location signal lost", zap.String("session_id", t.sess.ID))
	}

	t.sess.AvgPaceSecKm = geo.PaceSecPerKm(t.sess.DistanceM, t.sess.MovingTimeS)
	t.sess.AvgSpeedMps = geo.SpeedMps(t.sess.DistanceM, t.sess.MovingTimeS)

	var checkpoint *session.Session
	if now.Sub(t.lastCheckpoint) >= t.tuning.CheckpointInterval {
		t.lastCheckpoint = now
		checkpoint = t.sess.Clone()
	}

	if t.dirty {
		t.dirty = false
		t.enqueueNotifyLocked()
	}
	t.mu.Unlock()

	if checkpoint != nil {
		go t.checkpoint(checkpoint)
	}
}

// Pause is the manual user-initiated transition out of active tracking.
func (t *Tracker) Pause() error {
	t.mu.Lock()
	if t.sess.Status != session.StatusActive {
		t.mu.Unlock()
		return ErrNotTracking
	}
	t.sess.Status = session.StatusPaused
	t.pauseStartedAt = t.now()
	cp := t.sess.Clone()
	t.enqueueNotifyLocked()
	t.mu.Unlock()

	go t.checkpoint(cp)
	return nil
}

// Resume folds the elapsed pause into the accumulated pause total so the
// next tick's wall-clock recomputation excludes it.
func (t *Tracker) Resume() error {
	t.mu.Lock()
	if t.sess.Status != session.StatusPaused {
		t.mu.Unlock()
		return ErrNotTracking
	}
	now := t.now()
	t.accumulatedPause += now.Sub(t.pauseStartedAt)
	t.pauseStartedAt = time.Time{}
	t.lastTickAt = now
	t.sess.Status = session.StatusActive
	cp := t.sess.Clone()
	t.enqueueNotifyLocked()
	t.mu.Unlock()

	go t.checkpoint(cp)
	return nil
}

// Stop finalizes the session. It is safe to call concurrently with
// in-flight adapter events and is idempotent: late callers wait for the
// in-flight finalize and return the same session and the same error,
// without repeating any side effect.
func (t *Tracker) Stop(ctx context.Context) (*session.Session, error) {
	t.mu.Lock()
	if t.stopped {
		finalizeDone := t.finalizeDone
		t.mu.Unlock()
		<-finalizeDone
		t.mu.Lock()
		fin, err := t.finalized, t.finalizeErr
		t.mu.Unlock()
		return fin, err
	}
	t.stopped = true

	now := t.now()
	if t.sess.Status == session.StatusPaused && !t.pauseStartedAt.IsZero() {
		t.accumulatedPause += now.Sub(t.pauseStartedAt)
		t.pauseStartedAt = time.Time{}
	}
	if s := (now.Sub(t.startedAt) - t.accumulatedPause).Seconds(); s > t.sess.ElapsedTimeS {
		t.sess.ElapsedTimeS = s
	}
	if !t.sess.Config.AutoPause {
		t.sess.MovingTimeS = t.sess.ElapsedTimeS
	}
	if t.sess.MovingTimeS > t.sess.ElapsedTimeS {
		t.sess.MovingTimeS = t.sess.ElapsedTimeS
	}
	t.sess.AvgPaceSecKm = geo.PaceSecPerKm(t.sess.DistanceM, t.sess.MovingTimeS)
	t.sess.AvgSpeedMps = geo.SpeedMps(t.sess.DistanceM, t.sess.MovingTimeS)

	t.sess.Status = session.StatusCompleted
	ended := now
	t.sess.EndedAt = &ended

	locSub, hrSub, wake := t.locSub, t.hrSub, t.wake
	t.locSub, t.hrSub, t.wake = nil, nil, nil

	fin := t.sess.Clone()
	t.finalized = fin
	t.enqueueNotifyLocked()
	close(t.done)
	t.mu.Unlock()

	if locSub != nil {
		locSub.Unwatch()
	}
	if hrSub != nil {
		hrSub.Stop()
	}
	if wake != nil {
		wake.Release()
	}

	err := t.store.Finalize(ctx, fin)
	if err != nil {
		err = fmt.Errorf("finalize session: %w", err)
	}

	t.mu.Lock()
	t.finalizeErr = err
	t.mu.Unlock()
	close(t.finalizeDone)

	if err != nil {
		// the in-memory session is still handed back so nothing is lost;
		// the caller owns retry/export
		t.log.Error("finalize failed",
			zap.String("session_id", fin.ID), zap.Error(err))
		return fin, err
	}
	t.log.Info("session completed",
		zap.String("session_id", fin.ID),
		zap.Float64("distance_m", fin.DistanceM))
	return fin, nil
}

// Subscribe registers an observer for metric snapshots. Notifications are
// batched at tick granularity. The returned func unsubscribes.
func (t *Tracker) Subscribe(fn func(session.Snapshot)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSubID
	t.nextSubID++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// Snapshot returns the current read-only metrics view.
func (t *Tracker) Snapshot() session.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() session.Snapshot {
	s := t.sess
	snap := session.Snapshot{
		SessionID:      s.ID,
		OwnerID:        s.OwnerID,
		Status:         s.Status,
		StartedAt:      s.StartedAt,
		ElapsedTimeS:   s.ElapsedTimeS,
		MovingTimeS:    s.MovingTimeS,
		DistanceM:      s.DistanceM,
		Calories:       s.Calories,
		ElevationGainM: s.ElevationGainM,
		ElevationLossM: s.ElevationLossM,

		AvgPaceSecKm:    s.AvgPaceSecKm,
		AvgSpeedMps:     s.AvgSpeedMps,
		MaxSpeedMps:     s.MaxSpeedMps,
		CurrentSpeedMps: t.currentSpeed,

		SplitCount: len(s.Splits),

		AvgBPM:      s.HeartRate.AvgBPM,
		MaxBPM:      s.HeartRate.MaxBPM,
		TimeInZoneS: s.HeartRate.TimeInZoneS,
		ZoneStatus:  s.HeartRate.ZoneStatus,

		AutoPaused: t.autoPaused,
		SignalLost: t.signalLost,

		RejectedLowAccuracy: t.rejectedAccuracy,
		RejectedImplausible: t.rejectedJump,
	}
	if n := len(s.Splits); n > 0 {
		last := s.Splits[n-1]
		snap.LastSplit = &last
	}
	return snap
}

func (t *Tracker) subscribersLocked() []func(session.Snapshot) {
	if len(t.subs) == 0 {
		return nil
	}
	subs := make([]func(session.Snapshot), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	return subs
}

// enqueueNotifyLocked hands the current snapshot to the notifier. The
// queue is one deep and newer state replaces an undelivered older one, so
// subscribers never see snapshots out of order.
func (t *Tracker) enqueueNotifyLocked() {
	subs := t.subscribersLocked()
	if subs == nil {
		return
	}
	job := notifyJob{subs: subs, snap: t.snapshotLocked()}
	for {
		select {
		case t.notifyCh <- job:
			return
		default:
			select {
			case <-t.notifyCh:
			default:
			}
		}
	}
}

// notifyLoop serializes subscriber delivery; after the session stops it
// drains the queued final snapshot and exits.
func (t *Tracker) notifyLoop() {
	for {
		select {
		case job := <-t.notifyCh:
			notify(job.subs, job.snap)
		case <-t.done:
			for {
				select {
				case job := <-t.notifyCh:
					notify(job.subs, job.snap)
				default:
					return
				}
			}
		}
	}
}

func notify(subs []func(session.Snapshot), snap session.Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

// checkpoint is fire-and-forget: a failed write must never stall or stop
// tracking.
func (t *Tracker) checkpoint(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.Upsert(ctx, s); err != nil {
		t.log.Warn("checkpoint failed",
			zap.String("session_id", s.ID), zap.Error(err))
	}
}
