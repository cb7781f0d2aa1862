package session

import "time"

type Status string

const (
	StatusIdle            Status = "idle"
	StatusAcquiringSignal Status = "acquiring_signal"
	StatusActive          Status = "active"
	StatusPaused          Status = "paused"
	StatusCompleted       Status = "completed"
)

type ActivityKind string

const (
	KindRun  ActivityKind = "run"
	KindRide ActivityKind = "ride"
)

type DistanceUnit string

const (
	UnitKilometers DistanceUnit = "km"
	UnitMiles      DistanceUnit = "mi"
)

// Meters returns the split boundary length for the unit.
func (u DistanceUnit) Meters() float64 {
	if u == UnitMiles {
		return 1609.344
	}
	return 1000
}

// Zone is a target heart-rate range used for coaching cues.
type Zone struct {
	MinBPM int `json:"min_bpm"`
	MaxBPM int `json:"max_bpm"`
}

type ZoneStatus string

const (
	ZoneBelow ZoneStatus = "below"
	ZoneIn    ZoneStatus = "in_zone"
	ZoneAbove ZoneStatus = "above"
)

// Config carries the per-session options chosen at start.
type Config struct {
	ActivityKind ActivityKind `json:"activity_kind"`
	DistanceUnit DistanceUnit `json:"distance_unit"`
	AutoPause    bool         `json:"auto_pause"`
	Coaching     bool         `json:"coaching"`
	TargetZone   *Zone        `json:"target_zone,omitempty"`
	WeightKg     float64      `json:"weight_kg"`
}

// TrackPoint is a single accepted location fix. Points are append-only
// and never mutated after being added to the track.
type TrackPoint struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
	AccuracyM  float64   `json:"accuracy_m"`
	AltitudeM  *float64  `json:"altitude_m,omitempty"`
	SpeedMps   *float64  `json:"speed_mps,omitempty"`
	BearingDeg *float64  `json:"bearing_deg,omitempty"`
}

// Split is a per-unit-distance checkpoint. Created exactly once per
// boundary crossed, never mutated.
type Split struct {
	Index      int       `json:"index"`
	DistanceM  float64   `json:"distance_m"`
	DurationS  float64   `json:"duration_s"`
	PaceSecKm  float64   `json:"pace_sec_km"`
	SpeedMps   float64   `json:"speed_mps"`
	RecordedAt time.Time `json:"recorded_at"`
}

type HeartRateSample struct {
	BPM        int       `json:"bpm"`
	RecordedAt time.Time `json:"recorded_at"`
}

// HeartRateProfile aggregates the sample stream for a session.
type HeartRateProfile struct {
	Samples     []HeartRateSample `json:"samples"`
	AvgBPM      float64           `json:"avg_bpm"`
	MaxBPM      int               `json:"max_bpm"`
	TimeInZoneS float64           `json:"time_in_zone_s"`
	ZoneStatus  ZoneStatus        `json:"zone_status,omitempty"`
}

// Session is the aggregate root for one tracked activity. It is mutated
// exclusively by the tracking engine and becomes immutable once completed.
type Session struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    Status     `json:"status"`
	Config    Config     `json:"config"`

	DistanceM      float64 `json:"distance_m"`
	MovingTimeS    float64 `json:"moving_time_s"`
	ElapsedTimeS   float64 `json:"elapsed_time_s"`
	Calories       float64 `json:"calories"`
	ElevationGainM float64 `json:"elevation_gain_m"`
	ElevationLossM float64 `json:"elevation_loss_m"`

	AvgPaceSecKm float64 `json:"avg_pace_sec_km"`
	AvgSpeedMps  float64 `json:"avg_speed_mps"`
	MaxSpeedMps  float64 `json:"max_speed_mps"`

	Points    []TrackPoint     `json:"points"`
	Splits    []Split          `json:"splits"`
	HeartRate HeartRateProfile `json:"heart_rate"`
}

// Clone deep-copies the session so checkpoint writers never observe a
// slice being appended to by the engine.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.Config.TargetZone != nil {
		z := *s.Config.TargetZone
		c.Config.TargetZone = &z
	}
	c.Points = append([]TrackPoint(nil), s.Points...)
	c.Splits = append([]Split(nil), s.Splits...)
	c.HeartRate.Samples = append([]HeartRateSample(nil), s.HeartRate.Samples...)
	return &c
}

// LastPoint returns the most recently accepted fix, or nil.
func (s *Session) LastPoint() *TrackPoint {
	if len(s.Points) == 0 {
		return nil
	}
	return &s.Points[len(s.Points)-1]
}

// Snapshot is the read-only metrics view handed to observers.
type Snapshot struct {
	SessionID string `json:"session_id"`
	OwnerID   string `json:"owner_id"`
	Status    Status `json:"status"`

	StartedAt      time.Time `json:"started_at"`
	ElapsedTimeS   float64   `json:"elapsed_time_s"`
	MovingTimeS    float64   `json:"moving_time_s"`
	DistanceM      float64   `json:"distance_m"`
	Calories       float64   `json:"calories"`
	ElevationGainM float64   `json:"elevation_gain_m"`
	ElevationLossM float64   `json:"elevation_loss_m"`

	AvgPaceSecKm    float64 `json:"avg_pace_sec_km"`
	AvgSpeedMps     float64 `json:"avg_speed_mps"`
	MaxSpeedMps     float64 `json:"max_speed_mps"`
	CurrentSpeedMps float64 `json:"current_speed_mps"`

	SplitCount int    `json:"split_count"`
	LastSplit  *Split `json:"last_split,omitempty"`

	AvgBPM      float64    `json:"avg_bpm,omitempty"`
	MaxBPM      int        `json:"max_bpm,omitempty"`
	TimeInZoneS float64    `json:"time_in_zone_s,omitempty"`
	ZoneStatus  ZoneStatus `json:"zone_status,omitempty"`

	AutoPaused bool `json:"auto_paused"`
	SignalLost bool `json:"signal_lost"`

	RejectedLowAccuracy int `json:"rejected_low_accuracy,omitempty"`
	RejectedImplausible int `json:"rejected_implausible,omitempty"`
}
