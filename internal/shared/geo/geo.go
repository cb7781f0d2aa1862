package geo

import "math"

const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance in meters between two
// WGS84 coordinates.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// HaversineKm returns the great-circle distance in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	return HaversineM(lat1, lon1, lat2, lon2) / 1000
}

// SmoothElevation applies a trailing moving average over the given window.
// Window sizes below 2 return the input unchanged.
func SmoothElevation(samples []float64, window int) []float64 {
	if window < 2 || len(samples) == 0 {
		return samples
	}
	out := make([]float64, len(samples))
	sum := 0.0
	for i, v := range samples {
		sum += v
		if i >= window {
			sum -= samples[i-window]
		}
		n := i + 1
		if n > window {
			n = window
		}
		out[i] = sum / float64(n)
	}
	return out
}

// ElevationDelta splits an altitude change into gain and loss, ignoring
// changes below the noise floor (barometric/GPS jitter).
func ElevationDelta(prevAlt, curAlt, noiseFloorM float64) (gain, loss float64) {
	d := curAlt - prevAlt
	if d >= noiseFloorM {
		return d, 0
	}
	if d <= -noiseFloorM {
		return 0, -d
	}
	return 0, 0
}

// PaceSecPerKm converts distance and moving time into seconds per kilometer.
// Returns 0 when no distance has been covered.
func PaceSecPerKm(distanceM, movingSec float64) float64 {
	if distanceM <= 0 {
		return 0
	}
	return movingSec / (distanceM / 1000)
}

// SpeedMps converts distance and elapsed time into meters per second.
func SpeedMps(distanceM, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return distanceM / seconds
}

// SpeedKmh converts meters per second to kilometers per hour.
func SpeedKmh(mps float64) float64 {
	return mps * 3.6
}

// metFor approximates the metabolic equivalent for an activity at the
// given speed. Buckets follow the compendium values for running/cycling.
func metFor(kind string, speedMps float64) float64 {
	kmh := SpeedKmh(speedMps)
	switch kind {
	case "ride":
		switch {
		case kmh < 16:
			return 4.0
		case kmh < 20:
			return 6.8
		case kmh < 24:
			return 8.0
		case kmh < 28:
			return 10.0
		default:
			return 12.0
		}
	default: // run / walk
		switch {
		case kmh < 4:
			return 2.5
		case kmh < 6.5:
			return 3.5
		case kmh < 8:
			return 8.3
		case kmh < 9.7:
			return 9.8
		case kmh < 11.3:
			return 11.0
		case kmh < 12.9:
			return 11.8
		default:
			return 12.8
		}
	}
}

// Calories estimates energy burned over a moving interval using a MET
// table keyed by activity kind and instantaneous speed.
func Calories(kind string, weightKg, speedMps, seconds float64) float64 {
	if weightKg <= 0 || seconds <= 0 || speedMps <= 0 {
		return 0
	}
	return metFor(kind, speedMps) * weightKg * (seconds / 3600)
}
