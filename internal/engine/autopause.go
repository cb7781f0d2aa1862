package engine

// autoPauseDetector watches a trailing window of instantaneous speeds and
// flags a stopped sub-state. The resume threshold sits above the pause
// threshold so a runner hovering at the boundary does not toggle the
// detector every sample.
type autoPauseDetector struct {
	window      []float64
	size        int
	pauseBelow  float64
	resumeAbove float64
	stopped     bool
}

func newAutoPauseDetector(size int, pauseBelow, resumeAbove float64) *autoPauseDetector {
	if size < 1 {
		size = 1
	}
	return &autoPauseDetector{
		window:      make([]float64, 0, size),
		size:        size,
		pauseBelow:  pauseBelow,
		resumeAbove: resumeAbove,
	}
}

// Observe records one speed sample and reports whether the detector
// currently considers the device stationary.
func (d *autoPauseDetector) Observe(speedMps float64) bool {
	d.window = append(d.window, speedMps)
	if len(d.window) > d.size {
		d.window = d.window[1:]
	}

	avg := 0.0
	for _, v := range d.window {
		avg += v
	}
	avg /= float64(len(d.window))

	if !d.stopped {
		if len(d.window) == d.size && avg < d.pauseBelow {
			d.stopped = true
		}
	} else if avg > d.resumeAbove {
		d.stopped = false
	}
	return d.stopped
}

// Stopped reports the current sub-state without feeding a sample.
func (d *autoPauseDetector) Stopped() bool { return d.stopped }
