package detect

import (
	"desktop-telemetry-agent/internal/capture"
)

const DefaultThreshold = 0.95

// Event is the verdict of comparing a candidate frame against the
// last uploaded reference.
type Event struct {
	Score       float64
	Significant bool
	First       bool
}

type Detector struct {
	threshold float64
}

func NewDetector(threshold float64) *Detector {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Compare scores candidate against reference. A nil reference means nothing
// has been uploaded yet and the candidate is reported unconditionally.
func (d *Detector) Compare(candidate capture.Frame, reference *capture.Frame) Event {
	if reference == nil || reference.Image == nil {
		return Event{Score: 0, Significant: true, First: true}
	}
	score := SSIM(candidate.Image, reference.Image)
	return Event{Score: score, Significant: score < d.threshold}
}
