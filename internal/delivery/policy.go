package delivery

// Verdict is the size-budget decision for one delivery attempt.
type Verdict int

const (
	// VerdictPass means the payload fits its shape's ceiling as-is.
	VerdictPass Verdict = iota
	// VerdictReduce means the payload is over budget but the shape has a
	// reduction strategy.
	VerdictReduce
	// VerdictReject means the payload is over budget and the shape has no
	// reduction strategy.
	VerdictReject
)

// Thresholds holds the transport size budgets. HardMaxBytes is the ceiling
// for any shape; PhotoMaxBytes is the stricter ceiling for photos.
type Thresholds struct {
	HardMaxBytes  int64
	PhotoMaxBytes int64
}

// CeilingFor returns the byte ceiling applicable to shape.
func (t Thresholds) CeilingFor(shape Shape) int64 {
	if shape == ShapePhoto {
		return t.PhotoMaxBytes
	}
	return t.HardMaxBytes
}

// Classify decides whether a payload of the given size passes, needs
// reduction, or must be rejected. Pure function of shape and size.
func (t Thresholds) Classify(shape Shape, size int64) Verdict {
	if size <= t.CeilingFor(shape) {
		return VerdictPass
	}
	if Reducible(shape) {
		return VerdictReduce
	}
	return VerdictReject
}

// Reducible reports whether the shape has a lossy reduction strategy.
// Video and animation degrade through the transcoder, photos through the
// image reducer; audio and generic documents transmit as-is or not at all.
func Reducible(shape Shape) bool {
	switch shape {
	case ShapeVideo, ShapeAnimation, ShapePhoto:
		return true
	default:
		return false
	}
}
