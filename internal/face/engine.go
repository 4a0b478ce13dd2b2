package face

import "image"

// Detection is one face region reported by the detector.
type Detection struct {
	Box       image.Rectangle
	Landmarks [5]image.Point // right eye, left eye, nose tip, right and left mouth corner
	Score     float32
	// Raw is the detector's native output row; engines use it to align the crop.
	Raw []float32
}

// Engine runs the detection and recognition networks. Implementations do
// not need to be safe for concurrent use; Models serializes calls.
type Engine interface {
	// Detect returns the faces in frame scoring at least minScore.
	Detect(frame *image.RGBA, minScore float32) ([]Detection, error)
	// Embed aligns the detected face and returns its descriptor.
	Embed(frame *image.RGBA, d Detection) (Descriptor, error)
	Close() error
}

// Loader constructs an Engine, typically by reading model files from disk.
type Loader func() (Engine, error)

// bestDetection picks the highest-scoring detection; on equal scores the
// first one reported wins.
func bestDetection(dets []Detection) (Detection, bool) {
	if len(dets) == 0 {
		return Detection{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best, true
}
