// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face detection constants
const (
	// DefaultDetectionThreshold is the minimum detector score for a face region.
	// Lower values find more faces in poor lighting at the cost of false candidates.
	DefaultDetectionThreshold = 0.4

	// LegacyDetectionThreshold is the looser detector score used by earlier deployments.
	LegacyDetectionThreshold = 0.3

	// DefaultNMSThreshold is the non-maximum suppression IoU threshold for the detector
	DefaultNMSThreshold = 0.3

	// DefaultDetectorTopK is the maximum number of candidate boxes kept before NMS
	DefaultDetectorTopK = 5000

	// MaxDetectSide is the longer-side size used for the downscale retry
	MaxDetectSide = 640
)

// Face matching constants
const (
	// DefaultMatchThreshold is the default maximum cosine distance for a student match.
	// Lower values = stricter matching
	DefaultMatchThreshold = 0.45

	// LooseMatchThreshold is the most permissive threshold seen in production.
	LooseMatchThreshold = 0.55

	// SFacePaperThreshold is the textbook cosine threshold for SFace.
	SFacePaperThreshold = 0.363

	// DescriptorDim is the length of an SFace descriptor
	DescriptorDim = 128
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for re-indexing
	WorkerPoolSize = 4

	// IndexMinSize is the known-set size at which the HNSW prefilter kicks in
	IndexMinSize = 5000

	// PhotoHashTolerance is the total bit distance over the per-channel
	// perceptual hashes up to which a photo counts as unchanged
	PhotoHashTolerance = 4
)
