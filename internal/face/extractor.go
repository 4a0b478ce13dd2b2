package face

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/go-logr/logr"

	"github.com/kozaktomas/facelookup/internal/constants"
)

// Extractor turns a photo into at most one descriptor.
type Extractor struct {
	models             *Models
	detectionThreshold float32
	downscaleSide      int
	grayscaleRetry     bool
	uploadDir          string
	logger             logr.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithDetectionThreshold sets the minimum detector score.
func WithDetectionThreshold(score float32) Option {
	return func(e *Extractor) { e.detectionThreshold = score }
}

// WithDownscaleSide sets the longer-side size used when retrying on a smaller copy.
func WithDownscaleSide(side int) Option {
	return func(e *Extractor) { e.downscaleSide = side }
}

// WithGrayscaleRetry toggles the final grayscale detection pass.
func WithGrayscaleRetry(enabled bool) Option {
	return func(e *Extractor) { e.grayscaleRetry = enabled }
}

// WithUploadDir sets the directory bare file names are resolved against.
func WithUploadDir(dir string) Option {
	return func(e *Extractor) { e.uploadDir = dir }
}

// WithLogger sets the logger used for extraction diagnostics.
func WithLogger(logger logr.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// NewExtractor returns an Extractor backed by models.
func NewExtractor(models *Models, opts ...Option) *Extractor {
	e := &Extractor{
		models:             models,
		detectionThreshold: constants.DefaultDetectionThreshold,
		downscaleSide:      constants.MaxDetectSide,
		grayscaleRetry:     true,
		logger:             logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Describe extracts a descriptor and reports why when there is none.
// The error wraps one of ErrEmptyImage, ErrDecode, ErrModelsUnavailable,
// ErrNoFace or ErrRecognition, or the context error.
func (e *Extractor) Describe(ctx context.Context, img Image) (Descriptor, error) {
	frame, err := decodeFrame(img, e.uploadDir)
	if err != nil {
		return nil, err
	}

	var desc Descriptor
	err = e.models.Do(func(eng Engine) error {
		var err error
		desc, err = e.describeFrame(ctx, eng, frame)
		return err
	})
	if err != nil {
		return nil, err
	}
	return desc, nil
}

// Extract is Describe with every failure folded into a nil descriptor.
// Decode and recognition failures are logged as errors; a missing face is
// routine and only logged at V(1).
func (e *Extractor) Extract(ctx context.Context, img Image) Descriptor {
	desc, err := e.Describe(ctx, img)
	if err == nil {
		return desc
	}

	kind := "nil"
	if img != nil {
		kind = img.Kind()
	}
	switch {
	case errors.Is(err, ErrNoFace):
		e.logger.V(1).Info("no face detected", "source", kind)
	case errors.Is(err, ErrModelsUnavailable):
		// Already reported once by Models.
		e.logger.V(1).Info("descriptor skipped, face models unavailable", "source", kind)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.logger.V(1).Info("descriptor extraction cancelled", "source", kind, "error", err.Error())
	case isDecodeError(err):
		e.logger.Error(err, "image could not be decoded", "source", kind)
	default:
		e.logger.Error(err, "descriptor extraction failed", "source", kind)
	}
	return nil
}

// describeFrame runs the detection passes in order: native size, downscaled
// copy when the frame is larger than downscaleSide, then a grayscale copy of
// the last attempted frame.
func (e *Extractor) describeFrame(ctx context.Context, eng Engine, frame *image.RGBA) (Descriptor, error) {
	det, found, err := e.detect(ctx, eng, frame)
	if err != nil {
		return nil, err
	}

	if !found && longerSide(frame) > e.downscaleSide {
		if small, ok := downscale(frame, e.downscaleSide); ok {
			frame = small
			if det, found, err = e.detect(ctx, eng, frame); err != nil {
				return nil, err
			}
		}
	}

	if !found && e.grayscaleRetry {
		frame = grayscale(frame)
		if det, found, err = e.detect(ctx, eng, frame); err != nil {
			return nil, err
		}
	}

	if !found {
		return nil, ErrNoFace
	}

	desc, err := eng.Embed(frame, det)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecognition, err)
	}
	if !desc.Finite() {
		return nil, fmt.Errorf("%w: empty or non-finite descriptor (%d values)", ErrRecognition, len(desc))
	}
	return desc, nil
}

func (e *Extractor) detect(ctx context.Context, eng Engine, frame *image.RGBA) (Detection, bool, error) {
	if err := ctx.Err(); err != nil {
		return Detection{}, false, fmt.Errorf("face detection: %w", err)
	}
	dets, err := eng.Detect(frame, e.detectionThreshold)
	if err != nil {
		return Detection{}, false, fmt.Errorf("%w: detector: %v", ErrRecognition, err)
	}
	// Engines may report low-scoring boxes; enforce the threshold here too.
	kept := dets[:0:0]
	for _, d := range dets {
		if d.Score >= e.detectionThreshold {
			kept = append(kept, d)
		}
	}
	det, ok := bestDetection(kept)
	return det, ok, nil
}
