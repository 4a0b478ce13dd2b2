package face

import "errors"

// Extraction outcomes. Callers compare with errors.Is; Extract folds all of
// them into a nil descriptor.
var (
	// ErrEmptyImage means the input carried no bytes, path or pixels.
	ErrEmptyImage = errors.New("empty image")
	// ErrDecode means the input could not be read or decoded as a raster image.
	ErrDecode = errors.New("image decode failed")
	// ErrModelsUnavailable means the detector or recognizer could not be loaded.
	// It sticks for the life of the process.
	ErrModelsUnavailable = errors.New("face models unavailable")
	// ErrNoFace means no face passed the detection threshold after all fallbacks.
	ErrNoFace = errors.New("no face detected")
	// ErrRecognition means a face was found but the recognizer produced no usable descriptor.
	ErrRecognition = errors.New("face recognition failed")
	// ErrMalformedDescriptor means persisted descriptor text could not be parsed.
	ErrMalformedDescriptor = errors.New("malformed descriptor")
)
