package database

import (
	"errors"
	"time"

	"github.com/kozaktomas/facelookup/internal/face"
)

// ErrStudentNotFound is returned by writes addressed to a student that does not exist.
var ErrStudentNotFound = errors.New("student not found")

// Student is a row of the students table
type Student struct {
	ID        int64
	Name      string
	PhotoFile string // file name or data URI, empty when the student has no photo
	PhotoHash string // perceptual hash of PhotoFile when FaceEncoding was computed

	// FaceEncoding is nil when no descriptor is stored or the stored text is malformed
	FaceEncoding face.Descriptor
	UpdatedAt    time.Time
}

// NewStudent is a row to insert. Photo and descriptor are optional and are
// written in the same statement as the name.
type NewStudent struct {
	Name       string
	PhotoFile  string
	PhotoHash  string
	Descriptor face.Descriptor
}

// HasPhoto reports whether the student has a stored photo reference.
func (s *Student) HasPhoto() bool {
	return s.PhotoFile != ""
}

// Stats summarizes descriptor coverage across all students
type Stats struct {
	Students       int `json:"students"`
	WithPhoto      int `json:"with_photo"`
	WithDescriptor int `json:"with_descriptor"`
}

// MissingDescriptors returns how many students have a photo but no descriptor.
func (s Stats) MissingDescriptors() int {
	if n := s.WithPhoto - s.WithDescriptor; n > 0 {
		return n
	}
	return 0
}
