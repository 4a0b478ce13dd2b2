package database

import (
	"context"

	"github.com/kozaktomas/facelookup/internal/face"
)

// StudentReader provides read-only access to students and their descriptors
type StudentReader interface {
	// GetStudent retrieves a student by ID, returns nil if not found
	GetStudent(ctx context.Context, id int64) (*Student, error)
	// FindStudentsByName returns students whose normalized name equals the
	// normalized input (lowercase, no diacritics, dashes to spaces)
	FindStudentsByName(ctx context.Context, name string) ([]Student, error)
	// KnownDescriptors returns every parseable stored descriptor in ascending ID order.
	// Rows with malformed descriptor text are skipped.
	KnownDescriptors(ctx context.Context) (face.KnownSet, error)
	// CountStats returns descriptor coverage counts
	CountStats(ctx context.Context) (Stats, error)
}

// StudentWriter provides write access to student photos and descriptors
type StudentWriter interface {
	StudentReader

	// CreateStudent inserts a student with its optional photo and descriptor
	// and returns its ID
	CreateStudent(ctx context.Context, st NewStudent) (int64, error)
	// UpdatePhoto replaces the photo reference and its descriptor in one statement.
	// A nil descriptor is stored as NULL.
	UpdatePhoto(ctx context.Context, id int64, photoFile, photoHash string, desc face.Descriptor) error
	// SaveDescriptor stores the descriptor computed from the current photo.
	// A nil descriptor is stored as NULL.
	SaveDescriptor(ctx context.Context, id int64, desc face.Descriptor, photoHash string) error
	// ClearDescriptor removes the stored descriptor and photo hash
	ClearDescriptor(ctx context.Context, id int64) error
	// StudentsWithPhotos lists students that have a photo, optionally only
	// those without a stored descriptor
	StudentsWithPhotos(ctx context.Context, onlyMissing bool) ([]Student, error)
}

// VectorSearcher is implemented by backends that can rank descriptors in SQL.
type VectorSearcher interface {
	// NearestByVector returns up to limit student IDs ordered by cosine distance
	NearestByVector(ctx context.Context, desc face.Descriptor, limit int) ([]int64, error)
}
