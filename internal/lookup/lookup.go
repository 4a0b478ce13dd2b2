// Package lookup ties descriptor extraction to student storage: it identifies
// students from query photos and keeps stored descriptors in sync with
// student photos.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/kozaktomas/facelookup/internal/constants"
	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/face"
)

// Reasons reported when a search has no match or an enrolled photo yields
// no descriptor.
const (
	ReasonNoFace          = "no_face"
	ReasonNoMatch         = "no_match"
	ReasonNoDescriptors   = "no_known_descriptors"
	ReasonPhotoUnreadable = "photo_unreadable"
)

// ErrAmbiguousStudent is returned when a name reference matches several students.
var ErrAmbiguousStudent = errors.New("student name is ambiguous")

// Config holds the service settings.
type Config struct {
	// MatchThreshold is used when a search does not set its own; <= 0 means the default
	MatchThreshold float64
	// IndexMinSize is the known-set size at which the ANN prefilter is used
	IndexMinSize int
	// UploadDir resolves bare photo file names
	UploadDir string
}

// Service identifies students and maintains their descriptors.
type Service struct {
	extractor *face.Extractor
	store     database.StudentWriter
	index     *database.DescriptorIndex
	matcher   face.Matcher
	cfg       Config
	logger    logr.Logger
}

// New creates a service. index may be nil, in which case every search is a
// linear scan.
func New(
	extractor *face.Extractor, store database.StudentWriter, index *database.DescriptorIndex,
	cfg Config, logger logr.Logger,
) *Service {
	if cfg.IndexMinSize <= 0 {
		cfg.IndexMinSize = constants.IndexMinSize
	}
	return &Service{
		extractor: extractor,
		store:     store,
		index:     index,
		matcher:   face.NewMatcher(cfg.MatchThreshold),
		cfg:       cfg,
		logger:    logger.WithName("lookup"),
	}
}

// Threshold returns the default match threshold.
func (s *Service) Threshold() float64 {
	return s.matcher.Threshold
}

// SearchResult is the outcome of a Search.
type SearchResult struct {
	SearchID   string
	Matched    bool
	Match      face.Match
	Student    *database.Student
	Candidates []face.Match // nearest students, best first, regardless of threshold
	Reason     string       // set when Matched is false
	Threshold  float64
}

// Encode returns the descriptor of the face in img.
func (s *Service) Encode(ctx context.Context, img face.Image) (face.Descriptor, error) {
	desc, err := s.extractor.Describe(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", img.Kind(), err)
	}
	return desc, nil
}

// Search identifies the student in img. A photo without a face or a face
// that matches nobody is a normal outcome reported through Reason; errors are
// reserved for bad input, unavailable models and storage failures.
// threshold <= 0 uses the service default.
func (s *Service) Search(ctx context.Context, img face.Image, threshold float64) (*SearchResult, error) {
	if threshold <= 0 {
		threshold = s.matcher.Threshold
	}
	res := &SearchResult{SearchID: uuid.NewString(), Threshold: threshold}
	log := s.logger.WithValues("searchID", res.SearchID)

	query, err := s.extractor.Describe(ctx, img)
	if errors.Is(err, face.ErrNoFace) {
		log.V(1).Info("search photo has no face")
		res.Reason = ReasonNoFace
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", res.SearchID, err)
	}

	known, err := s.store.KnownDescriptors(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading known descriptors: %w", err)
	}
	if len(known) == 0 {
		res.Reason = ReasonNoDescriptors
		return res, nil
	}

	candidates := s.candidates(ctx, known, query, log)
	res.Candidates = face.Nearest(candidates, query, constants.DefaultCandidateLimit)

	m, ok := face.FindMatch(candidates, query, threshold)
	if !ok {
		log.V(1).Info("no student within threshold", "known", len(known), "threshold", threshold)
		res.Reason = ReasonNoMatch
		return res, nil
	}
	res.Matched = true
	res.Match = m

	student, err := s.store.GetStudent(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("loading matched student %d: %w", m.ID, err)
	}
	res.Student = student
	log.Info("student identified", "studentID", m.ID, "distance", m.Distance)
	return res, nil
}

// Stats returns descriptor coverage counts.
func (s *Service) Stats(ctx context.Context) (database.Stats, error) {
	stats, err := s.store.CountStats(ctx)
	if err != nil {
		return stats, fmt.Errorf("counting students: %w", err)
	}
	return stats, nil
}

// ClearFace removes the stored descriptor of a student.
func (s *Service) ClearFace(ctx context.Context, id int64) error {
	if err := s.store.ClearDescriptor(ctx, id); err != nil {
		return err //nolint:wrapcheck // already carries the student id
	}
	if s.index != nil {
		s.index.Delete(id)
	}
	s.logger.Info("descriptor cleared", "studentID", id)
	return nil
}

// ResolveStudent finds a student by numeric ID or by exact normalized name.
func (s *Service) ResolveStudent(ctx context.Context, ref string) (*database.Student, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		student, err := s.store.GetStudent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get student %d: %w", id, err)
		}
		if student == nil {
			return nil, fmt.Errorf("student %d: %w", id, database.ErrStudentNotFound)
		}
		return student, nil
	}

	students, err := s.store.FindStudentsByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("find student %q: %w", ref, err)
	}
	switch len(students) {
	case 0:
		return nil, fmt.Errorf("student %q: %w", ref, database.ErrStudentNotFound)
	case 1:
		return &students[0], nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d students", ErrAmbiguousStudent, ref, len(students))
	}
}
