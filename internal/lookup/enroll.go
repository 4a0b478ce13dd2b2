package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/facelookup/internal/constants"
	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/face"
	"github.com/kozaktomas/facelookup/internal/fingerprint"
)

// EnrollResult reports what UpdatePhoto or CreateStudent did.
type EnrollResult struct {
	StudentID  int64
	Found      bool // a descriptor is stored for the new photo
	Unchanged  bool // the photo hash matched and the stored descriptor was kept
	PhotoHash  string
	Descriptor face.Descriptor
	Reason     string // ReasonNoFace or ReasonPhotoUnreadable when a photo gave no descriptor
}

// photoHash returns the bytes and perceptual hash of the image behind photoFile.
func (s *Service) photoHash(photoFile string) ([]byte, string, error) {
	data, err := face.ReadBytes(face.ParseSource(photoFile), s.cfg.UploadDir)
	if err != nil {
		return nil, "", err //nolint:wrapcheck // face errors carry their own context
	}
	hash, err := fingerprint.Compute(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", face.ErrDecode, err)
	}
	return data, hash.String(), nil
}

// samePhoto reports whether a stored descriptor still belongs to the photo
// with the given hash. A descriptor of the wrong length never counts, so it
// is recomputed with the current model.
func samePhoto(st *database.Student, hash string) bool {
	return len(st.FaceEncoding) == face.Dim &&
		fingerprint.Same(st.PhotoHash, hash, constants.PhotoHashTolerance)
}

// UpdatePhoto sets a student's photo and recomputes its descriptor. photoFile
// is a file name or a data URI. When the photo is perceptually identical to
// the one the stored descriptor came from, the descriptor is kept as is.
// A photo without a face stores a NULL descriptor.
func (s *Service) UpdatePhoto(ctx context.Context, id int64, photoFile string) (*EnrollResult, error) {
	photoFile = strings.TrimSpace(photoFile)
	student, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	if student == nil {
		return nil, fmt.Errorf("student %d: %w", id, database.ErrStudentNotFound)
	}

	data, hash, err := s.photoHash(photoFile)
	if err != nil {
		return nil, err
	}
	res := &EnrollResult{StudentID: id, PhotoHash: hash}

	if samePhoto(student, hash) {
		res.Found = true
		res.Unchanged = true
		res.Descriptor = student.FaceEncoding
		if student.PhotoFile != photoFile {
			if err := s.store.UpdatePhoto(ctx, id, photoFile, hash, student.FaceEncoding); err != nil {
				return nil, err //nolint:wrapcheck // already carries the student id
			}
		}
		s.logger.V(1).Info("photo unchanged, keeping descriptor", "studentID", id)
		return res, nil
	}

	desc, err := s.extractor.Describe(ctx, face.RawBytes(data))
	switch {
	case errors.Is(err, face.ErrNoFace):
		s.logger.Info("no face in student photo", "studentID", id)
		res.Reason = ReasonNoFace
	case err != nil:
		return nil, fmt.Errorf("student %d: %w", id, err)
	}

	if err := s.store.UpdatePhoto(ctx, id, photoFile, hash, desc); err != nil {
		return nil, err //nolint:wrapcheck // already carries the student id
	}
	if desc == nil {
		if s.index != nil {
			s.index.Delete(id)
		}
	} else {
		s.indexDescriptor(id, desc)
	}

	res.Found = desc != nil
	res.Descriptor = desc
	s.logger.Info("student photo updated", "studentID", id, "descriptor", res.Found)
	return res, nil
}

// CreateStudent inserts a student and, when photoFile is set, enrolls the
// photo in the same insert. The photo is read and described first, so a
// failure that aborts the call leaves nothing behind. An unreadable photo is
// not such a failure: the student is stored with the photo and no descriptor,
// and Reason says why.
func (s *Service) CreateStudent(ctx context.Context, name, photoFile string) (*EnrollResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("student name is required")
	}
	photoFile = strings.TrimSpace(photoFile)
	st := database.NewStudent{Name: name, PhotoFile: photoFile}
	res := &EnrollResult{}

	if photoFile != "" {
		data, hash, err := s.photoHash(photoFile)
		if err == nil {
			st.PhotoHash = hash
			st.Descriptor, err = s.extractor.Describe(ctx, face.RawBytes(data))
		}
		switch {
		case err == nil:
		case errors.Is(err, face.ErrNoFace):
			res.Reason = ReasonNoFace
		case errors.Is(err, face.ErrDecode), errors.Is(err, face.ErrEmptyImage):
			s.logger.Info("student photo unreadable, storing without descriptor", "error", err.Error())
			st.PhotoHash = ""
			res.Reason = ReasonPhotoUnreadable
		default:
			return nil, fmt.Errorf("enrolling photo: %w", err)
		}
	}

	id, err := s.store.CreateStudent(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("creating student: %w", err)
	}
	s.indexDescriptor(id, st.Descriptor)

	res.StudentID = id
	res.PhotoHash = st.PhotoHash
	res.Descriptor = st.Descriptor
	res.Found = st.Descriptor != nil
	s.logger.Info("student created", "studentID", id, "descriptor", res.Found)
	return res, nil
}
