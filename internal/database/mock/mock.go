// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/face"
	"github.com/kozaktomas/facelookup/internal/names"
)

// MockStudentStore is an in-memory implementation of database.StudentWriter.
// Descriptors are kept as text so tests can plant malformed rows.
type MockStudentStore struct {
	mu        sync.RWMutex
	students  map[int64]*database.Student
	encodings map[int64]string
	nextID    int64

	// Error injection
	GetStudentError         error
	FindByNameError         error
	KnownDescriptorsError   error
	CountStatsError         error
	CreateStudentError      error
	UpdatePhotoError        error
	SaveDescriptorError     error
	ClearDescriptorError    error
	StudentsWithPhotosError error

	// Call tracking
	SaveDescriptorCalls int
	UpdatePhotoCalls    int
}

// NewMockStudentStore creates a new empty store
func NewMockStudentStore() *MockStudentStore {
	return &MockStudentStore{
		students:  make(map[int64]*database.Student),
		encodings: make(map[int64]string),
		nextID:    1,
	}
}

// AddStudent adds a student with the given raw face_encoding text
func (m *MockStudentStore) AddStudent(s database.Student, encoding string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.nextID
	}
	if s.ID >= m.nextID {
		m.nextID = s.ID + 1
	}
	s.FaceEncoding, _ = face.ParseDescriptor(encoding)
	m.students[s.ID] = &s
	m.encodings[s.ID] = encoding
}

// Encoding returns the raw stored descriptor text for id
func (m *MockStudentStore) Encoding(id int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.encodings[id]
}

// GetStudent retrieves a student by ID
func (m *MockStudentStore) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	if m.GetStudentError != nil {
		return nil, m.GetStudentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// FindStudentsByName retrieves students by normalized name
func (m *MockStudentStore) FindStudentsByName(ctx context.Context, name string) ([]database.Student, error) {
	if m.FindByNameError != nil {
		return nil, m.FindByNameError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := names.Normalize(name)
	var results []database.Student
	for _, id := range m.sortedIDs() {
		if names.Normalize(m.students[id].Name) == want {
			results = append(results, *m.students[id])
		}
	}
	return results, nil
}

// KnownDescriptors returns parseable descriptors in ascending ID order
func (m *MockStudentStore) KnownDescriptors(ctx context.Context) (face.KnownSet, error) {
	if m.KnownDescriptorsError != nil {
		return nil, m.KnownDescriptorsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []face.Record
	for _, id := range m.sortedIDs() {
		if enc := m.encodings[id]; enc != "" {
			records = append(records, face.Record{ID: id, Encoding: enc})
		}
	}
	return face.BuildKnownSet(records, logr.Discard()), nil
}

// CountStats returns descriptor coverage counts
func (m *MockStudentStore) CountStats(ctx context.Context) (database.Stats, error) {
	if m.CountStatsError != nil {
		return database.Stats{}, m.CountStatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := database.Stats{Students: len(m.students)}
	for id, s := range m.students {
		if s.HasPhoto() {
			stats.WithPhoto++
		}
		if m.encodings[id] != "" {
			stats.WithDescriptor++
		}
	}
	return stats, nil
}

// CreateStudent inserts a student with its optional photo and descriptor
func (m *MockStudentStore) CreateStudent(ctx context.Context, st database.NewStudent) (int64, error) {
	if m.CreateStudentError != nil {
		return 0, m.CreateStudentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	s := &database.Student{ID: id, Name: st.Name, PhotoFile: st.PhotoFile}
	m.students[id] = s
	m.setDescriptor(s, st.Descriptor, st.PhotoHash)
	return id, nil
}

// UpdatePhoto replaces the photo reference and descriptor
func (m *MockStudentStore) UpdatePhoto(
	ctx context.Context, id int64, photoFile, photoHash string, desc face.Descriptor,
) error {
	if m.UpdatePhotoError != nil {
		return m.UpdatePhotoError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return fmt.Errorf("student %d: %w", id, database.ErrStudentNotFound)
	}
	m.UpdatePhotoCalls++
	s.PhotoFile = photoFile
	m.setDescriptor(s, desc, photoHash)
	return nil
}

// SaveDescriptor stores a descriptor for a student
func (m *MockStudentStore) SaveDescriptor(ctx context.Context, id int64, desc face.Descriptor, photoHash string) error {
	if m.SaveDescriptorError != nil {
		return m.SaveDescriptorError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return fmt.Errorf("student %d: %w", id, database.ErrStudentNotFound)
	}
	m.SaveDescriptorCalls++
	m.setDescriptor(s, desc, photoHash)
	return nil
}

// ClearDescriptor removes a student's descriptor
func (m *MockStudentStore) ClearDescriptor(ctx context.Context, id int64) error {
	if m.ClearDescriptorError != nil {
		return m.ClearDescriptorError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return fmt.Errorf("student %d: %w", id, database.ErrStudentNotFound)
	}
	m.setDescriptor(s, nil, "")
	return nil
}

// StudentsWithPhotos lists students with a photo in ascending ID order
func (m *MockStudentStore) StudentsWithPhotos(ctx context.Context, onlyMissing bool) ([]database.Student, error) {
	if m.StudentsWithPhotosError != nil {
		return nil, m.StudentsWithPhotosError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []database.Student
	for _, id := range m.sortedIDs() {
		s := m.students[id]
		if !s.HasPhoto() {
			continue
		}
		if onlyMissing && m.encodings[id] != "" {
			continue
		}
		results = append(results, *s)
	}
	return results, nil
}

func (m *MockStudentStore) setDescriptor(s *database.Student, desc face.Descriptor, photoHash string) {
	s.FaceEncoding = desc
	s.PhotoHash = photoHash
	s.UpdatedAt = time.Now()
	if desc == nil {
		delete(m.encodings, s.ID)
		return
	}
	m.encodings[s.ID] = desc.String()
}

func (m *MockStudentStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(m.students))
	for id := range m.students {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var _ database.StudentWriter = (*MockStudentStore)(nil)
