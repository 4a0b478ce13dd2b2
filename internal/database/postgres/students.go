package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/face"
	"github.com/kozaktomas/facelookup/internal/names"
)

// StudentRepository provides PostgreSQL-backed student storage.
// face_encoding holds the descriptor as JSON text; face_embedding mirrors it
// as a pgvector column for NearestByVector.
type StudentRepository struct {
	pool   *Pool
	logger logr.Logger
}

// NewStudentRepository creates a new PostgreSQL student repository.
func NewStudentRepository(pool *Pool, logger logr.Logger) *StudentRepository {
	return &StudentRepository{pool: pool, logger: logger.WithName("postgres")}
}

const studentColumns = `id, name, COALESCE(photo_file, ''), COALESCE(photo_hash, ''), face_encoding, updated_at`

// GetStudent retrieves a student by ID.
func (r *StudentRepository) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	s, err := r.scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	return s, nil
}

// FindStudentsByName retrieves students by normalized name.
func (r *StudentRepository) FindStudentsByName(ctx context.Context, name string) ([]database.Student, error) {
	// Same key as names.Normalize.
	query := `
		SELECT ` + studentColumns + `
		FROM students
		WHERE TRIM(regexp_replace(LOWER(REPLACE(unaccent(name), '-', ' ')), '\s+', ' ', 'g')) = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, names.Normalize(name))
	if err != nil {
		return nil, fmt.Errorf("query students by name: %w", err)
	}
	defer rows.Close()

	return r.scanStudents(rows)
}

// KnownDescriptors returns all parseable descriptors ordered by student ID.
func (r *StudentRepository) KnownDescriptors(ctx context.Context) (face.KnownSet, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, face_encoding
		FROM students
		WHERE face_encoding IS NOT NULL AND face_encoding <> ''
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer rows.Close()

	var records []face.Record
	for rows.Next() {
		var rec face.Record
		if err := rows.Scan(&rec.ID, &rec.Encoding); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}
	return face.BuildKnownSet(records, r.logger), nil
}

// CountStats returns descriptor coverage counts.
func (r *StudentRepository) CountStats(ctx context.Context) (database.Stats, error) {
	var stats database.Stats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE COALESCE(photo_file, '') <> ''),
		       COUNT(*) FILTER (WHERE COALESCE(face_encoding, '') <> '')
		FROM students
	`).Scan(&stats.Students, &stats.WithPhoto, &stats.WithDescriptor)
	if err != nil {
		return stats, fmt.Errorf("count students: %w", err)
	}
	return stats, nil
}

// CreateStudent inserts a student together with its photo and descriptor.
func (r *StudentRepository) CreateStudent(ctx context.Context, st database.NewStudent) (int64, error) {
	encoding, embedding := descriptorArgs(st.Descriptor)
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO students (name, photo_file, photo_hash, face_encoding, face_embedding)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
		RETURNING id
	`, st.Name, st.PhotoFile, st.PhotoHash, encoding, embedding).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert student: %w", err)
	}
	return id, nil
}

// UpdatePhoto replaces the photo reference together with its descriptor.
func (r *StudentRepository) UpdatePhoto(
	ctx context.Context, id int64, photoFile, photoHash string, desc face.Descriptor,
) error {
	encoding, embedding := descriptorArgs(desc)
	result, err := r.pool.Exec(ctx, `
		UPDATE students
		SET photo_file = NULLIF($2, ''), photo_hash = NULLIF($3, ''),
		    face_encoding = $4, face_embedding = $5, updated_at = NOW()
		WHERE id = $1
	`, id, photoFile, photoHash, encoding, embedding)
	if err != nil {
		return fmt.Errorf("update photo for student %d: %w", id, err)
	}
	return requireRow(result, id)
}

// SaveDescriptor stores the descriptor computed from the current photo.
func (r *StudentRepository) SaveDescriptor(ctx context.Context, id int64, desc face.Descriptor, photoHash string) error {
	encoding, embedding := descriptorArgs(desc)
	result, err := r.pool.Exec(ctx, `
		UPDATE students
		SET face_encoding = $2, face_embedding = $3, photo_hash = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1
	`, id, encoding, embedding, photoHash)
	if err != nil {
		return fmt.Errorf("save descriptor for student %d: %w", id, err)
	}
	return requireRow(result, id)
}

// ClearDescriptor removes the stored descriptor.
func (r *StudentRepository) ClearDescriptor(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE students
		SET face_encoding = NULL, face_embedding = NULL, photo_hash = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("clear descriptor for student %d: %w", id, err)
	}
	return requireRow(result, id)
}

// StudentsWithPhotos lists students that have a photo.
func (r *StudentRepository) StudentsWithPhotos(ctx context.Context, onlyMissing bool) ([]database.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE COALESCE(photo_file, '') <> ''`
	if onlyMissing {
		query += ` AND COALESCE(face_encoding, '') = ''`
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query students with photos: %w", err)
	}
	defer rows.Close()

	return r.scanStudents(rows)
}

// NearestByVector ranks stored descriptors by cosine distance using pgvector.
func (r *StudentRepository) NearestByVector(ctx context.Context, desc face.Descriptor, limit int) ([]int64, error) {
	if len(desc) != face.Dim || limit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id
		FROM students
		WHERE face_embedding IS NOT NULL
		ORDER BY face_embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(desc), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest descriptors: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan nearest descriptor: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest descriptors: %w", err)
	}
	return ids, nil
}

// descriptorArgs returns the JSON text and vector column values for desc.
// Only descriptors of the model dimension are mirrored into the vector column.
func descriptorArgs(desc face.Descriptor) (any, any) {
	if desc == nil {
		return nil, nil
	}
	var embedding any
	if len(desc) == face.Dim {
		embedding = pgvector.NewVector(desc)
	}
	return desc.String(), embedding
}

func requireRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("student %d: %w", id, database.ErrStudentNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *StudentRepository) scanStudent(row rowScanner) (*database.Student, error) {
	var s database.Student
	var encoding sql.NullString
	if err := row.Scan(&s.ID, &s.Name, &s.PhotoFile, &s.PhotoHash, &encoding, &s.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	if encoding.Valid {
		desc, err := face.ParseDescriptor(encoding.String)
		if err != nil {
			r.logger.V(1).Info("ignoring malformed stored descriptor", "studentID", s.ID, "error", err.Error())
		}
		s.FaceEncoding = desc
	}
	return &s, nil
}

func (r *StudentRepository) scanStudents(rows *sql.Rows) ([]database.Student, error) {
	var students []database.Student
	for rows.Next() {
		s, err := r.scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}
