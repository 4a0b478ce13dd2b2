package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/kozaktomas/facelookup/internal/database"
	"github.com/kozaktomas/facelookup/internal/face"
	"github.com/kozaktomas/facelookup/internal/names"
)

// StudentRepository provides MariaDB-backed student storage.
type StudentRepository struct {
	pool   *Pool
	logger logr.Logger
}

// NewStudentRepository creates a new MariaDB student repository.
func NewStudentRepository(pool *Pool, logger logr.Logger) *StudentRepository {
	return &StudentRepository{pool: pool, logger: logger.WithName("mariadb")}
}

const studentColumns = `id, name, COALESCE(photo_file, ''), COALESCE(photo_hash, ''), face_encoding, updated_at`

// GetStudent retrieves a student by ID, returns nil if not found.
func (r *StudentRepository) GetStudent(ctx context.Context, id int64) (*database.Student, error) {
	row := r.pool.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = ?`, id)
	s, err := r.scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	return s, nil
}

// FindStudentsByName retrieves students by normalized name. The table
// collation already ignores case and accents; the result is re-checked with
// names.Normalize so both backends agree.
func (r *StudentRepository) FindStudentsByName(ctx context.Context, name string) ([]database.Student, error) {
	normalized := names.Normalize(name)
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE TRIM(REGEXP_REPLACE(REPLACE(name, '-', ' '), '[[:space:]]+', ' ')) = ?
		ORDER BY id
	`, normalized)
	if err != nil {
		return nil, fmt.Errorf("query students by name: %w", err)
	}
	defer rows.Close()

	students, err := r.scanStudents(rows)
	if err != nil {
		return nil, err
	}
	matched := students[:0]
	for _, s := range students {
		if names.Normalize(s.Name) == normalized {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

// KnownDescriptors returns all parseable descriptors ordered by student ID.
func (r *StudentRepository) KnownDescriptors(ctx context.Context) (face.KnownSet, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
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
	var withPhoto, withDescriptor sql.NullInt64
	err := r.pool.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(COALESCE(photo_file, '') <> ''),
		       SUM(COALESCE(face_encoding, '') <> '')
		FROM students
	`).Scan(&stats.Students, &withPhoto, &withDescriptor)
	if err != nil {
		return stats, fmt.Errorf("count students: %w", err)
	}
	stats.WithPhoto = int(withPhoto.Int64)
	stats.WithDescriptor = int(withDescriptor.Int64)
	return stats, nil
}

// CreateStudent inserts a student together with its photo and descriptor.
func (r *StudentRepository) CreateStudent(ctx context.Context, st database.NewStudent) (int64, error) {
	result, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO students (name, photo_file, photo_hash, face_encoding)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?)
	`, st.Name, st.PhotoFile, st.PhotoHash, encodingArg(st.Descriptor))
	if err != nil {
		return 0, fmt.Errorf("insert student: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert student id: %w", err)
	}
	return id, nil
}

// UpdatePhoto replaces the photo reference together with its descriptor.
func (r *StudentRepository) UpdatePhoto(
	ctx context.Context, id int64, photoFile, photoHash string, desc face.Descriptor,
) error {
	if err := r.requireStudent(ctx, id); err != nil {
		return err
	}
	_, err := r.pool.db.ExecContext(ctx, `
		UPDATE students
		SET photo_file = NULLIF(?, ''), photo_hash = NULLIF(?, ''), face_encoding = ?
		WHERE id = ?
	`, photoFile, photoHash, encodingArg(desc), id)
	if err != nil {
		return fmt.Errorf("update photo for student %d: %w", id, err)
	}
	return nil
}

// SaveDescriptor stores the descriptor computed from the current photo.
func (r *StudentRepository) SaveDescriptor(ctx context.Context, id int64, desc face.Descriptor, photoHash string) error {
	if err := r.requireStudent(ctx, id); err != nil {
		return err
	}
	_, err := r.pool.db.ExecContext(ctx, `
		UPDATE students SET face_encoding = ?, photo_hash = NULLIF(?, '') WHERE id = ?
	`, encodingArg(desc), photoHash, id)
	if err != nil {
		return fmt.Errorf("save descriptor for student %d: %w", id, err)
	}
	return nil
}

// ClearDescriptor removes the stored descriptor.
func (r *StudentRepository) ClearDescriptor(ctx context.Context, id int64) error {
	if err := r.requireStudent(ctx, id); err != nil {
		return err
	}
	_, err := r.pool.db.ExecContext(ctx, `
		UPDATE students SET face_encoding = NULL, photo_hash = NULL WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("clear descriptor for student %d: %w", id, err)
	}
	return nil
}

// StudentsWithPhotos lists students that have a photo.
func (r *StudentRepository) StudentsWithPhotos(ctx context.Context, onlyMissing bool) ([]database.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE COALESCE(photo_file, '') <> ''`
	if onlyMissing {
		query += ` AND COALESCE(face_encoding, '') = ''`
	}
	query += ` ORDER BY id`

	rows, err := r.pool.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query students with photos: %w", err)
	}
	defer rows.Close()

	return r.scanStudents(rows)
}

// requireStudent checks the row exists. MySQL reports zero affected rows for
// updates that change nothing, so RowsAffected cannot be used for this.
func (r *StudentRepository) requireStudent(ctx context.Context, id int64) error {
	var one int
	err := r.pool.db.QueryRowContext(ctx, `SELECT 1 FROM students WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("student %d: %w", id, database.ErrStudentNotFound)
	}
	if err != nil {
		return fmt.Errorf("check student %d: %w", id, err)
	}
	return nil
}

func encodingArg(desc face.Descriptor) any {
	if desc == nil {
		return nil
	}
	return desc.String()
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
