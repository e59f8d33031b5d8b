package student

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kioskscan/internal/store"
)

// Repository persists students in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const studentColumns = `id, student_no, first_name, middle_name, middle_initial, last_name, suffix,
	course, level, photo, visits, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*Student, error) {
	var (
		st     Student
		visits []byte
	)
	if err := row.Scan(&st.ID, &st.StudentNo, &st.FirstName, &st.MiddleName, &st.MiddleInitial, &st.LastName,
		&st.Suffix, &st.Course, &st.Level, &st.Photo, &visits, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Visits = []VisitEntry{}
	if len(visits) > 0 {
		if err := json.Unmarshal(visits, &st.Visits); err != nil {
			return nil, fmt.Errorf("decode embedded visits for %s: %w", st.ID, err)
		}
	}
	return &st, nil
}

func (r *Repository) queryOne(ctx context.Context, query string, args ...any) (*Student, error) {
	st, err := scanStudent(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

// FindByID returns the student with the given id. Ids that are not UUIDs
// are a miss.
func (r *Repository) FindByID(ctx context.Context, id string) (*Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.queryOne(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
}

// FindByStudentNo matches the student number exactly or, with fuzzy set, by
// case-insensitive regular expression.
func (r *Repository) FindByStudentNo(ctx context.Context, pattern string, fuzzy bool) (*Student, error) {
	if !fuzzy {
		return r.queryOne(ctx, `SELECT `+studentColumns+` FROM students WHERE student_no = $1`, pattern)
	}
	return r.queryOne(ctx, `
		SELECT `+studentColumns+` FROM students
		WHERE student_no ~* $1
		ORDER BY student_no
		LIMIT 1
	`, pattern)
}

// Exists reports whether a student number is taken.
func (r *Repository) Exists(ctx context.Context, studentNo string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM students WHERE student_no = $1)`, studentNo).Scan(&exists)
	return exists, err
}

// Create inserts a student, assigning id and timestamps.
func (r *Repository) Create(ctx context.Context, st *Student) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.Visits == nil {
		st.Visits = []VisitEntry{}
	}
	visits, err := json.Marshal(st.Visits)
	if err != nil {
		return err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, student_no, first_name, middle_name, middle_initial, last_name, suffix, course, level, photo, visits)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at
	`, st.ID, st.StudentNo, st.FirstName, st.MiddleName, st.MiddleInitial, st.LastName, st.Suffix,
		st.Course, st.Level, st.Photo, string(visits))
	if err := row.Scan(&st.CreatedAt, &st.UpdatedAt); err != nil {
		if store.IsUniqueViolation(err) {
			return ErrDuplicateNumber
		}
		return err
	}
	return nil
}

// List returns every student ordered by last name.
func (r *Repository) List(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY last_name, first_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, *st)
	}
	return students, rows.Err()
}

// Update writes the profile fields of an existing student.
func (r *Repository) Update(ctx context.Context, st *Student) error {
	row := r.db.QueryRowContext(ctx, `
		UPDATE students
		SET student_no = $2, first_name = $3, middle_name = $4, middle_initial = $5, last_name = $6,
			suffix = $7, course = $8, level = $9, photo = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, st.ID, st.StudentNo, st.FirstName, st.MiddleName, st.MiddleInitial, st.LastName, st.Suffix,
		st.Course, st.Level, st.Photo)
	if err := row.Scan(&st.UpdatedAt); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrNotFound
		case store.IsUniqueViolation(err):
			return ErrDuplicateNumber
		}
		return err
	}
	return nil
}

// CountCreatedBetween counts enrollments in [from, to).
func (r *Repository) CountCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE created_at >= $1 AND created_at < $2`, from, to).Scan(&n)
	return n, err
}

// SetPhoto stores the photo URL.
func (r *Repository) SetPhoto(ctx context.Context, id, photoURL string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET photo = $2, updated_at = NOW() WHERE id = $1`, id, photoURL)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadVisits reads the embedded visit mirror.
func (r *Repository) LoadVisits(ctx context.Context, id string) ([]VisitEntry, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT visits FROM students WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var entries []VisitEntry
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("decode embedded visits: %w", err)
		}
	}
	return entries, nil
}

// SaveVisits overwrites the embedded visit mirror.
func (r *Repository) SaveVisits(ctx context.Context, id string, entries []VisitEntry) error {
	if entries == nil {
		entries = []VisitEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE students SET visits = $2, updated_at = NOW() WHERE id = $1`, id, string(raw))
	return err
}
