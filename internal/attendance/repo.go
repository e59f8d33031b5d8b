package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kioskscan/internal/store"
)

// Repository is the visit ledger in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const visitColumns = `v.id, v.student_id, v.time_in, v.time_out, v.purpose, v.status, v.device_id, v.kiosk, v.notes, v.created_at`

const summaryColumns = `s.id, s.student_no, s.first_name, s.middle_initial, s.last_name, s.course, s.level, s.photo`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (Visit, error) {
	var (
		v      Visit
		status string
	)
	err := row.Scan(&v.ID, &v.StudentID, &v.TimeIn, &v.TimeOut, &v.Purpose, &status, &v.DeviceID, &v.Kiosk, &v.Notes, &v.CreatedAt)
	v.Status = Status(status)
	return v, err
}

func scanVisitWithStudent(row rowScanner) (Visit, error) {
	var (
		v      Visit
		s      StudentSummary
		status string
	)
	err := row.Scan(&v.ID, &v.StudentID, &v.TimeIn, &v.TimeOut, &v.Purpose, &status, &v.DeviceID, &v.Kiosk, &v.Notes, &v.CreatedAt,
		&s.ID, &s.StudentNo, &s.FirstName, &s.MiddleInitial, &s.LastName, &s.Course, &s.Level, &s.Photo)
	v.Status = Status(status)
	v.Student = &s
	return v, err
}

// AppendCheckIn opens a visit. A student with an open visit already gets
// ErrActiveSession.
func (r *Repository) AppendCheckIn(ctx context.Context, v Visit) (Visit, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.TimeIn.IsZero() {
		v.TimeIn = time.Now().UTC()
	}
	v.TimeOut = nil
	v.Status = StatusIn
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO visits (id, student_id, time_in, purpose, status, device_id, kiosk, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING time_in, created_at
	`, v.ID, v.StudentID, v.TimeIn, v.Purpose, string(v.Status), v.DeviceID, v.Kiosk, v.Notes)
	if err := row.Scan(&v.TimeIn, &v.CreatedAt); err != nil {
		if store.IsUniqueViolation(err) {
			return Visit{}, ErrActiveSession
		}
		return Visit{}, err
	}
	return v, nil
}

// FindActive returns the open visit for a student, or nil.
func (r *Repository) FindActive(ctx context.Context, studentID string) (*Visit, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+visitColumns+` FROM visits v
		WHERE v.student_id = $1 AND v.time_out IS NULL
		ORDER BY v.time_in DESC
		LIMIT 1
	`, studentID)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// CloseActive stamps the latest open visit with at. It returns nil when the
// student has no open visit.
func (r *Repository) CloseActive(ctx context.Context, studentID string, at time.Time) (*Visit, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE visits v SET time_out = $2, status = 'OUT'
		WHERE v.id = (
			SELECT id FROM visits
			WHERE student_id = $1 AND time_out IS NULL
			ORDER BY time_in DESC
			LIMIT 1
			FOR UPDATE
		)
		RETURNING `+visitColumns, studentID, at)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// History returns the student's latest visits, oldest first.
func (r *Repository) History(ctx context.Context, studentID string, limit int) ([]Visit, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+visitColumns+` FROM visits v
			WHERE v.student_id = $1
			ORDER BY v.time_in DESC
			LIMIT $2
		) recent
		ORDER BY time_in ASC
	`, studentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// ExistsAt reports whether the ledger has a visit for the student starting
// at the given instant, compared at millisecond precision.
func (r *Repository) ExistsAt(ctx context.Context, studentID string, timeIn time.Time) (bool, error) {
	from := timeIn.Truncate(time.Millisecond)
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM visits
			WHERE student_id = $1 AND time_in >= $2 AND time_in < $3
		)
	`, studentID, from, from.Add(time.Millisecond)).Scan(&exists)
	return exists, err
}

// Insert writes a complete visit as-is, used when importing legacy rows.
func (r *Repository) Insert(ctx context.Context, v Visit) (Visit, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = StatusIn
		if v.TimeOut != nil {
			v.Status = StatusOut
		}
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO visits (id, student_id, time_in, time_out, purpose, status, device_id, kiosk, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, v.ID, v.StudentID, v.TimeIn, v.TimeOut, v.Purpose, string(v.Status), v.DeviceID, v.Kiosk, v.Notes)
	if err := row.Scan(&v.CreatedAt); err != nil {
		if store.IsUniqueViolation(err) {
			return Visit{}, ErrActiveSession
		}
		return Visit{}, err
	}
	return v, nil
}

// List returns one page of visits with their student card, plus the total
// match count. A free-text query searches student numbers and names; when no
// student matches it searches visit purpose and notes instead. Scoped to one
// student, the query only searches purpose and notes.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Visit, int, error) {
	args := []any{}
	clauses := []string{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}

	if f.StudentID != "" {
		clauses = append(clauses, "v.student_id = "+arg(f.StudentID))
	}
	if f.Purpose != "" {
		clauses = append(clauses, "v.purpose ILIKE "+arg(likePattern(f.Purpose)))
	}
	if f.Status != "" {
		clauses = append(clauses, "v.status = "+arg(f.Status))
	}
	if f.DeviceID != "" {
		clauses = append(clauses, "v.device_id = "+arg(f.DeviceID))
	}
	if f.Kiosk != "" {
		clauses = append(clauses, "v.kiosk ILIKE "+arg(likePattern(f.Kiosk)))
	}
	if f.Q != "" {
		q := arg(likePattern(f.Q))
		textMatch := "(v.purpose ILIKE " + q + " OR v.notes ILIKE " + q + ")"
		if f.StudentID != "" {
			clauses = append(clauses, textMatch)
		} else {
			studentMatch := "SELECT id FROM students WHERE student_no ILIKE " + q +
				" OR first_name ILIKE " + q + " OR last_name ILIKE " + q + " OR middle_name ILIKE " + q
			clauses = append(clauses, "(CASE WHEN EXISTS ("+studentMatch+") THEN v.student_id IN ("+studentMatch+") ELSE "+textMatch+" END)")
		}
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits v`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visits: %w", err)
	}

	sortCol := "v.time_in"
	if f.SortBy == "timeOut" {
		sortCol = "v.time_out"
	}
	dir := "DESC NULLS LAST"
	if f.Order == "asc" {
		dir = "ASC NULLS LAST"
	}
	query := `SELECT ` + visitColumns + `, ` + summaryColumns + `
		FROM visits v JOIN students s ON s.id = v.student_id` + where +
		` ORDER BY ` + sortCol + ` ` + dir + `, v.id LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []Visit
	for rows.Next() {
		v, err := scanVisitWithStudent(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, v)
	}
	return res, total, rows.Err()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
