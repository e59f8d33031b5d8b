package dashboard

import (
	"context"
	"database/sql"
	"time"
)

// Repository runs dashboard aggregates against Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Occupancy counts open visits.
func (r *Repository) Occupancy(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits WHERE time_out IS NULL`).Scan(&n)
	return n, err
}

// VisitsBetween counts visits that started or ended in [from, to).
func (r *Repository) VisitsBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM visits
		WHERE (time_in >= $1 AND time_in < $2) OR (time_out >= $1 AND time_out < $2)
	`, from, to).Scan(&n)
	return n, err
}

// RegistrationsBetween counts students enrolled in [from, to).
func (r *Repository) RegistrationsBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE created_at >= $1 AND created_at < $2`, from, to).Scan(&n)
	return n, err
}

// TopPurposes groups visits started in [from, to) by purpose.
func (r *Repository) TopPurposes(ctx context.Context, from, to time.Time, limit int) ([]PurposeCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT purpose, COUNT(*) AS n FROM visits
		WHERE time_in >= $1 AND time_in < $2 AND purpose <> ''
		GROUP BY purpose
		ORDER BY n DESC, purpose
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PurposeCount
	for rows.Next() {
		var pc PurposeCount
		if err := rows.Scan(&pc.Name, &pc.Count); err != nil {
			return nil, err
		}
		res = append(res, pc)
	}
	return res, rows.Err()
}

// AvgStayMs averages the duration of visits started and closed in
// [from, to). ok is false when there are none.
func (r *Repository) AvgStayMs(ctx context.Context, from, to time.Time) (float64, bool, error) {
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (time_out - time_in)) * 1000) FROM visits
		WHERE time_in >= $1 AND time_in < $2 AND time_out IS NOT NULL
	`, from, to).Scan(&avg)
	if err != nil {
		return 0, false, err
	}
	return avg.Float64, avg.Valid, nil
}

// StudentsVisitedBetween lists students with a visit started in [from, to),
// most recent first. limit <= 0 means no limit.
func (r *Repository) StudentsVisitedBetween(ctx context.Context, from, to time.Time, limit int) ([]VisitedStudent, error) {
	query := `
		SELECT s.id, s.student_no, s.first_name, s.middle_initial, s.last_name, s.course, s.level, s.photo,
			MAX(v.time_in) AS last_in, COUNT(*) AS visits,
			BOOL_OR(v.time_out IS NULL) AS inside
		FROM visits v JOIN students s ON s.id = v.student_id
		WHERE v.time_in >= $1 AND v.time_in < $2
		GROUP BY s.id
		ORDER BY last_in DESC`
	args := []any{from, to}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []VisitedStudent
	for rows.Next() {
		var vs VisitedStudent
		if err := rows.Scan(&vs.ID, &vs.StudentNo, &vs.FirstName, &vs.MiddleInitial, &vs.LastName, &vs.Course, &vs.Level, &vs.Photo,
			&vs.LastTimeIn, &vs.Visits, &vs.Inside); err != nil {
			return nil, err
		}
		res = append(res, vs)
	}
	return res, rows.Err()
}
