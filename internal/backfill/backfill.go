// Package backfill holds one-off data repairs run from cmd/backfill.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kioskscan/internal/attendance"
	"kioskscan/internal/student"
)

// Ledger is the visit table access the visits task needs.
type Ledger interface {
	ExistsAt(ctx context.Context, studentID string, timeIn time.Time) (bool, error)
	Insert(ctx context.Context, v attendance.Visit) (attendance.Visit, error)
}

// Students lists and rewrites student rows.
type Students interface {
	List(ctx context.Context) ([]student.Student, error)
	Update(ctx context.Context, st *student.Student) error
}

// Result counts what a task did.
type Result struct {
	Scanned int `json:"scanned"`
	Changed int `json:"changed"`
	Skipped int `json:"skipped"`
}

// Visits copies embedded visit entries into the ledger when no visit with
// the same student and time in exists. A second open entry for a student
// that already holds an open visit is skipped. With dryRun nothing is
// written.
func Visits(ctx context.Context, students Students, ledger Ledger, dryRun bool, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	list, err := students.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list students: %w", err)
	}
	var res Result
	for _, st := range list {
		for _, e := range st.Visits {
			if e.TimeIn == nil {
				continue
			}
			res.Scanned++
			known, err := ledger.ExistsAt(ctx, st.ID, *e.TimeIn)
			if err != nil {
				return res, fmt.Errorf("check visit for %s: %w", st.StudentNo, err)
			}
			if known {
				res.Skipped++
				continue
			}
			if dryRun {
				res.Changed++
				continue
			}
			if _, err := ledger.Insert(ctx, attendance.FromEntry(st.ID, e)); err != nil {
				if errors.Is(err, attendance.ErrActiveSession) {
					log.Warn("skipping extra open visit", zap.String("student_no", st.StudentNo), zap.Time("time_in", *e.TimeIn))
					res.Skipped++
					continue
				}
				return res, fmt.Errorf("insert visit for %s: %w", st.StudentNo, err)
			}
			res.Changed++
		}
	}
	log.Info("visit backfill done", zap.Int("scanned", res.Scanned), zap.Int("inserted", res.Changed), zap.Int("skipped", res.Skipped), zap.Bool("dry_run", dryRun))
	return res, nil
}

// MiddleInitials fills the middle initial of students that have a middle
// name but no initial.
func MiddleInitials(ctx context.Context, students Students, dryRun bool, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	list, err := students.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list students: %w", err)
	}
	var res Result
	for i := range list {
		st := &list[i]
		res.Scanned++
		initial := student.MiddleInitial(st.MiddleName)
		if initial == "" || st.MiddleInitial != "" {
			res.Skipped++
			continue
		}
		st.MiddleInitial = initial
		if !dryRun {
			if err := students.Update(ctx, st); err != nil {
				return res, fmt.Errorf("update %s: %w", st.StudentNo, err)
			}
		}
		res.Changed++
	}
	log.Info("middle initial backfill done", zap.Int("scanned", res.Scanned), zap.Int("updated", res.Changed), zap.Bool("dry_run", dryRun))
	return res, nil
}
