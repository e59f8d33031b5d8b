package backfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"kioskscan/internal/attendance"
	"kioskscan/internal/student"
)

type fakeStudents struct {
	list    []student.Student
	updated []student.Student
}

func (f *fakeStudents) List(context.Context) ([]student.Student, error) {
	out := make([]student.Student, len(f.list))
	copy(out, f.list)
	return out, nil
}

func (f *fakeStudents) Update(_ context.Context, st *student.Student) error {
	f.updated = append(f.updated, *st)
	return nil
}

type fakeLedger struct {
	visits []attendance.Visit
}

func (f *fakeLedger) ExistsAt(_ context.Context, studentID string, timeIn time.Time) (bool, error) {
	for _, v := range f.visits {
		if v.StudentID == studentID && v.TimeIn.Equal(timeIn) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) Insert(_ context.Context, v attendance.Visit) (attendance.Visit, error) {
	if v.TimeOut == nil {
		for _, o := range f.visits {
			if o.StudentID == v.StudentID && o.TimeOut == nil {
				return attendance.Visit{}, attendance.ErrActiveSession
			}
		}
	}
	f.visits = append(f.visits, v)
	return v, nil
}

func at(h int) *time.Time {
	t := time.Date(2026, 10, 17, h, 0, 0, 0, time.UTC)
	return &t
}

func TestVisits(t *testing.T) {
	students := &fakeStudents{list: []student.Student{{
		ID:        "s1",
		StudentNo: "S25-02",
		Visits: []student.VisitEntry{
			{TimeIn: at(8), TimeOut: at(9), Purpose: "Study"},
			{TimeIn: at(10), TimeOut: at(11)},
			{TimeIn: at(13)},
			{TimeIn: at(14)},
			{Purpose: "no time in"},
		},
	}}}
	ledger := &fakeLedger{visits: []attendance.Visit{{StudentID: "s1", TimeIn: *at(10), TimeOut: at(11)}}}

	res, err := Visits(context.Background(), students, ledger, false, nil)
	if err != nil {
		t.Fatalf("visits: %v", err)
	}
	if res.Scanned != 4 || res.Changed != 2 || res.Skipped != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(ledger.visits) != 3 {
		t.Fatalf("ledger has %d visits", len(ledger.visits))
	}
	if got := ledger.visits[1]; got.Purpose != "Study" || got.Status != attendance.StatusOut {
		t.Fatalf("imported visit = %+v", got)
	}
}

func TestVisitsDryRun(t *testing.T) {
	students := &fakeStudents{list: []student.Student{{ID: "s1", Visits: []student.VisitEntry{{TimeIn: at(8)}}}}}
	ledger := &fakeLedger{}
	res, err := Visits(context.Background(), students, ledger, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed != 1 || len(ledger.visits) != 0 {
		t.Fatalf("result = %+v, ledger = %d", res, len(ledger.visits))
	}
}

type failingLedger struct{ fakeLedger }

func (failingLedger) ExistsAt(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("db down")
}

func TestVisitsPropagatesErrors(t *testing.T) {
	students := &fakeStudents{list: []student.Student{{ID: "s1", Visits: []student.VisitEntry{{TimeIn: at(8)}}}}}
	if _, err := Visits(context.Background(), students, &failingLedger{}, false, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestMiddleInitials(t *testing.T) {
	students := &fakeStudents{list: []student.Student{
		{ID: "s1", StudentNo: "S25-01", MiddleName: "santos"},
		{ID: "s2", StudentNo: "S25-02", MiddleName: "Reyes", MiddleInitial: "R."},
		{ID: "s3", StudentNo: "S25-03"},
	}}
	res, err := MiddleInitials(context.Background(), students, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed != 1 || res.Skipped != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(students.updated) != 1 || students.updated[0].MiddleInitial != "S." {
		t.Fatalf("updated = %+v", students.updated)
	}
}
