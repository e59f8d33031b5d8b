package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"kioskscan/internal/daterange"
)

type fakeStore struct {
	from, to  time.Time
	limit     int
	avg       float64
	avgOK     bool
	purposes  []PurposeCount
	failOccup bool
}

func (f *fakeStore) Occupancy(context.Context) (int, error) {
	if f.failOccup {
		return 0, errors.New("db down")
	}
	return 3, nil
}

func (f *fakeStore) VisitsBetween(_ context.Context, from, to time.Time) (int, error) {
	f.from, f.to = from, to
	return 12, nil
}

func (f *fakeStore) RegistrationsBetween(context.Context, time.Time, time.Time) (int, error) {
	return 2, nil
}

func (f *fakeStore) TopPurposes(_ context.Context, _, _ time.Time, limit int) ([]PurposeCount, error) {
	f.limit = limit
	return f.purposes, nil
}

func (f *fakeStore) AvgStayMs(context.Context, time.Time, time.Time) (float64, bool, error) {
	return f.avg, f.avgOK, nil
}

func (f *fakeStore) StudentsVisitedBetween(_ context.Context, from, to time.Time, limit int) ([]VisitedStudent, error) {
	f.from, f.to, f.limit = from, to, limit
	return nil, nil
}

func newTestService(fs *fakeStore) *Service {
	svc := NewService(fs, time.UTC)
	svc.now = func() time.Time { return time.Date(2026, 10, 18, 15, 4, 5, 0, time.UTC) }
	return svc
}

func TestMonitorStats(t *testing.T) {
	fs := &fakeStore{avg: 45*60000 + 20000, avgOK: true, purposes: []PurposeCount{{"Study", 5}}}
	stats, err := newTestService(fs).MonitorStats(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Occupancy != 3 || stats.TotalVisitsToday != 12 || stats.NewRegistrations != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.AvgStay != 45.3 {
		t.Errorf("avgStay = %v, want 45.3", stats.AvgStay)
	}
	if fs.limit != 6 {
		t.Errorf("top purposes limit = %d", fs.limit)
	}
	if want := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC); !fs.from.Equal(want) || !fs.to.Equal(want.AddDate(0, 0, 1)) {
		t.Errorf("range = [%s, %s)", fs.from, fs.to)
	}
}

func TestMonitorStatsEmptyDay(t *testing.T) {
	stats, err := newTestService(&fakeStore{}).MonitorStats(context.Background(), "2026-01-02")
	if err != nil {
		t.Fatal(err)
	}
	if stats.AvgStay != 0 || stats.TopPurposes == nil || len(stats.TopPurposes) != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestMonitorStatsErrors(t *testing.T) {
	svc := newTestService(&fakeStore{failOccup: true})
	if _, err := svc.MonitorStats(context.Background(), ""); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := svc.MonitorStats(context.Background(), "yesterday"); !errors.Is(err, daterange.ErrInvalidDate) {
		t.Fatalf("err = %v, want ErrInvalidDate", err)
	}
}

func TestVisitedLimits(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)

	res, err := svc.TimedInStudents(context.Background(), "")
	if err != nil || res == nil || fs.limit != 50 {
		t.Fatalf("timed-in: res=%v err=%v limit=%d", res, err, fs.limit)
	}
	if _, err := svc.StudentsByDate(context.Background(), "2026-10-01"); err != nil || fs.limit != 0 {
		t.Fatalf("by date: err=%v limit=%d", err, fs.limit)
	}
}

func TestAvgStayMinutes(t *testing.T) {
	for ms, want := range map[float64]float64{0: 0, 90000: 1.5, 61000: 1, 3600000: 60} {
		if got := AvgStayMinutes(ms); got != want {
			t.Errorf("AvgStayMinutes(%v) = %v, want %v", ms, got, want)
		}
	}
}
