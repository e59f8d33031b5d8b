package dashboard

import (
	"context"
	"fmt"
	"math"
	"time"

	"kioskscan/internal/daterange"
)

const (
	topPurposesLimit = 6
	timedInLimit     = 50
)

// PurposeCount is one bar of the purpose chart.
type PurposeCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats is the monitor screen summary for one day.
type Stats struct {
	Occupancy        int            `json:"occupancy"`
	TotalVisitsToday int            `json:"totalVisitsToday"`
	NewRegistrations int            `json:"newRegistrations"`
	TopPurposes      []PurposeCount `json:"topPurposes"`
	AvgStay          float64        `json:"avgStay"`
}

// VisitedStudent is a student who visited on the requested day.
type VisitedStudent struct {
	ID            string    `json:"id"`
	StudentNo     string    `json:"studentNo"`
	FirstName     string    `json:"firstName"`
	MiddleInitial string    `json:"middleInitial,omitempty"`
	LastName      string    `json:"lastName"`
	Course        string    `json:"course"`
	Level         string    `json:"level"`
	Photo         string    `json:"photo,omitempty"`
	LastTimeIn    time.Time `json:"lastTimeIn"`
	Visits        int       `json:"visits"`
	Inside        bool      `json:"inside"`
}

// Store is the aggregate source.
type Store interface {
	Occupancy(ctx context.Context) (int, error)
	VisitsBetween(ctx context.Context, from, to time.Time) (int, error)
	RegistrationsBetween(ctx context.Context, from, to time.Time) (int, error)
	TopPurposes(ctx context.Context, from, to time.Time, limit int) ([]PurposeCount, error)
	AvgStayMs(ctx context.Context, from, to time.Time) (float64, bool, error)
	StudentsVisitedBetween(ctx context.Context, from, to time.Time, limit int) ([]VisitedStudent, error)
}

// Service answers dashboard queries.
type Service struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

// NewService creates a service. Day boundaries are taken in loc.
func NewService(store Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: store, loc: loc, now: time.Now}
}

// AvgStayMinutes converts milliseconds to minutes rounded to one decimal.
func AvgStayMinutes(ms float64) float64 {
	return math.Round(ms/60000*10) / 10
}

// MonitorStats summarizes the given day (YYYY-MM-DD, empty for today).
func (s *Service) MonitorStats(ctx context.Context, day string) (Stats, error) {
	from, to, err := daterange.Day(day, s.loc, s.now())
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	if st.Occupancy, err = s.store.Occupancy(ctx); err != nil {
		return Stats{}, fmt.Errorf("occupancy: %w", err)
	}
	if st.TotalVisitsToday, err = s.store.VisitsBetween(ctx, from, to); err != nil {
		return Stats{}, fmt.Errorf("visits: %w", err)
	}
	if st.NewRegistrations, err = s.store.RegistrationsBetween(ctx, from, to); err != nil {
		return Stats{}, fmt.Errorf("registrations: %w", err)
	}
	if st.TopPurposes, err = s.store.TopPurposes(ctx, from, to, topPurposesLimit); err != nil {
		return Stats{}, fmt.Errorf("top purposes: %w", err)
	}
	if st.TopPurposes == nil {
		st.TopPurposes = []PurposeCount{}
	}
	avg, ok, err := s.store.AvgStayMs(ctx, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("average stay: %w", err)
	}
	if ok {
		st.AvgStay = AvgStayMinutes(avg)
	}
	return st, nil
}

// TimedInStudents lists up to 50 students who checked in on the day.
func (s *Service) TimedInStudents(ctx context.Context, day string) ([]VisitedStudent, error) {
	return s.visited(ctx, day, timedInLimit)
}

// StudentsByDate lists every student who checked in on the day.
func (s *Service) StudentsByDate(ctx context.Context, day string) ([]VisitedStudent, error) {
	return s.visited(ctx, day, 0)
}

func (s *Service) visited(ctx context.Context, day string, limit int) ([]VisitedStudent, error) {
	from, to, err := daterange.Day(day, s.loc, s.now())
	if err != nil {
		return nil, err
	}
	res, err := s.store.StudentsVisitedBetween(ctx, from, to, limit)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = []VisitedStudent{}
	}
	return res, nil
}
