package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"kioskscan/internal/queue"
	"kioskscan/internal/student"
)

type memStore struct {
	visits  map[string][]student.VisitEntry
	saves   int
	saveErr error
}

func (m *memStore) LoadVisits(_ context.Context, id string) ([]student.VisitEntry, error) {
	return append([]student.VisitEntry(nil), m.visits[id]...), nil
}

func (m *memStore) SaveVisits(_ context.Context, id string, entries []student.VisitEntry) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.visits[id] = entries
	return nil
}

var t0 = time.Date(2026, 10, 18, 8, 0, 0, 123456789, time.UTC)

func TestCheckInIsIdempotent(t *testing.T) {
	st := &memStore{visits: map[string][]student.VisitEntry{}}
	s := NewSyncer(st, nil)
	msg, _ := queue.NewMessage(TypeCheckIn, VisitEvent{StudentID: "s1", TimeIn: t0, Purpose: "study"})

	for i := 0; i < 2; i++ {
		if err := s.Handle(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}
	if got := st.visits["s1"]; len(got) != 1 || !got[0].Open() || got[0].Purpose != "study" {
		t.Fatalf("visits = %+v", got)
	}
	if st.saves != 1 {
		t.Fatalf("saves = %d, want 1", st.saves)
	}
}

func TestCheckOutStampsMatchingEntry(t *testing.T) {
	older := t0.Add(-time.Hour)
	// Postgres keeps microseconds; the message carries the full value.
	stored := t0.Truncate(time.Microsecond)
	st := &memStore{visits: map[string][]student.VisitEntry{
		"s1": {{TimeIn: &older, Status: "IN"}, {TimeIn: &stored, Status: "IN"}},
	}}
	s := NewSyncer(st, nil)
	out := t0.Add(30 * time.Minute)
	msg, _ := queue.NewMessage(TypeCheckOut, VisitEvent{StudentID: "s1", TimeIn: t0, TimeOut: &out})

	if err := s.Handle(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	got := st.visits["s1"]
	if !got[0].Open() {
		t.Error("older open entry should be untouched")
	}
	if got[1].Open() || got[1].Status != "OUT" || !got[1].TimeOut.Equal(out) {
		t.Errorf("matching entry = %+v", got[1])
	}
}

func TestCheckOutFallsBackToLatestOpen(t *testing.T) {
	legacy := t0.Add(-2 * time.Hour)
	entries := []student.VisitEntry{{TimeIn: &legacy, Status: "IN"}}
	out := t0
	got, changed := ApplyCheckOut(entries, VisitEvent{TimeIn: t0.Add(-time.Minute), TimeOut: &out})
	if !changed || got[0].Open() {
		t.Fatalf("entries = %+v", got)
	}

	got, changed = ApplyCheckOut(nil, VisitEvent{TimeIn: t0.Add(-time.Minute), TimeOut: &out})
	if !changed || len(got) != 1 || got[0].Open() {
		t.Fatalf("missing visit should be appended closed: %+v", got)
	}
}

func TestRunSwallowsFailures(t *testing.T) {
	st := &memStore{visits: map[string][]student.VisitEntry{}, saveErr: errors.New("db down")}
	s := NewSyncer(st, nil)

	ch := make(chan queue.Message, 3)
	bad, _ := queue.NewMessage(TypeCheckIn, VisitEvent{StudentID: "s1", TimeIn: t0})
	ch <- bad
	ch <- queue.Message{Type: TypeCheckIn, Body: []byte(`{`)}
	ch <- queue.Message{Type: "other"}
	close(ch)

	s.Run(context.Background(), ch)
	if st.saves != 0 {
		t.Fatalf("saves = %d", st.saves)
	}
}
