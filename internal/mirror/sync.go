// Package mirror keeps the legacy visit list embedded on each student row in
// step with the visit ledger.
package mirror

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kioskscan/internal/metrics"
	"kioskscan/internal/queue"
	"kioskscan/internal/student"
)

// Message types.
const (
	TypeCheckIn  = "visit.checkin"
	TypeCheckOut = "visit.checkout"
)

// VisitEvent is the queue body for both message types.
type VisitEvent struct {
	StudentID string     `json:"studentId"`
	VisitID   string     `json:"visitId"`
	TimeIn    time.Time  `json:"timeIn"`
	TimeOut   *time.Time `json:"timeOut,omitempty"`
	Purpose   string     `json:"purpose,omitempty"`
	DeviceID  string     `json:"deviceId,omitempty"`
}

// Store reads and writes the embedded list.
type Store interface {
	LoadVisits(ctx context.Context, studentID string) ([]student.VisitEntry, error)
	SaveVisits(ctx context.Context, studentID string, entries []student.VisitEntry) error
}

// Syncer applies visit messages to the embedded list.
type Syncer struct {
	store Store
	log   *zap.Logger
}

// NewSyncer creates a syncer.
func NewSyncer(store Store, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{store: store, log: log}
}

// Run applies messages until the channel closes. Failures are logged and
// counted, never returned.
func (s *Syncer) Run(ctx context.Context, messages <-chan queue.Message) {
	for msg := range messages {
		if err := s.Handle(ctx, msg); err != nil {
			metrics.MirrorSync.WithLabelValues("error").Inc()
			s.log.Warn("mirror sync failed", zap.String("type", msg.Type), zap.Error(err))
			continue
		}
		metrics.MirrorSync.WithLabelValues("ok").Inc()
	}
}

// Handle applies one message. Unknown types are ignored.
func (s *Syncer) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != TypeCheckIn && msg.Type != TypeCheckOut {
		s.log.Debug("ignoring queue message", zap.String("type", msg.Type))
		return nil
	}
	var evt VisitEvent
	if err := msg.Decode(&evt); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	if evt.StudentID == "" || evt.TimeIn.IsZero() {
		return fmt.Errorf("%s: missing student id or time in", msg.Type)
	}

	entries, err := s.store.LoadVisits(ctx, evt.StudentID)
	if err != nil {
		return fmt.Errorf("load visits for %s: %w", evt.StudentID, err)
	}
	var changed bool
	if msg.Type == TypeCheckIn {
		entries, changed = ApplyCheckIn(entries, evt)
	} else {
		entries, changed = ApplyCheckOut(entries, evt)
	}
	if !changed {
		return nil
	}
	if err := s.store.SaveVisits(ctx, evt.StudentID, entries); err != nil {
		return fmt.Errorf("save visits for %s: %w", evt.StudentID, err)
	}
	return nil
}

// SameInstant compares timestamps at millisecond precision, which survives
// both Postgres and JSON round trips.
func SameInstant(a, b time.Time) bool {
	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}

func indexByTimeIn(entries []student.VisitEntry, at time.Time) int {
	for i, e := range entries {
		if e.TimeIn != nil && SameInstant(*e.TimeIn, at) {
			return i
		}
	}
	return -1
}

// ApplyCheckIn appends an open entry unless one with the same time in is
// already present.
func ApplyCheckIn(entries []student.VisitEntry, evt VisitEvent) ([]student.VisitEntry, bool) {
	if indexByTimeIn(entries, evt.TimeIn) >= 0 {
		return entries, false
	}
	in := evt.TimeIn
	return append(entries, student.VisitEntry{
		TimeIn:   &in,
		Purpose:  evt.Purpose,
		Status:   "IN",
		DeviceID: evt.DeviceID,
	}), true
}

// ApplyCheckOut stamps the entry for this visit, or the latest open entry
// when the visit was never mirrored. A visit missing entirely is appended
// closed.
func ApplyCheckOut(entries []student.VisitEntry, evt VisitEvent) ([]student.VisitEntry, bool) {
	if evt.TimeOut == nil {
		return entries, false
	}
	out := *evt.TimeOut
	idx := indexByTimeIn(entries, evt.TimeIn)
	if idx >= 0 && !entries[idx].Open() {
		return entries, false
	}
	if idx < 0 {
		idx = student.LatestOpen(entries)
	}
	if idx < 0 {
		in := evt.TimeIn
		return append(entries, student.VisitEntry{
			TimeIn:   &in,
			TimeOut:  &out,
			Purpose:  evt.Purpose,
			Status:   "OUT",
			DeviceID: evt.DeviceID,
		}), true
	}
	entries[idx].TimeOut = &out
	entries[idx].Status = "OUT"
	return entries, true
}
