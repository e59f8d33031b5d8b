package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"kioskscan/internal/activity"
	"kioskscan/internal/metrics"
	"kioskscan/internal/mirror"
	"kioskscan/internal/qr"
	"kioskscan/internal/queue"
	"kioskscan/internal/student"
)

// DefaultHistoryWindow is how many recent visits feed DeriveAction.
const DefaultHistoryWindow = 20

// Ledger is the visit store.
type Ledger interface {
	AppendCheckIn(ctx context.Context, v Visit) (Visit, error)
	FindActive(ctx context.Context, studentID string) (*Visit, error)
	CloseActive(ctx context.Context, studentID string, at time.Time) (*Visit, error)
	History(ctx context.Context, studentID string, limit int) ([]Visit, error)
	ExistsAt(ctx context.Context, studentID string, timeIn time.Time) (bool, error)
	List(ctx context.Context, f ListFilter) ([]Visit, int, error)
}

// Resolver finds the student behind a scan payload.
type Resolver interface {
	Resolve(ctx context.Context, p qr.Payload) (*student.Student, string, error)
}

// Students is the student row access the service needs, including the
// embedded visit list for legacy sessions.
type Students interface {
	FindByID(ctx context.Context, id string) (*student.Student, error)
	SaveVisits(ctx context.Context, studentID string, entries []student.VisitEntry) error
}

// Publisher broadcasts live activity.
type Publisher interface {
	Publish(evt activity.Event) int
}

// ScanResult is the answer to a kiosk scan.
type ScanResult struct {
	Student       *student.Student `json:"student"`
	Allowed       bool             `json:"allowed"`
	Action        Action           `json:"action"`
	ActiveSession *Visit           `json:"activeSession"`
}

// CheckInInput is a time-in request.
type CheckInInput struct {
	StudentID string `json:"studentId"`
	Purpose   string `json:"purpose"`
	DeviceID  string `json:"deviceId"`
	Kiosk     string `json:"kiosk"`
	Notes     string `json:"notes"`
}

// CheckOut is a closed session and how long it lasted.
type CheckOut struct {
	Session    Visit `json:"session"`
	DurationMs int64 `json:"durationMs"`
}

// ActivityData is the payload of time_in/time_out activity events.
type ActivityData struct {
	Student    *StudentSummary `json:"student"`
	Visit      Visit           `json:"visit"`
	DurationMs int64           `json:"durationMs,omitempty"`
}

// Service coordinates scans, check-ins and check-outs.
type Service struct {
	resolver Resolver
	students Students
	ledger   Ledger
	sync     queue.Queue
	events   Publisher
	window   int
	now      func() time.Time
	log      *zap.Logger
}

// Options configures a Service. Sync and Events may be nil.
type Options struct {
	Sync          queue.Queue
	Events        Publisher
	HistoryWindow int
	Logger        *zap.Logger
}

// NewService wires the scan pipeline to its stores.
func NewService(resolver Resolver, students Students, ledger Ledger, opts Options) *Service {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		resolver: resolver,
		students: students,
		ledger:   ledger,
		sync:     opts.Sync,
		events:   opts.Events,
		window:   opts.HistoryWindow,
		now:      time.Now,
		log:      opts.Logger,
	}
}

// Scan recovers the payload from raw scanner text, resolves the student and
// derives whether this scan checks in or out. It records nothing.
func (s *Service) Scan(ctx context.Context, raw string) (ScanResult, error) {
	s.log.Debug("scan received", zap.String("raw", raw))
	payload, strategy := qr.Recover(raw)
	metrics.PayloadRecovery.WithLabelValues(string(strategy)).Inc()
	s.log.Debug("payload recovered", zap.String("strategy", string(strategy)), zap.Any("payload", payload))

	if payload.Empty() {
		metrics.Scans.WithLabelValues("not_found").Inc()
		return ScanResult{}, student.ErrNotFound
	}
	st, how, err := s.resolver.Resolve(ctx, payload)
	if err != nil {
		if errors.Is(err, student.ErrNotFound) {
			metrics.Scans.WithLabelValues("not_found").Inc()
			s.log.Warn("student not found for payload", zap.Any("payload", payload), zap.String("strategy", string(strategy)))
		} else {
			metrics.Scans.WithLabelValues("error").Inc()
		}
		return ScanResult{}, err
	}

	history, err := s.ledger.History(ctx, st.ID, s.window)
	if err != nil {
		metrics.Scans.WithLabelValues("error").Inc()
		return ScanResult{}, err
	}
	action, active := DeriveAction(history)
	if active == nil {
		legacy, _, err := s.legacyActive(ctx, st)
		if err != nil {
			metrics.Scans.WithLabelValues("error").Inc()
			return ScanResult{}, err
		}
		if legacy != nil {
			action, active = ActionTimeOut, legacy
		}
	}

	metrics.Scans.WithLabelValues("resolved").Inc()
	s.log.Info("scan resolved",
		zap.String("student_id", st.ID),
		zap.String("student_no", st.StudentNo),
		zap.String("matched_by", how),
		zap.String("action", string(action)))
	return ScanResult{Student: st, Allowed: true, Action: action, ActiveSession: active}, nil
}

// legacyActive finds the latest open embedded entry that has no ledger row.
// Embedded entries that do have one only mirror it and may be stale.
func (s *Service) legacyActive(ctx context.Context, st *student.Student) (*Visit, int, error) {
	for i := len(st.Visits) - 1; i >= 0; i-- {
		e := st.Visits[i]
		if !e.Open() {
			continue
		}
		known, err := s.ledger.ExistsAt(ctx, st.ID, *e.TimeIn)
		if err != nil {
			return nil, -1, err
		}
		if known {
			continue
		}
		v := FromEntry(st.ID, e)
		return &v, i, nil
	}
	return nil, -1, nil
}

func (s *Service) student(ctx context.Context, id string) (*student.Student, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrStudentIDMissing
	}
	st, err := s.students.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, student.ErrNotFound
	}
	return st, nil
}

// TimeIn opens a visit for the student. A student can hold one open visit;
// the ledger's unique index settles concurrent check-ins.
func (s *Service) TimeIn(ctx context.Context, in CheckInInput) (Visit, error) {
	st, err := s.student(ctx, in.StudentID)
	if err != nil {
		return Visit{}, err
	}
	open, err := s.ledger.FindActive(ctx, st.ID)
	if err != nil {
		return Visit{}, err
	}
	if open != nil {
		return Visit{}, ErrActiveSession
	}
	v, err := s.ledger.AppendCheckIn(ctx, Visit{
		StudentID: st.ID,
		TimeIn:    s.now().UTC(),
		Purpose:   strings.TrimSpace(in.Purpose),
		DeviceID:  strings.TrimSpace(in.DeviceID),
		Kiosk:     strings.TrimSpace(in.Kiosk),
		Notes:     strings.TrimSpace(in.Notes),
	})
	if err != nil {
		return Visit{}, err
	}
	metrics.Visits.WithLabelValues("time_in").Inc()
	s.log.Info("time in recorded", zap.String("student_id", st.ID), zap.String("visit_id", v.ID), zap.String("device_id", v.DeviceID))

	s.enqueueMirror(ctx, mirror.TypeCheckIn, v)
	s.publish(activity.TypeTimeIn, st, v, 0)
	return v, nil
}

// TimeOut closes the student's open visit. Students whose only open session
// is a legacy embedded entry have that entry closed instead.
func (s *Service) TimeOut(ctx context.Context, studentID string) (CheckOut, error) {
	st, err := s.student(ctx, studentID)
	if err != nil {
		return CheckOut{}, err
	}
	now := s.now().UTC()
	v, err := s.ledger.CloseActive(ctx, st.ID, now)
	if err != nil {
		return CheckOut{}, err
	}
	if v != nil {
		out := CheckOut{Session: *v, DurationMs: v.Duration().Milliseconds()}
		metrics.Visits.WithLabelValues("time_out").Inc()
		s.log.Info("time out recorded", zap.String("student_id", st.ID), zap.String("visit_id", v.ID), zap.Int64("duration_ms", out.DurationMs))
		s.enqueueMirror(ctx, mirror.TypeCheckOut, *v)
		s.publish(activity.TypeTimeOut, st, *v, out.DurationMs)
		return out, nil
	}

	legacy, idx, err := s.legacyActive(ctx, st)
	if err != nil {
		return CheckOut{}, err
	}
	if legacy == nil {
		return CheckOut{}, ErrNoActiveSession
	}
	st.Visits[idx].TimeOut = &now
	st.Visits[idx].Status = string(StatusOut)
	if err := s.students.SaveVisits(ctx, st.ID, st.Visits); err != nil {
		return CheckOut{}, err
	}
	legacy.TimeOut = &now
	legacy.Status = StatusOut
	out := CheckOut{Session: *legacy, DurationMs: legacy.Duration().Milliseconds()}
	metrics.Visits.WithLabelValues("time_out_legacy").Inc()
	s.log.Info("legacy session closed", zap.String("student_id", st.ID), zap.Int64("duration_ms", out.DurationMs))
	s.publish(activity.TypeTimeOut, st, *legacy, out.DurationMs)
	return out, nil
}

// enqueueMirror hands the visit to the mirror sync. Failures only log.
func (s *Service) enqueueMirror(ctx context.Context, typ string, v Visit) {
	if s.sync == nil {
		return
	}
	evt := mirror.VisitEvent{
		StudentID: v.StudentID,
		VisitID:   v.ID,
		TimeIn:    v.TimeIn,
		TimeOut:   v.TimeOut,
		Purpose:   v.Purpose,
		DeviceID:  v.DeviceID,
	}
	msg, err := queue.NewMessage(typ, evt)
	if err == nil {
		err = s.sync.Publish(ctx, msg)
	}
	if err != nil {
		metrics.MirrorSync.WithLabelValues("enqueue_error").Inc()
		s.log.Warn("mirror sync enqueue failed", zap.String("visit_id", v.ID), zap.Error(err))
	}
}

func (s *Service) publish(typ string, st *student.Student, v Visit, durationMs int64) {
	if s.events == nil {
		return
	}
	s.events.Publish(activity.Event{
		Type: typ,
		At:   s.now().UTC(),
		Data: ActivityData{Student: Summarize(st), Visit: v, DurationMs: durationMs},
	})
}

// Recent lists visits across all students.
func (s *Service) Recent(ctx context.Context, f ListFilter) (Page, error) {
	f = f.Normalize(DefaultRecentLimit)
	f.StudentID = ""
	visits, total, err := s.ledger.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	return NewPage(visits, f, total), nil
}

// StudentHistory lists one student's visits. Q searches purpose and notes.
func (s *Service) StudentHistory(ctx context.Context, studentID string, f ListFilter) (Page, error) {
	st, err := s.student(ctx, studentID)
	if err != nil {
		return Page{}, err
	}
	f = f.Normalize(DefaultHistoryLimit)
	f.StudentID = st.ID
	visits, total, err := s.ledger.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	return NewPage(visits, f, total), nil
}
