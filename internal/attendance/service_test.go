package attendance

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"testing"
	"time"

	"kioskscan/internal/activity"
	"kioskscan/internal/mirror"
	"kioskscan/internal/queue"
	"kioskscan/internal/student"
)

// ── Fakes ──

type fakeStudents struct {
	byID  map[string]*student.Student
	saved map[string][]student.VisitEntry
}

func newFakeStudents(students ...*student.Student) *fakeStudents {
	f := &fakeStudents{byID: map[string]*student.Student{}, saved: map[string][]student.VisitEntry{}}
	for _, st := range students {
		f.byID[st.ID] = st
	}
	return f
}

func (f *fakeStudents) FindByID(_ context.Context, id string) (*student.Student, error) {
	st, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	cp.Visits = append([]student.VisitEntry(nil), st.Visits...)
	return &cp, nil
}

func (f *fakeStudents) FindByStudentNo(_ context.Context, pattern string, fuzzy bool) (*student.Student, error) {
	ids := make([]string, 0, len(f.byID))
	for id := range f.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		st := f.byID[id]
		if fuzzy {
			if regexp.MustCompile("(?i)" + pattern).MatchString(st.StudentNo) {
				return st, nil
			}
		} else if st.StudentNo == pattern {
			return st, nil
		}
	}
	return nil, nil
}

func (f *fakeStudents) Exists(ctx context.Context, no string) (bool, error) {
	st, err := f.FindByStudentNo(ctx, no, false)
	return st != nil, err
}

func (f *fakeStudents) SaveVisits(_ context.Context, id string, entries []student.VisitEntry) error {
	f.saved[id] = entries
	f.byID[id].Visits = entries
	return nil
}

type fakeLedger struct {
	visits []Visit
	seq    int
}

func (l *fakeLedger) AppendCheckIn(_ context.Context, v Visit) (Visit, error) {
	for _, existing := range l.visits {
		if existing.StudentID == v.StudentID && existing.Active() {
			return Visit{}, ErrActiveSession
		}
	}
	l.seq++
	v.ID = "v" + itoa(l.seq)
	v.Status = StatusIn
	l.visits = append(l.visits, v)
	return v, nil
}

func (l *fakeLedger) FindActive(_ context.Context, studentID string) (*Visit, error) {
	_, active := DeriveAction(l.forStudent(studentID))
	return active, nil
}

func (l *fakeLedger) CloseActive(_ context.Context, studentID string, at time.Time) (*Visit, error) {
	var idx = -1
	for i, v := range l.visits {
		if v.StudentID == studentID && v.Active() && (idx < 0 || !v.TimeIn.Before(l.visits[idx].TimeIn)) {
			idx = i
		}
	}
	if idx < 0 {
		return nil, nil
	}
	l.visits[idx].TimeOut = &at
	l.visits[idx].Status = StatusOut
	v := l.visits[idx]
	return &v, nil
}

func (l *fakeLedger) forStudent(id string) []Visit {
	var out []Visit
	for _, v := range l.visits {
		if v.StudentID == id {
			out = append(out, v)
		}
	}
	return out
}

func (l *fakeLedger) History(_ context.Context, studentID string, limit int) ([]Visit, error) {
	out := l.forStudent(studentID)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (l *fakeLedger) ExistsAt(_ context.Context, studentID string, timeIn time.Time) (bool, error) {
	for _, v := range l.forStudent(studentID) {
		if mirror.SameInstant(v.TimeIn, timeIn) {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) List(_ context.Context, f ListFilter) ([]Visit, int, error) {
	all := l.visits
	if f.StudentID != "" {
		all = l.forStudent(f.StudentID)
	}
	start := f.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

type recordingQueue struct{ msgs []queue.Message }

func (q *recordingQueue) Publish(_ context.Context, msg queue.Message) error {
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *recordingQueue) Consume(context.Context) (<-chan queue.Message, error) { return nil, nil }

var clock = time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	students *fakeStudents
	ledger   *fakeLedger
	queue    *recordingQueue
	hub      *activity.Hub
}

func newFixture(students ...*student.Student) fixture {
	fs := newFakeStudents(students...)
	ledger := &fakeLedger{}
	q := &recordingQueue{}
	hub := activity.NewHub()
	svc := NewService(student.NewResolver(fs, 0, nil), fs, ledger, Options{Sync: q, Events: hub})
	svc.now = func() time.Time { return clock }
	return fixture{svc: svc, students: fs, ledger: ledger, queue: q, hub: hub}
}

// ── Scan ──

func TestScanEndToEnd(t *testing.T) {
	s2 := &student.Student{ID: "stu-2", StudentNo: "S25-02", FirstName: "Ben"}
	fx := newFixture(&student.Student{ID: "stu-1", StudentNo: "S25-01"}, s2)
	fx.ledger.visits = []Visit{
		{ID: "old", StudentID: "stu-2", TimeIn: clock.Add(-48 * time.Hour), TimeOut: ptr(clock.Add(-47 * time.Hour))},
		{ID: "open", StudentID: "stu-2", TimeIn: clock.Add(-time.Hour)},
	}

	res, err := fx.svc.Scan(context.Background(), "studentNo: SS2255--0022 status done")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Student.ID != "stu-2" {
		t.Fatalf("resolved %s, want stu-2", res.Student.ID)
	}
	if !res.Allowed || res.Action != ActionTimeOut {
		t.Fatalf("result = %+v", res)
	}
	if res.ActiveSession == nil || res.ActiveSession.ID != "open" {
		t.Fatalf("active session = %+v, want the open visit", res.ActiveSession)
	}
}

func TestScanClosedHistoryChecksIn(t *testing.T) {
	fx := newFixture(&student.Student{ID: "stu-1", StudentNo: "S25-01"})
	fx.ledger.visits = []Visit{{StudentID: "stu-1", TimeIn: clock.Add(-2 * time.Hour), TimeOut: ptr(clock.Add(-time.Hour))}}

	res, err := fx.svc.Scan(context.Background(), `{"studentNo":"S25-01"}`)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Action != ActionTimeIn || res.ActiveSession != nil {
		t.Fatalf("result = %+v", res)
	}
}

func TestScanNotFound(t *testing.T) {
	fx := newFixture(&student.Student{ID: "stu-1", StudentNo: "S25-01"})
	for _, raw := range []string{"", "   ", `{"studentNo":"S99-99"}`} {
		if _, err := fx.svc.Scan(context.Background(), raw); !errors.Is(err, student.ErrNotFound) {
			t.Errorf("Scan(%q) err = %v, want ErrNotFound", raw, err)
		}
	}
}

func TestScanPrintedQRCode(t *testing.T) {
	st := &student.Student{ID: "3f2a9c11-7b44-4e0d-9aa1-0c5e77d2b6f0", StudentNo: "S25-281101"}
	fx := newFixture(&student.Student{ID: "stu-1", StudentNo: "S25-01"}, st)

	res, err := fx.svc.Scan(context.Background(), student.QRPayload(st))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Student.ID != st.ID || res.Action != ActionTimeIn {
		t.Fatalf("result = %+v", res)
	}
}

func TestScanUnknownIDFallsBackToStudentNo(t *testing.T) {
	fx := newFixture(&student.Student{ID: "stu-2", StudentNo: "S25-02"})
	inputs := []string{
		`{"id":"0aa41e77-5d3c-4b88-9f00-2b6e11c4d9aa","studentNo":"S25-02"}`,
		`{"studentNo":"S25-02","kioskId":"K1"}`,
		`{"studentNo":"S25-02","device_id":"tab-3"}`,
	}
	for _, raw := range inputs {
		res, err := fx.svc.Scan(context.Background(), raw)
		if err != nil {
			t.Errorf("Scan(%s): %v", raw, err)
			continue
		}
		if res.Student.ID != "stu-2" {
			t.Errorf("Scan(%s) resolved %s, want stu-2", raw, res.Student.ID)
		}
	}
}

func TestScanValidJSONKeepsLongNumber(t *testing.T) {
	// The collapsed form of S25-001101 is another student's number.
	fx := newFixture(
		&student.Student{ID: "stu-1", StudentNo: "S25-0101"},
		&student.Student{ID: "stu-2", StudentNo: "S25-001101"},
	)
	res, err := fx.svc.Scan(context.Background(), `{"studentNo":"S25-001101"}`)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Student.ID != "stu-2" {
		t.Fatalf("resolved %s, want stu-2", res.Student.ID)
	}
}

func TestScanLegacyOpenEntry(t *testing.T) {
	legacyIn := clock.Add(-3 * time.Hour)
	st := &student.Student{ID: "stu-1", StudentNo: "S25-01", Visits: []student.VisitEntry{{TimeIn: &legacyIn, Status: "IN"}}}

	fx := newFixture(st)
	res, err := fx.svc.Scan(context.Background(), "S25-01")
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionTimeOut || res.ActiveSession == nil || !res.ActiveSession.TimeIn.Equal(legacyIn) {
		t.Fatalf("legacy open entry should be the active session: %+v", res)
	}

	// Once the ledger has the row (closed), the stale mirror copy is ignored.
	fx.ledger.visits = []Visit{{StudentID: "stu-1", TimeIn: legacyIn, TimeOut: ptr(clock)}}
	res, err = fx.svc.Scan(context.Background(), "S25-01")
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != ActionTimeIn {
		t.Fatalf("action = %s, want TIME_IN", res.Action)
	}
}

// ── Time in / time out ──

func TestTimeInThenTimeOut(t *testing.T) {
	fx := newFixture(&student.Student{ID: "stu-1", StudentNo: "S25-01"})
	events, unsub := fx.hub.Subscribe()
	defer unsub()
	ctx := context.Background()

	v, err := fx.svc.TimeIn(ctx, CheckInInput{StudentID: "stu-1", Purpose: " Study ", DeviceID: "kiosk-1"})
	if err != nil {
		t.Fatalf("TimeIn: %v", err)
	}
	if v.Purpose != "Study" || v.Status != StatusIn || !v.TimeIn.Equal(clock) {
		t.Fatalf("visit = %+v", v)
	}
	if _, err := fx.svc.TimeIn(ctx, CheckInInput{StudentID: "stu-1"}); !errors.Is(err, ErrActiveSession) {
		t.Fatalf("second TimeIn err = %v, want ErrActiveSession", err)
	}

	fx.svc.now = func() time.Time { return clock.Add(90 * time.Minute) }
	out, err := fx.svc.TimeOut(ctx, "stu-1")
	if err != nil {
		t.Fatalf("TimeOut: %v", err)
	}
	if out.DurationMs != (90 * time.Minute).Milliseconds() || out.Session.Status != StatusOut {
		t.Fatalf("checkout = %+v", out)
	}
	if _, err := fx.svc.TimeOut(ctx, "stu-1"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("second TimeOut err = %v, want ErrNoActiveSession", err)
	}

	if len(fx.queue.msgs) != 2 || fx.queue.msgs[0].Type != mirror.TypeCheckIn || fx.queue.msgs[1].Type != mirror.TypeCheckOut {
		t.Fatalf("queued = %+v", fx.queue.msgs)
	}
	var evt mirror.VisitEvent
	if err := fx.queue.msgs[1].Decode(&evt); err != nil || evt.TimeOut == nil || evt.StudentID != "stu-1" {
		t.Fatalf("checkout message = %+v (%v)", evt, err)
	}

	for _, want := range []string{activity.TypeTimeIn, activity.TypeTimeOut} {
		select {
		case e := <-events:
			if e.Type != want {
				t.Fatalf("event = %s, want %s", e.Type, want)
			}
		default:
			t.Fatalf("missing %s event", want)
		}
	}
}

func TestTimeOutClosesLegacyEntry(t *testing.T) {
	legacyIn := clock.Add(-30 * time.Minute)
	fx := newFixture(&student.Student{ID: "stu-1", StudentNo: "S25-01", Visits: []student.VisitEntry{{TimeIn: &legacyIn, Status: "IN"}}})

	out, err := fx.svc.TimeOut(context.Background(), "stu-1")
	if err != nil {
		t.Fatalf("TimeOut: %v", err)
	}
	if out.DurationMs != (30 * time.Minute).Milliseconds() {
		t.Fatalf("duration = %d", out.DurationMs)
	}
	saved := fx.students.saved["stu-1"]
	if len(saved) != 1 || saved[0].Open() || saved[0].Status != "OUT" {
		t.Fatalf("saved = %+v", saved)
	}
}

func TestStudentIDValidation(t *testing.T) {
	fx := newFixture()
	if _, err := fx.svc.TimeIn(context.Background(), CheckInInput{}); !errors.Is(err, ErrStudentIDMissing) {
		t.Errorf("missing id: %v", err)
	}
	if _, err := fx.svc.TimeOut(context.Background(), "nobody"); !errors.Is(err, student.ErrNotFound) {
		t.Errorf("unknown id: %v", err)
	}
}

// ── Listing ──

func TestPagination(t *testing.T) {
	fx := newFixture(&student.Student{ID: "stu-1", StudentNo: "S25-01"})
	for i := 0; i < 25; i++ {
		fx.ledger.visits = append(fx.ledger.visits, Visit{StudentID: "stu-1", TimeIn: clock.Add(time.Duration(i) * time.Minute)})
	}

	page, err := fx.svc.Recent(context.Background(), ListFilter{Page: 3})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 25 || page.TotalPages != 3 || page.HasMore || len(page.Visits) != 5 || page.Limit != DefaultRecentLimit {
		t.Fatalf("page = %+v", page)
	}

	hist, err := fx.svc.StudentHistory(context.Background(), "stu-1", ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if hist.Limit != DefaultHistoryLimit || !hist.HasMore || len(hist.Visits) != 20 {
		t.Fatalf("history = %+v", hist)
	}

	empty := NewPage(nil, ListFilter{}.Normalize(10), 0)
	if empty.TotalPages != 1 || empty.HasMore || empty.Visits == nil {
		t.Fatalf("empty page = %+v", empty)
	}
}

func TestListFilterNormalize(t *testing.T) {
	f := ListFilter{Page: -1, Limit: 5000, SortBy: "nope", Order: "ASC", Q: "  ana "}.Normalize(10)
	if f.Page != 1 || f.Limit != MaxListLimit || f.SortBy != "timeIn" || f.Order != "asc" || f.Q != "ana" {
		t.Fatalf("normalized = %+v", f)
	}
	if got := likePattern(`50%_off\`); got != `%50\%\_off\\%` {
		t.Fatalf("likePattern = %s", got)
	}
}
