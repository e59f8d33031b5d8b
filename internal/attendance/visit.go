package attendance

import (
	"errors"
	"time"

	"kioskscan/internal/student"
)

var (
	ErrNoActiveSession  = errors.New("no active session found")
	ErrActiveSession    = errors.New("active session already open")
	ErrStudentIDMissing = errors.New("studentId required")
)

// Status of a visit row.
type Status string

const (
	StatusIn  Status = "IN"
	StatusOut Status = "OUT"
)

// Action is what the next scan for a student should do.
type Action string

const (
	ActionTimeIn  Action = "TIME_IN"
	ActionTimeOut Action = "TIME_OUT"
)

// Visit is one check-in/check-out pair. Legacy visits carried only on the
// student row have no ID.
type Visit struct {
	ID        string          `json:"id,omitempty"`
	StudentID string          `json:"studentId"`
	TimeIn    time.Time       `json:"timeIn"`
	TimeOut   *time.Time      `json:"timeOut,omitempty"`
	Purpose   string          `json:"purpose,omitempty"`
	Status    Status          `json:"status"`
	DeviceID  string          `json:"deviceId,omitempty"`
	Kiosk     string          `json:"kiosk,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt time.Time       `json:"createdAt,omitempty"`
	Student   *StudentSummary `json:"student,omitempty"`
}

// Active reports whether the visit has a time in and no time out.
func (v Visit) Active() bool {
	return !v.TimeIn.IsZero() && v.TimeOut == nil
}

// Duration is TimeOut - TimeIn, or 0 while open.
func (v Visit) Duration() time.Duration {
	if v.TimeOut == nil || v.TimeIn.IsZero() {
		return 0
	}
	return v.TimeOut.Sub(v.TimeIn)
}

// StudentSummary is the student card attached to visit listings.
type StudentSummary struct {
	ID            string `json:"id"`
	StudentNo     string `json:"studentNo"`
	FirstName     string `json:"firstName"`
	MiddleInitial string `json:"middleInitial,omitempty"`
	LastName      string `json:"lastName"`
	Course        string `json:"course"`
	Level         string `json:"level"`
	Photo         string `json:"photo,omitempty"`
}

// Summarize builds the card for a student.
func Summarize(st *student.Student) *StudentSummary {
	if st == nil {
		return nil
	}
	return &StudentSummary{
		ID:            st.ID,
		StudentNo:     st.StudentNo,
		FirstName:     st.FirstName,
		MiddleInitial: st.MiddleInitial,
		LastName:      st.LastName,
		Course:        st.Course,
		Level:         st.Level,
		Photo:         st.Photo,
	}
}

// FromEntry converts an embedded entry.
func FromEntry(studentID string, e student.VisitEntry) Visit {
	v := Visit{
		StudentID: studentID,
		TimeOut:   e.TimeOut,
		Purpose:   e.Purpose,
		Status:    Status(e.Status),
		DeviceID:  e.DeviceID,
	}
	if e.TimeIn != nil {
		v.TimeIn = *e.TimeIn
	}
	if v.Status == "" {
		v.Status = StatusIn
		if e.TimeOut != nil {
			v.Status = StatusOut
		}
	}
	return v
}
