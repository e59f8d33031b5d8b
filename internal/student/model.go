package student

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("student not found")
	ErrDuplicateNumber = errors.New("student with this number already exists")
	ErrInvalidInput    = errors.New("invalid student input")
)

// Student is the identity anchor for visits.
type Student struct {
	ID            string       `json:"id"`
	StudentNo     string       `json:"studentNo"`
	FirstName     string       `json:"firstName"`
	MiddleName    string       `json:"middleName,omitempty"`
	MiddleInitial string       `json:"middleInitial,omitempty"`
	LastName      string       `json:"lastName"`
	Suffix        string       `json:"suffix,omitempty"`
	Course        string       `json:"course"`
	Level         string       `json:"level"`
	Photo         string       `json:"photo,omitempty"`
	QRCode        string       `json:"qrCode,omitempty"`
	Visits        []VisitEntry `json:"visits"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// FullName joins first and last name the way exports print it.
func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// VisitEntry is the legacy embedded copy of a visit kept on the student row.
// It may lag behind the visits table.
type VisitEntry struct {
	TimeIn   *time.Time `json:"timeIn,omitempty"`
	TimeOut  *time.Time `json:"timeOut,omitempty"`
	Purpose  string     `json:"purpose,omitempty"`
	Status   string     `json:"status,omitempty"`
	DeviceID string     `json:"deviceId,omitempty"`
}

// Open reports whether the entry has a time in and no time out.
func (e VisitEntry) Open() bool {
	return e.TimeIn != nil && e.TimeOut == nil
}

// LatestOpen returns the index of the last open entry, or -1.
func LatestOpen(entries []VisitEntry) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Open() {
			return i
		}
	}
	return -1
}

// MiddleInitial renders "M." from a middle name, or "" when blank.
func MiddleInitial(middleName string) string {
	m := strings.TrimSpace(middleName)
	if m == "" {
		return ""
	}
	r := []rune(m)
	return strings.ToUpper(string(r[0])) + "."
}

// FormatStudentNo renders S<YY>-<DD><MM><NN> for the given enrollment day
// and daily sequence.
func FormatStudentNo(day time.Time, seq int) string {
	return fmt.Sprintf("S%02d-%02d%02d%02d", day.Year()%100, day.Day(), int(day.Month()), seq)
}
