// Package daterange turns ?date= query values into day boundaries.
package daterange

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidDate is returned for values that are neither YYYY-MM-DD nor
// RFC 3339.
var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// Day returns [start, end) of the calendar day named by s in loc. An empty s
// means the day containing now.
func Day(s string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	ref := now.In(loc)
	if s = strings.TrimSpace(s); s != "" {
		t, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			ts, err2 := time.Parse(time.RFC3339, s)
			if err2 != nil {
				return time.Time{}, time.Time{}, ErrInvalidDate
			}
			t = ts.In(loc)
		}
		ref = t
	}
	start := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
