package attendance

import "strings"

const (
	DefaultRecentLimit  = 10
	DefaultHistoryLimit = 20
	MaxListLimit        = 200
)

// ListFilter selects and orders visits for the recent feed and student
// history views.
type ListFilter struct {
	StudentID string
	Q         string
	Purpose   string
	Status    string
	DeviceID  string
	Kiosk     string
	SortBy    string // timeIn | timeOut
	Order     string // asc | desc
	Page      int
	Limit     int
}

// Normalize fills defaults and clamps paging.
func (f ListFilter) Normalize(defaultLimit int) ListFilter {
	f.Q = strings.TrimSpace(f.Q)
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.SortBy != "timeOut" {
		f.SortBy = "timeIn"
	}
	if strings.ToLower(f.Order) == "asc" {
		f.Order = "asc"
	} else {
		f.Order = "desc"
	}
	return f
}

// Offset is the number of rows skipped for the current page.
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is the paginated visit envelope.
type Page struct {
	Visits     []Visit `json:"visits"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	Total      int     `json:"total"`
	TotalPages int     `json:"totalPages"`
	HasMore    bool    `json:"hasMore"`
}

// NewPage builds the envelope. TotalPages is at least 1.
func NewPage(visits []Visit, f ListFilter, total int) Page {
	if visits == nil {
		visits = []Visit{}
	}
	pages := (total + f.Limit - 1) / f.Limit
	if pages < 1 {
		pages = 1
	}
	return Page{
		Visits:     visits,
		Page:       f.Page,
		Limit:      f.Limit,
		Total:      total,
		TotalPages: pages,
		HasMore:    f.Page < pages,
	}
}

// likePattern escapes LIKE wildcards and wraps s for a substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
