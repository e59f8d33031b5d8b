// Package export renders the attendance report as CSV or XLSX.
package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"kioskscan/internal/daterange"
)

// Formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var ErrUnknownFormat = errors.New("unknown export format, expected csv or xlsx")

// Headers are the report columns in order.
var Headers = []string{"studentNo", "name", "course", "level", "purpose", "timeIn", "timeOut", "duration", "status"}

const sheetName = "Attendance"

// Row is one visit in the report.
type Row struct {
	StudentNo string
	Name      string
	Course    string
	Level     string
	Purpose   string
	TimeIn    time.Time
	TimeOut   *time.Time
	Status    string
}

// FormatDuration renders a closed visit's length as "Xh Ym" or "Ym",
// rounded to the minute. Open visits and non-positive spans are blank.
func FormatDuration(in time.Time, out *time.Time) string {
	if out == nil || in.IsZero() || !out.After(in) {
		return ""
	}
	total := int(math.Round(out.Sub(in).Minutes()))
	h, m := total/60, total%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func (r Row) record(loc *time.Location) []string {
	timeOut := ""
	if r.TimeOut != nil {
		timeOut = r.TimeOut.In(loc).Format(time.RFC3339)
	}
	return []string{
		r.StudentNo,
		r.Name,
		r.Course,
		r.Level,
		r.Purpose,
		r.TimeIn.In(loc).Format(time.RFC3339),
		timeOut,
		FormatDuration(r.TimeIn, r.TimeOut),
		r.Status,
	}
}

// WriteCSV writes the header and one line per row.
func WriteCSV(w io.Writer, rows []Row, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Headers); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.record(loc)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook with a styled header row.
func WriteXLSX(w io.Writer, rows []Row, loc *time.Location) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	last := colName(len(Headers) - 1)
	f.SetColWidth(sheetName, "A", last, 16)
	f.SetColWidth(sheetName, "B", "B", 28)
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for i, h := range Headers {
		f.SetCellValue(sheetName, cell(colName(i), 1), h)
	}
	f.SetCellStyle(sheetName, "A1", cell(last, 1), headerStyle)

	for n, r := range rows {
		for i, v := range r.record(loc) {
			f.SetCellValue(sheetName, cell(colName(i), n+2), v)
		}
	}
	return f.Write(w)
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

// Store supplies report rows. A nil range means every visit.
type Store interface {
	Rows(ctx context.Context, from, to *time.Time) ([]Row, error)
}

// Repository reads report rows from the visit ledger.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Rows returns visits joined with their student, oldest first.
func (r *Repository) Rows(ctx context.Context, from, to *time.Time) ([]Row, error) {
	query := `
		SELECT s.student_no, s.first_name, s.last_name, s.course, s.level,
			v.purpose, v.time_in, v.time_out, v.status
		FROM visits v JOIN students s ON s.id = v.student_id`
	var args []any
	if from != nil && to != nil {
		query += ` WHERE v.time_in >= $1 AND v.time_in < $2`
		args = append(args, *from, *to)
	}
	query += ` ORDER BY v.time_in`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Row
	for rows.Next() {
		var (
			row         Row
			first, last string
		)
		if err := rows.Scan(&row.StudentNo, &first, &last, &row.Course, &row.Level,
			&row.Purpose, &row.TimeIn, &row.TimeOut, &row.Status); err != nil {
			return nil, err
		}
		row.Name = strings.TrimSpace(first + " " + last)
		res = append(res, row)
	}
	return res, rows.Err()
}

// Service builds attendance reports.
type Service struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

// NewService creates a service. Times are rendered in loc.
func NewService(store Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: store, loc: loc, now: time.Now}
}

// Write renders the report for day (empty for every visit) in format to w.
// It returns the suggested file name.
func (s *Service) Write(ctx context.Context, w io.Writer, day, format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		return "", ErrUnknownFormat
	}

	var from, to *time.Time
	name := "attendance"
	if strings.TrimSpace(day) != "" {
		start, end, err := daterange.Day(day, s.loc, s.now())
		if err != nil {
			return "", err
		}
		from, to = &start, &end
		name += "-" + start.Format("2006-01-02")
	}
	rows, err := s.store.Rows(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("load report rows: %w", err)
	}

	if format == FormatXLSX {
		return name + ".xlsx", WriteXLSX(w, rows, s.loc)
	}
	return name + ".csv", WriteCSV(w, rows, s.loc)
}

// ContentType returns the MIME type for a format.
func ContentType(format string) string {
	if strings.EqualFold(format, FormatXLSX) {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}
