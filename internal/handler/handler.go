// Package handler exposes the kiosk, student, dashboard and admin
// operations over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kioskscan/internal/activity"
	"kioskscan/internal/attendance"
	"kioskscan/internal/auth"
	"kioskscan/internal/dashboard"
	"kioskscan/internal/daterange"
	"kioskscan/internal/export"
	"kioskscan/internal/student"
)

const defaultPingInterval = 20 * time.Second

// Attendance is the kiosk pipeline.
type Attendance interface {
	Scan(ctx context.Context, raw string) (attendance.ScanResult, error)
	TimeIn(ctx context.Context, in attendance.CheckInInput) (attendance.Visit, error)
	TimeOut(ctx context.Context, studentID string) (attendance.CheckOut, error)
	Recent(ctx context.Context, f attendance.ListFilter) (attendance.Page, error)
	StudentHistory(ctx context.Context, studentID string, f attendance.ListFilter) (attendance.Page, error)
}

// Students is enrollment and profile management.
type Students interface {
	Get(ctx context.Context, id string) (*student.Student, error)
	List(ctx context.Context) ([]student.Student, error)
	NextStudentNo(ctx context.Context) (string, error)
	Create(ctx context.Context, in student.CreateInput, photo *student.Photo) (*student.Student, error)
	Update(ctx context.Context, id string, in student.UpdateInput) (*student.Student, error)
	UploadPhoto(ctx context.Context, id string, photo student.Photo) (*student.Student, error)
	QRCode(ctx context.Context, id string) ([]byte, error)
}

// Dashboard answers the monitor screen queries.
type Dashboard interface {
	MonitorStats(ctx context.Context, day string) (dashboard.Stats, error)
	TimedInStudents(ctx context.Context, day string) ([]dashboard.VisitedStudent, error)
	StudentsByDate(ctx context.Context, day string) ([]dashboard.VisitedStudent, error)
}

// Exporter renders attendance reports.
type Exporter interface {
	Write(ctx context.Context, w io.Writer, day, format string) (string, error)
}

// Admins is login, logout and account settings.
type Admins interface {
	Login(ctx context.Context, username, email, password string) (auth.Token, error)
	Logout(ctx context.Context, token string) error
	UpdateSettings(ctx context.Context, adminID string, in auth.SettingsInput) (*auth.Admin, error)
}

// Events is the live activity feed.
type Events interface {
	Subscribe() (<-chan activity.Event, func())
}

// Deps are the services behind the handlers.
type Deps struct {
	Attendance Attendance
	Students   Students
	Dashboard  Dashboard
	Export     Exporter
	Admins     Admins
	Events     Events
	Logger     *zap.Logger
}

// Handler serves the /api routes.
type Handler struct {
	att          Attendance
	students     Students
	dash         Dashboard
	export       Exporter
	admins       Admins
	events       Events
	log          *zap.Logger
	pingInterval time.Duration
}

// New creates a Handler.
func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		att:          d.Attendance,
		students:     d.Students,
		dash:         d.Dashboard,
		export:       d.Export,
		admins:       d.Admins,
		events:       d.Events,
		log:          d.Logger,
		pingInterval: defaultPingInterval,
	}
}

// Register mounts every route on api. requireAdmin guards the routes that
// change students or admin accounts.
func (h *Handler) Register(api *gin.RouterGroup, requireAdmin gin.HandlerFunc) {
	att := api.Group("/attendance")
	att.POST("/scan", h.Scan)
	att.POST("/time-in", h.TimeIn)
	att.POST("/time-out", h.TimeOut)
	att.GET("/recent", h.Recent)

	st := api.Group("/students")
	st.GET("", h.ListStudents)
	st.GET("/generateNo", requireAdmin, h.GenerateStudentNo)
	st.POST("", requireAdmin, h.CreateStudent)
	st.GET("/:id", h.GetStudent)
	st.PATCH("/:id", requireAdmin, h.UpdateStudent)
	st.POST("/:id/photo", requireAdmin, h.UploadPhoto)
	st.GET("/:id/history", h.StudentHistory)
	st.GET("/:id/qr", requireAdmin, h.StudentQR)

	dash := api.Group("/dashboard")
	dash.GET("/monitor-stats", h.MonitorStats)
	dash.GET("/timed-in-students", h.TimedInStudents)
	dash.GET("/all-students-by-date", h.StudentsByDate)

	api.GET("/export/attendance", h.ExportAttendance)

	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", requireAdmin, h.Logout)
	api.PATCH("/admin/settings", requireAdmin, h.UpdateSettings)

	api.GET("/activity/stream", h.ActivityStream)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// fail maps service errors onto status codes. Unknown errors are logged and
// reported as 500 without detail.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, student.ErrNotFound), errors.Is(err, auth.ErrAdminNotFound):
		status = http.StatusNotFound
	case errors.Is(err, attendance.ErrActiveSession),
		errors.Is(err, student.ErrDuplicateNumber),
		errors.Is(err, auth.ErrAdminTaken):
		status = http.StatusConflict
	case errors.Is(err, attendance.ErrNoActiveSession),
		errors.Is(err, attendance.ErrStudentIDMissing),
		errors.Is(err, student.ErrInvalidInput),
		errors.Is(err, student.ErrInvalidPhoto),
		errors.Is(err, daterange.ErrInvalidDate),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, auth.ErrCurrentPassword),
		errors.Is(err, auth.ErrNoToken):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrWrongPassword):
		status = http.StatusForbidden
	case errors.Is(err, student.ErrPhotoUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

var errPhotoTooLarge = errors.New("photo too large")
