package handler

import (
	"bytes"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"kioskscan/internal/export"
)

// MonitorStats summarizes a day for the monitor screen.
func (h *Handler) MonitorStats(c *gin.Context) {
	stats, err := h.dash.MonitorStats(c.Request.Context(), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// TimedInStudents lists students who checked in on a day, capped.
func (h *Handler) TimedInStudents(c *gin.Context) {
	list, err := h.dash.TimedInStudents(c.Request.Context(), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// StudentsByDate lists every student who checked in on a day.
func (h *Handler) StudentsByDate(c *gin.Context) {
	list, err := h.dash.StudentsByDate(c.Request.Context(), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ExportAttendance downloads the visit report as CSV or XLSX.
func (h *Handler) ExportAttendance(c *gin.Context) {
	format := c.DefaultQuery("format", export.FormatCSV)
	var buf bytes.Buffer
	filename, err := h.export.Write(c.Request.Context(), &buf, c.Query("date"), format)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(filename))
	c.Data(http.StatusOK, export.ContentType(format), buf.Bytes())
}
