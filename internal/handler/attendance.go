package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kioskscan/internal/attendance"
	"kioskscan/internal/httpmiddleware"
)

type scanRequest struct {
	QR string `json:"qr"`
}

// Scan resolves a raw scanner payload and tells the kiosk whether the
// student is timing in or out.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.QR == "" {
		badRequest(c, "qr required")
		return
	}
	res, err := h.att.Scan(c.Request.Context(), req.QR)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// TimeIn opens a visit.
func (h *Handler) TimeIn(c *gin.Context) {
	var req attendance.CheckInInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = c.GetHeader(httpmiddleware.DeviceHeader)
	}
	v, err := h.att.TimeIn(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Time In recorded", "session": v, "studentId": v.StudentID})
}

type timeOutRequest struct {
	StudentID string `json:"studentId"`
}

// TimeOut closes the student's open visit.
func (h *Handler) TimeOut(c *gin.Context) {
	var req timeOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	out, err := h.att.TimeOut(c.Request.Context(), req.StudentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "Time Out recorded",
		"session":    out.Session,
		"durationMs": out.DurationMs,
		"studentId":  out.Session.StudentID,
	})
}

// Recent is the paginated visit feed.
func (h *Handler) Recent(c *gin.Context) {
	page, err := h.att.Recent(c.Request.Context(), listFilter(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// StudentHistory pages through one student's visits.
func (h *Handler) StudentHistory(c *gin.Context) {
	page, err := h.att.StudentHistory(c.Request.Context(), c.Param("id"), listFilter(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// listFilter reads paging, sort and filter query parameters. Unparsable
// numbers fall back to defaults.
func listFilter(c *gin.Context) attendance.ListFilter {
	f := attendance.ListFilter{
		Q:        c.Query("q"),
		Purpose:  c.Query("purpose"),
		Status:   c.Query("status"),
		DeviceID: c.Query("deviceId"),
		Kiosk:    c.Query("kiosk"),
		SortBy:   c.Query("sortBy"),
		Order:    c.Query("order"),
	}
	f.Page, _ = strconv.Atoi(c.Query("page"))
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	return f
}
