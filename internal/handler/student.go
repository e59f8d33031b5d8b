package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kioskscan/internal/student"
)

const photoField = "photo"

// maxPhotoBytes bounds multipart photo uploads.
const maxPhotoBytes = 8 << 20

// ListStudents returns every student.
func (h *Handler) ListStudents(c *gin.Context) {
	list, err := h.students.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetStudent returns one student with the embedded visit mirror.
func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GenerateStudentNo proposes the next free student number.
func (h *Handler) GenerateStudentNo(c *gin.Context) {
	no, err := h.students.NextStudentNo(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"studentNo": no})
}

type createStudentRequest struct {
	student.CreateInput
	Photo string `json:"photo" form:"photo"`
}

// CreateStudent enrolls a student from JSON or a multipart form with an
// optional photo file.
func (h *Handler) CreateStudent(c *gin.Context) {
	var req createStudentRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	photo, err := photoFromRequest(c, req.Photo)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	st, err := h.students.Create(c.Request.Context(), req.CreateInput, photo)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// UpdateStudent applies a partial profile edit.
func (h *Handler) UpdateStudent(c *gin.Context) {
	var req student.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	st, err := h.students.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// UploadPhoto replaces a student's photo.
func (h *Handler) UploadPhoto(c *gin.Context) {
	var body struct {
		Photo string `json:"photo" form:"photo"`
	}
	if !isMultipart(c) {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	photo, err := photoFromRequest(c, body.Photo)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if photo == nil {
		h.fail(c, student.ErrInvalidPhoto)
		return
	}
	st, err := h.students.UploadPhoto(c.Request.Context(), c.Param("id"), *photo)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Photo uploaded", "photo": st.Photo, "student": st})
}

// StudentQR serves the student's QR code as a PNG.
func (h *Handler) StudentQR(c *gin.Context) {
	png, err := h.students.QRCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// photoFromRequest prefers an uploaded file over a URL field. It returns nil
// when neither is present.
func photoFromRequest(c *gin.Context, url string) (*student.Photo, error) {
	if isMultipart(c) {
		fh, err := c.FormFile(photoField)
		if err == nil {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, maxPhotoBytes+1))
			if err != nil {
				return nil, err
			}
			if len(data) > maxPhotoBytes {
				return nil, errPhotoTooLarge
			}
			return &student.Photo{Data: data, MIME: fh.Header.Get("Content-Type")}, nil
		}
		if url == "" {
			url = c.PostForm(photoField)
		}
	}
	if url = strings.TrimSpace(url); url == "" {
		return nil, nil
	}
	return &student.Photo{URL: url}, nil
}
