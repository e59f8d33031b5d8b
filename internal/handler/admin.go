package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kioskscan/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges admin credentials for a bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	tok, err := h.admins.Login(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

// Logout revokes the caller's token.
func (h *Handler) Logout(c *gin.Context) {
	if err := h.admins.Logout(c.Request.Context(), auth.TokenFrom(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// UpdateSettings edits the signed-in admin's account.
func (h *Handler) UpdateSettings(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok || claims.Subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing claims"})
		return
	}
	var req auth.SettingsInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	admin, err := h.admins.UpdateSettings(c.Request.Context(), claims.Subject, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Settings updated", "admin": admin})
}
