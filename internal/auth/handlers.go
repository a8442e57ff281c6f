package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
)

// Handler manages staff keys.
type Handler struct {
	manager   *Manager
	academies tenant.OwnerResolver
}

// NewHandler creates a key management handler.
func NewHandler(m *Manager, academies tenant.OwnerResolver) *Handler {
	return &Handler{manager: m, academies: academies}
}

// RegisterRoutes mounts key listing and revocation for the bound academy.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/keys", h.ListKeys)
	r.DELETE("/keys/:keyId", h.RevokeKey)
}

// RegisterAdminRoutes mounts key issuing for the superadmin area.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/academies/:id/keys", h.CreateKey)
}

type createKeyRequest struct {
	Name   string `json:"name" validate:"required,max=100"`
	UserID string `json:"userId" validate:"max=100"`
}

// CreateKey handles POST /superadmin/academies/:id/keys
func (h *Handler) CreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}

	a, err := h.academies.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, tenant.ErrAcademyNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "academy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load academy"})
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = a.OwnerID
	}

	raw, key, err := h.manager.GenerateKey(c.Request.Context(), a.ID, userID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create key"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  raw,
		"key":     key,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}

// ListKeys handles GET /v1/keys
func (h *Handler) ListKeys(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	keys, err := h.manager.ListKeys(c.Request.Context(), academyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeKey handles DELETE /v1/keys/:keyId
func (h *Handler) RevokeKey(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	err := h.manager.RevokeKey(c.Request.Context(), academyID, c.Param("keyId"))
	if errors.Is(err, ErrKeyNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "key not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to revoke key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
