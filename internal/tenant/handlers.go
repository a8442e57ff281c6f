package tenant

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/validation"
)

// Handler exposes academy settings to staff and academy management to the
// superadmin area.
type Handler struct {
	svc *Service
}

// NewHandler creates a tenant handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the academy's own settings on a tenant-bound group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings", h.GetSettings)
	r.PUT("/settings", h.UpdateSettings)
	r.PUT("/settings/slug", h.UpdateSlug)
}

// RegisterAdminRoutes mounts the superadmin academy management routes. The
// academy listing lives with platform billing.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/academies", h.CreateAcademy)
	r.GET("/academies/:id", h.GetAcademy)
	r.POST("/academies/:id/activate", h.setActive(true))
	r.POST("/academies/:id/deactivate", h.setActive(false))
}

// GetSettings handles GET /:slug/settings
func (h *Handler) GetSettings(c *gin.Context) {
	academyID, ok := MustScope(c)
	if !ok {
		return
	}
	a, err := h.svc.Get(c.Request.Context(), academyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"academy": a})
}

// UpdateSettings handles PUT /:slug/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	academyID, ok := MustScope(c)
	if !ok {
		return
	}
	var req UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	a, err := h.svc.Update(c.Request.Context(), academyID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"academy": a})
}

// UpdateSlug handles PUT /:slug/settings/slug
func (h *Handler) UpdateSlug(c *gin.Context) {
	academyID, ok := MustScope(c)
	if !ok {
		return
	}
	var req struct {
		Slug string `json:"slug" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	a, err := h.svc.UpdateSlug(c.Request.Context(), academyID, req.Slug)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"academy": a})
}

// CreateAcademy handles POST /superadmin/academies
func (h *Handler) CreateAcademy(c *gin.Context) {
	var req CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	a, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"academy": a})
}

// GetAcademy handles GET /superadmin/academies/:id
func (h *Handler) GetAcademy(c *gin.Context) {
	a, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"academy": a})
}

func (h *Handler) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := h.svc.SetActive(c.Request.Context(), c.Param("id"), active)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"academy": a})
	}
}

func writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		validation.ErrorResponse(c, err)
	case errors.Is(err, ErrAcademyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "academy not found"})
	case errors.Is(err, ErrInvalidSlug):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug", "message": err.Error()})
	case errors.Is(err, ErrSlugTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "slug already in use"})
	case errors.Is(err, ErrOwnerTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "owner_taken", "message": "owner already has an academy"})
	case errors.Is(err, ErrTaxIDTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "tax_id_taken", "message": "tax id already registered"})
	default:
		logging.L(c.Request.Context()).Error("academy request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}
