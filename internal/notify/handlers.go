package notify

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/circuitbreaker"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/pagination"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
)

// Handler exposes the message log and the academy's WhatsApp session.
type Handler struct {
	svc *Service
}

// NewHandler creates a notify handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts notify routes on a tenant-bound group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/reports/messages", h.List)
	r.GET("/messages/:id", h.Get)
	r.POST("/students/:id/messages", h.SendToStudent)

	r.GET("/whatsapp/status", h.Status)
	r.POST("/whatsapp/connect", h.Connect)
	r.POST("/whatsapp/disconnect", h.Disconnect)
}

// List handles GET /:slug/reports/messages?q=&type=&from=&to=&cursor=&limit=
func (h *Handler) List(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	from, err := clock.ParseOptionalDate(c.Query("from"))
	if err != nil {
		validation.ErrorResponse(c, validation.ValidationErrors{{Field: "from", Message: "must be a date in YYYY-MM-DD format"}})
		return
	}
	to, err := clock.ParseOptionalDate(c.Query("to"))
	if err != nil {
		validation.ErrorResponse(c, validation.ValidationErrors{{Field: "to", Message: "must be a date in YYYY-MM-DD format"}})
		return
	}
	page, err := h.svc.List(c.Request.Context(), academyID, ListQuery{
		Query:  c.Query("q"),
		Type:   c.Query("type"),
		From:   from,
		To:     to,
		Cursor: c.Query("cursor"),
		Limit:  c.Query("limit"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get handles GET /:slug/messages/:id
func (h *Handler) Get(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	m, err := h.svc.Get(c.Request.Context(), academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": m})
}

// SendToStudent handles POST /:slug/students/:id/messages. The response is
// 201 even when the gateway fails; the log row carries the outcome.
func (h *Handler) SendToStudent(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var in MessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	m, err := h.svc.SendToStudent(c.Request.Context(), academyID, c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

func (h *Handler) sessions(c *gin.Context) (Sessions, bool) {
	sm := h.svc.Sessions()
	if sm == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gateway_not_configured", "message": notConfigured})
		return nil, false
	}
	return sm, true
}

// Status handles GET /:slug/whatsapp/status
func (h *Handler) Status(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	sm, ok := h.sessions(c)
	if !ok {
		return
	}
	st, err := sm.Status(c.Request.Context(), academyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Connect handles POST /:slug/whatsapp/connect
func (h *Handler) Connect(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	sm, ok := h.sessions(c)
	if !ok {
		return
	}
	if err := sm.Connect(c.Request.Context(), academyID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "initializing"})
}

// Disconnect handles POST /:slug/whatsapp/disconnect
func (h *Handler) Disconnect(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	sm, ok := h.sessions(c)
	if !ok {
		return
	}
	if err := sm.Disconnect(c.Request.Context(), academyID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		validation.ErrorResponse(c, err)
	case errors.Is(err, ErrNotFound), errors.Is(err, roster.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, pagination.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ErrNotEligible):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "not_eligible", "message": err.Error()})
	case errors.Is(err, ErrGatewayStatus), errors.Is(err, circuitbreaker.ErrOpen):
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway_error", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("notify request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}
