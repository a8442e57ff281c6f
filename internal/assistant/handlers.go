package assistant

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
)

// Handler exposes the chatbot.
type Handler struct {
	svc *Service
}

// NewHandler creates an assistant handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts assistant routes on a tenant-bound group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/assistant/ask", h.Ask)
	r.GET("/assistant/suggestions", h.Suggestions)
	r.GET("/assistant/analysis", h.Analysis)
}

// AskRequest is the chat payload.
type AskRequest struct {
	Question string `json:"question" binding:"required,max=1000"`
}

// Ask handles POST /:slug/assistant/ask
func (h *Handler) Ask(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	reply, err := h.svc.Answer(c.Request.Context(), academyID, req.Question)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// Suggestions handles GET /:slug/assistant/suggestions
func (h *Handler) Suggestions(c *gin.Context) {
	if _, ok := tenant.MustScope(c); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": Suggestions})
}

// Analysis handles GET /:slug/assistant/analysis?date=
func (h *Handler) Analysis(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	date, err := clock.ParseOptionalDate(c.Query("date"))
	if err != nil {
		validation.ErrorResponse(c, validation.ValidationErrors{{Field: "date", Message: "must be a date in YYYY-MM-DD format"}})
		return
	}
	var today time.Time
	if date != nil {
		today = *date
	}
	a, err := h.svc.Analyze(c.Request.Context(), academyID, today)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": a, "report": BuildReport(a)})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tenant.ErrAcademyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("assistant request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}
