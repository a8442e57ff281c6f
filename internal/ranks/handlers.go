package ranks

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
)

// Handler exposes rank progression over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a ranks handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts rank routes on a tenant-bound group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ranks", h.ListRanks)
	r.POST("/ranks", h.CreateRank)
	r.GET("/ranks/:id", h.GetRank)
	r.PUT("/ranks/:id", h.UpdateRank)
	r.DELETE("/ranks/:id", h.DeleteRank)

	r.GET("/students/:id/ranks", h.History)
	r.POST("/students/:id/ranks", h.Promote)
	r.DELETE("/students/:id/ranks/:historyId", h.DeletePromotion)
	r.GET("/reports/eligible", h.Eligible)

	r.GET("/exams", h.ListExams)
	r.POST("/exams", h.CreateExam)
	r.GET("/exams/:id", h.GetExam)
	r.PUT("/exams/:id", h.UpdateExam)
	r.DELETE("/exams/:id", h.DeleteExam)
	r.GET("/exams/:id/candidates", h.Candidates)
	r.POST("/exams/:id/invite", h.Invite)

	r.POST("/enrollments/:id/result", h.RecordResult)
	r.POST("/enrollments/:id/status", h.SetStatus)
}

// --- ranks ---

// ListRanks handles GET /:slug/ranks?disciplineId=
func (h *Handler) ListRanks(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	ranks, err := h.svc.ListRanks(c.Request.Context(), academyID, c.Query("disciplineId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranks": ranks, "count": len(ranks)})
}

func (h *Handler) CreateRank(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req RankInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	req.AcademyID = academyID
	r, err := h.svc.CreateRank(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRank(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	r, err := h.svc.GetRank(c.Request.Context(), academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) UpdateRank(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req RankInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	r, err := h.svc.UpdateRank(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRank(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteRank(c.Request.Context(), academyID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- promotions ---

func (h *Handler) History(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	out, err := h.svc.History(c.Request.Context(), academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Promote handles POST /:slug/students/:id/ranks.
func (h *Handler) Promote(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req PromotionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	entry, err := h.svc.Promote(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) DeletePromotion(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.DeletePromotion(c.Request.Context(), academyID, c.Param("historyId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Eligible handles GET /:slug/reports/eligible?date=
func (h *Handler) Eligible(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	today, ok := queryDate(c, "date")
	if !ok {
		return
	}
	students, err := h.svc.EligibleStudents(c.Request.Context(), academyID, today)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "count": len(students)})
}

// --- exams ---

func (h *Handler) ListExams(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	exams, err := h.svc.ListExams(c.Request.Context(), academyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exams": exams, "count": len(exams)})
}

func (h *Handler) CreateExam(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req ExamInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	req.AcademyID = academyID
	e, err := h.svc.CreateExam(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// GetExam handles GET /:slug/exams/:id and includes the enrollments.
func (h *Handler) GetExam(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	e, err := h.svc.GetExam(ctx, academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	enrollments, err := h.svc.Enrollments(ctx, academyID, e.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if enrollments == nil {
		enrollments = []*Enrollment{}
	}
	c.JSON(http.StatusOK, gin.H{"exam": e, "enrollments": enrollments})
}

func (h *Handler) UpdateExam(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req ExamInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	e, err := h.svc.UpdateExam(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteExam(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteExam(c.Request.Context(), academyID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Candidates handles GET /:slug/exams/:id/candidates.
func (h *Handler) Candidates(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	students, err := h.svc.Candidates(c.Request.Context(), academyID, c.Param("id"), time.Time{})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "count": len(students)})
}

// Invite handles POST /:slug/exams/:id/invite.
func (h *Handler) Invite(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req InviteInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	enrollments, created, err := h.svc.Invite(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": enrollments, "invited": created})
}

// --- enrollments ---

// RecordResult handles POST /:slug/enrollments/:id/result.
func (h *Handler) RecordResult(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req ResultInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	e, err := h.svc.RecordResult(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type statusRequest struct {
	Status EnrollmentStatus `json:"status" binding:"required"`
}

// SetStatus handles POST /:slug/enrollments/:id/status.
func (h *Handler) SetStatus(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	e, err := h.svc.SetStatus(c.Request.Context(), academyID, c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func queryDate(c *gin.Context, key string) (time.Time, bool) {
	d, err := clock.ParseOptionalDate(c.Query(key))
	if err != nil {
		validation.ErrorResponse(c, validation.ValidationErrors{{Field: key, Message: "must be a date in YYYY-MM-DD format"}})
		return time.Time{}, false
	}
	if d == nil {
		return time.Time{}, true
	}
	return *d, true
}

func writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		validation.ErrorResponse(c, err)
	case errors.Is(err, ErrRankNotFound), errors.Is(err, ErrHistoryNotFound),
		errors.Is(err, ErrExamNotFound), errors.Is(err, ErrEnrollmentNotFound),
		errors.Is(err, roster.ErrStudentNotFound), errors.Is(err, roster.ErrDisciplineNotFound),
		errors.Is(err, roster.ErrInstructorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrDuplicateOrder):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate", "message": err.Error()})
	case errors.Is(err, ErrProtected):
		c.JSON(http.StatusConflict, gin.H{"error": "protected_reference", "message": err.Error()})
	case errors.Is(err, ErrFeedbackRequired), errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrDisciplineMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("ranks request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}
