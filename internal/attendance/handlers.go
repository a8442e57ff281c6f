package attendance

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/clock"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/roster"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
)

// Handler exposes attendance over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates an attendance handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts attendance routes on a tenant-bound group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/attendance", h.List)
	r.POST("/attendance", h.Mark)
	r.GET("/attendance/roll-call", h.RollCall)
	r.DELETE("/attendance/:id", h.Delete)
	r.GET("/students/:id/attendance", h.Calendar)
	r.GET("/reports/frequency", h.Frequency)

	r.GET("/non-teaching-days", h.ListDays)
	r.POST("/non-teaching-days", h.AddDay)
	r.DELETE("/non-teaching-days/:id", h.DeleteDay)
}

type markRequest struct {
	StudentID string  `json:"studentId" binding:"required"`
	ClassID   *string `json:"classId"`
	Date      string  `json:"date"`
}

// Mark handles POST /:slug/attendance. A repeated mark answers 200 with the
// existing record, a new one 201.
func (h *Handler) Mark(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	var date time.Time
	if req.Date != "" {
		d, err := clock.ParseDate(req.Date)
		if err != nil {
			validation.ErrorResponse(c, validation.ValidationErrors{{Field: "date", Message: "must be a date in YYYY-MM-DD format"}})
			return
		}
		date = d
	}
	mark, created, err := h.svc.Mark(c.Request.Context(), academyID, req.StudentID, req.ClassID, date)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"attendance": mark, "created": created})
}

// List handles GET /:slug/attendance?from=&to=&studentId=&classId=
func (h *Handler) List(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	marks, err := h.svc.List(c.Request.Context(), academyID, Filter{
		From: from, To: to, StudentID: c.Query("studentId"), ClassID: c.Query("classId"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": marks, "count": len(marks)})
}

func (h *Handler) Delete(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), academyID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RollCall handles GET /:slug/attendance/roll-call?date=&q=
func (h *Handler) RollCall(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	date, ok := queryDate(c, "date")
	if !ok {
		return
	}
	entries, err := h.svc.RollCall(c.Request.Context(), academyID, date, c.Query("q"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": entries, "count": len(entries)})
}

// Calendar handles GET /:slug/students/:id/attendance?year=&month=
func (h *Handler) Calendar(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	// invalid or missing values select the current month
	year, _ := strconv.Atoi(c.Query("year"))
	month, _ := strconv.Atoi(c.Query("month"))
	first, days, err := h.svc.Calendar(c.Request.Context(), academyID, c.Param("id"), year, time.Month(month))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"year": first.Year(), "month": int(first.Month()), "days": days})
}

// Frequency handles GET /:slug/reports/frequency?from=&to=&classId=
func (h *Handler) Frequency(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	report, err := h.svc.Frequency(c.Request.Context(), academyID, from, to, c.Query("classId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (h *Handler) ListDays(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	days, err := h.svc.ListDays(c.Request.Context(), academyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "count": len(days)})
}

func (h *Handler) AddDay(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req DayInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	d, err := h.svc.AddDay(c.Request.Context(), academyID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"day": d})
}

func (h *Handler) DeleteDay(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteDay(c.Request.Context(), academyID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
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

func dateRange(c *gin.Context) (from, to time.Time, ok bool) {
	if from, ok = queryDate(c, "from"); !ok {
		return
	}
	to, ok = queryDate(c, "to")
	return
}

func writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		validation.ErrorResponse(c, err)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDayNotFound),
		errors.Is(err, roster.ErrStudentNotFound), errors.Is(err, roster.ErrClassNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrDuplicateDay):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate", "message": err.Error()})
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrFutureDate):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("attendance request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}
