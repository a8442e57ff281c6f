package roster

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
)

// Handler exposes the roster over HTTP. Every route requires a bound academy.
type Handler struct {
	svc *Service
}

// NewHandler creates a roster handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the roster routes on a tenant-bound group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/students", h.ListStudents)
	r.POST("/students", h.CreateStudent)
	r.GET("/students/:id", h.GetStudent)
	r.PUT("/students/:id", h.UpdateStudent)
	r.DELETE("/students/:id", h.DeleteStudent)

	r.GET("/instructors", h.ListInstructors)
	r.POST("/instructors", h.CreateInstructor)
	r.GET("/instructors/:id", h.GetInstructor)
	r.PUT("/instructors/:id", h.UpdateInstructor)
	r.DELETE("/instructors/:id", h.DeleteInstructor)

	r.GET("/disciplines", h.ListDisciplines)
	r.POST("/disciplines", h.CreateDiscipline)
	r.GET("/disciplines/:id", h.GetDiscipline)
	r.PUT("/disciplines/:id", h.UpdateDiscipline)
	r.DELETE("/disciplines/:id", h.DeleteDiscipline)

	r.GET("/classes", h.ListClasses)
	r.POST("/classes", h.CreateClass)
	r.GET("/classes/:id", h.GetClass)
	r.PUT("/classes/:id", h.UpdateClass)
	r.DELETE("/classes/:id", h.DeleteClass)
	r.POST("/classes/:id/students", h.Enroll)
	r.DELETE("/classes/:id/students/:studentId", h.Unenroll)
	r.POST("/classes/:id/schedules", h.AddSchedule)
	r.DELETE("/classes/:id/schedules/:scheduleId", h.DeleteSchedule)
}

// ListStudents handles GET /:slug/students?q=&active=
func (h *Handler) ListStudents(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	f := StudentFilter{Query: strings.TrimSpace(c.Query("q"))}
	switch c.Query("active") {
	case "true":
		v := true
		f.Active = &v
	case "false":
		v := false
		f.Active = &v
	}
	students, err := h.svc.ListStudents(c.Request.Context(), academyID, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "count": len(students)})
}

// CreateStudent handles POST /:slug/students
func (h *Handler) CreateStudent(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req StudentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	req.AcademyID = academyID
	st, err := h.svc.CreateStudent(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"student": st})
}

// GetStudent handles GET /:slug/students/:id
func (h *Handler) GetStudent(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	st, err := h.svc.GetStudent(c.Request.Context(), academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st})
}

// UpdateStudent handles PUT /:slug/students/:id
func (h *Handler) UpdateStudent(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req StudentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	st, err := h.svc.UpdateStudent(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": st})
}

// DeleteStudent handles DELETE /:slug/students/:id
func (h *Handler) DeleteStudent(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteStudent(c.Request.Context(), academyID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListInstructors(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	out, err := h.svc.ListInstructors(c.Request.Context(), academyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructors": out, "count": len(out)})
}

func (h *Handler) CreateInstructor(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req InstructorInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	req.AcademyID = academyID
	inst, err := h.svc.CreateInstructor(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"instructor": inst})
}

func (h *Handler) GetInstructor(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	inst, err := h.svc.GetInstructor(c.Request.Context(), academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructor": inst})
}

func (h *Handler) UpdateInstructor(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req InstructorInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	inst, err := h.svc.UpdateInstructor(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructor": inst})
}

func (h *Handler) DeleteInstructor(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteInstructor(c.Request.Context(), academyID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListDisciplines(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	out, err := h.svc.ListDisciplines(c.Request.Context(), academyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disciplines": out, "count": len(out)})
}

func (h *Handler) CreateDiscipline(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req DisciplineInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	req.AcademyID = academyID
	d, err := h.svc.CreateDiscipline(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"discipline": d})
}

func (h *Handler) GetDiscipline(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	d, err := h.svc.GetDiscipline(c.Request.Context(), academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discipline": d})
}

func (h *Handler) UpdateDiscipline(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req DisciplineInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	d, err := h.svc.UpdateDiscipline(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discipline": d})
}

// DeleteDiscipline handles DELETE /:slug/disciplines/:id. Referenced
// disciplines answer 409.
func (h *Handler) DeleteDiscipline(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteDiscipline(c.Request.Context(), academyID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListClasses(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	out, err := h.svc.ListClasses(c.Request.Context(), academyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": out, "count": len(out)})
}

func (h *Handler) CreateClass(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req ClassInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	req.AcademyID = academyID
	cls, err := h.svc.CreateClass(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"class": cls})
}

func (h *Handler) GetClass(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	cls, err := h.svc.GetClass(c.Request.Context(), academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": cls})
}

func (h *Handler) UpdateClass(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req ClassInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	cls, err := h.svc.UpdateClass(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": cls})
}

func (h *Handler) DeleteClass(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteClass(c.Request.Context(), academyID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Enroll handles POST /:slug/classes/:id/students
func (h *Handler) Enroll(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req struct {
		StudentID string `json:"studentId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	cls, err := h.svc.Enroll(c.Request.Context(), academyID, c.Param("id"), req.StudentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": cls})
}

// Unenroll handles DELETE /:slug/classes/:id/students/:studentId
func (h *Handler) Unenroll(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	cls, err := h.svc.Unenroll(c.Request.Context(), academyID, c.Param("id"), c.Param("studentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": cls})
}

// AddSchedule handles POST /:slug/classes/:id/schedules
func (h *Handler) AddSchedule(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req ScheduleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	sch, err := h.svc.AddSchedule(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"schedule": sch})
}

func (h *Handler) DeleteSchedule(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteSchedule(c.Request.Context(), academyID, c.Param("id"), c.Param("scheduleId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		validation.ErrorResponse(c, err)
	case errors.Is(err, ErrStudentNotFound), errors.Is(err, ErrInstructorNotFound),
		errors.Is(err, ErrDisciplineNotFound), errors.Is(err, ErrClassNotFound),
		errors.Is(err, ErrScheduleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrDuplicateDiscipline):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate", "message": err.Error()})
	case errors.Is(err, ErrClassFull):
		c.JSON(http.StatusConflict, gin.H{"error": "class_full", "message": err.Error()})
	case errors.Is(err, ErrProtected):
		c.JSON(http.StatusConflict, gin.H{"error": "protected_reference", "message": err.Error()})
	case errors.Is(err, ErrInvalidSchedule):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_schedule", "message": err.Error()})
	case errors.Is(err, ErrLimitReached):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "plan_limit_reached", "message": err.Error()})
	case errors.Is(err, tenant.ErrNoTenant):
		c.JSON(http.StatusForbidden, gin.H{"error": "no_academy", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("roster request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}
