package billing

import (
	"context"
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

// Handler exposes billing over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a billing handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts billing routes on a tenant-bound group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
	r.POST("/plans", h.CreatePlan)
	r.GET("/plans/:id", h.GetPlan)
	r.PUT("/plans/:id", h.UpdatePlan)
	r.DELETE("/plans/:id", h.DeletePlan)

	r.GET("/subscriptions", h.ListSubscriptions)
	r.POST("/subscriptions", h.StartSubscription)
	r.GET("/subscriptions/:id", h.GetSubscription)
	r.POST("/subscriptions/:id/cancel", h.transition(h.svc.CancelSubscription))
	r.POST("/subscriptions/:id/freeze", h.transition(h.svc.FreezeSubscription))
	r.POST("/subscriptions/:id/resume", h.transition(h.svc.ResumeSubscription))

	r.GET("/invoices", h.ListInvoices)
	r.GET("/invoices/:id", h.GetInvoice)
	r.POST("/invoices/:id/pay", h.Pay)
	r.POST("/invoices/:id/due-date", h.AdjustDueDate)

	r.GET("/reports/financial", h.FinancialReport)
	r.GET("/reports/overdue", h.Overdue)
	r.GET("/billing/board", h.Board)
}

// --- plans ---

func (h *Handler) ListPlans(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	plans, err := h.svc.ListPlans(c.Request.Context(), academyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans, "count": len(plans)})
}

func (h *Handler) CreatePlan(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req PlanInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	req.AcademyID = academyID
	p, err := h.svc.CreatePlan(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPlan(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	p, err := h.svc.GetPlan(c.Request.Context(), academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePlan(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req PlanInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	p, err := h.svc.UpdatePlan(c.Request.Context(), academyID, c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePlan(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	if err := h.svc.DeletePlan(c.Request.Context(), academyID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- subscriptions ---

type startRequest struct {
	StudentID string `json:"studentId" binding:"required"`
	PlanID    string `json:"planId" binding:"required"`
	StartDate string `json:"startDate"`
}

// StartSubscription handles POST /:slug/subscriptions. The student's
// current subscription, if any, is canceled.
func (h *Handler) StartSubscription(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	start, ok := bodyDate(c, "startDate", req.StartDate)
	if !ok {
		return
	}
	sub, first, err := h.svc.StartSubscription(c.Request.Context(), academyID, req.StudentID, req.PlanID, start)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subscription": sub, "firstInvoice": first})
}

// ListSubscriptions handles GET /:slug/subscriptions?studentId=&planId=&status=
func (h *Handler) ListSubscriptions(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	subs, err := h.svc.ListSubscriptions(c.Request.Context(), academyID, SubscriptionFilter{
		StudentID: c.Query("studentId"),
		PlanID:    c.Query("planId"),
		Status:    SubscriptionStatus(c.Query("status")),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

func (h *Handler) GetSubscription(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	sub, err := h.svc.GetSubscription(c.Request.Context(), academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type transitionFunc func(ctx context.Context, academyID, id string) (*Subscription, error)

func (h *Handler) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		academyID, ok := tenant.MustScope(c)
		if !ok {
			return
		}
		sub, err := fn(c.Request.Context(), academyID, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

// --- invoices ---

// ListInvoices handles GET /:slug/invoices?subscriptionId=&studentId=&planId=&paid=&from=&to=
func (h *Handler) ListInvoices(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	f := InvoiceFilter{
		SubscriptionID: c.Query("subscriptionId"),
		StudentID:      c.Query("studentId"),
		PlanID:         c.Query("planId"),
	}
	switch c.Query("paid") {
	case "true":
		paid := true
		f.Paid = &paid
	case "false":
		paid := false
		f.Paid = &paid
	}
	if f.DueFrom, ok = queryDate(c, "from"); !ok {
		return
	}
	if f.DueTo, ok = queryDate(c, "to"); !ok {
		return
	}
	invoices, err := h.svc.ListInvoices(c.Request.Context(), academyID, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices, "count": len(invoices)})
}

func (h *Handler) GetInvoice(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	inv, err := h.svc.GetInvoice(c.Request.Context(), academyID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, View(inv, clock.Today(h.svc.clock)))
}

type dateRequest struct {
	Date string `json:"date"`
}

// Pay handles POST /:slug/invoices/:id/pay. An empty date means today.
func (h *Handler) Pay(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req dateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			validation.ErrorResponse(c, err)
			return
		}
	}
	paidOn, ok := bodyDate(c, "date", req.Date)
	if !ok {
		return
	}
	inv, err := h.svc.RegisterPayment(c.Request.Context(), academyID, c.Param("id"), paidOn)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, View(inv, clock.Today(h.svc.clock)))
}

// AdjustDueDate handles POST /:slug/invoices/:id/due-date.
func (h *Handler) AdjustDueDate(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req dateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	due, ok := bodyDate(c, "date", req.Date)
	if !ok {
		return
	}
	inv, err := h.svc.AdjustDueDate(c.Request.Context(), academyID, c.Param("id"), due)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, View(inv, clock.Today(h.svc.clock)))
}

// --- reports ---

// FinancialReport handles GET /:slug/reports/financial?from=&to=&status=&planId=
func (h *Handler) FinancialReport(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	from, ok := queryDate(c, "from")
	if !ok {
		return
	}
	to, ok := queryDate(c, "to")
	if !ok {
		return
	}
	report, err := h.svc.FinancialReport(c.Request.Context(), academyID, from, to, InvoiceStatus(c.Query("status")), c.Query("planId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Overdue handles GET /:slug/reports/overdue
func (h *Handler) Overdue(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	today := h.svc.today()
	students, err := h.svc.OverdueStudents(ctx, academyID, today)
	if err != nil {
		writeError(c, err)
		return
	}
	total, err := h.svc.OverdueTotal(ctx, academyID, today)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "total": total, "count": len(students)})
}

// Board handles GET /:slug/billing/board.
func (h *Handler) Board(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	rows, err := h.svc.Board(c.Request.Context(), academyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": rows, "count": len(rows)})
}

func queryDate(c *gin.Context, key string) (time.Time, bool) {
	return bodyDate(c, key, c.Query(key))
}

func bodyDate(c *gin.Context, field, value string) (time.Time, bool) {
	d, err := clock.ParseOptionalDate(value)
	if err != nil {
		validation.ErrorResponse(c, validation.ValidationErrors{{Field: field, Message: "must be a date in YYYY-MM-DD format"}})
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
	case errors.Is(err, ErrPlanNotFound), errors.Is(err, ErrSubscriptionNotFound),
		errors.Is(err, ErrInvoiceNotFound), errors.Is(err, roster.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrProtected):
		c.JSON(http.StatusConflict, gin.H{"error": "protected_reference", "message": err.Error()})
	case errors.Is(err, ErrConcurrentStart), errors.Is(err, ErrAlreadyActive),
		errors.Is(err, ErrDuplicateInvoice):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("billing request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}
