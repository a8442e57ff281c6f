package platform

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/mbd888/dojo/internal/validation"
)

const maxWebhookBody = 64 << 10

// Handler exposes the platform's public, tenant, webhook and superadmin routes.
type Handler struct {
	svc *Service
}

// NewHandler creates a platform handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the plan list and signup form.
func (h *Handler) RegisterPublicRoutes(r gin.IRoutes) {
	r.GET("/planos/", h.ListPlans)
	r.POST("/cadastro/", h.Signup)
}

// RegisterWebhookRoutes mounts the Stripe webhook.
func (h *Handler) RegisterWebhookRoutes(r gin.IRoutes) {
	r.POST("/webhook/stripe/", h.Webhook)
}

// RegisterRoutes mounts the academy's own billing routes on a tenant-bound group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/billing/subscription", h.Subscription)
	r.POST("/billing/checkout", h.Checkout)
}

// RegisterAdminRoutes mounts superadmin routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard", h.Dashboard)
	r.GET("/academies", h.ListAcademies)
	r.GET("/plans", h.ListAllPlans)
	r.POST("/plans/seed", h.SeedPlans)
	r.POST("/trials/expire", h.ExpireTrials)
	r.POST("/subscriptions/:id/suspend", h.Suspend)
	r.POST("/subscriptions/:id/reactivate", h.Reactivate)
	r.POST("/subscriptions/:id/cancel", h.Cancel)
	r.POST("/subscriptions/:id/plan", h.ChangePlan)
}

// ListPlans handles GET /planos/
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.svc.ListPlans(c.Request.Context(), true)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans, "count": len(plans)})
}

// Signup handles POST /cadastro/
func (h *Handler) Signup(c *gin.Context) {
	var req SignupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	res, err := h.svc.Signup(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Webhook handles POST /webhook/stripe/
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "unreadable body"})
		return
	}
	if err := h.svc.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Subscription handles GET /:slug/billing/subscription
func (h *Handler) Subscription(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	o, err := h.svc.SubscriptionFor(c.Request.Context(), academyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// checkoutRequest is the body of POST /:slug/billing/checkout.
type checkoutRequest struct {
	Cycle Cycle `json:"cycle" binding:"omitempty,oneof=monthly annual"`
}

// Checkout handles POST /:slug/billing/checkout
func (h *Handler) Checkout(c *gin.Context) {
	academyID, ok := tenant.MustScope(c)
	if !ok {
		return
	}
	var req checkoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			validation.ErrorResponse(c, err)
			return
		}
	}
	url, err := h.svc.Checkout(c.Request.Context(), academyID, req.Cycle)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Dashboard handles GET /superadmin/dashboard
func (h *Handler) Dashboard(c *gin.Context) {
	d, err := h.svc.Dashboard(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ListAcademies handles GET /superadmin/academies
func (h *Handler) ListAcademies(c *gin.Context) {
	rows, err := h.svc.ListAcademies(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"academies": rows, "count": len(rows)})
}

// ListAllPlans handles GET /superadmin/plans
func (h *Handler) ListAllPlans(c *gin.Context) {
	plans, err := h.svc.ListPlans(c.Request.Context(), false)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans, "count": len(plans)})
}

// SeedPlans handles POST /superadmin/plans/seed
func (h *Handler) SeedPlans(c *gin.Context) {
	n, err := h.svc.SeedPlans(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": n})
}

// ExpireTrials handles POST /superadmin/trials/expire
func (h *Handler) ExpireTrials(c *gin.Context) {
	n, err := h.svc.ExpireTrials(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

func (h *Handler) reason(c *gin.Context) (string, bool) {
	var req reasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			validation.ErrorResponse(c, err)
			return "", false
		}
	}
	return req.Reason, true
}

// Suspend handles POST /superadmin/subscriptions/:id/suspend
func (h *Handler) Suspend(c *gin.Context) {
	reason, ok := h.reason(c)
	if !ok {
		return
	}
	sub, err := h.svc.Suspend(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// Reactivate handles POST /superadmin/subscriptions/:id/reactivate
func (h *Handler) Reactivate(c *gin.Context) {
	sub, err := h.svc.Reactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// Cancel handles POST /superadmin/subscriptions/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	reason, ok := h.reason(c)
	if !ok {
		return
	}
	sub, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

type changePlanRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// ChangePlan handles POST /superadmin/subscriptions/:id/plan
func (h *Handler) ChangePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validation.ErrorResponse(c, err)
		return
	}
	sub, err := h.svc.ChangePlan(c.Request.Context(), c.Param("id"), req.Plan)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

func writeError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		validation.ErrorResponse(c, err)
	case errors.Is(err, ErrPlanNotFound), errors.Is(err, ErrSubscriptionNotFound), errors.Is(err, tenant.ErrAcademyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, ErrInvalidCycle):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, tenant.ErrInvalidSlug):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug", "message": err.Error()})
	case errors.Is(err, tenant.ErrSlugTaken), errors.Is(err, tenant.ErrOwnerTaken), errors.Is(err, tenant.ErrTaxIDTaken),
		errors.Is(err, ErrSubscriptionExists):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrSamePlan),
		errors.Is(err, ErrPriceNotConfigured):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, ErrPaymentsNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments_not_configured", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("platform request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}
