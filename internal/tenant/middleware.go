package tenant

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/logging"
	"github.com/mbd888/dojo/internal/metrics"
)

// ExemptPrefixes are paths that never carry an academy slug.
var ExemptPrefixes = []string{
	"/admin/", "/admin-saas/", "/superadmin/", "/api/", "/static/", "/media/",
	"/favicon.ico", "/cadastro/", "/login/", "/logout/", "/login-redirect/",
	"/login-publico/", "/planos/", "/sobre/", "/contato/", "/webhook/",
	"/pagamento/", "/health", "/metrics", "/v1/", "/ws",
}

// PublicLanding is where requests without a slug are sent.
const PublicLanding = "/planos/"

var slugSegment = regexp.MustCompile(`^/([a-zA-Z0-9_-]+)(?:/|$)`)

// Resolver looks up active academies by slug.
type Resolver interface {
	GetBySlug(ctx context.Context, slug string) (*Academy, error)
}

// OwnerResolver looks up academies by ID or owner.
type OwnerResolver interface {
	Get(ctx context.Context, id string) (*Academy, error)
	GetByOwner(ctx context.Context, ownerID string) (*Academy, error)
}

// Principal is the authenticated caller as seen by the legacy resolver.
type Principal struct {
	UserID    string
	AcademyID string
	Superuser bool
}

// PrincipalFunc extracts the caller from a request.
type PrincipalFunc func(c *gin.Context) (Principal, bool)

// isExempt matches whole segments: "/ws" covers "/ws" and "/ws/..." but not
// "/ws-team/...".
func isExempt(path string) bool {
	for _, p := range ExemptPrefixes {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// IsReserved reports whether slug is the first segment of an exempt path and
// so could never be resolved as an academy.
func IsReserved(slug string) bool {
	slug = strings.ToLower(slug)
	for _, p := range ExemptPrefixes {
		if strings.Trim(p, "/") == slug {
			return true
		}
	}
	return false
}

func unbound(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, (*Academy)(nil))
}

func bind(c *gin.Context, a *Academy) {
	c.Request = c.Request.WithContext(WithAcademy(c.Request.Context(), a))
}

// Middleware resolves the academy from the first path segment. Exempt paths
// pass through unbound, unknown or inactive slugs get a 404 and a bare "/"
// is redirected to the public landing page.
func Middleware(r Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(unbound(c.Request.Context()))
		path := c.Request.URL.Path

		if isExempt(path) {
			metrics.TenantResolutionTotal.WithLabelValues("exempt").Inc()
			c.Next()
			return
		}

		m := slugSegment.FindStringSubmatch(path)
		if m == nil {
			metrics.TenantResolutionTotal.WithLabelValues("redirect").Inc()
			c.Redirect(http.StatusFound, PublicLanding)
			c.Abort()
			return
		}

		a, err := r.GetBySlug(c.Request.Context(), m[1])
		if err != nil {
			if !errors.Is(err, ErrAcademyNotFound) {
				logging.L(c.Request.Context()).Error("tenant resolution failed", "slug", m[1], "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "failed to resolve academy",
				})
				return
			}
			metrics.TenantResolutionTotal.WithLabelValues("not_found").Inc()
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":   "academy_not_found",
				"message": "academy not found or inactive",
			})
			return
		}

		metrics.TenantResolutionTotal.WithLabelValues("resolved").Inc()
		bind(c, a)
		c.Next()
	}
}

// LegacyOwnerMiddleware binds the academy for routes that carry no slug.
// A key bound to an academy selects it directly, otherwise the academy owned
// by the caller is used. Superusers stay unbound.
func LegacyOwnerMiddleware(r OwnerResolver, principal PrincipalFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := unbound(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		p, ok := principal(c)
		if !ok || p.Superuser {
			c.Next()
			return
		}

		var (
			a   *Academy
			err error
		)
		if p.AcademyID != "" {
			a, err = r.Get(ctx, p.AcademyID)
		} else {
			a, err = r.GetByOwner(ctx, p.UserID)
		}
		if err == nil && !a.Active {
			err = ErrAcademyNotFound
		}
		if err != nil {
			if !errors.Is(err, ErrAcademyNotFound) {
				logging.L(ctx).Error("owner resolution failed", "user_id", p.UserID, "error", err)
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "no_academy",
				"message": "no active academy for this account",
			})
			return
		}
		bind(c, a)
		c.Next()
	}
}

// MustScope returns the bound academy ID or writes a 403 and returns false.
func MustScope(c *gin.Context) (string, bool) {
	id, err := Scope(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "no_academy",
			"message": "request is not bound to an academy",
		})
		return "", false
	}
	return id, true
}
