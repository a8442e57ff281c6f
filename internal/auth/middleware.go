package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/tenant"
)

const (
	// ContextKeyAPIKey holds the validated *APIKey.
	ContextKeyAPIKey = "apiKey"
	// ContextKeySuperuser is set by RequireAdmin.
	ContextKeySuperuser = "superuser"

	// AdminHeader carries the superadmin secret.
	AdminHeader = "X-Admin-Secret"
)

// Middleware validates an API key when one is present. It never rejects;
// pair it with RequireAuth.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			raw = c.GetHeader("X-API-Key")
		}
		if raw != "" {
			if key, err := m.ValidateKey(c.Request.Context(), raw); err == nil {
				c.Set(ContextKeyAPIKey, key)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a valid key or admin secret.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetAPIKey(c); ok || c.GetBool(ContextKeySuperuser) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
		})
	}
}

// RequireMember rejects slug-bound requests whose key belongs to another
// academy. Superusers may enter any academy. Run after the tenant
// middleware and RequireAuth.
func RequireMember() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(ContextKeySuperuser) {
			c.Next()
			return
		}
		key, ok := GetAPIKey(c)
		if ok && key.AcademyID != "" && key.AcademyID == tenant.IDFromContext(c.Request.Context()) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "key does not belong to this academy",
		})
	}
}

// CheckAdmin marks the request as superuser when the admin secret matches.
// An empty secret disables superuser access.
func CheckAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAdmin(c, secret) {
			c.Set(ContextKeySuperuser, true)
		}
		c.Next()
	}
}

// RequireAdmin rejects requests without the admin secret.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c, secret) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "superadmin access required",
			})
			return
		}
		c.Set(ContextKeySuperuser, true)
		c.Next()
	}
}

func isAdmin(c *gin.Context, secret string) bool {
	if secret == "" {
		return false
	}
	got := c.GetHeader(AdminHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// GetAPIKey returns the validated key, if any.
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	v, ok := c.Get(ContextKeyAPIKey)
	if !ok {
		return nil, false
	}
	key, ok := v.(*APIKey)
	return key, ok
}

// Principal adapts the authenticated caller for tenant.LegacyOwnerMiddleware.
func Principal(c *gin.Context) (tenant.Principal, bool) {
	if c.GetBool(ContextKeySuperuser) {
		return tenant.Principal{Superuser: true}, true
	}
	key, ok := GetAPIKey(c)
	if !ok {
		return tenant.Principal{}, false
	}
	return tenant.Principal{UserID: key.UserID, AcademyID: key.AcademyID}, true
}
