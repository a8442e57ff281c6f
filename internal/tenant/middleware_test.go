package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type failingResolver struct{}

func (failingResolver) GetBySlug(context.Context, string) (*Academy, error) {
	return nil, errors.New("db down")
}

func newMiddlewareRouter(t *testing.T) (*gin.Engine, *Academy) {
	t.Helper()
	svc, _ := newTestService()
	a, err := svc.Create(context.Background(), CreateInput{Name: "Kime Dojo", OwnerID: "u1"})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), CreateInput{Name: "Closed Dojo", OwnerID: "u2"})
	require.NoError(t, err)
	_, err = svc.SetActive(context.Background(), mustSlug(t, svc, "closed-dojo"), false)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(svc))
	echo := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"academy": IDFromContext(c.Request.Context())})
	}
	r.GET("/:slug/students", echo)
	r.GET("/planos/", echo)
	return r, a
}

func mustSlug(t *testing.T, svc *Service, slug string) string {
	t.Helper()
	a, err := svc.store.GetBySlug(context.Background(), slug)
	require.NoError(t, err)
	return a.ID
}

func serve(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestMiddleware_ResolvesSlug(t *testing.T) {
	r, a := newMiddlewareRouter(t)
	w := serve(r, "/kime-dojo/students")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), a.ID)
}

func TestMiddleware_UnknownSlug(t *testing.T) {
	r, _ := newMiddlewareRouter(t)
	w := serve(r, "/nope/students")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "academy_not_found")
}

func TestMiddleware_InactiveSlug(t *testing.T) {
	r, _ := newMiddlewareRouter(t)
	w := serve(r, "/closed-dojo/students")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMiddleware_ExemptStaysUnbound(t *testing.T) {
	r, _ := newMiddlewareRouter(t)
	w := serve(r, "/planos/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"academy":""}`, w.Body.String())
}

func TestMiddleware_SlugsSharingExemptPrefix(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	ws, err := svc.Create(ctx, CreateInput{Name: "WS Team", OwnerID: "u1"})
	require.NoError(t, err)
	healthy, err := svc.Create(ctx, CreateInput{Name: "Healthy Dojo", OwnerID: "u2"})
	require.NoError(t, err)
	closed, err := svc.Create(ctx, CreateInput{Name: "Metrics Muay Thai", OwnerID: "u3"})
	require.NoError(t, err)
	_, err = svc.SetActive(ctx, closed.ID, false)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(svc))
	echo := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"academy": IDFromContext(c.Request.Context())})
	}
	r.GET("/:slug/students", echo)
	r.GET("/health/live", echo)
	r.GET("/ws", echo)

	w := serve(r, "/ws-team/students")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"academy":"`+ws.ID+`"}`, w.Body.String())

	w = serve(r, "/healthy-dojo/students")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"academy":"`+healthy.ID+`"}`, w.Body.String())

	w = serve(r, "/metrics-muay-thai/students")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "academy_not_found")

	for _, path := range []string{"/health/live", "/ws"} {
		w = serve(r, path)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.JSONEq(t, `{"academy":""}`, w.Body.String(), path)
	}
}

func TestIsExempt(t *testing.T) {
	assert.True(t, isExempt("/health"))
	assert.True(t, isExempt("/health/ready"))
	assert.True(t, isExempt("/metrics"))
	assert.True(t, isExempt("/planos/"))
	assert.False(t, isExempt("/healthy-kids-karate/students"))
	assert.False(t, isExempt("/ws-jiu-jitsu"))
	assert.False(t, isExempt("/metrics-muay-thai/"))
	assert.False(t, isExempt("/planos"))
}

func TestMiddleware_RootRedirects(t *testing.T) {
	r, _ := newMiddlewareRouter(t)
	w := serve(r, "/")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, PublicLanding, w.Header().Get("Location"))
}

func TestMiddleware_BareSlugResolves(t *testing.T) {
	r, _ := newMiddlewareRouter(t)
	// no route for "/kime-dojo", but the slug must still resolve rather than redirect
	w := serve(r, "/kime-dojo")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "academy_not_found")
}

func TestMiddleware_ResolverError(t *testing.T) {
	r := gin.New()
	r.Use(Middleware(failingResolver{}))
	r.GET("/:slug/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := serve(r, "/any/x")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLegacyOwnerMiddleware(t *testing.T) {
	svc, _ := newTestService()
	owned, err := svc.Create(context.Background(), CreateInput{Name: "Owner Dojo", OwnerID: "owner-1"})
	require.NoError(t, err)
	keyed, err := svc.Create(context.Background(), CreateInput{Name: "Keyed Dojo", OwnerID: "owner-2"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		principal *Principal
		wantCode  int
		wantID    string
	}{
		{"anonymous", nil, http.StatusOK, ""},
		{"superuser", &Principal{UserID: "root", Superuser: true}, http.StatusOK, ""},
		{"owner", &Principal{UserID: "owner-1"}, http.StatusOK, owned.ID},
		{"key bound", &Principal{UserID: "staff", AcademyID: keyed.ID}, http.StatusOK, keyed.ID},
		{"no academy", &Principal{UserID: "stranger"}, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := func(*gin.Context) (Principal, bool) {
				if tt.principal == nil {
					return Principal{}, false
				}
				return *tt.principal, true
			}
			r := gin.New()
			r.Use(LegacyOwnerMiddleware(svc, pf))
			r.GET("/v1/x", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"academy": IDFromContext(c.Request.Context())})
			})
			w := serve(r, "/v1/x")
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.JSONEq(t, `{"academy":"`+tt.wantID+`"}`, w.Body.String())
			}
		})
	}
}

func TestMustScope(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

	_, ok := MustScope(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
