package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/dojo/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(svc *Service, academyID string) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if academyID != "" {
			a := &tenant.Academy{ID: academyID, Slug: "dojo", Active: true}
			c.Request = c.Request.WithContext(tenant.WithAcademy(c.Request.Context(), a))
		}
	})
	NewHandler(svc).RegisterRoutes(r.Group("/dojo"))
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_MessageReport(t *testing.T) {
	f := newFixture(t, nil)
	seedLogs(t, f.store, "ac1", 22, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	r := setupRouter(f.svc, "ac1")

	w := doJSON(r, http.MethodGet, "/dojo/reports/messages", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page ListPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Messages, 20)
	require.True(t, page.Page.HasMore)

	w = doJSON(r, http.MethodGet, "/dojo/reports/messages?cursor="+page.Page.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Messages, 2)

	w = doJSON(r, http.MethodGet, "/dojo/reports/messages?from=03-01-2025", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodGet, "/dojo/reports/messages?cursor=bm9wZQ", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodGet, "/dojo/messages/msg_a", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(r, http.MethodGet, "/dojo/messages/msg_zz", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_SendToStudent(t *testing.T) {
	gw := &fakeGateway{}
	f := newFixture(t, gw)
	ana := f.student(t, "Ana", "+5511999990000", true)
	bia := f.student(t, "Bia", "+5511888880000", false)
	r := setupRouter(f.svc, "ac1")

	w := doJSON(r, http.MethodPost, "/dojo/students/"+ana.ID+"/messages", map[string]string{"body": "Oi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"success":true`)

	w = doJSON(r, http.MethodPost, "/dojo/students/"+bia.ID+"/messages", map[string]string{"body": "Oi"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(r, http.MethodPost, "/dojo/students/stu_missing/messages", map[string]string{"body": "Oi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_SessionsNeedGateway(t *testing.T) {
	f := newFixture(t, nil)
	r := setupRouter(f.svc, "ac1")

	w := doJSON(r, http.MethodGet, "/dojo/whatsapp/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "gateway_not_configured")
}

func TestHandler_SessionsProxyGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status/ac1":
			_, _ = w.Write([]byte(`{"status":"ready"}`))
		default:
			_, _ = w.Write([]byte(`{"message":"ok"}`))
		}
	}))
	defer srv.Close()

	f := newFixture(t, NewHTTPGateway(srv.URL, time.Second).WithRetry(fastRetry))
	r := setupRouter(f.svc, "ac1")

	w := doJSON(r, http.MethodGet, "/dojo/whatsapp/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())

	assert.Equal(t, http.StatusAccepted, doJSON(r, http.MethodPost, "/dojo/whatsapp/connect", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodPost, "/dojo/whatsapp/disconnect", nil).Code)
}

func TestHandler_Unbound(t *testing.T) {
	f := newFixture(t, nil)
	r := setupRouter(f.svc, "")

	w := doJSON(r, http.MethodGet, "/dojo/reports/messages", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
