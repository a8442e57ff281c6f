package ranks

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

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
		a := &tenant.Academy{ID: academyID, Slug: "dojo", Active: true}
		c.Request = c.Request.WithContext(tenant.WithAcademy(c.Request.Context(), a))
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

func TestHandler_RankCRUD(t *testing.T) {
	f := newFixture(t)
	judo := f.discipline(t, "ac1", "Judo")
	r := setupRouter(f.svc, "ac1")

	w := doJSON(r, http.MethodPost, "/dojo/ranks", map[string]any{"disciplineId": judo.ID, "name": "Branca", "order": 1})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rank Rank
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rank))

	w = doJSON(r, http.MethodPost, "/dojo/ranks", map[string]any{"disciplineId": judo.ID, "name": "Outra", "order": 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodGet, "/dojo/ranks?disciplineId="+judo.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doJSON(r, http.MethodPut, "/dojo/ranks/"+rank.ID, map[string]any{"disciplineId": judo.ID, "name": "Branca", "order": 1, "minMonths": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"minMonths":3`)

	w = doJSON(r, http.MethodDelete, "/dojo/ranks/"+rank.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandler_PromoteAndEligible(t *testing.T) {
	f := newFixture(t)
	judo := f.discipline(t, "ac1", "Judo")
	white := f.rank(t, "ac1", judo.ID, "Branca", 1, 6)
	st := f.student(t, "ac1", "Ana")
	r := setupRouter(f.svc, "ac1")

	w := doJSON(r, http.MethodPost, "/dojo/students/"+st.ID+"/ranks", map[string]string{"rankId": white.ID, "date": "2024-01-01"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, http.MethodGet, "/dojo/students/"+st.ID+"/ranks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"Branca"`)

	w = doJSON(r, http.MethodGet, "/dojo/reports/eligible", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doJSON(r, http.MethodGet, "/dojo/reports/eligible?date=2024-03-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	w = doJSON(r, http.MethodDelete, "/dojo/ranks/"+white.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "protected_reference")
}

func TestHandler_ExamFlow(t *testing.T) {
	f := newFixture(t)
	judo := f.discipline(t, "ac1", "Judo")
	white := f.rank(t, "ac1", judo.ID, "Branca", 1, 6)
	blue := f.rank(t, "ac1", judo.ID, "Azul", 2, 6)
	st := f.student(t, "ac1", "Ana")
	f.promote(t, "ac1", st.ID, white.ID, "2024-01-01")
	r := setupRouter(f.svc, "ac1")

	w := doJSON(r, http.MethodPost, "/dojo/exams", map[string]any{"disciplineId": judo.ID, "scheduledAt": "2025-03-24T09:00:00Z", "location": "Tatame"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var exam Exam
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exam))

	w = doJSON(r, http.MethodGet, "/dojo/exams/"+exam.ID+"/candidates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), st.ID)

	w = doJSON(r, http.MethodPost, "/dojo/exams/"+exam.ID+"/invite", map[string]any{"studentIds": []string{st.ID}, "targetRankId": blue.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var invited struct {
		Enrollments []Enrollment `json:"enrollments"`
		Invited     int          `json:"invited"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &invited))
	require.Len(t, invited.Enrollments, 1)
	assert.Equal(t, 1, invited.Invited)
	enrollmentID := invited.Enrollments[0].ID

	w = doJSON(r, http.MethodGet, "/dojo/exams/"+exam.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), enrollmentID)

	w = doJSON(r, http.MethodPost, "/dojo/enrollments/"+enrollmentID+"/result", map[string]any{"passed": false})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/dojo/enrollments/"+enrollmentID+"/status", map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/dojo/enrollments/"+enrollmentID+"/status", map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/dojo/enrollments/"+enrollmentID+"/result", map[string]any{"passed": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"passed"`)
}

func TestHandler_ForeignExam(t *testing.T) {
	f := newFixture(t)
	judo := f.discipline(t, "ac2", "Judo")
	exam := newExam(t, f, "ac2", judo.ID)
	r := setupRouter(f.svc, "ac1")

	w := doJSON(r, http.MethodGet, "/dojo/exams/"+exam.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
