package pipeline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlife-core/platform/pkg/common/models"
)

func newRouter(t *testing.T, maxBody int64) (*mux.Router, *fixture) {
	t.Helper()
	f := newFixture(t)
	router := mux.NewRouter()
	NewHTTPHandler(f.service, maxBody, models.StrategyMedian).Register(router.PathPrefix("/api/v1").Subrouter())
	return router, f
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHTTPRunAndFetch(t *testing.T) {
	router, _ := newRouter(t, 0)

	rec := do(router, http.MethodPost, "/api/v1/runs?record_id=101&days=2025-09-10&strategy=nearest&nearest_time=12:00", export)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.RunID)
	assert.Equal(t, "101", res.RecordID)
	assert.NotEmpty(t, res.Records)

	rec = do(router, http.MethodGet, "/api/v1/runs/"+res.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cached RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cached))
	assert.Equal(t, res.RunID, cached.RunID)

	rec = do(router, http.MethodGet, "/api/v1/runs/"+res.RunID+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusCompleted, status.Status)
}

func TestHTTPErrors(t *testing.T) {
	router, _ := newRouter(t, 64)

	cases := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"missing record id", http.MethodPost, "/api/v1/runs", export, http.StatusBadRequest},
		{"unknown strategy", http.MethodPost, "/api/v1/runs?record_id=1&strategy=mode", export, http.StatusBadRequest},
		{"body too large", http.MethodPost, "/api/v1/runs?record_id=1", export, http.StatusRequestEntityTooLarge},
		{"not an export", http.MethodPost, "/api/v1/runs?record_id=1", "hello", http.StatusBadRequest},
		{"unknown run", http.MethodGet, "/api/v1/runs/does-not-exist", "", http.StatusNotFound},
		{"unknown run status", http.MethodGet, "/api/v1/runs/does-not-exist/status", "", http.StatusNotFound},
		{"wrong method", http.MethodGet, "/api/v1/runs", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(router, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}
