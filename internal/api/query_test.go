package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rifaque/querycraft-backend/internal/engine"
)

func postQuery(t *testing.T, eng *fakeEngine, body string) *httptest.ResponseRecorder {
	t.Helper()
	handler := NewHandler(testConfig(), Dependencies{Engine: eng})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)
	return rec
}

func TestQuerySuccessCarriesStats(t *testing.T) {
	eng := &fakeEngine{result: engine.Result{
		Source:   "sqlite",
		Columns:  []string{"id"},
		Rows:     []map[string]any{{"id": float64(1)}},
		RowCount: 1,
		Duration: 42 * time.Millisecond,
	}}

	rec := postQuery(t, eng, `{"file_id":"f1","query":"SELECT * FROM imported_csv"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if eng.last.FileID != "f1" {
		t.Fatalf("engine request = %+v", eng.last)
	}

	var payload queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Source != "sqlite" || payload.RowCount != 1 {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.Stats["duration_ms"] != float64(42) {
		t.Fatalf("stats = %v", payload.Stats)
	}
}

func TestQueryRejectsUnknownFields(t *testing.T) {
	rec := postQuery(t, &fakeEngine{}, `{"query":"SELECT 1","bogus":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_JSON") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestQueryErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"file not found", engine.Errf(engine.KindFileNotFound, "", "file missing"), http.StatusNotFound, "FILE_NOT_FOUND"},
		{"auth required", engine.Errf(engine.KindAuthRequired, "neo4j", "credentials required"), http.StatusUnauthorized, "AUTH_REQUIRED"},
		{"connectivity", engine.Errf(engine.KindConnectivity, "postgres", "dial failed"), http.StatusBadGateway, "CONNECTIVITY_ERROR"},
		{"validation", engine.Errf(engine.KindMongoQueryRequired, "", "collection required"), http.StatusBadRequest, "MONGO_QUERY_REQUIRED"},
		{"execution", engine.Errf(engine.KindBackendExecution, "mysql", "syntax error"), http.StatusBadRequest, "BACKEND_EXECUTION_ERROR"},
		{"foreign error", errors.New("plain failure"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postQuery(t, &fakeEngine{err: tt.err}, `{"query":"SELECT 1","connection_string":"postgres://db/app"}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantCode) {
				t.Fatalf("body %s missing code %s", rec.Body.String(), tt.wantCode)
			}
		})
	}
}

func TestQueryNotConfigured(t *testing.T) {
	handler := NewHandler(testConfig(), Dependencies{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"SELECT 1"}`)))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}
