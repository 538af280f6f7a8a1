package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Rifaque/querycraft-backend/internal/auth"
	"github.com/Rifaque/querycraft-backend/internal/engine"
)

type queryResponse struct {
	Source   string           `json:"source"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Stats    map[string]any   `json:"stats"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Engine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query engine is not configured", false, nil)
		return
	}
	if err := requireRole(r, "query_runner"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request engine.Request
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}

	result, err := deps.Engine.Execute(r.Context(), request)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Source:   result.Source,
		Columns:  result.Columns,
		Rows:     result.Rows,
		RowCount: result.RowCount,
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
			"row_count":   result.RowCount,
		},
	})
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses. The
// error kind doubles as the wire error code.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := engine.KindOf(err)
	status := http.StatusBadRequest
	retryable := false
	switch kind {
	case engine.KindFileNotFound:
		status = http.StatusNotFound
	case engine.KindAuthRequired:
		status = http.StatusUnauthorized
	case engine.KindConnectivity:
		status = http.StatusBadGateway
		retryable = true
	case "":
		status = http.StatusInternalServerError
		kind = "INTERNAL_ERROR"
	}

	var extra map[string]any
	if backend := engine.BackendOf(err); backend != "" {
		extra = map[string]any{"backend": backend}
	}
	writeError(r.Context(), w, status, string(kind), err.Error(), retryable, extra)
}

// requireRole enforces role membership only when an authenticated identity is
// present; with auth disabled there is nothing to check.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if !identity.HasRole(role) {
		return fmt.Errorf("identity lacks required role %q", role)
	}
	return nil
}
