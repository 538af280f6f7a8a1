package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Rifaque/querycraft-backend/internal/nlq"
)

func handleTranslateQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	}
	if err := requireRole(r, "query_runner"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request nlq.Request
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.NaturalLanguage) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "NATURAL_LANGUAGE_REQUIRED", "natural_language is required", false, nil)
		return
	}

	result, err := deps.Translator.Translate(r.Context(), request)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATION_FAILED", "query translation failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
