package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Rifaque/querycraft-backend/internal/observability"
	"github.com/Rifaque/querycraft-backend/internal/registry"
	"github.com/Rifaque/querycraft-backend/internal/storage"
)

type fileResponse struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Extension    string    `json:"extension"`
	Kind         string    `json:"kind"`
}

func toFileResponse(meta registry.FileMetadata) fileResponse {
	return fileResponse{
		ID:           meta.ID,
		OriginalName: meta.OriginalName,
		SizeBytes:    meta.SizeBytes,
		UploadedAt:   meta.UploadedAt,
		Extension:    meta.Extension,
		Kind:         string(meta.Kind),
	}
}

func handleUploadFile(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil || deps.Objects == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FILES_NOT_CONFIGURED", "file dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, "file_uploader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	if deps.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, deps.UploadMaxBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "uploaded file exceeds the size limit", false, map[string]any{"limit_bytes": tooLarge.Limit})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PAYLOAD", "multipart form field \"file\" is required", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = file.Close() }()

	// The first bytes feed content sniffing for extensionless uploads.
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PAYLOAD", "failed to read uploaded file", false, map[string]any{"details": err.Error()})
		return
	}
	head = head[:n]
	body := io.MultiReader(bytes.NewReader(head), file)

	fileID := uuid.NewString()
	uploadedAt := time.Now().UTC()
	key, err := storage.BuildUploadPath(fileID, header.Filename, uploadedAt)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), false, nil)
		return
	}

	contentType := header.Header.Get("Content-Type")
	info, err := deps.Objects.Put(r.Context(), key, body, header.Size, contentType)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to store uploaded file", true, map[string]any{"details": err.Error()})
		return
	}

	meta, err := deps.Registry.Register(r.Context(), registry.Upload{
		ID:           fileID,
		StoredPath:   key,
		OriginalName: header.Filename,
		SizeBytes:    info.Size,
		Head:         head,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "REGISTRY_ERROR", "failed to register uploaded file", true, map[string]any{"details": err.Error()})
		return
	}
	observability.ObserveUpload()

	writeJSON(w, http.StatusCreated, toFileResponse(meta))
}

func handleListFiles(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FILES_NOT_CONFIGURED", "file dependencies are not configured", false, nil)
		return
	}

	all, err := deps.Registry.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "REGISTRY_ERROR", "failed to list files", true, map[string]any{"details": err.Error()})
		return
	}
	files := make([]fileResponse, 0, len(all))
	for _, meta := range all {
		files = append(files, toFileResponse(meta))
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func handleGetFile(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "FILES_NOT_CONFIGURED", "file dependencies are not configured", false, nil)
		return
	}

	meta, err := deps.Registry.Lookup(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "FILE_NOT_FOUND", "file is not registered", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "REGISTRY_ERROR", "failed to look up file", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(meta))
}
