package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/fileregistry/backend/internal/db"
	apperrors "github.com/fileregistry/backend/internal/errors"
	"github.com/fileregistry/backend/internal/logger"
	"github.com/fileregistry/backend/internal/metrics"
	"github.com/fileregistry/backend/internal/registry"
)

// multipart uploads are buffered up to this many bytes in memory before
// spilling to temp files
const maxMultipartMemory = 32 << 20

// FileHandlers serves the /file endpoints. The file routes keep the plain
// text confirmation bodies of the service's legacy HTTP surface; only
// the status codes were tightened (404 for unknown ids, 409 for duplicate
// names, 500 for storage trouble).
type FileHandlers struct {
	registry *registry.Service
}

func NewFileHandlers(reg *registry.Service) *FileHandlers {
	return &FileHandlers{registry: reg}
}

// Upload handles POST /file/upload
func (h *FileHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	file, header, err := h.formFile(w, r)
	if err != nil {
		return
	}
	defer file.Close()

	record, err := h.registry.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	metrics.ObserveRegistryOp("upload", err)
	if err != nil {
		var conflict *registry.ConflictError
		if errors.As(err, &conflict) {
			writeText(w, http.StatusConflict, fmt.Sprintf("file already exists, id: %d", conflict.ExistingID))
			return
		}
		h.writeFailure(w, r, requestID, "upload failed", err)
		return
	}

	writeText(w, http.StatusOK, fmt.Sprintf("file uploaded, id: %d", record.ID))
}

// Update handles PUT /file/update/{id}
func (h *FileHandlers) Update(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	file, header, err := h.formFile(w, r)
	if err != nil {
		return
	}
	defer file.Close()

	record, err := h.registry.Update(r.Context(), id, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	metrics.ObserveRegistryOp("update", err)
	if err != nil {
		if errors.Is(err, db.ErrFileNotFound) {
			writeText(w, http.StatusNotFound, fmt.Sprintf("file with id %d does not exist", id))
			return
		}
		var conflict *registry.ConflictError
		if errors.As(err, &conflict) {
			writeText(w, http.StatusConflict, fmt.Sprintf("file already exists, id: %d", conflict.ExistingID))
			return
		}
		h.writeFailure(w, r, requestID, "update failed", err)
		return
	}

	writeText(w, http.StatusOK, fmt.Sprintf("file with id %d updated", record.ID))
}

// Delete handles DELETE /file/delete/{id}
func (h *FileHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	err := h.registry.Delete(r.Context(), id)
	metrics.ObserveRegistryOp("delete", err)
	if err != nil {
		if errors.Is(err, db.ErrFileNotFound) {
			writeText(w, http.StatusNotFound, "no such file")
			return
		}
		h.writeFailure(w, r, requestID, "delete failed", err)
		return
	}

	writeText(w, http.StatusOK, "file deleted")
}

// Download handles GET /file/download/{id}
func (h *FileHandlers) Download(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	record, content, info, err := h.registry.Open(r.Context(), id)
	metrics.ObserveRegistryOp("download", err)
	if err != nil {
		if errors.Is(err, db.ErrFileNotFound) {
			writeText(w, http.StatusNotFound, fmt.Sprintf("file with id %d does not exist", id))
			return
		}
		h.writeFailure(w, r, requestID, "download failed", err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", record.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Name))
	// ServeContent picks up Range and If-Modified-Since handling.
	http.ServeContent(w, r, record.Name, info.ModTime, content)
}

// List handles GET /file/list?page=&list_size=
func (h *FileHandlers) List(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "list_size", registry.DefaultPageSize)

	records, err := h.registry.List(r.Context(), page, pageSize)
	metrics.ObserveRegistryOp("list", err)
	if err != nil {
		h.writeFailure(w, r, requestID, "list failed", err)
		return
	}

	if len(records) == 0 {
		writeText(w, http.StatusOK, fmt.Sprintf("no files on page %d", page))
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, records)
}

// Get handles GET /file/{id}
func (h *FileHandlers) Get(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	record, err := h.registry.Get(r.Context(), id)
	metrics.ObserveRegistryOp("get", err)
	if err != nil {
		if errors.Is(err, db.ErrFileNotFound) {
			writeText(w, http.StatusNotFound, "no such file")
			return
		}
		h.writeFailure(w, r, requestID, "get failed", err)
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, record)
}

// formFile pulls the multipart "filedata" part. A missing part is a caller
// error, not an auth failure; the response is written here.
func (h *FileHandlers) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	requestID := apperrors.GetRequestID(r.Context())

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("expected multipart form data"))
		return nil, nil, err
	}

	file, header, err := r.FormFile("filedata")
	if err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("missing filedata field"))
		return nil, nil, err
	}

	return file, header, nil
}

func (h *FileHandlers) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	requestID := apperrors.GetRequestID(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid file id"))
		return 0, false
	}
	return id, true
}

func (h *FileHandlers) writeFailure(w http.ResponseWriter, r *http.Request, requestID, msg string, err error) {
	logger.Error(r.Context(), msg, err)

	var storage *registry.StorageFailure
	if errors.As(err, &storage) {
		apperrors.WriteError(w, requestID, apperrors.StorageError(msg))
		return
	}
	apperrors.WriteError(w, requestID, apperrors.DatabaseError(msg))
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, msg)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
