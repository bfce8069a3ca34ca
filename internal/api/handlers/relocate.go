// relocate.go — обработчики перемещения и копирования файлов.
package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/storage-orchestrator/internal/api/errors"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/api/middleware"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/access"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/service"
)

// moveFileRequest — тело POST /api/v1/files/{id}/move.
type moveFileRequest struct {
	// Path — новый физический ключ (обязателен).
	Path string `json:"path"`
	// Bucket — бакет назначения; пусто — текущий.
	Bucket string `json:"bucket"`
	// UpdatePathTokens — пересчитать виртуальный путь из нового ключа.
	UpdatePathTokens bool `json:"update_path_tokens"`
}

// MoveFile — POST /api/v1/files/{id}/move. Физическое перемещение блоба.
func (h *APIHandler) MoveFile(w http.ResponseWriter, r *http.Request) {
	var req moveFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		apierrors.ValidationError(w, "Поле path обязательно")
		return
	}

	f, err := h.files.MoveFileStorage(r.Context(), chi.URLParam(r, "id"), req.Path,
		service.MoveOptions{Bucket: strings.TrimSpace(req.Bucket), UpdatePathTokens: req.UpdatePathTokens},
		middleware.AuthFromContext(r.Context()))
	if err != nil {
		h.serviceError(w, "Ошибка перемещения файла", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

// virtualPathRequest — тело PUT /api/v1/files/{id}/virtual-path.
type virtualPathRequest struct {
	VirtualPath string `json:"virtual_path"`
}

// SetVirtualPath — PUT /api/v1/files/{id}/virtual-path.
// Оставлен для старых клиентов; новые используют PATCH с virtual_path.
func (h *APIHandler) SetVirtualPath(w http.ResponseWriter, r *http.Request) {
	var req virtualPathRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	//nolint:staticcheck // устаревший маршрут обслуживается устаревшей операцией
	f, err := h.files.MoveFileVirtualPath(r.Context(), chi.URLParam(r, "id"), req.VirtualPath,
		middleware.AuthFromContext(r.Context()))
	if err != nil {
		h.serviceError(w, "Ошибка изменения виртуального пути", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

// pathTokensRequest — тело PUT /api/v1/files/{id}/path-tokens.
type pathTokensRequest struct {
	PathTokens []string `json:"path_tokens"`
}

// SetPathTokens — PUT /api/v1/files/{id}/path-tokens.
func (h *APIHandler) SetPathTokens(w http.ResponseWriter, r *http.Request) {
	var req pathTokensRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	//nolint:staticcheck // устаревший маршрут обслуживается устаревшей операцией
	f, err := h.files.MoveFilePathTokens(r.Context(), chi.URLParam(r, "id"), req.PathTokens,
		middleware.AuthFromContext(r.Context()))
	if err != nil {
		h.serviceError(w, "Ошибка изменения сегментов пути", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

// copyFileRequest — тело POST /api/v1/files/{id}/copy.
// Без bucket и без context_* — копия в тот же бакет.
type copyFileRequest struct {
	Bucket       string             `json:"bucket"`
	Path         string             `json:"path"`
	Name         *string            `json:"name"`
	IsPublic     *access.FlexBool   `json:"is_public"`
	AccessLevel  *string            `json:"access_level"`
	Metadata     map[string]any     `json:"metadata"`
	VirtualPath  *string            `json:"virtual_path"`
	PathTokens   []string           `json:"path_tokens"`
	ResourceType *string            `json:"resource_type"`
	ResourceID   *string            `json:"resource_id"`
	ContextType  *model.ContextType `json:"context_type"`
	ContextID    *string            `json:"context_id"`
}

// acrossBuckets сообщает, требует ли запрос копирования в другой бакет.
func (c *copyFileRequest) acrossBuckets() bool {
	return strings.TrimSpace(c.Bucket) != "" || c.ContextType != nil || c.ContextID != nil
}

// CopyFile — POST /api/v1/files/{id}/copy.
func (h *APIHandler) CopyFile(w http.ResponseWriter, r *http.Request) {
	var req copyFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	opts := service.CopyOptions{
		Name:         req.Name,
		IsPublic:     req.IsPublic.Ptr(),
		AccessLevel:  req.AccessLevel,
		Metadata:     req.Metadata,
		VirtualPath:  req.VirtualPath,
		PathTokens:   req.PathTokens,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		ContextType:  req.ContextType,
		ContextID:    req.ContextID,
	}
	id := chi.URLParam(r, "id")
	auth := middleware.AuthFromContext(r.Context())

	var (
		f   *model.File
		err error
	)
	if req.acrossBuckets() {
		f, err = h.files.CopyFileAcrossBuckets(r.Context(), id, strings.TrimSpace(req.Bucket), req.Path, opts, auth)
	} else {
		f, err = h.files.CopyFileWithinBucket(r.Context(), id, req.Path, opts, auth)
	}
	if err != nil {
		h.serviceError(w, "Ошибка копирования файла", err)
		return
	}
	w.Header().Set("Location", "/api/v1/files/"+f.ID)
	writeJSON(w, http.StatusCreated, toFileResponse(f))
}
