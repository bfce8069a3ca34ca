// files.go — обработчики /api/v1/files: загрузка, чтение, изменение,
// удаление, ссылки и поиск.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/storage-orchestrator/internal/api/errors"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/api/middleware"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/access"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/service"
)

// multipartMemory — сколько multipart-формы держать в памяти;
// остальное уходит во временные файлы.
const multipartMemory = 32 << 20

// multipartOverhead — запас на поля формы сверх размера файла.
const multipartOverhead = 1 << 20

// UploadFile — POST /api/v1/files (multipart/form-data).
//
//nolint:gocyclo,cyclop // разбор полей формы
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge, string(service.KindInvalidFile),
				"Размер файла превышает допустимый")
			return
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer file.Close()

	form := r.MultipartForm.Value
	value := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	opts := service.UploadOptions{
		Name:         value("name"),
		ContentType:  partContentType(header),
		Size:         header.Size,
		Path:         value("path"),
		ContextType:  model.ContextType(value("context_type")),
		ContextID:    value("context_id"),
		ResourceType: value("resource_type"),
		ResourceID:   value("resource_id"),
		AccessLevel:  value("access_level"),
		VirtualPath:  value("virtual_path"),
		PathTokens:   parseTokens(form["path_tokens"]),
	}
	if opts.Name == "" {
		opts.Name = header.Filename
	}
	if _, ok := form["is_public"]; ok {
		b, err := access.CoerceBool(value("is_public"))
		if err != nil {
			apierrors.ValidationError(w, "is_public: "+err.Error())
			return
		}
		opts.IsPublic = &b
	}
	if raw := value("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.Metadata); err != nil {
			apierrors.ValidationError(w, "metadata: ожидается JSON-объект")
			return
		}
	}

	auth := middleware.AuthFromContext(r.Context())
	res, err := h.files.UploadFile(r.Context(), value("bucket"), file, opts, auth)
	if err != nil {
		h.serviceError(w, "Ошибка загрузки файла", err)
		return
	}

	resp := toFileResponse(res.File)
	resp.URL = res.URL
	w.Header().Set("Location", "/api/v1/files/"+res.File.ID)
	writeJSON(w, http.StatusCreated, resp)
}

// partContentType возвращает тип части формы. application/octet-stream,
// который клиенты подставляют по умолчанию, не передаётся: тип
// определяется по расширению имени.
func partContentType(header *multipart.FileHeader) string {
	ct := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil && mt == "application/octet-stream" {
		return ""
	}
	return ct
}

// GetFile — GET /api/v1/files/{id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.files.GetFileMetadataByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, "Ошибка получения метаданных файла", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

// ListFiles — GET /api/v1/files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r.URL.Query())
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	res, err := h.files.ListFiles(r.Context(), params)
	if err != nil {
		h.serviceError(w, "Ошибка получения списка файлов", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileListResponse(res))
}

// SearchFiles — GET /api/v1/files/search?q=...
func (h *APIHandler) SearchFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params, err := parseListParams(q)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	res, err := h.files.SearchFiles(r.Context(), q.Get("q"), params)
	if err != nil {
		h.serviceError(w, "Ошибка поиска файлов", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileListResponse(res))
}

// updateFileRequest — тело PATCH /api/v1/files/{id}.
type updateFileRequest struct {
	Name         *string          `json:"name"`
	ContentType  *string          `json:"content_type"`
	Size         *int64           `json:"size"`
	IsPublic     *access.FlexBool `json:"is_public"`
	AccessLevel  *string          `json:"access_level"`
	Metadata     map[string]any   `json:"metadata"`
	VirtualPath  *string          `json:"virtual_path"`
	PathTokens   []string         `json:"path_tokens"`
	ResourceType *string          `json:"resource_type"`
	ResourceID   *string          `json:"resource_id"`
}

// UpdateFile — PATCH /api/v1/files/{id}. Меняет только метаданные.
func (h *APIHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	var req updateFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	f, err := h.files.UpdateFile(r.Context(), chi.URLParam(r, "id"), service.UpdateOptions{
		Name:         req.Name,
		ContentType:  req.ContentType,
		Size:         req.Size,
		IsPublic:     req.IsPublic.Ptr(),
		AccessLevel:  req.AccessLevel,
		Metadata:     req.Metadata,
		VirtualPath:  req.VirtualPath,
		PathTokens:   req.PathTokens,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
	}, middleware.AuthFromContext(r.Context()))
	if err != nil {
		h.serviceError(w, "Ошибка обновления файла", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

// DeleteFile — DELETE /api/v1/files/{id}. 204 — удалён, 404 — записи не было.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := h.files.DeleteFile(r.Context(), id, middleware.AuthFromContext(r.Context()))
	if err != nil {
		h.serviceError(w, "Ошибка удаления файла", err)
		return
	}
	if !deleted {
		apierrors.WriteError(w, http.StatusNotFound, string(service.KindFileNotFound), "Файл не найден")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DownloadFile — GET /api/v1/files/{id}/download. Отдаёт содержимое как вложение.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	d, err := h.files.DownloadFile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, "Ошибка скачивания файла", err)
		return
	}
	defer d.Body.Close()

	w.Header().Set("Content-Type", d.File.ContentType)
	w.Header().Set("Content-Disposition", attachment(d.File.Name))
	if d.File.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(d.File.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, d.Body); err != nil {
		// Заголовки уже отправлены — остаётся только лог.
		h.logger.Warn("Передача файла прервана",
			slog.String("file_id", d.File.ID),
			slog.String("error", err.Error()),
		)
	}
}

// attachment формирует Content-Disposition с именем файла.
func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

// fileURLResponse — ответ GET /api/v1/files/{id}/url.
type fileURLResponse struct {
	URL string `json:"url"`
}

// GetFileURL — GET /api/v1/files/{id}/url?download=&expires_in=.
func (h *APIHandler) GetFileURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts service.URLOptions
	if q.Has("download") {
		b, err := access.CoerceBool(q.Get("download"))
		if err != nil {
			apierrors.ValidationError(w, "download: "+err.Error())
			return
		}
		opts.Download = b
	}
	expires, err := parseExpiresIn(q.Get("expires_in"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	opts.ExpiresIn = expires

	u, err := h.files.GetFileURL(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.serviceError(w, "Ошибка получения ссылки на файл", err)
		return
	}
	writeJSON(w, http.StatusOK, fileURLResponse{URL: u})
}

// serviceError пишет ответ для ошибки сервиса. Классифицированные ошибки
// уже залогированы сервисом, здесь — только неклассифицированные.
func (h *APIHandler) serviceError(w http.ResponseWriter, msg string, err error) {
	if apierrors.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("error", err.Error()))
	}
	apierrors.ServiceError(w, err)
}
