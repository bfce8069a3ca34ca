// handler.go — основной обработчик API Storage Orchestrator.
// Переводит HTTP-запросы в вызовы сервисного слоя и обратно.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/access"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/pathtoken"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/repository"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/service"
)

// maxJSONBody — предел тела JSON-запросов.
const maxJSONBody = 1 << 20

// FileService — операции оркестратора, используемые обработчиками.
// Реализуется *service.StorageService.
type FileService interface {
	UploadFile(ctx context.Context, bucket string, r io.Reader, opts service.UploadOptions, auth model.AuthContext) (*service.UploadResult, error)
	DownloadFile(ctx context.Context, id string) (*service.Download, error)
	DeleteFile(ctx context.Context, id string, auth model.AuthContext) (bool, error)
	UpdateFile(ctx context.Context, id string, opts service.UpdateOptions, auth model.AuthContext) (*model.File, error)
	MoveFileVirtualPath(ctx context.Context, id, virtualPath string, auth model.AuthContext) (*model.File, error)
	MoveFilePathTokens(ctx context.Context, id string, tokens []string, auth model.AuthContext) (*model.File, error)
	MoveFileStorage(ctx context.Context, id, dstPath string, opts service.MoveOptions, auth model.AuthContext) (*model.File, error)
	CopyFileWithinBucket(ctx context.Context, id, dstPath string, opts service.CopyOptions, auth model.AuthContext) (*model.File, error)
	CopyFileAcrossBuckets(ctx context.Context, id, dstBucket, dstPath string, opts service.CopyOptions, auth model.AuthContext) (*model.File, error)
	GetFileMetadataByID(ctx context.Context, id string) (*model.File, error)
	GetFileMetadataByPath(ctx context.Context, bucket, path string) (*model.File, error)
	ListFiles(ctx context.Context, params repository.ListParams) (*service.ListResult, error)
	SearchFiles(ctx context.Context, term string, params repository.ListParams) (*service.ListResult, error)
	GetFileURL(ctx context.Context, id string, opts service.URLOptions) (string, error)
}

// APIHandler — обработчик API файлов.
type APIHandler struct {
	files         FileService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт обработчик API. maxUploadSize — предел размера
// загружаемого файла; 0 — без ограничения на уровне HTTP.
func NewAPIHandler(files FileService, maxUploadSize int64, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		files:         files,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst с ограничением размера.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("некорректное тело запроса: %w", err)
	}
	return nil
}

// --- Ответы ---

// fileResponse — представление записи файла в API.
type fileResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	ContentType  string         `json:"content_type"`
	Size         int64          `json:"size"`
	Bucket       string         `json:"bucket"`
	Path         string         `json:"path"`
	ContextType  string         `json:"context_type"`
	ContextID    string         `json:"context_id"`
	ResourceType *string        `json:"resource_type"`
	ResourceID   *string        `json:"resource_id"`
	IsPublic     bool           `json:"is_public"`
	AccessLevel  string         `json:"access_level"`
	CreatedBy    string         `json:"created_by"`
	Metadata     map[string]any `json:"metadata"`
	VirtualPath  string         `json:"virtual_path"`
	PathTokens   []string       `json:"path_tokens"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	URL          string         `json:"url,omitempty"`
}

func toFileResponse(f *model.File) fileResponse {
	resp := fileResponse{
		ID:           f.ID,
		Name:         f.Name,
		ContentType:  f.ContentType,
		Size:         f.Size,
		Bucket:       f.Bucket,
		Path:         f.Path,
		ContextType:  string(f.ContextType),
		ContextID:    f.ContextID,
		ResourceType: f.ResourceType,
		ResourceID:   f.ResourceID,
		IsPublic:     f.IsPublic,
		AccessLevel:  string(f.AccessLevel),
		CreatedBy:    f.CreatedBy,
		Metadata:     f.Metadata,
		VirtualPath:  f.VirtualPath,
		PathTokens:   f.PathTokens,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	if resp.PathTokens == nil {
		resp.PathTokens = []string{}
	}
	return resp
}

// fileListResponse — страница файлов.
type fileListResponse struct {
	Items   []fileResponse `json:"items"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}

func toFileListResponse(res *service.ListResult) fileListResponse {
	items := make([]fileResponse, 0, len(res.Items))
	for _, f := range res.Items {
		items = append(items, toFileResponse(f))
	}
	return fileListResponse{
		Items:   items,
		Total:   res.Total,
		Limit:   res.Limit,
		Offset:  res.Offset,
		HasMore: res.HasMore,
	}
}

// --- Разбор query-параметров ---

// parseListParams строит ListParams из query-параметров:
// фильтры, sort_by, sort_order, limit, offset.
//
//nolint:gocyclo,cyclop // линейный разбор параметров
func parseListParams(q url.Values) (repository.ListParams, error) {
	var p repository.ListParams
	str := func(key string) *string {
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			return nil
		}
		return &v
	}

	if v := str("context_type"); v != nil {
		ct := model.ContextType(*v)
		if !ct.Valid() {
			return p, fmt.Errorf("context_type: недопустимое значение %q", *v)
		}
		p.Filter.ContextType = &ct
	}
	if v := str("access_level"); v != nil {
		al := model.AccessLevel(*v)
		if !al.Valid() {
			return p, fmt.Errorf("access_level: недопустимое значение %q", *v)
		}
		p.Filter.AccessLevel = &al
	}
	if q.Get("is_public") != "" {
		b, err := access.CoerceBool(q.Get("is_public"))
		if err != nil {
			return p, fmt.Errorf("is_public: %w", err)
		}
		p.Filter.IsPublic = &b
	}
	p.Filter.ContextID = str("context_id")
	p.Filter.ResourceType = str("resource_type")
	p.Filter.ResourceID = str("resource_id")
	p.Filter.CreatedBy = str("created_by")
	p.Filter.VirtualPath = str("virtual_path")
	p.Filter.Name = str("name")
	p.Filter.ContentType = str("content_type")
	p.Filter.Bucket = str("bucket")
	p.Filter.PathTokens = parseTokens(q["path_tokens"])

	p.SortBy = q.Get("sort_by")
	p.SortOrder = q.Get("sort_order")

	var err error
	if p.Limit, err = parseIntParam(q, "limit"); err != nil {
		return p, err
	}
	if p.Offset, err = parseIntParam(q, "offset"); err != nil {
		return p, err
	}
	return p, nil
}

// parseTokens принимает сегменты как повторяющийся параметр или через запятую.
func parseTokens(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	var tokens []string
	for _, v := range values {
		tokens = append(tokens, strings.Split(v, ",")...)
	}
	return pathtoken.CleanTokens(tokens)
}

func parseIntParam(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: ожидается целое число, получено %q", key, raw)
	}
	return v, nil
}

// parseExpiresIn принимает секунды ("3600") или длительность Go ("1h").
func parseExpiresIn(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("expires_in: некорректное значение %q", raw)
	}
	return d, nil
}

// RegisterRoutes регистрирует маршруты /api/v1/files.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/files", func(r chi.Router) {
		r.Post("/", h.UploadFile)
		r.Get("/", h.ListFiles)
		r.Get("/search", h.SearchFiles)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetFile)
			r.Patch("/", h.UpdateFile)
			r.Delete("/", h.DeleteFile)
			r.Get("/download", h.DownloadFile)
			r.Get("/url", h.GetFileURL)
			r.Post("/move", h.MoveFile)
			r.Put("/virtual-path", h.SetVirtualPath)
			r.Put("/path-tokens", h.SetPathTokens)
			r.Post("/copy", h.CopyFile)
		})
	})
}
