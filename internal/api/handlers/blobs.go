// blobs.go — раздача блобов локального бэкенда по публичным и
// подписанным ссылкам: GET /blobs/{bucket}/{key...}.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/storage-orchestrator/internal/api/errors"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/blobstore"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/service"
)

// SignedBlobReader — блобовое хранилище, выдающее объекты по
// ссылкам собственной подписи (blobstore.LocalGateway).
type SignedBlobReader interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	VerifySignature(bucket, key string, q url.Values) error
}

// BlobHandler — раздача объектов по ссылкам из SignedURL и PublicURL.
type BlobHandler struct {
	blobs  SignedBlobReader
	files  FileService
	logger *slog.Logger
}

// NewBlobHandler создаёт обработчик раздачи блобов.
func NewBlobHandler(blobs SignedBlobReader, files FileService, logger *slog.Logger) *BlobHandler {
	return &BlobHandler{
		blobs:  blobs,
		files:  files,
		logger: logger.With(slog.String("component", "blob_handler")),
	}
}

// ServeBlob — GET /blobs/{bucket}/*.
// С параметром signature ссылка проверяется по подписи; без него объект
// отдаётся, только если его запись публичная.
func (h *BlobHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")
	q := r.URL.Query()

	f, err := h.files.GetFileMetadataByPath(r.Context(), bucket, key)
	if err != nil && !errors.Is(err, service.ErrFileNotFound) {
		apierrors.ServiceError(w, err)
		return
	}

	download := false
	if q.Has("signature") {
		if err := h.blobs.VerifySignature(bucket, key, q); err != nil {
			apierrors.WriteError(w, http.StatusForbidden, string(service.KindPermissionDenied),
				"Ссылка недействительна или истекла")
			return
		}
		download = q.Get("download") == "1"
	} else if f == nil || !f.IsPublic {
		// Приватные и неизвестные объекты неотличимы для анонимного клиента.
		apierrors.WriteError(w, http.StatusNotFound, string(service.KindFileNotFound), "Файл не найден")
		return
	}

	body, err := h.blobs.Get(r.Context(), bucket, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			apierrors.WriteError(w, http.StatusNotFound, string(service.KindFileNotFound), "Файл не найден")
			return
		}
		h.logger.Error("Ошибка чтения блоба",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при чтении файла")
		return
	}
	defer body.Close()

	setBlobHeaders(w, f, key, download, q.Get("filename"))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("Передача блоба прервана",
			slog.String("bucket", bucket),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// setBlobHeaders выставляет тип, размер и Content-Disposition. Без записи
// метаданных тип определяется по расширению ключа.
func setBlobHeaders(w http.ResponseWriter, f *model.File, key string, download bool, fileName string) {
	contentType := mime.TypeByExtension(path.Ext(key))
	name := path.Base(key)
	if f != nil {
		contentType = f.ContentType
		name = f.Name
		if f.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	if download {
		if fileName != "" {
			name = fileName
		}
		w.Header().Set("Content-Disposition", attachment(name))
	}
}
