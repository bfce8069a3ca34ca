package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/blobstore"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/repository"
)

// Пагинация списков.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// MaxSignedURLTTL — максимальный срок действия подписанной ссылки.
const MaxSignedURLTTL = 7 * 24 * time.Hour

// ListResult — страница записей.
type ListResult struct {
	Items   []*model.File
	Total   int
	Limit   int
	Offset  int
	HasMore bool
}

// GetFileMetadataByID возвращает запись по идентификатору (сначала из кэша).
func (s *StorageService) GetFileMetadataByID(ctx context.Context, id string) (*model.File, error) {
	const op = "get_metadata"

	if f, ok := s.cache.Get(id); ok {
		return f, nil
	}
	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, s.unclassified(op, LayerMetadata, err, s.logger.With(slog.String("file_id", id)))
	}
	if f == nil {
		return nil, newError(KindFileNotFound, op, LayerMetadata, "файл %s не найден", id)
	}
	s.cache.Set(f)
	return f, nil
}

// GetFileMetadataByPath возвращает запись по физическому адресу.
func (s *StorageService) GetFileMetadataByPath(ctx context.Context, bucket, path string) (*model.File, error) {
	const op = "get_metadata_by_path"

	f, err := s.files.GetByPath(ctx, bucket, path)
	if err != nil {
		return nil, s.unclassified(op, LayerMetadata, err, s.logger.With(slog.String("path", bucket+"/"+path)))
	}
	if f == nil {
		return nil, newError(KindFileNotFound, op, LayerMetadata, "файл %s/%s не найден", bucket, path)
	}
	return f, nil
}

// ListFiles возвращает страницу записей по фильтрам.
func (s *StorageService) ListFiles(ctx context.Context, params repository.ListParams) (res *ListResult, err error) {
	const op = "list"
	defer s.observe(op, time.Now(), &err)

	params, err = normalizePage(op, params)
	if err != nil {
		return nil, err
	}
	items, total, err := s.files.List(ctx, params)
	if err != nil {
		return nil, s.unclassified(op, LayerMetadata, err, s.logger)
	}
	return newListResult(items, total, params), nil
}

// SearchFiles — подстрочный поиск по имени и описанию с фильтрами ListFiles.
func (s *StorageService) SearchFiles(
	ctx context.Context,
	term string,
	params repository.ListParams,
) (res *ListResult, err error) {
	const op = "search"
	defer s.observe(op, time.Now(), &err)

	term = strings.TrimSpace(term)
	if term == "" {
		return nil, newError(KindInvalidOperation, op, "", "пустая строка поиска")
	}
	params, err = normalizePage(op, params)
	if err != nil {
		return nil, err
	}
	items, total, err := s.files.Search(ctx, term, params)
	if err != nil {
		return nil, s.unclassified(op, LayerMetadata, err, s.logger)
	}
	return newListResult(items, total, params), nil
}

// URLOptions — параметры ссылки на файл.
type URLOptions struct {
	// Download — ссылка с Content-Disposition: attachment (всегда подписанная).
	Download bool
	// ExpiresIn — срок действия; 0 — значение по умолчанию.
	ExpiresIn time.Duration
}

// GetFileURL возвращает ссылку на файл: постоянную для публичных файлов,
// иначе подписанную с ограниченным сроком действия.
func (s *StorageService) GetFileURL(ctx context.Context, id string, opts URLOptions) (url string, err error) {
	const op = "get_url"
	defer s.observe(op, time.Now(), &err)

	if opts.ExpiresIn < 0 || opts.ExpiresIn > MaxSignedURLTTL {
		return "", newError(KindInvalidOperation, op, "", "срок действия ссылки вне диапазона (0, %s]", MaxSignedURLTTL)
	}
	f, err := s.GetFileMetadataByID(ctx, id)
	if err != nil {
		return "", err
	}
	url, err = s.resolveURL(ctx, f, opts.Download, opts.ExpiresIn)
	if err != nil {
		return "", s.unclassified(op, LayerBlob, err, s.logger.With(slog.String("file_id", id)))
	}
	return url, nil
}

func (s *StorageService) resolveURL(ctx context.Context, f *model.File, download bool, ttl time.Duration) (string, error) {
	if f.IsPublic && !download {
		return s.blobs.PublicURL(f.Bucket, f.Path), nil
	}
	if ttl == 0 {
		ttl = s.opts.SignedURLTTL
	}
	return s.blobs.SignedURL(ctx, f.Bucket, f.Path, blobstore.SignOptions{
		ExpiresIn: ttl,
		Download:  download,
		FileName:  f.Name,
	})
}

func normalizePage(op string, p repository.ListParams) (repository.ListParams, error) {
	if p.Limit < 0 || p.Offset < 0 {
		return p, newError(KindInvalidOperation, op, "", "limit и offset не могут быть отрицательными")
	}
	if p.Limit == 0 {
		p.Limit = DefaultListLimit
	}
	if p.Limit > MaxListLimit {
		p.Limit = MaxListLimit
	}
	return p, nil
}

func newListResult(items []*model.File, total int, p repository.ListParams) *ListResult {
	if items == nil {
		items = []*model.File{}
	}
	return &ListResult{
		Items:   items,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+len(items) < total,
	}
}
