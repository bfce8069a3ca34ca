// storage.go — оркестратор хранилища: согласует блобовое хранилище
// и метаданные при загрузке, скачивании, обновлении и удалении.
//
// Порядок шагов при загрузке:
//  1. Значения по умолчанию (область, бакет, видимость)
//  2. Физический путь (явный или вычисленный)
//  3. Запись блоба (без перезаписи существующего)
//  4. Создание записи метаданных
//  5. При ошибке шага 4 — компенсация: удаление записанного блоба
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/blobstore"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/access"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/pathtoken"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/repository"
)

// Prometheus-метрики оркестратора.
var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "so_operations_total",
		Help: "Количество операций оркестратора по результату.",
	}, []string{"operation", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "so_operation_duration_seconds",
		Help:    "Длительность операций оркестратора.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	consistencyErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "so_consistency_errors_total",
		Help: "Нарушения согласованности блобов и метаданных, требующие ручного разбора.",
	}, []string{"kind"})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "so_compensations_total",
		Help: "Компенсирующие удаления блобов по результату.",
	}, []string{"result"})
)

// Виды нарушений согласованности.
const (
	inconsistencyMissingBlob        = "missing_blob"
	inconsistencyOrphanBlob         = "orphan_blob"
	inconsistencyCompensationFailed = "compensation_failed"
)

// compensationTimeout — сколько даётся компенсирующему удалению после
// отмены контекста запроса.
const compensationTimeout = 30 * time.Second

const defaultContentType = "application/octet-stream"

// errUploadTooLarge — поток длиннее допустимого размера загрузки.
var errUploadTooLarge = errors.New("превышен максимальный размер файла")

// Options — параметры StorageService.
type Options struct {
	// SignedURLTTL — срок действия подписанных ссылок по умолчанию.
	SignedURLTTL time.Duration
	// MaxUploadSize — максимальный размер блоба; 0 — без ограничения.
	MaxUploadSize int64
}

// StorageService — оркестратор хранилища. Не хранит состояния между
// вызовами; зависимости передаются при создании.
type StorageService struct {
	files  repository.FileRepository
	blobs  blobstore.Gateway
	cache  *CacheService
	opts   Options
	logger *slog.Logger
	newID  func() string
}

// NewStorageService создаёт оркестратор. cache может быть nil.
func NewStorageService(
	files repository.FileRepository,
	blobs blobstore.Gateway,
	cache *CacheService,
	opts Options,
	logger *slog.Logger,
) *StorageService {
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}
	return &StorageService{
		files:  files,
		blobs:  blobs,
		cache:  cache,
		opts:   opts,
		logger: logger.With(slog.String("component", "storage_service")),
		newID:  uuid.NewString,
	}
}

// UploadOptions — параметры загрузки.
type UploadOptions struct {
	Name        string
	ContentType string
	// Size — ожидаемый размер; -1, если неизвестен.
	Size int64
	// Path — явный физический ключ; пусто — вычисляется.
	Path         string
	ContextType  model.ContextType
	ContextID    string
	ResourceType string
	ResourceID   string
	IsPublic     *bool
	AccessLevel  string
	Metadata     map[string]any
	VirtualPath  string
	// PathTokens имеет приоритет над VirtualPath.
	PathTokens []string
}

// UploadResult — результат загрузки.
type UploadResult struct {
	File *model.File
	URL  string
}

// UploadFile записывает блоб и создаёт запись метаданных.
// Успешная загрузка не оставляет блоба без записи.
//
//nolint:gocyclo,cyclop // последовательный конвейер загрузки
func (s *StorageService) UploadFile(
	ctx context.Context,
	bucket string,
	r io.Reader,
	opts UploadOptions,
	auth model.AuthContext,
) (result *UploadResult, err error) {
	const op = "upload"
	defer s.observe(op, time.Now(), &err)

	if r == nil {
		return nil, newError(KindInvalidFile, op, "", "отсутствует содержимое файла")
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, newError(KindInvalidFile, op, "", "имя файла обязательно")
	}
	contentType, err := resolveContentType(opts.ContentType, name)
	if err != nil {
		return nil, newError(KindInvalidFile, op, "", "%v", err)
	}
	if s.opts.MaxUploadSize > 0 && opts.Size > s.opts.MaxUploadSize {
		return nil, newError(KindInvalidFile, op, "", "размер %d больше допустимого %d", opts.Size, s.opts.MaxUploadSize)
	}

	// 1. Значения по умолчанию
	contextType, contextID, err := access.ResolveContext(opts.ContextType, opts.ContextID, auth)
	if err != nil {
		return nil, translate(op, "", err)
	}
	resourceType, resourceID, err := optionalIdentifiers(opts.ResourceType, opts.ResourceID)
	if err != nil {
		return nil, translate(op, "", err)
	}
	visibility, err := access.DefaultVisibility(opts.IsPublic, opts.AccessLevel)
	if err != nil {
		return nil, translate(op, "", err)
	}
	if bucket == "" {
		bucket = access.DefaultBucket(contextType)
	}
	if !access.IsKnownBucket(bucket) {
		return nil, newError(KindInvalidOperation, op, "", "неизвестный бакет %q", bucket)
	}

	f := &model.File{
		ID:           s.newID(),
		Name:         name,
		ContentType:  contentType,
		Bucket:       bucket,
		ContextType:  contextType,
		ContextID:    contextID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IsPublic:     visibility.IsPublic,
		AccessLevel:  visibility.AccessLevel,
		CreatedBy:    auth.CreatedBy(),
		Metadata:     opts.Metadata,
		PathTokens:   tokensFrom(opts.PathTokens, opts.VirtualPath),
	}
	f.VirtualPath = pathtoken.VirtualPath(f.PathTokens)

	// 2. Физический путь
	if opts.Path != "" {
		if f.Path, err = normalizeKey(opts.Path); err != nil {
			return nil, newError(KindInvalidOperation, op, "", "%v", err)
		}
	} else {
		f.Path = derivePath(f)
	}

	logger := s.logger.With(
		slog.String("file_id", f.ID),
		slog.String("bucket", f.Bucket),
		slog.String("path", f.Path),
	)

	// Быстрая проверка занятости адреса до записи блоба
	existing, err := s.files.GetByPath(ctx, f.Bucket, f.Path)
	if err != nil {
		return nil, s.unclassified(op, LayerMetadata, err, logger)
	}
	if existing != nil {
		return nil, newError(KindFileAlreadyExists, op, LayerMetadata, "адрес %s/%s занят", f.Bucket, f.Path)
	}

	// 3. Запись блоба
	body := r
	if s.opts.MaxUploadSize > 0 {
		body = &limitedReader{r: r, remaining: s.opts.MaxUploadSize}
	}
	info, err := s.blobs.Put(ctx, f.Bucket, f.Path, body, opts.Size, blobstore.PutOptions{
		ContentType: contentType,
		IfAbsent:    true,
	})
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			// Часть потока могла уйти в хранилище
			s.compensate(ctx, op, f.Bucket, f.Path, err)
			return nil, newError(KindInvalidFile, op, LayerBlob, "размер больше допустимого %d", s.opts.MaxUploadSize)
		}
		return nil, s.unclassified(op, LayerBlob, err, logger)
	}
	f.Size = info.Size
	if opts.Size >= 0 && info.Size != opts.Size {
		s.compensate(ctx, op, f.Bucket, f.Path, fmt.Errorf("записано %d байт из %d", info.Size, opts.Size))
		return nil, newError(KindInvalidFile, op, LayerBlob, "записано %d байт, ожидалось %d", info.Size, opts.Size)
	}

	// 4. Запись метаданных; 5. компенсация
	if err := s.files.Create(ctx, f); err != nil {
		s.compensate(ctx, op, f.Bucket, f.Path, err)
		return nil, s.unclassified(op, LayerMetadata, err, logger)
	}
	s.cache.Set(f)

	url, err := s.resolveURL(ctx, f, false, 0)
	if err != nil {
		// Файл сохранён; ссылку можно получить повторно
		logger.Warn("Не удалось сформировать ссылку на загруженный файл", slog.String("error", err.Error()))
	}

	logger.Info("Файл загружен",
		slog.Int64("size", f.Size),
		slog.String("context_type", string(f.ContextType)),
		slog.String("context_id", f.ContextID),
		slog.String("created_by", f.CreatedBy),
	)
	return &UploadResult{File: f, URL: url}, nil
}

// Download — открытый поток блоба и его метаданные.
// Вызывающий обязан закрыть Body.
type Download struct {
	File *model.File
	Body io.ReadCloser
}

// DownloadFile открывает блоб файла. Отсутствие записи и отсутствие блоба
// при существующей записи различаются по Layer (ErrBlobMissing).
func (s *StorageService) DownloadFile(ctx context.Context, id string) (d *Download, err error) {
	const op = "download"
	defer s.observe(op, time.Now(), &err)

	f, err := s.loadSource(ctx, op, id)
	if err != nil {
		return nil, err
	}

	body, err := s.blobs.Get(ctx, f.Bucket, f.Path)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			consistencyErrorsTotal.WithLabelValues(inconsistencyMissingBlob).Inc()
			s.logger.Error("Нарушение согласованности: блоб отсутствует при наличии метаданных",
				slog.String("file_id", f.ID),
				slog.String("bucket", f.Bucket),
				slog.String("path", f.Path),
			)
			return nil, &Error{Kind: KindFileNotFound, Op: op, Layer: LayerBlob, Message: "блоб файла отсутствует", cause: err}
		}
		return nil, s.unclassified(op, LayerBlob, err, s.logger.With(slog.String("file_id", f.ID)))
	}
	return &Download{File: f, Body: body}, nil
}

// DeleteFile удаляет блоб, затем запись. false — записи не было.
// Если блоб удалить не удалось, запись остаётся.
func (s *StorageService) DeleteFile(ctx context.Context, id string, auth model.AuthContext) (deleted bool, err error) {
	const op = "delete"
	defer s.observe(op, time.Now(), &err)

	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		return false, s.unclassified(op, LayerMetadata, err, s.logger.With(slog.String("file_id", id)))
	}
	if f == nil {
		s.cache.Delete(id)
		return false, nil
	}

	logger := s.logger.With(
		slog.String("file_id", f.ID),
		slog.String("bucket", f.Bucket),
		slog.String("path", f.Path),
	)

	if err := s.blobs.Delete(ctx, f.Bucket, f.Path); err != nil {
		return false, s.unclassified(op, LayerBlob, err, logger)
	}

	deleted, err = s.files.Delete(ctx, f.ID)
	s.cache.Delete(f.ID)
	if err != nil {
		consistencyErrorsTotal.WithLabelValues(inconsistencyMissingBlob).Inc()
		logger.Error("Нарушение согласованности: блоб удалён, запись метаданных осталась",
			slog.String("error", err.Error()),
		)
		return false, s.unclassified(op, LayerMetadata, err, logger)
	}

	logger.Info("Файл удалён", slog.String("deleted_by", auth.CreatedBy()))
	return deleted, nil
}

// UpdateOptions — частичное обновление метаданных. nil-поля не меняются.
type UpdateOptions struct {
	Name *string
	// ContentType и Size описывают блоб и не меняются без новых байтов.
	ContentType  *string
	Size         *int64
	IsPublic     *bool
	AccessLevel  *string
	Metadata     map[string]any
	VirtualPath  *string
	PathTokens   []string
	ResourceType *string
	ResourceID   *string
}

// UpdateFile обновляет только метаданные; metadata сливается с текущей.
func (s *StorageService) UpdateFile(
	ctx context.Context,
	id string,
	opts UpdateOptions,
	auth model.AuthContext,
) (f *model.File, err error) {
	const op = "update"
	defer s.observe(op, time.Now(), &err)

	if opts.ContentType != nil || opts.Size != nil {
		return nil, newError(KindInvalidOperation, op, "",
			"content_type и size меняются только вместе с содержимым файла")
	}

	u := repository.FileUpdate{
		IsPublic: opts.IsPublic,
		Metadata: opts.Metadata,
	}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return nil, newError(KindInvalidFile, op, "", "имя файла не может быть пустым")
		}
		u.Name = &name
	}
	if opts.AccessLevel != nil {
		v, err := access.DefaultVisibility(nil, *opts.AccessLevel)
		if err != nil {
			return nil, translate(op, "", err)
		}
		u.AccessLevel = &v.AccessLevel
	}
	for field, v := range map[string]*string{"resource_type": opts.ResourceType, "resource_id": opts.ResourceID} {
		if v != nil {
			if err := access.ValidateIdentifier(field, *v); err != nil {
				return nil, translate(op, "", err)
			}
		}
	}
	u.ResourceType, u.ResourceID = opts.ResourceType, opts.ResourceID
	if opts.PathTokens != nil || opts.VirtualPath != nil {
		vp := ""
		if opts.VirtualPath != nil {
			vp = *opts.VirtualPath
		}
		u.PathTokens = tokensFrom(opts.PathTokens, vp)
	}

	return s.applyUpdate(ctx, op, id, u, auth)
}

// loadSource читает запись из БД в обход кэша. Операции над блобом берут
// адрес только отсюда: кэш другого экземпляра мог устареть после перемещения.
func (s *StorageService) loadSource(ctx context.Context, op, id string) (*model.File, error) {
	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, s.unclassified(op, LayerMetadata, err, s.logger.With(slog.String("file_id", id)))
	}
	if f == nil {
		s.cache.Delete(id)
		return nil, newError(KindFileNotFound, op, LayerMetadata, "файл %s не найден", id)
	}
	s.cache.Set(f)
	return f, nil
}

// applyUpdate выполняет обновление записи и обновляет кэш.
func (s *StorageService) applyUpdate(
	ctx context.Context,
	op, id string,
	u repository.FileUpdate,
	auth model.AuthContext,
) (*model.File, error) {
	f, err := s.files.Update(ctx, id, u)
	if err != nil {
		s.cache.Delete(id)
		return nil, s.unclassified(op, LayerMetadata, err, s.logger.With(slog.String("file_id", id)))
	}
	s.cache.Set(f)

	s.logger.Info("Метаданные файла обновлены",
		slog.String("file_id", id),
		slog.String("operation", op),
		slog.String("updated_by", auth.CreatedBy()),
	)
	return f, nil
}

// compensate удаляет блоб, записанный операцией, которая не дошла до
// фиксации метаданных. Ошибка компенсации логируется и не возвращается.
// Если адрес уже принадлежит другой записи (проигранная гонка), блоб не трогаем.
func (s *StorageService) compensate(ctx context.Context, op, bucket, key string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	logger := s.logger.With(
		slog.String("operation", op),
		slog.String("bucket", bucket),
		slog.String("path", key),
		slog.String("cause", cause.Error()),
	)

	if errors.Is(cause, repository.ErrConflict) {
		owner, err := s.files.GetByPath(ctx, bucket, key)
		if err == nil && owner != nil {
			compensationsTotal.WithLabelValues("skipped").Inc()
			logger.Warn("Компенсация пропущена: адрес принадлежит другой записи",
				slog.String("owner_id", owner.ID))
			return
		}
	}

	if err := s.blobs.Delete(ctx, bucket, key); err != nil {
		compensationsTotal.WithLabelValues("failed").Inc()
		consistencyErrorsTotal.WithLabelValues(inconsistencyCompensationFailed).Inc()
		logger.Error("Компенсация не удалась: блоб остался без метаданных",
			slog.String("error", err.Error()))
		return
	}
	compensationsTotal.WithLabelValues("ok").Inc()
	logger.Warn("Компенсация выполнена: блоб удалён")
}

// unclassified переводит ошибку в таксономию; неклассифицированные
// ошибки логируются с полным контекстом.
func (s *StorageService) unclassified(op string, layer Layer, err error, logger *slog.Logger) error {
	out := translate(op, layer, err)
	if KindOf(out) == KindUnknown {
		logger.Error("Ошибка хранилища",
			slog.String("operation", op),
			slog.String("layer", string(layer)),
			slog.String("error", err.Error()),
		)
	}
	return out
}

// observe обновляет метрики операции.
func (s *StorageService) observe(op string, start time.Time, errp *error) {
	result := "ok"
	if errp != nil && *errp != nil {
		result = string(KindOf(*errp))
	}
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// derivePath вычисляет физический ключ:
// {context_type}/{context_id}[/{resource_type}/{resource_id}]/{id}-{name}.
func derivePath(f *model.File) string {
	tokens := []string{string(f.ContextType), f.ContextID}
	if f.ResourceType != nil && f.ResourceID != nil {
		tokens = append(tokens, *f.ResourceType, *f.ResourceID)
	}
	tokens = append(tokens, f.ID+"-"+sanitizeName(f.Name))
	return pathtoken.TokensToPath(tokens)
}

// normalizeKey нормализует явный физический ключ.
func normalizeKey(path string) (string, error) {
	tokens := pathtoken.PathToTokens(path)
	if len(tokens) == 0 {
		return "", fmt.Errorf("пустой путь")
	}
	for _, t := range tokens {
		if t == "." || t == ".." {
			return "", fmt.Errorf("путь %q содержит недопустимый сегмент", path)
		}
	}
	return pathtoken.TokensToPath(tokens), nil
}

// tokensFrom возвращает сегменты из явного списка или из виртуального пути.
// Оба источника нормализуются одинаково.
func tokensFrom(tokens []string, virtualPath string) []string {
	if tokens == nil {
		tokens = pathtoken.PathToTokens(virtualPath)
	}
	return pathtoken.CleanTokens(tokens)
}

func optionalIdentifiers(resourceType, resourceID string) (*string, *string, error) {
	var rt, rid *string
	if resourceType = strings.TrimSpace(resourceType); resourceType != "" {
		if err := access.ValidateIdentifier("resource_type", resourceType); err != nil {
			return nil, nil, err
		}
		rt = &resourceType
	}
	if resourceID = strings.TrimSpace(resourceID); resourceID != "" {
		if err := access.ValidateIdentifier("resource_id", resourceID); err != nil {
			return nil, nil, err
		}
		rid = &resourceID
	}
	return rt, rid, nil
}

// resolveContentType проверяет MIME-тип или выводит его из расширения.
func resolveContentType(contentType, name string) (string, error) {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
			return byExt, nil
		}
		return defaultContentType, nil
	}
	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		return "", fmt.Errorf("некорректный content_type %q", contentType)
	}
	return contentType, nil
}

// sanitizeName оставляет в имени буквы, цифры, дефис, подчёркивание и точку
// расширения. Длина основы ограничена 50 символами.
func sanitizeName(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	clean := func(s string) string {
		var b strings.Builder
		for _, r := range s {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9') || r == '-' || r == '_' ||
				(r >= 0x0400 && r <= 0x04FF) { // Кириллица
				b.WriteRune(r)
			}
		}
		return b.String()
	}

	base = clean(base)
	if runes := []rune(base); len(runes) > 50 {
		base = string(runes[:50])
	}
	if base == "" {
		base = "file"
	}
	if ext = clean(strings.TrimPrefix(ext, ".")); ext != "" {
		return base + "." + ext
	}
	return base
}

// limitedReader возвращает errUploadTooLarge, если поток длиннее remaining.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errUploadTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errUploadTooLarge
	}
	return n, err
}
