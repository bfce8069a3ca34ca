package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/access"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/pathtoken"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/repository"
)

// MoveFileVirtualPath меняет виртуальный путь файла. Блоб не трогается.
//
// Deprecated: используйте UpdateFile с VirtualPath.
func (s *StorageService) MoveFileVirtualPath(
	ctx context.Context,
	id, virtualPath string,
	auth model.AuthContext,
) (f *model.File, err error) {
	const op = "move_virtual_path"
	defer s.observe(op, time.Now(), &err)

	return s.applyUpdate(ctx, op, id, repository.FileUpdate{
		PathTokens: pathtoken.PathToTokens(virtualPath),
	}, auth)
}

// MoveFilePathTokens задаёт виртуальный путь списком сегментов.
//
// Deprecated: используйте UpdateFile с PathTokens.
func (s *StorageService) MoveFilePathTokens(
	ctx context.Context,
	id string,
	tokens []string,
	auth model.AuthContext,
) (f *model.File, err error) {
	const op = "move_path_tokens"
	defer s.observe(op, time.Now(), &err)

	if tokens == nil {
		tokens = []string{}
	}
	return s.applyUpdate(ctx, op, id, repository.FileUpdate{
		PathTokens: pathtoken.CleanTokens(tokens),
	}, auth)
}

// MoveOptions — параметры физического перемещения.
type MoveOptions struct {
	// Bucket — бакет назначения; пусто — текущий бакет файла.
	Bucket string
	// UpdatePathTokens — после перемещения пересчитать виртуальный путь
	// из нового физического ключа. По умолчанию виртуальный путь не меняется.
	UpdatePathTokens bool
}

// MoveFileStorage перемещает блоб на новый физический адрес.
// Порядок: копия блоба, обновление записи (точка фиксации), удаление
// исходного блоба. До фиксации ошибка откатывает копию; после фиксации
// ошибка удаления исходника только логируется.
func (s *StorageService) MoveFileStorage(
	ctx context.Context,
	id, dstPath string,
	opts MoveOptions,
	auth model.AuthContext,
) (f *model.File, err error) {
	const op = "move_storage"
	defer s.observe(op, time.Now(), &err)

	src, err := s.loadSource(ctx, op, id)
	if err != nil {
		return nil, err
	}

	dstBucket := opts.Bucket
	if dstBucket == "" {
		dstBucket = src.Bucket
	}
	if !access.IsKnownBucket(dstBucket) {
		return nil, newError(KindInvalidOperation, op, "", "неизвестный бакет %q", dstBucket)
	}
	dstKey, err := normalizeKey(dstPath)
	if err != nil {
		return nil, newError(KindInvalidOperation, op, "", "%v", err)
	}
	if dstBucket == src.Bucket && dstKey == src.Path {
		return s.retokenize(ctx, op, src, opts, auth)
	}

	logger := s.logger.With(
		slog.String("file_id", src.ID),
		slog.String("from", src.Bucket+"/"+src.Path),
		slog.String("to", dstBucket+"/"+dstKey),
	)

	if err := s.ensureVacant(ctx, op, dstBucket, dstKey, logger); err != nil {
		return nil, err
	}

	if err := s.blobs.Copy(ctx, src.Bucket, src.Path, dstBucket, dstKey); err != nil {
		return nil, s.unclassified(op, LayerBlob, err, logger)
	}

	// Точка фиксации: запись должна оставаться по исходному адресу
	updated, err := s.files.Update(ctx, src.ID, repository.FileUpdate{
		Bucket:       &dstBucket,
		Path:         &dstKey,
		ExpectBucket: &src.Bucket,
		ExpectPath:   &src.Path,
	})
	if err != nil {
		s.cache.Delete(src.ID)
		s.compensate(ctx, op, dstBucket, dstKey, err)
		return nil, s.unclassified(op, LayerMetadata, err, logger)
	}
	s.cache.Set(updated)

	if err := s.blobs.Delete(ctx, src.Bucket, src.Path); err != nil {
		consistencyErrorsTotal.WithLabelValues(inconsistencyOrphanBlob).Inc()
		logger.Error("Нарушение согласованности: исходный блоб не удалён после перемещения",
			slog.String("error", err.Error()))
	}

	logger.Info("Файл перемещён", slog.String("moved_by", auth.CreatedBy()))
	return s.retokenize(ctx, op, updated, opts, auth)
}

// retokenize — отдельный шаг после перемещения: сегменты пути берутся из
// физического ключа. Перемещение уже зафиксировано, поэтому ошибка здесь
// только логируется, и возвращается перемещённая запись.
func (s *StorageService) retokenize(
	ctx context.Context,
	op string,
	f *model.File,
	opts MoveOptions,
	auth model.AuthContext,
) (*model.File, error) {
	if !opts.UpdatePathTokens {
		return f, nil
	}
	tokens := pathtoken.PathToTokens(f.Path)
	updated, err := s.applyUpdate(ctx, op, f.ID, repository.FileUpdate{PathTokens: tokens}, auth)
	if err != nil {
		s.logger.Warn("Не удалось обновить виртуальный путь после перемещения",
			slog.String("file_id", f.ID),
			slog.String("error", err.Error()),
		)
		return f, nil
	}
	return updated, nil
}

// CopyOptions — переопределения для копии. nil-поля берутся из исходного файла.
type CopyOptions struct {
	Name        *string
	IsPublic    *bool
	AccessLevel *string
	// Metadata сливается с metadata исходного файла.
	Metadata     map[string]any
	VirtualPath  *string
	PathTokens   []string
	ResourceType *string
	ResourceID   *string
	// ContextType и ContextID допустимы только при копировании между бакетами.
	ContextType *model.ContextType
	ContextID   *string
}

// CopyFileWithinBucket копирует файл в тот же бакет по новому пути.
// Пустой dstPath — путь вычисляется для новой записи.
func (s *StorageService) CopyFileWithinBucket(
	ctx context.Context,
	id, dstPath string,
	opts CopyOptions,
	auth model.AuthContext,
) (f *model.File, err error) {
	const op = "copy_within_bucket"
	defer s.observe(op, time.Now(), &err)

	if opts.ContextType != nil || opts.ContextID != nil {
		return nil, newError(KindInvalidOperation, op, "",
			"смена области владения возможна только при копировании в другой бакет")
	}

	src, err := s.loadSource(ctx, op, id)
	if err != nil {
		return nil, err
	}
	return s.copyFile(ctx, op, src, src.Bucket, dstPath, src.ContextType, src.ContextID, opts, auth)
}

// CopyFileAcrossBuckets копирует файл в другой бакет.
// Пустой dstBucket — бакет по умолчанию для области копии.
func (s *StorageService) CopyFileAcrossBuckets(
	ctx context.Context,
	id, dstBucket, dstPath string,
	opts CopyOptions,
	auth model.AuthContext,
) (f *model.File, err error) {
	const op = "copy_across_buckets"
	defer s.observe(op, time.Now(), &err)

	src, err := s.loadSource(ctx, op, id)
	if err != nil {
		return nil, err
	}

	contextType, contextID := src.ContextType, src.ContextID
	switch {
	case opts.ContextType != nil:
		requested := ""
		if opts.ContextID != nil {
			requested = *opts.ContextID
		}
		if contextType, contextID, err = access.ResolveContext(*opts.ContextType, requested, auth); err != nil {
			return nil, translate(op, "", err)
		}
	case opts.ContextID != nil:
		contextID = strings.TrimSpace(*opts.ContextID)
		if err := access.ValidateIdentifier("context_id", contextID); err != nil {
			return nil, translate(op, "", err)
		}
	}

	if dstBucket == "" {
		dstBucket = access.DefaultBucket(contextType)
	}
	if dstBucket == src.Bucket {
		return nil, newError(KindInvalidOperation, op, "",
			"бакет назначения совпадает с исходным, используйте копирование внутри бакета")
	}
	if !access.IsKnownBucket(dstBucket) {
		return nil, newError(KindInvalidOperation, op, "", "неизвестный бакет %q", dstBucket)
	}
	return s.copyFile(ctx, op, src, dstBucket, dstPath, contextType, contextID, opts, auth)
}

// copyFile — общая часть копирования: проверка адреса, копия блоба,
// новая запись, компенсация при ошибке записи.
//
//nolint:gocyclo,cyclop // применение переопределений
func (s *StorageService) copyFile(
	ctx context.Context,
	op string,
	src *model.File,
	dstBucket, dstPath string,
	contextType model.ContextType,
	contextID string,
	opts CopyOptions,
	auth model.AuthContext,
) (*model.File, error) {
	dst := src.Clone()
	dst.ID = s.newID()
	dst.Bucket = dstBucket
	dst.ContextType, dst.ContextID = contextType, contextID
	dst.CreatedBy = auth.CreatedBy()

	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return nil, newError(KindInvalidFile, op, "", "имя файла не может быть пустым")
		}
		dst.Name = name
	}
	if opts.IsPublic != nil {
		dst.IsPublic = *opts.IsPublic
	}
	if opts.AccessLevel != nil {
		v, err := access.DefaultVisibility(nil, *opts.AccessLevel)
		if err != nil {
			return nil, translate(op, "", err)
		}
		dst.AccessLevel = v.AccessLevel
	}
	if opts.ResourceType != nil || opts.ResourceID != nil {
		rt, rid := derefOr(opts.ResourceType, src.ResourceType), derefOr(opts.ResourceID, src.ResourceID)
		var err error
		if dst.ResourceType, dst.ResourceID, err = optionalIdentifiers(rt, rid); err != nil {
			return nil, translate(op, "", err)
		}
	}
	if opts.Metadata != nil {
		merged := make(map[string]any, len(dst.Metadata)+len(opts.Metadata))
		for k, v := range dst.Metadata {
			merged[k] = v
		}
		for k, v := range opts.Metadata {
			merged[k] = v
		}
		dst.Metadata = merged
	}
	if opts.PathTokens != nil || opts.VirtualPath != nil {
		vp := ""
		if opts.VirtualPath != nil {
			vp = *opts.VirtualPath
		}
		dst.PathTokens = tokensFrom(opts.PathTokens, vp)
	}
	dst.VirtualPath = pathtoken.VirtualPath(dst.PathTokens)

	if dstPath == "" {
		dst.Path = derivePath(dst)
	} else {
		var err error
		if dst.Path, err = normalizeKey(dstPath); err != nil {
			return nil, newError(KindInvalidOperation, op, "", "%v", err)
		}
	}
	if dst.Bucket == src.Bucket && dst.Path == src.Path {
		return nil, newError(KindFileAlreadyExists, op, LayerMetadata, "копия не может занять адрес исходного файла")
	}

	logger := s.logger.With(
		slog.String("source_id", src.ID),
		slog.String("file_id", dst.ID),
		slog.String("to", dst.Bucket+"/"+dst.Path),
	)

	if err := s.ensureVacant(ctx, op, dst.Bucket, dst.Path, logger); err != nil {
		return nil, err
	}
	// Copy не перезаписывает адрес: загрузка, успевшая занять его после
	// проверки, получает приоритет (FILE_ALREADY_EXISTS)
	if err := s.blobs.Copy(ctx, src.Bucket, src.Path, dst.Bucket, dst.Path); err != nil {
		return nil, s.unclassified(op, LayerBlob, err, logger)
	}
	if err := s.ensureSourceUnmoved(ctx, src); err != nil {
		s.compensate(ctx, op, dst.Bucket, dst.Path, err)
		return nil, s.unclassified(op, LayerMetadata, err, logger)
	}
	if err := s.files.Create(ctx, dst); err != nil {
		s.compensate(ctx, op, dst.Bucket, dst.Path, err)
		return nil, s.unclassified(op, LayerMetadata, err, logger)
	}
	s.cache.Set(dst)

	logger.Info("Файл скопирован", slog.String("created_by", dst.CreatedBy))
	return dst, nil
}

// ensureSourceUnmoved проверяет, что исходная запись не сменила адрес, пока
// копировался блоб. Иначе по старому адресу могли лежать чужие байты.
func (s *StorageService) ensureSourceUnmoved(ctx context.Context, src *model.File) error {
	cur, err := s.files.GetByID(ctx, src.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, src.ID)
	}
	if cur.Bucket != src.Bucket || cur.Path != src.Path {
		return fmt.Errorf("%w: исходный файл %s перемещён", repository.ErrStale, src.ID)
	}
	return nil
}

// ensureVacant проверяет, что адрес свободен и в метаданных, и в хранилище.
// Блоб без записи тоже занимает адрес: перезаписывать его нельзя.
func (s *StorageService) ensureVacant(ctx context.Context, op, bucket, key string, logger *slog.Logger) error {
	existing, err := s.files.GetByPath(ctx, bucket, key)
	if err != nil {
		return s.unclassified(op, LayerMetadata, err, logger)
	}
	if existing != nil {
		return newError(KindFileAlreadyExists, op, LayerMetadata, "адрес %s/%s занят", bucket, key)
	}

	exists, err := s.blobs.Exists(ctx, bucket, key)
	if err != nil {
		return s.unclassified(op, LayerBlob, err, logger)
	}
	if exists {
		consistencyErrorsTotal.WithLabelValues(inconsistencyOrphanBlob).Inc()
		logger.Warn("По адресу назначения найден блоб без метаданных",
			slog.String("bucket", bucket), slog.String("path", key))
		return newError(KindFileAlreadyExists, op, LayerBlob, "адрес %s/%s занят", bucket, key)
	}
	return nil
}

func derefOr(v, fallback *string) string {
	if v != nil {
		return *v
	}
	if fallback != nil {
		return *fallback
	}
	return ""
}
