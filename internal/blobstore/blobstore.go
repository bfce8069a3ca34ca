// Пакет blobstore — доступ к блобовому хранилищу по адресу (bucket, key).
// Оркестратор зависит только от интерфейса Gateway; реализации —
// MinIO/S3 (MinioGateway) и локальная файловая система (LocalGateway).
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// Ошибки шлюза. Реализации оборачивают ошибки провайдера в эти значения.
var (
	// ErrNotFound — объекта (или бакета) нет.
	ErrNotFound = errors.New("объект не найден")
	// ErrAlreadyExists — объект уже существует (PutOptions.IfAbsent).
	ErrAlreadyExists = errors.New("объект уже существует")
	// ErrAccessDenied — провайдер отказал в доступе.
	ErrAccessDenied = errors.New("доступ к объекту запрещён")
	// ErrInvalidKey — ключ объекта недопустим.
	ErrInvalidKey = errors.New("недопустимый ключ объекта")
)

// PutOptions — параметры записи объекта.
type PutOptions struct {
	ContentType string
	// IfAbsent — не перезаписывать существующий объект (ErrAlreadyExists).
	IfAbsent bool
}

// SignOptions — параметры подписанной ссылки.
type SignOptions struct {
	ExpiresIn time.Duration
	// Download — ссылка отдаёт объект как вложение.
	Download bool
	// FileName — имя файла для Content-Disposition.
	FileName string
}

// ObjectInfo — сведения о записанном объекте.
type ObjectInfo struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string
}

// Gateway — контракт блобового хранилища.
type Gateway interface {
	// Put записывает поток по адресу и возвращает фактический размер.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (*ObjectInfo, error)
	// Get открывает объект для чтения; вызывающий закрывает поток.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Delete удаляет объект; отсутствие объекта — не ошибка.
	Delete(ctx context.Context, bucket, key string) error
	// Copy копирует объект. Адрес назначения не перезаписывается:
	// занятый адрес → ErrAlreadyExists.
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	// Exists сообщает, существует ли объект.
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// SignedURL возвращает временную ссылку на чтение.
	SignedURL(ctx context.Context, bucket, key string, opts SignOptions) (string, error)
	// PublicURL возвращает постоянную ссылку для публичных объектов.
	PublicURL(bucket, key string) string
	// EnsureBuckets создаёт отсутствующие бакеты.
	EnsureBuckets(ctx context.Context, buckets []string) error
}
