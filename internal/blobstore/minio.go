package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig — параметры подключения к MinIO / S3.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	// PublicBaseURL — базовый URL публичных ссылок; пусто — адрес endpoint.
	PublicBaseURL string
}

// MinioGateway — Gateway поверх minio-go.
type MinioGateway struct {
	client     *minio.Client
	region     string
	publicBase string
	logger     *slog.Logger
}

// NewMinioGateway создаёт клиент MinIO. Сетевых вызовов не выполняет.
func NewMinioGateway(cfg MinioConfig, logger *slog.Logger) (*MinioGateway, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("не задан endpoint MinIO")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	publicBase := strings.TrimRight(cfg.PublicBaseURL, "/")
	if publicBase == "" {
		publicBase = strings.TrimRight(client.EndpointURL().String(), "/")
	}

	return &MinioGateway{
		client:     client,
		region:     cfg.Region,
		publicBase: publicBase,
		logger:     logger.With(slog.String("component", "minio_gateway")),
	}, nil
}

func (g *MinioGateway) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (*ObjectInfo, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	putOpts := minio.PutObjectOptions{ContentType: contentType}
	if opts.IfAbsent {
		// If-None-Match: * — хранилище само отклоняет запись на занятый адрес
		putOpts.SetMatchETagExcept("*")
	}
	info, err := g.client.PutObject(ctx, bucket, key, r, size, putOpts)
	if err != nil {
		return nil, mapMinioError("put", bucket, key, err)
	}
	return &ObjectInfo{Bucket: bucket, Key: key, Size: info.Size, ETag: info.ETag}, nil
}

func (g *MinioGateway) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := g.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError("get", bucket, key, err)
	}
	// GetObject ленивый: отсутствие объекта видно только после Stat/Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapMinioError("get", bucket, key, err)
	}
	return obj, nil
}

func (g *MinioGateway) Delete(ctx context.Context, bucket, key string) error {
	err := g.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		mapped := mapMinioError("delete", bucket, key, err)
		if errors.Is(mapped, ErrNotFound) {
			return nil
		}
		return mapped
	}
	return nil
}

// Copy передаёт объект потоком с условием If-None-Match: CopyObject в
// minio-go не принимает условий на адрес назначения.
func (g *MinioGateway) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	if err := validateKey(dstKey); err != nil {
		return err
	}
	src, err := g.client.GetObject(ctx, srcBucket, srcKey, minio.GetObjectOptions{})
	if err != nil {
		return mapMinioError("copy", srcBucket, srcKey, err)
	}
	defer src.Close()

	st, err := src.Stat()
	if err != nil {
		return mapMinioError("copy", srcBucket, srcKey, err)
	}

	_, err = g.Put(ctx, dstBucket, dstKey, src, st.Size, PutOptions{
		ContentType: st.ContentType,
		IfAbsent:    true,
	})
	return err
}

func (g *MinioGateway) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := g.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	mapped := mapMinioError("stat", bucket, key, err)
	if errors.Is(mapped, ErrNotFound) {
		return false, nil
	}
	return false, mapped
}

func (g *MinioGateway) SignedURL(ctx context.Context, bucket, key string, opts SignOptions) (string, error) {
	params := url.Values{}
	if opts.Download {
		params.Set("response-content-disposition", contentDisposition(opts.FileName, key))
	}
	u, err := g.client.PresignedGetObject(ctx, bucket, key, opts.ExpiresIn, params)
	if err != nil {
		return "", mapMinioError("presign", bucket, key, err)
	}
	return u.String(), nil
}

func (g *MinioGateway) PublicURL(bucket, key string) string {
	return g.publicBase + "/" + url.PathEscape(bucket) + "/" + escapeKey(key)
}

func (g *MinioGateway) EnsureBuckets(ctx context.Context, buckets []string) error {
	for _, b := range buckets {
		exists, err := g.client.BucketExists(ctx, b)
		if err != nil {
			return fmt.Errorf("ошибка проверки бакета %s: %w", b, err)
		}
		if exists {
			continue
		}
		if err := g.client.MakeBucket(ctx, b, minio.MakeBucketOptions{Region: g.region}); err != nil {
			// Бакет мог создать соседний экземпляр
			code := minio.ToErrorResponse(err).Code
			if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				continue
			}
			return fmt.Errorf("ошибка создания бакета %s: %w", b, err)
		}
		g.logger.Info("Бакет создан", slog.String("bucket", b))
	}
	return nil
}

// mapMinioError приводит ошибку MinIO к ошибкам пакета.
func mapMinioError(op, bucket, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s/%s", ErrAccessDenied, bucket, key)
	case resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, bucket, key)
	}
	return fmt.Errorf("ошибка MinIO (%s %s/%s): %w", op, bucket, key, err)
}

// contentDisposition формирует заголовок attachment с именем файла.
func contentDisposition(fileName, key string) string {
	if fileName == "" {
		if i := strings.LastIndex(key, "/"); i >= 0 {
			fileName = key[i+1:]
		} else {
			fileName = key
		}
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": fileName})
}

// escapeKey экранирует сегменты ключа, сохраняя разделители.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
