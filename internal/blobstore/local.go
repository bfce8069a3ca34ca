package blobstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/pathtoken"
)

// ErrInvalidSignature — подпись ссылки неверна или срок истёк.
var ErrInvalidSignature = errors.New("недействительная подпись ссылки")

// LocalGateway — Gateway поверх локальной файловой системы.
// Раскладка: {root}/{bucket}/{key}. Подписанные ссылки — HMAC-SHA256.
type LocalGateway struct {
	root       string
	publicBase string
	signingKey []byte
	logger     *slog.Logger
	now        func() time.Time
}

// NewLocalGateway создаёт шлюз и корневую директорию, если её нет.
func NewLocalGateway(root, publicBaseURL string, signingKey []byte, logger *slog.Logger) (*LocalGateway, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", root, err)
	}
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("не задан ключ подписи ссылок")
	}
	return &LocalGateway{
		root:       root,
		publicBase: strings.TrimRight(publicBaseURL, "/"),
		signingKey: signingKey,
		logger:     logger.With(slog.String("component", "local_gateway")),
		now:        time.Now,
	}, nil
}

// objectPath возвращает путь объекта на диске, не выходящий за root.
func (g *LocalGateway) objectPath(bucket, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := validateKey(bucket); err != nil || strings.Contains(bucket, "/") {
		return "", fmt.Errorf("%w: бакет %q", ErrInvalidKey, bucket)
	}
	return filepath.Join(g.root, bucket, filepath.FromSlash(pathtoken.Normalize(key))), nil
}

// Put: temp файл → запись → fsync → атомарный rename (или link при IfAbsent).
// При ошибке temp файл удаляется.
func (g *LocalGateway) Put(_ context.Context, bucket, key string, r io.Reader, _ int64, opts PutOptions) (*ObjectInfo, error) {
	fullPath, err := g.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории: %w", err)
	}

	tmpPath := fullPath + "." + uuid.NewString()[:8] + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer os.Remove(tmpPath) //nolint:errcheck // после rename/link файла уже нет

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if opts.IfAbsent {
		// link завершается ошибкой, если цель существует
		if err := os.Link(tmpPath, fullPath); err != nil {
			if errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, bucket, key)
			}
			return nil, fmt.Errorf("ошибка публикации файла: %w", err)
		}
	} else if err := os.Rename(tmpPath, fullPath); err != nil {
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &ObjectInfo{
		Bucket: bucket,
		Key:    pathtoken.Normalize(key),
		Size:   size,
		ETag:   hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func (g *LocalGateway) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	fullPath, err := g.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s/%s: %w", bucket, key, err)
	}
	return f, nil
}

// Delete возвращает nil, если файла уже нет.
func (g *LocalGateway) Delete(_ context.Context, bucket, key string) error {
	fullPath, err := g.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (g *LocalGateway) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src, err := g.Get(ctx, srcBucket, srcKey)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = g.Put(ctx, dstBucket, dstKey, src, -1, PutOptions{IfAbsent: true})
	return err
}

func (g *LocalGateway) Exists(_ context.Context, bucket, key string) (bool, error) {
	fullPath, err := g.objectPath(bucket, key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка получения информации о файле %s/%s: %w", bucket, key, err)
}

func (g *LocalGateway) SignedURL(_ context.Context, bucket, key string, opts SignOptions) (string, error) {
	if _, err := g.objectPath(bucket, key); err != nil {
		return "", err
	}
	expires := g.now().Add(opts.ExpiresIn).Unix()

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	if opts.Download {
		q.Set("download", "1")
		if opts.FileName != "" {
			q.Set("filename", opts.FileName)
		}
	}
	q.Set("signature", g.sign(bucket, key, expires, opts.Download))

	return g.PublicURL(bucket, key) + "?" + q.Encode(), nil
}

// VerifySignature проверяет подпись и срок действия ссылки из SignedURL.
func (g *LocalGateway) VerifySignature(bucket, key string, q url.Values) error {
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if g.now().Unix() > expires {
		return fmt.Errorf("%w: срок действия истёк", ErrInvalidSignature)
	}
	want := g.sign(bucket, key, expires, q.Get("download") == "1")
	if !hmac.Equal([]byte(want), []byte(q.Get("signature"))) {
		return ErrInvalidSignature
	}
	return nil
}

func (g *LocalGateway) sign(bucket, key string, expires int64, download bool) string {
	mac := hmac.New(sha256.New, g.signingKey)
	fmt.Fprintf(mac, "%s\n%s\n%d\n%t", bucket, pathtoken.Normalize(key), expires, download)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *LocalGateway) PublicURL(bucket, key string) string {
	return g.publicBase + "/" + url.PathEscape(bucket) + "/" + escapeKey(pathtoken.Normalize(key))
}

func (g *LocalGateway) EnsureBuckets(_ context.Context, buckets []string) error {
	for _, b := range buckets {
		if err := os.MkdirAll(filepath.Join(g.root, b), 0o750); err != nil {
			return fmt.Errorf("ошибка создания бакета %s: %w", b, err)
		}
	}
	return nil
}

// validateKey запрещает пустые ключи и выход за пределы бакета.
func validateKey(key string) error {
	tokens := pathtoken.PathToTokens(key)
	if len(tokens) == 0 {
		return fmt.Errorf("%w: пустой ключ", ErrInvalidKey)
	}
	for _, t := range tokens {
		if t == "." || t == ".." || strings.ContainsRune(t, '\\') || strings.ContainsRune(t, 0) {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
