package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/blobstore"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/pathtoken"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/repository"
)

// memRepo — FileRepository в памяти с внедрением ошибок.
type memRepo struct {
	mu    sync.Mutex
	files map[string]*model.File

	createErr error
	updateErr error
	getErr    error
	deleteErr error

	lastParams repository.ListParams
	lastTerm   string
}

func newMemRepo() *memRepo {
	return &memRepo{files: make(map[string]*model.File)}
}

func (r *memRepo) byPath(bucket, path string) *model.File {
	for _, f := range r.files {
		if f.Bucket == bucket && f.Path == path {
			return f
		}
	}
	return nil
}

func (r *memRepo) Create(_ context.Context, f *model.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if r.byPath(f.Bucket, f.Path) != nil {
		return fmt.Errorf("%w: %s/%s", repository.ErrConflict, f.Bucket, f.Path)
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	if f.PathTokens == nil {
		f.PathTokens = []string{}
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	f.VirtualPath = pathtoken.VirtualPath(f.PathTokens)
	r.files[f.ID] = f.Clone()
	return nil
}

func (r *memRepo) Update(_ context.Context, id string, u repository.FileUpdate) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	cur, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	if (u.ExpectBucket != nil && cur.Bucket != *u.ExpectBucket) || (u.ExpectPath != nil && cur.Path != *u.ExpectPath) {
		return nil, fmt.Errorf("%w: %s", repository.ErrStale, id)
	}
	f := cur.Clone()
	if u.Name != nil {
		f.Name = *u.Name
	}
	if u.IsPublic != nil {
		f.IsPublic = *u.IsPublic
	}
	if u.AccessLevel != nil {
		f.AccessLevel = *u.AccessLevel
	}
	if u.ResourceType != nil {
		f.ResourceType = u.ResourceType
	}
	if u.ResourceID != nil {
		f.ResourceID = u.ResourceID
	}
	for k, v := range u.Metadata {
		if f.Metadata == nil {
			f.Metadata = map[string]any{}
		}
		f.Metadata[k] = v
	}
	if u.PathTokens != nil {
		f.PathTokens = append([]string{}, u.PathTokens...)
		f.VirtualPath = pathtoken.VirtualPath(f.PathTokens)
	}
	if u.Bucket != nil {
		f.Bucket = *u.Bucket
	}
	if u.Path != nil {
		f.Path = *u.Path
	}
	if other := r.byPath(f.Bucket, f.Path); other != nil && other.ID != id {
		return nil, fmt.Errorf("%w: %s/%s", repository.ErrConflict, f.Bucket, f.Path)
	}
	f.UpdatedAt = time.Now().UTC()
	r.files[id] = f
	return f.Clone(), nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.files[id].Clone(), nil
}

func (r *memRepo) GetByPath(_ context.Context, bucket, path string) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.byPath(bucket, path).Clone(), nil
}

func (r *memRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return false, r.deleteErr
	}
	_, ok := r.files[id]
	delete(r.files, id)
	return ok, nil
}

func (r *memRepo) List(_ context.Context, params repository.ListParams) ([]*model.File, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastParams = params
	return r.page(func(f *model.File) bool { return matches(f, params.Filter) }, params)
}

func (r *memRepo) Search(_ context.Context, term string, params repository.ListParams) ([]*model.File, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastParams, r.lastTerm = params, term
	return r.page(func(f *model.File) bool {
		return matches(f, params.Filter) && strings.Contains(strings.ToLower(f.Name), strings.ToLower(term))
	}, params)
}

func (r *memRepo) page(keep func(*model.File) bool, params repository.ListParams) ([]*model.File, int, error) {
	var all []*model.File
	for _, f := range r.files {
		if keep(f) {
			all = append(all, f.Clone())
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if params.Offset >= total {
		return []*model.File{}, total, nil
	}
	end := params.Offset + params.Limit
	if end > total {
		end = total
	}
	return all[params.Offset:end], total, nil
}

// matches повторяет семантику фильтров репозитория для используемых в тестах полей.
func matches(f *model.File, flt repository.ListFilter) bool {
	if flt.ContextType != nil && f.ContextType != *flt.ContextType {
		return false
	}
	if flt.ContextID != nil && f.ContextID != *flt.ContextID {
		return false
	}
	if flt.Bucket != nil && f.Bucket != *flt.Bucket {
		return false
	}
	if flt.PathTokens != nil && !containsSubsequence(f.PathTokens, flt.PathTokens) {
		return false
	}
	if flt.VirtualPath != nil && !hasTokenPrefix(f.PathTokens, pathtoken.PathToTokens(*flt.VirtualPath)) {
		return false
	}
	return true
}

// containsSubsequence — needle входит в haystack в том же порядке,
// не обязательно подряд (как path_tokens_contain в БД).
func containsSubsequence(haystack, needle []string) bool {
	i := 0
	for _, h := range haystack {
		if i == len(needle) {
			break
		}
		if h == needle[i] {
			i++
		}
	}
	return i == len(needle)
}

func hasTokenPrefix(tokens, prefix []string) bool {
	if len(prefix) > len(tokens) {
		return false
	}
	for i := range prefix {
		if tokens[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// memBlobs — blobstore.Gateway в памяти с внедрением ошибок.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte

	putErr    error
	getErr    error
	copyErr   error
	existsErr error
	signErr   error
	// deleteErr — ошибка удаления по адресу "bucket/key".
	deleteErr map[string]error
	// beforeCopy вызывается в начале Copy: параллельная операция,
	// успевшая между проверкой адреса и копированием.
	beforeCopy func()

	deleted []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte), deleteErr: make(map[string]error)}
}

func addr(bucket, key string) string { return bucket + "/" + key }

func (b *memBlobs) Put(_ context.Context, bucket, key string, r io.Reader, _ int64, opts blobstore.PutOptions) (*blobstore.ObjectInfo, error) {
	if b.putErr != nil {
		return nil, b.putErr
	}
	data, err := io.ReadAll(r)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[addr(bucket, key)]; ok && opts.IfAbsent {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrAlreadyExists, addr(bucket, key))
	}
	// Как и у настоящих хранилищ, при обрыве потока часть данных может остаться
	b.objects[addr(bucket, key)] = data
	if err != nil {
		return nil, err
	}
	return &blobstore.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (b *memBlobs) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[addr(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, addr(bucket, key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Delete(_ context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.deleteErr[addr(bucket, key)]; err != nil {
		return err
	}
	delete(b.objects, addr(bucket, key))
	b.deleted = append(b.deleted, addr(bucket, key))
	return nil
}

func (b *memBlobs) Copy(_ context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	if hook := b.beforeCopy; hook != nil {
		b.beforeCopy = nil
		hook()
	}
	if b.copyErr != nil {
		return b.copyErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[addr(srcBucket, srcKey)]
	if !ok {
		return fmt.Errorf("%w: %s", blobstore.ErrNotFound, addr(srcBucket, srcKey))
	}
	if _, ok := b.objects[addr(dstBucket, dstKey)]; ok {
		return fmt.Errorf("%w: %s", blobstore.ErrAlreadyExists, addr(dstBucket, dstKey))
	}
	b.objects[addr(dstBucket, dstKey)] = append([]byte(nil), data...)
	return nil
}

func (b *memBlobs) Exists(_ context.Context, bucket, key string) (bool, error) {
	if b.existsErr != nil {
		return false, b.existsErr
	}
	return b.has(bucket, key), nil
}

func (b *memBlobs) SignedURL(_ context.Context, bucket, key string, opts blobstore.SignOptions) (string, error) {
	if b.signErr != nil {
		return "", b.signErr
	}
	return fmt.Sprintf("signed://%s/%s?ttl=%s&download=%t", bucket, key, opts.ExpiresIn, opts.Download), nil
}

func (b *memBlobs) PublicURL(bucket, key string) string {
	return "public://" + addr(bucket, key)
}

func (b *memBlobs) EnsureBuckets(context.Context, []string) error { return nil }

func (b *memBlobs) has(bucket, key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[addr(bucket, key)]
	return ok
}

func (b *memBlobs) content(bucket, key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.objects[addr(bucket, key)])
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// relocate перемещает запись и блоб в обход сервиса, как это сделал бы
// другой экземпляр оркестратора. Кэш сервиса при этом не меняется.
func (e *testEnv) relocate(t *testing.T, id, path string) {
	t.Helper()
	cur, _ := e.repo.GetByID(context.Background(), id)
	if _, err := e.repo.Update(context.Background(), id, repository.FileUpdate{Path: &path}); err != nil {
		t.Fatalf("relocate: %v", err)
	}
	e.blobs.mu.Lock()
	defer e.blobs.mu.Unlock()
	e.blobs.objects[addr(cur.Bucket, path)] = e.blobs.objects[addr(cur.Bucket, cur.Path)]
	delete(e.blobs.objects, addr(cur.Bucket, cur.Path))
}

// testEnv — оркестратор поверх хранилищ в памяти.
type testEnv struct {
	svc   *StorageService
	repo  *memRepo
	blobs *memBlobs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := newMemRepo()
	blobs := newMemBlobs()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewStorageService(repo, blobs, NewCacheService(100, time.Minute), Options{
		SignedURLTTL:  time.Hour,
		MaxUploadSize: 1 << 20,
	}, logger)
	return &testEnv{svc: svc, repo: repo, blobs: blobs}
}

var testAuth = model.AuthContext{UserID: "u1", OrgID: "org1", AppID: "app1"}

// upload загружает файл и завершает тест при ошибке.
func (e *testEnv) upload(t *testing.T, bucket, content string, opts UploadOptions) *model.File {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "report.txt"
	}
	if opts.Size == 0 {
		opts.Size = int64(len(content))
	}
	res, err := e.svc.UploadFile(context.Background(), bucket, strings.NewReader(content), opts, testAuth)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	return res.File
}
