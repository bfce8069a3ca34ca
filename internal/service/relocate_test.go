package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/blobstore"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/access"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/repository"
)

//nolint:staticcheck // устаревшие операции сохраняются для совместимости
func TestMoveFileVirtualPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := env.upload(t, "", "x", UploadOptions{})

	got, err := env.svc.MoveFileVirtualPath(ctx, f.ID, "/reports//2024/", testAuth)
	if err != nil {
		t.Fatalf("MoveFileVirtualPath: %v", err)
	}
	if !reflect.DeepEqual(got.PathTokens, []string{"reports", "2024"}) || got.VirtualPath != "/reports/2024" {
		t.Errorf("PathTokens = %v, VirtualPath = %q", got.PathTokens, got.VirtualPath)
	}
	if got.Path != f.Path || !env.blobs.has(f.Bucket, f.Path) {
		t.Error("виртуальное перемещение не должно трогать блоб")
	}

	// Корень
	got, err = env.svc.MoveFileVirtualPath(ctx, f.ID, "/", testAuth)
	if err != nil {
		t.Fatalf("MoveFileVirtualPath: %v", err)
	}
	if len(got.PathTokens) != 0 || got.VirtualPath != "/" {
		t.Errorf("PathTokens = %v, VirtualPath = %q", got.PathTokens, got.VirtualPath)
	}

	if _, err := env.svc.MoveFileVirtualPath(ctx, "missing", "/a", testAuth); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("отсутствующий файл: err = %v", err)
	}
}

//nolint:staticcheck // устаревшие операции сохраняются для совместимости
func TestMoveFilePathTokens(t *testing.T) {
	env := newTestEnv(t)
	f := env.upload(t, "", "x", UploadOptions{})

	got, err := env.svc.MoveFilePathTokens(context.Background(), f.ID, []string{"a", "", " ", "b/c"}, testAuth)
	if err != nil {
		t.Fatalf("MoveFilePathTokens: %v", err)
	}
	if !reflect.DeepEqual(got.PathTokens, []string{"a", "b", "c"}) {
		t.Errorf("PathTokens = %v", got.PathTokens)
	}
}

// TestMoveFileStorage_Collision — перемещение на занятый адрес отклоняется,
// файл по этому адресу не меняется.
func TestMoveFileStorage_Collision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.upload(t, access.BucketUserFiles, "file-a", UploadOptions{Path: "x/y"})
	b := env.upload(t, access.BucketUserFiles, "file-b", UploadOptions{Path: "x/z"})

	_, err := env.svc.MoveFileStorage(ctx, b.ID, "x/y", MoveOptions{}, testAuth)
	if !errors.Is(err, ErrFileAlreadyExists) {
		t.Fatalf("err = %v, ожидался FILE_ALREADY_EXISTS", err)
	}

	if env.blobs.content(a.Bucket, "x/y") != "file-a" {
		t.Error("блоб файла A изменён")
	}
	gotA, _ := env.repo.GetByID(ctx, a.ID)
	if gotA.Path != "x/y" || gotA.Size != a.Size {
		t.Errorf("запись A изменена: %+v", gotA)
	}
	gotB, _ := env.repo.GetByID(ctx, b.ID)
	if gotB.Path != "x/z" || !env.blobs.has(b.Bucket, "x/z") {
		t.Error("файл B должен остаться на месте")
	}
}

// TestMoveFileStorage_OrphanAtDestination — блоб без записи тоже занимает адрес.
func TestMoveFileStorage_OrphanAtDestination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := env.upload(t, access.BucketUserFiles, "data", UploadOptions{Path: "x/z"})
	env.blobs.objects[addr(access.BucketUserFiles, "orphan")] = []byte("orphan")

	_, err := env.svc.MoveFileStorage(ctx, f.ID, "orphan", MoveOptions{}, testAuth)
	if !errors.Is(err, &Error{Kind: KindFileAlreadyExists, Layer: LayerBlob}) {
		t.Errorf("err = %v, ожидался FILE_ALREADY_EXISTS слоя blob", err)
	}
	if env.blobs.content(access.BucketUserFiles, "orphan") != "orphan" {
		t.Error("блоб по адресу назначения перезаписан")
	}
}

func TestMoveFileStorage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := env.upload(t, access.BucketUserFiles, "data", UploadOptions{Path: "x/z", Metadata: map[string]any{"k": "v"}})

	got, err := env.svc.MoveFileStorage(ctx, f.ID, "/archive//z", MoveOptions{Bucket: access.BucketPublic}, testAuth)
	if err != nil {
		t.Fatalf("MoveFileStorage: %v", err)
	}
	if got.ID != f.ID || got.Bucket != access.BucketPublic || got.Path != "archive/z" {
		t.Errorf("адрес = %s/%s (id %s)", got.Bucket, got.Path, got.ID)
	}
	if got.Metadata["k"] != "v" {
		t.Error("перемещение не должно терять metadata")
	}
	if env.blobs.has(access.BucketUserFiles, "x/z") {
		t.Error("исходный блоб не удалён")
	}
	if env.blobs.content(access.BucketPublic, "archive/z") != "data" {
		t.Error("блоб не перенесён")
	}

	// Повторное перемещение на тот же адрес — без изменений
	same, err := env.svc.MoveFileStorage(ctx, f.ID, "archive/z", MoveOptions{Bucket: access.BucketPublic}, testAuth)
	if err != nil || same.Path != "archive/z" {
		t.Errorf("перемещение на текущий адрес = %v, %v", same, err)
	}

	if _, err := env.svc.MoveFileStorage(ctx, f.ID, "a", MoveOptions{Bucket: "tmp"}, testAuth); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("неизвестный бакет: err = %v", err)
	}
	if _, err := env.svc.MoveFileStorage(ctx, "missing", "a", MoveOptions{}, testAuth); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("отсутствующий файл: err = %v", err)
	}
}

// TestMoveFileStorage_UpdatePathTokens — виртуальный путь меняется только по флагу.
func TestMoveFileStorage_UpdatePathTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := env.upload(t, access.BucketUserFiles, "data", UploadOptions{Path: "x/a", PathTokens: []string{"keep"}})

	got, err := env.svc.MoveFileStorage(ctx, f.ID, "x/b", MoveOptions{}, testAuth)
	if err != nil {
		t.Fatalf("MoveFileStorage: %v", err)
	}
	if !reflect.DeepEqual(got.PathTokens, []string{"keep"}) {
		t.Errorf("без флага PathTokens = %v", got.PathTokens)
	}

	got, err = env.svc.MoveFileStorage(ctx, f.ID, "reports/2024/c", MoveOptions{UpdatePathTokens: true}, testAuth)
	if err != nil {
		t.Fatalf("MoveFileStorage: %v", err)
	}
	if !reflect.DeepEqual(got.PathTokens, []string{"reports", "2024", "c"}) || got.VirtualPath != "/reports/2024/c" {
		t.Errorf("PathTokens = %v, VirtualPath = %q", got.PathTokens, got.VirtualPath)
	}
	if got.Path != "reports/2024/c" {
		t.Errorf("Path = %q", got.Path)
	}
}

// TestMoveFileStorage_MetadataFailure — до фиксации копия откатывается,
// исходный блоб и запись не меняются.
func TestMoveFileStorage_MetadataFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := env.upload(t, access.BucketUserFiles, "data", UploadOptions{Path: "x/z"})
	env.repo.updateErr = errors.New("db down")

	if _, err := env.svc.MoveFileStorage(ctx, f.ID, "x/moved", MoveOptions{}, testAuth); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if env.blobs.has(access.BucketUserFiles, "x/moved") {
		t.Error("копия по новому адресу не удалена")
	}
	if env.blobs.content(access.BucketUserFiles, "x/z") != "data" {
		t.Error("исходный блоб повреждён")
	}
	got, _ := env.repo.GetByID(ctx, f.ID)
	if got.Path != "x/z" {
		t.Errorf("Path = %q, ожидался x/z", got.Path)
	}
}

// TestMoveFileStorage_SourceDeleteFailure — после фиксации ошибка удаления
// исходника не отменяет перемещение.
func TestMoveFileStorage_SourceDeleteFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := env.upload(t, access.BucketUserFiles, "data", UploadOptions{Path: "x/z"})
	env.blobs.deleteErr[addr(access.BucketUserFiles, "x/z")] = errors.New("timeout")

	got, err := env.svc.MoveFileStorage(ctx, f.ID, "x/moved", MoveOptions{}, testAuth)
	if err != nil {
		t.Fatalf("MoveFileStorage: %v", err)
	}
	if got.Path != "x/moved" || !env.blobs.has(access.BucketUserFiles, "x/moved") {
		t.Error("перемещение должно быть зафиксировано")
	}
}

func TestMoveFileStorage_CopyFailure(t *testing.T) {
	env := newTestEnv(t)
	f := env.upload(t, access.BucketUserFiles, "data", UploadOptions{Path: "x/z"})
	env.blobs.copyErr = fmt.Errorf("copy: %w", blobstore.ErrAccessDenied)

	_, err := env.svc.MoveFileStorage(context.Background(), f.ID, "x/moved", MoveOptions{}, testAuth)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, ожидался PERMISSION_DENIED", err)
	}
}

func TestCopyFileWithinBucket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.upload(t, access.BucketUserFiles, "data", UploadOptions{
		Path: "x/z", Metadata: map[string]any{"a": 1, "b": 1}, VirtualPath: "/docs",
	})

	copier := model.AuthContext{UserID: "u2"}
	name := "copy.txt"
	got, err := env.svc.CopyFileWithinBucket(ctx, src.ID, "x/copy", CopyOptions{
		Name: &name, Metadata: map[string]any{"b": 2},
	}, copier)
	if err != nil {
		t.Fatalf("CopyFileWithinBucket: %v", err)
	}
	if got.ID == src.ID || got.Bucket != src.Bucket || got.Path != "x/copy" {
		t.Errorf("копия: id=%s адрес=%s/%s", got.ID, got.Bucket, got.Path)
	}
	if got.Name != "copy.txt" || got.CreatedBy != "u2" {
		t.Errorf("Name = %q, CreatedBy = %q", got.Name, got.CreatedBy)
	}
	if got.Metadata["a"] != 1 || got.Metadata["b"] != 2 {
		t.Errorf("Metadata = %v, ожидалось слияние с исходными", got.Metadata)
	}
	if got.VirtualPath != "/docs" || got.ContextID != src.ContextID {
		t.Errorf("наследуемые поля не скопированы: %+v", got)
	}
	if env.blobs.content(got.Bucket, got.Path) != "data" || env.blobs.content(src.Bucket, src.Path) != "data" {
		t.Error("оба блоба должны содержать данные")
	}
	srcNow, _ := env.repo.GetByID(ctx, src.ID)
	if srcNow.Metadata["b"] != 1 || srcNow.CreatedBy != "u1" {
		t.Error("исходная запись изменена")
	}

	// Пустой путь — вычисляется
	derived, err := env.svc.CopyFileWithinBucket(ctx, src.ID, "", CopyOptions{}, testAuth)
	if err != nil {
		t.Fatalf("CopyFileWithinBucket: %v", err)
	}
	if derived.Path != "user/u1/"+derived.ID+"-report.txt" {
		t.Errorf("Path = %q", derived.Path)
	}

	ct := model.ContextApplication
	if _, err := env.svc.CopyFileWithinBucket(ctx, src.ID, "x/c2", CopyOptions{ContextType: &ct}, testAuth); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("смена области: err = %v, ожидался INVALID_OPERATION", err)
	}
	if _, err := env.svc.CopyFileWithinBucket(ctx, src.ID, "x/copy", CopyOptions{}, testAuth); !errors.Is(err, ErrFileAlreadyExists) {
		t.Errorf("занятый адрес: err = %v", err)
	}
	if _, err := env.svc.CopyFileWithinBucket(ctx, src.ID, "x/z", CopyOptions{}, testAuth); !errors.Is(err, ErrFileAlreadyExists) {
		t.Errorf("адрес исходного файла: err = %v", err)
	}
}

// TestCopyFileAcrossBuckets_Reparents — копия файла платформы в приложение.
func TestCopyFileAcrossBuckets_Reparents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.upload(t, "", "tpl", UploadOptions{ContextType: model.ContextPlatform, Name: "logo.png"})
	if src.Bucket != access.BucketPlatform {
		t.Fatalf("Bucket = %q", src.Bucket)
	}

	ct, cid := model.ContextApplication, "app1"
	got, err := env.svc.CopyFileAcrossBuckets(ctx, src.ID, access.BucketApps, "app1/logo.png", CopyOptions{
		ContextType: &ct, ContextID: &cid,
	}, testAuth)
	if err != nil {
		t.Fatalf("CopyFileAcrossBuckets: %v", err)
	}
	if got.ID == src.ID {
		t.Error("копия должна получить новый id")
	}
	if got.ContextType != model.ContextApplication || got.ContextID != "app1" || got.Bucket != access.BucketApps {
		t.Errorf("копия: %s/%s в %s", got.ContextType, got.ContextID, got.Bucket)
	}

	orig, _ := env.repo.GetByID(ctx, src.ID)
	if orig.ContextType != model.ContextPlatform || orig.ContextID != "platform" || orig.Bucket != access.BucketPlatform {
		t.Errorf("исходная запись изменена: %+v", orig)
	}
	if !env.blobs.has(src.Bucket, src.Path) {
		t.Error("исходный блоб удалён")
	}
}

func TestCopyFileAcrossBuckets_Defaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.upload(t, "", "tpl", UploadOptions{ContextType: model.ContextPlatform})

	// Бакет по умолчанию для области копии; context_id — из AuthContext
	ct := model.ContextOrganization
	got, err := env.svc.CopyFileAcrossBuckets(ctx, src.ID, "", "", CopyOptions{ContextType: &ct}, testAuth)
	if err != nil {
		t.Fatalf("CopyFileAcrossBuckets: %v", err)
	}
	if got.Bucket != access.BucketOrganizations || got.ContextID != "org1" {
		t.Errorf("копия: %s, context_id %s", got.Bucket, got.ContextID)
	}
	if got.Path != "organization/org1/"+got.ID+"-report.txt" {
		t.Errorf("Path = %q", got.Path)
	}

	// Бакет по умолчанию совпадает с исходным
	if _, err := env.svc.CopyFileAcrossBuckets(ctx, src.ID, "", "", CopyOptions{}, testAuth); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("тот же бакет: err = %v", err)
	}
	if _, err := env.svc.CopyFileAcrossBuckets(ctx, src.ID, access.BucketPlatform, "a", CopyOptions{}, testAuth); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("явно тот же бакет: err = %v", err)
	}
	if _, err := env.svc.CopyFileAcrossBuckets(ctx, src.ID, "tmp", "a", CopyOptions{}, testAuth); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("неизвестный бакет: err = %v", err)
	}
}

// TestCopyFile_Compensation — ошибка записи метаданных удаляет копию блоба.
func TestCopyFile_Compensation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.upload(t, access.BucketUserFiles, "data", UploadOptions{Path: "x/z"})
	env.repo.createErr = errors.New("db down")

	if _, err := env.svc.CopyFileAcrossBuckets(ctx, src.ID, access.BucketPublic, "x/z", CopyOptions{}, testAuth); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if env.blobs.has(access.BucketPublic, "x/z") {
		t.Error("копия блоба не удалена компенсацией")
	}
	if !env.blobs.has(src.Bucket, src.Path) {
		t.Error("исходный блоб удалён")
	}
}

// TestMoveFileStorage_StaleCache — адрес источника читается из БД: кэш
// экземпляра мог устареть после перемещения, выполненного другим экземпляром.
func TestMoveFileStorage_StaleCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := env.upload(t, access.BucketUserFiles, "mine", UploadOptions{Path: "x/p1"})

	// Другой экземпляр переместил файл, адрес p1 занял новый файл
	env.relocate(t, f.ID, "x/p2")
	other := env.upload(t, access.BucketUserFiles, "other", UploadOptions{Path: "x/p1"})
	if cached, _ := env.svc.GetFileMetadataByID(ctx, f.ID); cached.Path != "x/p1" {
		t.Fatalf("кэш должен хранить устаревший адрес, получено %q", cached.Path)
	}

	got, err := env.svc.MoveFileStorage(ctx, f.ID, "x/p3", MoveOptions{}, testAuth)
	if err != nil {
		t.Fatalf("MoveFileStorage: %v", err)
	}
	if got.Path != "x/p3" || env.blobs.content(access.BucketUserFiles, "x/p3") != "mine" {
		t.Errorf("перемещены чужие байты: path = %q, содержимое %q", got.Path, env.blobs.content(access.BucketUserFiles, "x/p3"))
	}
	if env.blobs.content(access.BucketUserFiles, "x/p1") != "other" {
		t.Error("блоб другого файла удалён")
	}
	if env.blobs.has(access.BucketUserFiles, "x/p2") {
		t.Error("исходный блоб x/p2 не удалён")
	}
	if rec, _ := env.repo.GetByID(ctx, other.ID); rec == nil || rec.Path != "x/p1" {
		t.Errorf("запись другого файла изменена: %+v", rec)
	}
}

func TestDownloadFile_StaleCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := env.upload(t, access.BucketUserFiles, "mine", UploadOptions{Path: "x/p1"})
	env.relocate(t, f.ID, "x/p2")
	env.upload(t, access.BucketUserFiles, "other", UploadOptions{Path: "x/p1"})

	d, err := env.svc.DownloadFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	defer d.Body.Close()
	data, _ := io.ReadAll(d.Body)
	if string(data) != "mine" || d.File.Path != "x/p2" {
		t.Errorf("содержимое = %q, path = %q", data, d.File.Path)
	}
}

// TestMoveFileStorage_DestinationTakenDuringCopy — загрузка, занявшая адрес
// между проверкой и копированием, не перезаписывается.
func TestMoveFileStorage_DestinationTakenDuringCopy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := env.upload(t, access.BucketUserFiles, "mine", UploadOptions{Path: "x/src"})

	var other *model.File
	env.blobs.beforeCopy = func() {
		other = env.upload(t, access.BucketUserFiles, "other", UploadOptions{Path: "x/dst"})
	}

	_, err := env.svc.MoveFileStorage(ctx, f.ID, "x/dst", MoveOptions{}, testAuth)
	if !errors.Is(err, ErrFileAlreadyExists) {
		t.Fatalf("err = %v, ожидался FILE_ALREADY_EXISTS", err)
	}
	if env.blobs.content(access.BucketUserFiles, "x/dst") != "other" {
		t.Error("блоб другого файла перезаписан")
	}
	if env.blobs.content(access.BucketUserFiles, "x/src") != "mine" {
		t.Error("исходный блоб изменён")
	}
	if rec, _ := env.repo.GetByID(ctx, other.ID); rec == nil || rec.Path != "x/dst" {
		t.Errorf("запись другого файла = %+v", rec)
	}
	if rec, _ := env.repo.GetByID(ctx, f.ID); rec.Path != "x/src" {
		t.Errorf("Path = %q, ожидался x/src", rec.Path)
	}
}

// TestMoveFileStorage_SourceMovedConcurrently — фиксация условна: если запись
// успели переместить, копия удаляется, а чужое перемещение сохраняется.
func TestMoveFileStorage_SourceMovedConcurrently(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	f := env.upload(t, access.BucketUserFiles, "mine", UploadOptions{Path: "x/src"})

	// Копия берётся из x/src до того, как параллельное перемещение удалит его
	env.blobs.beforeCopy = func() {
		env.blobs.mu.Lock()
		env.blobs.objects[addr(access.BucketUserFiles, "x/elsewhere")] = []byte("mine")
		env.blobs.mu.Unlock()
		path := "x/elsewhere"
		if _, err := env.repo.Update(ctx, f.ID, repository.FileUpdate{Path: &path}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	_, err := env.svc.MoveFileStorage(ctx, f.ID, "x/dst", MoveOptions{}, testAuth)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("err = %v, ожидался INVALID_OPERATION", err)
	}
	if env.blobs.has(access.BucketUserFiles, "x/dst") {
		t.Error("копия по адресу назначения не удалена")
	}
	if rec, _ := env.repo.GetByID(ctx, f.ID); rec.Path != "x/elsewhere" {
		t.Errorf("Path = %q, ожидался x/elsewhere", rec.Path)
	}
	if !env.blobs.has(access.BucketUserFiles, "x/elsewhere") {
		t.Error("блоб параллельного перемещения удалён")
	}
}

func TestCopyFile_DestinationTakenDuringCopy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.upload(t, access.BucketUserFiles, "mine", UploadOptions{Path: "x/src"})
	env.blobs.beforeCopy = func() {
		env.upload(t, access.BucketUserFiles, "other", UploadOptions{Path: "x/copy"})
	}

	_, err := env.svc.CopyFileWithinBucket(ctx, src.ID, "x/copy", CopyOptions{}, testAuth)
	if !errors.Is(err, ErrFileAlreadyExists) {
		t.Fatalf("err = %v, ожидался FILE_ALREADY_EXISTS", err)
	}
	if env.blobs.content(access.BucketUserFiles, "x/copy") != "other" {
		t.Error("блоб другого файла перезаписан")
	}
	if env.repo.count() != 2 {
		t.Errorf("записей = %d, ожидалось 2", env.repo.count())
	}
}

// TestCopyFile_SourceMovedDuringCopy — если источник сменил адрес во время
// копирования, скопированные байты могли быть чужими: копия отменяется.
func TestCopyFile_SourceMovedDuringCopy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.upload(t, access.BucketUserFiles, "mine", UploadOptions{Path: "x/src"})
	env.blobs.beforeCopy = func() {
		env.relocate(t, src.ID, "x/moved")
		env.upload(t, access.BucketUserFiles, "other", UploadOptions{Path: "x/src"})
	}

	_, err := env.svc.CopyFileWithinBucket(ctx, src.ID, "x/copy", CopyOptions{}, testAuth)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("err = %v, ожидался INVALID_OPERATION", err)
	}
	if env.blobs.has(access.BucketUserFiles, "x/copy") {
		t.Error("копия не удалена")
	}
	if env.blobs.content(access.BucketUserFiles, "x/src") != "other" {
		t.Error("блоб другого файла изменён")
	}
	if env.repo.count() != 2 {
		t.Errorf("записей = %d, ожидалось 2", env.repo.count())
	}
}
