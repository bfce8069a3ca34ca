package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/pathtoken"
)

// fileColumns — список колонок для SELECT/RETURNING (порядок совпадает с scanFile).
const fileColumns = `id, name, content_type, size, bucket, path,
	context_type, context_id, resource_type, resource_id,
	is_public, access_level, created_by, metadata,
	virtual_path, path_tokens, created_at, updated_at`

// FileRepository — интерфейс хранилища метаданных файлов (таблица files).
type FileRepository interface {
	// Create вставляет новую запись. Конфликт (bucket, path) → ErrConflict.
	// Заполняет CreatedAt/UpdatedAt значениями сервера.
	Create(ctx context.Context, f *model.File) error
	// Update меняет только заданные поля, metadata сливается атомарно.
	// Отсутствие записи → ErrNotFound, невыполненное условие адреса → ErrStale.
	Update(ctx context.Context, id string, u FileUpdate) (*model.File, error)
	// GetByID возвращает (nil, nil), если записи нет.
	GetByID(ctx context.Context, id string) (*model.File, error)
	// GetByPath возвращает (nil, nil), если записи нет.
	GetByPath(ctx context.Context, bucket, path string) (*model.File, error)
	// Delete возвращает false, если записи не было.
	Delete(ctx context.Context, id string) (bool, error)
	// List возвращает страницу записей и общее количество по фильтру.
	List(ctx context.Context, params ListParams) ([]*model.File, int, error)
	// Search — List плюс подстрочный поиск по name и metadata.description.
	Search(ctx context.Context, term string, params ListParams) ([]*model.File, int, error)
}

// FileUpdate — частичное обновление записи. nil-поля не меняются.
type FileUpdate struct {
	Name         *string
	IsPublic     *bool
	AccessLevel  *model.AccessLevel
	ResourceType *string
	ResourceID   *string
	// Metadata сливается с текущим значением (новые ключи перекрывают старые).
	Metadata map[string]any
	// PathTokens задаёт виртуальный путь; VirtualPath вычисляется из сегментов.
	PathTokens []string
	// Bucket и Path — физический адрес (перемещение блоба).
	Bucket *string
	Path   *string
	// ExpectBucket и ExpectPath — условие: запись всё ещё находится по этому
	// адресу. Иначе обновление не выполняется (ErrStale).
	ExpectBucket *string
	ExpectPath   *string
}

// ListFilter — фильтры списка файлов. nil-поля не участвуют.
type ListFilter struct {
	ContextType  *model.ContextType
	ContextID    *string
	ResourceType *string
	ResourceID   *string
	IsPublic     *bool
	AccessLevel  *model.AccessLevel
	CreatedBy    *string
	// VirtualPath — иерархический префикс: "/reports" выбирает всё под /reports.
	VirtualPath *string
	// PathTokens — упорядоченная подпоследовательность сегментов.
	PathTokens []string
	// Name — подстрока имени без учёта регистра.
	Name        *string
	ContentType *string
	Bucket      *string
}

// ListParams — фильтры, сортировка и пагинация.
type ListParams struct {
	Filter    ListFilter
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

// fileRepo — реализация FileRepository поверх pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий метаданных файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.File) error {
	existing, err := r.GetByPath(ctx, f.Bucket, f.Path)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s/%s занят файлом %s", ErrConflict, f.Bucket, f.Path, existing.ID)
	}

	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	if f.PathTokens == nil {
		f.PathTokens = []string{}
	}
	meta, err := json.Marshal(f.Metadata)
	if err != nil {
		return fmt.Errorf("%w: metadata не сериализуется: %v", ErrInvalidArgument, err)
	}

	// Проверка выше — быстрый путь; арбитр гонки — ограничение files_bucket_path_key.
	query := `
		INSERT INTO files (id, name, content_type, size, bucket, path,
			context_type, context_id, resource_type, resource_id,
			is_public, access_level, created_by, metadata, virtual_path, path_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		f.ID, f.Name, f.ContentType, f.Size, f.Bucket, f.Path,
		string(f.ContextType), f.ContextID, f.ResourceType, f.ResourceID,
		f.IsPublic, string(f.AccessLevel), f.CreatedBy, meta,
		pathtoken.VirtualPath(f.PathTokens), f.PathTokens,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s уже существует", ErrConflict, f.Bucket, f.Path)
		}
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	f.VirtualPath = pathtoken.VirtualPath(f.PathTokens)
	return nil
}

// buildUpdateSet строит SET-часть UPDATE и аргументы начиная с $startArg.
// updated_at обновляется всегда.
func buildUpdateSet(u FileUpdate, startArg int) (string, []any, error) {
	sets := []string{"updated_at = now()"}
	var args []any
	argNum := startArg

	add := func(expr string, val any) {
		sets = append(sets, fmt.Sprintf(expr, argNum))
		args = append(args, val)
		argNum++
	}

	if u.Name != nil {
		add("name = $%d", *u.Name)
	}
	if u.IsPublic != nil {
		add("is_public = $%d", *u.IsPublic)
	}
	if u.AccessLevel != nil {
		add("access_level = $%d", string(*u.AccessLevel))
	}
	if u.ResourceType != nil {
		add("resource_type = $%d", *u.ResourceType)
	}
	if u.ResourceID != nil {
		add("resource_id = $%d", *u.ResourceID)
	}
	if u.Metadata != nil {
		meta, err := json.Marshal(u.Metadata)
		if err != nil {
			return "", nil, fmt.Errorf("%w: metadata не сериализуется: %v", ErrInvalidArgument, err)
		}
		add("metadata = metadata || $%d::jsonb", meta)
	}
	if u.PathTokens != nil {
		tokens := pathtoken.CleanTokens(u.PathTokens)
		add("path_tokens = $%d", tokens)
		add("virtual_path = $%d", pathtoken.VirtualPath(tokens))
	}
	if u.Bucket != nil {
		add("bucket = $%d", *u.Bucket)
	}
	if u.Path != nil {
		add("path = $%d", *u.Path)
	}

	return "SET " + strings.Join(sets, ", "), args, nil
}

func (r *fileRepo) Update(ctx context.Context, id string, u FileUpdate) (*model.File, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}

	set, args, err := buildUpdateSet(u, 2)
	if err != nil {
		return nil, err
	}

	args = append([]any{id}, args...)
	where, args := buildUpdateWhere(u, args)
	query := fmt.Sprintf(`UPDATE files %s WHERE %s RETURNING %s`, set, where, fileColumns)

	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missOrStale(ctx, id, u)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: адрес назначения занят", ErrConflict)
		}
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return nil, fmt.Errorf("ошибка обновления файла: %w", err)
	}
	return f, nil
}

// buildUpdateWhere строит условие UPDATE; args уже содержит id ($1)
// и значения SET.
func buildUpdateWhere(u FileUpdate, args []any) (string, []any) {
	conds := []string{"id = $1"}
	if u.ExpectBucket != nil {
		args = append(args, *u.ExpectBucket)
		conds = append(conds, fmt.Sprintf("bucket = $%d", len(args)))
	}
	if u.ExpectPath != nil {
		args = append(args, *u.ExpectPath)
		conds = append(conds, fmt.Sprintf("path = $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

// missOrStale различает отсутствие записи и невыполненное условие адреса.
func (r *fileRepo) missOrStale(ctx context.Context, id string, u FileUpdate) error {
	if u.ExpectBucket == nil && u.ExpectPath == nil {
		return ErrNotFound
	}
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM files WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки записи: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: адрес файла %s изменился", ErrStale, id)
}

func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.File, error) {
	if !validID(id) {
		return nil, nil
	}
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *fileRepo) GetByPath(ctx context.Context, bucket, path string) (*model.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE bucket = $1 AND path = $2`
	return r.getOne(ctx, query, bucket, path)
}

func (r *fileRepo) getOne(ctx context.Context, query string, args ...any) (*model.File, error) {
	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

func (r *fileRepo) Delete(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления файла: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *fileRepo) List(ctx context.Context, params ListParams) ([]*model.File, int, error) {
	where, args := buildListWhere(params.Filter, 1)
	return r.page(ctx, where, args, params)
}

func (r *fileRepo) Search(ctx context.Context, term string, params ListParams) ([]*model.File, int, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, 0, fmt.Errorf("%w: пустая строка поиска", ErrInvalidArgument)
	}
	where, args := buildSearchWhere(term, params.Filter, 1)
	return r.page(ctx, where, args, params)
}

// page выполняет COUNT и SELECT с сортировкой и пагинацией.
func (r *fileRepo) page(ctx context.Context, where string, args []any, params ListParams) ([]*model.File, int, error) {
	var total int
	countQuery := `SELECT count(*) FROM files ` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}

	argNum := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM files %s %s LIMIT $%d OFFSET $%d`,
		fileColumns, where, buildOrderBy(params.SortBy, params.SortOrder), argNum, argNum+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.File, 0, params.Limit)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка чтения списка файлов: %w", err)
	}
	return result, total, nil
}

// buildListWhere строит WHERE-условие и аргументы для фильтрации файлов.
//
//nolint:gocyclo // линейный набор необязательных фильтров
func buildListWhere(f ListFilter, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	eq := func(column string, val any) {
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, argNum))
		args = append(args, val)
		argNum++
	}

	if f.ContextType != nil {
		eq("context_type", string(*f.ContextType))
	}
	if f.ContextID != nil {
		eq("context_id", *f.ContextID)
	}
	if f.ResourceType != nil {
		eq("resource_type", *f.ResourceType)
	}
	if f.ResourceID != nil {
		eq("resource_id", *f.ResourceID)
	}
	if f.IsPublic != nil {
		eq("is_public", *f.IsPublic)
	}
	if f.AccessLevel != nil {
		eq("access_level", string(*f.AccessLevel))
	}
	if f.CreatedBy != nil {
		eq("created_by", *f.CreatedBy)
	}
	if f.ContentType != nil {
		eq("content_type", *f.ContentType)
	}
	if f.Bucket != nil {
		eq("bucket", *f.Bucket)
	}
	if f.Name != nil {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argNum))
		args = append(args, "%"+escapeLike(*f.Name)+"%")
		argNum++
	}
	if f.VirtualPath != nil {
		if prefix := pathtoken.PathToTokens(*f.VirtualPath); len(prefix) > 0 {
			// @> отсекает строки по GIN-индексу, срез проверяет префикс
			conditions = append(conditions, fmt.Sprintf(
				"(path_tokens @> $%d AND path_tokens[1:%d] = $%d)", argNum, len(prefix), argNum))
			args = append(args, prefix)
			argNum++
		}
	}
	if tokens := pathtoken.CleanTokens(f.PathTokens); len(tokens) > 0 {
		conditions = append(conditions, fmt.Sprintf(
			"(path_tokens @> $%d AND path_tokens_contain(path_tokens, $%d))", argNum, argNum))
		args = append(args, tokens)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// buildSearchWhere добавляет к фильтрам поиск по name и metadata.description.
func buildSearchWhere(term string, f ListFilter, startArg int) (string, []any) {
	cond := fmt.Sprintf("(name ILIKE $%d OR metadata->>'description' ILIKE $%d)", startArg, startArg)
	args := []any{"%" + escapeLike(term) + "%"}

	where, filterArgs := buildListWhere(f, startArg+1)
	if where == "" {
		return "WHERE " + cond, args
	}
	return "WHERE " + cond + " AND " + strings.TrimPrefix(where, "WHERE "), append(args, filterArgs...)
}

// allowedSortColumns — допустимые колонки сортировки.
var allowedSortColumns = map[string]string{
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"name":         "name",
	"size":         "size",
	"content_type": "content_type",
	"virtual_path": "virtual_path",
}

// buildOrderBy строит ORDER BY с whitelist-валидацией колонки.
// По умолчанию — created_at DESC. id добавляется для стабильной пагинации.
func buildOrderBy(sortBy, sortOrder string) string {
	column, ok := allowedSortColumns[strings.ToLower(sortBy)]
	if !ok {
		column = "created_at"
	}

	order := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		order = "ASC"
	}

	return fmt.Sprintf("ORDER BY %s %s, id %s", column, order, order)
}

// escapeLike экранирует спецсимволы LIKE во вводе пользователя.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// scanFile сканирует строку в model.File (порядок колонок — fileColumns).
func scanFile(row pgx.Row) (*model.File, error) {
	f := &model.File{}
	var contextType, accessLevel string
	var meta []byte
	err := row.Scan(
		&f.ID, &f.Name, &f.ContentType, &f.Size, &f.Bucket, &f.Path,
		&contextType, &f.ContextID, &f.ResourceType, &f.ResourceID,
		&f.IsPublic, &accessLevel, &f.CreatedBy, &meta,
		&f.VirtualPath, &f.PathTokens, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.ContextType = model.ContextType(contextType)
	f.AccessLevel = model.AccessLevel(accessLevel)
	f.Metadata = map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &f.Metadata); err != nil {
			return nil, fmt.Errorf("некорректный metadata у файла %s: %w", f.ID, err)
		}
	}
	if f.PathTokens == nil {
		f.PathTokens = []string{}
	}
	return f, nil
}
