// Пакет service — бизнес-логика Storage Orchestrator.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/blobstore"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/access"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/repository"
)

// Kind — стабильный код ошибки, на который ветвятся вызывающие.
type Kind string

// Коды ошибок.
const (
	KindFileNotFound      Kind = "FILE_NOT_FOUND"
	KindFileAlreadyExists Kind = "FILE_ALREADY_EXISTS"
	KindPermissionDenied  Kind = "PERMISSION_DENIED"
	KindInvalidFile       Kind = "INVALID_FILE"
	KindInvalidOperation  Kind = "INVALID_OPERATION"
	KindUnknown           Kind = "UNKNOWN"
)

// Layer — слой, в котором возникла ошибка.
type Layer string

// Слои.
const (
	LayerMetadata Layer = "metadata"
	LayerBlob     Layer = "blob"
)

// Error — ошибка сервиса. Исходная ошибка хранилища доступна только
// через Cause (для логов) и не участвует в errors.Is/As.
type Error struct {
	Kind    Kind
	Op      string
	Layer   Layer
	Message string
	cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Is сравнивает ошибки по Kind: errors.Is(err, ErrFileNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Layer == "" || t.Layer == e.Layer)
}

// Cause возвращает исходную ошибку хранилища.
func (e *Error) Cause() error { return e.cause }

// Эталонные ошибки для errors.Is.
var (
	ErrFileNotFound      = &Error{Kind: KindFileNotFound}
	ErrFileAlreadyExists = &Error{Kind: KindFileAlreadyExists}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrInvalidFile       = &Error{Kind: KindInvalidFile}
	ErrInvalidOperation  = &Error{Kind: KindInvalidOperation}
	ErrUnknown           = &Error{Kind: KindUnknown}
	// ErrBlobMissing — метаданные есть, а блоба нет (нарушение согласованности).
	ErrBlobMissing = &Error{Kind: KindFileNotFound, Layer: LayerBlob}
)

func newError(kind Kind, op string, layer Layer, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Layer: layer, Message: fmt.Sprintf(format, args...)}
}

// KindOf возвращает код ошибки; для неклассифицированных — KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// translate оборачивает ошибку хранилища или шлюза в таксономию сервиса.
// Уже классифицированные ошибки возвращаются как есть.
func translate(op string, layer Layer, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	out := &Error{Op: op, Layer: layer, cause: err}
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, blobstore.ErrNotFound):
		out.Kind, out.Message = KindFileNotFound, "файл не найден"
	case errors.Is(err, repository.ErrConflict), errors.Is(err, blobstore.ErrAlreadyExists):
		out.Kind, out.Message = KindFileAlreadyExists, "файл по этому адресу уже существует"
	case errors.Is(err, repository.ErrStale):
		out.Kind, out.Message = KindInvalidOperation, "файл изменён параллельной операцией, повторите запрос"
	case errors.Is(err, blobstore.ErrAccessDenied):
		out.Kind, out.Message = KindPermissionDenied, "хранилище отказало в доступе"
	case errors.Is(err, repository.ErrInvalidArgument),
		errors.Is(err, blobstore.ErrInvalidKey),
		errors.Is(err, access.ErrInvalidValue),
		errors.Is(err, access.ErrMissingContext):
		out.Kind, out.Message = KindInvalidOperation, err.Error()
	default:
		out.Kind, out.Message = KindUnknown, "внутренняя ошибка хранилища"
	}
	return out
}
