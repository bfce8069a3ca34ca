// Пакет errors — ответы с ошибками в едином формате:
// {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/service"
)

// Коды ошибок транспортного уровня. Коды сервиса (FILE_NOT_FOUND и др.)
// передаются клиенту как есть.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError — 400 некорректные входные данные запроса.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// statusByKind — HTTP-статус для кода ошибки сервиса.
var statusByKind = map[service.Kind]int{
	service.KindFileNotFound:      http.StatusNotFound,
	service.KindFileAlreadyExists: http.StatusConflict,
	service.KindPermissionDenied:  http.StatusForbidden,
	service.KindInvalidFile:       http.StatusBadRequest,
	service.KindInvalidOperation:  http.StatusBadRequest,
}

// StatusFor возвращает HTTP-статус для ошибки сервиса.
// Неклассифицированные ошибки — 500.
func StatusFor(err error) int {
	if status, ok := statusByKind[service.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ServiceError записывает ответ для ошибки сервиса. Текст
// неклассифицированных ошибок клиенту не раскрывается.
func ServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		InternalError(w, "Внутренняя ошибка хранилища")
		return
	}

	message := err.Error()
	var e *service.Error
	if errors.As(err, &e) && e.Message != "" {
		message = e.Message
	}
	WriteError(w, status, string(service.KindOf(err)), message)
}
