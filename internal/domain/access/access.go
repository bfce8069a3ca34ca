// Пакет access — правила заполнения полей владения и видимости файла.
// Функции пакета ничего не решают о праве вызова операции: это задача
// вышестоящей авторизации. Здесь вычисляется только то, что должна
// содержать запись.
package access

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/model"
)

// Фиксированный набор бакетов. Не расширяется пользователями.
const (
	BucketUserFiles     = "user-files"
	BucketOrganizations = "organizations"
	BucketApps          = "apps"
	BucketPlatform      = "platform"
	BucketPublic        = "public"
)

// maxIdentifierLen — максимальная длина идентификатора области/ресурса.
const maxIdentifierLen = 255

// platformContextID — context_id файлов платформы по умолчанию.
const platformContextID = "platform"

var (
	// ErrInvalidValue — значение не удалось привести к нужному типу.
	ErrInvalidValue = errors.New("некорректное значение")
	// ErrMissingContext — не удалось определить context_id.
	ErrMissingContext = errors.New("не удалось определить context_id")
)

var bucketByContext = map[model.ContextType]string{
	model.ContextUser:         BucketUserFiles,
	model.ContextOrganization: BucketOrganizations,
	model.ContextApplication:  BucketApps,
	model.ContextPlatform:     BucketPlatform,
}

// DefaultBucket возвращает бакет по умолчанию для области владения.
// Для неизвестной области — public.
func DefaultBucket(contextType model.ContextType) string {
	if b, ok := bucketByContext[contextType]; ok {
		return b
	}
	return BucketPublic
}

// Buckets возвращает полный набор бакетов.
func Buckets() []string {
	return []string{BucketUserFiles, BucketOrganizations, BucketApps, BucketPlatform, BucketPublic}
}

// IsKnownBucket сообщает, входит ли бакет в фиксированный набор.
func IsKnownBucket(bucket string) bool {
	switch bucket {
	case BucketUserFiles, BucketOrganizations, BucketApps, BucketPlatform, BucketPublic:
		return true
	}
	return false
}

// Visibility — итоговые значения видимости записи.
type Visibility struct {
	IsPublic    bool
	AccessLevel model.AccessLevel
}

// DefaultVisibility заполняет видимость значениями по умолчанию:
// IsPublic=false, AccessLevel=private.
func DefaultVisibility(isPublic *bool, accessLevel string) (Visibility, error) {
	v := Visibility{AccessLevel: model.AccessPrivate}
	if isPublic != nil {
		v.IsPublic = *isPublic
	}
	if accessLevel = strings.TrimSpace(strings.ToLower(accessLevel)); accessLevel != "" {
		lvl := model.AccessLevel(accessLevel)
		if !lvl.Valid() {
			return Visibility{}, fmt.Errorf("%w: access_level %q", ErrInvalidValue, accessLevel)
		}
		v.AccessLevel = lvl
	}
	return v, nil
}

// CoerceBool приводит значение из JSON или формы к bool.
// Принимаются bool, числа 0/1 и строки true/false/1/0/yes/no/on/off.
func CoerceBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off", "":
			return false, nil
		}
	case float64:
		if b == 0 || b == 1 {
			return b == 1, nil
		}
	case int:
		if b == 0 || b == 1 {
			return b == 1, nil
		}
	case json.Number:
		switch b.String() {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %v не является булевым значением", ErrInvalidValue, v)
}

// FlexBool — bool, который при декодировании JSON принимает и строки ("true").
type FlexBool bool

// UnmarshalJSON реализует json.Unmarshaler.
func (b *FlexBool) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := CoerceBool(raw)
	if err != nil {
		return err
	}
	*b = FlexBool(v)
	return nil
}

// Ptr возвращает *bool или nil, если b == nil.
func (b *FlexBool) Ptr() *bool {
	if b == nil {
		return nil
	}
	v := bool(*b)
	return &v
}

// ResolveContext определяет область владения. Тип по умолчанию — user.
// Пустой context_id заменяется идентичностью вызывающего соответствующей
// области, для platform — константой "platform". Вызывающий без userId
// попадает в общую область user/anonymous; организацию и приложение без
// идентификатора определить нельзя.
func ResolveContext(contextType model.ContextType, contextID string, auth model.AuthContext) (model.ContextType, string, error) {
	if contextType == "" {
		contextType = model.ContextUser
	}
	if !contextType.Valid() {
		return "", "", fmt.Errorf("%w: context_type %q", ErrInvalidValue, contextType)
	}

	contextID = strings.TrimSpace(contextID)
	if contextID == "" {
		switch contextType {
		case model.ContextUser:
			contextID = auth.CreatedBy()
		case model.ContextOrganization:
			contextID = auth.OrgID
		case model.ContextApplication:
			contextID = auth.AppID
		case model.ContextPlatform:
			contextID = platformContextID
		}
	}
	if contextID == "" {
		return "", "", fmt.Errorf("%w для области %s", ErrMissingContext, contextType)
	}
	if err := ValidateIdentifier("context_id", contextID); err != nil {
		return "", "", err
	}
	return contextType, contextID, nil
}

// ValidateIdentifier проверяет идентификатор области или ресурса:
// он попадает в физический путь, поэтому не может содержать
// разделители, ".." и управляющие символы.
func ValidateIdentifier(field, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s пуст", ErrInvalidValue, field)
	}
	if len(id) > maxIdentifierLen {
		return fmt.Errorf("%w: %s длиннее %d символов", ErrInvalidValue, field, maxIdentifierLen)
	}
	if strings.Contains(id, "/") || strings.Contains(id, `\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %s содержит недопустимые символы", ErrInvalidValue, field)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %s содержит управляющие символы", ErrInvalidValue, field)
		}
	}
	return nil
}
