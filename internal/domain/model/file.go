// Пакет model — доменные типы Storage Orchestrator.
package model

import "time"

// ContextType — область владения файлом.
type ContextType string

// Допустимые области владения.
const (
	ContextUser         ContextType = "user"
	ContextOrganization ContextType = "organization"
	ContextApplication  ContextType = "application"
	ContextPlatform     ContextType = "platform"
)

// Valid сообщает, входит ли значение в закрытый набор областей.
func (c ContextType) Valid() bool {
	switch c {
	case ContextUser, ContextOrganization, ContextApplication, ContextPlatform:
		return true
	}
	return false
}

// AccessLevel — политика чтения, более тонкая, чем IsPublic.
type AccessLevel string

// Уровни доступа.
const (
	AccessPrivate      AccessLevel = "private"
	AccessOrganization AccessLevel = "organization"
	AccessApplication  AccessLevel = "application"
	AccessPublic       AccessLevel = "public"
)

// Valid сообщает, является ли уровень допустимым.
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessPrivate, AccessOrganization, AccessApplication, AccessPublic:
		return true
	}
	return false
}

// AnonymousCreator — значение created_by при отсутствии userId.
const AnonymousCreator = "anonymous"

// File — запись метаданных файла.
// Хранится в таблице files; (Bucket, Path) уникальна среди всех записей.
type File struct {
	// ID — UUID, назначается при создании и не меняется
	ID string
	// Name — отображаемое имя
	Name string
	// ContentType — MIME-тип блоба
	ContentType string
	// Size — фактически записанный размер блоба в байтах
	Size int64
	// Bucket и Path — физический адрес блоба
	Bucket string
	Path   string
	// ContextType и ContextID — область владения
	ContextType ContextType
	ContextID   string
	// ResourceType и ResourceID — описательная привязка к сущности приложения
	ResourceType *string
	ResourceID   *string
	// IsPublic — разрешено ли чтение без аутентификации
	IsPublic bool
	// AccessLevel — политика чтения
	AccessLevel AccessLevel
	// CreatedBy — userId создателя или "anonymous"
	CreatedBy string
	// Metadata — открытый словарь; обновления сливаются, а не заменяют
	Metadata map[string]any
	// VirtualPath — пользовательский иерархический путь ("/reports/2024")
	VirtualPath string
	// PathTokens — сегменты VirtualPath
	PathTokens []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone возвращает копию записи, не разделяющую изменяемые поля с исходной.
func (f *File) Clone() *File {
	if f == nil {
		return nil
	}
	c := *f
	if f.ResourceType != nil {
		v := *f.ResourceType
		c.ResourceType = &v
	}
	if f.ResourceID != nil {
		v := *f.ResourceID
		c.ResourceID = &v
	}
	if f.Metadata != nil {
		c.Metadata = make(map[string]any, len(f.Metadata))
		for k, v := range f.Metadata {
			c.Metadata[k] = v
		}
	}
	if f.PathTokens != nil {
		c.PathTokens = append([]string(nil), f.PathTokens...)
	}
	return &c
}

// AuthContext — идентичность вызывающего, полученная от middleware аутентификации.
// Все поля необязательны.
type AuthContext struct {
	UserID string
	OrgID  string
	AppID  string
}

// CreatedBy возвращает идентификатор создателя для записи.
func (a AuthContext) CreatedBy() string {
	if a.UserID == "" {
		return AnonymousCreator
	}
	return a.UserID
}
