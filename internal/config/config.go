// Пакет config — загрузка и валидация конфигурации Storage Orchestrator
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды блобового хранилища.
const (
	BlobBackendMinio = "minio"
	BlobBackendLocal = "local"
)

// Config содержит все параметры конфигурации Storage Orchestrator.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// Максимальный размер загружаемого файла в байтах (по умолчанию 100 MiB)
	MaxUploadSize int64

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Блобовое хранилище ---

	// Бэкенд: minio или local
	BlobBackend string
	// Параметры MinIO / S3-совместимого хранилища
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioRegion    string
	// Корневой каталог локального бэкенда
	LocalRoot string
	// Ключ подписи ссылок локального бэкенда
	LocalSigningKey string
	// Базовый URL для публичных ссылок (пусто — вычисляется бэкендом)
	PublicBaseURL string
	// Время жизни подписанных ссылок (по умолчанию 1h)
	SignedURLTTL time.Duration
	// Создавать фиксированный набор бакетов при старте
	EnsureBuckets bool

	// --- Кэш метаданных ---

	CacheMaxSize int
	CacheTTL     time.Duration

	// --- JWT ---

	// URL JWKS endpoint; пусто — аутентификация отключена
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Путь к CA-сертификату для JWKS (пусто — системные)
	JWTCACertPath string
	// Допуск расхождения часов
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration

	// --- Topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:gocyclo,cyclop // линейный разбор переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("SO_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("SO_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SO_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SO_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SO_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("SO_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SO_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("SO_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("SO_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("SO_HTTP_WRITE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("SO_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("SO_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("SO_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SO_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("SO_SHUTDOWN_TIMEOUT: %w", err)
	}

	maxUpload, err := getEnvInt("SO_MAX_UPLOAD_SIZE", 100<<20)
	if err != nil {
		return nil, fmt.Errorf("SO_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("SO_MAX_UPLOAD_SIZE: значение должно быть > 0")
	}
	cfg.MaxUploadSize = int64(maxUpload)

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("SO_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("SO_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("SO_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("SO_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("SO_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("SO_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("SO_DB_SSL_MODE", "disable")

	// --- Блобовое хранилище ---

	cfg.BlobBackend = strings.ToLower(getEnvDefault("SO_BLOB_BACKEND", BlobBackendMinio))
	switch cfg.BlobBackend {
	case BlobBackendMinio:
		if cfg.MinioEndpoint, err = getEnvRequired("SO_MINIO_ENDPOINT"); err != nil {
			return nil, err
		}
		if cfg.MinioAccessKey, err = getEnvRequired("SO_MINIO_ACCESS_KEY"); err != nil {
			return nil, err
		}
		if cfg.MinioSecretKey, err = getEnvRequired("SO_MINIO_SECRET_KEY"); err != nil {
			return nil, err
		}
		if cfg.MinioUseSSL, err = getEnvBool("SO_MINIO_USE_SSL", false); err != nil {
			return nil, fmt.Errorf("SO_MINIO_USE_SSL: %w", err)
		}
		cfg.MinioRegion = getEnvDefault("SO_MINIO_REGION", "us-east-1")
	case BlobBackendLocal:
		cfg.LocalRoot = getEnvDefault("SO_LOCAL_ROOT", "./data")
		if cfg.LocalSigningKey, err = getEnvRequired("SO_LOCAL_SIGNING_KEY"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("SO_BLOB_BACKEND: недопустимое значение %q, допустимые: minio, local", cfg.BlobBackend)
	}

	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("SO_PUBLIC_BASE_URL", ""), "/")
	if cfg.PublicBaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
			return nil, fmt.Errorf("SO_PUBLIC_BASE_URL: некорректный URL %q", cfg.PublicBaseURL)
		}
	}
	if cfg.BlobBackend == BlobBackendLocal && cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("http://localhost:%d/blobs", cfg.Port)
	}

	if cfg.SignedURLTTL, err = getEnvDuration("SO_SIGNED_URL_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("SO_SIGNED_URL_TTL: %w", err)
	}
	if cfg.SignedURLTTL <= 0 || cfg.SignedURLTTL > 7*24*time.Hour {
		return nil, fmt.Errorf("SO_SIGNED_URL_TTL: значение должно быть в диапазоне (0, 168h]")
	}

	if cfg.EnsureBuckets, err = getEnvBool("SO_ENSURE_BUCKETS", true); err != nil {
		return nil, fmt.Errorf("SO_ENSURE_BUCKETS: %w", err)
	}

	// --- Кэш ---

	if cfg.CacheMaxSize, err = getEnvInt("SO_CACHE_MAX_SIZE", 10000); err != nil {
		return nil, fmt.Errorf("SO_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize <= 0 {
		return nil, fmt.Errorf("SO_CACHE_MAX_SIZE: значение должно быть > 0")
	}
	if cfg.CacheTTL, err = getEnvDuration("SO_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("SO_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("SO_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("SO_JWT_ISSUER", "")
	cfg.JWTCACertPath = getEnvDefault("SO_JWT_CA_CERT_PATH", "")
	if cfg.JWTLeeway, err = getEnvDuration("SO_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("SO_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("SO_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("SO_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvDuration("SO_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("SO_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// --- Topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("SO_DEPHEALTH_GROUP", "goartstore")
	if cfg.DephealthCheckInterval, err = getEnvDuration("SO_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("SO_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword),
		c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// MinioHealthURL возвращает базовый URL MinIO для проверок здоровья.
func (c *Config) MinioHealthURL() string {
	scheme := "http"
	if c.MinioUseSSL {
		scheme = "https"
	}
	return scheme + "://" + c.MinioEndpoint
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
