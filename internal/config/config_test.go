package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"SO_DB_HOST":          "localhost",
		"SO_DB_NAME":          "files",
		"SO_DB_USER":          "files",
		"SO_DB_PASSWORD":      "secret",
		"SO_MINIO_ENDPOINT":   "minio:9000",
		"SO_MINIO_ACCESS_KEY": "minioadmin",
		"SO_MINIO_SECRET_KEY": "minioadmin",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8040 {
		t.Errorf("Port = %d, ожидается 8040", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.BlobBackend != BlobBackendMinio {
		t.Errorf("BlobBackend = %q, ожидается minio", cfg.BlobBackend)
	}
	if cfg.SignedURLTTL != time.Hour {
		t.Errorf("SignedURLTTL = %v, ожидается 1h", cfg.SignedURLTTL)
	}
	if cfg.CacheMaxSize != 10000 {
		t.Errorf("CacheMaxSize = %d, ожидается 10000", cfg.CacheMaxSize)
	}
	if cfg.MaxUploadSize != 100<<20 {
		t.Errorf("MaxUploadSize = %d, ожидается %d", cfg.MaxUploadSize, 100<<20)
	}
	if !cfg.EnsureBuckets {
		t.Error("EnsureBuckets = false, ожидается true")
	}
	if cfg.JWTJWKSURL != "" {
		t.Errorf("JWTJWKSURL = %q, ожидается пустое значение", cfg.JWTJWKSURL)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{"SO_DB_HOST", "SO_DB_PASSWORD", "SO_MINIO_ENDPOINT"} {
		t.Run(key, func(t *testing.T) {
			envs := minimalEnvs()
			delete(envs, key)
			setEnvs(t, envs)
			t.Setenv(key, "")

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() без %s должен вернуть ошибку", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка %q не упоминает %s", err, key)
			}
		})
	}
}

func TestLoad_LocalBackend(t *testing.T) {
	envs := minimalEnvs()
	envs["SO_BLOB_BACKEND"] = "local"
	envs["SO_LOCAL_ROOT"] = "/var/lib/files"
	envs["SO_LOCAL_SIGNING_KEY"] = "k"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.LocalRoot != "/var/lib/files" {
		t.Errorf("LocalRoot = %q", cfg.LocalRoot)
	}
	if cfg.PublicBaseURL != "http://localhost:8040/blobs" {
		t.Errorf("PublicBaseURL = %q, ожидается адрес по умолчанию", cfg.PublicBaseURL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"порт вне диапазона", "SO_PORT", "70000"},
		{"неизвестный уровень", "SO_LOG_LEVEL", "verbose"},
		{"неизвестный формат", "SO_LOG_FORMAT", "xml"},
		{"неизвестный бэкенд", "SO_BLOB_BACKEND", "ftp"},
		{"TTL ссылок", "SO_SIGNED_URL_TTL", "720h"},
		{"размер кэша", "SO_CACHE_MAX_SIZE", "0"},
		{"булево значение", "SO_MINIO_USE_SSL", "yes please"},
		{"базовый URL", "SO_PUBLIC_BASE_URL", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs[tt.key] = tt.val
			setEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("Load() с %s=%q должен вернуть ошибку", tt.key, tt.val)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db",
		DBPort:     5433,
		DBName:     "files",
		DBUser:     "user",
		DBPassword: "p@ss",
		DBSSLMode:  "require",
	}
	want := "postgres://user:p%40ss@db:5433/files?sslmode=require"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", got, want)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, ожидается %v", tt.in, got, tt.want)
		}
	}
}
