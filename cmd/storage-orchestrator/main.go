// Точка входа Storage Orchestrator — слой виртуального файлового хранилища.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт шлюз блобового хранилища (MinIO или локальная ФС), кэш метаданных
// и оркестратор, запускает topologymetrics и HTTP-сервер с JWT middleware
// и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/storage-orchestrator/internal/api/handlers"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/api/middleware"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/blobstore"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/config"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/database"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/domain/access"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/repository"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/server"
	"github.com/bigkaa/goartstore/storage-orchestrator/internal/service"
)

// readinessTimeout — таймаут проверок готовности зависимостей.
const readinessTimeout = 3 * time.Second

//nolint:gocyclo,cyclop,funlen // последовательная сборка зависимостей
func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Storage Orchestrator запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	if os.Getenv("SO_DEPHEALTH_GROUP") == "" {
		logger.Warn("SO_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic // defer cancel не критичен при выходе
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт
	// через существующий пул и обнаруживает его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Репозиторий метаданных
	fileRepo := repository.NewFileRepository(pool)

	// 6. Шлюз блобового хранилища
	var (
		blobs      blobstore.Gateway
		localBlobs *blobstore.LocalGateway
		minioURL   string
	)
	switch cfg.BlobBackend {
	case config.BlobBackendLocal:
		localBlobs, err = blobstore.NewLocalGateway(cfg.LocalRoot, cfg.PublicBaseURL, []byte(cfg.LocalSigningKey), logger)
		blobs = localBlobs
	default:
		blobs, err = blobstore.NewMinioGateway(blobstore.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			UseSSL:        cfg.MinioUseSSL,
			Region:        cfg.MinioRegion,
			PublicBaseURL: cfg.PublicBaseURL,
		}, logger)
		minioURL = cfg.MinioHealthURL()
	}
	if err != nil {
		logger.Error("Ошибка инициализации блобового хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.EnsureBuckets {
		if err := blobs.EnsureBuckets(ctx, access.Buckets()); err != nil {
			logger.Error("Ошибка создания бакетов", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Бакеты проверены", slog.Any("buckets", access.Buckets()))
	}

	// 7. Кэш метаданных и оркестратор
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	storageSvc := service.NewStorageService(fileRepo, blobs, cache, service.Options{
		SignedURLTTL:  cfg.SignedURLTTL,
		MaxUploadSize: cfg.MaxUploadSize,
	}, logger)

	// 8. topologymetrics — мониторинг зависимостей (PostgreSQL, MinIO)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "storage-orchestrator",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseDSN(),
		MinioURL:      minioURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		defer dephealthSvc.Stop()
	}

	// 9. Readiness checkers
	checkers := []handlers.ReadinessChecker{
		database.NewReadinessChecker(pool),
		blobstore.NewReadinessChecker(blobs, access.Buckets()[0], readinessTimeout),
	}

	// 10. JWT middleware (опционально)
	var middlewares []func(http.Handler) http.Handler
	middlewares = append(middlewares,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err := middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTCACertPath,
			cfg.JWTIssuer,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWTCACertPath, readinessTimeout)
		if err != nil {
			logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
			os.Exit(1)
		}
		checkers = append(checkers, jwksChecker)
		middlewares = append(middlewares, server.JWTAuthWithExclusions(jwtAuth.Middleware(), server.PublicPrefixes...))
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("SO_JWT_JWKS_URL не задана, аутентификация отключена: создатель файлов — anonymous")
	}

	// 11. Handlers и HTTP-сервер
	h := server.Handlers{
		Health: handlers.NewHealthHandler(checkers...),
		API:    handlers.NewAPIHandler(storageSvc, cfg.MaxUploadSize, logger),
	}
	if localBlobs != nil {
		h.Blobs = handlers.NewBlobHandler(localBlobs, storageSvc, logger)
	}
	srv := server.New(cfg, logger, h, middlewares...)

	// 12. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", err.Error()))
		cancel()
		os.Exit(1)
	}

	logger.Info("Storage Orchestrator остановлен")
}
