// Точка входа projecthub, каталога файлов проектов с AI-ассистентом.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/projecthub/internal/api/handlers"
	"github.com/bigkaa/goartstore/projecthub/internal/api/middleware"
	"github.com/bigkaa/goartstore/projecthub/internal/config"
	"github.com/bigkaa/goartstore/projecthub/internal/events"
	"github.com/bigkaa/goartstore/projecthub/internal/genai"
	"github.com/bigkaa/goartstore/projecthub/internal/server"
	"github.com/bigkaa/goartstore/projecthub/internal/service"
	"github.com/bigkaa/goartstore/projecthub/internal/storage/blob"
	"github.com/bigkaa/goartstore/projecthub/internal/storage/catalog"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("projecthub запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.Bool("ai_enabled", cfg.AIEnabled()),
	)

	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. Хранилище загруженных файлов
	uploads, err := newUploadStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища файлов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Хранилище сгенерированных изображений (всегда локальное, раздаётся статически)
	generated, err := blob.NewFileStore(cfg.GeneratedDir)
	if err != nil {
		logger.Error("Ошибка инициализации директории изображений", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Каталог проектов
	cat, err := catalog.Open(cfg.DataFile, uploads, logger)
	if err != nil {
		logger.Error("Ошибка загрузки каталога", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Публикация событий
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	}

	// 5. Сервисы
	projectSvc := service.NewProjectService(
		cat,
		uploads,
		service.NewSearchCache(cfg.SearchCacheSize, cfg.SearchCacheTTL),
		publisher,
		logger,
	)

	// nil-интерфейс, а не nil *genai.Client: сервис отвечает ErrAINotConfigured
	var gen service.Generator
	if cfg.AIEnabled() {
		gen = genai.New(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.AITimeout, logger)
	} else {
		logger.Warn("PH_GEMINI_API_KEY не задан, AI-эндпоинты отключены")
	}
	assistantSvc := service.NewAssistantService(gen, generated, service.AssistantConfig{
		ChatModel:      cfg.GeminiChatModel,
		ImageModel:     cfg.GeminiImageModel,
		HistoryLimit:   cfg.ChatHistoryLimit,
		ImageURLPrefix: server.GeneratedPrefix,
	}, publisher, logger)

	// 6. Фоновые процессы

	// 6.1 Сверка хранилища и каталога
	reconcileSvc := service.NewReconcileService(uploads, cat, cfg.ReconcileInterval, cfg.ReconcileGrace, logger)
	reconcileSvc.Start(ctx)

	// 6.2 topologymetrics: мониторинг AI upstream
	var (
		dephealthSvc *service.DephealthService
		deps         handlers.DependencyHealth
	)
	if cfg.AIEnabled() && cfg.DephealthEnabled {
		dephealthSvc = startDephealth(ctx, cfg, logger)
		if dephealthSvc != nil {
			deps = dephealthSvc
		}
	}

	// 6.3 Свободное место для локального хранилища
	if fs, ok := uploads.(*blob.FileStore); ok {
		logDiskUsage(logger, fs.Dir(), cfg.MaxUploadSize)
	}

	// 7. Handlers
	h := server.Handlers{
		Projects:    handlers.NewProjectsHandler(projectSvc, cfg.MaxUploadSize, cfg.HTTPWriteTimeout, logger),
		AI:          handlers.NewAIHandler(assistantSvc, logger),
		Health:      handlers.NewHealthHandler(cat, deps),
		Maintenance: handlers.NewMaintenanceHandler(reconcileSvc),
	}

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	reconcileSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("Ошибка закрытия publisher", slog.String("error", err.Error()))
	}

	logger.Info("projecthub остановлен")
}

// newUploadStore создаёт хранилище загруженных файлов по PH_BLOB_BACKEND.
func newUploadStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendMinio:
		store, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Файлы хранятся в MinIO",
			slog.String("endpoint", cfg.MinioEndpoint),
			slog.String("bucket", cfg.MinioBucket),
		)
		return store, nil
	default:
		store, err := blob.NewFileStore(cfg.UploadsDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Файлы хранятся локально", slog.String("dir", cfg.UploadsDir))
		return store, nil
	}
}

// startDephealth создаёт и запускает мониторинг AI upstream.
// Ошибки не фатальны: сервис работает без мониторинга.
func startDephealth(ctx context.Context, cfg *config.Config, logger *slog.Logger) *service.DephealthService {
	svc, err := service.NewDephealthService(
		cfg.ServiceID,
		cfg.GeminiBaseURL,
		cfg.DephealthAIHealthPath,
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := svc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", err.Error()),
		)
		return nil
	}
	logger.Info("topologymetrics запущен",
		slog.String("ai_base_url", cfg.GeminiBaseURL),
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
	return svc
}

// logDiskUsage логирует ёмкость диска директории загрузок и предупреждает,
// если свободного места меньше одной максимальной загрузки.
func logDiskUsage(logger *slog.Logger, dir string, maxUpload int64) {
	total, used, available, err := getDiskUsage(dir)
	if err != nil {
		logger.Warn("Не удалось получить ёмкость диска", slog.String("error", err.Error()))
		return
	}
	logger.Info("Ёмкость диска загрузок",
		slog.String("dir", dir),
		slog.Int64("total_bytes", total),
		slog.Int64("used_bytes", used),
		slog.Int64("available_bytes", available),
	)
	if lowDiskSpace(available, maxUpload) {
		logger.Warn("Свободного места меньше максимального размера загрузки",
			slog.Int64("available_bytes", available),
			slog.Int64("max_upload_size", maxUpload),
		)
	}
}

// lowDiskSpace: свободного места не хватит на одну загрузку максимального размера.
func lowDiskSpace(available, maxUpload int64) bool {
	return available < maxUpload
}
