// Пакет config: загрузка и валидация конфигурации projecthub
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые бэкенды хранения blob.
const (
	BlobBackendFS    = "fs"
	BlobBackendMinio = "minio"
)

// Config содержит все параметры конфигурации projecthub.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Хранилище ---

	// Путь к JSON-файлу каталога
	DataFile string
	// Директория загруженных файлов (бэкенд fs)
	UploadsDir string
	// Директория сгенерированных изображений (всегда локальная, раздаётся по /generated/)
	GeneratedDir string
	// Максимальный размер тела запроса загрузки в байтах
	MaxUploadSize int64
	// Бэкенд хранения загруженных файлов (fs, minio)
	BlobBackend string

	// --- MinIO (только для BlobBackend=minio) ---

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// --- Generative AI ---

	// API-ключ Gemini. Пустой: AI-эндпоинты отвечают ошибкой.
	GeminiAPIKey string
	// Базовый URL Generative Language API
	GeminiBaseURL string
	// Модель для чата
	GeminiChatModel string
	// Модель для генерации изображений
	GeminiImageModel string
	// Таймаут одного запроса к AI
	AITimeout time.Duration
	// Сколько последних сообщений истории чата пересылается в AI
	ChatHistoryLimit int

	// --- События ---

	// Адреса брокеров Kafka. Пусто: события не публикуются.
	KafkaBrokers []string
	// Топик событий
	KafkaTopic string

	// --- Кэш поиска ---

	// Максимальное количество закэшированных результатов поиска (0: кэш выключен)
	SearchCacheSize int
	// TTL записи кэша поиска
	SearchCacheTTL time.Duration

	// --- Сверка ---

	// Интервал автоматической сверки (0: только при старте и по запросу)
	ReconcileInterval time.Duration
	// Минимальный возраст blob без записи, после которого он удаляется
	ReconcileGrace time.Duration

	// --- topologymetrics ---

	// Включить мониторинг AI upstream через topologymetrics
	DephealthEnabled bool
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Путь проверки доступности AI API (относительно GeminiBaseURL)
	DephealthAIHealthPath string
	// Идентификатор сервиса в метриках
	ServiceID string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Все параметры имеют значения по умолчанию; ошибка возвращается
// только для некорректных значений.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// PH_PORT: порт HTTP-сервера (по умолчанию 3000)
	cfg.Port, err = getEnvInt("PH_PORT", 3000)
	if err != nil {
		return nil, fmt.Errorf("PH_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PH_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// PH_LOG_LEVEL: уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PH_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PH_LOG_LEVEL: %w", err)
	}

	// PH_LOG_FORMAT: формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PH_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PH_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Хранилище ---

	cfg.DataFile = getEnvDefault("PH_DATA_FILE", "data/projects.json")
	cfg.UploadsDir = getEnvDefault("PH_UPLOADS_DIR", "uploads")
	cfg.GeneratedDir = getEnvDefault("PH_GENERATED_DIR", "public/generated")

	// PH_MAX_UPLOAD_SIZE: лимит загрузки (по умолчанию 500 MiB)
	cfg.MaxUploadSize, err = getEnvInt64("PH_MAX_UPLOAD_SIZE", 500<<20)
	if err != nil {
		return nil, fmt.Errorf("PH_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("PH_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}

	// PH_BLOB_BACKEND: бэкенд хранения (по умолчанию fs)
	cfg.BlobBackend = getEnvDefault("PH_BLOB_BACKEND", BlobBackendFS)
	if cfg.BlobBackend != BlobBackendFS && cfg.BlobBackend != BlobBackendMinio {
		return nil, fmt.Errorf("PH_BLOB_BACKEND: недопустимое значение %q, допустимые: fs, minio", cfg.BlobBackend)
	}

	// --- MinIO ---

	cfg.MinioEndpoint = getEnvDefault("PH_MINIO_ENDPOINT", "")
	cfg.MinioAccessKey = getEnvDefault("PH_MINIO_ACCESS_KEY", "")
	cfg.MinioSecretKey = getEnvDefault("PH_MINIO_SECRET_KEY", "")
	cfg.MinioBucket = getEnvDefault("PH_MINIO_BUCKET", "projecthub")
	cfg.MinioUseSSL, err = getEnvBool("PH_MINIO_USE_SSL", false)
	if err != nil {
		return nil, fmt.Errorf("PH_MINIO_USE_SSL: %w", err)
	}
	if cfg.BlobBackend == BlobBackendMinio && cfg.MinioEndpoint == "" {
		return nil, fmt.Errorf("PH_MINIO_ENDPOINT: обязателен при PH_BLOB_BACKEND=minio")
	}

	// --- Generative AI ---

	cfg.GeminiAPIKey = getEnvDefault("PH_GEMINI_API_KEY", "")
	cfg.GeminiBaseURL = strings.TrimRight(
		getEnvDefault("PH_GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"), "/")
	cfg.GeminiChatModel = getEnvDefault("PH_GEMINI_CHAT_MODEL", "gemini-2.0-flash")
	cfg.GeminiImageModel = getEnvDefault("PH_GEMINI_IMAGE_MODEL", "gemini-2.0-flash-exp-image-generation")

	// PH_AI_TIMEOUT: таймаут запроса к AI (по умолчанию 2m)
	cfg.AITimeout, err = getEnvDuration("PH_AI_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PH_AI_TIMEOUT: %w", err)
	}
	if cfg.AITimeout <= 0 {
		return nil, fmt.Errorf("PH_AI_TIMEOUT: значение должно быть положительным")
	}

	// PH_CHAT_HISTORY_LIMIT: сколько сообщений истории пересылается (по умолчанию 20)
	cfg.ChatHistoryLimit, err = getEnvInt("PH_CHAT_HISTORY_LIMIT", 20)
	if err != nil {
		return nil, fmt.Errorf("PH_CHAT_HISTORY_LIMIT: %w", err)
	}
	if cfg.ChatHistoryLimit < 0 {
		return nil, fmt.Errorf("PH_CHAT_HISTORY_LIMIT: значение не может быть отрицательным")
	}

	// --- События ---

	cfg.KafkaBrokers = splitList(getEnvDefault("PH_KAFKA_BROKERS", ""))
	cfg.KafkaTopic = getEnvDefault("PH_KAFKA_TOPIC", "projecthub.events")

	// --- Кэш поиска ---

	cfg.SearchCacheSize, err = getEnvInt("PH_SEARCH_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("PH_SEARCH_CACHE_SIZE: %w", err)
	}
	if cfg.SearchCacheSize < 0 {
		return nil, fmt.Errorf("PH_SEARCH_CACHE_SIZE: значение не может быть отрицательным")
	}

	cfg.SearchCacheTTL, err = getEnvDuration("PH_SEARCH_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PH_SEARCH_CACHE_TTL: %w", err)
	}

	// --- Сверка ---

	cfg.ReconcileInterval, err = getEnvDuration("PH_RECONCILE_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PH_RECONCILE_INTERVAL: %w", err)
	}

	cfg.ReconcileGrace, err = getEnvDuration("PH_RECONCILE_GRACE", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PH_RECONCILE_GRACE: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthEnabled, err = getEnvBool("PH_DEPHEALTH_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("PH_DEPHEALTH_ENABLED: %w", err)
	}

	cfg.DephealthCheckInterval, err = getEnvDuration("PH_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PH_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// PH_DEPHEALTH_AI_HEALTH_PATH: discovery-документ API отвечает 200 без ключа
	cfg.DephealthAIHealthPath = getEnvDefault("PH_DEPHEALTH_AI_HEALTH_PATH", "/$discovery/rest?version=v1beta")

	cfg.ServiceID = getEnvDefault("PH_SERVICE_ID", "projecthub")

	// --- HTTP Server Timeouts ---

	// Загрузка до 500 MiB по медленному каналу занимает минуты
	cfg.HTTPReadTimeout, err = getEnvDuration("PH_HTTP_READ_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PH_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("PH_HTTP_WRITE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PH_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("PH_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PH_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// PH_SHUTDOWN_TIMEOUT: таймаут graceful shutdown (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("PH_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PH_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// AIEnabled возвращает true, если задан API-ключ Gemini.
func (c *Config) AIEnabled() bool {
	return c.GeminiAPIKey != ""
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

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
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

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает bool значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (используйте true/false)", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	if d < 0 {
		return 0, fmt.Errorf("длительность не может быть отрицательной: %q", val)
	}
	return d, nil
}

// splitList разбирает список через запятую, отбрасывая пустые элементы.
func splitList(raw string) []string {
	var result []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			result = append(result, s)
		}
	}
	return result
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
