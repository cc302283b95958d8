// Пакет config — загрузка и валидация конфигурации WQT
// из переменных окружения (с поддержкой .env файла).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды объектного хранилища.
const (
	StorageBackendLocal = "local"
	StorageBackendGCS   = "gcs"
)

// Config содержит все параметры конфигурации WQT.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Публичные ссылки ---

	// Базовый URL страниц просмотра, кодируется в QR-коды
	// (например, https://wqt.example.com). Обязательный.
	BaseViewURL string

	// --- Объектное хранилище ---

	// Бэкенд хранилища: local или gcs
	StorageBackend string
	// Корневая директория локального хранилища
	StorageLocalDir string
	// Публичный базовый URL объектов (для local — BaseViewURL + "/media")
	StoragePublicURL string
	// Бакет Google Cloud Storage
	GCSBucket string
	// Путь к JSON-ключу сервисного аккаунта GCS
	GCSCredentialsFile string
	// Таймаут одной операции с хранилищем
	StorageTimeout time.Duration
	// Максимальный размер фотографии в байтах
	MaxPhotoSize int64

	// --- QR-коды ---

	// Ширина изображения QR в пикселях
	QRWidth int
	// Поле вокруг QR в модулях
	QRMargin int

	// --- Журнал операций ---

	// Директория журнала незавершённых операций
	JournalDir string
	// Интервал фоновой сверки журнала
	SweepInterval time.Duration

	// --- Кэш записей ---

	CacheSize int
	CacheTTL  time.Duration

	// --- Аутентификация ---

	// Секрет подписи сессионных токенов (HS256). Если пуст — генерируется при старте.
	SessionSecret string
	// Время жизни сессии
	SessionTTL time.Duration
	// Учётная запись супервизора: идентификатор и bcrypt-хэш пароля
	SupervisorID           string
	SupervisorPasswordHash string
	// Учётная запись инспектора: идентификатор и bcrypt-хэш пароля
	InspectorID           string
	InspectorPasswordHash string
	// URL JWKS внешнего провайдера (опционально, RS256-токены)
	JWKSURL string
	// Ожидаемый issuer внешних токенов (опционально)
	JWTIssuer string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// LoadDotEnv загружает переменные из .env файлов (если они существуют).
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("ошибка чтения %s: %w", p, err)
		}
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// WQT_PORT — порт HTTP-сервера (по умолчанию 4200)
	cfg.Port, err = getEnvInt("WQT_PORT", 4200)
	if err != nil {
		return nil, fmt.Errorf("WQT_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("WQT_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("WQT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("WQT_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("WQT_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("WQT_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("WQT_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("WQT_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("WQT_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("WQT_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("WQT_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("WQT_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("WQT_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("WQT_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Публичные ссылки ---

	// WQT_BASE_VIEW_URL — обязательный, без него QR-коды не имеют смысла
	cfg.BaseViewURL, err = getEnvRequired("WQT_BASE_VIEW_URL")
	if err != nil {
		return nil, err
	}
	cfg.BaseViewURL = strings.TrimRight(cfg.BaseViewURL, "/")
	if err := validateAbsoluteURL(cfg.BaseViewURL); err != nil {
		return nil, fmt.Errorf("WQT_BASE_VIEW_URL: %w", err)
	}

	// --- Объектное хранилище ---

	cfg.StorageBackend = getEnvDefault("WQT_STORAGE_BACKEND", StorageBackendLocal)
	switch cfg.StorageBackend {
	case StorageBackendLocal:
		cfg.StorageLocalDir = getEnvDefault("WQT_STORAGE_LOCAL_DIR", "./data/media")
		cfg.StoragePublicURL = getEnvDefault("WQT_STORAGE_PUBLIC_URL", cfg.BaseViewURL+"/media")
	case StorageBackendGCS:
		// Учётные данные удалённого хранилища обязательны
		cfg.GCSBucket, err = getEnvRequired("WQT_GCS_BUCKET")
		if err != nil {
			return nil, err
		}
		cfg.GCSCredentialsFile, err = getEnvRequired("WQT_GCS_CREDENTIALS_FILE")
		if err != nil {
			return nil, err
		}
		cfg.StoragePublicURL = getEnvDefault("WQT_STORAGE_PUBLIC_URL",
			"https://storage.googleapis.com/"+cfg.GCSBucket)
	default:
		return nil, fmt.Errorf("WQT_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, gcs", cfg.StorageBackend)
	}
	cfg.StoragePublicURL = strings.TrimRight(cfg.StoragePublicURL, "/")
	if err := validateAbsoluteURL(cfg.StoragePublicURL); err != nil {
		return nil, fmt.Errorf("WQT_STORAGE_PUBLIC_URL: %w", err)
	}

	cfg.StorageTimeout, err = getEnvDuration("WQT_STORAGE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WQT_STORAGE_TIMEOUT: %w", err)
	}

	// WQT_MAX_PHOTO_SIZE — по умолчанию 10 МБ
	cfg.MaxPhotoSize, err = getEnvInt64("WQT_MAX_PHOTO_SIZE", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("WQT_MAX_PHOTO_SIZE: %w", err)
	}
	if cfg.MaxPhotoSize < 1024 {
		return nil, fmt.Errorf("WQT_MAX_PHOTO_SIZE: значение %d меньше минимума 1024", cfg.MaxPhotoSize)
	}

	// --- QR-коды ---

	cfg.QRWidth, err = getEnvInt("WQT_QR_WIDTH", 200)
	if err != nil {
		return nil, fmt.Errorf("WQT_QR_WIDTH: %w", err)
	}
	if cfg.QRWidth < 64 || cfg.QRWidth > 2048 {
		return nil, fmt.Errorf("WQT_QR_WIDTH: значение %d вне допустимого диапазона 64-2048", cfg.QRWidth)
	}

	cfg.QRMargin, err = getEnvInt("WQT_QR_MARGIN", 1)
	if err != nil {
		return nil, fmt.Errorf("WQT_QR_MARGIN: %w", err)
	}
	if cfg.QRMargin < 0 || cfg.QRMargin > 16 {
		return nil, fmt.Errorf("WQT_QR_MARGIN: значение %d вне допустимого диапазона 0-16", cfg.QRMargin)
	}

	// --- Журнал операций ---

	cfg.JournalDir = getEnvDefault("WQT_JOURNAL_DIR", "./data/journal")

	cfg.SweepInterval, err = getEnvDuration("WQT_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("WQT_SWEEP_INTERVAL: %w", err)
	}

	// --- Кэш ---

	cfg.CacheSize, err = getEnvInt("WQT_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("WQT_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("WQT_CACHE_SIZE: значение %d должно быть положительным", cfg.CacheSize)
	}

	cfg.CacheTTL, err = getEnvDuration("WQT_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("WQT_CACHE_TTL: %w", err)
	}

	// --- Аутентификация ---

	cfg.SessionSecret = getEnvDefault("WQT_SESSION_SECRET", "")
	if cfg.SessionSecret != "" && len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("WQT_SESSION_SECRET: длина секрета должна быть не менее 32 символов")
	}

	cfg.SessionTTL, err = getEnvDuration("WQT_SESSION_TTL", 8*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("WQT_SESSION_TTL: %w", err)
	}

	cfg.SupervisorID = getEnvDefault("WQT_SUPERVISOR_ID", "")
	cfg.SupervisorPasswordHash = getEnvDefault("WQT_SUPERVISOR_PASSWORD_HASH", "")
	cfg.InspectorID = getEnvDefault("WQT_INSPECTOR_ID", "")
	cfg.InspectorPasswordHash = getEnvDefault("WQT_INSPECTOR_PASSWORD_HASH", "")
	if (cfg.SupervisorID == "") != (cfg.SupervisorPasswordHash == "") {
		return nil, fmt.Errorf("WQT_SUPERVISOR_ID и WQT_SUPERVISOR_PASSWORD_HASH задаются только вместе")
	}
	if (cfg.InspectorID == "") != (cfg.InspectorPasswordHash == "") {
		return nil, fmt.Errorf("WQT_INSPECTOR_ID и WQT_INSPECTOR_PASSWORD_HASH задаются только вместе")
	}

	cfg.JWKSURL = getEnvDefault("WQT_JWKS_URL", "")
	if cfg.JWKSURL != "" {
		if err := validateAbsoluteURL(cfg.JWKSURL); err != nil {
			return nil, fmt.Errorf("WQT_JWKS_URL: %w", err)
		}
	}
	cfg.JWTIssuer = getEnvDefault("WQT_JWT_ISSUER", "")

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("WQT_DEPHEALTH_GROUP", "wqt")

	cfg.DephealthCheckInterval, err = getEnvDuration("WQT_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WQT_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("WQT_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WQT_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (схема pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SecureCookies возвращает true, если сервис опубликован по HTTPS.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseViewURL, "https://")
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

// getEnvInt64 — как getEnvInt, но для int64 (размеры в байтах).
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

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("длительность должна быть положительной: %q", val)
	}
	return d, nil
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

// validateAbsoluteURL проверяет, что строка — абсолютный http(s) URL.
func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("ожидается схема http или https, получено %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("в URL %q отсутствует хост", raw)
	}
	return nil
}
