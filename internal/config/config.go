// Пакет config — загрузка и валидация конфигурации Access Module
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

// Config содержит все параметры конфигурации Access Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration
	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- Кэш ссылок ---

	// Путь к файлу SQLite с кэшем выданных ссылок
	CachePath string

	// --- Хранилище (pinning service) ---

	// Базовый URL API хранилища (выдача подписанных ссылок, группы)
	PinAPIURL string
	// Базовый URL upload endpoint хранилища
	PinUploadsURL string
	// Базовый URL выделенного gateway (обязательный — общего значения нет)
	PinGatewayURL string
	// UUID группы, в которую добавляются загруженные документы
	// (пустая строка — добавление в группу отключено)
	PinGroupID string
	// Таймаут запросов к API хранилища (по умолчанию 30s)
	PinTimeout time.Duration
	// Таймаут загрузки файла (по умолчанию 120s)
	UploadTimeout time.Duration
	// Таймаут metadata probe по подписанной ссылке (по умолчанию 5s)
	ProbeTimeout time.Duration
	// Срок действия подписанной ссылки (по умолчанию 240h = 10 дней)
	LinkTTL time.Duration

	// --- Case ledger backend ---

	// Базовый URL ledger backend (обязательный)
	LedgerURL string
	// Таймаут запросов к ledger (по умолчанию 15s)
	LedgerTimeout time.Duration

	// --- Кэш индекса документов дела ---

	// Максимальное количество дел в LRU-кэше индекса
	CaseIndexSize int
	// TTL записи кэша индекса документов дела
	CaseIndexTTL time.Duration

	// --- Аутентификация (JWKS) ---

	// URL JWKS endpoint провайдера сессионных токенов (обязательный)
	JWKSURL string
	// Ожидаемый issuer JWT (пустая строка — не проверяется)
	JWTIssuer string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- TLS ---

	// Путь к CA-сертификату для исходящих HTTPS-запросов
	// (пустая строка — стандартный пул)
	CACertPath string

	// --- Dephealth ---

	// Включён ли мониторинг зависимостей
	DephealthEnabled bool
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Добавлять ли лейбл isentry=yes
	DephealthIsEntry bool
	// Health path хранилища для HTTP checker
	PinHealthPath string
	// Health path ledger backend для HTTP checker
	LedgerHealthPath string
}

// TTLSeconds возвращает срок действия ссылки в целых секундах —
// именно в таком виде он передаётся хранилищу и сохраняется в записи кэша.
func (c *Config) TTLSeconds() int64 {
	return int64(c.LinkTTL / time.Second)
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop // сложность обусловлена количеством параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// AM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("AM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("AM_PORT: %w", err)
	}

	// AM_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("AM_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("AM_LOG_LEVEL: %w", err)
	}

	// AM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("AM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("AM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("AM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("AM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Кэш ссылок ---

	// AM_CACHE_PATH — путь к SQLite-файлу кэша (по умолчанию ./access-cache.db)
	cfg.CachePath = getEnvDefault("AM_CACHE_PATH", "access-cache.db")

	// --- Хранилище ---

	// AM_PIN_API_URL — API хранилища
	cfg.PinAPIURL = normalizeURL(getEnvDefault("AM_PIN_API_URL", "https://api.pinata.cloud"))

	// AM_PIN_UPLOADS_URL — upload endpoint хранилища
	cfg.PinUploadsURL = normalizeURL(getEnvDefault("AM_PIN_UPLOADS_URL", "https://uploads.pinata.cloud"))

	// AM_PIN_GATEWAY_URL — выделенный gateway (обязательный)
	cfg.PinGatewayURL, err = getEnvRequired("AM_PIN_GATEWAY_URL")
	if err != nil {
		return nil, err
	}
	cfg.PinGatewayURL = normalizeURL(cfg.PinGatewayURL)

	// AM_PIN_GROUP_ID — группа документов (опционально)
	cfg.PinGroupID = getEnvDefault("AM_PIN_GROUP_ID", "")

	cfg.PinTimeout, err = getEnvDuration("AM_PIN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_PIN_TIMEOUT: %w", err)
	}
	cfg.UploadTimeout, err = getEnvDuration("AM_UPLOAD_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_UPLOAD_TIMEOUT: %w", err)
	}
	cfg.ProbeTimeout, err = getEnvDuration("AM_PROBE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_PROBE_TIMEOUT: %w", err)
	}

	// AM_LINK_TTL — срок действия ссылки (по умолчанию 240h, 10 дней)
	cfg.LinkTTL, err = getEnvDuration("AM_LINK_TTL", 240*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AM_LINK_TTL: %w", err)
	}
	if cfg.LinkTTL < time.Second {
		return nil, fmt.Errorf("AM_LINK_TTL: значение должно быть не меньше 1s")
	}

	// --- Ledger ---

	// AM_LEDGER_URL — ledger backend (обязательный)
	cfg.LedgerURL, err = getEnvRequired("AM_LEDGER_URL")
	if err != nil {
		return nil, err
	}
	cfg.LedgerURL = normalizeURL(cfg.LedgerURL)

	cfg.LedgerTimeout, err = getEnvDuration("AM_LEDGER_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_LEDGER_TIMEOUT: %w", err)
	}

	// --- Кэш индекса документов дела ---

	cfg.CaseIndexSize, err = getEnvInt("AM_CASE_INDEX_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("AM_CASE_INDEX_SIZE: %w", err)
	}
	if cfg.CaseIndexSize < 1 {
		return nil, fmt.Errorf("AM_CASE_INDEX_SIZE: значение должно быть >= 1")
	}
	cfg.CaseIndexTTL, err = getEnvDuration("AM_CASE_INDEX_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_CASE_INDEX_TTL: %w", err)
	}

	// --- Аутентификация ---

	// AM_JWKS_URL — JWKS endpoint провайдера токенов (обязательный)
	cfg.JWKSURL, err = getEnvRequired("AM_JWKS_URL")
	if err != nil {
		return nil, err
	}

	// AM_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = getEnvDefault("AM_JWT_ISSUER", "")

	cfg.JWKSClientTimeout, err = getEnvDuration("AM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("AM_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("AM_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_JWT_LEEWAY: %w", err)
	}

	// --- TLS ---

	cfg.CACertPath = getEnvDefault("AM_CA_CERT_PATH", "")

	// --- Dephealth ---

	cfg.DephealthEnabled, err = getEnvBool("AM_DEPHEALTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("AM_DEPHEALTH_ENABLED: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("AM_DEPHEALTH_GROUP", "casevault")
	cfg.DephealthCheckInterval, err = getEnvDuration("AM_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}
	cfg.PinHealthPath = getEnvDefault("AM_PIN_HEALTH_PATH", "/")
	cfg.LedgerHealthPath = getEnvDefault("AM_LEDGER_HEALTH_PATH", "/health/ready")

	return cfg, nil
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
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
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

// normalizeURL убирает trailing slash из URL.
func normalizeURL(rawURL string) string {
	return strings.TrimRight(rawURL, "/")
}
