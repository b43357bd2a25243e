// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Access Module мониторит:
//   - Хранилище контента (pin API) — HTTP checker (critical)
//   - Реестр дел — HTTP checker к health endpoint (critical)
//
// База кэша ссылок не мониторится: embedded SQLite живёт в одном
// процессе с сервисом, её доступность проверяет /health/ready.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках
	Group string
	// PinAPIURL — URL хранилища контента
	PinAPIURL string
	// PinHealthPath — probe path хранилища
	PinHealthPath string
	// LedgerURL — URL реестра дел
	LedgerURL string
	// LedgerHealthPath — probe path реестра
	LedgerHealthPath string
	// CheckInterval — интервал проверки зависимостей
	CheckInterval time.Duration
	// IsEntry — добавляет лейбл isentry=yes ко всем зависимостям
	IsEntry bool
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	cfg DephealthConfig,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	pinDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(cfg.PinAPIURL),
		dephealth.WithHTTPHealthPath(cfg.PinHealthPath),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	}
	ledgerDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(cfg.LedgerURL),
		dephealth.WithHTTPHealthPath(cfg.LedgerHealthPath),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	}
	if cfg.IsEntry {
		pinDepOpts = append(pinDepOpts, dephealth.WithLabel("isentry", "yes"))
		ledgerDepOpts = append(ledgerDepOpts, dephealth.WithLabel("isentry", "yes"))
	}

	// Для https-зависимостей сертификат проверяется
	if parsed, err := url.Parse(cfg.PinAPIURL); err == nil && parsed.Scheme == "https" {
		pinDepOpts = append(pinDepOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	if parsed, err := url.Parse(cfg.LedgerURL); err == nil && parsed.Scheme == "https" {
		ledgerDepOpts = append(ledgerDepOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		dephealth.HTTP("pin-storage", pinDepOpts...),
		dephealth.HTTP("case-ledger", ledgerDepOpts...),
	)
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (хранилище + реестр дел)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
