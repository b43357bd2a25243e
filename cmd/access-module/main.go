// Точка входа Access Module — модуль доступа к документам Casevault.
// Загружает конфигурацию, открывает базу кэша ссылок, применяет миграции,
// инициализирует клиентов хранилища и реестра дел, создаёт сервисный слой
// и API handlers, запускает мониторинг зависимостей (topologymetrics),
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/judicore/casevault/access-module/internal/api/handlers"
	"github.com/judicore/casevault/access-module/internal/api/middleware"
	"github.com/judicore/casevault/access-module/internal/config"
	"github.com/judicore/casevault/access-module/internal/ledgerclient"
	"github.com/judicore/casevault/access-module/internal/pinclient"
	"github.com/judicore/casevault/access-module/internal/repository"
	"github.com/judicore/casevault/access-module/internal/server"
	"github.com/judicore/casevault/access-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Access Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("AM_DEPHEALTH_GROUP") == "" {
		logger.Warn("AM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. База кэша ссылок: открытие и миграции
	ctx := context.Background()
	db, err := repository.Open(ctx, cfg.CachePath, logger)
	if err != nil {
		logger.Error("Ошибка открытия базы кэша", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	linkRepo := repository.NewSQLiteLinkRepository(db, logger)

	// 4. Клиент хранилища контента
	pinClient, err := pinclient.New(pinclient.Config{
		APIURL:        cfg.PinAPIURL,
		UploadsURL:    cfg.PinUploadsURL,
		GatewayURL:    cfg.PinGatewayURL,
		GroupID:       cfg.PinGroupID,
		TTLSeconds:    cfg.TTLSeconds(),
		Timeout:       cfg.PinTimeout,
		UploadTimeout: cfg.UploadTimeout,
		ProbeTimeout:  cfg.ProbeTimeout,
		CACertPath:    cfg.CACertPath,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Клиент реестра дел
	ledgerClient := ledgerclient.New(cfg.LedgerURL, cfg.LedgerTimeout, logger)

	// 6. Сервисный слой
	caseIndex := service.NewCaseIndexService(cfg.CaseIndexSize, cfg.CaseIndexTTL)
	retrievalSvc := service.NewRetrievalService(linkRepo, pinClient, ledgerClient, caseIndex, logger)
	uploadSvc := service.NewUploadService(pinClient, ledgerClient, retrievalSvc, caseIndex, logger)

	// 7. Мониторинг зависимостей (topologymetrics)
	if cfg.DephealthEnabled {
		dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
			ServiceID:        "access-module",
			Group:            cfg.DephealthGroup,
			PinAPIURL:        cfg.PinAPIURL,
			PinHealthPath:    cfg.PinHealthPath,
			LedgerURL:        cfg.LedgerURL,
			LedgerHealthPath: cfg.LedgerHealthPath,
			CheckInterval:    cfg.DephealthCheckInterval,
			IsEntry:          cfg.DephealthIsEntry,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания мониторинга зависимостей", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := dephealthSvc.Start(ctx); err != nil {
			logger.Error("Ошибка запуска мониторинга зависимостей", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer dephealthSvc.Stop()
	} else {
		logger.Info("Мониторинг зависимостей отключён (AM_DEPHEALTH_ENABLED=false)")
	}

	// 8. JWT middleware (JWKS судебного IdP)
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWKSURL,
		cfg.CACertPath,
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
	defer jwtAuth.Close()

	// 9. Health и API handlers
	idpChecker, err := middleware.NewIdPReadinessChecker(cfg.JWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания IdP readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(repository.NewReadinessChecker(db), idpChecker)
	apiHandler := handlers.NewAPIHandler(healthHandler, uploadSvc, retrievalSvc, linkRepo, logger)

	// 10. HTTP-сервер с middleware (metrics раньше logging)
	srv := server.New(cfg, logger, apiHandler, jwtAuth,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 11. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Access Module остановлен")
}
