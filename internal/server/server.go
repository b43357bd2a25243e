// Пакет server — HTTP-сервер Access Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/judicore/casevault/access-module/internal/api/handlers"
	"github.com/judicore/casevault/access-module/internal/api/middleware"
	"github.com/judicore/casevault/access-module/internal/config"
)

// Server — HTTP-сервер Access Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// auth — JWT middleware; nil отключает аутентификацию (только тесты).
// middlewares — дополнительные middleware (metrics, logging), добавляются
// в порядке переданного среза и действуют на все маршруты.
func New(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler, auth *middleware.JWTAuth, middlewares ...func(http.Handler) http.Handler) *Server {
	router := chi.NewRouter()

	for _, mw := range middlewares {
		router.Use(mw)
	}

	// Публичные маршруты: probes и метрики без аутентификации
	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Get("/metrics", api.GetMetrics)

	// API маршруты под JWT
	router.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Middleware())
		}

		// Загрузка документов — сторона защиты и экспертиза
		r.With(middleware.RequireRole(middleware.RoleLawyer, middleware.RoleForensic)).
			Post("/documents", api.UploadDocument)

		// Список документов дела — только судья
		r.With(middleware.RequireRole(middleware.RoleJudge)).
			Get("/cases/{case_id}/documents", api.ListCaseDocuments)

		// Выдача и перевыпуск ссылок — роли с доступом к содержимому
		linkIssuers := middleware.RequireRole(
			middleware.RoleJudge, middleware.RoleLawyer, middleware.RoleForensic,
		)
		r.With(linkIssuers).Post("/links/{cid}", api.RetrieveLink)
		r.With(linkIssuers).Post("/links/{cid}/regenerate", api.RegenerateLink)

		// Личный кэш ссылок и credential — любой аутентифицированный участник
		r.Get("/links", api.ListLinks)
		r.Delete("/links/{cid}", api.RemoveLink)
		r.Delete("/links", api.ClearLinks)
		r.Put("/credential", api.SaveCredential)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Handler возвращает корневой http.Handler сервера (для httptest).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
