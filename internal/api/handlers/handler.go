// handler.go — основной обработчик API Access Module.
// Объединяет health и бизнес-обработчики, содержит общий маппинг
// ошибок сервисного слоя в error envelope.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/judicore/casevault/access-module/internal/api/errors"
	"github.com/judicore/casevault/access-module/internal/ledgerclient"
	"github.com/judicore/casevault/access-module/internal/pinclient"
	"github.com/judicore/casevault/access-module/internal/repository"
	"github.com/judicore/casevault/access-module/internal/service"
)

// headerStorageToken — заголовок с credential хранилища на один запрос.
const headerStorageToken = "X-Storage-Token"

// APIHandler — основной обработчик API Access Module.
type APIHandler struct {
	health    *HealthHandler
	uploads   *service.UploadService
	retrieval *service.RetrievalService
	creds     repository.CredentialStore
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	uploads *service.UploadService,
	retrieval *service.RetrievalService,
	creds repository.CredentialStore,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		uploads:   uploads,
		retrieval: retrieval,
		creds:     creds,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// credentialFrom определяет credential хранилища для запроса:
// заголовок X-Storage-Token имеет приоритет, иначе берётся
// сохранённый на сессию credential. Пустая строка — credential
// не задан нигде.
func (h *APIHandler) credentialFrom(ctx context.Context, r *http.Request) string {
	if token := r.Header.Get(headerStorageToken); token != "" {
		return token
	}

	stored, err := h.creds.Credential(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			h.logger.Error("Ошибка чтения сохранённого credential",
				slog.String("error", err.Error()),
			)
		}
		return ""
	}
	return stored
}

// writeServiceError маппит ошибку сервисного слоя в error envelope.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	var uploadErr *pinclient.UploadError
	var issueErr *pinclient.IssuanceError
	var ledgerErr *ledgerclient.LedgerError
	var persistErr *service.PersistenceError

	switch {
	case errors.Is(err, service.ErrNoCredential):
		apierrors.ValidationError(w, "Credential хранилища не передан и не сохранён")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.FileTooLarge(w, err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.As(err, &uploadErr):
		apierrors.UploadError(w, uploadErr.Error())
	case errors.As(err, &issueErr):
		apierrors.IssuanceError(w, issueErr.Error())
	case errors.As(err, &ledgerErr):
		apierrors.LedgerError(w, ledgerErr.Error())
	case errors.As(err, &persistErr):
		h.logger.Error("Сбой персистентного кэша",
			slog.String("error", err.Error()),
		)
		apierrors.PersistenceError(w, "Сбой персистентного кэша ссылок")
	default:
		h.logger.Error("Необработанная ошибка сервисного слоя",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервиса")
	}
}
