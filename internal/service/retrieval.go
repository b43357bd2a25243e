// retrieval.go — сервис доступа к ссылкам на документы.
// Полный pipeline: credential → выдача подписанной ссылки хранилищем →
// персистентный кэш. Ссылка никогда не перевыпускается молча: expired
// запись остаётся в кэше, пока пользователь явно не запросит
// перевыпуск.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/judicore/casevault/access-module/internal/domain/model"
	"github.com/judicore/casevault/access-module/internal/repository"
)

// Ошибки сервисов.
var (
	// ErrValidation — некорректные входные данные запроса.
	ErrValidation = errors.New("некорректные входные данные")
	// ErrNotFound — запрошенный ресурс отсутствует.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrNoCredential — credential хранилища не передан и не сохранён.
	ErrNoCredential = errors.New("credential хранилища не задан")
)

// PersistenceError — сбой персистентного кэша после успешной
// внешней операции. Отличается от ошибок хранилища: внешний вызов
// прошёл, но результат не удалось зафиксировать локально.
type PersistenceError struct {
	// Op — операция кэша, на которой произошёл сбой
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("сбой кэша ссылок (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Prometheus-метрики выдачи ссылок.
var (
	linksIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "am_links_issued_total",
		Help: "Общее количество выдач подписанных ссылок (по типу и статусу).",
	}, []string{"kind", "status"})

	linkIssueDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "am_link_issue_duration_seconds",
		Help:    "Длительность выдачи подписанной ссылки (включая metadata probe).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	caseListingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "am_case_listings_total",
		Help: "Общее количество запросов списка документов дела (по статусу).",
	}, []string{"status"})
)

// LinkIssuer — выдача подписанных ссылок хранилищем.
type LinkIssuer interface {
	IssueLink(ctx context.Context, credential, cid string) (*model.DocumentRecord, error)
}

// CaseLister — чтение документов дела из реестра.
type CaseLister interface {
	ListCaseDocuments(ctx context.Context, token, caseID string) ([]model.CaseDocument, error)
}

// CachedLink — запись кэша вместе с вычисленным статусом истечения.
type CachedLink struct {
	model.DocumentRecord
	// ExpiresAt — момент истечения подписанной ссылки
	ExpiresAt time.Time `json:"expires_at"`
	// Expired — истекла ли ссылка на момент запроса
	Expired bool `json:"expired"`
}

// CaseDocumentView — документ дела с привязкой к локальному кэшу ссылок.
type CaseDocumentView struct {
	model.CaseDocument
	// Resolved — есть ли для документа запись в кэше ссылок
	Resolved bool `json:"resolved"`
	// Expired — истекла ли кэшированная ссылка (false при Resolved=false)
	Expired bool `json:"expired"`
	// Record — кэшированная запись, nil при Resolved=false
	Record *CachedLink `json:"record,omitempty"`
}

// RetrievalService — сервис доступа к подписанным ссылкам и спискам дел.
type RetrievalService struct {
	links     repository.LinkRepository
	pin       LinkIssuer
	ledger    CaseLister
	caseIndex *CaseIndexService
	logger    *slog.Logger
}

// NewRetrievalService создаёт сервис доступа к ссылкам.
func NewRetrievalService(
	links repository.LinkRepository,
	pin LinkIssuer,
	ledger CaseLister,
	caseIndex *CaseIndexService,
	logger *slog.Logger,
) *RetrievalService {
	return &RetrievalService{
		links:     links,
		pin:       pin,
		ledger:    ledger,
		caseIndex: caseIndex,
		logger:    logger.With(slog.String("component", "retrieval_service")),
	}
}

// Retrieve выдаёт подписанную ссылку на CID и фиксирует её в кэше.
//
// Pipeline:
//  1. Валидация CID и credential (без сетевых вызовов при отказе)
//  2. Выдача подписанной ссылки хранилищем (с metadata probe)
//  3. Отмена контекста после выдачи — поздний ответ отбрасывается
//  4. Upsert в персистентный кэш (дедупликация по CID)
//
// Существующая запись с тем же CID заменяется новой, expired или нет.
func (rs *RetrievalService) Retrieve(ctx context.Context, cid, credential string) (*CachedLink, error) {
	return rs.issue(ctx, cid, credential, "retrieve")
}

// Regenerate перевыпускает подписанную ссылку на CID.
// Семантика идентична Retrieve: отдельная операция нужна, чтобы
// перевыпуск был явным действием пользователя, а не побочным эффектом.
func (rs *RetrievalService) Regenerate(ctx context.Context, cid, credential string) (*CachedLink, error) {
	return rs.issue(ctx, cid, credential, "regenerate")
}

func (rs *RetrievalService) issue(ctx context.Context, cid, credential, kind string) (*CachedLink, error) {
	start := time.Now()

	if cid == "" {
		linksIssuedTotal.WithLabelValues(kind, "validation_error").Inc()
		return nil, fmt.Errorf("%w: пустой CID", ErrValidation)
	}
	if credential == "" {
		linksIssuedTotal.WithLabelValues(kind, "no_credential").Inc()
		return nil, ErrNoCredential
	}

	record, err := rs.pin.IssueLink(ctx, credential, cid)
	if err != nil {
		linksIssuedTotal.WithLabelValues(kind, "issue_error").Inc()
		return nil, err
	}

	// Запрос мог быть отменён, пока хранилище отвечало:
	// поздний результат не фиксируется в кэше
	if ctxErr := ctx.Err(); ctxErr != nil {
		linksIssuedTotal.WithLabelValues(kind, "canceled").Inc()
		return nil, ctxErr
	}

	if err := rs.links.Upsert(ctx, record); err != nil {
		linksIssuedTotal.WithLabelValues(kind, "persistence_error").Inc()
		return nil, &PersistenceError{Op: "upsert", Err: err}
	}

	linksIssuedTotal.WithLabelValues(kind, "success").Inc()
	linkIssueDuration.Observe(time.Since(start).Seconds())

	rs.logger.Info("Подписанная ссылка выдана",
		slog.String("cid", cid),
		slog.String("kind", kind),
		slog.Time("expires_at", record.ExpiresAt()),
	)

	return rs.toCachedLink(record, time.Now()), nil
}

// ListCached возвращает все записи кэша ссылок, самые свежие первыми.
// Expired записи включаются и помечаются, но не удаляются.
func (rs *RetrievalService) ListCached(ctx context.Context) ([]CachedLink, error) {
	records, err := rs.links.All(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "all", Err: err}
	}

	now := time.Now()
	links := make([]CachedLink, 0, len(records))
	for i := range records {
		links = append(links, *rs.toCachedLink(&records[i], now))
	}
	return links, nil
}

// Remove удаляет запись кэша по CID. Сама подписанная ссылка при этом
// не отзывается и остаётся действительной до истечения TTL.
func (rs *RetrievalService) Remove(ctx context.Context, cid string) error {
	if cid == "" {
		return fmt.Errorf("%w: пустой CID", ErrValidation)
	}
	if err := rs.links.Remove(ctx, cid); err != nil {
		return &PersistenceError{Op: "remove", Err: err}
	}
	return nil
}

// Clear удаляет все записи кэша ссылок.
func (rs *RetrievalService) Clear(ctx context.Context) error {
	if err := rs.links.Clear(ctx); err != nil {
		return &PersistenceError{Op: "clear", Err: err}
	}
	rs.logger.Info("Кэш ссылок очищен по запросу пользователя")
	return nil
}

// ListForCase возвращает документы дела из реестра, дополняя каждый
// статусом локального кэша ссылок. Ссылки при этом не выдаются:
// просмотр списка дела не порождает сетевых вызовов к хранилищу.
func (rs *RetrievalService) ListForCase(ctx context.Context, token, caseID string) ([]CaseDocumentView, error) {
	if caseID == "" {
		caseListingsTotal.WithLabelValues("validation_error").Inc()
		return nil, fmt.Errorf("%w: пустой идентификатор дела", ErrValidation)
	}

	documents, ok := rs.caseIndex.Get(caseID)
	if !ok {
		var err error
		documents, err = rs.ledger.ListCaseDocuments(ctx, token, caseID)
		if err != nil {
			caseListingsTotal.WithLabelValues("ledger_error").Inc()
			return nil, err
		}
		rs.caseIndex.Set(caseID, documents)
	}

	now := time.Now()
	views := make([]CaseDocumentView, 0, len(documents))
	for _, doc := range documents {
		view := CaseDocumentView{CaseDocument: doc}

		record, err := rs.links.GetByCID(ctx, doc.CID)
		switch {
		case err == nil:
			view.Resolved = true
			view.Record = rs.toCachedLink(record, now)
			view.Expired = view.Record.Expired
		case errors.Is(err, repository.ErrNotFound):
			// документ без кэшированной ссылки, обычное состояние
		default:
			caseListingsTotal.WithLabelValues("persistence_error").Inc()
			return nil, &PersistenceError{Op: "get_by_cid", Err: err}
		}

		views = append(views, view)
	}

	caseListingsTotal.WithLabelValues("success").Inc()
	return views, nil
}

func (rs *RetrievalService) toCachedLink(record *model.DocumentRecord, now time.Time) *CachedLink {
	return &CachedLink{
		DocumentRecord: *record,
		ExpiresAt:      record.ExpiresAt(),
		Expired:        IsExpired(record, now),
	}
}
