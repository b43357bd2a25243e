// upload.go — сервис загрузки документов дела.
// Pipeline: загрузка в хранилище → CID → группа документов (best-effort) →
// регистрация в реестре дела → выдача подписанной ссылки → кэш.
// Загрузка в хранилище — единственный фатальный шаг: после получения CID
// сбои последующих шагов дают частичный успех с детализацией в ответе.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/judicore/casevault/access-module/internal/domain/model"
	"github.com/judicore/casevault/access-module/internal/ledgerclient"
	"github.com/judicore/casevault/access-module/internal/pinclient"
)

// MaxUploadSize — предельный размер загружаемого документа.
const MaxUploadSize = 10 << 20

// ErrFileTooLarge — документ превышает предельный размер.
var ErrFileTooLarge = fmt.Errorf("размер файла превышает предел %s", humanize.IBytes(MaxUploadSize))

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "am_uploads_total",
		Help: "Общее количество загрузок документов (по статусу).",
	}, []string{"status"})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "am_upload_duration_seconds",
		Help:    "Длительность полного pipeline загрузки документа.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "am_upload_bytes_total",
		Help: "Общее количество загруженных байт.",
	})

	ledgerRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "am_ledger_records_total",
		Help: "Общее количество регистраций документов в реестре (по статусу).",
	}, []string{"status"})
)

// Uploader — загрузка файлов в хранилище и привязка к группе.
type Uploader interface {
	Upload(ctx context.Context, credential, name string, content io.Reader) (*pinclient.UploadResult, error)
	AddToGroup(ctx context.Context, credential, fileID string) error
	GroupsEnabled() bool
}

// LedgerRecorder — регистрация документов в реестре дела.
type LedgerRecorder interface {
	RecordDocument(ctx context.Context, token, caseID, cid string) (*ledgerclient.RecordResult, error)
}

// UploadParams — входные данные загрузки документа.
type UploadParams struct {
	// CaseID — идентификатор дела, обязателен
	CaseID string
	// DisplayName — имя документа (пустая строка допустима)
	DisplayName string
	// Credential — credential хранилища
	Credential string
	// LedgerToken — JWT пользователя для реестра
	LedgerToken string
	// Content — содержимое документа
	Content io.Reader
	// Size — размер содержимого в байтах
	Size int64
}

// UploadOutcome — результат pipeline загрузки.
// Ненулевые поля *Err означают частичный успех: документ загружен,
// но соответствующий шаг не выполнен.
type UploadOutcome struct {
	// Receipt — квитанция загрузки
	Receipt model.UploadReceipt
	// Record — запись кэша ссылок, nil при сбое выдачи
	Record *CachedLink
	// LedgerResult — результат регистрации в реестре, nil при сбое
	LedgerResult *ledgerclient.RecordResult
	// LedgerErr — сбой регистрации в реестре
	LedgerErr error
	// GroupErr — сбой добавления в группу документов
	GroupErr error
	// GroupSkipped — группы не сконфигурированы, шаг пропущен
	GroupSkipped bool
	// IssueErr — сбой выдачи подписанной ссылки
	IssueErr error
}

// UploadService — сервис загрузки документов дела.
type UploadService struct {
	pin       Uploader
	ledger    LedgerRecorder
	retrieval *RetrievalService
	caseIndex *CaseIndexService
	logger    *slog.Logger
}

// NewUploadService создаёт сервис загрузки документов.
func NewUploadService(
	pin Uploader,
	ledger LedgerRecorder,
	retrieval *RetrievalService,
	caseIndex *CaseIndexService,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		pin:       pin,
		ledger:    ledger,
		retrieval: retrieval,
		caseIndex: caseIndex,
		logger:    logger.With(slog.String("component", "upload_service")),
	}
}

// Upload выполняет полный pipeline загрузки документа дела.
//
// Pipeline:
//  1. Валидация: дело, credential, размер
//  2. Загрузка в хранилище → CID (фатально при сбое)
//  3. Добавление в группу документов (best-effort)
//  4. Регистрация в реестре дела (частичный успех при сбое)
//  5. Выдача подписанной ссылки и запись в кэш (частичный успех при
//     сбое выдачи, фатально при сбое кэша)
//  6. Инвалидация кэша списка документов дела
func (us *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadOutcome, error) {
	start := time.Now()

	if params.CaseID == "" {
		uploadsTotal.WithLabelValues("validation_error").Inc()
		return nil, fmt.Errorf("%w: пустой идентификатор дела", ErrValidation)
	}
	if params.Credential == "" {
		uploadsTotal.WithLabelValues("no_credential").Inc()
		return nil, ErrNoCredential
	}
	if params.Size > MaxUploadSize {
		uploadsTotal.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: получено %s", ErrFileTooLarge, humanize.IBytes(uint64(params.Size)))
	}

	// 2. Загрузка в хранилище
	result, err := us.pin.Upload(ctx, params.Credential, params.DisplayName, params.Content)
	if err != nil {
		uploadsTotal.WithLabelValues("upload_error").Inc()
		return nil, err
	}

	outcome := &UploadOutcome{
		Receipt: model.UploadReceipt{
			ReceiptID:  uuid.NewString(),
			FileID:     result.FileID,
			CID:        result.CID,
			Name:       result.Name,
			Size:       result.Size,
			CaseID:     params.CaseID,
			UploadedAt: time.Now().UTC(),
		},
	}

	// 3. Группа документов: сбой не прерывает pipeline
	if !us.pin.GroupsEnabled() {
		outcome.GroupSkipped = true
	} else {
		if err := us.pin.AddToGroup(ctx, params.Credential, result.FileID); err != nil {
			us.logger.Warn("Файл загружен, но не добавлен в группу документов",
				slog.String("cid", result.CID),
				slog.String("file_id", result.FileID),
				slog.String("error", err.Error()),
			)
			outcome.GroupErr = err
		}
	}

	// 4. Регистрация в реестре: сбой даёт частичный успех
	ledgerResult, err := us.ledger.RecordDocument(ctx, params.LedgerToken, params.CaseID, result.CID)
	if err != nil {
		us.logger.Error("Документ загружен, но не зарегистрирован в реестре",
			slog.String("case_id", params.CaseID),
			slog.String("cid", result.CID),
			slog.String("error", err.Error()),
		)
		ledgerRecordsTotal.WithLabelValues("error").Inc()
		outcome.LedgerErr = err
	} else {
		ledgerRecordsTotal.WithLabelValues("success").Inc()
		outcome.LedgerResult = ledgerResult
	}

	// 5. Подписанная ссылка: сбой выдачи даёт частичный успех,
	// сбой кэша после успешной выдачи фатален
	record, err := us.retrieval.Retrieve(ctx, result.CID, params.Credential)
	if err != nil {
		var persistErr *PersistenceError
		if errors.As(err, &persistErr) {
			uploadsTotal.WithLabelValues("persistence_error").Inc()
			return nil, err
		}
		us.logger.Warn("Документ загружен, но подписанная ссылка не выдана",
			slog.String("cid", result.CID),
			slog.String("error", err.Error()),
		)
		outcome.IssueErr = err
	} else {
		outcome.Record = record
	}

	// 6. Список документов дела изменился
	us.caseIndex.Invalidate(params.CaseID)

	duration := time.Since(start)
	if outcome.LedgerErr != nil || outcome.IssueErr != nil {
		uploadsTotal.WithLabelValues("partial").Inc()
	} else {
		uploadsTotal.WithLabelValues("success").Inc()
	}
	uploadDuration.Observe(duration.Seconds())
	uploadBytesTotal.Add(float64(result.Size))

	us.logger.Info("Загрузка документа завершена",
		slog.String("case_id", params.CaseID),
		slog.String("cid", result.CID),
		slog.Int64("size", result.Size),
		slog.Duration("duration", duration),
		slog.Bool("ledger_ok", outcome.LedgerErr == nil),
		slog.Bool("link_ok", outcome.IssueErr == nil),
	)

	return outcome, nil
}
