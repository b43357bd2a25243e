// documents.go — обработчики загрузки документов и списков документов дел.
// POST /api/v1/documents — загрузка документа дела (lawyer, forensic_expert)
// GET /api/v1/cases/{case_id}/documents — документы дела (judge)
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	apierrors "github.com/judicore/casevault/access-module/internal/api/errors"
	"github.com/judicore/casevault/access-module/internal/api/middleware"
	"github.com/judicore/casevault/access-module/internal/service"
)

// uploadStatus — статус необязательного шага pipeline в ответе.
const (
	stepOK      = "ok"
	stepFailed  = "failed"
	stepSkipped = "skipped"
)

// uploadResponse — ответ на загрузку документа.
// Статусы шагов отражают частичный успех: документ загружен и получил
// CID, но регистрация в реестре или выдача ссылки могли не пройти.
type uploadResponse struct {
	Message      string              `json:"message"`
	ReceiptID    string              `json:"receipt_id"`
	CID          string              `json:"cid"`
	FileID       string              `json:"file_id"`
	Name         string              `json:"name"`
	Size         int64               `json:"size"`
	CaseID       string              `json:"case_id"`
	LedgerStatus string              `json:"ledger_status"`
	TxHash       string              `json:"tx_hash,omitempty"`
	LedgerError  string              `json:"ledger_error,omitempty"`
	GroupStatus  string              `json:"group_status"`
	GroupError   string              `json:"group_error,omitempty"`
	LinkStatus   string              `json:"link_status"`
	Link         *service.CachedLink `json:"link,omitempty"`
	LinkError    string              `json:"link_error,omitempty"`
}

// UploadDocument — загрузка документа дела.
// Multipart form: file (обязательно), case_id (обязательно), name (опционально).
func (h *APIHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	// Запас поверх лимита файла на остальные поля формы
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadSize+1<<20)

	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apierrors.FileTooLarge(w, service.ErrFileTooLarge.Error())
			return
		}
		apierrors.ValidationError(w, "Некорректная multipart форма: "+err.Error())
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	caseID := r.FormValue("case_id")
	if caseID == "" {
		apierrors.ValidationError(w, "Поле case_id обязательно")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer file.Close()

	if header.Size > service.MaxUploadSize {
		apierrors.FileTooLarge(w, service.ErrFileTooLarge.Error()+
			": получено "+humanize.IBytes(uint64(header.Size)))
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	outcome, err := h.uploads.Upload(r.Context(), service.UploadParams{
		CaseID:      caseID,
		DisplayName: name,
		Credential:  h.credentialFrom(r.Context(), r),
		LedgerToken: middleware.TokenFromContext(r.Context()),
		Content:     file,
		Size:        header.Size,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := uploadResponse{
		Message:      "Документ загружен",
		ReceiptID:    outcome.Receipt.ReceiptID,
		CID:          outcome.Receipt.CID,
		FileID:       outcome.Receipt.FileID,
		Name:         outcome.Receipt.Name,
		Size:         outcome.Receipt.Size,
		CaseID:       outcome.Receipt.CaseID,
		LedgerStatus: stepOK,
		GroupStatus:  stepOK,
		LinkStatus:   stepOK,
	}

	switch {
	case outcome.LedgerErr != nil:
		resp.LedgerStatus = stepFailed
		resp.LedgerError = outcome.LedgerErr.Error()
		resp.Message = "Документ загружен, но не зарегистрирован в реестре"
	case outcome.LedgerResult != nil:
		resp.TxHash = outcome.LedgerResult.TxHash
	}

	switch {
	case outcome.GroupSkipped:
		resp.GroupStatus = stepSkipped
	case outcome.GroupErr != nil:
		resp.GroupStatus = stepFailed
		resp.GroupError = outcome.GroupErr.Error()
	}

	if outcome.IssueErr != nil {
		resp.LinkStatus = stepFailed
		resp.LinkError = outcome.IssueErr.Error()
	} else {
		resp.Link = outcome.Record
	}

	writeJSON(w, http.StatusCreated, resp)
}

// caseDocumentsResponse — ответ на запрос документов дела.
type caseDocumentsResponse struct {
	CaseID    string                     `json:"case_id"`
	Documents []service.CaseDocumentView `json:"documents"`
}

// ListCaseDocuments — документы дела из реестра со статусом
// локального кэша ссылок. Доступно только судье.
func (h *APIHandler) ListCaseDocuments(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "case_id")

	views, err := h.retrieval.ListForCase(r.Context(), middleware.TokenFromContext(r.Context()), caseID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Debug("Список документов дела отдан",
		slog.String("case_id", caseID),
		slog.Int("count", len(views)),
	)

	writeJSON(w, http.StatusOK, caseDocumentsResponse{
		CaseID:    caseID,
		Documents: views,
	})
}
