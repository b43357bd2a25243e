// Пакет ledgerclient — HTTP-клиент реестра дел (case ledger).
// Реестр ведёт привязку документов к делам и журнал транзакций:
// после успешной загрузки файл регистрируется в деле, судья получает
// список документов дела. Аутентификация — пользовательский JWT,
// клиент пробрасывает его как bearer token.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/judicore/casevault/access-module/internal/domain/model"
)

// LedgerError — реестр отклонил запрос или недоступен.
type LedgerError struct {
	// StatusCode — HTTP-статус ответа реестра (0 — сетевая ошибка)
	StatusCode int
	// Reason — причина из ответа реестра или текст ошибки
	Reason string
}

func (e *LedgerError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("запрос к реестру дел не выполнен: %s", e.Reason)
	}
	return fmt.Sprintf("реестр дел отклонил запрос (статус %d): %s", e.StatusCode, e.Reason)
}

// RecordResult — ответ реестра на регистрацию документа.
type RecordResult struct {
	// Message — человекочитаемое подтверждение
	Message string
	// TxHash — хэш транзакции журнала
	TxHash string
}

// Client — HTTP-клиент реестра дел.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New создаёт клиент реестра дел.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.With(slog.String("component", "ledger_client")),
	}
}

// recordRequest — тело запроса регистрации документа.
type recordRequest struct {
	CID string `json:"cid"`
}

// recordResponse — ответ реестра на регистрацию.
type recordResponse struct {
	Message string `json:"message"`
	TxHash  string `json:"txHash"`
}

// RecordDocument регистрирует документ в деле.
// Формат: POST {base}/api/v1/cases/{case_id}/documents, тело {"cid": ...}.
func (c *Client) RecordDocument(ctx context.Context, token, caseID, cid string) (*RecordResult, error) {
	payload, err := json.Marshal(recordRequest{CID: cid})
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса регистрации: %w", err)
	}

	reqURL := fmt.Sprintf("%s/api/v1/cases/%s/documents", c.baseURL, url.PathEscape(caseID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("создание запроса RecordDocument: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, &LedgerError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &LedgerError{
			StatusCode: resp.StatusCode,
			Reason:     readErrorReason(resp.Body),
		}
	}

	var body recordResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &LedgerError{StatusCode: resp.StatusCode, Reason: "некорректный JSON в ответе: " + err.Error()}
	}

	c.logger.Debug("Документ зарегистрирован в реестре",
		slog.String("case_id", caseID),
		slog.String("cid", cid),
		slog.String("tx_hash", body.TxHash),
	)

	return &RecordResult{Message: body.Message, TxHash: body.TxHash}, nil
}

// caseDocumentsResponse — ответ реестра на запрос документов дела.
type caseDocumentsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Files   []struct {
		CID       string    `json:"cid"`
		Name      string    `json:"name"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"files"`
}

// ListCaseDocuments возвращает документы дела из реестра.
// Формат: GET {base}/api/v1/cases/{case_id}/documents.
// Пустое дело — пустой срез, не ошибка.
func (c *Client) ListCaseDocuments(ctx context.Context, token, caseID string) ([]model.CaseDocument, error) {
	reqURL := fmt.Sprintf("%s/api/v1/cases/%s/documents", c.baseURL, url.PathEscape(caseID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса ListCaseDocuments: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, &LedgerError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &LedgerError{
			StatusCode: resp.StatusCode,
			Reason:     readErrorReason(resp.Body),
		}
	}

	var body caseDocumentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &LedgerError{StatusCode: resp.StatusCode, Reason: "некорректный JSON в ответе: " + err.Error()}
	}
	if !body.Success {
		return nil, &LedgerError{StatusCode: resp.StatusCode, Reason: body.Message}
	}

	documents := make([]model.CaseDocument, 0, len(body.Files))
	for _, f := range body.Files {
		documents = append(documents, model.CaseDocument{
			CID:       f.CID,
			Name:      f.Name,
			Timestamp: f.Timestamp,
		})
	}
	return documents, nil
}

// maxErrorBody — предел чтения тела ответа с ошибкой.
const maxErrorBody = 4096

// readErrorReason извлекает причину ошибки из ответа реестра.
func readErrorReason(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(body) == 0 {
		return "ответ без тела"
	}

	var structured struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		switch {
		case structured.Error != "":
			return structured.Error
		case structured.Message != "":
			return structured.Message
		}
	}
	return strings.TrimSpace(string(body))
}
