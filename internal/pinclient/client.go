// Пакет pinclient — HTTP-клиент хранилища контента (private pinning service).
// Загрузка файлов в приватную сеть, выдача подписанных ссылок с TTL,
// best-effort metadata probe, добавление файлов в группу документов.
// Credential хранилища — непрозрачный bearer token, клиент его не
// интерпретирует, только пробрасывает.
package pinclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/judicore/casevault/access-module/internal/domain/model"
)

// UploadError — хранилище отклонило или не смогло принять загрузку.
type UploadError struct {
	// StatusCode — HTTP-статус ответа хранилища (0 — сетевая ошибка)
	StatusCode int
	// Reason — причина из error envelope хранилища или текст ошибки
	Reason string
}

func (e *UploadError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("загрузка в хранилище не выполнена: %s", e.Reason)
	}
	return fmt.Sprintf("хранилище отклонило загрузку (статус %d): %s", e.StatusCode, e.Reason)
}

// IssuanceError — запрос подписанной ссылки не выполнен
// или ответ не содержит пригодного URL.
type IssuanceError struct {
	// StatusCode — HTTP-статус ответа хранилища (0 — сетевая ошибка)
	StatusCode int
	// Reason — причина из error envelope хранилища или текст ошибки
	Reason string
}

func (e *IssuanceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("выдача подписанной ссылки не выполнена: %s", e.Reason)
	}
	return fmt.Sprintf("хранилище отклонило выдачу ссылки (статус %d): %s", e.StatusCode, e.Reason)
}

// UploadResult — ответ хранилища на успешную загрузку.
type UploadResult struct {
	// FileID — идентификатор файла, назначенный хранилищем
	FileID string
	// CID — content identifier загруженного файла
	CID string
	// Name — имя файла в хранилище
	Name string
	// Size — размер файла по данным хранилища
	Size int64
}

// Config — параметры клиента хранилища.
type Config struct {
	// APIURL — базовый URL API (подписанные ссылки, группы)
	APIURL string
	// UploadsURL — базовый URL upload endpoint
	UploadsURL string
	// GatewayURL — базовый URL выделенного gateway
	GatewayURL string
	// GroupID — UUID группы документов (пустая строка — группы отключены)
	GroupID string
	// TTLSeconds — срок действия подписанной ссылки
	TTLSeconds int64
	// Timeout — таймаут запросов к API
	Timeout time.Duration
	// UploadTimeout — таймаут загрузки файла
	UploadTimeout time.Duration
	// ProbeTimeout — таймаут metadata probe
	ProbeTimeout time.Duration
	// CACertPath — CA-сертификат для TLS (пустая строка — стандартный пул)
	CACertPath string
}

// Client — HTTP-клиент хранилища контента.
type Client struct {
	httpClient   *http.Client
	uploadClient *http.Client
	cfg          Config
	logger       *slog.Logger
}

// New создаёт клиент хранилища.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if cfg.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата хранилища: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат хранилища добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.UploadsURL = strings.TrimRight(cfg.UploadsURL, "/")
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")

	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		uploadClient: &http.Client{Timeout: cfg.UploadTimeout, Transport: transport},
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "pin_client")),
	}, nil
}

// uploadEnvelope — ответ upload endpoint: {"data": {...}}.
type uploadEnvelope struct {
	Data struct {
		ID   string `json:"id"`
		CID  string `json:"cid"`
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"data"`
}

// Upload загружает файл в приватную сеть хранилища и возвращает CID.
//
// Формат запроса: POST {uploads}/v3/files, multipart form:
// file (содержимое), network=private, name (опционально).
// Ограничение размера файла — precondition вызывающего кода,
// клиент его не проверяет.
func (c *Client) Upload(ctx context.Context, credential, name string, content io.Reader) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	filename := name
	if filename == "" {
		filename = "document"
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("формирование multipart: %w", err)
	}
	if _, err = io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("чтение содержимого файла: %w", err)
	}
	if err = mw.WriteField("network", "private"); err != nil {
		return nil, fmt.Errorf("формирование multipart: %w", err)
	}
	if name != "" {
		if err = mw.WriteField("name", name); err != nil {
			return nil, fmt.Errorf("формирование multipart: %w", err)
		}
	}
	if err = mw.Close(); err != nil {
		return nil, fmt.Errorf("формирование multipart: %w", err)
	}

	reqURL := c.cfg.UploadsURL + "/v3/files"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.uploadClient.Do(req) //nolint:gosec // G704: URL из конфигурации хранилища
	if err != nil {
		return nil, &UploadError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UploadError{
			StatusCode: resp.StatusCode,
			Reason:     readErrorReason(resp.Body),
		}
	}

	var envelope uploadEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &UploadError{StatusCode: resp.StatusCode, Reason: "некорректный JSON в ответе: " + err.Error()}
	}

	// Строгий парсер: CID и file id обязательны, без них результат бесполезен
	if envelope.Data.CID == "" || envelope.Data.ID == "" {
		return nil, &UploadError{StatusCode: resp.StatusCode, Reason: "ответ хранилища без CID или file id"}
	}

	c.logger.Debug("Файл загружен в хранилище",
		slog.String("cid", envelope.Data.CID),
		slog.String("file_id", envelope.Data.ID),
		slog.Int64("size", envelope.Data.Size),
	)

	return &UploadResult{
		FileID: envelope.Data.ID,
		CID:    envelope.Data.CID,
		Name:   envelope.Data.Name,
		Size:   envelope.Data.Size,
	}, nil
}

// linkRequest — тело запроса выдачи подписанной ссылки.
type linkRequest struct {
	URL     string `json:"url"`
	Expires int64  `json:"expires"`
	Date    int64  `json:"date"`
	Method  string `json:"method"`
}

// linkEnvelope — ответ endpoint выдачи ссылки: {"data": "<signed url>"}.
type linkEnvelope struct {
	Data string `json:"data"`
}

// IssueLink выдаёт подписанную ссылку на CID с фиксированным TTL.
//
// Формат запроса: POST {api}/v3/files/private/download_link,
// тело {url: {gateway}/files/{cid}, expires, date, method: GET}.
// После успешной выдачи выполняется best-effort metadata probe (HEAD)
// для display name и content type; ошибка probe никогда не приводит
// к ошибке выдачи — используются значения по умолчанию.
func (c *Client) IssueLink(ctx context.Context, credential, cid string) (*model.DocumentRecord, error) {
	gatewayURL := fmt.Sprintf("%s/files/%s", c.cfg.GatewayURL, cid)

	// Секундная точность: та же метка уходит хранилищу и в запись кэша
	now := time.Unix(time.Now().Unix(), 0).UTC()

	payload, err := json.Marshal(linkRequest{
		URL:     gatewayURL,
		Expires: c.cfg.TTLSeconds,
		Date:    now.Unix(),
		Method:  http.MethodGet,
	})
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса выдачи ссылки: %w", err)
	}

	reqURL := c.cfg.APIURL + "/v3/files/private/download_link"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("создание запроса IssueLink: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации хранилища
	if err != nil {
		return nil, &IssuanceError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &IssuanceError{
			StatusCode: resp.StatusCode,
			Reason:     readErrorReason(resp.Body),
		}
	}

	var envelope linkEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &IssuanceError{StatusCode: resp.StatusCode, Reason: "некорректный JSON в ответе: " + err.Error()}
	}
	if envelope.Data == "" {
		return nil, &IssuanceError{StatusCode: resp.StatusCode, Reason: "ответ хранилища без подписанной ссылки"}
	}

	displayName, contentType := c.probeMetadata(ctx, cid, envelope.Data)

	return &model.DocumentRecord{
		CID:         cid,
		DownloadURL: envelope.Data,
		IssuedAt:    now,
		TTLSeconds:  c.cfg.TTLSeconds,
		DisplayName: displayName,
		ContentType: contentType,
	}, nil
}

// AddToGroup добавляет загруженный файл в группу документов.
// Формат запроса: PUT {api}/v3/groups/private/{group_id}/ids/{file_id}.
// Возвращает ошибку, если группы не сконфигурированы.
func (c *Client) AddToGroup(ctx context.Context, credential, fileID string) error {
	if c.cfg.GroupID == "" {
		return fmt.Errorf("группа документов не сконфигурирована")
	}

	reqURL := fmt.Sprintf("%s/v3/groups/private/%s/ids/%s", c.cfg.APIURL, c.cfg.GroupID, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("создание запроса AddToGroup: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации хранилища
	if err != nil {
		return fmt.Errorf("добавление файла %s в группу: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("хранилище отклонило добавление в группу (статус %d): %s",
			resp.StatusCode, readErrorReason(resp.Body))
	}
	return nil
}

// GroupsEnabled сообщает, сконфигурировано ли добавление в группу.
func (c *Client) GroupsEnabled() bool {
	return c.cfg.GroupID != ""
}

// probeMetadata выполняет HEAD-запрос по подписанной ссылке и извлекает
// content type и имя файла из Content-Disposition. Любая ошибка —
// молчаливый fallback к значениям по умолчанию.
func (c *Client) probeMetadata(ctx context.Context, cid, signedURL string) (displayName, contentType string) {
	displayName = DefaultDisplayName(cid)
	contentType = DefaultContentType

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, signedURL, http.NoBody)
	if err != nil {
		return displayName, contentType
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: подписанная ссылка от хранилища
	if err != nil {
		c.logger.Debug("Metadata probe не выполнен",
			slog.String("cid", cid),
			slog.String("error", err.Error()),
		)
		return displayName, contentType
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		contentType = ct
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn := params["filename"]; fn != "" {
				displayName = fn
			}
		}
	}
	return displayName, contentType
}

// DefaultContentType — MIME-тип по умолчанию, когда probe не дал результата.
const DefaultContentType = "unknown"

// DefaultDisplayName возвращает имя по умолчанию, производное от CID.
func DefaultDisplayName(cid string) string {
	if len(cid) > 10 {
		cid = cid[:10]
	}
	return "file-" + cid
}

// maxErrorBody — предел чтения тела ответа с ошибкой.
const maxErrorBody = 4096

// readErrorReason извлекает причину ошибки из ответа хранилища.
// Форматы ответов непостоянны: {"error":{"reason":...}}, {"error":"..."},
// {"message":"..."} или произвольный текст.
func readErrorReason(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(body) == 0 {
		return "ответ без тела"
	}

	var structured struct {
		Error struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		switch {
		case structured.Error.Reason != "":
			return structured.Error.Reason
		case structured.Error.Message != "":
			return structured.Error.Message
		case structured.Message != "":
			return structured.Message
		}
	}

	// error может быть и строкой
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}

	return strings.TrimSpace(string(body))
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
