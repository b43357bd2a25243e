// Пакет model — доменные модели Access Module.
// DocumentRecord — запись выданной подписанной ссылки в кэше ссылок.
package model

import "time"

// DocumentRecord — запись кэша ссылок для одного CID.
// Кэш содержит не более одной записи на CID (upsert-семантика):
// повторная выдача ссылки заменяет запись, а не добавляет новую.
type DocumentRecord struct {
	// CID — content identifier файла в хранилище (первичный ключ кэша)
	CID string `json:"cid"`
	// DownloadURL — текущая подписанная ссылка; заменяется при перевыпуске
	DownloadURL string `json:"download_url"`
	// IssuedAt — время выдачи ссылки (секундная точность, UTC)
	IssuedAt time.Time `json:"issued_at"`
	// TTLSeconds — срок действия ссылки в секундах (политика выдачи)
	TTLSeconds int64 `json:"ttl_seconds"`
	// DisplayName — человекочитаемое имя файла (best-effort,
	// по умолчанию производное от CID)
	DisplayName string `json:"display_name"`
	// ContentType — MIME-тип файла (best-effort, по умолчанию "unknown")
	ContentType string `json:"content_type"`
}

// ExpiresAt возвращает момент истечения ссылки: IssuedAt + TTLSeconds.
func (r *DocumentRecord) ExpiresAt() time.Time {
	return r.IssuedAt.Add(time.Duration(r.TTLSeconds) * time.Second)
}

// CaseDocument — документ дела из внешнего индекса документов
// (case ledger backend). Содержит только метаданные регистрации,
// подписанная ссылка выдаётся отдельно и по требованию.
type CaseDocument struct {
	// CID — content identifier документа
	CID string `json:"cid"`
	// Name — имя документа, зарегистрированное в ledger
	Name string `json:"name"`
	// Timestamp — время регистрации документа в деле
	Timestamp time.Time `json:"timestamp"`
}

// UploadReceipt — результат успешной загрузки файла в хранилище.
type UploadReceipt struct {
	// ReceiptID — внутренний идентификатор операции загрузки
	ReceiptID string `json:"receipt_id"`
	// FileID — идентификатор файла, назначенный хранилищем
	FileID string `json:"file_id"`
	// CID — content identifier загруженного файла
	CID string `json:"cid"`
	// Name — имя файла в хранилище
	Name string `json:"name"`
	// Size — размер файла в байтах (по данным хранилища)
	Size int64 `json:"size"`
	// CaseID — дело, к которому привязан документ
	CaseID string `json:"case_id"`
	// UploadedAt — время завершения загрузки
	UploadedAt time.Time `json:"uploaded_at"`
}
