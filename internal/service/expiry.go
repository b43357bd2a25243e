// Пакет service — бизнес-логика Access Module.
// Политика истечения ссылок: чистая функция от записи и текущего
// момента, без обращения к часам и внешним системам.
package service

import (
	"time"

	"github.com/judicore/casevault/access-module/internal/domain/model"
)

// IsExpired сообщает, истекла ли подписанная ссылка к моменту now.
// Ссылка истекает строго после IssuedAt + TTL: в сам граничный момент
// она ещё действительна.
func IsExpired(record *model.DocumentRecord, now time.Time) bool {
	return now.After(record.ExpiresAt())
}
