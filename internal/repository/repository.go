// Пакет repository — персистентный кэш ссылок на SQLite.
// Кэш — дедуплицированный упорядоченный набор записей по CID,
// переживающий перезапуск сервиса. Там же хранится credential
// хранилища, заданный на сессию.
package repository

import (
	"context"
	"errors"

	"github.com/judicore/casevault/access-module/internal/domain/model"
)

// ErrNotFound — запись не найдена в кэше.
var ErrNotFound = errors.New("запись не найдена")

// LinkRepository — интерфейс персистентного кэша ссылок.
type LinkRepository interface {
	// Upsert вставляет запись или заменяет существующую с тем же CID.
	// Новая запись попадает в начало порядка обхода, замена
	// сохраняет позицию существующей записи.
	Upsert(ctx context.Context, record *model.DocumentRecord) error
	// GetByCID возвращает запись по CID или ErrNotFound.
	GetByCID(ctx context.Context, cid string) (*model.DocumentRecord, error)
	// All возвращает все записи, самые свежие первыми.
	All(ctx context.Context) ([]model.DocumentRecord, error)
	// Remove удаляет запись по CID. Отсутствие записи не ошибка.
	Remove(ctx context.Context, cid string) error
	// Clear удаляет все записи.
	Clear(ctx context.Context) error
}

// CredentialStore — хранение credential хранилища между перезапусками.
type CredentialStore interface {
	// SaveCredential сохраняет credential, перезаписывая предыдущий.
	SaveCredential(ctx context.Context, credential string) error
	// Credential возвращает сохранённый credential или ErrNotFound.
	Credential(ctx context.Context) (string, error)
}
