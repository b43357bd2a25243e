package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/judicore/casevault/access-module/internal/domain/model"
)

// credentialKey — ключ credential хранилища в session_kv.
const credentialKey = "pin_credential"

// SQLiteLinkRepository — реализация LinkRepository и CredentialStore
// поверх SQLite. Каждая мутация выполняется в транзакции: при сбое
// кэш остаётся в состоянии до вызова.
type SQLiteLinkRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLinkRepository создаёт репозиторий кэша ссылок.
func NewSQLiteLinkRepository(db *sql.DB, logger *slog.Logger) *SQLiteLinkRepository {
	return &SQLiteLinkRepository{
		db:     db,
		logger: logger.With(slog.String("component", "link_repository")),
	}
}

// Upsert вставляет запись или заменяет существующую с тем же CID.
// Новая запись получает позицию MAX(position)+1 и оказывается первой
// в порядке обхода; замена обновляет поля, не трогая позицию.
func (r *SQLiteLinkRepository) Upsert(ctx context.Context, record *model.DocumentRecord) error {
	const query = `
		INSERT INTO link_cache (cid, download_url, issued_at, ttl_seconds, display_name, content_type, position)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM link_cache))
		ON CONFLICT(cid) DO UPDATE SET
			download_url = excluded.download_url,
			issued_at    = excluded.issued_at,
			ttl_seconds  = excluded.ttl_seconds,
			display_name = excluded.display_name,
			content_type = excluded.content_type`

	_, err := r.db.ExecContext(ctx, query,
		record.CID,
		record.DownloadURL,
		record.IssuedAt.Unix(),
		record.TTLSeconds,
		record.DisplayName,
		record.ContentType,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи в кэш ссылок: %w", err)
	}

	r.logger.Debug("Запись кэша обновлена",
		slog.String("cid", record.CID),
	)
	return nil
}

// GetByCID возвращает запись по CID или ErrNotFound.
func (r *SQLiteLinkRepository) GetByCID(ctx context.Context, cid string) (*model.DocumentRecord, error) {
	const query = `
		SELECT cid, download_url, issued_at, ttl_seconds, display_name, content_type
		FROM link_cache
		WHERE cid = ?`

	row := r.db.QueryRowContext(ctx, query, cid)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения кэша ссылок: %w", err)
	}
	return record, nil
}

// All возвращает все записи кэша, самые свежие первыми.
func (r *SQLiteLinkRepository) All(ctx context.Context) ([]model.DocumentRecord, error) {
	const query = `
		SELECT cid, download_url, issued_at, ttl_seconds, display_name, content_type
		FROM link_cache
		ORDER BY position DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения кэша ссылок: %w", err)
	}
	defer rows.Close()

	records := make([]model.DocumentRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения кэша ссылок: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения кэша ссылок: %w", err)
	}
	return records, nil
}

// Remove удаляет запись по CID. Отсутствие записи не ошибка.
func (r *SQLiteLinkRepository) Remove(ctx context.Context, cid string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM link_cache WHERE cid = ?`, cid)
	if err != nil {
		return fmt.Errorf("ошибка удаления из кэша ссылок: %w", err)
	}
	return nil
}

// Clear удаляет все записи кэша.
func (r *SQLiteLinkRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM link_cache`)
	if err != nil {
		return fmt.Errorf("ошибка очистки кэша ссылок: %w", err)
	}
	r.logger.Debug("Кэш ссылок очищен")
	return nil
}

// SaveCredential сохраняет credential хранилища, перезаписывая предыдущий.
func (r *SQLiteLinkRepository) SaveCredential(ctx context.Context, credential string) error {
	const query = `
		INSERT INTO session_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	if _, err := r.db.ExecContext(ctx, query, credentialKey, credential); err != nil {
		return fmt.Errorf("ошибка сохранения credential: %w", err)
	}
	return nil
}

// Credential возвращает сохранённый credential или ErrNotFound.
func (r *SQLiteLinkRepository) Credential(ctx context.Context) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM session_kv WHERE key = ?`, credentialKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения credential: %w", err)
	}
	return value, nil
}

// scanner — общий интерфейс *sql.Row и *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord читает строку link_cache в DocumentRecord.
// issued_at хранится как unix-секунды, восстанавливается в UTC.
func scanRecord(s scanner) (*model.DocumentRecord, error) {
	var record model.DocumentRecord
	var issuedAt int64

	err := s.Scan(
		&record.CID,
		&record.DownloadURL,
		&issuedAt,
		&record.TTLSeconds,
		&record.DisplayName,
		&record.ContentType,
	)
	if err != nil {
		return nil, err
	}

	record.IssuedAt = time.Unix(issuedAt, 0).UTC()
	return &record, nil
}
