package telegram

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gotd/td/session"
	"go.uber.org/zap"
)

// DBSessionStorage хранит сессию Telegram в таблице pipeline.telegram_session, одна запись на номер.
// Ключ — номер телефона: сессия принадлежит аккаунту, а не процессу, поэтому её переживают
// рестарты и её же видят `serve` и `login`; смена PHONE_NUMBER требует нового входа.
type DBSessionStorage struct {
	DB    *sql.DB
	Phone string
	Log   *zap.Logger
}

// LoadSession загружает сессию из БД.
func (s *DBSessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	if s == nil || s.DB == nil {
		return nil, session.ErrNotFound
	}

	var data string
	err := s.DB.QueryRowContext(ctx, "SELECT data_json FROM pipeline.telegram_session WHERE phone = $1", s.Phone).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		s.logger().Error("[SESSION] ошибка чтения сессии", zap.Error(err))
		return nil, err
	}
	return []byte(data), nil
}

// StoreSession сохраняет сессию в БД.
func (s *DBSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	if s == nil || s.DB == nil {
		return session.ErrNotFound
	}
	// Обновляем существующую запись сессии, чтобы не создавать дубликаты
	_, err := s.DB.ExecContext(
		ctx,
		"INSERT INTO pipeline.telegram_session (phone, data_json) VALUES ($1, $2) "+
			"ON CONFLICT (phone) DO UPDATE SET data_json = EXCLUDED.data_json, date_time = NOW()",
		s.Phone,
		string(data),
	)
	if err != nil {
		s.logger().Error("[SESSION] ошибка сохранения сессии", zap.Error(err))
		return err
	}
	return nil
}

// Clear удаляет сессию номера. Следующий запуск клиента потребует входа по коду.
func (s *DBSessionStorage) Clear(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return nil
	}
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM pipeline.telegram_session WHERE phone = $1", s.Phone); err != nil {
		s.logger().Error("[SESSION] ошибка удаления сессии", zap.Error(err))
		return err
	}
	s.logger().Info("[SESSION] сессия удалена", zap.String("phone", s.Phone))
	return nil
}

func (s *DBSessionStorage) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

var _ session.Storage = (*DBSessionStorage)(nil)
