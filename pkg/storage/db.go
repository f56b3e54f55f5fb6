package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Схемы хранилища: сырые данные, staging, витрины, аналитика и служебные таблицы пайплайна.
const (
	SchemaRaw       = "raw"
	SchemaStaging   = "staging"
	SchemaMarts     = "marts"
	SchemaAnalytics = "analytics"
	SchemaPipeline  = "pipeline"
)

// pqUndefinedTable — код ошибки Postgres для несуществующей таблицы.
const pqUndefinedTable = "42P01"

type DB struct {
	Conn *sql.DB
	Log  *zap.Logger
}

func NewDB(conn *sql.DB, logger *zap.Logger) *DB {
	return &DB{Conn: conn, Log: logger}
}

// Open подключается к Postgres и проверяет соединение.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewDB(conn, logger), nil
}

// Ping проверяет доступность БД для /health.
func (db *DB) Ping(ctx context.Context) error {
	return db.Conn.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.Conn.Close()
}

func (db *DB) logger() *zap.Logger {
	if db.Log == nil {
		return zap.NewNop()
	}
	return db.Log
}

// schemaDDL создаёт схемы и таблицы, которые не пересобираются целиком.
// Таблицы витрин создаются при первой замене (см. replaceTable).
var schemaDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS raw`,
	`CREATE SCHEMA IF NOT EXISTS staging`,
	`CREATE SCHEMA IF NOT EXISTS marts`,
	`CREATE SCHEMA IF NOT EXISTS analytics`,
	`CREATE SCHEMA IF NOT EXISTS pipeline`,
	`CREATE TABLE IF NOT EXISTS raw.telegram_messages (
		id            BIGSERIAL PRIMARY KEY,
		message_id    BIGINT,
		channel_name  TEXT,
		message_date  TIMESTAMPTZ,
		message_text  TEXT,
		has_media     BOOLEAN NOT NULL DEFAULT FALSE,
		image_path    TEXT,
		views         BIGINT,
		forwards      BIGINT,
		scraped_at    TIMESTAMPTZ,
		loaded_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS telegram_messages_natural_key
		ON raw.telegram_messages (message_id, channel_name)`,
	`CREATE TABLE IF NOT EXISTS pipeline.runs (
		run_id         UUID PRIMARY KEY,
		mode           TEXT NOT NULL,
		status         TEXT NOT NULL,
		started_at     TIMESTAMPTZ NOT NULL,
		finished_at    TIMESTAMPTZ,
		failed_stage   TEXT,
		message_facts  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline.stage_runs (
		id           BIGSERIAL PRIMARY KEY,
		run_id       UUID NOT NULL,
		stage        TEXT NOT NULL,
		started_at   TIMESTAMPTZ NOT NULL,
		finished_at  TIMESTAMPTZ NOT NULL,
		duration_ms  BIGINT NOT NULL,
		row_counts   JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline.stage_failures (
		id        BIGSERIAL PRIMARY KEY,
		run_id    UUID NOT NULL,
		stage     TEXT NOT NULL,
		failed_at TIMESTAMPTZ NOT NULL,
		error     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline.telegram_session (
		phone      TEXT PRIMARY KEY,
		data_json  TEXT NOT NULL,
		date_time  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema создаёт недостающие схемы и служебные таблицы.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := db.Conn.ExecContext(ctx, stmt); err != nil {
			db.logger().Error("[DB ERROR] создание схемы", zap.Error(err))
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// isUndefinedTable сообщает, что таблица ещё не создана (пайплайн ни разу не запускался).
func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUndefinedTable
}
