package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"ethmed_go/models"
)

// rawDetectionsTable заменяется целиком после каждого прогона детектора.
var rawDetectionsTable = tableSpec{
	Schema: SchemaRaw,
	Name:   "yolo_detections",
	Columns: []column{
		{"message_id", "BIGINT NOT NULL"},
		{"channel_name", "TEXT NOT NULL"},
		{"image_path", "TEXT NOT NULL"},
		{"image_category", "TEXT"},
		{"total_detections", "INTEGER NOT NULL"},
		{"person_count", "INTEGER NOT NULL"},
		{"product_count", "INTEGER NOT NULL"},
		{"max_confidence", "DOUBLE PRECISION NOT NULL"},
		{"avg_confidence", "DOUBLE PRECISION NOT NULL"},
		{"top_class", "TEXT"},
		{"top_confidence", "DOUBLE PRECISION"},
		{"processing_timestamp", "TIMESTAMPTZ NOT NULL"},
	},
}

// InsertRawMessages дописывает сообщения в сырой слой.
// Повторная загрузка того же сообщения игнорируется (ON CONFLICT DO NOTHING), возвращается число новых строк.
func (db *DB) InsertRawMessages(ctx context.Context, msgs []models.RawMessage) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	tx, err := db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin raw insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw.telegram_messages (
			message_id, channel_name, message_date, message_text, has_media,
			image_path, views, forwards, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id, channel_name) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare raw insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, m := range msgs {
		res, err := stmt.ExecContext(ctx,
			m.MessageID, m.ChannelName, flexTime(m.MessageDate), m.MessageText, m.HasMedia,
			m.ImagePath, m.Views, m.Forwards, flexTime(m.ScrapedAt),
		)
		if err != nil {
			db.logger().Error("[DB ERROR] вставка сырого сообщения", zap.Error(err))
			return 0, fmt.Errorf("insert raw message: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit raw insert: %w", err)
	}
	db.logger().Info("[DB] сырые сообщения загружены",
		zap.Int("received", len(msgs)),
		zap.Int("inserted", inserted))
	return inserted, nil
}

// ListRawMessages возвращает весь сырой слой в порядке загрузки.
func (db *DB) ListRawMessages(ctx context.Context) ([]models.RawMessage, error) {
	rows, err := db.Conn.QueryContext(ctx, `
		SELECT message_id, channel_name, message_date, message_text, has_media,
		       image_path, views, forwards, scraped_at
		FROM raw.telegram_messages
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RawMessage
	for rows.Next() {
		var (
			id, views, forwards      sql.NullInt64
			channel, text, imagePath sql.NullString
			messageDate, scrapedAt   sql.NullTime
			m                        models.RawMessage
		)
		if err := rows.Scan(&id, &channel, &messageDate, &text, &m.HasMedia,
			&imagePath, &views, &forwards, &scrapedAt); err != nil {
			return nil, fmt.Errorf("scan raw message: %w", err)
		}
		m.MessageID, m.Views, m.Forwards = int64Ptr(id), int64Ptr(views), int64Ptr(forwards)
		m.ChannelName, m.MessageText, m.ImagePath = stringPtr(channel), stringPtr(text), stringPtr(imagePath)
		if messageDate.Valid {
			m.MessageDate = models.NewFlexTime(messageDate.Time)
		}
		if scrapedAt.Valid {
			m.ScrapedAt = models.NewFlexTime(scrapedAt.Time)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReplaceRawDetections публикует полный результат одного прогона детектора.
func (db *DB) ReplaceRawDetections(ctx context.Context, records []models.DetectionRecord) error {
	return db.replaceTable(ctx, rawDetectionsTable, len(records), func(i int) []any {
		r := records[i]
		return []any{
			r.MessageID, r.ChannelName, r.ImagePath, r.ImageCategory, r.TotalDetections,
			r.PersonCount, r.ProductCount, r.MaxConfidence, r.AvgConfidence, r.TopClass,
			r.TopConfidence, r.ProcessingTimestamp,
		}
	})
}

// ListRawDetections читает последний опубликованный прогон детектора.
// Если детектор ещё не запускался, возвращается пустой список.
func (db *DB) ListRawDetections(ctx context.Context) ([]models.DetectionRecord, error) {
	rows, err := db.Conn.QueryContext(ctx, `
		SELECT message_id, channel_name, image_path, image_category, total_detections,
		       person_count, product_count, max_confidence, avg_confidence, top_class,
		       top_confidence, processing_timestamp
		FROM raw.yolo_detections
		ORDER BY message_id, channel_name`)
	if isUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DetectionRecord
	for rows.Next() {
		var (
			r                  models.DetectionRecord
			category, topClass sql.NullString
			topConfidence      sql.NullFloat64
		)
		if err := rows.Scan(&r.MessageID, &r.ChannelName, &r.ImagePath, &category,
			&r.TotalDetections, &r.PersonCount, &r.ProductCount, &r.MaxConfidence,
			&r.AvgConfidence, &topClass, &topConfidence, &r.ProcessingTimestamp); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		r.ImageCategory, r.TopClass = stringPtr(category), stringPtr(topClass)
		r.TopConfidence = floatPtr(topConfidence)
		r.ProcessingTimestamp = r.ProcessingTimestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func flexTime(t *models.FlexTime) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Time
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
