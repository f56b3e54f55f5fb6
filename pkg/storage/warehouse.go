package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ethmed_go/models"
	"ethmed_go/pkg/transform"
	"ethmed_go/pkg/warehouse"
)

var (
	stagingMessagesTable = tableSpec{
		Schema: SchemaStaging,
		Name:   "stg_telegram_messages",
		Columns: []column{
			{"message_id", "BIGINT NOT NULL"},
			{"channel_name", "TEXT NOT NULL"},
			{"message_date", "TIMESTAMPTZ NOT NULL"},
			{"message_date_only", "DATE NOT NULL"},
			{"message_text", "TEXT"},
			{"message_length", "INTEGER NOT NULL"},
			{"has_media", "BOOLEAN NOT NULL"},
			{"has_image", "BOOLEAN NOT NULL"},
			{"image_path", "TEXT"},
			{"view_count", "BIGINT NOT NULL"},
			{"forward_count", "BIGINT NOT NULL"},
			{"scraped_at", "TIMESTAMPTZ"},
		},
	}
	channelsTable = tableSpec{
		Schema: SchemaMarts,
		Name:   "dim_channels",
		Columns: []column{
			{"channel_key", "INTEGER PRIMARY KEY"},
			{"channel_name", "TEXT NOT NULL UNIQUE"},
			{"channel_type", "TEXT NOT NULL"},
			{"first_post_date", "TIMESTAMPTZ NOT NULL"},
			{"last_post_date", "TIMESTAMPTZ NOT NULL"},
			{"total_posts", "INTEGER NOT NULL"},
			{"total_views", "BIGINT NOT NULL"},
			{"avg_views", "DOUBLE PRECISION NOT NULL"},
			{"posts_with_images", "INTEGER NOT NULL"},
			{"posts_with_media", "INTEGER NOT NULL"},
			{"image_percentage", "DOUBLE PRECISION NOT NULL"},
			{"media_percentage", "DOUBLE PRECISION NOT NULL"},
		},
	}
	datesTable = tableSpec{
		Schema: SchemaMarts,
		Name:   "dim_dates",
		Columns: []column{
			{"date_key", "INTEGER PRIMARY KEY"},
			{"full_date", "DATE NOT NULL"},
			{"year", "INTEGER NOT NULL"},
			{"month", "INTEGER NOT NULL"},
			{"day", "INTEGER NOT NULL"},
			{"quarter", "INTEGER NOT NULL"},
			{"day_of_week", "INTEGER NOT NULL"},
			{"day_name", "TEXT NOT NULL"},
			{"month_name", "TEXT NOT NULL"},
			{"is_weekend", "BOOLEAN NOT NULL"},
			{"iso_week", "INTEGER NOT NULL"},
			{"year_month", "TEXT NOT NULL"},
			{"year_quarter", "TEXT NOT NULL"},
		},
	}
	messageFactsTable = tableSpec{
		Schema: SchemaMarts,
		Name:   "fct_messages",
		Columns: []column{
			{"message_id", "BIGINT NOT NULL"},
			{"channel_name", "TEXT NOT NULL"},
			{"channel_key", "INTEGER"},
			{"date_key", "INTEGER"},
			{"message_date", "TIMESTAMPTZ NOT NULL"},
			{"message_text", "TEXT"},
			{"message_length", "INTEGER NOT NULL"},
			{"view_count", "BIGINT NOT NULL"},
			{"forward_count", "BIGINT NOT NULL"},
			{"has_media", "BOOLEAN NOT NULL"},
			{"has_image", "BOOLEAN NOT NULL"},
			{"image_path", "TEXT"},
		},
		Indexes: []string{"channel_key", "date_key"},
	}
	detectionFactsTable = tableSpec{
		Schema: SchemaAnalytics,
		Name:   "fct_image_detections",
		Columns: []column{
			{"message_id", "BIGINT NOT NULL"},
			{"channel_name", "TEXT NOT NULL"},
			{"channel_key", "INTEGER NOT NULL"},
			{"date_key", "INTEGER"},
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
			{"calculated_category", "TEXT NOT NULL"},
			{"detection_density", "TEXT NOT NULL"},
			{"confidence_level", "TEXT NOT NULL"},
		},
		Indexes: []string{"channel_key"},
	}
)

func stagingLoad(msgs []models.NormalizedMessage) tableLoad {
	return tableLoad{spec: stagingMessagesTable, n: len(msgs), row: func(i int) []any {
		m := msgs[i]
		return []any{
			m.MessageID, m.ChannelName, m.MessageDate, m.MessageDateOnly, m.MessageText,
			m.MessageLength, m.HasMedia, m.HasImage, m.ImagePath, m.ViewCount, m.ForwardCount,
			nullTime(m.ScrapedAt),
		}
	}}
}

func channelsLoad(channels []models.Channel) tableLoad {
	return tableLoad{spec: channelsTable, n: len(channels), row: func(i int) []any {
		c := channels[i]
		return []any{
			c.ChannelKey, c.ChannelName, c.ChannelType, c.FirstPostDate, c.LastPostDate,
			c.TotalPosts, c.TotalViews, c.AvgViews, c.PostsWithImages, c.PostsWithMedia,
			c.ImagePercentage, c.MediaPercentage,
		}
	}}
}

func datesLoad(dates []models.DateDim) tableLoad {
	return tableLoad{spec: datesTable, n: len(dates), row: func(i int) []any {
		d := dates[i]
		return []any{
			d.DateKey, d.FullDate, d.Year, d.Month, d.Day, d.Quarter, d.DayOfWeek,
			d.DayName, d.MonthName, d.IsWeekend, d.ISOWeek, d.YearMonth, d.YearQuarter,
		}
	}}
}

// ReplaceDimensions публикует staging и оба измерения одной транзакцией:
// после сбоя в БД остаются прежние версии всех трёх таблиц.
func (db *DB) ReplaceDimensions(ctx context.Context, msgs []models.NormalizedMessage, channels []models.Channel, dates []models.DateDim) error {
	return db.replaceTables(ctx, stagingLoad(msgs), channelsLoad(channels), datesLoad(dates))
}

func (db *DB) ReplaceMessageFacts(ctx context.Context, facts []models.MessageFact) error {
	return db.replaceTable(ctx, messageFactsTable, len(facts), func(i int) []any {
		f := facts[i]
		return []any{
			f.MessageID, f.ChannelName, f.ChannelKey, f.DateKey, f.MessageDate, f.MessageText,
			f.MessageLength, f.ViewCount, f.ForwardCount, f.HasMedia, f.HasImage, f.ImagePath,
		}
	})
}

func (db *DB) ReplaceDetectionFacts(ctx context.Context, facts []models.ImageDetectionFact) error {
	return db.replaceTable(ctx, detectionFactsTable, len(facts), func(i int) []any {
		f := facts[i]
		return []any{
			f.MessageID, f.ChannelName, f.ChannelKey, f.DateKey, f.ImagePath, f.ImageCategory,
			f.TotalDetections, f.PersonCount, f.ProductCount, f.MaxConfidence, f.AvgConfidence,
			f.TopClass, f.TopConfidence, f.ProcessingTimestamp, f.CalculatedCategory,
			f.DetectionDensity, f.ConfidenceLevel,
		}
	})
}

// LoadCatalog читает опубликованные таблицы в каталог. Таблицы, которых ещё нет, пропускаются.
func (db *DB) LoadCatalog(ctx context.Context, c *warehouse.Catalog) error {
	now := time.Now().UTC()

	channels, err := db.ListChannels(ctx)
	if err != nil && !isUndefinedTable(err) {
		return err
	}
	dates, err := db.ListDates(ctx)
	if err != nil && !isUndefinedTable(err) {
		return err
	}
	facts, err := db.ListMessageFacts(ctx)
	if err != nil && !isUndefinedTable(err) {
		return err
	}
	detections, err := db.ListDetectionFacts(ctx)
	if err != nil && !isUndefinedTable(err) {
		return err
	}
	staging, err := db.ListStagingMessages(ctx)
	if err != nil && !isUndefinedTable(err) {
		return err
	}
	rawDetections, err := db.ListRawDetections(ctx)
	if err != nil {
		return err
	}

	c.Channels.Swap(channels, now)
	c.Dates.Swap(dates, now)
	c.MessageFacts.Swap(facts, now)
	c.DetectionFacts.Swap(detections, now)
	c.Staging.Swap(staging, now)
	c.RawDetections.Swap(rawDetections, now)
	db.logger().Info("[DB] каталог загружен",
		zap.Int("channels", len(channels)),
		zap.Int("dates", len(dates)),
		zap.Int("message_facts", len(facts)),
		zap.Int("detection_facts", len(detections)),
		zap.Int("staging", len(staging)),
		zap.Int("raw_detections", len(rawDetections)))
	return nil
}

func (db *DB) ListStagingMessages(ctx context.Context) ([]models.NormalizedMessage, error) {
	rows, err := db.Conn.QueryContext(ctx, `
		SELECT message_id, channel_name, message_date, message_date_only, message_text,
		       message_length, has_media, has_image, image_path, view_count, forward_count, scraped_at
		FROM staging.stg_telegram_messages
		ORDER BY message_id, channel_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NormalizedMessage
	for rows.Next() {
		var (
			m               models.NormalizedMessage
			text, imagePath sql.NullString
			scrapedAt       sql.NullTime
		)
		if err := rows.Scan(
			&m.MessageID, &m.ChannelName, &m.MessageDate, &m.MessageDateOnly, &text,
			&m.MessageLength, &m.HasMedia, &m.HasImage, &imagePath, &m.ViewCount, &m.ForwardCount, &scrapedAt,
		); err != nil {
			return nil, fmt.Errorf("scan staging message: %w", err)
		}
		m.MessageDate = m.MessageDate.UTC()
		m.MessageDateOnly = transform.DateOnly(m.MessageDateOnly)
		m.MessageText, m.ImagePath = stringPtr(text), stringPtr(imagePath)
		if scrapedAt.Valid {
			m.ScrapedAt = scrapedAt.Time.UTC()
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (db *DB) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := db.Conn.QueryContext(ctx, `
		SELECT channel_key, channel_name, channel_type, first_post_date, last_post_date,
		       total_posts, total_views, avg_views, posts_with_images, posts_with_media,
		       image_percentage, media_percentage
		FROM marts.dim_channels
		ORDER BY channel_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		var c models.Channel
		if err := rows.Scan(
			&c.ChannelKey, &c.ChannelName, &c.ChannelType, &c.FirstPostDate, &c.LastPostDate,
			&c.TotalPosts, &c.TotalViews, &c.AvgViews, &c.PostsWithImages, &c.PostsWithMedia,
			&c.ImagePercentage, &c.MediaPercentage,
		); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		c.FirstPostDate, c.LastPostDate = c.FirstPostDate.UTC(), c.LastPostDate.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) ListDates(ctx context.Context) ([]models.DateDim, error) {
	rows, err := db.Conn.QueryContext(ctx, `
		SELECT date_key, full_date, year, month, day, quarter, day_of_week, day_name,
		       month_name, is_weekend, iso_week, year_month, year_quarter
		FROM marts.dim_dates
		ORDER BY date_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DateDim
	for rows.Next() {
		var d models.DateDim
		if err := rows.Scan(
			&d.DateKey, &d.FullDate, &d.Year, &d.Month, &d.Day, &d.Quarter, &d.DayOfWeek,
			&d.DayName, &d.MonthName, &d.IsWeekend, &d.ISOWeek, &d.YearMonth, &d.YearQuarter,
		); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		d.FullDate = d.FullDate.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (db *DB) ListMessageFacts(ctx context.Context) ([]models.MessageFact, error) {
	rows, err := db.Conn.QueryContext(ctx, `
		SELECT message_id, channel_name, channel_key, date_key, message_date, message_text,
		       message_length, view_count, forward_count, has_media, has_image, image_path
		FROM marts.fct_messages
		ORDER BY message_id, channel_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MessageFact
	for rows.Next() {
		var (
			f                 models.MessageFact
			channelKey, dateK sql.NullInt64
			text, imagePath   sql.NullString
		)
		if err := rows.Scan(
			&f.MessageID, &f.ChannelName, &channelKey, &dateK, &f.MessageDate, &text,
			&f.MessageLength, &f.ViewCount, &f.ForwardCount, &f.HasMedia, &f.HasImage, &imagePath,
		); err != nil {
			return nil, fmt.Errorf("scan message fact: %w", err)
		}
		f.MessageDate = f.MessageDate.UTC()
		f.ChannelKey, f.DateKey = intPtr(channelKey), intPtr(dateK)
		f.MessageText, f.ImagePath = stringPtr(text), stringPtr(imagePath)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (db *DB) ListDetectionFacts(ctx context.Context) ([]models.ImageDetectionFact, error) {
	rows, err := db.Conn.QueryContext(ctx, `
		SELECT message_id, channel_name, channel_key, date_key, image_path, image_category,
		       total_detections, person_count, product_count, max_confidence, avg_confidence,
		       top_class, top_confidence, processing_timestamp, calculated_category,
		       detection_density, confidence_level
		FROM analytics.fct_image_detections
		ORDER BY message_id, channel_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ImageDetectionFact
	for rows.Next() {
		var (
			f                  models.ImageDetectionFact
			dateK              sql.NullInt64
			category, topClass sql.NullString
			topConfidence      sql.NullFloat64
		)
		if err := rows.Scan(
			&f.MessageID, &f.ChannelName, &f.ChannelKey, &dateK, &f.ImagePath, &category,
			&f.TotalDetections, &f.PersonCount, &f.ProductCount, &f.MaxConfidence, &f.AvgConfidence,
			&topClass, &topConfidence, &f.ProcessingTimestamp, &f.CalculatedCategory,
			&f.DetectionDensity, &f.ConfidenceLevel,
		); err != nil {
			return nil, fmt.Errorf("scan detection fact: %w", err)
		}
		f.ProcessingTimestamp = f.ProcessingTimestamp.UTC()
		f.DateKey = intPtr(dateK)
		f.ImageCategory, f.TopClass = stringPtr(category), stringPtr(topClass)
		f.TopConfidence = floatPtr(topConfidence)
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
