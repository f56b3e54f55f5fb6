package models

import "time"

// NormalizedMessage — очищенное сообщение канала (слой staging).
// Название канала приведено к нижнему регистру, пустой текст считается отсутствующим,
// счётчики без значения равны нулю.
type NormalizedMessage struct {
	MessageID       int64     `json:"message_id"`
	ChannelName     string    `json:"channel_name"`
	MessageDate     time.Time `json:"message_date"`
	MessageDateOnly time.Time `json:"message_date_only"` // полночь UTC календарного дня
	MessageText     *string   `json:"message_text"`
	MessageLength   int       `json:"message_length"`
	HasMedia        bool      `json:"has_media"`
	HasImage        bool      `json:"has_image"`
	ImagePath       *string   `json:"image_path"`
	ViewCount       int64     `json:"view_count"`
	ForwardCount    int64     `json:"forward_count"`
	ScrapedAt       time.Time `json:"scraped_at"`
}
