package models

import "time"

// MessageFact — строка таблицы фактов сообщений.
// ChannelKey и DateKey равны nil, если измерение не нашлось: такие строки
// считаются «осиротевшими», но остаются в таблице.
type MessageFact struct {
	MessageID     int64     `json:"message_id"`
	ChannelName   string    `json:"channel_name"`
	ChannelKey    *int      `json:"channel_key"`
	DateKey       *int      `json:"date_key"`
	MessageDate   time.Time `json:"message_date"`
	MessageText   *string   `json:"message_text"`
	MessageLength int       `json:"message_length"`
	ViewCount     int64     `json:"view_count"`
	ForwardCount  int64     `json:"forward_count"`
	HasMedia      bool      `json:"has_media"`
	HasImage      bool      `json:"has_image"`
	ImagePath     *string   `json:"image_path"`
}

// Orphaned сообщает, что хотя бы один внешний ключ не разрешился.
func (f MessageFact) Orphaned() bool {
	return f.ChannelKey == nil || f.DateKey == nil
}
