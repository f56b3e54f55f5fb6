package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RawMessage — сообщение канала в том виде, в каком его сохранил скрейпер.
// Все поля, которые могут отсутствовать в исходном JSON, хранятся указателями:
// нормализатор сам решает, что делать с пустыми значениями.
type RawMessage struct {
	MessageID   *int64    `json:"message_id"`
	ChannelName *string   `json:"channel_name"`
	MessageDate *FlexTime `json:"message_date"`
	MessageText *string   `json:"message_text"`
	HasMedia    bool      `json:"has_media"`
	ImagePath   *string   `json:"image_path"`
	Views       *int64    `json:"views"`
	Forwards    *int64    `json:"forwards"`
	ScrapedAt   *FlexTime `json:"scraped_at"`
}

// flexLayouts перечисляет форматы времени, которые встречаются в выгрузках.
// Скрейпер на Python писал isoformat() без зоны, такие значения считаем UTC.
var flexLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FlexTime разбирает время в нескольких ISO-форматах.
type FlexTime struct {
	time.Time
}

// NewFlexTime оборачивает время, приводя его к UTC.
func NewFlexTime(t time.Time) *FlexTime {
	return &FlexTime{Time: t.UTC()}
}

// ParseFlexTime пробует все известные форматы по очереди.
func ParseFlexTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range flexLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	parsed, err := ParseFlexTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339))
}
