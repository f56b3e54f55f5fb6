// Package transform содержит чистые функции построения хранилища:
// нормализацию сырых сообщений, измерения, таблицы фактов и классификацию детекций.
// Каждая функция пересобирает таблицу целиком из входных данных и не имеет побочных эффектов.
package transform

import (
	"strings"
	"time"
	"unicode/utf8"

	"ethmed_go/models"
)

// MaxMessageLength — максимальная длина текста сообщения в символах.
const MaxMessageLength = 4000

// MinMessageDate — сообщения раньше этой даты считаются мусором скрейпинга.
var MinMessageDate = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// DropReason — причина, по которой сырая запись не попала в staging.
type DropReason string

const (
	DropMissingID       DropReason = "missing_message_id"
	DropMissingChannel  DropReason = "missing_channel_name"
	DropMissingDate     DropReason = "missing_message_date"
	DropFutureDate      DropReason = "future_message_date"
	DropBeforeMinDate   DropReason = "before_min_date"
	DropTooLong         DropReason = "message_too_long"
	DropNegativeCounter DropReason = "negative_counter"
)

// DropReport — статистика качества данных по одному проходу нормализации.
// Отброшенные записи не считаются ошибкой, отчёт нужен только для мониторинга.
type DropReport struct {
	Input   int                `json:"input"`
	Kept    int                `json:"kept"`
	Dropped map[DropReason]int `json:"dropped"`
}

// TotalDropped возвращает общее число отброшенных записей.
func (r DropReport) TotalDropped() int {
	total := 0
	for _, n := range r.Dropped {
		total += n
	}
	return total
}

// Normalize очищает сырые сообщения. Порядок сохраняется, невалидные записи отбрасываются молча.
// now передаётся явно, чтобы результат зависел только от аргументов.
func Normalize(raws []models.RawMessage, now time.Time) ([]models.NormalizedMessage, DropReport) {
	report := DropReport{Input: len(raws), Dropped: make(map[DropReason]int)}
	out := make([]models.NormalizedMessage, 0, len(raws))
	for _, raw := range raws {
		msg, reason, ok := NormalizeOne(raw, now)
		if !ok {
			report.Dropped[reason]++
			continue
		}
		out = append(out, msg)
	}
	report.Kept = len(out)
	return out, report
}

// NormalizeOne приводит одну запись к каноническому виду либо возвращает причину отказа.
func NormalizeOne(raw models.RawMessage, now time.Time) (models.NormalizedMessage, DropReason, bool) {
	if raw.MessageID == nil || *raw.MessageID <= 0 {
		return models.NormalizedMessage{}, DropMissingID, false
	}
	channel := ""
	if raw.ChannelName != nil {
		channel = strings.ToLower(strings.TrimSpace(*raw.ChannelName))
	}
	if channel == "" {
		return models.NormalizedMessage{}, DropMissingChannel, false
	}
	if raw.MessageDate == nil || raw.MessageDate.IsZero() {
		return models.NormalizedMessage{}, DropMissingDate, false
	}
	date := raw.MessageDate.UTC()
	if date.After(now) {
		return models.NormalizedMessage{}, DropFutureDate, false
	}
	if date.Before(MinMessageDate) {
		return models.NormalizedMessage{}, DropBeforeMinDate, false
	}

	text := trimmedOrNil(raw.MessageText)
	length := 0
	if text != nil {
		length = utf8.RuneCountInString(*text)
	}
	if length > MaxMessageLength {
		return models.NormalizedMessage{}, DropTooLong, false
	}

	views, forwards := valueOrZero(raw.Views), valueOrZero(raw.Forwards)
	if views < 0 || forwards < 0 {
		return models.NormalizedMessage{}, DropNegativeCounter, false
	}

	imagePath := trimmedOrNil(raw.ImagePath)
	var scrapedAt time.Time
	if raw.ScrapedAt != nil {
		scrapedAt = raw.ScrapedAt.UTC()
	}

	return models.NormalizedMessage{
		MessageID:       *raw.MessageID,
		ChannelName:     channel,
		MessageDate:     date,
		MessageDateOnly: DateOnly(date),
		MessageText:     text,
		MessageLength:   length,
		HasMedia:        raw.HasMedia,
		HasImage:        imagePath != nil,
		ImagePath:       imagePath,
		ViewCount:       views,
		ForwardCount:    forwards,
		ScrapedAt:       scrapedAt,
	}, "", true
}

// DateOnly отбрасывает время суток, оставляя полночь UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
