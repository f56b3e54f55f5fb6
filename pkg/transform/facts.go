package transform

import (
	"fmt"

	"ethmed_go/models"
)

// DuplicateMessageError — в staging встретились два сообщения с одним натуральным ключом.
// Это нарушение качества данных: дубликаты не схлопываются молча.
type DuplicateMessageError struct {
	MessageID   int64
	ChannelName string
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("duplicate message %d in channel %q", e.MessageID, e.ChannelName)
}

type messageKey struct {
	id      int64
	channel string
}

// BuildMessageFacts соединяет сообщения с измерениями (left outer join).
// Число строк на выходе всегда равно числу сообщений; ключ, который не нашёлся, остаётся nil.
func BuildMessageFacts(msgs []models.NormalizedMessage, channels []models.Channel, dates []models.DateDim) ([]models.MessageFact, error) {
	channelKeys := make(map[string]int, len(channels))
	for _, ch := range channels {
		channelKeys[ch.ChannelName] = ch.ChannelKey
	}
	dateKeys := make(map[int]int, len(dates))
	for _, d := range dates {
		dateKeys[DateKey(d.FullDate)] = d.DateKey
	}

	seen := make(map[messageKey]struct{}, len(msgs))
	out := make([]models.MessageFact, 0, len(msgs))
	for _, m := range msgs {
		k := messageKey{id: m.MessageID, channel: m.ChannelName}
		if _, dup := seen[k]; dup {
			return nil, &DuplicateMessageError{MessageID: m.MessageID, ChannelName: m.ChannelName}
		}
		seen[k] = struct{}{}

		fact := models.MessageFact{
			MessageID:     m.MessageID,
			ChannelName:   m.ChannelName,
			MessageDate:   m.MessageDate,
			MessageText:   m.MessageText,
			MessageLength: m.MessageLength,
			ViewCount:     m.ViewCount,
			ForwardCount:  m.ForwardCount,
			HasMedia:      m.HasMedia,
			HasImage:      m.HasImage,
			ImagePath:     m.ImagePath,
		}
		if key, ok := channelKeys[m.ChannelName]; ok {
			fact.ChannelKey = &key
		}
		if key, ok := dateKeys[DateKey(dayOf(m))]; ok {
			fact.DateKey = &key
		}
		out = append(out, fact)
	}
	return out, nil
}

// CountOrphans считает факты, у которых не разрешился хотя бы один ключ.
func CountOrphans(facts []models.MessageFact) int {
	n := 0
	for _, f := range facts {
		if f.Orphaned() {
			n++
		}
	}
	return n
}
