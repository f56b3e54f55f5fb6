package transform

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"ethmed_go/models"
)

// channelTypeRule — одно правило классификации канала по подстроке в названии.
type channelTypeRule struct {
	Label      string
	Substrings []string
}

// channelTypeRules применяются по порядку, побеждает первое совпадение.
// "chemed" стоит в правиле Medical, поэтому общий "med" тоже перенесён туда,
// иначе любое имя с "chemed" уходило бы в Pharmaceutical.
var channelTypeRules = []channelTypeRule{
	{Label: models.ChannelTypePharmaceutical, Substrings: []string{"pharma", "medicine"}},
	{Label: models.ChannelTypeCosmetics, Substrings: []string{"cosmetic", "beauty"}},
	{Label: models.ChannelTypeMedical, Substrings: []string{"chemed", "medical", "med"}},
}

// ClassifyChannel определяет тип канала по названию. Функция тотальна: без совпадений — Other.
func ClassifyChannel(name string) string {
	name = strings.ToLower(name)
	for _, rule := range channelTypeRules {
		for _, sub := range rule.Substrings {
			if strings.Contains(name, sub) {
				return rule.Label
			}
		}
	}
	return models.ChannelTypeOther
}

// BuildChannelDimension группирует сообщения по каналу, считает агрегаты и
// нумерует каналы с 1 в алфавитном порядке названий.
func BuildChannelDimension(msgs []models.NormalizedMessage) []models.Channel {
	if len(msgs) == 0 {
		return []models.Channel{}
	}

	byName := make(map[string]*models.Channel)
	for _, m := range msgs {
		ch, ok := byName[m.ChannelName]
		if !ok {
			ch = &models.Channel{
				ChannelName:   m.ChannelName,
				ChannelType:   ClassifyChannel(m.ChannelName),
				FirstPostDate: m.MessageDate,
				LastPostDate:  m.MessageDate,
			}
			byName[m.ChannelName] = ch
		}
		if m.MessageDate.Before(ch.FirstPostDate) {
			ch.FirstPostDate = m.MessageDate
		}
		if m.MessageDate.After(ch.LastPostDate) {
			ch.LastPostDate = m.MessageDate
		}
		ch.TotalPosts++
		ch.TotalViews += m.ViewCount
		if m.HasImage {
			ch.PostsWithImages++
		}
		if m.HasMedia {
			ch.PostsWithMedia++
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]models.Channel, 0, len(names))
	for i, name := range names {
		ch := byName[name]
		ch.ChannelKey = i + 1
		ch.AvgViews = round2(float64(ch.TotalViews) / float64(ch.TotalPosts))
		ch.ImagePercentage = round2(100 * float64(ch.PostsWithImages) / float64(ch.TotalPosts))
		ch.MediaPercentage = round2(100 * float64(ch.PostsWithMedia) / float64(ch.TotalPosts))
		out = append(out, *ch)
	}
	return out
}

// BuildDateDimension генерирует непрерывный календарь от первого до последнего дня сообщений.
func BuildDateDimension(msgs []models.NormalizedMessage) []models.DateDim {
	if len(msgs) == 0 {
		return []models.DateDim{}
	}

	minDay, maxDay := dayOf(msgs[0]), dayOf(msgs[0])
	for _, m := range msgs[1:] {
		d := dayOf(m)
		if d.Before(minDay) {
			minDay = d
		}
		if d.After(maxDay) {
			maxDay = d
		}
	}

	var out []models.DateDim
	for d := minDay; !d.After(maxDay); d = d.AddDate(0, 0, 1) {
		out = append(out, NewDateDim(d))
	}
	return out
}

// DateKey возвращает ключ календарного дня в виде YYYYMMDD.
func DateKey(t time.Time) int {
	y, m, d := t.UTC().Date()
	return y*10000 + int(m)*100 + d
}

// NewDateDim заполняет календарные атрибуты одного дня.
func NewDateDim(day time.Time) models.DateDim {
	day = DateOnly(day)
	_, week := day.ISOWeek()
	quarter := (int(day.Month())-1)/3 + 1
	dow := int(day.Weekday())
	if dow == 0 {
		dow = 7
	}
	return models.DateDim{
		DateKey:     DateKey(day),
		FullDate:    day,
		Year:        day.Year(),
		Month:       int(day.Month()),
		Day:         day.Day(),
		Quarter:     quarter,
		DayOfWeek:   dow,
		DayName:     day.Weekday().String(),
		MonthName:   day.Month().String(),
		IsWeekend:   dow >= 6,
		ISOWeek:     week,
		YearMonth:   day.Format("2006-01"),
		YearQuarter: fmt.Sprintf("%d-Q%d", day.Year(), quarter),
	}
}

// dayOf возвращает календарный день сообщения.
func dayOf(m models.NormalizedMessage) time.Time {
	if !m.MessageDateOnly.IsZero() {
		return m.MessageDateOnly
	}
	return DateOnly(m.MessageDate)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
