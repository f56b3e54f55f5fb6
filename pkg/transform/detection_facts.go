package transform

import (
	"sort"
	"strings"

	"ethmed_go/models"
)

// DetectionReport — итог сборки фактов детекции.
type DetectionReport struct {
	Input          int `json:"input"`
	Kept           int `json:"kept"`
	UnknownChannel int `json:"unknown_channel"` // отброшены: канал не найден в измерении
	MissingDate    int `json:"missing_date"`    // оставлены с пустым date_key
}

// CalculateCategory относит изображение к категории по наличию людей и товаров.
func CalculateCategory(personCount, productCount int) string {
	switch {
	case personCount > 0 && productCount > 0:
		return models.CategoryPromotional
	case productCount > 0:
		return models.CategoryProductDisplay
	case personCount > 0:
		return models.CategoryLifestyle
	default:
		return models.CategoryOther
	}
}

// DetectionDensity группирует число найденных объектов.
func DetectionDensity(total int) string {
	switch {
	case total <= 0:
		return models.DensityNone
	case total <= 2:
		return models.DensityFew
	case total <= 5:
		return models.DensityModerate
	default:
		return models.DensityMany
	}
}

// ConfidenceLevel переводит максимальную уверенность модели в уровень.
func ConfidenceLevel(maxConfidence float64) string {
	switch {
	case maxConfidence >= 0.8:
		return models.ConfidenceHigh
	case maxConfidence >= 0.5:
		return models.ConfidenceMedium
	case maxConfidence > 0:
		return models.ConfidenceLow
	default:
		return models.ConfidenceNone
	}
}

// BuildDetectionFacts привязывает результаты детекции к измерениям.
//
// Канал ищется по названию; записи с неизвестным каналом отбрасываются.
// Дата берётся у факта сообщения: сначала по паре (message_id, канал),
// затем по первому факту с тем же message_id. Если факта нет, строка остаётся
// с пустым date_key. Результат отсортирован по message_id, затем по каналу.
func BuildDetectionFacts(
	detections []models.DetectionRecord,
	channels []models.Channel,
	facts []models.MessageFact,
	dates []models.DateDim,
) ([]models.ImageDetectionFact, DetectionReport) {
	report := DetectionReport{Input: len(detections)}

	channelKeys := make(map[string]int, len(channels))
	for _, ch := range channels {
		channelKeys[ch.ChannelName] = ch.ChannelKey
	}
	knownDates := make(map[int]struct{}, len(dates))
	for _, d := range dates {
		knownDates[d.DateKey] = struct{}{}
	}

	exact := make(map[messageKey]*int, len(facts))
	firstByID := make(map[int64]*int, len(facts))
	for _, f := range facts {
		exact[messageKey{id: f.MessageID, channel: f.ChannelName}] = f.DateKey
		if _, ok := firstByID[f.MessageID]; !ok {
			firstByID[f.MessageID] = f.DateKey
		}
	}

	out := make([]models.ImageDetectionFact, 0, len(detections))
	for _, d := range detections {
		channel := strings.ToLower(strings.TrimSpace(d.ChannelName))
		channelKey, ok := channelKeys[channel]
		if !ok {
			report.UnknownChannel++
			continue
		}

		dateKey, found := exact[messageKey{id: d.MessageID, channel: channel}]
		if !found {
			dateKey = firstByID[d.MessageID]
		}
		if dateKey != nil {
			if _, ok := knownDates[*dateKey]; !ok {
				dateKey = nil
			}
		}
		if dateKey == nil {
			report.MissingDate++
		}

		out = append(out, models.ImageDetectionFact{
			MessageID:           d.MessageID,
			ChannelName:         channel,
			ChannelKey:          channelKey,
			DateKey:             copyInt(dateKey),
			ImagePath:           d.ImagePath,
			ImageCategory:       d.ImageCategory,
			TotalDetections:     d.TotalDetections,
			PersonCount:         d.PersonCount,
			ProductCount:        d.ProductCount,
			MaxConfidence:       d.MaxConfidence,
			AvgConfidence:       d.AvgConfidence,
			TopClass:            d.TopClass,
			TopConfidence:       d.TopConfidence,
			ProcessingTimestamp: d.ProcessingTimestamp,
			CalculatedCategory:  CalculateCategory(d.PersonCount, d.ProductCount),
			DetectionDensity:    DetectionDensity(d.TotalDetections),
			ConfidenceLevel:     ConfidenceLevel(d.MaxConfidence),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MessageID != out[j].MessageID {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].ChannelName < out[j].ChannelName
	})
	report.Kept = len(out)
	return out, report
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
