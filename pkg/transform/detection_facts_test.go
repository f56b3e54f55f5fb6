package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ethmed_go/models"
)

func detection(id int64, channel string, persons, products int, maxConf float64) models.DetectionRecord {
	return models.DetectionRecord{
		MessageID:           id,
		ChannelName:         channel,
		ImagePath:           "data/raw/images/" + channel + "/x.jpg",
		TotalDetections:     persons + products,
		PersonCount:         persons,
		ProductCount:        products,
		MaxConfidence:       maxConf,
		AvgConfidence:       maxConf,
		ProcessingTimestamp: testNow,
	}
}

func TestCalculateCategoryTruthTable(t *testing.T) {
	assert.Equal(t, models.CategoryPromotional, CalculateCategory(1, 1))
	assert.Equal(t, models.CategoryPromotional, CalculateCategory(3, 7))
	assert.Equal(t, models.CategoryProductDisplay, CalculateCategory(0, 2))
	assert.Equal(t, models.CategoryLifestyle, CalculateCategory(2, 0))
	assert.Equal(t, models.CategoryOther, CalculateCategory(0, 0))
}

func TestDetectionDensityAndConfidence(t *testing.T) {
	assert.Equal(t, models.DensityNone, DetectionDensity(0))
	assert.Equal(t, models.DensityFew, DetectionDensity(1))
	assert.Equal(t, models.DensityFew, DetectionDensity(2))
	assert.Equal(t, models.DensityModerate, DetectionDensity(3))
	assert.Equal(t, models.DensityModerate, DetectionDensity(5))
	assert.Equal(t, models.DensityMany, DetectionDensity(6))

	assert.Equal(t, models.ConfidenceHigh, ConfidenceLevel(0.8))
	assert.Equal(t, models.ConfidenceMedium, ConfidenceLevel(0.79))
	assert.Equal(t, models.ConfidenceMedium, ConfidenceLevel(0.5))
	assert.Equal(t, models.ConfidenceLow, ConfidenceLevel(0.01))
	assert.Equal(t, models.ConfidenceNone, ConfidenceLevel(0))
}

func TestBuildDetectionFactsScenarios(t *testing.T) {
	day := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	msgs := []models.NormalizedMessage{
		normalized(10, "tikvahpharma", day, 5),
		normalized(11, "chemed", day.AddDate(0, 0, 1), 5),
	}
	channels := BuildChannelDimension(msgs)
	dates := BuildDateDimension(msgs)
	facts, err := BuildMessageFacts(msgs, channels, dates)
	require.NoError(t, err)

	detections := []models.DetectionRecord{
		detection(11, "ChemEd", 1, 0, 0.4),
		detection(10, "tikvahpharma", 1, 1, 0.82),
		detection(12, "unknown_channel", 1, 1, 0.9),
		detection(99, "chemed", 0, 2, 0.6),
	}

	out, report := BuildDetectionFacts(detections, channels, facts, dates)
	require.Len(t, out, 3)
	assert.Equal(t, 1, report.UnknownChannel)
	assert.Equal(t, 1, report.MissingDate)
	assert.Equal(t, 3, report.Kept)

	promo := out[0]
	assert.EqualValues(t, 10, promo.MessageID)
	assert.Equal(t, models.CategoryPromotional, promo.CalculatedCategory)
	assert.Equal(t, models.ConfidenceHigh, promo.ConfidenceLevel)
	assert.Equal(t, models.DensityFew, promo.DetectionDensity)
	require.NotNil(t, promo.DateKey)
	assert.Equal(t, 20250602, *promo.DateKey)

	assert.EqualValues(t, 11, out[1].MessageID)
	assert.Equal(t, "chemed", out[1].ChannelName)
	assert.Equal(t, models.CategoryLifestyle, out[1].CalculatedCategory)
	require.NotNil(t, out[1].DateKey)
	assert.Equal(t, 20250603, *out[1].DateKey)

	orphan := out[2]
	assert.EqualValues(t, 99, orphan.MessageID)
	assert.Nil(t, orphan.DateKey, "без факта сообщения дата остаётся пустой")
	assert.Equal(t, models.CategoryProductDisplay, orphan.CalculatedCategory)

	for _, f := range out {
		assert.NotZero(t, f.ChannelKey)
		assert.Contains(t, []string{
			models.CategoryPromotional, models.CategoryProductDisplay,
			models.CategoryLifestyle, models.CategoryOther,
		}, f.CalculatedCategory)
	}
}

func TestBuildDetectionFactsPrefersSameChannelFact(t *testing.T) {
	day := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	msgs := []models.NormalizedMessage{
		normalized(5, "alpha", day, 0),
		normalized(5, "beta", day.AddDate(0, 0, 3), 0),
	}
	channels := BuildChannelDimension(msgs)
	dates := BuildDateDimension(msgs)
	facts, err := BuildMessageFacts(msgs, channels, dates)
	require.NoError(t, err)

	out, _ := BuildDetectionFacts([]models.DetectionRecord{detection(5, "beta", 0, 0, 0)}, channels, facts, dates)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].DateKey)
	assert.Equal(t, 20250605, *out[0].DateKey)
	assert.Equal(t, models.CategoryOther, out[0].CalculatedCategory)
	assert.Equal(t, models.ConfidenceNone, out[0].ConfidenceLevel)
}
