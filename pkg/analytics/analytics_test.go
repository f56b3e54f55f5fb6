package analytics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ethmed_go/models"
	"ethmed_go/pkg/transform"
	"ethmed_go/pkg/warehouse"
)

var now = time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC)

func msg(id int64, channel string, date time.Time, text string, views int64, image bool) models.NormalizedMessage {
	m := models.NormalizedMessage{
		MessageID:   id,
		ChannelName: channel,
		MessageDate: date,
		ViewCount:   views,
		HasImage:    image,
		HasMedia:    image,
	}
	if text != "" {
		m.MessageText = &text
		m.MessageLength = len([]rune(text))
	}
	return m
}

func strPtr(s string) *string { return &s }

func fPtr(f float64) *float64 { return &f }

// fixture собирает каталог теми же функциями, что и конвейер.
func fixture(t *testing.T) *Service {
	t.Helper()
	msgs := []models.NormalizedMessage{
		msg(1, "chemed", time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC), "Paracetamol 500mg tablet available", 100, true),
		msg(2, "chemed", time.Date(2025, 7, 9, 10, 0, 0, 0, time.UTC), "Paracetamol syrup for children", 50, false),
		msg(3, "tikvahpharma", time.Date(2025, 7, 8, 8, 0, 0, 0, time.UTC), "Amoxicillin 250mg capsules and paracetamol", 200, true),
		msg(4, "lobelia4cosmetics", time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC), "Beauty cream sale", 30, false),
		msg(5, "chemed", time.Date(2025, 7, 10, 11, 0, 0, 0, time.UTC), "", 10, false),
	}
	channels := transform.BuildChannelDimension(msgs)
	dates := transform.BuildDateDimension(msgs)
	facts, err := transform.BuildMessageFacts(msgs, channels, dates)
	require.NoError(t, err)

	detections, _ := transform.BuildDetectionFacts([]models.DetectionRecord{
		{MessageID: 1, ChannelName: "chemed", PersonCount: 1, ProductCount: 1, TotalDetections: 2,
			MaxConfidence: 0.82, TopClass: strPtr("person"), TopConfidence: fPtr(0.82)},
		{MessageID: 3, ChannelName: "tikvahpharma", ProductCount: 2, TotalDetections: 2,
			MaxConfidence: 0.6, TopClass: strPtr("bottle"), TopConfidence: fPtr(0.6)},
		{MessageID: 2, ChannelName: "chemed", TotalDetections: 1,
			MaxConfidence: 0.05, TopClass: strPtr("cup"), TopConfidence: fPtr(0.05)},
	}, channels, facts, dates)

	c := warehouse.NewCatalog()
	c.Channels.Swap(channels, now)
	c.Dates.Swap(dates, now)
	c.MessageFacts.Swap(facts, now)
	c.DetectionFacts.Swap(detections, now)
	return New(c, func() time.Time { return now })
}

func requireValidation(t *testing.T, err error, field, rule string) {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "ожидалась ошибка валидации, получено %v", err)
	assert.Contains(t, ve.Fields, FieldError{Field: field, Rule: rule})
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"paracetamol", "500mg", "tablets", "paracetamol"},
		Terms("Paracetamol (500mg) tablets, the PARACETAMOL! ok"))
	assert.Empty(t, Terms("   "))
}

func TestIsMedicalTerm(t *testing.T) {
	for _, term := range []string{"paracetamol", "500mg", "b12", "3ml", "antiseptic", "dentist", "cardiology"} {
		assert.True(t, IsMedicalTerm(term), term)
	}
	for _, term := range []string{"available", "children", "sale", "bio"} {
		assert.False(t, IsMedicalTerm(term), term)
	}
}

func TestTopProducts(t *testing.T) {
	s := fixture(t)

	resp, err := s.TopProducts(TopProductsQuery{Limit: 10, MinMentions: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.TotalAnalyzed, "сообщения без текста не анализируются")
	require.NotEmpty(t, resp.Data)

	top := resp.Data[0]
	assert.Equal(t, "paracetamol", top.Term)
	assert.Equal(t, 3, top.MentionCount)
	assert.Equal(t, int64(350), top.TotalViews)
	assert.Equal(t, 116.67, top.AvgViews)
	assert.Equal(t, []string{"chemed", "tikvahpharma"}, top.Channels)

	var terms []string
	for _, p := range resp.Data[1:] {
		terms = append(terms, p.Term)
	}
	assert.Equal(t, []string{"250mg", "amoxicillin", "500mg", "tablet", "syrup", "cream"}, terms)
	assert.NotContains(t, terms, "available")
}

func TestTopProductsFilters(t *testing.T) {
	s := fixture(t)

	resp, err := s.TopProducts(TopProductsQuery{Limit: 10, MinMentions: 2})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)

	resp, err = s.TopProducts(TopProductsQuery{Limit: 10, MinMentions: 1, DateFrom: "2025-07-09", DateTo: "2025-07-09"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalAnalyzed, "date_to включает весь день")
	assert.Equal(t, "2025-07-09", resp.QueryParams["date_from"])

	resp, err = s.TopProducts(TopProductsQuery{Limit: 1, MinMentions: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Data, 1)
	assert.Nil(t, resp.QueryParams["date_to"])
}

func TestTopProductsValidation(t *testing.T) {
	s := fixture(t)

	_, err := s.TopProducts(TopProductsQuery{Limit: 0, MinMentions: 1})
	requireValidation(t, err, "limit", "gte=1")

	_, err = s.TopProducts(TopProductsQuery{Limit: 101, MinMentions: 0})
	requireValidation(t, err, "limit", "lte=100")
	requireValidation(t, err, "min_mentions", "gte=1")

	_, err = s.TopProducts(TopProductsQuery{Limit: 10, MinMentions: 1, DateFrom: "10.07.2025"})
	requireValidation(t, err, "date_from", "datetime=2006-01-02")

	_, err = s.TopProducts(TopProductsQuery{Limit: 10, MinMentions: 1, DateFrom: "2025-07-10", DateTo: "2025-07-01"})
	requireValidation(t, err, "date_from", "ltefield=date_to")
}

func TestChannelActivity(t *testing.T) {
	s := fixture(t)

	resp, err := s.ChannelActivity(ChannelActivityQuery{Channel: "ChemEd", Days: 30, IncludeTopTerms: true})
	require.NoError(t, err)

	info := resp.ChannelInfo
	assert.Equal(t, "chemed", info.ChannelName)
	assert.Equal(t, models.ChannelTypeMedical, info.ChannelType)
	assert.Equal(t, 3, info.TotalMessages)
	assert.Equal(t, int64(160), info.TotalViews)
	assert.Equal(t, 2.88, info.AvgDailyPosts)
	assert.Equal(t, "2025-07-09T10:00:00Z", info.FirstPostDate)

	require.Len(t, resp.DailyActivity, 2)
	assert.Equal(t, models.DailyActivity{
		Date: "2025-07-10", MessageCount: 2, TotalViews: 110, AvgViews: 55, MessagesWithImages: 1,
	}, resp.DailyActivity[0])
	assert.Equal(t, "2025-07-09", resp.DailyActivity[1].Date)

	require.Len(t, resp.TopTerms, 1, "в топ канала попадают термины минимум с двумя упоминаниями")
	assert.Equal(t, "paracetamol", resp.TopTerms[0].Term)
	assert.Equal(t, 2, resp.TopTerms[0].MentionCount)
}

func TestChannelActivityWindow(t *testing.T) {
	s := fixture(t)

	resp, err := s.ChannelActivity(ChannelActivityQuery{Channel: "lobelia4cosmetics", Days: 30, IncludeTopTerms: true})
	require.NoError(t, err)
	assert.Empty(t, resp.DailyActivity)
	assert.NotNil(t, resp.TopTerms)
	assert.Empty(t, resp.TopTerms)

	resp, err = s.ChannelActivity(ChannelActivityQuery{Channel: "lobelia4cosmetics", Days: 365})
	require.NoError(t, err)
	assert.Len(t, resp.DailyActivity, 1)
	assert.Empty(t, resp.TopTerms)
}

func TestChannelActivityErrors(t *testing.T) {
	s := fixture(t)

	_, err := s.ChannelActivity(ChannelActivityQuery{Channel: "unknown", Days: 30})
	assert.ErrorIs(t, err, ErrChannelNotFound)

	_, err = s.ChannelActivity(ChannelActivityQuery{Channel: "chemed", Days: 366})
	requireValidation(t, err, "days", "lte=365")

	_, err = s.ChannelActivity(ChannelActivityQuery{Channel: "chemed", Days: 0})
	requireValidation(t, err, "days", "gte=1")
}

func TestSearchMessages(t *testing.T) {
	s := fixture(t)

	resp, err := s.SearchMessages(SearchQuery{Query: "PARACETAMOL", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalFound)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, int64(1), resp.Messages[0].MessageID, "новые сообщения первыми")
	assert.Equal(t, int64(2), resp.Messages[1].MessageID)
	assert.Equal(t, "2025-07-10T09:00:00Z", resp.Messages[0].MessageDate)

	resp, err = s.SearchMessages(SearchQuery{Query: "paracetamol", Limit: 20, Channel: "TikvahPharma"})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "tikvahpharma", resp.Messages[0].ChannelName)
	assert.True(t, resp.Messages[0].HasImage)

	resp, err = s.SearchMessages(SearchQuery{Query: "paracetamol", Limit: 20, DateTo: "2025-07-08"})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalFound)

	resp, err = s.SearchMessages(SearchQuery{Query: "paracetamol", Limit: 20, Channel: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Messages)
	assert.Empty(t, resp.Messages)
	assert.Equal(t, 0, resp.TotalFound)
}

func TestSearchSkipsOrphanedFacts(t *testing.T) {
	s := fixture(t)
	facts := append([]models.MessageFact(nil), s.Catalog.MessageFacts.Load()...)
	text := "paracetamol из неизвестного канала"
	facts = append(facts, models.MessageFact{MessageID: 99, ChannelName: "ghost", MessageDate: now, MessageText: &text})
	s.Catalog.MessageFacts.Swap(facts, now)

	resp, err := s.SearchMessages(SearchQuery{Query: "неизвестного", Limit: 20})
	require.NoError(t, err)
	assert.Empty(t, resp.Messages)
}

func TestSearchValidation(t *testing.T) {
	s := fixture(t)

	_, err := s.SearchMessages(SearchQuery{Query: "", Limit: 20})
	requireValidation(t, err, "query", "required")

	_, err = s.SearchMessages(SearchQuery{Query: strings.Repeat("а", 201), Limit: 20})
	requireValidation(t, err, "query", "max=200")

	_, err = s.SearchMessages(SearchQuery{Query: "x", Limit: 200})
	requireValidation(t, err, "limit", "lte=100")
}

func TestVisualContent(t *testing.T) {
	s := fixture(t)

	resp, err := s.VisualContent(VisualContentQuery{IncludeDetails: true, MinConfidence: 0.1})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Summary.TotalImagesAnalyzed, "детекции ниже порога не учитываются")
	assert.Equal(t, 0.71, resp.Summary.AvgConfidenceScore)
	assert.Equal(t, map[string]int{models.CategoryPromotional: 1, models.CategoryProductDisplay: 1}, resp.CategoryDistribution)

	require.Len(t, resp.ChannelStats, 2)
	chemed := resp.ChannelStats[0]
	assert.Equal(t, "chemed", chemed.ChannelName)
	assert.Equal(t, 3, chemed.TotalMessages)
	assert.Equal(t, 1, chemed.MessagesWithImages)
	assert.Equal(t, 33.33, chemed.ImagePercentage)
	assert.Equal(t, 1, chemed.PromotionalPosts)
	assert.Equal(t, 0.82, chemed.AvgConfidence)
	assert.Equal(t, 1, resp.ChannelStats[1].ProductDisplayPosts)

	assert.Equal(t, []models.DetectedObject{
		{Object: "bottle", Count: 1, AvgConfidence: 0.6},
		{Object: "person", Count: 1, AvgConfidence: 0.82},
	}, resp.Summary.TopDetectedObjects)
}

func TestVisualContentOptions(t *testing.T) {
	s := fixture(t)

	resp, err := s.VisualContent(VisualContentQuery{IncludeDetails: false, MinConfidence: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Summary.TotalImagesAnalyzed)
	assert.Empty(t, resp.Summary.TopDetectedObjects)
	assert.Equal(t, 2, resp.ChannelStats[0].MessagesWithImages)
	assert.Equal(t, 1, resp.CategoryDistribution[models.CategoryOther])

	_, err = s.VisualContent(VisualContentQuery{MinConfidence: 1.5})
	requireValidation(t, err, "min_confidence", "lte=1")
}

func TestQueriesOnEmptyCatalog(t *testing.T) {
	s := New(warehouse.NewCatalog(), nil)

	top, err := s.TopProducts(TopProductsQuery{Limit: 10, MinMentions: 1})
	require.NoError(t, err)
	assert.Empty(t, top.Data)
	assert.Zero(t, top.TotalAnalyzed)

	visual, err := s.VisualContent(VisualContentQuery{IncludeDetails: true, MinConfidence: 0.1})
	require.NoError(t, err)
	assert.Zero(t, visual.Summary.AvgConfidenceScore)
	assert.NotNil(t, visual.ChannelStats)

	_, err = s.ChannelActivity(ChannelActivityQuery{Channel: "chemed", Days: 30})
	assert.ErrorIs(t, err, ErrChannelNotFound)
}
