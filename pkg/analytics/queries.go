// Package analytics отвечает на аналитические запросы по опубликованной версии хранилища.
// Все запросы только читают каталог и отклоняют некорректные параметры до выполнения.
package analytics

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"ethmed_go/models"
	"ethmed_go/pkg/warehouse"
)

const (
	channelTermsMinMentions = 2
	channelTermsLimit       = 10
	topObjectsLimit         = 10
)

// Service выполняет запросы над каталогом.
type Service struct {
	Catalog *warehouse.Catalog
	Now     func() time.Time
}

func New(catalog *warehouse.Catalog, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{Catalog: catalog, Now: now}
}

// TopProductsQuery — самые упоминаемые медицинские термины.
type TopProductsQuery struct {
	Limit       int    `form:"limit,default=10" binding:"gte=1,lte=100"`
	MinMentions int    `form:"min_mentions,default=1" binding:"gte=1"`
	DateFrom    string `form:"date_from" binding:"omitempty,datetime=2006-01-02"`
	DateTo      string `form:"date_to" binding:"omitempty,datetime=2006-01-02"`
}

// ChannelActivityQuery — активность канала за последние Days дней.
type ChannelActivityQuery struct {
	Channel         string `form:"-"`
	Days            int    `form:"days,default=30" binding:"gte=1,lte=365"`
	IncludeTopTerms bool   `form:"include_top_terms,default=true"`
}

// SearchQuery — поиск подстроки в тексте сообщений без учёта регистра.
type SearchQuery struct {
	Query    string `form:"query" binding:"required,min=1,max=200"`
	Limit    int    `form:"limit,default=20" binding:"gte=1,lte=100"`
	Channel  string `form:"channel"`
	DateFrom string `form:"date_from" binding:"omitempty,datetime=2006-01-02"`
	DateTo   string `form:"date_to" binding:"omitempty,datetime=2006-01-02"`
}

// VisualContentQuery — статистика изображений по каналам.
type VisualContentQuery struct {
	IncludeDetails bool    `form:"include_details,default=true"`
	MinConfidence  float64 `form:"min_confidence,default=0.1" binding:"gte=0,lte=1"`
}

// validateWithDates объединяет ошибки тегов и проверку периода в одну ValidationError.
func validateWithDates(q any, from, to string) (start, end *time.Time, err error) {
	var fields []FieldError
	if err := check(q); err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return nil, nil, err
		}
		fields = append(fields, ve.Fields...)
	}
	start, end, err = dateRange(from, to)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			for _, f := range ve.Fields {
				if !hasField(fields, f.Field) {
					fields = append(fields, f)
				}
			}
		}
	}
	if len(fields) > 0 {
		return nil, nil, &ValidationError{Fields: fields}
	}
	return start, end, nil
}

func hasField(fields []FieldError, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

// termStats копит агрегаты по термину: каждое вхождение считается упоминанием.
type termStats struct {
	term     string
	mentions int
	views    int64
	channels map[string]bool
}

func collectTerms(facts []models.MessageFact, keep func(string) bool) map[string]*termStats {
	stats := make(map[string]*termStats)
	for _, f := range facts {
		for _, term := range Terms(*f.MessageText) {
			if keep != nil && !keep(term) {
				continue
			}
			s, ok := stats[term]
			if !ok {
				s = &termStats{term: term, channels: map[string]bool{}}
				stats[term] = s
			}
			s.mentions++
			s.views += f.ViewCount
			s.channels[f.ChannelName] = true
		}
	}
	return stats
}

// rankTerms сортирует по числу упоминаний, затем по просмотрам, затем по алфавиту.
func rankTerms(stats map[string]*termStats, minMentions, limit int) []models.ProductMention {
	ranked := make([]*termStats, 0, len(stats))
	for _, s := range stats {
		if s.mentions >= minMentions {
			ranked = append(ranked, s)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.mentions != b.mentions {
			return a.mentions > b.mentions
		}
		if a.views != b.views {
			return a.views > b.views
		}
		return a.term < b.term
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]models.ProductMention, 0, len(ranked))
	for _, s := range ranked {
		channels := make([]string, 0, len(s.channels))
		for c := range s.channels {
			channels = append(channels, c)
		}
		sort.Strings(channels)
		out = append(out, models.ProductMention{
			Term:         s.term,
			MentionCount: s.mentions,
			TotalViews:   s.views,
			AvgViews:     round(float64(s.views)/float64(s.mentions), 2),
			Channels:     channels,
		})
	}
	return out
}

func hasText(f models.MessageFact) bool {
	return f.MessageText != nil && *f.MessageText != ""
}

// TopProducts возвращает самые упоминаемые медицинские термины за период.
func (s *Service) TopProducts(q TopProductsQuery) (models.TopProductsResponse, error) {
	start, end, err := validateWithDates(q, q.DateFrom, q.DateTo)
	if err != nil {
		return models.TopProductsResponse{}, err
	}

	var texts []models.MessageFact
	for _, f := range s.Catalog.MessageFacts.Load() {
		if hasText(f) && inRange(f.MessageDate, start, end) {
			texts = append(texts, f)
		}
	}
	stats := collectTerms(texts, IsMedicalTerm)
	return models.TopProductsResponse{
		Data:          rankTerms(stats, q.MinMentions, q.Limit),
		TotalAnalyzed: len(texts),
		QueryParams: map[string]any{
			"limit":        q.Limit,
			"min_mentions": q.MinMentions,
			"date_from":    optional(q.DateFrom),
			"date_to":      optional(q.DateTo),
		},
	}, nil
}

// ChannelActivity возвращает сводку канала, дневную активность и частые термины за окно Days дней.
func (s *Service) ChannelActivity(q ChannelActivityQuery) (models.ChannelActivityResponse, error) {
	if err := check(q); err != nil {
		return models.ChannelActivityResponse{}, err
	}
	name := strings.ToLower(strings.TrimSpace(q.Channel))
	var channel *models.Channel
	for _, c := range s.Catalog.Channels.Load() {
		if c.ChannelName == name {
			channel = &c
			break
		}
	}
	if channel == nil {
		return models.ChannelActivityResponse{}, ErrChannelNotFound
	}

	today := s.Now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -q.Days)

	dates := make(map[int]time.Time)
	for _, d := range s.Catalog.Dates.Load() {
		dates[d.DateKey] = d.FullDate
	}

	type day struct {
		date   time.Time
		count  int
		views  int64
		images int
	}
	days := make(map[int]*day)
	var recent []models.MessageFact
	for _, f := range s.Catalog.MessageFacts.Load() {
		if f.ChannelKey == nil || *f.ChannelKey != channel.ChannelKey {
			continue
		}
		if hasText(f) && !f.MessageDate.Before(since) {
			recent = append(recent, f)
		}
		if f.DateKey == nil {
			continue
		}
		full, ok := dates[*f.DateKey]
		if !ok || full.Before(since) {
			continue
		}
		d, ok := days[*f.DateKey]
		if !ok {
			d = &day{date: full}
			days[*f.DateKey] = d
		}
		d.count++
		d.views += f.ViewCount
		if f.HasImage {
			d.images++
		}
	}

	activity := make([]models.DailyActivity, 0, len(days))
	for _, d := range days {
		activity = append(activity, models.DailyActivity{
			Date:               d.date.Format(dateLayout),
			MessageCount:       d.count,
			TotalViews:         d.views,
			AvgViews:           round(float64(d.views)/float64(d.count), 2),
			MessagesWithImages: d.images,
		})
	}
	sort.Slice(activity, func(i, j int) bool { return activity[i].Date > activity[j].Date })

	topTerms := []models.ProductMention{}
	if q.IncludeTopTerms {
		topTerms = rankTerms(collectTerms(recent, nil), channelTermsMinMentions, channelTermsLimit)
	}

	return models.ChannelActivityResponse{
		ChannelInfo:   channelStats(*channel),
		DailyActivity: activity,
		TopTerms:      topTerms,
	}, nil
}

// channelStats: среднее число постов в день считается по периоду между первым и последним постом, не меньше одного дня.
func channelStats(c models.Channel) models.ChannelStats {
	span := c.LastPostDate.Sub(c.FirstPostDate).Hours() / 24
	return models.ChannelStats{
		ChannelName:     c.ChannelName,
		ChannelType:     c.ChannelType,
		TotalMessages:   c.TotalPosts,
		AvgDailyPosts:   round(float64(c.TotalPosts)/math.Max(span, 1), 2),
		TotalViews:      c.TotalViews,
		AvgViewsPerPost: c.AvgViews,
		ImagePercentage: c.ImagePercentage,
		FirstPostDate:   c.FirstPostDate.UTC().Format(time.RFC3339),
		LastPostDate:    c.LastPostDate.UTC().Format(time.RFC3339),
	}
}

// SearchMessages ищет сообщения, текст которых содержит строку запроса.
// Сообщения без канала в измерении не участвуют; неизвестный канал в фильтре даёт пустой результат.
func (s *Service) SearchMessages(q SearchQuery) (models.MessageSearchResponse, error) {
	start, end, err := validateWithDates(q, q.DateFrom, q.DateTo)
	if err != nil {
		return models.MessageSearchResponse{}, err
	}

	names := make(map[int]string)
	for _, c := range s.Catalog.Channels.Load() {
		names[c.ChannelKey] = c.ChannelName
	}
	needle := strings.ToLower(q.Query)
	channel := strings.ToLower(strings.TrimSpace(q.Channel))

	var found []models.MessageResult
	for _, f := range s.Catalog.MessageFacts.Load() {
		if f.ChannelKey == nil || !hasText(f) {
			continue
		}
		name, ok := names[*f.ChannelKey]
		if !ok || (channel != "" && name != channel) {
			continue
		}
		if !inRange(f.MessageDate, start, end) || !strings.Contains(strings.ToLower(*f.MessageText), needle) {
			continue
		}
		found = append(found, models.MessageResult{
			MessageID:     f.MessageID,
			ChannelName:   name,
			MessageDate:   f.MessageDate.UTC().Format(time.RFC3339),
			MessageText:   *f.MessageText,
			ViewCount:     f.ViewCount,
			ForwardCount:  f.ForwardCount,
			HasImage:      f.HasImage,
			MessageLength: f.MessageLength,
		})
	}
	// новые выше, при равной дате — популярные
	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.MessageDate != b.MessageDate {
			return a.MessageDate > b.MessageDate
		}
		if a.ViewCount != b.ViewCount {
			return a.ViewCount > b.ViewCount
		}
		if a.MessageID != b.MessageID {
			return a.MessageID < b.MessageID
		}
		return a.ChannelName < b.ChannelName
	})

	total := len(found)
	if len(found) > q.Limit {
		found = found[:q.Limit]
	}
	if found == nil {
		found = []models.MessageResult{}
	}
	return models.MessageSearchResponse{
		Messages:   found,
		TotalFound: total,
		QueryParams: map[string]any{
			"query":     q.Query,
			"limit":     q.Limit,
			"channel":   optional(q.Channel),
			"date_from": optional(q.DateFrom),
			"date_to":   optional(q.DateTo),
		},
	}, nil
}

// VisualContent сводит результаты детекции с уверенностью не ниже MinConfidence.
func (s *Service) VisualContent(q VisualContentQuery) (models.VisualContentResponse, error) {
	if err := check(q); err != nil {
		return models.VisualContentResponse{}, err
	}

	type channelAgg struct {
		images, promo, product, lifestyle int
		confSum                           float64
	}
	type objectAgg struct {
		count   int
		confSum float64
		confN   int
	}
	perChannel := make(map[int]*channelAgg)
	objects := make(map[string]*objectAgg)
	categories := make(map[string]int)
	var total int
	var confSum float64

	for _, d := range s.Catalog.DetectionFacts.Load() {
		if d.MaxConfidence < q.MinConfidence {
			continue
		}
		total++
		confSum += d.MaxConfidence
		categories[d.CalculatedCategory]++

		a, ok := perChannel[d.ChannelKey]
		if !ok {
			a = &channelAgg{}
			perChannel[d.ChannelKey] = a
		}
		a.images++
		a.confSum += d.MaxConfidence
		switch d.CalculatedCategory {
		case models.CategoryPromotional:
			a.promo++
		case models.CategoryProductDisplay:
			a.product++
		case models.CategoryLifestyle:
			a.lifestyle++
		}

		if d.TopClass != nil {
			o, ok := objects[*d.TopClass]
			if !ok {
				o = &objectAgg{}
				objects[*d.TopClass] = o
			}
			o.count++
			if d.TopConfidence != nil {
				o.confSum += *d.TopConfidence
				o.confN++
			}
		}
	}

	stats := []models.ChannelVisualStats{}
	for _, c := range s.Catalog.Channels.Load() {
		a, ok := perChannel[c.ChannelKey]
		if !ok {
			continue
		}
		pct := 0.0
		if c.TotalPosts > 0 {
			pct = round(float64(a.images)*100/float64(c.TotalPosts), 2)
		}
		stats = append(stats, models.ChannelVisualStats{
			ChannelName:         c.ChannelName,
			TotalMessages:       c.TotalPosts,
			MessagesWithImages:  a.images,
			ImagePercentage:     pct,
			PromotionalPosts:    a.promo,
			ProductDisplayPosts: a.product,
			LifestylePosts:      a.lifestyle,
			AvgConfidence:       round(a.confSum/float64(a.images), 4),
		})
	}
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].MessagesWithImages != stats[j].MessagesWithImages {
			return stats[i].MessagesWithImages > stats[j].MessagesWithImages
		}
		return stats[i].ChannelName < stats[j].ChannelName
	})

	top := []models.DetectedObject{}
	if q.IncludeDetails {
		for name, o := range objects {
			avg := 0.0
			if o.confN > 0 {
				avg = round(o.confSum/float64(o.confN), 4)
			}
			top = append(top, models.DetectedObject{Object: name, Count: o.count, AvgConfidence: avg})
		}
		sort.Slice(top, func(i, j int) bool {
			if top[i].Count != top[j].Count {
				return top[i].Count > top[j].Count
			}
			return top[i].Object < top[j].Object
		})
		if len(top) > topObjectsLimit {
			top = top[:topObjectsLimit]
		}
	}

	avg := 0.0
	if total > 0 {
		avg = round(confSum/float64(total), 4)
	}
	return models.VisualContentResponse{
		ChannelStats: stats,
		Summary: models.VisualContentSummary{
			TotalImagesAnalyzed: total,
			AvgConfidenceScore:  avg,
			TopDetectedObjects:  top,
		},
		CategoryDistribution: categories,
	}, nil
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
