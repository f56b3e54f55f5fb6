package models

// Ответы аналитического API. Поля совпадают с контрактом исходного сервиса отчётов.

// ProductMention — упоминаемый термин и агрегаты по сообщениям, где он встретился.
type ProductMention struct {
	Term         string   `json:"term"`
	MentionCount int      `json:"mention_count"`
	TotalViews   int64    `json:"total_views"`
	AvgViews     float64  `json:"avg_views"`
	Channels     []string `json:"channels"`
}

type TopProductsResponse struct {
	Data          []ProductMention `json:"data"`
	TotalAnalyzed int              `json:"total_analyzed"`
	QueryParams   map[string]any   `json:"query_params"`
}

// DailyActivity — активность канала за один день.
type DailyActivity struct {
	Date               string  `json:"date"`
	MessageCount       int     `json:"message_count"`
	TotalViews         int64   `json:"total_views"`
	AvgViews           float64 `json:"avg_views"`
	MessagesWithImages int     `json:"messages_with_images"`
}

// ChannelStats — сводка по каналу из измерения каналов.
type ChannelStats struct {
	ChannelName     string  `json:"channel_name"`
	ChannelType     string  `json:"channel_type"`
	TotalMessages   int     `json:"total_messages"`
	AvgDailyPosts   float64 `json:"avg_daily_posts"`
	TotalViews      int64   `json:"total_views"`
	AvgViewsPerPost float64 `json:"avg_views_per_post"`
	ImagePercentage float64 `json:"image_percentage"`
	FirstPostDate   string  `json:"first_post_date"`
	LastPostDate    string  `json:"last_post_date"`
}

type ChannelActivityResponse struct {
	ChannelInfo   ChannelStats     `json:"channel_info"`
	DailyActivity []DailyActivity  `json:"daily_activity"`
	TopTerms      []ProductMention `json:"top_terms"`
}

// MessageResult — найденное сообщение.
type MessageResult struct {
	MessageID     int64  `json:"message_id"`
	ChannelName   string `json:"channel_name"`
	MessageDate   string `json:"message_date"`
	MessageText   string `json:"message_text"`
	ViewCount     int64  `json:"view_count"`
	ForwardCount  int64  `json:"forward_count"`
	HasImage      bool   `json:"has_image"`
	MessageLength int    `json:"message_length"`
}

type MessageSearchResponse struct {
	Messages    []MessageResult `json:"messages"`
	TotalFound  int             `json:"total_found"`
	QueryParams map[string]any  `json:"query_params"`
}

// ChannelVisualStats — визуальный контент одного канала.
type ChannelVisualStats struct {
	ChannelName         string  `json:"channel_name"`
	TotalMessages       int     `json:"total_messages"`
	MessagesWithImages  int     `json:"messages_with_images"`
	ImagePercentage     float64 `json:"image_percentage"`
	PromotionalPosts    int     `json:"promotional_posts"`
	ProductDisplayPosts int     `json:"product_display_posts"`
	LifestylePosts      int     `json:"lifestyle_posts"`
	AvgConfidence       float64 `json:"avg_confidence"`
}

// DetectedObject — класс объекта в общем рейтинге детекций.
type DetectedObject struct {
	Object        string  `json:"object"`
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

type VisualContentSummary struct {
	TotalImagesAnalyzed int              `json:"total_images_analyzed"`
	AvgConfidenceScore  float64          `json:"avg_confidence_score"`
	TopDetectedObjects  []DetectedObject `json:"top_detected_objects"`
}

type VisualContentResponse struct {
	ChannelStats         []ChannelVisualStats `json:"channel_stats"`
	Summary              VisualContentSummary `json:"summary"`
	CategoryDistribution map[string]int       `json:"category_distribution"`
}
