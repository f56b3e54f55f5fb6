package models

import "time"

// Типы каналов, которые выводятся из названия.
const (
	ChannelTypePharmaceutical = "Pharmaceutical"
	ChannelTypeCosmetics      = "Cosmetics"
	ChannelTypeMedical        = "Medical"
	ChannelTypeOther          = "Other"
)

// Channel — строка измерения каналов.
// Суррогатный ключ назначается по алфавиту названий и стабилен только в пределах одной пересборки.
type Channel struct {
	ChannelKey      int       `json:"channel_key"`
	ChannelName     string    `json:"channel_name"`
	ChannelType     string    `json:"channel_type"`
	FirstPostDate   time.Time `json:"first_post_date"`
	LastPostDate    time.Time `json:"last_post_date"`
	TotalPosts      int       `json:"total_posts"`
	TotalViews      int64     `json:"total_views"`
	AvgViews        float64   `json:"avg_views"`
	PostsWithImages int       `json:"posts_with_images"`
	PostsWithMedia  int       `json:"posts_with_media"`
	ImagePercentage float64   `json:"image_percentage"` // 0–100
	MediaPercentage float64   `json:"media_percentage"` // 0–100
}
