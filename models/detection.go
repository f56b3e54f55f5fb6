package models

import "time"

// DetectionRecord — результат детектора объектов для одного изображения.
// Записи приходят извне (команда детектора или CSV с результатами).
type DetectionRecord struct {
	MessageID           int64     `json:"message_id"`
	ChannelName         string    `json:"channel_name"`
	ImagePath           string    `json:"image_path"`
	ImageCategory       *string   `json:"image_category"` // собственная метка модели, если есть
	TotalDetections     int       `json:"total_detections"`
	PersonCount         int       `json:"person_count"`
	ProductCount        int       `json:"product_count"`
	MaxConfidence       float64   `json:"max_confidence"`
	AvgConfidence       float64   `json:"avg_confidence"`
	TopClass            *string   `json:"top_class"`
	TopConfidence       *float64  `json:"top_confidence"`
	ProcessingTimestamp time.Time `json:"processing_timestamp"`
}

// Значения производных полей ImageDetectionFact.
const (
	CategoryPromotional    = "promotional"
	CategoryProductDisplay = "product_display"
	CategoryLifestyle      = "lifestyle"
	CategoryOther          = "other"

	DensityNone     = "no_objects"
	DensityFew      = "few_objects"
	DensityModerate = "moderate_objects"
	DensityMany     = "many_objects"

	ConfidenceHigh   = "high_confidence"
	ConfidenceMedium = "medium_confidence"
	ConfidenceLow    = "low_confidence"
	ConfidenceNone   = "no_confidence"
)

// ImageDetectionFact — результат детекции, привязанный к измерениям.
// ChannelKey всегда заполнен: записи с неизвестным каналом отбрасываются.
// DateKey берётся из факта сообщения и может отсутствовать.
type ImageDetectionFact struct {
	MessageID           int64     `json:"message_id"`
	ChannelName         string    `json:"channel_name"`
	ChannelKey          int       `json:"channel_key"`
	DateKey             *int      `json:"date_key"`
	ImagePath           string    `json:"image_path"`
	ImageCategory       *string   `json:"image_category"`
	TotalDetections     int       `json:"total_detections"`
	PersonCount         int       `json:"person_count"`
	ProductCount        int       `json:"product_count"`
	MaxConfidence       float64   `json:"max_confidence"`
	AvgConfidence       float64   `json:"avg_confidence"`
	TopClass            *string   `json:"top_class"`
	TopConfidence       *float64  `json:"top_confidence"`
	ProcessingTimestamp time.Time `json:"processing_timestamp"`
	CalculatedCategory  string    `json:"calculated_category"`
	DetectionDensity    string    `json:"detection_density"`
	ConfidenceLevel     string    `json:"confidence_level"`
}
