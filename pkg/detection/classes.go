// Package detection находит изображения из сырой зоны, прогоняет их через модель детекции объектов
// и сводит найденные объекты в models.DetectionRecord по одному на изображение.
package detection

import (
	"sort"
	"time"

	"ethmed_go/models"
)

// DefaultConfidenceThreshold — объекты с меньшей уверенностью модели не учитываются.
const DefaultConfidenceThreshold = 0.25

var personClasses = map[string]bool{"person": true}

// productClasses — бытовые предметы и товары из словаря COCO.
var productClasses = map[string]bool{
	"bottle": true, "cup": true, "vase": true, "wine glass": true, "fork": true, "spoon": true,
	"knife": true, "bowl": true, "banana": true, "apple": true, "sandwich": true, "orange": true,
	"broccoli": true, "carrot": true, "hot dog": true, "pizza": true, "donut": true, "cake": true,
	"book": true, "cell phone": true, "laptop": true, "remote": true, "keyboard": true, "mouse": true,
	"microwave": true, "oven": true, "toaster": true, "sink": true, "refrigerator": true, "clock": true,
	"scissors": true, "teddy bear": true, "hair drier": true, "toothbrush": true,
}

// Object — один найденный моделью объект.
type Object struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
}

// IsPerson и IsProduct проверяют принадлежность класса к группам.
func IsPerson(class string) bool  { return personClasses[class] }
func IsProduct(class string) bool { return productClasses[class] }

// Aggregate сводит объекты одного изображения в запись детекции.
// Объекты ниже порога отбрасываются до подсчёта.
func Aggregate(img Image, objects []Object, threshold float64, processedAt time.Time) models.DetectionRecord {
	kept := make([]Object, 0, len(objects))
	for _, o := range objects {
		if o.Confidence >= threshold {
			kept = append(kept, o)
		}
	}
	// стабильный порядок: при равной уверенности побеждает класс, найденный первым
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Confidence > kept[j].Confidence })

	rec := models.DetectionRecord{
		MessageID:           img.MessageID,
		ChannelName:         img.Channel,
		ImagePath:           img.Path,
		TotalDetections:     len(kept),
		ProcessingTimestamp: processedAt.UTC(),
	}
	var sum float64
	for _, o := range kept {
		if IsPerson(o.ClassName) {
			rec.PersonCount++
		}
		if IsProduct(o.ClassName) {
			rec.ProductCount++
		}
		sum += o.Confidence
	}
	if len(kept) > 0 {
		top := kept[0]
		rec.MaxConfidence = top.Confidence
		rec.AvgConfidence = sum / float64(len(kept))
		rec.TopClass = &top.ClassName
		rec.TopConfidence = &top.Confidence
	}

	category := imageCategory(rec.PersonCount > 0, rec.ProductCount > 0)
	rec.ImageCategory = &category
	return rec
}

func imageCategory(person, product bool) string {
	switch {
	case person && product:
		return models.CategoryPromotional
	case product:
		return models.CategoryProductDisplay
	case person:
		return models.CategoryLifestyle
	default:
		return models.CategoryOther
	}
}
