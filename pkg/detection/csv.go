package detection

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"ethmed_go/models"
)

var requiredColumns = []string{
	"message_id", "channel_name", "image_category",
	"total_detections", "person_count", "product_count",
	"max_confidence", "avg_confidence",
}

// CSVSource читает готовые результаты детекции из CSV с заголовком.
// Используется, когда модель запускается вне конвейера.
type CSVSource struct {
	Path string
	Log  *zap.Logger
}

func (s CSVSource) Detect(ctx context.Context, beat func()) ([]models.DetectionRecord, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open detections csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(ctx, f, s.logger(), beat)
}

func (s CSVSource) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// ReadCSV разбирает CSV результатов. Строки с пустыми ключами или отрицательными счётчиками пропускаются.
func ReadCSV(ctx context.Context, r io.Reader, logger *zap.Logger, beat func()) ([]models.DetectionRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("detections csv is empty")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("detections csv: missing columns %s", strings.Join(missing, ", "))
	}

	var out []models.DetectionRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if beat != nil {
				beat()
			}
		}
		rec, err := parseRow(idx, row)
		if err != nil {
			logger.Warn("[DETECTION] строка CSV пропущена", zap.Int("line", line), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRow(idx map[string]int, row []string) (models.DetectionRecord, error) {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var rec models.DetectionRecord
	id, err := parseInt(get("message_id"))
	if err != nil || id <= 0 {
		return rec, fmt.Errorf("bad message_id %q", get("message_id"))
	}
	rec.MessageID = id
	rec.ChannelName = get("channel_name")
	if rec.ChannelName == "" {
		return rec, errors.New("empty channel_name")
	}
	rec.ImagePath = get("image_path")
	if v := get("image_category"); v != "" {
		rec.ImageCategory = &v
	}

	counts := []struct {
		col string
		dst *int
	}{
		{"total_detections", &rec.TotalDetections},
		{"person_count", &rec.PersonCount},
		{"product_count", &rec.ProductCount},
	}
	for _, c := range counts {
		n, err := parseInt(get(c.col))
		if err != nil || n < 0 {
			return rec, fmt.Errorf("bad %s %q", c.col, get(c.col))
		}
		*c.dst = int(n)
	}

	if rec.MaxConfidence, err = parseFloat(get("max_confidence")); err != nil {
		return rec, fmt.Errorf("bad max_confidence: %w", err)
	}
	if rec.AvgConfidence, err = parseFloat(get("avg_confidence")); err != nil {
		return rec, fmt.Errorf("bad avg_confidence: %w", err)
	}
	if v := get("top_class"); v != "" {
		rec.TopClass = &v
	}
	if v := get("top_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return rec, fmt.Errorf("bad top_confidence: %w", err)
		}
		rec.TopConfidence = &f
	}
	if v := get("processing_timestamp"); v != "" {
		ts, err := models.ParseFlexTime(v)
		if err != nil {
			return rec, err
		}
		rec.ProcessingTimestamp = ts
	}
	return rec, nil
}

// parseInt принимает и "12", и "12.0": pandas пишет целые с пропусками как float.
func parseInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int64(f), nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
