package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ethmed_go/models"
	"ethmed_go/pkg/transform"
	"ethmed_go/pkg/warehouse"
)

// Scraper собирает новые сообщения из источника.
type Scraper interface {
	Scrape(ctx context.Context, beat func()) ([]models.RawMessage, error)
}

// Landing — сырая зона: партиционированные JSON-файлы, одна партия на скрейп.
type Landing interface {
	Write(msgs []models.RawMessage, scrapedAt time.Time) ([]string, error)
	ReadAll() ([]models.RawMessage, error)
}

// Detector возвращает полный набор результатов детекции за прогон.
type Detector interface {
	Detect(ctx context.Context, beat func()) ([]models.DetectionRecord, error)
}

// Store — таблицы хранилища. Каждая Replace* публикует свои таблицы целиком одной транзакцией.
type Store interface {
	InsertRawMessages(ctx context.Context, msgs []models.RawMessage) (int, error)
	ListRawMessages(ctx context.Context) ([]models.RawMessage, error)
	ReplaceDimensions(ctx context.Context, msgs []models.NormalizedMessage, channels []models.Channel, dates []models.DateDim) error
	ReplaceMessageFacts(ctx context.Context, facts []models.MessageFact) error
	ReplaceRawDetections(ctx context.Context, records []models.DetectionRecord) error
	ReplaceDetectionFacts(ctx context.Context, facts []models.ImageDetectionFact) error
}

// Deps — всё, что нужно стадиям хранилища.
type Deps struct {
	Scraper  Scraper
	Landing  Landing
	Store    Store
	Detector Detector
	Catalog  *warehouse.Catalog
	Now      func() time.Time

	ScrapeTimeout    time.Duration
	DetectionTimeout time.Duration
}

// WarehouseStages собирает граф стадий:
//
//	scrape → load_raw → build_dimensions → build_message_facts ┐
//	scrape → run_detection ─────────────────────────────────────┴→ build_detection_facts
func WarehouseStages(d Deps) []Stage {
	if d.Now == nil {
		d.Now = time.Now
	}
	return []Stage{
		{Name: StageScrape, Run: d.scrape, Timeout: d.ScrapeTimeout},
		{Name: StageLoadRaw, Deps: []string{StageScrape}, Run: d.loadRaw},
		{Name: StageBuildDimensions, Deps: []string{StageLoadRaw}, Run: d.buildDimensions},
		{Name: StageBuildMessageFacts, Deps: []string{StageBuildDimensions}, Run: d.buildMessageFacts},
		{Name: StageRunDetection, Deps: []string{StageScrape}, Run: d.runDetection, Timeout: d.DetectionTimeout},
		{Name: StageBuildDetectionFacts, Deps: []string{StageBuildMessageFacts, StageRunDetection}, Run: d.buildDetectionFacts},
	}
}

func (d Deps) scrape(ctx context.Context, sc *StageContext) (map[string]int, error) {
	msgs, err := d.Scraper.Scrape(ctx, sc.Beat)
	if err != nil {
		return nil, fmt.Errorf("scrape: %w", err)
	}
	files, err := d.Landing.Write(msgs, d.Now())
	if err != nil {
		return nil, fmt.Errorf("write landing: %w", err)
	}
	return map[string]int{"messages": len(msgs), "files": len(files)}, nil
}

func (d Deps) loadRaw(ctx context.Context, sc *StageContext) (map[string]int, error) {
	msgs, err := d.Landing.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read landing: %w", err)
	}
	sc.Beat()
	inserted, err := d.Store.InsertRawMessages(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return map[string]int{"received": len(msgs), "inserted": inserted}, nil
}

func (d Deps) buildDimensions(ctx context.Context, sc *StageContext) (map[string]int, error) {
	raws, err := d.Store.ListRawMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list raw messages: %w", err)
	}
	msgs, report := transform.Normalize(raws, d.Now().UTC())
	if report.TotalDropped() > 0 {
		sc.Log.Warn("[PIPELINE] отброшены невалидные сообщения",
			zap.Int("dropped", report.TotalDropped()),
			zap.Any("reasons", report.Dropped))
	}
	sc.Beat()

	// измерения не зависят друг от друга и строятся параллельно
	var (
		channels []models.Channel
		dates    []models.DateDim
	)
	var g errgroup.Group
	g.Go(func() error {
		channels = transform.BuildChannelDimension(msgs)
		return nil
	})
	g.Go(func() error {
		dates = transform.BuildDateDimension(msgs)
		return nil
	})
	_ = g.Wait()

	// все три таблицы публикуются вместе, последним действием стадии
	if err := d.Store.ReplaceDimensions(ctx, msgs, channels, dates); err != nil {
		return nil, err
	}

	now := d.Now()
	d.Catalog.Staging.Swap(msgs, now)
	d.Catalog.Channels.Swap(channels, now)
	d.Catalog.Dates.Swap(dates, now)

	counts := map[string]int{
		"raw":      report.Input,
		"staging":  len(msgs),
		"dropped":  report.TotalDropped(),
		"channels": len(channels),
		"dates":    len(dates),
	}
	for reason, n := range report.Dropped {
		counts["dropped_"+string(reason)] = n
	}
	return counts, nil
}

func (d Deps) buildMessageFacts(ctx context.Context, sc *StageContext) (map[string]int, error) {
	facts, err := transform.BuildMessageFacts(d.Catalog.Staging.Load(), d.Catalog.Channels.Load(), d.Catalog.Dates.Load())
	if err != nil {
		return nil, err
	}
	if err := d.Store.ReplaceMessageFacts(ctx, facts); err != nil {
		return nil, err
	}
	d.Catalog.MessageFacts.Swap(facts, d.Now())
	return map[string]int{"message_facts": len(facts), "orphans": transform.CountOrphans(facts)}, nil
}

// runDetection публикует результаты только целиком: частичный набор до нижних стадий не доходит.
func (d Deps) runDetection(ctx context.Context, sc *StageContext) (map[string]int, error) {
	records, err := d.Detector.Detect(ctx, sc.Beat)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if err := d.Store.ReplaceRawDetections(ctx, records); err != nil {
		return nil, err
	}
	d.Catalog.RawDetections.Swap(records, d.Now())
	return map[string]int{"detections": len(records)}, nil
}

func (d Deps) buildDetectionFacts(ctx context.Context, sc *StageContext) (map[string]int, error) {
	facts, report := transform.BuildDetectionFacts(
		d.Catalog.RawDetections.Load(),
		d.Catalog.Channels.Load(),
		d.Catalog.MessageFacts.Load(),
		d.Catalog.Dates.Load(),
	)
	if report.UnknownChannel > 0 {
		sc.Log.Warn("[PIPELINE] детекции с неизвестным каналом отброшены", zap.Int("count", report.UnknownChannel))
	}
	if err := d.Store.ReplaceDetectionFacts(ctx, facts); err != nil {
		return nil, err
	}
	d.Catalog.DetectionFacts.Swap(facts, d.Now())
	return map[string]int{
		"detection_facts": len(facts),
		"unknown_channel": report.UnknownChannel,
		"missing_date":    report.MissingDate,
	}, nil
}
