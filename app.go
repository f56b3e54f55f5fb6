package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ethmed_go/internal/config"
	"ethmed_go/internal/monitoring"
	"ethmed_go/models"
	"ethmed_go/pkg/detection"
	"ethmed_go/pkg/landing"
	"ethmed_go/pkg/pipeline"
	"ethmed_go/pkg/storage"
	"ethmed_go/pkg/telegram"
	"ethmed_go/pkg/warehouse"
)

// app связывает хранилище, каталог, оркестратор и монитор одного процесса.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	db      *storage.DB
	catalog *warehouse.Catalog
	orch    *pipeline.Orchestrator
	monitor *monitoring.Monitor
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := storage.Open(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	catalog := warehouse.NewCatalog()
	if err := db.LoadCatalog(ctx, catalog); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	a := &app{cfg: cfg, log: logger, db: db, catalog: catalog}
	zone := landing.New(cfg.Data.RawPath, logger)
	deps := pipeline.Deps{
		Scraper:          a.scraper(zone),
		Landing:          zone,
		Store:            db,
		Detector:         a.detector(zone),
		Catalog:          catalog,
		ScrapeTimeout:    cfg.Pipeline.ScrapeTimeout,
		DetectionTimeout: cfg.Pipeline.DetectionTimeout,
	}
	a.orch, err = pipeline.New(pipeline.WarehouseStages(deps), db, logger, pipeline.Options{
		StageTimeout:      cfg.Pipeline.StageTimeout,
		HeartbeatTimeout:  cfg.Pipeline.HeartbeatTimeout,
		HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
		HistorySize:       cfg.Pipeline.HistorySize,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if outcomes, err := db.LastStageOutcomes(ctx); err != nil {
		logger.Warn("[PIPELINE] не удалось восстановить состояние стадий", zap.Error(err))
	} else {
		a.orch.Seed(outcomes)
	}

	a.monitor = monitoring.NewMonitor(a.history, func() int { return len(catalog.MessageFacts.Load()) },
		cfg.Monitoring, logger)
	return a, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("[DB] ошибка закрытия соединения", zap.Error(err))
	}
}

// history: запуски этого процесса, а до первого запуска — сохранённые в БД.
func (a *app) history() []models.PipelineRun {
	if runs := a.orch.History(); len(runs) > 0 {
		return runs
	}
	runs, err := a.db.ListRuns(context.Background(), 50)
	if err != nil {
		a.log.Warn("[MONITOR] не удалось прочитать историю запусков", zap.Error(err))
		return nil
	}
	return runs
}

func (a *app) credentials() telegram.Credentials {
	return telegram.Credentials{
		APIID:    a.cfg.Telegram.APIID,
		APIHash:  a.cfg.Telegram.APIHash,
		Phone:    a.cfg.Telegram.Phone,
		Password: a.cfg.Telegram.Password,
	}
}

// scraper: без учётных данных Telegram стадия scrape ничего не скачивает,
// и пайплайн работает по уже лежащим в сырой зоне файлам.
func (a *app) scraper(zone *landing.Zone) pipeline.Scraper {
	if err := a.cfg.TelegramReady(); err != nil {
		a.log.Warn("[SCRAPER] Telegram не настроен, используются только файлы сырой зоны", zap.Error(err))
		return landingOnly{log: a.log}
	}
	client, err := telegram.NewClient(a.credentials(), a.cfg.Proxy, a.db.Conn, a.log)
	if err != nil {
		a.log.Warn("[SCRAPER] не удалось создать клиент Telegram", zap.Error(err))
		return landingOnly{log: a.log}
	}
	return &telegram.Scraper{
		Session:   telegram.ClientSession(client),
		Channels:  a.cfg.Telegram.Channels,
		Limit:     a.cfg.Telegram.Limit,
		PageSize:  a.cfg.Telegram.PageSize,
		ImagePath: zone.ImagePath,
		Delay:     a.cfg.Telegram.Delay(),
		Log:       a.log,
	}
}

// detector: готовый CSV с результатами важнее команды модели.
func (a *app) detector(zone *landing.Zone) pipeline.Detector {
	dc := a.cfg.Detection
	if dc.CSV != "" {
		return detection.CSVSource{Path: dc.CSV, Log: a.log}
	}
	var model detection.Model = missingModel{}
	if dc.Command != "" {
		model = detection.CommandModel{Command: dc.Command, Args: dc.Args}
	}
	return &detection.Runner{
		ImagesRoot: zone.ImagesRoot(),
		Model:      model,
		Workers:    dc.Workers,
		Threshold:  dc.Threshold,
		Log:        a.log,
	}
}

type landingOnly struct {
	log *zap.Logger
}

func (l landingOnly) Scrape(context.Context, func()) ([]models.RawMessage, error) {
	l.log.Info("[SCRAPER] скрейп пропущен")
	return nil, nil
}

type missingModel struct{}

func (missingModel) Detect(context.Context, string) ([]detection.Object, error) {
	return nil, fmt.Errorf("%w: set detection.command or detection.csv", detection.ErrModelUnavailable)
}
