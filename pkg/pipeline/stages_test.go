package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ethmed_go/models"
	"ethmed_go/pkg/warehouse"
)

var stagesNow = time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC)

type fakeScraper struct{ msgs []models.RawMessage }

func (s *fakeScraper) Scrape(_ context.Context, beat func()) ([]models.RawMessage, error) {
	beat()
	return s.msgs, nil
}

type memLanding struct {
	mu      sync.Mutex
	batches [][]models.RawMessage
}

func (l *memLanding) Write(msgs []models.RawMessage, _ time.Time) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, msgs)
	return []string{"batch.json"}, nil
}

func (l *memLanding) ReadAll() ([]models.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.RawMessage
	for _, b := range l.batches {
		out = append(out, b...)
	}
	return out, nil
}

type fakeDetector struct {
	records []models.DetectionRecord
	err     error
}

func (d *fakeDetector) Detect(_ context.Context, beat func()) ([]models.DetectionRecord, error) {
	beat()
	return d.records, d.err
}

// memStore держит таблицы в памяти и повторяет семантику ON CONFLICT DO NOTHING для сырого слоя.
type memStore struct {
	mu             sync.Mutex
	raw            []models.RawMessage
	seen           map[[2]any]bool
	staging        []models.NormalizedMessage
	channels       []models.Channel
	dates          []models.DateDim
	facts          []models.MessageFact
	detections     []models.DetectionRecord
	detectionFacts []models.ImageDetectionFact
	failDimensions error
}

func (s *memStore) InsertRawMessages(_ context.Context, msgs []models.RawMessage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = map[[2]any]bool{}
	}
	n := 0
	for _, m := range msgs {
		key := [2]any{*m.MessageID, *m.ChannelName}
		if s.seen[key] {
			continue
		}
		s.seen[key] = true
		s.raw = append(s.raw, m)
		n++
	}
	return n, nil
}

func (s *memStore) ListRawMessages(context.Context) ([]models.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RawMessage(nil), s.raw...), nil
}

func (s *memStore) ReplaceDimensions(_ context.Context, msgs []models.NormalizedMessage, channels []models.Channel, dates []models.DateDim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDimensions != nil {
		return s.failDimensions
	}
	s.staging, s.channels, s.dates = msgs, channels, dates
	return nil
}

func (s *memStore) ReplaceMessageFacts(_ context.Context, v []models.MessageFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = v
	return nil
}

func (s *memStore) ReplaceRawDetections(_ context.Context, v []models.DetectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = v
	return nil
}

func (s *memStore) ReplaceDetectionFacts(_ context.Context, v []models.ImageDetectionFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectionFacts = v
	return nil
}

func rawMessage(id int64, channel string, date time.Time, text string, views int64) models.RawMessage {
	return models.RawMessage{
		MessageID:   &id,
		ChannelName: &channel,
		MessageDate: models.NewFlexTime(date),
		MessageText: &text,
		Views:       &views,
	}
}

func newWarehouse(t *testing.T, store *memStore, detector *fakeDetector) (*Orchestrator, *warehouse.Catalog) {
	t.Helper()
	scraper := &fakeScraper{msgs: []models.RawMessage{
		rawMessage(1, "ChemEd", stagesNow.Add(-time.Hour), "Paracetamol 500mg", 45),
		rawMessage(2, "tikvahpharma", stagesNow.Add(-30*time.Hour), "Amoxicillin available", 120),
		rawMessage(3, "tikvahpharma", stagesNow.Add(time.Hour), "из будущего", 1),
	}}
	catalog := warehouse.NewCatalog()
	deps := Deps{
		Scraper:  scraper,
		Landing:  &memLanding{},
		Store:    store,
		Detector: detector,
		Catalog:  catalog,
		Now:      func() time.Time { return stagesNow },
	}
	o, err := New(WarehouseStages(deps), nil, nil, Options{Now: deps.Now})
	require.NoError(t, err)
	return o, catalog
}

func TestWarehouseStagesEndToEnd(t *testing.T) {
	store := &memStore{}
	detector := &fakeDetector{records: []models.DetectionRecord{
		{MessageID: 1, ChannelName: "chemed", PersonCount: 1, ProductCount: 1, TotalDetections: 2, MaxConfidence: 0.82},
		{MessageID: 5, ChannelName: "unknown", PersonCount: 1},
	}}
	o, catalog := newWarehouse(t, store, detector)

	rs, err := o.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, rs.Status)

	dims := rs.Stage(StageBuildDimensions).RowCounts
	assert.Equal(t, 3, dims["raw"])
	assert.Equal(t, 2, dims["staging"])
	assert.Equal(t, 1, dims["dropped_future_message_date"])
	assert.Equal(t, 2, dims["channels"])
	assert.Equal(t, 2, dims["dates"])

	require.Len(t, catalog.Channels.Load(), 2)
	assert.Equal(t, "chemed", catalog.Channels.Load()[0].ChannelName)
	assert.Equal(t, models.ChannelTypeMedical, catalog.Channels.Load()[0].ChannelType)
	assert.Len(t, catalog.MessageFacts.Load(), 2)
	assert.Equal(t, store.facts, catalog.MessageFacts.Load(), "каталог публикуется после записи в БД")

	detFacts := catalog.DetectionFacts.Load()
	require.Len(t, detFacts, 1)
	assert.Equal(t, models.CategoryPromotional, detFacts[0].CalculatedCategory)
	assert.Equal(t, models.ConfidenceHigh, detFacts[0].ConfidenceLevel)
	assert.Equal(t, 1, rs.Stage(StageBuildDetectionFacts).RowCounts["unknown_channel"])
	assert.Equal(t, 2, o.History()[0].MessageFacts)
}

// TestWarehouseRebuildIsIdempotent: второй полный запуск на тех же данных даёт те же таблицы.
func TestWarehouseRebuildIsIdempotent(t *testing.T) {
	store := &memStore{}
	o, catalog := newWarehouse(t, store, &fakeDetector{})

	_, err := o.RunAll(context.Background())
	require.NoError(t, err)
	channels, dates, facts := catalog.Channels.Load(), catalog.Dates.Load(), catalog.MessageFacts.Load()

	rs, err := o.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Stage(StageLoadRaw).RowCounts["inserted"], "повторная загрузка не дублирует сырые данные")
	assert.Equal(t, channels, catalog.Channels.Load())
	assert.Equal(t, dates, catalog.Dates.Load())
	assert.Equal(t, facts, catalog.MessageFacts.Load())
}

// TestFailedStageLeavesPublishedTables: сбой при пересборке не трогает уже опубликованные таблицы.
func TestFailedStageLeavesPublishedTables(t *testing.T) {
	store := &memStore{}
	detector := &fakeDetector{}
	o, catalog := newWarehouse(t, store, detector)

	_, err := o.RunAll(context.Background())
	require.NoError(t, err)
	before := catalog.MessageFacts.Load()

	store.failDimensions = errors.New("disk full")
	detector.err = errors.New("model unavailable")
	rs, err := o.RunAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusFailed, rs.StatusOf(StageBuildDimensions))
	assert.Equal(t, StatusFailed, rs.StatusOf(StageRunDetection))
	assert.Equal(t, StatusPending, rs.StatusOf(StageBuildDetectionFacts))
	assert.Equal(t, before, catalog.MessageFacts.Load())
	assert.Len(t, catalog.Channels.Load(), 2)
}

// TestFailedDimensionsKeepStoredTables: после сбоя публикации в БД остаются
// staging и измерения прошлого успешного запуска, а не смесь старых и новых.
func TestFailedDimensionsKeepStoredTables(t *testing.T) {
	store := &memStore{}
	o, _ := newWarehouse(t, store, &fakeDetector{})

	_, err := o.RunAll(context.Background())
	require.NoError(t, err)
	staging, channels, dates := store.staging, store.channels, store.dates

	// новый канал и новая дата, которых нет в опубликованных таблицах
	_, err = store.InsertRawMessages(context.Background(), []models.RawMessage{
		rawMessage(7, "lobelia4cosmetics", stagesNow.Add(-240*time.Hour), "Sunscreen SPF 50", 10),
	})
	require.NoError(t, err)
	store.failDimensions = errors.New("disk full")

	rs, err := o.RunStage(context.Background(), StageBuildDimensions)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, rs.StatusOf(StageBuildDimensions))
	assert.Equal(t, staging, store.staging)
	assert.Equal(t, channels, store.channels)
	assert.Equal(t, dates, store.dates)
}
