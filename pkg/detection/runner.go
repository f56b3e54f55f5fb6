package detection

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ethmed_go/models"
)

// Runner прогоняет все изображения через модель с ограниченным параллелизмом.
// Результат возвращается только целиком; при отмене или отказе модели частичный набор теряется.
type Runner struct {
	ImagesRoot string
	Model      Model
	Workers    int
	Threshold  float64
	Log        *zap.Logger
	Now        func() time.Time
}

func (r *Runner) Detect(ctx context.Context, beat func()) ([]models.DetectionRecord, error) {
	logger := r.Log
	if logger == nil {
		logger = zap.NewNop()
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	threshold := r.Threshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	images, err := FindImages(r.ImagesRoot, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("[DETECTION] найдены изображения", zap.Int("count", len(images)))

	results := make([]*models.DetectionRecord, len(images))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, img := range images {
		g.Go(func() error {
			objects, err := r.Model.Detect(gctx, img.Path)
			if beat != nil {
				beat()
			}
			if err != nil {
				if gctx.Err() != nil || isUnavailable(err) {
					return fmt.Errorf("detect %s: %w", img.Path, err)
				}
				// одно битое изображение не должно валить весь прогон
				failed.Add(1)
				logger.Warn("[DETECTION] ошибка обработки изображения", zap.String("path", img.Path), zap.Error(err))
				return nil
			}
			rec := Aggregate(img, objects, threshold, now())
			results[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// ни одного результата: прошлый набор детекций ценнее пустого
	if n := failed.Load(); len(images) > 0 && n == int64(len(images)) {
		return nil, fmt.Errorf("%w: all %d images failed", ErrAllImagesFailed, n)
	}

	out := make([]models.DetectionRecord, 0, len(images))
	for _, rec := range results {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	logger.Info("[DETECTION] детекция завершена",
		zap.Int("processed", len(out)),
		zap.Int64("failed", failed.Load()))
	return out, nil
}

// isUnavailable отличает отсутствие модели от ошибки на конкретном изображении.
func isUnavailable(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrModelUnavailable)
}

// ErrAllImagesFailed — модель отказала на каждом изображении прогона.
var ErrAllImagesFailed = errors.New("detection failed for every image")

// ErrModelUnavailable возвращает модель, которая не может обработать ни одного изображения.
var ErrModelUnavailable = errors.New("detection model unavailable")
