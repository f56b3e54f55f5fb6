package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ethmed_go/internal/monitoring"
	"ethmed_go/pkg/pipeline"
)

// Runner — полный запуск пайплайна.
type Runner interface {
	RunAll(ctx context.Context) (*pipeline.RunState, error)
}

// Scheduler запускает пайплайн по расписаниям cron. Перекрывающиеся запуски пропускаются.
type Scheduler struct {
	runner  Runner
	monitor *monitoring.Monitor
	log     *zap.Logger
	cron    *cron.Cron
	specs   []string
}

// New проверяет расписания и создаёт планировщик.
func New(specs []string, runner Runner, monitor *monitoring.Monitor, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{log: logger.Sugar()}
	s := &Scheduler{
		runner:  runner,
		monitor: monitor,
		log:     logger,
		specs:   specs,
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
	for _, spec := range specs {
		if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
			return nil, fmt.Errorf("failed to add cron job %q: %w", spec, err)
		}
	}
	return s, nil
}

// Start крутит расписания до отмены ctx и дожидается текущего запуска.
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info("[SCHEDULER] планировщик запущен", zap.Strings("schedules", s.specs))
	s.cron.Start()

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.log.Info("[SCHEDULER] планировщик остановлен")
	return ctx.Err()
}

// Next возвращает время ближайшего запуска; нулевое, если расписаний нет.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if !e.Next.IsZero() && (next.IsZero() || e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}

func (s *Scheduler) tick() {
	if err := s.RunOnce(context.Background()); err != nil {
		s.log.Error("[SCHEDULER] запуск по расписанию завершился ошибкой", zap.Error(err))
	}
}

// RunOnce выполняет полный запуск и проверяет алерты после него.
// Занятый оркестратор не считается ошибкой: запуск просто пропускается.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	rs, err := s.runner.RunAll(ctx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		s.log.Warn("[SCHEDULER] пайплайн уже выполняется, запуск пропущен")
		return nil
	}
	if s.monitor != nil {
		s.monitor.Check()
	}
	if err != nil {
		return fmt.Errorf("scheduled run failed: %w", err)
	}
	s.log.Info("[SCHEDULER] запуск по расписанию завершён",
		zap.String("run_id", rs.RunID),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// cronLogger направляет журнал cron в zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("[SCHEDULER] "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("[SCHEDULER] "+msg, append(keysAndValues, "error", err)...)
}
