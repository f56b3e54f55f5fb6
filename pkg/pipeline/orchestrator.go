package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ethmed_go/models"
)

// Recorder сохраняет наблюдаемые результаты запусков. Ошибки записи не влияют на исход стадии.
type Recorder interface {
	SaveRun(ctx context.Context, r models.PipelineRun) error
	SaveStageRun(ctx context.Context, m models.StageMetadata) error
	SaveStageFailure(ctx context.Context, f models.StageFailure) error
}

// Options — политика таймаутов и размер истории.
type Options struct {
	StageTimeout      time.Duration // общий потолок для стадии; 0 — без ограничения
	HeartbeatTimeout  time.Duration // отмена стадии без сигналов дольше этого срока; 0 — не следить
	HeartbeatInterval time.Duration // частота проверки сигнала
	HistorySize       int
	Now               func() time.Time
}

// StageInfo описывает стадию для CLI и API.
type StageInfo struct {
	Name string   `json:"name"`
	Deps []string `json:"deps"`
}

type nopRecorder struct{}

func (nopRecorder) SaveRun(context.Context, models.PipelineRun) error           { return nil }
func (nopRecorder) SaveStageRun(context.Context, models.StageMetadata) error    { return nil }
func (nopRecorder) SaveStageFailure(context.Context, models.StageFailure) error { return nil }

// Orchestrator выполняет стадии по одной в топологическом порядке.
// Одновременно допускается один запуск; состояние последнего запуска хранится явно.
type Orchestrator struct {
	stages []Stage
	rec    Recorder
	log    *zap.Logger
	opts   Options

	mu      sync.Mutex
	cancel  context.CancelFunc
	current *RunState
	last    *RunState
	history []models.PipelineRun
}

// New проверяет граф стадий и создаёт оркестратор.
func New(stages []Stage, rec Recorder, logger *zap.Logger, opts Options) (*Orchestrator, error) {
	ordered, err := order(stages)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	return &Orchestrator{stages: ordered, rec: rec, log: logger, opts: opts}, nil
}

// Stages перечисляет стадии в порядке выполнения.
func (o *Orchestrator) Stages() []StageInfo {
	out := make([]StageInfo, len(o.stages))
	for i, s := range o.stages {
		out[i] = StageInfo{Name: s.Name, Deps: append([]string(nil), s.Deps...)}
	}
	return out
}

// Seed восстанавливает последнее известное состояние стадий (например, из истории в БД),
// если в этом процессе ещё не было запусков. Успешная стадия, чья входная стадия
// успешно пересобиралась позже неё, считается устаревшей и восстанавливается как PENDING.
func (o *Orchestrator) Seed(outcomes map[string]models.StageOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last != nil || len(outcomes) == 0 {
		return
	}
	rs := newRunState("", "restored", o.stages, o.opts.Now())
	rs.Status = "RESTORED"
	stale := map[string]bool{}
	for _, st := range o.stages {
		out := outcomes[st.Name]
		s := rs.Stage(st.Name)
		switch Status(out.Status) {
		case StatusFailed:
			s.Status = StatusFailed
		case StatusSucceeded:
			for _, dep := range st.Deps {
				if stale[dep] || (Status(outcomes[dep].Status) == StatusSucceeded && outcomes[dep].At.After(out.At)) {
					stale[st.Name] = true
				}
			}
			if !stale[st.Name] {
				s.Status = StatusSucceeded
			}
		}
	}
	o.last = rs
}

// RunAll запускает весь граф с нуля: каждая стадия начинает с PENDING.
// Упавшая стадия блокирует зависимые, независимые ветви выполняются дальше.
// Возвращается первая ошибка стадии (*StageExecutionError).
func (o *Orchestrator) RunAll(ctx context.Context) (*RunState, error) {
	rs, runCtx, err := o.begin(ctx, ModeFull, nil)
	if err != nil {
		return nil, err
	}

	var firstErr error
	for _, st := range o.stages {
		if runCtx.Err() != nil {
			break
		}
		if blocked := blockers(rs, st); len(blocked) > 0 {
			o.update(func() { rs.Stage(st.Name).BlockedBy = blocked })
			o.log.Warn("[PIPELINE] стадия заблокирована",
				zap.String("run_id", rs.RunID),
				zap.String("stage", st.Name),
				zap.Strings("blocked_by", blocked))
			continue
		}
		if err := o.execute(runCtx, rs, st); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return o.finish(ctx, rs, runCtx, firstErr)
}

// RunStage перезапускает одну стадию. Все её входные стадии должны быть SUCCEEDED
// в последнем известном состоянии, иначе возвращается *StagePrerequisiteError без выполнения.
func (o *Orchestrator) RunStage(ctx context.Context, name string) (*RunState, error) {
	st, ok := o.stage(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	check := func(last *RunState) error { return prerequisites(last, st) }

	rs, runCtx, err := o.begin(ctx, name, check)
	if err != nil {
		return nil, err
	}
	runErr := o.execute(runCtx, rs, st)
	return o.finish(ctx, rs, runCtx, runErr)
}

// CanRun проверяет без запуска, примет ли оркестратор запуск в режиме mode
// (ModeFull или имя стадии). Ошибки те же, что вернули бы RunAll и RunStage до выполнения.
func (o *Orchestrator) CanRun(mode string) error {
	var st Stage
	if mode != ModeFull {
		var ok bool
		if st, ok = o.stage(mode); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStage, mode)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return ErrRunInProgress
	}
	if mode == ModeFull {
		return nil
	}
	return prerequisites(o.last, st)
}

// Cancel отменяет активный запуск. Возвращает false, если запуска нет.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// Running сообщает, идёт ли сейчас запуск.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

// Status возвращает копию активного запуска, а если его нет — последнего завершённого.
func (o *Orchestrator) Status() *RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		return o.current.clone()
	}
	return o.last.clone()
}

// History возвращает завершённые запуски этого процесса, новые первыми.
func (o *Orchestrator) History() []models.PipelineRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.PipelineRun, len(o.history))
	for i, r := range o.history {
		out[len(o.history)-1-i] = r
	}
	return out
}

func (o *Orchestrator) stage(name string) (Stage, bool) {
	for _, s := range o.stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// begin захватывает право на запуск и готовит состояние.
func (o *Orchestrator) begin(ctx context.Context, mode string, check func(last *RunState) error) (*RunState, context.Context, error) {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return nil, nil, ErrRunInProgress
	}
	if check != nil {
		if err := check(o.last); err != nil {
			o.mu.Unlock()
			return nil, nil, err
		}
	}

	now := o.opts.Now()
	runID := uuid.NewString()
	var rs *RunState
	if mode == ModeFull || o.last == nil {
		rs = newRunState(runID, mode, o.stages, now)
	} else {
		// одиночный запуск продолжает последнее известное состояние
		rs = o.last.clone()
		rs.RunID, rs.Mode, rs.Status, rs.StartedAt, rs.FinishedAt = runID, mode, models.RunStatusRunning, now, nil
		*rs.Stage(mode) = StageState{Name: mode, Status: StatusPending}
		// таблицы нижних стадий построены по старой версии и больше не актуальны
		for _, name := range o.dependents(mode) {
			*rs.Stage(name) = StageState{Name: name, Status: StatusPending}
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.current = rs
	o.mu.Unlock()

	if err := o.rec.SaveRun(context.WithoutCancel(ctx), rs.summary()); err != nil {
		o.log.Warn("[PIPELINE] не удалось сохранить запуск", zap.Error(err))
	}
	o.log.Info("[PIPELINE] запуск начат", zap.String("run_id", runID), zap.String("mode", mode))
	return rs, runCtx, nil
}

func (o *Orchestrator) finish(ctx context.Context, rs *RunState, runCtx context.Context, runErr error) (*RunState, error) {
	now := o.opts.Now()
	cancelled := runCtx.Err() != nil

	o.mu.Lock()
	rs.FinishedAt = &now
	switch {
	case cancelled:
		rs.Status = models.RunStatusCancelled
	case runErr != nil:
		rs.Status = models.RunStatusFailed
	default:
		rs.Status = models.RunStatusSucceeded
	}
	o.cancel()
	o.cancel = nil
	o.current = nil
	o.last = rs
	summary := rs.summary()
	o.history = append(o.history, summary)
	if len(o.history) > o.opts.HistorySize {
		o.history = o.history[len(o.history)-o.opts.HistorySize:]
	}
	out := rs.clone()
	o.mu.Unlock()

	if err := o.rec.SaveRun(context.WithoutCancel(ctx), summary); err != nil {
		o.log.Warn("[PIPELINE] не удалось сохранить запуск", zap.Error(err))
	}
	o.log.Info("[PIPELINE] запуск завершён",
		zap.String("run_id", rs.RunID),
		zap.String("status", rs.Status),
		zap.Duration("duration", now.Sub(rs.StartedAt)))

	if runErr == nil && cancelled {
		runErr = runCtx.Err()
	}
	return out, runErr
}

// execute выполняет одну стадию под таймаутом и наблюдением за сигналом живости.
func (o *Orchestrator) execute(runCtx context.Context, rs *RunState, st Stage) error {
	start := o.opts.Now()
	o.update(func() {
		s := rs.Stage(st.Name)
		*s = StageState{Name: st.Name, Status: StatusRunning, StartedAt: &start}
	})
	o.log.Info("[PIPELINE] стадия начата", zap.String("run_id", rs.RunID), zap.String("stage", st.Name))

	stageCtx, cancelCause := context.WithCancelCause(runCtx)
	defer cancelCause(nil)
	timeout := st.Timeout
	if timeout == 0 {
		timeout = o.opts.StageTimeout
	}
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		stageCtx, cancelTimeout = context.WithTimeout(stageCtx, timeout)
		defer cancelTimeout()
	}

	hb := newHeartbeat(time.Now)
	stopWatch := hb.watch(o.opts.HeartbeatTimeout, o.opts.HeartbeatInterval, cancelCause)
	sc := &StageContext{RunID: rs.RunID, Log: o.log.With(zap.String("stage", st.Name)), hb: hb}
	counts, err := invoke(stageCtx, st, sc)
	stopWatch()

	if err != nil {
		if cause := context.Cause(stageCtx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
	}

	end := o.opts.Now()
	if err != nil {
		o.update(func() {
			s := rs.Stage(st.Name)
			s.Status, s.FinishedAt, s.Error = StatusFailed, &end, err.Error()
		})
		failure := models.StageFailure{RunID: rs.RunID, Stage: st.Name, At: end, Err: err, Msg: err.Error()}
		if recErr := o.rec.SaveStageFailure(context.WithoutCancel(runCtx), failure); recErr != nil {
			o.log.Warn("[PIPELINE] не удалось сохранить сбой", zap.Error(recErr))
		}
		o.log.Error("[PIPELINE] стадия упала",
			zap.String("run_id", rs.RunID),
			zap.String("stage", st.Name),
			zap.Error(err))
		return &StageExecutionError{Stage: st.Name, Err: err}
	}

	o.update(func() {
		s := rs.Stage(st.Name)
		s.Status, s.FinishedAt, s.RowCounts = StatusSucceeded, &end, counts
	})
	meta := models.StageMetadata{
		RunID:      rs.RunID,
		Stage:      st.Name,
		StartedAt:  start,
		FinishedAt: end,
		Duration:   end.Sub(start),
		RowCounts:  counts,
	}
	if recErr := o.rec.SaveStageRun(context.WithoutCancel(runCtx), meta); recErr != nil {
		o.log.Warn("[PIPELINE] не удалось сохранить метаданные", zap.Error(recErr))
	}
	o.log.Info("[PIPELINE] стадия завершена",
		zap.String("run_id", rs.RunID),
		zap.String("stage", st.Name),
		zap.Duration("duration", meta.Duration),
		zap.Any("row_counts", counts))
	return nil
}

func (o *Orchestrator) update(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

func invoke(ctx context.Context, st Stage, sc *StageContext) (counts map[string]int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return st.Run(ctx, sc)
}

// dependents возвращает все стадии, транзитивно зависящие от name, в порядке выполнения.
func (o *Orchestrator) dependents(name string) []string {
	stale := map[string]bool{name: true}
	var out []string
	for _, st := range o.stages {
		for _, dep := range st.Deps {
			if stale[dep] {
				stale[st.Name] = true
				out = append(out, st.Name)
				break
			}
		}
	}
	return out
}

// blockers возвращает входные стадии, которые ещё не завершились успешно.
func blockers(rs *RunState, st Stage) []string {
	var out []string
	for _, dep := range st.Deps {
		if rs.StatusOf(dep) != StatusSucceeded {
			out = append(out, dep)
		}
	}
	return out
}

func prerequisites(last *RunState, st Stage) error {
	if missing := blockers(last, st); len(missing) > 0 {
		return &StagePrerequisiteError{Stage: st.Name, Missing: missing}
	}
	return nil
}
