package pipeline

import (
	"time"

	"ethmed_go/models"
)

// ModeFull — запуск всего графа.
const ModeFull = "full"

// StageState — состояние одной стадии.
type StageState struct {
	Name       string         `json:"name"`
	Status     Status         `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	BlockedBy  []string       `json:"blocked_by,omitempty"` // упавшие или не выполненные входные стадии
	RowCounts  map[string]int `json:"row_counts,omitempty"`
}

// RunState — явный объект состояния запуска. Оркестратор держит последнюю версию
// и отдаёт наружу только копии.
type RunState struct {
	RunID      string        `json:"run_id"`
	Mode       string        `json:"mode"`
	Status     string        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Stages     []*StageState `json:"stages"`
}

func newRunState(runID, mode string, stages []Stage, now time.Time) *RunState {
	rs := &RunState{RunID: runID, Mode: mode, Status: models.RunStatusRunning, StartedAt: now}
	for _, s := range stages {
		rs.Stages = append(rs.Stages, &StageState{Name: s.Name, Status: StatusPending})
	}
	return rs
}

// Stage возвращает состояние стадии по имени.
func (rs *RunState) Stage(name string) *StageState {
	if rs == nil {
		return nil
	}
	for _, s := range rs.Stages {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// StatusOf возвращает статус стадии; неизвестная стадия считается PENDING.
func (rs *RunState) StatusOf(name string) Status {
	if s := rs.Stage(name); s != nil {
		return s.Status
	}
	return StatusPending
}

// clone делает глубокую копию для передачи за пределы оркестратора.
func (rs *RunState) clone() *RunState {
	if rs == nil {
		return nil
	}
	out := *rs
	out.FinishedAt = copyTime(rs.FinishedAt)
	out.Stages = make([]*StageState, len(rs.Stages))
	for i, s := range rs.Stages {
		c := *s
		c.StartedAt = copyTime(s.StartedAt)
		c.FinishedAt = copyTime(s.FinishedAt)
		c.BlockedBy = append([]string(nil), s.BlockedBy...)
		if s.RowCounts != nil {
			c.RowCounts = make(map[string]int, len(s.RowCounts))
			for k, v := range s.RowCounts {
				c.RowCounts[k] = v
			}
		}
		out.Stages[i] = &c
	}
	return &out
}

// summary сворачивает состояние в запись истории запусков.
func (rs *RunState) summary() models.PipelineRun {
	run := models.PipelineRun{
		RunID:      rs.RunID,
		Mode:       rs.Mode,
		Status:     rs.Status,
		StartedAt:  rs.StartedAt,
		FinishedAt: copyTime(rs.FinishedAt),
	}
	for _, s := range rs.Stages {
		if rs.Mode != ModeFull && s.Name != rs.Mode {
			continue
		}
		if s.Status == StatusFailed && run.FailedStage == "" {
			run.FailedStage = s.Name
		}
		if n, ok := s.RowCounts["message_facts"]; ok {
			run.MessageFacts = n
		}
	}
	return run
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
