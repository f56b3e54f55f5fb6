package models

import "time"

// StageFailure фиксирует сбой стадии пайплайна: имя стадии, момент сбоя и исходную ошибку.
// Ошибка хранится как есть, оркестратор не пытается её интерпретировать.
type StageFailure struct {
	RunID string    `json:"run_id"`
	Stage string    `json:"stage"`
	At    time.Time `json:"at"`
	Err   error     `json:"-"`
	Msg   string    `json:"error"`
}

// StageMetadata — наблюдаемые показатели успешной стадии (строки, длительность).
// В контракт успеха/сбоя не входит, используется мониторингом.
type StageMetadata struct {
	RunID      string         `json:"run_id"`
	Stage      string         `json:"stage"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Duration   time.Duration  `json:"duration"`
	RowCounts  map[string]int `json:"row_counts"`
}

// StageOutcome — последний известный исход стадии и его момент.
type StageOutcome struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// Статусы запуска пайплайна целиком.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
	RunStatusCancelled = "CANCELLED"
)

// PipelineRun — итог одного запуска: по этой истории считаются алерты мониторинга.
type PipelineRun struct {
	RunID        string     `json:"run_id"`
	Mode         string     `json:"mode"` // full или имя одиночной стадии
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	FailedStage  string     `json:"failed_stage,omitempty"`
	MessageFacts int        `json:"message_facts"`
}

// Duration возвращает длительность завершённого запуска.
func (r PipelineRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
