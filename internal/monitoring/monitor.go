package monitoring

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ethmed_go/models"
)

// Типы алертов.
const (
	AlertPipelineFailure   = "pipeline_failure"
	AlertLongExecutionTime = "long_execution_time"
	AlertLowDataVolume     = "low_data_volume"
	AlertHighFailureRate   = "high_failure_rate"
	AlertStaleData         = "stale_data"
)

// Уровни важности.
const (
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Thresholds — пороги срабатывания правил.
type Thresholds struct {
	LongExecution   time.Duration `yaml:"long_execution"`
	LowDataVolume   int           `yaml:"low_data_volume"`
	HighFailureRate float64       `yaml:"high_failure_rate"`
	StaleAfter      time.Duration `yaml:"stale_after"`
}

// DefaultThresholds: час на запуск, 100 фактов сообщений, 10% упавших запусков, 48 часов без успеха.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LongExecution:   time.Hour,
		LowDataVolume:   100,
		HighFailureRate: 0.1,
		StaleAfter:      48 * time.Hour,
	}
}

// Alert — сработавшее правило.
type Alert struct {
	Type      string         `json:"alert_type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Stats — сводка по истории запусков.
type Stats struct {
	TotalRuns         int     `json:"total_runs"`
	SuccessfulRuns    int     `json:"successful_runs"`
	FailedRuns        int     `json:"failed_runs"`
	FailureRate       float64 `json:"failure_rate"`
	MaxExecutionTime  float64 `json:"max_execution_time"`
	LastStatus        string  `json:"last_status,omitempty"`
	HoursSinceSuccess float64 `json:"hours_since_success"`
	MessageFacts      int     `json:"message_facts"`
}

// Monitor проверяет правила по истории запусков и объёму опубликованных данных.
type Monitor struct {
	History    func() []models.PipelineRun // новые запуски первыми
	DataVolume func() int
	Thresholds Thresholds
	Log        *zap.Logger
	Now        func() time.Time

	mu   sync.Mutex
	last []Alert
}

// NewMonitor создаёт монитор с порогами по умолчанию для нулевых значений.
func NewMonitor(history func() []models.PipelineRun, volume func() int, th Thresholds, logger *zap.Logger) *Monitor {
	def := DefaultThresholds()
	if th.LongExecution <= 0 {
		th.LongExecution = def.LongExecution
	}
	if th.LowDataVolume <= 0 {
		th.LowDataVolume = def.LowDataVolume
	}
	if th.HighFailureRate <= 0 {
		th.HighFailureRate = def.HighFailureRate
	}
	if th.StaleAfter <= 0 {
		th.StaleAfter = def.StaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{History: history, DataVolume: volume, Thresholds: th, Log: logger, Now: time.Now}
}

// Summarize считает статистику запусков. Отменённые запуски не считаются упавшими.
func Summarize(runs []models.PipelineRun, volume int, now time.Time) Stats {
	st := Stats{TotalRuns: len(runs), MessageFacts: volume}
	var lastSuccess, earliest time.Time
	for i, r := range runs {
		if i == 0 {
			st.LastStatus = r.Status
		}
		switch r.Status {
		case models.RunStatusSucceeded:
			st.SuccessfulRuns++
			if r.FinishedAt != nil && r.FinishedAt.After(lastSuccess) {
				lastSuccess = *r.FinishedAt
			}
		case models.RunStatusFailed:
			st.FailedRuns++
		}
		if d := r.Duration().Seconds(); d > st.MaxExecutionTime {
			st.MaxExecutionTime = d
		}
		if earliest.IsZero() || r.StartedAt.Before(earliest) {
			earliest = r.StartedAt
		}
	}
	if st.TotalRuns > 0 {
		st.FailureRate = float64(st.FailedRuns) / float64(st.TotalRuns)
		// без единого успеха возраст данных отсчитывается от самого раннего известного запуска
		since := lastSuccess
		if since.IsZero() {
			since = earliest
		}
		st.HoursSinceSuccess = now.Sub(since).Hours()
	}
	return st
}

// Evaluate применяет правила к статистике. Правила по запускам молчат, пока запусков не было.
func Evaluate(st Stats, th Thresholds, now time.Time) []Alert {
	alerts := []Alert{}
	add := func(kind, severity, msg string, data map[string]any) {
		alerts = append(alerts, Alert{Type: kind, Severity: severity, Message: msg, Timestamp: now, Data: data})
	}

	if st.TotalRuns > 0 {
		if st.LastStatus == models.RunStatusFailed {
			add(AlertPipelineFailure, SeverityCritical,
				fmt.Sprintf("Pipeline failed with status: %s", st.LastStatus),
				map[string]any{"status": st.LastStatus})
		}
		if limit := th.LongExecution.Seconds(); st.MaxExecutionTime > limit {
			add(AlertLongExecutionTime, SeverityWarning,
				fmt.Sprintf("Pipeline took %.1f seconds (threshold: %.0fs)", st.MaxExecutionTime, limit),
				map[string]any{"execution_time": st.MaxExecutionTime, "threshold": limit})
		}
		if st.FailureRate > th.HighFailureRate {
			add(AlertHighFailureRate, SeverityError,
				fmt.Sprintf("High failure rate: %.1f%% (threshold: %.1f%%)", st.FailureRate*100, th.HighFailureRate*100),
				map[string]any{"failure_rate": st.FailureRate, "threshold": th.HighFailureRate})
		}
		if limit := th.StaleAfter.Hours(); st.HoursSinceSuccess > limit {
			add(AlertStaleData, SeverityWarning,
				fmt.Sprintf("Data is stale: %.1f hours old (threshold: %.0fh)", st.HoursSinceSuccess, limit),
				map[string]any{"hours_since_last_run": st.HoursSinceSuccess, "threshold": limit})
		}
	}
	if st.MessageFacts < th.LowDataVolume {
		add(AlertLowDataVolume, SeverityWarning,
			fmt.Sprintf("Low data volume: %d records (threshold: %d)", st.MessageFacts, th.LowDataVolume),
			map[string]any{"records_processed": st.MessageFacts, "threshold": th.LowDataVolume})
	}
	return alerts
}

// Check снимает статистику, проверяет правила и пишет сработавшие алерты в лог.
func (m *Monitor) Check() (Stats, []Alert) {
	now := m.Now()
	var runs []models.PipelineRun
	if m.History != nil {
		runs = m.History()
	}
	volume := 0
	if m.DataVolume != nil {
		volume = m.DataVolume()
	}
	st := Summarize(runs, volume, now)
	alerts := Evaluate(st, m.Thresholds, now)
	for _, a := range alerts {
		fields := []zap.Field{zap.String("alert", a.Type), zap.String("message", a.Message)}
		switch a.Severity {
		case SeverityCritical, SeverityError:
			m.Log.Error("[MONITOR] алерт", fields...)
		default:
			m.Log.Warn("[MONITOR] алерт", fields...)
		}
	}

	m.mu.Lock()
	m.last = alerts
	m.mu.Unlock()
	return st, alerts
}

// IsHealthy — последний запуск не упал. Пока запусков нет, считаем состояние здоровым.
func (m *Monitor) IsHealthy() bool {
	if m.History == nil {
		return true
	}
	runs := m.History()
	if len(runs) == 0 {
		return true
	}
	return runs[0].Status != models.RunStatusFailed
}

// LastAlerts возвращает результат последней проверки.
func (m *Monitor) LastAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.last...)
}
