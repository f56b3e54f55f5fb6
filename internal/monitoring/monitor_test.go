package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ethmed_go/models"
)

var now = time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC)

func run(status string, started time.Time, took time.Duration) models.PipelineRun {
	finished := started.Add(took)
	return models.PipelineRun{RunID: started.String(), Mode: "full", Status: status, StartedAt: started, FinishedAt: &finished}
}

func types(alerts []Alert) []string {
	out := []string{}
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func TestHealthyHistoryRaisesNothing(t *testing.T) {
	runs := []models.PipelineRun{
		run(models.RunStatusSucceeded, now.Add(-2*time.Hour), 10*time.Minute),
		run(models.RunStatusSucceeded, now.Add(-26*time.Hour), 12*time.Minute),
	}
	st := Summarize(runs, 500, now)
	assert.Equal(t, 2, st.SuccessfulRuns)
	assert.InDelta(t, 1.8333, st.HoursSinceSuccess, 0.001)
	assert.Empty(t, Evaluate(st, DefaultThresholds(), now))
}

func TestFailedLastRun(t *testing.T) {
	runs := []models.PipelineRun{
		run(models.RunStatusFailed, now.Add(-time.Hour), 2*time.Hour),
		run(models.RunStatusSucceeded, now.Add(-5*time.Hour), time.Minute),
	}
	alerts := Evaluate(Summarize(runs, 500, now), DefaultThresholds(), now)
	assert.Equal(t, []string{AlertPipelineFailure, AlertLongExecutionTime, AlertHighFailureRate}, types(alerts))
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "Pipeline failed with status: FAILED", alerts[0].Message)
	assert.Equal(t, "Pipeline took 7200.0 seconds (threshold: 3600s)", alerts[1].Message)
	assert.Equal(t, "High failure rate: 50.0% (threshold: 10.0%)", alerts[2].Message)
	assert.Equal(t, now, alerts[0].Timestamp)
}

func TestCancelledRunIsNotAFailure(t *testing.T) {
	runs := []models.PipelineRun{
		run(models.RunStatusCancelled, now.Add(-time.Hour), time.Minute),
		run(models.RunStatusSucceeded, now.Add(-3*time.Hour), time.Minute),
	}
	st := Summarize(runs, 500, now)
	assert.Zero(t, st.FailedRuns)
	assert.Empty(t, Evaluate(st, DefaultThresholds(), now))
}

func TestStaleAndLowVolume(t *testing.T) {
	runs := []models.PipelineRun{run(models.RunStatusSucceeded, now.Add(-72*time.Hour), time.Minute)}
	alerts := Evaluate(Summarize(runs, 42, now), DefaultThresholds(), now)
	require.Equal(t, []string{AlertStaleData, AlertLowDataVolume}, types(alerts))
	assert.Equal(t, "Low data volume: 42 records (threshold: 100)", alerts[1].Message)
	assert.Equal(t, 42, alerts[1].Data["records_processed"])
}

func TestNoSuccessCountsFromEarliestRun(t *testing.T) {
	runs := []models.PipelineRun{
		run(models.RunStatusCancelled, now.Add(-time.Hour), time.Minute),
		run(models.RunStatusCancelled, now.Add(-50*time.Hour), time.Minute),
	}
	st := Summarize(runs, 500, now)
	assert.InDelta(t, 50, st.HoursSinceSuccess, 0.001)
	assert.Equal(t, []string{AlertStaleData}, types(Evaluate(st, DefaultThresholds(), now)))
}

func TestNoRunsOnlyChecksVolume(t *testing.T) {
	assert.Empty(t, Evaluate(Summarize(nil, 100, now), DefaultThresholds(), now))
	assert.Equal(t, []string{AlertLowDataVolume}, types(Evaluate(Summarize(nil, 0, now), DefaultThresholds(), now)))
}

func TestMonitorCheck(t *testing.T) {
	runs := []models.PipelineRun{run(models.RunStatusFailed, now.Add(-time.Hour), time.Minute)}
	m := NewMonitor(
		func() []models.PipelineRun { return runs },
		func() int { return 1000 },
		Thresholds{HighFailureRate: 0.5},
		nil,
	)
	m.Now = func() time.Time { return now }

	assert.False(t, m.IsHealthy())
	assert.Equal(t, DefaultThresholds().StaleAfter, m.Thresholds.StaleAfter)

	st, alerts := m.Check()
	assert.Equal(t, 1, st.FailedRuns)
	assert.Equal(t, []string{AlertPipelineFailure, AlertHighFailureRate}, types(alerts))
	assert.Equal(t, alerts, m.LastAlerts())
}

func TestMonitorWithoutRunsIsHealthy(t *testing.T) {
	m := NewMonitor(nil, nil, Thresholds{}, nil)
	assert.True(t, m.IsHealthy())
	_, alerts := m.Check()
	assert.Equal(t, []string{AlertLowDataVolume}, types(alerts))
}
