package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ethmed_go/models"
)

// SaveStageFailure фиксирует сбой стадии. Ошибка сохраняется как текст, без интерпретации.
func (db *DB) SaveStageFailure(ctx context.Context, f models.StageFailure) error {
	_, err := db.Conn.ExecContext(ctx,
		`INSERT INTO pipeline.stage_failures (run_id, stage, failed_at, error) VALUES ($1, $2, $3, $4)`,
		f.RunID, f.Stage, f.At, f.Msg)
	if err != nil {
		db.logger().Error("[DB ERROR] сохранение сбоя стадии", zap.String("stage", f.Stage), zap.Error(err))
	}
	return err
}

// SaveStageRun сохраняет метаданные успешной стадии.
func (db *DB) SaveStageRun(ctx context.Context, m models.StageMetadata) error {
	counts, err := json.Marshal(m.RowCounts)
	if err != nil {
		return fmt.Errorf("marshal row counts: %w", err)
	}
	_, err = db.Conn.ExecContext(ctx,
		`INSERT INTO pipeline.stage_runs (run_id, stage, started_at, finished_at, duration_ms, row_counts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.RunID, m.Stage, m.StartedAt, m.FinishedAt, m.Duration.Milliseconds(), string(counts))
	if err != nil {
		db.logger().Error("[DB ERROR] сохранение метаданных стадии", zap.String("stage", m.Stage), zap.Error(err))
	}
	return err
}

// SaveRun создаёт или обновляет запись о запуске пайплайна.
func (db *DB) SaveRun(ctx context.Context, r models.PipelineRun) error {
	_, err := db.Conn.ExecContext(ctx, `
		INSERT INTO pipeline.runs (run_id, mode, status, started_at, finished_at, failed_stage, message_facts)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			failed_stage = EXCLUDED.failed_stage,
			message_facts = EXCLUDED.message_facts`,
		r.RunID, r.Mode, r.Status, r.StartedAt, r.FinishedAt, r.FailedStage, r.MessageFacts)
	if err != nil {
		db.logger().Error("[DB ERROR] сохранение запуска", zap.String("run_id", r.RunID), zap.Error(err))
	}
	return err
}

// ListRuns возвращает последние запуски, новые первыми.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	rows, err := db.Conn.QueryContext(ctx, `
		SELECT run_id, mode, status, started_at, finished_at, COALESCE(failed_stage, ''), message_facts
		FROM pipeline.runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PipelineRun
	for rows.Next() {
		var (
			r        models.PipelineRun
			finished *time.Time
		)
		if err := rows.Scan(&r.RunID, &r.Mode, &r.Status, &r.StartedAt, &finished, &r.FailedStage, &r.MessageFacts); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FinishedAt = finished
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastStageOutcomes восстанавливает последнее известное состояние каждой стадии
// по истории успехов и сбоев. Нужен для одиночного перезапуска стадии после рестарта процесса.
func (db *DB) LastStageOutcomes(ctx context.Context) (map[string]models.StageOutcome, error) {
	rows, err := db.Conn.QueryContext(ctx, `
		SELECT stage, status, at FROM (
			SELECT stage, 'SUCCEEDED' AS status, finished_at AS at FROM pipeline.stage_runs
			UNION ALL
			SELECT stage, 'FAILED' AS status, failed_at AS at FROM pipeline.stage_failures
		) history
		ORDER BY at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]models.StageOutcome)
	for rows.Next() {
		var (
			stage string
			o     models.StageOutcome
		)
		if err := rows.Scan(&stage, &o.Status, &o.At); err != nil {
			return nil, fmt.Errorf("scan stage outcome: %w", err)
		}
		out[stage] = o
	}
	return out, rows.Err()
}
