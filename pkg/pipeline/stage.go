// Package pipeline запускает стадии построения хранилища в порядке зависимостей.
//
// Состояние каждой стадии проходит PENDING → RUNNING → SUCCEEDED или FAILED.
// Упавшая стадия не каскадирует ошибку: зависимые от неё стадии просто остаются PENDING.
// Автоматических повторов нет, повтор — это ручной запуск одной стадии.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Имена стадий хранилища.
const (
	StageScrape              = "scrape"
	StageLoadRaw             = "load_raw"
	StageBuildDimensions     = "build_dimensions"
	StageBuildMessageFacts   = "build_message_facts"
	StageRunDetection        = "run_detection"
	StageBuildDetectionFacts = "build_detection_facts"
)

// Status — состояние стадии в рамках запуска.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// StageFunc выполняет стадию и возвращает число строк по таблицам для метаданных.
type StageFunc func(ctx context.Context, sc *StageContext) (map[string]int, error)

// Stage — узел графа.
type Stage struct {
	Name    string
	Deps    []string
	Run     StageFunc
	Timeout time.Duration // 0 — таймаут оркестратора по умолчанию
}

// StageContext передаётся в стадию: идентификатор запуска, логгер и сигнал живости.
type StageContext struct {
	RunID string
	Log   *zap.Logger

	hb *heartbeat
}

// Beat сообщает оркестратору, что стадия жива. Долгие стадии вызывают его на каждом шаге.
func (sc *StageContext) Beat() {
	if sc != nil && sc.hb != nil {
		sc.hb.beat()
	}
}

// heartbeat хранит момент последнего сигнала в наносекундах Unix.
type heartbeat struct {
	now  func() time.Time
	last atomic.Int64
}

func newHeartbeat(now func() time.Time) *heartbeat {
	h := &heartbeat{now: now}
	h.beat()
	return h
}

func (h *heartbeat) beat() {
	h.last.Store(h.now().UnixNano())
}

func (h *heartbeat) since() time.Duration {
	return h.now().Sub(time.Unix(0, h.last.Load()))
}

// watch отменяет стадию, если сигнал не приходил дольше timeout.
// Возвращает функцию остановки; после её возврата горутина наблюдателя завершена.
func (h *heartbeat) watch(timeout, interval time.Duration, cancel context.CancelCauseFunc) func() {
	if timeout <= 0 {
		return func() {}
	}
	if interval <= 0 {
		interval = timeout / 4
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if h.since() > timeout {
					cancel(ErrHeartbeatTimeout)
					return
				}
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
