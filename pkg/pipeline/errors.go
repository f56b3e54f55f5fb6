package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycleDetected — граф стадий содержит цикл.
	ErrCycleDetected = errors.New("pipeline: cycle detected")
	// ErrMissingDependency — стадия ссылается на неизвестную стадию.
	ErrMissingDependency = errors.New("pipeline: missing dependency")
	// ErrDuplicateStage — две стадии с одним именем.
	ErrDuplicateStage = errors.New("pipeline: duplicate stage")
	// ErrUnknownStage — запрошен запуск стадии, которой нет в графе.
	ErrUnknownStage = errors.New("pipeline: unknown stage")
	// ErrRunInProgress — одновременно допускается только один запуск.
	ErrRunInProgress = errors.New("pipeline: run in progress")
	// ErrHeartbeatTimeout — стадия слишком долго не подавала признаков жизни.
	ErrHeartbeatTimeout = errors.New("pipeline: stage heartbeat timed out")
)

// StagePrerequisiteError возвращается при одиночном запуске стадии,
// если её входные стадии не завершились успешно. Стадия при этом не выполняется.
type StagePrerequisiteError struct {
	Stage   string
	Missing []string
}

func (e *StagePrerequisiteError) Error() string {
	return fmt.Sprintf("stage %s: missing prerequisite %s", e.Stage, strings.Join(e.Missing, ", "))
}

// StageExecutionError — стадия завершилась ошибкой. Исходная ошибка доступна через errors.Unwrap.
type StageExecutionError struct {
	Stage string
	Err   error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }
