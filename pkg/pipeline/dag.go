package pipeline

import "fmt"

// order проверяет граф стадий и возвращает их в топологическом порядке.
// Среди готовых к запуску стадий сохраняется порядок объявления, поэтому результат детерминирован.
func order(stages []Stage) ([]Stage, error) {
	index := make(map[string]int, len(stages))
	for i, s := range stages {
		if _, dup := index[s.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, s.Name)
		}
		index[s.Name] = i
	}

	remaining := make([]int, len(stages))
	dependents := make([][]int, len(stages))
	for i, s := range stages {
		for _, dep := range s.Deps {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrMissingDependency, s.Name, dep)
			}
			dependents[j] = append(dependents[j], i)
			remaining[i]++
		}
	}

	ready := make([]bool, len(stages))
	for i := range stages {
		ready[i] = remaining[i] == 0
	}

	out := make([]Stage, 0, len(stages))
	done := make([]bool, len(stages))
	for len(out) < len(stages) {
		next := -1
		for i := range stages {
			if ready[i] && !done[i] {
				next = i
				break
			}
		}
		if next == -1 {
			return nil, ErrCycleDetected
		}
		done[next] = true
		out = append(out, stages[next])
		for _, d := range dependents[next] {
			remaining[d]--
			if remaining[d] == 0 {
				ready[d] = true
			}
		}
	}
	return out, nil
}
