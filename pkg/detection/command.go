package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Model находит объекты на одном изображении.
type Model interface {
	Detect(ctx context.Context, imagePath string) ([]Object, error)
}

// CommandModel запускает внешнюю команду: `<Command> <Args...> <image_path>`.
// Команда печатает в stdout JSON-массив {"class_name", "confidence"}.
type CommandModel struct {
	Command string
	Args    []string
}

func (m CommandModel) Detect(ctx context.Context, imagePath string) ([]Object, error) {
	args := append(append([]string(nil), m.Args...), imagePath)
	cmd := exec.CommandContext(ctx, m.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("detector %s: %w: %s", m.Command, err, msg)
		}
		return nil, fmt.Errorf("detector %s: %w", m.Command, err)
	}
	var objects []Object
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &objects); err != nil {
		return nil, fmt.Errorf("decode detector output for %s: %w", imagePath, err)
	}
	return objects, nil
}
