// Package landing хранит сырые выгрузки скрейпера на диске:
// <root>/telegram_messages/<YYYY-MM-DD>/<channel>.json, по одному файлу на день и канал.
// Зона только дописывается: повторно выгруженные сообщения с тем же message_id не дублируются.
package landing

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ethmed_go/models"
)

const (
	messagesDir    = "telegram_messages"
	imagesDir      = "images"
	unknownChannel = "unknown"
)

// Zone — сырая зона в файловой системе.
type Zone struct {
	Root string
	Log  *zap.Logger
}

func New(root string, logger *zap.Logger) *Zone {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zone{Root: root, Log: logger}
}

// MessagesRoot — каталог с партициями сообщений.
func (z *Zone) MessagesRoot() string {
	return filepath.Join(z.Root, messagesDir)
}

// ImagesRoot — каталог изображений: <root>/images/<channel>/<message_id>.jpg.
func (z *Zone) ImagesRoot() string {
	return filepath.Join(z.Root, imagesDir)
}

// ImagePath возвращает путь, по которому скрейпер сохраняет фото сообщения.
func (z *Zone) ImagePath(channel string, messageID int64) string {
	return filepath.Join(z.ImagesRoot(), channel, fmt.Sprintf("%d.jpg", messageID))
}

type partitionKey struct {
	day     string
	channel string
}

// Write раскладывает сообщения по партициям и дописывает их в существующие файлы.
// Сообщение без даты попадает в партицию дня скрейпа. Возвращает пути изменённых файлов.
func (z *Zone) Write(msgs []models.RawMessage, scrapedAt time.Time) ([]string, error) {
	groups := make(map[partitionKey][]models.RawMessage)
	for _, m := range msgs {
		day := scrapedAt.UTC().Format(time.DateOnly)
		if m.MessageDate != nil && !m.MessageDate.IsZero() {
			day = m.MessageDate.UTC().Format(time.DateOnly)
		}
		channel := unknownChannel
		if m.ChannelName != nil && strings.TrimSpace(*m.ChannelName) != "" {
			channel = SafeName(*m.ChannelName)
		}
		k := partitionKey{day: day, channel: channel}
		groups[k] = append(groups[k], m)
	}

	keys := make([]partitionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		return keys[i].channel < keys[j].channel
	})

	var written []string
	for _, k := range keys {
		path := filepath.Join(z.MessagesRoot(), k.day, k.channel+".json")
		added, err := z.merge(path, groups[k])
		if err != nil {
			return written, err
		}
		if added > 0 {
			written = append(written, path)
			z.Log.Info("[LANDING] сохранены сообщения", zap.String("file", path), zap.Int("new", added))
		}
	}
	return written, nil
}

// merge дописывает в файл только сообщения с новыми message_id.
func (z *Zone) merge(path string, msgs []models.RawMessage) (int, error) {
	existing, err := readFile(path)
	if err != nil && !os.IsNotExist(err) {
		z.Log.Warn("[LANDING] файл повреждён, будет перезаписан", zap.String("file", path), zap.Error(err))
		existing = nil
	}

	seen := make(map[int64]bool, len(existing))
	for _, m := range existing {
		if m.MessageID != nil {
			seen[*m.MessageID] = true
		}
	}
	merged := existing
	added := 0
	for _, m := range msgs {
		if m.MessageID != nil {
			if seen[*m.MessageID] {
				continue
			}
			seen[*m.MessageID] = true
		}
		merged = append(merged, m)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := writeFile(path, merged); err != nil {
		return 0, err
	}
	return added, nil
}

// ReadAll читает все партиции в лексикографическом порядке путей.
// Битые файлы пропускаются с предупреждением, как и при загрузке в исходном конвейере.
func (z *Zone) ReadAll() ([]models.RawMessage, error) {
	root := z.MessagesRoot()
	var out []models.RawMessage
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		msgs, err := readFile(path)
		if err != nil {
			z.Log.Warn("[LANDING] не удалось прочитать файл", zap.String("file", path), zap.Error(err))
			return nil
		}
		out = append(out, msgs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk landing zone: %w", err)
	}
	return out, nil
}

// SafeName превращает название канала в имя файла.
func SafeName(channel string) string {
	channel = strings.TrimPrefix(strings.TrimSpace(channel), "@")
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, channel)
}

func readFile(path string) ([]models.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var msgs []models.RawMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return msgs, nil
}

// writeFile пишет во временный файл и переименовывает его, чтобы читатель не увидел половину файла.
func writeFile(path string, msgs []models.RawMessage) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(msgs); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
