package detection

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// Image — изображение сообщения, лежащее в <root>/<channel>/<message_id>.<ext>.
type Image struct {
	Path      string
	Channel   string
	MessageID int64
}

// ParseImagePath извлекает канал и message_id из пути относительно каталога изображений.
func ParseImagePath(root, path string) (Image, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Image{}, err
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return Image{}, fmt.Errorf("unexpected image location %q", rel)
	}
	stem := strings.TrimSuffix(parts[1], filepath.Ext(parts[1]))
	id, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || id <= 0 {
		return Image{}, fmt.Errorf("image name %q is not a message id", parts[1])
	}
	return Image{Path: path, Channel: strings.ToLower(parts[0]), MessageID: id}, nil
}

// FindImages обходит каталог изображений. Файлы с нераспознаваемым путём пропускаются.
func FindImages(root string, logger *zap.Logger) ([]Image, error) {
	var images []Image
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				logger.Warn("[DETECTION] каталог изображений не найден", zap.String("path", root))
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || !imageExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		img, err := ParseImagePath(root, path)
		if err != nil {
			logger.Warn("[DETECTION] пропущено изображение", zap.String("path", path), zap.Error(err))
			return nil
		}
		images = append(images, img)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk images: %w", err)
	}
	return images, nil
}
