package landing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ethmed_go/models"
)

var scrapedAt = time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC)

func msg(id int64, channel string, date time.Time, text string) models.RawMessage {
	return models.RawMessage{
		MessageID:   &id,
		ChannelName: &channel,
		MessageDate: models.NewFlexTime(date),
		MessageText: &text,
	}
}

func TestWritePartitionsByDayAndChannel(t *testing.T) {
	z := New(t.TempDir(), nil)
	files, err := z.Write([]models.RawMessage{
		msg(1, "ChemEd", time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC), "Paracetamol"),
		msg(2, "ChemEd", time.Date(2025, 7, 9, 23, 0, 0, 0, time.UTC), "Amoxicillin"),
		msg(3, "tikvahpharma", time.Date(2025, 7, 10, 1, 0, 0, 0, time.UTC), "Vitamin C"),
	}, scrapedAt)
	require.NoError(t, err)

	root := z.MessagesRoot()
	assert.Equal(t, []string{
		filepath.Join(root, "2025-07-09", "ChemEd.json"),
		filepath.Join(root, "2025-07-10", "ChemEd.json"),
		filepath.Join(root, "2025-07-10", "tikvahpharma.json"),
	}, files)

	data, err := os.ReadFile(files[1])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "[\n  {"), "файл пишется с отступом в 2 пробела")
}

func TestWriteUsesUTCDay(t *testing.T) {
	z := New(t.TempDir(), nil)
	addis := time.FixedZone("EAT", 3*3600)
	files, err := z.Write([]models.RawMessage{
		msg(1, "chemed", time.Date(2025, 7, 10, 1, 0, 0, 0, addis), "утро по Аддис-Абебе"),
	}, scrapedAt)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0], "2025-07-09")
}

func TestWriteMergesWithoutDuplicates(t *testing.T) {
	z := New(t.TempDir(), nil)
	day := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)

	_, err := z.Write([]models.RawMessage{msg(1, "chemed", day, "первый"), msg(2, "chemed", day, "второй")}, scrapedAt)
	require.NoError(t, err)

	files, err := z.Write([]models.RawMessage{msg(2, "chemed", day, "второй повтор"), msg(3, "chemed", day, "третий")}, scrapedAt)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	files, err = z.Write([]models.RawMessage{msg(3, "chemed", day, "третий")}, scrapedAt)
	require.NoError(t, err)
	assert.Empty(t, files, "без новых сообщений файл не переписывается")

	all, err := z.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "второй", *all[1].MessageText, "первая версия сообщения сохраняется")
}

func TestWriteWithoutDateOrChannel(t *testing.T) {
	z := New(t.TempDir(), nil)
	id := int64(7)
	files, err := z.Write([]models.RawMessage{{MessageID: &id}}, scrapedAt)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(z.MessagesRoot(), "2025-07-10", "unknown.json"), files[0])
}

func TestReadAllSkipsBrokenFiles(t *testing.T) {
	z := New(t.TempDir(), nil)
	_, err := z.Write([]models.RawMessage{msg(1, "chemed", scrapedAt, "ok")}, scrapedAt)
	require.NoError(t, err)

	broken := filepath.Join(z.MessagesRoot(), "2025-07-11")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "bad.json"), []byte("{не json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "notes.txt"), []byte("x"), 0o644))

	all, err := z.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(1), *all[0].MessageID)
}

func TestReadAllEmptyZone(t *testing.T) {
	z := New(t.TempDir(), nil)
	all, err := z.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "lobelia4cosmetics", SafeName(" @lobelia4cosmetics "))
	assert.Equal(t, "a_b_c", SafeName("a/b c"))
}

func TestImagePath(t *testing.T) {
	z := New("/data/raw", nil)
	assert.Equal(t, filepath.Join("/data/raw", "images", "chemed", "42.jpg"), z.ImagePath("chemed", 42))
}
