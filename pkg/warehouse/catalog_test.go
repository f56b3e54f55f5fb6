package warehouse

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"ethmed_go/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTableEmptyBeforeSwap(t *testing.T) {
	c := NewCatalog()
	assert.Empty(t, c.Channels.Load())
	assert.True(t, c.LastBuild().IsZero())
}

// TestSwapNeverExposesPartialTable: читатели видят либо полную старую, либо полную новую версию.
func TestSwapNeverExposesPartialTable(t *testing.T) {
	c := NewCatalog()
	build := func(n int) []models.Channel {
		rows := make([]models.Channel, n)
		for i := range rows {
			rows[i] = models.Channel{ChannelKey: i + 1, TotalPosts: n}
		}
		return rows
	}
	c.Channels.Swap(build(10), time.Now())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				rows := c.Channels.Load()
				for _, row := range rows {
					if row.TotalPosts != len(rows) {
						t.Errorf("смешанная версия таблицы: %d строк, метка %d", len(rows), row.TotalPosts)
						return
					}
				}
			}
		}()
	}

	for n := 11; n < 200; n++ {
		c.Channels.Swap(build(n), time.Now())
	}
	close(stop)
	wg.Wait()

	assert.Len(t, c.Channels.Load(), 199)
}

func TestLastBuildPicksLatest(t *testing.T) {
	c := NewCatalog()
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	c.Channels.Swap(nil, t1)
	c.DetectionFacts.Swap(nil, t2)
	assert.Equal(t, t2, c.LastBuild())
}
