// Package warehouse хранит в памяти последнюю опубликованную версию таблиц хранилища.
// Каждая таблица заменяется целиком одной атомарной операцией, поэтому читатель
// всегда видит либо старую, либо новую версию и никогда не видит частично собранную.
package warehouse

import (
	"sync/atomic"
	"time"

	"ethmed_go/models"
)

// Snapshot — неизменяемая версия одной таблицы.
type Snapshot[T any] struct {
	Rows    []T
	BuiltAt time.Time
}

// Table держит текущую версию таблицы.
type Table[T any] struct {
	p atomic.Pointer[Snapshot[T]]
}

// Load возвращает текущие строки. До первой публикации — пустой срез.
func (t *Table[T]) Load() []T {
	if s := t.p.Load(); s != nil {
		return s.Rows
	}
	return nil
}

// BuiltAt возвращает время публикации текущей версии.
func (t *Table[T]) BuiltAt() time.Time {
	if s := t.p.Load(); s != nil {
		return s.BuiltAt
	}
	return time.Time{}
}

// Swap публикует новую версию. Срез rows после вызова менять нельзя.
func (t *Table[T]) Swap(rows []T, at time.Time) {
	t.p.Store(&Snapshot[T]{Rows: rows, BuiltAt: at})
}

// Catalog — все таблицы хранилища, которые читает аналитический слой.
type Catalog struct {
	Channels       Table[models.Channel]
	Dates          Table[models.DateDim]
	MessageFacts   Table[models.MessageFact]
	DetectionFacts Table[models.ImageDetectionFact]
	Staging        Table[models.NormalizedMessage]
	RawDetections  Table[models.DetectionRecord]
}

// NewCatalog создаёт пустой каталог.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// LastBuild возвращает самое позднее время публикации среди таблиц.
func (c *Catalog) LastBuild() time.Time {
	latest := c.Channels.BuiltAt()
	for _, t := range []time.Time{
		c.Dates.BuiltAt(),
		c.MessageFacts.BuiltAt(),
		c.DetectionFacts.BuiltAt(),
	} {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}
