package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// column — колонка пересобираемой таблицы.
type column struct {
	Name string
	Type string
}

// tableSpec описывает таблицу, которая заменяется целиком при каждом запуске.
type tableSpec struct {
	Schema  string
	Name    string
	Columns []column
	Indexes []string // колонки, по которым строится индекс после замены
}

func (s tableSpec) qualified() string {
	return pq.QuoteIdentifier(s.Schema) + "." + pq.QuoteIdentifier(s.Name)
}

func (s tableSpec) nextName() string {
	return s.Name + "__next"
}

func (s tableSpec) columnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s tableSpec) createNextDDL() string {
	defs := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		defs[i] = pq.QuoteIdentifier(c.Name) + " " + c.Type
	}
	return fmt.Sprintf("CREATE TABLE %s.%s (%s)",
		pq.QuoteIdentifier(s.Schema), pq.QuoteIdentifier(s.nextName()), strings.Join(defs, ", "))
}

// tableLoad — новое содержимое одной таблицы: n строк, i-я строка отдаётся row(i).
type tableLoad struct {
	spec tableSpec
	n    int
	row  func(i int) []any
}

// replaceTable собирает новую версию таблицы рядом со старой и подменяет её в одной транзакции.
func (db *DB) replaceTable(ctx context.Context, spec tableSpec, n int, row func(i int) []any) error {
	return db.replaceTables(ctx, tableLoad{spec: spec, n: n, row: row})
}

// replaceTables заполняет все __next-таблицы и только потом подменяет старые версии,
// фиксируя всё одной транзакцией. Пока она не зафиксирована, читатели видят прежние таблицы;
// ошибка или отмена контекста откатывает замену целиком.
func (db *DB) replaceTables(ctx context.Context, loads ...tableLoad) error {
	tx, err := db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, l := range loads {
		if err := fillNext(ctx, tx, l); err != nil {
			return err
		}
	}
	for _, l := range loads {
		if err := publishNext(ctx, tx, l.spec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	for _, l := range loads {
		db.logger().Info("[DB] таблица заменена",
			zap.String("table", l.spec.Schema+"."+l.spec.Name),
			zap.Int("rows", l.n))
	}
	return nil
}

// fillNext создаёт __next-таблицу и заливает в неё строки через COPY.
func fillNext(ctx context.Context, tx *sql.Tx, l tableLoad) error {
	spec := l.spec
	next := pq.QuoteIdentifier(spec.Schema) + "." + pq.QuoteIdentifier(spec.nextName())
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+next); err != nil {
		return fmt.Errorf("drop stale %s: %w", next, err)
	}
	if _, err := tx.ExecContext(ctx, spec.createNextDDL()); err != nil {
		return fmt.Errorf("create %s: %w", next, err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(spec.Schema, spec.nextName(), spec.columnNames()...))
	if err != nil {
		return fmt.Errorf("prepare copy %s: %w", next, err)
	}
	for i := 0; i < l.n; i++ {
		if _, err := stmt.ExecContext(ctx, l.row(i)...); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy row %d into %s: %w", i, next, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush copy %s: %w", next, err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy %s: %w", next, err)
	}
	return nil
}

// publishNext удаляет старую таблицу, переименовывает __next на её место и строит индексы.
func publishNext(ctx context.Context, tx *sql.Tx, spec tableSpec) error {
	next := pq.QuoteIdentifier(spec.Schema) + "." + pq.QuoteIdentifier(spec.nextName())
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+spec.qualified()); err != nil {
		return fmt.Errorf("drop %s: %w", spec.qualified(), err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", next, pq.QuoteIdentifier(spec.Name))); err != nil {
		return fmt.Errorf("rename %s: %w", next, err)
	}
	for _, col := range spec.Indexes {
		idx := pq.QuoteIdentifier(spec.Name + "_" + col + "_idx")
		ddl := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx, spec.qualified(), pq.QuoteIdentifier(col))
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("index %s: %w", idx, err)
		}
	}
	return nil
}
