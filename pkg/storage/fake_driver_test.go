package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeState хранит всё, что увидел фейковый драйвер: запросы, строки COPY и исход транзакций.
// Каждый тест открывает БД под своим DSN и получает собственное состояние.
type fakeState struct {
	mu         sync.Mutex
	queries    []string
	copied     [][]driver.Value
	committed  int
	rolledBack int

	failCopyAt    int    // номер строки COPY, на которой вернуть ошибку; -1 — не ошибаться
	failCopyTable string // COPY в таблицу с этим именем падает на первой строке
	affected   func(query string, args []driver.NamedValue) int64
	query      func(query string) (driver.Rows, error)
}

func (s *fakeState) record(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, strings.Join(strings.Fields(q), " "))
}

func (s *fakeState) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

var (
	fakeStatesMu sync.Mutex
	fakeStates   = map[string]*fakeState{}
)

type fakeDriver struct{}

type fakeConn struct{ state *fakeState }

type fakeTx struct{ state *fakeState }

type fakeStmt struct {
	state *fakeState
	query string
	rows  int
}

type fakeResult struct{ affected int64 }

type fakeRows struct {
	columns []string
	data    [][]driver.Value
	idx     int
}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	fakeStatesMu.Lock()
	defer fakeStatesMu.Unlock()
	st, ok := fakeStates[name]
	if !ok {
		return nil, errors.New("unknown fake dsn " + name)
	}
	return &fakeConn{state: st}, nil
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	c.state.record(query)
	return &fakeStmt{state: c.state, query: query}, nil
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return &fakeTx{state: c.state}, nil }

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.state.record(query)
	var n int64 = 1
	if c.state.affected != nil {
		n = c.state.affected(query, args)
	}
	return fakeResult{affected: n}, nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.state.record(query)
	if c.state.query == nil {
		return nil, errors.New("not implemented")
	}
	return c.state.query(query)
}

func (t *fakeTx) Commit() error {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	t.state.committed++
	return nil
}

func (t *fakeTx) Rollback() error {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	t.state.rolledBack++
	return nil
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	if strings.HasPrefix(s.query, "COPY") {
		if len(args) == 0 {
			return fakeResult{}, nil
		}
		if s.state.failCopyAt == s.rows || (s.state.failCopyTable != "" && strings.Contains(s.query, s.state.failCopyTable)) {
			return nil, errors.New("copy failed")
		}
		s.rows++
		s.state.mu.Lock()
		s.state.copied = append(s.state.copied, args)
		s.state.mu.Unlock()
		return fakeResult{affected: 1}, nil
	}
	var n int64 = 1
	if s.state.affected != nil {
		named := make([]driver.NamedValue, len(args))
		for i, a := range args {
			named[i] = driver.NamedValue{Ordinal: i + 1, Value: a}
		}
		n = s.state.affected(s.query, named)
	}
	return fakeResult{affected: n}, nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, errors.New("not implemented")
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.idx])
	r.idx++
	return nil
}

func init() {
	sql.Register("storagefake", fakeDriver{})
}

// openFake открывает фейковую БД с отдельным состоянием для теста.
func openFake(t *testing.T) (*DB, *fakeState) {
	t.Helper()
	st := &fakeState{failCopyAt: -1}
	fakeStatesMu.Lock()
	fakeStates[t.Name()] = st
	fakeStatesMu.Unlock()

	conn, err := sql.Open("storagefake", t.Name())
	require.NoError(t, err, "не удалось открыть фейковую БД")
	t.Cleanup(func() {
		_ = conn.Close()
		fakeStatesMu.Lock()
		delete(fakeStates, t.Name())
		fakeStatesMu.Unlock()
	})
	return &DB{Conn: conn}, st
}
